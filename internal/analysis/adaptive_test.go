package analysis

import (
	"testing"
)

func TestAnalyzeAdaptiveCompliant(t *testing.T) {
	res := AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   8500,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.3,
		CurrentCoarseAdvance: 14.7,
		CurrentFallValue:     0.5,
		FineFlowRate:         0.5,
	})
	if !res.Compliant {
		t.Fatalf("应当合规: %s", res.Message)
	}
	if !res.Adjustment.Empty() {
		t.Error("合规时调整集必须为空")
	}
}

// 落差值超出物理包络是终止性的：不合规且不产生任何调整
func TestAnalyzeAdaptiveFallValueOutOfRange(t *testing.T) {
	res := AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   8500,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.3,
		CurrentCoarseAdvance: 14.7,
		CurrentFallValue:     1.5,
	})
	if res.Compliant {
		t.Fatal("落差值 1.5 不应合规")
	}
	if !res.Adjustment.Empty() {
		t.Errorf("落差值越界时不应计算部分调整: %+v", res.Adjustment)
	}
}

func TestAnalyzeAdaptiveFineTimeBrackets(t *testing.T) {
	cases := []struct {
		fineTimeMs int
		wantBump   float64
	}{
		{500, 5.0},
		{1000, 2.4},
		{1800, 1.5},
		{2500, 1.0},
	}
	for _, c := range cases {
		// 总周期 = 快加 3000 + 慢加 c.fineTimeMs，保持在标准周期内
		res := AnalyzeAdaptive(AdaptiveInput{
			TargetWeight:         200,
			ActualTotalCycleMs:   3000 + c.fineTimeMs,
			ActualCoarseTimeMs:   3000,
			ErrorValue:           0.2,
			CurrentCoarseAdvance: 10.0,
			CurrentFallValue:     0.5,
		})
		if c.fineTimeMs >= 2000 {
			if !res.Compliant {
				t.Errorf("慢加 %dms 应当合规: %s", c.fineTimeMs, res.Message)
			}
			continue
		}
		if res.Compliant {
			t.Errorf("慢加 %dms 不应合规", c.fineTimeMs)
			continue
		}
		if res.Adjustment.CoarseAdvance == nil {
			t.Errorf("慢加 %dms 应调整快加提前量", c.fineTimeMs)
			continue
		}
		if got := *res.Adjustment.CoarseAdvance; got != 10.0+c.wantBump {
			t.Errorf("慢加 %dms: 提前量预期 %v, 得到 %v", c.fineTimeMs, 10.0+c.wantBump, got)
		}
	}
}

// 总周期超标时按超出秒数与慢加流速缩减提前量：
// 超出 2000ms, 流速 0.5 => 缩减 = 2*0.5+1 = 2, 10.0 -> 8.0
func TestAnalyzeAdaptiveCycleOverStandard(t *testing.T) {
	res := AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200, // 标准周期 9000ms
		ActualTotalCycleMs:   11000,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.2,
		CurrentCoarseAdvance: 10.0,
		CurrentFallValue:     0.5,
		FineFlowRate:         0.5,
	})
	if res.Compliant {
		t.Fatal("11000ms 超过标准 9000ms，不应合规")
	}
	if res.Adjustment.CoarseAdvance == nil {
		t.Fatal("应缩减快加提前量")
	}
	if got := *res.Adjustment.CoarseAdvance; got != 8.0 {
		t.Errorf("提前量预期 8.0, 得到 %v", got)
	}
}

// 流速缺失时跳过周期超标修正；其余条件全合规则调整集为空 => 终止
func TestAnalyzeAdaptiveCycleOverWithoutFlowRate(t *testing.T) {
	res := AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   11000,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.2,
		CurrentCoarseAdvance: 10.0,
		CurrentFallValue:     0.5,
	})
	if res.Compliant {
		t.Fatal("不应合规")
	}
	if !res.Adjustment.Empty() {
		t.Errorf("流速缺失时不应产生调整: %+v", res.Adjustment)
	}
}

func TestAnalyzeAdaptiveErrorValueAdjustment(t *testing.T) {
	// 误差过大 => 落差值 +0.1
	res := AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   8500,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.8,
		CurrentCoarseAdvance: 10.0,
		CurrentFallValue:     0.5,
	})
	if res.Compliant {
		t.Fatal("误差 0.8g 不应合规")
	}
	if res.Adjustment.FallValue == nil || *res.Adjustment.FallValue != 0.6 {
		t.Errorf("落差值预期 0.6, 得到 %+v", res.Adjustment.FallValue)
	}
	if res.Adjustment.CoarseAdvance != nil {
		t.Error("提前量未变化，不应出现在调整集中")
	}

	// 误差为负 => 落差值 -0.1，下限 0
	res = AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   8500,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           -0.2,
		CurrentCoarseAdvance: 10.0,
		CurrentFallValue:     0.05,
	})
	if res.Adjustment.FallValue == nil || *res.Adjustment.FallValue != 0 {
		t.Errorf("落差值应被钳制到 0, 得到 %+v", res.Adjustment.FallValue)
	}
}

// 落差值已在上界 1.0，误差过大要求 +0.1 但钳制回 1.0 => 无变化 => 空调整集
func TestAnalyzeAdaptiveFallClampedNoChange(t *testing.T) {
	res := AnalyzeAdaptive(AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   8500,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.8,
		CurrentCoarseAdvance: 10.0,
		CurrentFallValue:     1.0,
	})
	if res.Compliant {
		t.Fatal("不应合规")
	}
	if !res.Adjustment.Empty() {
		t.Errorf("钳制后无变化，调整集应为空: %+v", res.Adjustment)
	}
}
