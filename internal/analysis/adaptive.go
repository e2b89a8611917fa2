package analysis

import (
	"fmt"
	"strings"
)

// 自适应学习边界条件
const (
	maxErrorValue  = 0.4  // 误差值上界 (g)
	minFineTimeMs  = 2000 // 实际慢加时间下界 (ms)
	maxFallValue   = 1.0  // 落差值上界 (g)
	fallAdjustStep = 0.1  // 落差值单次调整步长 (g)
)

// AdaptiveInput 是自适应学习分析的输入
// FineFlowRate <= 0 表示慢加流速缺失，周期超标时跳过提前量缩减
type AdaptiveInput struct {
	TargetWeight         float64
	ActualTotalCycleMs   int
	ActualCoarseTimeMs   int
	ErrorValue           float64 // 实际重量 - 目标重量 (g)
	CurrentCoarseAdvance float64 // g
	CurrentFallValue     float64 // g
	FineFlowRate         float64 // g/s
}

// AdaptiveAdjustment 是调整参数集，只包含实际发生变化的参数
type AdaptiveAdjustment struct {
	CoarseAdvance *float64
	FallValue     *float64
}

// Empty 判断调整集是否为空
// 不合规且调整集为空意味着参数已超出物理包络，学习终止
func (a AdaptiveAdjustment) Empty() bool {
	return a.CoarseAdvance == nil && a.FallValue == nil
}

// AdaptiveResult 是自适应学习分析的结果
type AdaptiveResult struct {
	Compliant        bool
	Adjustment       AdaptiveAdjustment
	Message          string
	ActualFineTimeMs int
	StandardCycleMs  int
}

// AnalyzeAdaptive 检查四项边界条件并计算调整参数：
//  1. 0.0 <= 误差值 <= 0.4g
//  2. 0 < 实际总周期 <= 标准总周期
//  3. 实际慢加时间 >= 2000ms
//  4. 0.0 <= 落差值 <= 1.0g (越界为终止性，不产生任何调整)
//
// 全部通过为合规；否则按各违规项累加修正量，仅返回发生变化的参数
func AnalyzeAdaptive(in AdaptiveInput) AdaptiveResult {
	standardCycle := StandardTotalCycleMs(in.TargetWeight)
	actualFineTime := in.ActualTotalCycleMs - in.ActualCoarseTimeMs

	errorOK := 0.0 <= in.ErrorValue && in.ErrorValue <= maxErrorValue
	cycleOK := 0 < in.ActualTotalCycleMs && in.ActualTotalCycleMs <= standardCycle
	fineTimeOK := actualFineTime >= minFineTimeMs
	fallValueOK := 0.0 <= in.CurrentFallValue && in.CurrentFallValue <= maxFallValue

	res := AdaptiveResult{
		ActualFineTimeMs: actualFineTime,
		StandardCycleMs:  standardCycle,
	}

	if errorOK && cycleOK && fineTimeOK && fallValueOK {
		res.Compliant = true
		res.Message = "自适应学习参数符合所有边界条件"
		return res
	}

	var issues []string
	if !errorOK {
		issues = append(issues, fmt.Sprintf("误差值%.2fg超出范围[0.0g, 0.4g]", in.ErrorValue))
	}
	if !cycleOK {
		if in.ActualTotalCycleMs > standardCycle {
			issues = append(issues, fmt.Sprintf("总周期%dms超出标准%dms", in.ActualTotalCycleMs, standardCycle))
		} else {
			issues = append(issues, fmt.Sprintf("总周期%dms≤0", in.ActualTotalCycleMs))
		}
	}
	if !fineTimeOK {
		issues = append(issues, fmt.Sprintf("慢加时间%dms < 2000ms", actualFineTime))
	}
	if !fallValueOK {
		issues = append(issues, fmt.Sprintf("落差值%gg超出范围[0.0g, 1.0g]", in.CurrentFallValue))
	}
	res.Message = "不符合条件: " + strings.Join(issues, "; ")

	// 落差值超出物理包络，无法调整，直接失败
	if !fallValueOK {
		return res
	}

	newAdvance := in.CurrentCoarseAdvance
	newFall := in.CurrentFallValue

	// 慢加时间不足：按实际慢加时间分档增大快加提前量
	if !fineTimeOK {
		switch {
		case actualFineTime >= 0 && actualFineTime < 800:
			newAdvance += 5.0
		case actualFineTime >= 800 && actualFineTime < 1600:
			newAdvance += 2.4
		case actualFineTime >= 1600 && actualFineTime < 2000:
			newAdvance += 1.5
		case actualFineTime >= 2000 && actualFineTime < 2700:
			newAdvance += 1.0
		}
	}

	// 总周期超标：按超出秒数与慢加流速缩减快加提前量
	// 流速缺失时跳过该项修正 (已知缺口，见 DESIGN.md)
	if !cycleOK && in.ActualTotalCycleMs > standardCycle && in.FineFlowRate > 0 {
		cycleDiffS := float64(in.ActualTotalCycleMs-standardCycle) / 1000.0
		reduction := cycleDiffS*in.FineFlowRate + 1
		newAdvance = round1(maxf(0, newAdvance-reduction))
	}

	// 误差值越界：按方向步进落差值
	if !errorOK {
		if in.ErrorValue > maxErrorValue {
			newFall += fallAdjustStep
		} else if in.ErrorValue < 0.0 {
			newFall = maxf(0.0, newFall-fallAdjustStep)
		}
	}

	newAdvance = round1(maxf(0.0, newAdvance))
	if newFall > maxFallValue {
		newFall = maxFallValue
	}
	if newFall < 0.0 {
		newFall = 0.0
	}

	if newAdvance != in.CurrentCoarseAdvance {
		v := newAdvance
		res.Adjustment.CoarseAdvance = &v
	}
	if newFall != in.CurrentFallValue {
		v := newFall
		res.Adjustment.FallValue = &v
	}

	var adjustments []string
	if res.Adjustment.CoarseAdvance != nil {
		adjustments = append(adjustments, fmt.Sprintf("快加提前量→%.1fg", *res.Adjustment.CoarseAdvance))
	}
	if res.Adjustment.FallValue != nil {
		adjustments = append(adjustments, fmt.Sprintf("落差值→%gg", *res.Adjustment.FallValue))
	}
	if len(adjustments) > 0 {
		res.Message += "; 调整参数: " + strings.Join(adjustments, ", ")
	}
	return res
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
