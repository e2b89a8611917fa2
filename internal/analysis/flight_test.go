package analysis

import (
	"math"
	"testing"
)

func TestAnalyzeFlightMaterialClosedForm(t *testing.T) {
	target := 200.0
	readings := []float64{target + 1, target + 2, target + 3}

	res, err := AnalyzeFlightMaterial(target, readings)
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}

	if res.Average != 2.0 {
		t.Errorf("平均飞料值预期 2.0, 得到 %v", res.Average)
	}
	if res.Min != 1.0 || res.Max != 3.0 {
		t.Errorf("min/max 预期 1.0/3.0, 得到 %v/%v", res.Min, res.Max)
	}
	// 总体方差 = ((1-2)²+(2-2)²+(3-2)²)/3 = 2/3
	if math.Abs(res.Variance-0.67) > 1e-9 {
		t.Errorf("总体方差预期 0.67, 得到 %v", res.Variance)
	}
	if math.Abs(res.StdDev-0.82) > 1e-9 {
		t.Errorf("总体标准差预期 0.82, 得到 %v", res.StdDev)
	}
}

func TestAnalyzeFlightMaterialValues(t *testing.T) {
	res, err := AnalyzeFlightMaterial(100, []float64{101.234, 102.5, 99.8})
	if err != nil {
		t.Fatalf("分析失败: %v", err)
	}
	want := []float64{1.23, 2.5, -0.2}
	for i, v := range res.Values {
		if v != want[i] {
			t.Errorf("第 %d 次飞料值预期 %v, 得到 %v", i+1, want[i], v)
		}
	}
}

// 采样次数由测定协议固定为 3，其他数量是输入错误
func TestAnalyzeFlightMaterialWrongArity(t *testing.T) {
	if _, err := AnalyzeFlightMaterial(200, []float64{201, 202}); err == nil {
		t.Error("2 次采样应当返回错误")
	}
	if _, err := AnalyzeFlightMaterial(200, nil); err == nil {
		t.Error("空采样应当返回错误")
	}
	if _, err := AnalyzeFlightMaterial(200, []float64{1, 2, 3, 4}); err == nil {
		t.Error("4 次采样应当返回错误")
	}
}
