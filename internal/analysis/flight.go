package analysis

import (
	"fmt"
	"math"
)

// FlightReadingCount 飞料值测定固定的采样次数，由测定协议规定
const FlightReadingCount = 3

// FlightMaterialResult 是飞料值分析的结果
// 该阶段无合规边界，只做纯统计
type FlightMaterialResult struct {
	Values   []float64 // 每次的飞料值 = 实时重量 - 目标重量 (保留2位小数)
	Average  float64   // 平均飞料值 (保留2位小数)
	Min      float64
	Max      float64
	Variance float64 // 总体方差
	StdDev   float64 // 总体标准差
	Message  string
}

// AnalyzeFlightMaterial 计算三次采样的飞料值及其统计量
// 采样次数不为 3 视为输入错误
func AnalyzeFlightMaterial(targetWeight float64, recordedWeights []float64) (FlightMaterialResult, error) {
	if len(recordedWeights) != FlightReadingCount {
		return FlightMaterialResult{}, fmt.Errorf("需要%d次实时重量数据，实际提供了%d次",
			FlightReadingCount, len(recordedWeights))
	}

	values := make([]float64, FlightReadingCount)
	sum := 0.0
	for i, w := range recordedWeights {
		values[i] = round2(w - targetWeight)
		sum += values[i]
	}
	avg := round2(sum / FlightReadingCount)

	min, max := values[0], values[0]
	varSum := 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		d := v - avg
		varSum += d * d
	}
	variance := round2(varSum / FlightReadingCount)

	return FlightMaterialResult{
		Values:   values,
		Average:  avg,
		Min:      round2(min),
		Max:      round2(max),
		Variance: variance,
		StdDev:   round2(math.Sqrt(varSum / FlightReadingCount)),
		Message:  fmt.Sprintf("飞料值测定完成，平均飞料值 %.2fg", avg),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
