package analysis

import "fmt"

// StandardTotalCycleMs 按目标重量计算标准总周期时间 (ms)
// 阶梯函数，随重量单调不减
func StandardTotalCycleMs(targetWeight float64) int {
	switch {
	case targetWeight <= 225:
		return 9000
	case targetWeight <= 325:
		return 11000
	case targetWeight <= 425:
		return 12500
	case targetWeight <= 800:
		return 16500
	case targetWeight <= 1000:
		return 21000
	default:
		return 24000
	}
}

// CoarseTimeRatio 按目标重量计算快加时间占比
// [100,300] 为 0.4，(300,400] 为 0.5；表外重量按就近档兜底
func CoarseTimeRatio(targetWeight float64) float64 {
	switch {
	case targetWeight >= 100 && targetWeight <= 300:
		return 0.4
	case targetWeight > 300 && targetWeight <= 400:
		return 0.5
	case targetWeight < 100:
		return 0.4
	default:
		return 0.5
	}
}

// CoarseTimeResult 是快加时间边界分析的结果
// 不合规且 HasNewSpeed=false 表示终止性故障，需人工检修
type CoarseTimeResult struct {
	Compliant       bool
	NewSpeed        int  // 建议的新快加速度
	HasNewSpeed     bool // 是否给出调整建议
	Message         string
	StandardCycleMs int
	Ratio           float64
	MinTimeMs       float64
	MaxTimeMs       float64
	OffsetRatio     float64 // 超出边界的偏移比例 (%)
}

// AnalyzeCoarseTime 分析快加时间是否在合格区间内
// 合格区间为 [0.7*max, max]，max = 标准总周期 * 快加占比；
// 超出区间时按偏移比例分档给出速度调整，调整后速度超出 [1,100]
// 视为执行机构异常，终止学习
func AnalyzeCoarseTime(targetWeight float64, coarseTimeMs int, currentSpeed int) CoarseTimeResult {
	standardCycle := StandardTotalCycleMs(targetWeight)
	ratio := CoarseTimeRatio(targetWeight)
	maxTime := float64(standardCycle) * ratio
	minTime := maxTime * 0.7

	res := CoarseTimeResult{
		StandardCycleMs: standardCycle,
		Ratio:           ratio,
		MinTimeMs:       minTime,
		MaxTimeMs:       maxTime,
	}

	t := float64(coarseTimeMs)
	if minTime <= t && t <= maxTime {
		res.Compliant = true
		res.Message = fmt.Sprintf("快加时间 %dms 在合格范围 %.0f-%.0fms 内，当前快加速度 %d 档符合条件",
			coarseTimeMs, minTime, maxTime, currentSpeed)
		return res
	}

	var delta int
	if t < minTime {
		// 快加时间过短，降低速度
		offset := (minTime - t) / minTime * 100
		res.OffsetRatio = offset
		switch {
		case offset <= 20:
			delta = -1
		case offset <= 50:
			delta = -2
		case offset <= 70:
			delta = -3
		default:
			delta = -4
		}
		res.Message = fmt.Sprintf("快加时间过短，时间偏移比例 %.1f%%，速度调整 %d", offset, delta)
	} else {
		// 快加时间过长，提高速度
		offset := (t - maxTime) / maxTime * 100
		res.OffsetRatio = offset
		switch {
		case offset <= 40:
			delta = 1
		case offset <= 60:
			delta = 2
		case offset <= 90:
			delta = 3
		default:
			delta = 4
		}
		res.Message = fmt.Sprintf("快加时间过长，时间偏移比例 %.1f%%，速度调整 +%d", offset, delta)
	}

	newSpeed := currentSpeed + delta
	if newSpeed < 1 || newSpeed > 100 {
		res.Message = fmt.Sprintf("料斗快加速度异常（计算得到 %d），请人工检修", newSpeed)
		return res
	}

	res.NewSpeed = newSpeed
	res.HasNewSpeed = true
	return res
}
