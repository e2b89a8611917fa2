package analysis

import "fmt"

// 慢加流速合规区间 (g/s) 与慢加速度档位范围
const (
	minFlowRate = 0.35
	maxFlowRate = 0.55

	minFineSpeed = 1
	maxFineSpeed = 100
)

// FineTestWeight 慢加时间测定使用的固定测试重量 (g)
const FineTestWeight = 6.0

// FineTimeResult 是慢加时间边界分析的结果
type FineTimeResult struct {
	Compliant        bool
	FlowRate         float64 // 慢加流速 (g/s，保留3位小数)
	NewSpeed         int     // 建议的新慢加速度
	HasNewSpeed      bool
	CoarseAdvance    float64 // 合规时计算的快加提前量 (g)
	HasCoarseAdvance bool
	Message          string
}

// AnalyzeFineTime 分析慢加时间是否符合流速边界
// 流速 = 测试重量 / 慢加时间(s)，合规区间 [0.35, 0.55] g/s。
// 合规且原始目标重量有效时计算快加提前量：
// 飞料值 + 流速*标准慢加时间 + 8g + 原始目标重量*1%；
// 不合规时按偏移比例分档调整慢加速度，越界则终止
func AnalyzeFineTime(testWeight float64, fineTimeMs int, currentFineSpeed int,
	originalTargetWeight, flightMaterial float64) FineTimeResult {

	flowRate := testWeight / (float64(fineTimeMs) / 1000.0)
	res := FineTimeResult{FlowRate: round3(flowRate)}

	if minFlowRate <= flowRate && flowRate <= maxFlowRate {
		res.Compliant = true
		if originalTargetWeight > 0 {
			res.CoarseAdvance = calculateCoarseAdvance(flowRate, originalTargetWeight, flightMaterial)
			res.HasCoarseAdvance = true
			res.Message = fmt.Sprintf("慢加时间符合条件！流速: %.3f g/s，计算快加提前量: %.1fg",
				flowRate, res.CoarseAdvance)
		} else {
			res.Message = fmt.Sprintf("慢加时间符合条件！流速: %.3f g/s", flowRate)
		}
		return res
	}

	var delta int
	if flowRate < minFlowRate {
		// 流速过低，增加慢加速度
		offset := (minFlowRate - flowRate) / minFlowRate * 100
		switch {
		case offset <= 60:
			delta = 1
		case offset <= 90:
			delta = 2
		default:
			delta = 3
		}
	} else {
		// 流速过高，降低慢加速度
		offset := (flowRate - maxFlowRate) / maxFlowRate * 100
		if offset <= 60 {
			delta = -1
		} else {
			delta = -2
		}
	}

	newSpeed := currentFineSpeed + delta
	if newSpeed < minFineSpeed || newSpeed > maxFineSpeed {
		res.Message = fmt.Sprintf("慢加速度异常，请人工检修！计算得到速度: %d", newSpeed)
		return res
	}

	res.NewSpeed = newSpeed
	res.HasNewSpeed = true
	if flowRate < minFlowRate {
		res.Message = fmt.Sprintf("流速过低(%.3f g/s < %.2f g/s)，调整慢加速度: %d → %d",
			flowRate, minFlowRate, currentFineSpeed, newSpeed)
	} else {
		res.Message = fmt.Sprintf("流速过高(%.3f g/s > %.2f g/s)，调整慢加速度: %d → %d",
			flowRate, maxFlowRate, currentFineSpeed, newSpeed)
	}
	return res
}

// calculateCoarseAdvance 计算快加提前量
// 标准慢加时间(s) = 标准总周期 * (1 - 快加占比) / 1000，复用快加分析的阶梯表
func calculateCoarseAdvance(flowRate, originalTargetWeight, flightMaterial float64) float64 {
	standardCycle := StandardTotalCycleMs(originalTargetWeight)
	ratio := CoarseTimeRatio(originalTargetWeight)
	standardFineTimeS := float64(standardCycle) * (1 - ratio) / 1000.0

	advance := flightMaterial + flowRate*standardFineTimeS + 8.0 + originalTargetWeight*0.01
	return round1(advance)
}
