package plc

import "smart-weigher/internal/types"

// PLC 地址映射表
// 与现场设备的固定布局对应，线圈与寄存器地址均以 0 为基址

// 每个料斗的参数保持寄存器
// 重量类寄存器 (目标重量/快加提前量/落差值) 为 ×10 定点值
const (
	regTargetWeightBase  = 41229 // 目标重量：41229 + (bucket-1)
	regCoarseSpeedBase   = 41388 // 快加速度：41388 + (bucket-1)*20
	regFineSpeedBase     = 41390 // 慢加速度：41390 + (bucket-1)*20
	regCoarseAdvanceBase = 41588 // 快加提前量：41588 + (bucket-1)*4
	regFallValueBase     = 41590 // 落差值：41590 + (bucket-1)*4
)

// 监测地址
const (
	regWeightBase = 20 // 实时重量：20 + (bucket-1)*2，×10 定点值

	// TargetReachedStart 到量状态线圈起始地址，6 个料斗连续排布 (191..196)
	TargetReachedStart = 191
	// CoarseAddStart 快加状态线圈起始地址，6 个料斗连续排布 (171..176)
	CoarseAddStart = 171
)

// 每个料斗的控制线圈
const (
	// StartCoilBase / StopCoilBase 暴露给批量操作使用，6 个料斗连续排布
	StartCoilBase     = 110 // 启动：110 + (bucket-1)
	StopCoilBase      = 120 // 停止：120 + (bucket-1)
	dischargeCoilBase = 51  // 放料：51 + (bucket-1)
	clearCoilBase     = 181 // 清零：181 + (bucket-1)
	cleanCoilBase     = 61  // 清料：61 + (bucket-1)
)

// 整机全局控制
const (
	GlobalStartCoil     = 300 // 总启动
	GlobalStopCoil      = 301 // 总停止
	GlobalDischargeCoil = 5   // 总放料
	GlobalClearCoil     = 6   // 总清零
	GlobalCleanCoil     = 7   // 总清料
	AIModeCoil          = 40  // AI 模式切换
)

func idx(b types.BucketID) uint16 { return uint16(b - 1) }

// TargetWeightReg 返回料斗目标重量寄存器地址
func TargetWeightReg(b types.BucketID) uint16 { return regTargetWeightBase + idx(b) }

// CoarseSpeedReg 返回料斗快加速度寄存器地址
func CoarseSpeedReg(b types.BucketID) uint16 { return regCoarseSpeedBase + idx(b)*20 }

// FineSpeedReg 返回料斗慢加速度寄存器地址
func FineSpeedReg(b types.BucketID) uint16 { return regFineSpeedBase + idx(b)*20 }

// CoarseAdvanceReg 返回料斗快加提前量寄存器地址
func CoarseAdvanceReg(b types.BucketID) uint16 { return regCoarseAdvanceBase + idx(b)*4 }

// FallValueReg 返回料斗落差值寄存器地址
func FallValueReg(b types.BucketID) uint16 { return regFallValueBase + idx(b)*4 }

// WeightReg 返回料斗实时重量寄存器地址
func WeightReg(b types.BucketID) uint16 { return regWeightBase + idx(b)*2 }

// TargetReachedCoil 返回料斗到量状态线圈地址
func TargetReachedCoil(b types.BucketID) uint16 { return TargetReachedStart + idx(b) }

// CoarseAddCoil 返回料斗快加状态线圈地址
func CoarseAddCoil(b types.BucketID) uint16 { return CoarseAddStart + idx(b) }

// StartCoil 返回料斗启动线圈地址
func StartCoil(b types.BucketID) uint16 { return StartCoilBase + idx(b) }

// StopCoil 返回料斗停止线圈地址
func StopCoil(b types.BucketID) uint16 { return StopCoilBase + idx(b) }

// DischargeCoil 返回料斗放料线圈地址
func DischargeCoil(b types.BucketID) uint16 { return dischargeCoilBase + idx(b) }

// ClearCoil 返回料斗清零线圈地址
func ClearCoil(b types.BucketID) uint16 { return clearCoilBase + idx(b) }

// CleanCoil 返回料斗清料线圈地址
func CleanCoil(b types.BucketID) uint16 { return cleanCoilBase + idx(b) }
