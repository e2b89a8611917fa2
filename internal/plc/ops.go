package plc

import (
	"context"
	"log/slog"
	"math"
	"time"

	"smart-weigher/internal/types"
)

// Timings 集中定义执行器时序常量，避免魔法数散落在各调用点
// 默认值是与现场设备约定的硬时序，测试可缩短
type Timings struct {
	MutexSettle      time.Duration // 互斥保护：先断开对侧线圈后的等待
	DischargePulse   time.Duration // 放料脉冲宽度
	StopDischargeGap time.Duration // 停止到放料之间的间隔
	GlobalStepGap    time.Duration // 整机放料清零序列中各步间隔
}

// DefaultTimings 返回现场设备的标准时序
func DefaultTimings() Timings {
	return Timings{
		MutexSettle:      50 * time.Millisecond,
		DischargePulse:   1500 * time.Millisecond,
		StopDischargeGap: 500 * time.Millisecond,
		GlobalStepGap:    time.Second,
	}
}

// ScaleWeight 将克值转换为 ×10 定点寄存器值
// ×10 定点是与现场设备的硬约定，读除 10、写乘 10
func ScaleWeight(grams float64) uint16 {
	if grams < 0 {
		return 0
	}
	return uint16(math.Round(grams * 10))
}

// UnscaleWeight 将 ×10 定点寄存器值还原为克值
func UnscaleWeight(raw uint16) float64 {
	return float64(raw) / 10.0
}

// UnscaleSignedWeight 按带符号 ×10 定点还原重量
// 空斗去皮后秤台读数可能略低于零，清料判空依赖负值
func UnscaleSignedWeight(raw uint16) float64 {
	return float64(int16(raw)) / 10.0
}

// Ops 封装面向料斗的高层操作：互斥启停、放料序列、参数读写
// 所有定时等待均响应 ctx 取消，但已发出的单次总线事务不会被打断
type Ops struct {
	port   Port
	timing Timings
	logger *slog.Logger
}

// NewOps 创建料斗操作封装
func NewOps(port Port, timing Timings, logger *slog.Logger) *Ops {
	return &Ops{port: port, timing: timing, logger: logger.With("component", "plc_ops")}
}

// Port 返回底层 Port，监测服务需要直接做批量线圈读取
func (o *Ops) Port() Port { return o.port }

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StartBucket 启动料斗 (互斥保护)
// 先写停止=0，等待互斥间隔，再写启动=1。
// 同一料斗的启动/停止线圈绝不允许同时为真，顺序不可调换
func (o *Ops) StartBucket(ctx context.Context, b types.BucketID) error {
	if err := o.port.WriteCoil(StopCoil(b), false); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.MutexSettle); err != nil {
		return err
	}
	if err := o.port.WriteCoil(StartCoil(b), true); err != nil {
		return err
	}
	o.logger.Debug("料斗启动", "bucket", b)
	return nil
}

// StopBucket 停止料斗 (互斥保护)
// 先写启动=0，等待互斥间隔，再写停止=1
func (o *Ops) StopBucket(ctx context.Context, b types.BucketID) error {
	if err := o.port.WriteCoil(StartCoil(b), false); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.MutexSettle); err != nil {
		return err
	}
	if err := o.port.WriteCoil(StopCoil(b), true); err != nil {
		return err
	}
	o.logger.Debug("料斗停止", "bucket", b)
	return nil
}

// StartAllBuckets 批量启动全部 6 个料斗 (互斥保护)
func (o *Ops) StartAllBuckets(ctx context.Context) error {
	off := make([]bool, types.BucketCount)
	if err := o.port.WriteCoils(StopCoilBase, off); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.MutexSettle); err != nil {
		return err
	}
	on := []bool{true, true, true, true, true, true}
	if err := o.port.WriteCoils(StartCoilBase, on); err != nil {
		return err
	}
	o.logger.Info("全部料斗批量启动")
	return nil
}

// StopAllBuckets 批量停止全部 6 个料斗 (互斥保护)
func (o *Ops) StopAllBuckets(ctx context.Context) error {
	off := make([]bool, types.BucketCount)
	if err := o.port.WriteCoils(StartCoilBase, off); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.MutexSettle); err != nil {
		return err
	}
	on := []bool{true, true, true, true, true, true}
	if err := o.port.WriteCoils(StopCoilBase, on); err != nil {
		return err
	}
	o.logger.Info("全部料斗批量停止")
	return nil
}

// DischargeBucket 执行单斗放料：放料=1，保持脉冲宽度后放料=0
func (o *Ops) DischargeBucket(ctx context.Context, b types.BucketID) error {
	if err := o.port.WriteCoil(DischargeCoil(b), true); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.DischargePulse); err != nil {
		return err
	}
	if err := o.port.WriteCoil(DischargeCoil(b), false); err != nil {
		return err
	}
	o.logger.Debug("料斗放料完成", "bucket", b)
	return nil
}

// StopAndDischarge 停止料斗后延迟再放料，是测定循环收尾的标准序列
func (o *Ops) StopAndDischarge(ctx context.Context, b types.BucketID) error {
	if err := o.StopBucket(ctx, b); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.StopDischargeGap); err != nil {
		return err
	}
	return o.DischargeBucket(ctx, b)
}

// ReadWeight 读取料斗实时重量 (g)
func (o *Ops) ReadWeight(b types.BucketID) (float64, error) {
	regs, err := o.port.ReadRegisters(WeightReg(b), 1)
	if err != nil {
		return 0, err
	}
	return UnscaleWeight(regs[0]), nil
}

// WriteTargetWeight 写入目标重量 (g)
func (o *Ops) WriteTargetWeight(b types.BucketID, grams float64) error {
	return o.port.WriteRegister(TargetWeightReg(b), ScaleWeight(grams))
}

// WriteCoarseSpeed 写入快加速度 (原始档位值，不缩放)
func (o *Ops) WriteCoarseSpeed(b types.BucketID, speed int) error {
	return o.port.WriteRegister(CoarseSpeedReg(b), uint16(speed))
}

// ReadCoarseSpeed 读取快加速度
func (o *Ops) ReadCoarseSpeed(b types.BucketID) (int, error) {
	regs, err := o.port.ReadRegisters(CoarseSpeedReg(b), 1)
	if err != nil {
		return 0, err
	}
	return int(regs[0]), nil
}

// WriteFineSpeed 写入慢加速度
func (o *Ops) WriteFineSpeed(b types.BucketID, speed int) error {
	return o.port.WriteRegister(FineSpeedReg(b), uint16(speed))
}

// ReadFineSpeed 读取慢加速度
func (o *Ops) ReadFineSpeed(b types.BucketID) (int, error) {
	regs, err := o.port.ReadRegisters(FineSpeedReg(b), 1)
	if err != nil {
		return 0, err
	}
	return int(regs[0]), nil
}

// WriteCoarseAdvance 写入快加提前量 (g)
func (o *Ops) WriteCoarseAdvance(b types.BucketID, grams float64) error {
	return o.port.WriteRegister(CoarseAdvanceReg(b), ScaleWeight(grams))
}

// ReadCoarseAdvance 读取快加提前量 (g)
func (o *Ops) ReadCoarseAdvance(b types.BucketID) (float64, error) {
	regs, err := o.port.ReadRegisters(CoarseAdvanceReg(b), 1)
	if err != nil {
		return 0, err
	}
	return UnscaleWeight(regs[0]), nil
}

// WriteFallValue 写入落差值 (g)
func (o *Ops) WriteFallValue(b types.BucketID, grams float64) error {
	return o.port.WriteRegister(FallValueReg(b), ScaleWeight(grams))
}

// ReadFallValue 读取落差值 (g)
func (o *Ops) ReadFallValue(b types.BucketID) (float64, error) {
	regs, err := o.port.ReadRegisters(FallValueReg(b), 1)
	if err != nil {
		return 0, err
	}
	return UnscaleWeight(regs[0]), nil
}

// GlobalDischargeAndClear 执行整机放料清零序列：
// 总停止=1 -> 总放料脉冲 -> 总清零脉冲 -> 总停止=0
func (o *Ops) GlobalDischargeAndClear(ctx context.Context) error {
	if err := o.port.WriteCoil(GlobalStopCoil, true); err != nil {
		return err
	}
	if err := o.port.WriteCoil(GlobalDischargeCoil, true); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.DischargePulse); err != nil {
		return err
	}
	if err := o.port.WriteCoil(GlobalDischargeCoil, false); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.GlobalStepGap); err != nil {
		return err
	}
	if err := o.port.WriteCoil(GlobalClearCoil, true); err != nil {
		return err
	}
	if err := sleep(ctx, o.timing.GlobalStepGap); err != nil {
		return err
	}
	if err := o.port.WriteCoil(GlobalClearCoil, false); err != nil {
		return err
	}
	if err := o.port.WriteCoil(GlobalStopCoil, false); err != nil {
		return err
	}
	o.logger.Info("整机放料清零序列完成")
	return nil
}
