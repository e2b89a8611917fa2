package plc

import (
	"context"
	"math"
	"time"

	"smart-weigher/internal/types"
)

// 清料完成需要连续 3 次重量读数满足判定条件
const cleanRequiredReadings = 3

// CleanParams 定义整机清料的判定参数
type CleanParams struct {
	ReadInterval    time.Duration // 两次重量读取之间的间隔
	StableThreshold float64       // 相邻读数允许的最大波动 (g)
	EmptyThreshold  float64       // 末次读数低于该值才算清空 (g)
}

// DefaultCleanParams 返回现场设备的标准清料参数
func DefaultCleanParams() CleanParams {
	return CleanParams{
		ReadInterval:    3 * time.Second,
		StableThreshold: 2.0,
		EmptyThreshold:  0.0,
	}
}

// SetBucketClean 设置单斗清料电平 (状态保持，手动模式用)
func (o *Ops) SetBucketClean(b types.BucketID, on bool) error {
	if err := o.port.WriteCoil(CleanCoil(b), on); err != nil {
		return err
	}
	o.logger.Debug("料斗清料电平", "bucket", b, "on", on)
	return nil
}

// RunGlobalClean 执行整机清料：总清料=1，按固定间隔读取六个料斗重量，
// 连续 3 次读数两两波动不超过阈值且末次读数全部低于清空阈值时总清料=0。
// 清料判空时秤台读数可能为负，重量按带符号定点解析
func (o *Ops) RunGlobalClean(ctx context.Context, p CleanParams) error {
	if err := o.port.WriteCoil(GlobalCleanCoil, true); err != nil {
		return err
	}
	o.logger.Info("总清料开始")

	var readings [][]float64
	for {
		weights, err := o.readAllSignedWeights()
		if err != nil {
			o.port.WriteCoil(GlobalCleanCoil, false)
			return err
		}
		readings = append(readings, weights)
		if len(readings) > cleanRequiredReadings {
			readings = readings[1:]
		}
		if len(readings) == cleanRequiredReadings && cleaningDone(readings, p) {
			break
		}
		if err := sleep(ctx, p.ReadInterval); err != nil {
			o.port.WriteCoil(GlobalCleanCoil, false)
			return err
		}
	}

	if err := o.port.WriteCoil(GlobalCleanCoil, false); err != nil {
		return err
	}
	o.logger.Info("清料完成，六个料斗已清空")
	return nil
}

func (o *Ops) readAllSignedWeights() ([]float64, error) {
	out := make([]float64, 0, types.BucketCount)
	for _, b := range types.AllBuckets() {
		regs, err := o.port.ReadRegisters(WeightReg(b), 1)
		if err != nil {
			return nil, err
		}
		out = append(out, UnscaleSignedWeight(regs[0]))
	}
	return out, nil
}

// cleaningDone 检查三次读数是否满足清料完成条件
func cleaningDone(readings [][]float64, p CleanParams) bool {
	w1, w2, w3 := readings[0], readings[1], readings[2]
	for i := range w3 {
		if math.Abs(w2[i]-w1[i]) > p.StableThreshold {
			return false
		}
		if math.Abs(w3[i]-w2[i]) > p.StableThreshold {
			return false
		}
		if w3[i] >= p.EmptyThreshold {
			return false
		}
	}
	return true
}
