package learning

import (
	"context"
	"time"

	"smart-weigher/internal/monitor"
	"smart-weigher/internal/types"
)

// CycleRunner 执行一个生产/测试周期并返回实测数据
// 自适应学习阶段只消费测量值，不关心周期由谁驱动：
// 默认实现驱动本机 PLC，测试中可以用桩实现替换
type CycleRunner interface {
	RunCycle(ctx context.Context, run *types.LearningRun) (types.CycleMeasurement, error)
}

// 周期结束后读取实际重量前的稳定时间
const cycleSettleDelay = 1000 * time.Millisecond

// PLCCycleRunner 在本机 PLC 上跑一个完整周期
// 用自适应监测模式同时捕获总周期时间和快加时间，
// 周期结束后从 PLC 读回当前的提前量和落差值
type PLCCycleRunner struct {
	deps *Deps
}

func NewPLCCycleRunner(deps *Deps) *PLCCycleRunner {
	return &PLCCycleRunner{deps: deps}
}

func (r *PLCCycleRunner) RunCycle(ctx context.Context, run *types.LearningRun) (types.CycleMeasurement, error) {
	d := r.deps

	edges, err := d.Monitor.Watch(run.Bucket, monitor.ModeAdaptive)
	if err != nil {
		return types.CycleMeasurement{}, err
	}
	if err := d.Ops.StartBucket(ctx, run.Bucket); err != nil {
		d.Monitor.StopBucket(run.Bucket)
		return types.CycleMeasurement{}, err
	}

	var edge monitor.Edge
	select {
	case <-ctx.Done():
		d.Monitor.StopBucket(run.Bucket)
		_ = d.Ops.StopBucket(context.Background(), run.Bucket)
		return types.CycleMeasurement{}, ctx.Err()
	case e, ok := <-edges:
		if !ok {
			_ = d.Ops.StopBucket(context.Background(), run.Bucket)
			return types.CycleMeasurement{}, ctx.Err()
		}
		if e.Err != nil {
			_ = d.Ops.StopBucket(context.Background(), run.Bucket)
			return types.CycleMeasurement{}, e.Err
		}
		edge = e
	}

	if err := d.Ops.StopBucket(ctx, run.Bucket); err != nil {
		return types.CycleMeasurement{}, err
	}
	if err := d.sleep(ctx, cycleSettleDelay); err != nil {
		return types.CycleMeasurement{}, err
	}

	weight, err := d.Ops.ReadWeight(run.Bucket)
	if err != nil {
		return types.CycleMeasurement{}, err
	}
	// 每个周期后参数可能已被上个调整写回，以 PLC 里的当前值为准
	coarseAdvance, err := d.Ops.ReadCoarseAdvance(run.Bucket)
	if err != nil {
		return types.CycleMeasurement{}, err
	}
	fallValue, err := d.Ops.ReadFallValue(run.Bucket)
	if err != nil {
		return types.CycleMeasurement{}, err
	}

	if err := d.Ops.DischargeBucket(ctx, run.Bucket); err != nil {
		return types.CycleMeasurement{}, err
	}

	return types.CycleMeasurement{
		TotalCycleMs:  edge.ElapsedMs,
		CoarseTimeMs:  edge.CoarseTimeMs,
		ErrorValue:    weight - run.TargetWeight,
		CoarseAdvance: coarseAdvance,
		FallValue:     fallValue,
	}, nil
}
