package learning

import (
	"context"
	"time"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/monitor"
	"smart-weigher/internal/types"
)

// 放料前等待秤体稳定的时间
const flightSettleDelay = 1000 * time.Millisecond

// FlightMaterialStage 测定飞料值
// 重复三个完整周期，每个周期在到量停机并稳定 1 秒后读取实际重量，
// 三次实际重量与目标重量的差值平均即为飞料值。该阶段没有合规边界，
// 只要 IO 正常就总是成功
type FlightMaterialStage struct {
	deps *Deps
}

func NewFlightMaterialStage(deps *Deps) *FlightMaterialStage {
	return &FlightMaterialStage{deps: deps}
}

func (s *FlightMaterialStage) Name() types.LearningStage {
	return types.StageFlightMaterial
}

func (s *FlightMaterialStage) Execute(ctx context.Context, run *types.LearningRun) types.Result {
	d := s.deps
	logger := d.Logger.With("stage", "flight_material", "bucket", run.Bucket, "run_id", run.ID)
	fail := func(err error) types.Result {
		return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: false, Error: err}
	}

	readings := make([]float64, 0, analysis.FlightReadingCount)
	for i := 1; i <= analysis.FlightReadingCount; i++ {
		edges, err := d.Monitor.Watch(run.Bucket, monitor.ModeStandard)
		if err != nil {
			return fail(err)
		}
		if err := d.Ops.StartBucket(ctx, run.Bucket); err != nil {
			d.Monitor.StopBucket(run.Bucket)
			return fail(err)
		}

		select {
		case <-ctx.Done():
			d.Monitor.StopBucket(run.Bucket)
			_ = d.Ops.StopBucket(context.Background(), run.Bucket)
			return fail(ctx.Err())
		case edge, ok := <-edges:
			if !ok {
				_ = d.Ops.StopBucket(context.Background(), run.Bucket)
				return fail(ctx.Err())
			}
			if edge.Err != nil {
				_ = d.Ops.StopBucket(context.Background(), run.Bucket)
				return fail(edge.Err)
			}
		}

		// 到量后先停机，稳定后读重量，再放料
		if err := d.Ops.StopBucket(ctx, run.Bucket); err != nil {
			return fail(err)
		}
		if err := d.sleep(ctx, flightSettleDelay); err != nil {
			return fail(err)
		}
		weight, err := d.Ops.ReadWeight(run.Bucket)
		if err != nil {
			return fail(err)
		}
		readings = append(readings, weight)
		logger.Info("记录飞料测定重量", "round", i, "weight", weight)

		if err := d.Ops.DischargeBucket(ctx, run.Bucket); err != nil {
			return fail(err)
		}
	}

	res, err := d.Analyzer.FlightMaterial(ctx, run.TargetWeight, readings)
	if err != nil {
		return fail(err)
	}
	d.recordAttempt(ctx, run, s.Name(), 1, true, res.Message)

	run.FlightMaterial = res.Average
	logger.Info("飞料值测定完成",
		"average", res.Average, "min", res.Min, "max", res.Max, "std_dev", res.StdDev)
	return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: true}
}

func (s *FlightMaterialStage) Abort(ctx context.Context, run *types.LearningRun) {
	s.deps.abortBucket(ctx, run.Bucket)
}
