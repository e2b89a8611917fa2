package learning

import (
	"context"
	"fmt"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/monitor"
	"smart-weigher/internal/types"
)

// CoarseTimeStage 测定快加时间并校准快加速度
// 每次尝试跑一个完整的加料周期，用到量信号的耗时作为快加时间，
// 不合规时按分析服务给出的速度调整重试
type CoarseTimeStage struct {
	deps *Deps
}

func NewCoarseTimeStage(deps *Deps) *CoarseTimeStage {
	return &CoarseTimeStage{deps: deps}
}

func (s *CoarseTimeStage) Name() types.LearningStage {
	return types.StageCoarseTime
}

func (s *CoarseTimeStage) Execute(ctx context.Context, run *types.LearningRun) types.Result {
	d := s.deps
	logger := d.Logger.With("stage", "coarse_time", "bucket", run.Bucket, "run_id", run.ID)
	fail := func(err error) types.Result {
		return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: false, Error: err}
	}

	// 按目标重量查表得到初始快加速度
	speed, note := analysis.RecommendCoarseSpeed(run.TargetWeight)
	logger.Info("初始快加速度", "speed", speed, "note", note)

	if err := d.Ops.WriteTargetWeight(run.Bucket, run.TargetWeight); err != nil {
		return fail(err)
	}
	if err := d.Ops.WriteCoarseSpeed(run.Bucket, speed); err != nil {
		return fail(err)
	}

	for attempt := 1; attempt <= d.maxAttempts(); attempt++ {
		edge, err := d.runCycleOnce(ctx, run.Bucket, monitor.ModeStandard)
		if err != nil {
			return fail(err)
		}
		coarseTimeMs := edge.ElapsedMs
		logger.Info("快加周期完成", "attempt", attempt, "coarse_time_ms", coarseTimeMs, "speed", speed)

		res, err := d.Analyzer.CoarseTime(ctx, run.TargetWeight, coarseTimeMs, speed)
		if err != nil {
			return fail(err)
		}
		d.recordAttempt(ctx, run, s.Name(), attempt, res.Compliant, res.Message)

		if res.Compliant {
			run.CoarseSpeed = speed
			run.CoarseTimeMs = coarseTimeMs
			logger.Info("快加时间合规", "coarse_time_ms", coarseTimeMs, "speed", speed)
			return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: true}
		}
		if !res.HasNewSpeed {
			// 速度超出物理范围，终止性故障
			return fail(fmt.Errorf("%s", res.Message))
		}

		speed = res.NewSpeed
		logger.Info("快加时间不合规，调整速度重试", "attempt", attempt, "new_speed", speed, "message", res.Message)
		if err := d.Ops.WriteCoarseSpeed(run.Bucket, speed); err != nil {
			return fail(err)
		}
		if err := d.sleep(ctx, d.SettleDelay); err != nil {
			return fail(err)
		}
	}

	return fail(fmt.Errorf("快加时间校准超过最大尝试次数 (%d)", d.maxAttempts()))
}

func (s *CoarseTimeStage) Abort(ctx context.Context, run *types.LearningRun) {
	s.deps.abortBucket(ctx, run.Bucket)
}
