package learning

import (
	"context"
	"fmt"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/monitor"
	"smart-weigher/internal/types"
)

// 测定参数：目标重量和快加提前量都是 6g，两者相等时周期内只有慢加在加料
const (
	defaultFineSpeed = 44  // 默认慢加速度档位
	fineTestAdvance  = 6.0 // 测定用快加提前量 (g)
)

// FineTimeStage 测定慢加流速并校准慢加速度
// 用 6g 测试重量跑纯慢加周期，流速合规后根据飞料值和标准慢加时间
// 计算快加提前量并写入 PLC
type FineTimeStage struct {
	deps *Deps
}

func NewFineTimeStage(deps *Deps) *FineTimeStage {
	return &FineTimeStage{deps: deps}
}

func (s *FineTimeStage) Name() types.LearningStage {
	return types.StageFineTime
}

func (s *FineTimeStage) Execute(ctx context.Context, run *types.LearningRun) types.Result {
	d := s.deps
	logger := d.Logger.With("stage", "fine_time", "bucket", run.Bucket, "run_id", run.ID)
	fail := func(err error) types.Result {
		return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: false, Error: err}
	}

	prevAdvance, err := d.Ops.ReadCoarseAdvance(run.Bucket)
	if err != nil {
		return fail(err)
	}

	// 测定参数一次性写入，测定周期从默认慢加速度起步
	if err := d.Ops.WriteTargetWeight(run.Bucket, analysis.FineTestWeight); err != nil {
		return fail(err)
	}
	if err := d.Ops.WriteCoarseAdvance(run.Bucket, fineTestAdvance); err != nil {
		return fail(err)
	}
	speed := defaultFineSpeed
	if err := d.Ops.WriteFineSpeed(run.Bucket, speed); err != nil {
		return fail(err)
	}
	logger.Info("测定参数已写入",
		"target_weight", analysis.FineTestWeight, "coarse_advance", fineTestAdvance, "fine_speed", speed)

	for attempt := 1; attempt <= d.maxAttempts(); attempt++ {
		edge, err := d.runCycleOnce(ctx, run.Bucket, monitor.ModeStandard)
		if err != nil {
			return fail(err)
		}
		fineTimeMs := edge.ElapsedMs
		logger.Info("慢加周期完成", "attempt", attempt, "fine_time_ms", fineTimeMs, "speed", speed)

		res, err := d.Analyzer.FineTime(ctx, analysis.FineTestWeight, fineTimeMs, speed,
			run.TargetWeight, run.FlightMaterial)
		if err != nil {
			return fail(err)
		}
		d.recordAttempt(ctx, run, s.Name(), attempt, res.Compliant, res.Message)

		if res.Compliant {
			run.FineSpeed = speed
			run.FineFlowRate = res.FlowRate
			if res.HasCoarseAdvance {
				run.CoarseAdvance = res.CoarseAdvance
				if err := d.Ops.WriteCoarseAdvance(run.Bucket, res.CoarseAdvance); err != nil {
					return fail(err)
				}
			} else {
				// 未计算提前量时恢复测定前的值
				if err := d.Ops.WriteCoarseAdvance(run.Bucket, prevAdvance); err != nil {
					return fail(err)
				}
			}
			// 把目标重量恢复为生产目标
			if err := d.Ops.WriteTargetWeight(run.Bucket, run.TargetWeight); err != nil {
				return fail(err)
			}
			logger.Info("慢加流速合规",
				"flow_rate", res.FlowRate, "speed", speed, "coarse_advance", run.CoarseAdvance)
			return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: true}
		}
		if !res.HasNewSpeed {
			return fail(fmt.Errorf("%s", res.Message))
		}

		speed = res.NewSpeed
		logger.Info("慢加流速不合规，调整速度重试", "attempt", attempt, "new_speed", speed, "message", res.Message)
		if err := d.Ops.WriteFineSpeed(run.Bucket, speed); err != nil {
			return fail(err)
		}
		if err := d.sleep(ctx, d.SettleDelay); err != nil {
			return fail(err)
		}
	}

	return fail(fmt.Errorf("慢加流速校准超过最大尝试次数 (%d)", d.maxAttempts()))
}

func (s *FineTimeStage) Abort(ctx context.Context, run *types.LearningRun) {
	s.deps.abortBucket(ctx, run.Bucket)
}
