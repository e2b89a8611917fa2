package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/types"
)

// 未指定落差值时的初始值
const defaultFallValue = 0.5

// AdaptiveParams 定义自适应学习的收敛参数
type AdaptiveParams struct {
	MaxRounds         int           // 最大学习轮数
	AttemptsPerRound  int           // 每轮最大尝试次数
	RequiredSuccesses int           // 需要的连续合规次数
	WriteGap          time.Duration // 参数写回后的等待
	RetryGap          time.Duration // 两次尝试之间的间隔
}

func DefaultAdaptiveParams() AdaptiveParams {
	return AdaptiveParams{
		MaxRounds:         3,
		AttemptsPerRound:  15,
		RequiredSuccesses: 3,
		WriteGap:          100 * time.Millisecond,
		RetryGap:          time.Second,
	}
}

// AdaptiveStage 自适应学习阶段
// 反复执行生产周期并分析实测数据，连续多次合规即收敛成功；
// 不合规时把分析给出的调整写回 PLC 再试。连续合规计数跨轮保留，
// 任何一次不合规都清零
type AdaptiveStage struct {
	deps   *Deps
	runner CycleRunner
	params AdaptiveParams
}

func NewAdaptiveStage(deps *Deps, runner CycleRunner, params AdaptiveParams) *AdaptiveStage {
	if params.MaxRounds <= 0 {
		params = DefaultAdaptiveParams()
	}
	return &AdaptiveStage{deps: deps, runner: runner, params: params}
}

func (s *AdaptiveStage) Name() types.LearningStage {
	return types.StageAdaptiveLearning
}

func (s *AdaptiveStage) Execute(ctx context.Context, run *types.LearningRun) types.Result {
	d := s.deps
	logger := d.Logger.With("stage", "adaptive_learning", "bucket", run.Bucket, "run_id", run.ID)
	fail := func(err error) types.Result {
		return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: false, Error: err}
	}

	// 首次进入阶段时写入目标重量和初始落差值
	if run.FallValue <= 0 {
		run.FallValue = defaultFallValue
	}
	if err := d.Ops.WriteTargetWeight(run.Bucket, run.TargetWeight); err != nil {
		return fail(err)
	}
	if err := d.Ops.WriteFallValue(run.Bucket, run.FallValue); err != nil {
		return fail(err)
	}

	streak := 0
	totalAttempts := 0
	for round := 1; round <= s.params.MaxRounds; round++ {
		logger.Info("开始自适应学习轮次", "round", round, "max_rounds", s.params.MaxRounds)

		for attempt := 1; attempt <= s.params.AttemptsPerRound; attempt++ {
			totalAttempts++

			m, err := s.runner.RunCycle(ctx, run)
			if err != nil {
				return fail(err)
			}

			res, err := d.Analyzer.Adaptive(ctx, analysis.AdaptiveInput{
				TargetWeight:         run.TargetWeight,
				ActualTotalCycleMs:   m.TotalCycleMs,
				ActualCoarseTimeMs:   m.CoarseTimeMs,
				ErrorValue:           m.ErrorValue,
				CurrentCoarseAdvance: m.CoarseAdvance,
				CurrentFallValue:     m.FallValue,
				FineFlowRate:         run.FineFlowRate,
			})
			if err != nil {
				return fail(err)
			}
			d.recordAttempt(ctx, run, s.Name(), totalAttempts, res.Compliant, res.Message)

			if res.Compliant {
				streak++
				logger.Info("周期合规", "round", round, "attempt", attempt, "streak", streak)
				if streak >= s.params.RequiredSuccesses {
					return s.finalize(ctx, run, m, logger)
				}
				if err := d.sleep(ctx, s.params.RetryGap); err != nil {
					return fail(err)
				}
				continue
			}

			// 任何一次不合规都打断连续合规计数
			streak = 0
			if res.Adjustment.Empty() {
				// 无法给出调整，终止性故障
				return fail(fmt.Errorf("%s", res.Message))
			}

			logger.Info("周期不合规，写回调整参数",
				"round", round, "attempt", attempt, "message", res.Message)
			if res.Adjustment.CoarseAdvance != nil {
				run.CoarseAdvance = *res.Adjustment.CoarseAdvance
				if err := d.Ops.WriteCoarseAdvance(run.Bucket, run.CoarseAdvance); err != nil {
					return fail(err)
				}
			}
			if res.Adjustment.FallValue != nil {
				run.FallValue = *res.Adjustment.FallValue
				if err := d.Ops.WriteFallValue(run.Bucket, run.FallValue); err != nil {
					return fail(err)
				}
			}
			if err := d.sleep(ctx, s.params.WriteGap); err != nil {
				return fail(err)
			}
			if err := d.sleep(ctx, s.params.RetryGap); err != nil {
				return fail(err)
			}
		}
	}

	return fail(fmt.Errorf("自适应学习在 %d 轮 (共 %d 次尝试) 内未收敛",
		s.params.MaxRounds, totalAttempts))
}

// finalize 收敛成功后从 PLC 读回最终参数
func (s *AdaptiveStage) finalize(ctx context.Context, run *types.LearningRun, m types.CycleMeasurement, logger *slog.Logger) types.Result {
	d := s.deps

	coarseSpeed, err := d.Ops.ReadCoarseSpeed(run.Bucket)
	if err != nil {
		return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: false, Error: err}
	}
	fineSpeed, err := d.Ops.ReadFineSpeed(run.Bucket)
	if err != nil {
		return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: false, Error: err}
	}

	run.CoarseSpeed = coarseSpeed
	run.FineSpeed = fineSpeed
	run.CoarseAdvance = m.CoarseAdvance
	run.FallValue = m.FallValue

	logger.Info("自适应学习收敛",
		"coarse_speed", coarseSpeed, "fine_speed", fineSpeed,
		"coarse_advance", run.CoarseAdvance, "fall_value", run.FallValue)
	return types.Result{RunID: run.ID, Bucket: run.Bucket, Stage: s.Name(), Success: true}
}

func (s *AdaptiveStage) Abort(ctx context.Context, run *types.LearningRun) {
	s.deps.abortBucket(ctx, run.Bucket)
}
