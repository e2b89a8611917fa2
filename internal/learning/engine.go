package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antonmedv/expr"

	"smart-weigher/internal/event"
	"smart-weigher/internal/fsm"
	"smart-weigher/internal/metrics"
	"smart-weigher/internal/tracker"
	"smart-weigher/internal/types"
	"smart-weigher/internal/util"
)

// ParameterStore 保存最终的学习结果
// 持久层实现该接口，测试中可以留空
type ParameterStore interface {
	SaveParameters(ctx context.Context, p types.LearnedParameters) error
}

// stageDoneEvents 把成功完成的阶段映射到状态机事件
var stageDoneEvents = map[types.LearningStage]fsm.Event{
	types.StageCoarseTime:       fsm.EventCoarseDone,
	types.StageFlightMaterial:   fsm.EventFlightDone,
	types.StageFineTime:         fsm.EventFineDone,
	types.StageAdaptiveLearning: fsm.EventAdaptiveDone,
}

// Engine 负责编排一个料斗的完整学习流程
// 按配置中的程序步骤依次执行各学习阶段，规则引擎决定某阶段是否跳过
type Engine struct {
	stages   map[types.LearningStage]Stage
	programs map[string][]types.ProgramStep
	tracker  *tracker.Tracker
	store    ParameterStore // 可以为 nil
	logger   *slog.Logger
	eventBus *event.Bus
}

// NewEngine 创建一个新的 Engine 实例
func NewEngine(
	programs map[string][]types.ProgramStep,
	tr *tracker.Tracker,
	store ParameterStore,
	logger *slog.Logger,
	bus *event.Bus,
) *Engine {
	return &Engine{
		stages:   make(map[types.LearningStage]Stage),
		programs: programs,
		tracker:  tr,
		store:    store,
		logger:   logger,
		eventBus: bus,
	}
}

// RegisterStage 注册一个学习阶段到引擎中
func (e *Engine) RegisterStage(s Stage) {
	e.stages[s.Name()] = s
}

// Process 执行一个学习任务
func (e *Engine) Process(ctx context.Context, run *types.LearningRun) {
	logger := e.logger.With("run_id", run.ID, "bucket", run.Bucket, "program", run.Program)
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		logger = logger.With("trace_id", traceID)
	}

	machine := fsm.NewMachine()
	if err := machine.Fire(fsm.EventStart); err != nil {
		logger.Error("启动学习状态机失败", "error", err)
		return
	}

	e.eventBus.Publish(event.Event{Type: event.RunStarted, RunID: run.ID, Bucket: run.Bucket})
	logger.Info("开始学习任务", "target_weight", run.TargetWeight)

	// *** BUG FIX: Viper 将 key 转换为小写，所以查找时需要转换为小写 ***
	sequence, ok := e.programs[strings.ToLower(run.Program)]
	if !ok {
		logger.Warn("未找到指定的学习程序，将使用默认程序", "requested_program", run.Program)
		sequence = e.programs["standard"] // 使用小写 key
	}
	if len(sequence) == 0 {
		e.failRun(ctx, machine, run, types.StageNone, fmt.Errorf("学习程序 %q 为空", run.Program), logger)
		return
	}

	for i, step := range sequence {
		run.Step = i

		if shouldSkip, err := e.evaluateRule(step.Rule, run); err != nil {
			logger.Error("规则引擎评估失败", "error", err, "rule", step.Rule)
			continue
		} else if shouldSkip {
			logger.Info("跳过学习阶段", "stage", step.Stage, "rule", step.Rule)
			continue
		}

		stage, exists := e.stages[step.Stage]
		if !exists {
			e.failRun(ctx, machine, run, step.Stage,
				fmt.Errorf("未注册的学习阶段: %s", step.Stage), logger)
			return
		}

		e.tracker.StartStage(run.Bucket, step.Stage)
		e.eventBus.Publish(event.Event{
			Type: event.StageStarted, RunID: run.ID, Bucket: run.Bucket, Stage: step.Stage,
		})

		start := time.Now()
		res := stage.Execute(ctx, run)
		duration := time.Since(start)
		metrics.StageDuration.WithLabelValues(string(step.Stage)).Observe(duration.Seconds())

		e.eventBus.Publish(event.Event{
			Type: event.StageFinished, RunID: run.ID, Bucket: run.Bucket, Stage: step.Stage,
			Payload: res,
		})

		if !res.Success {
			stage.Abort(ctx, run)
			e.failRun(ctx, machine, run, step.Stage, res.Error, logger)
			return
		}

		run.History = append(run.History, string(step.Stage))
		e.tracker.CompleteStage(run.Bucket, step.Stage)
		if ev, ok := stageDoneEvents[step.Stage]; ok {
			if err := machine.Fire(ev); err != nil {
				logger.Error("状态机推进失败", "error", err, "stage", step.Stage)
			}
		}
		logger.Info("学习阶段完成", "stage", step.Stage, "duration_ms", duration.Milliseconds())
	}

	e.saveParameters(ctx, run, logger)
	metrics.RunsProcessedTotal.WithLabelValues("success", strings.ToLower(run.Program)).Inc()
	e.eventBus.Publish(event.Event{Type: event.RunCompleted, RunID: run.ID, Bucket: run.Bucket, Payload: run})
	logger.Info("学习任务完成",
		"coarse_speed", run.CoarseSpeed, "fine_speed", run.FineSpeed,
		"coarse_advance", run.CoarseAdvance, "fall_value", run.FallValue)
}

func (e *Engine) failRun(ctx context.Context, machine *fsm.Machine, run *types.LearningRun, stage types.LearningStage, cause error, logger *slog.Logger) {
	reason := "未知原因"
	if cause != nil {
		reason = cause.Error()
	}
	if err := machine.Fire(fsm.EventFail); err != nil {
		logger.Error("状态机进入失败态失败", "error", err)
	}
	e.tracker.FailStage(run.Bucket, stage, reason)
	metrics.RunsProcessedTotal.WithLabelValues("failed", strings.ToLower(run.Program)).Inc()
	e.eventBus.Publish(event.Event{
		Type: event.RunFailed, RunID: run.ID, Bucket: run.Bucket, Stage: stage, Payload: reason,
	})
	logger.Error("学习任务失败", "stage", stage, "reason", reason)
}

func (e *Engine) saveParameters(ctx context.Context, run *types.LearningRun, logger *slog.Logger) {
	if e.store == nil {
		return
	}
	err := e.store.SaveParameters(ctx, types.LearnedParameters{
		RunID:         run.ID,
		Bucket:        run.Bucket,
		TargetWeight:  run.TargetWeight,
		CoarseSpeed:   run.CoarseSpeed,
		FineSpeed:     run.FineSpeed,
		CoarseAdvance: run.CoarseAdvance,
		FallValue:     run.FallValue,
	})
	if err != nil {
		logger.Error("保存学习结果失败", "error", err)
		return
	}
	e.eventBus.Publish(event.Event{Type: event.ParamAdjusted, RunID: run.ID, Bucket: run.Bucket})
}

func (e *Engine) evaluateRule(rule string, run *types.LearningRun) (bool, error) {
	if rule == "" {
		return false, nil
	}
	env := map[string]interface{}{"run": run}
	program, err := expr.Compile(rule, expr.Env(env))
	if err != nil {
		return true, fmt.Errorf("rule compilation failed: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return true, fmt.Errorf("rule execution failed: %w", err)
	}
	shouldExecute, ok := result.(bool)
	if !ok {
		return true, fmt.Errorf("rule result is not a boolean")
	}
	return !shouldExecute, nil
}
