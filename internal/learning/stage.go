package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/metrics"
	"smart-weigher/internal/monitor"
	"smart-weigher/internal/plc"
	"smart-weigher/internal/types"
)

// Stage 定义一个学习阶段的接口
// Execute 驱动设备完成该阶段的测定与调整，Abort 在失败后把设备收回安全状态
type Stage interface {
	Name() types.LearningStage
	Execute(ctx context.Context, run *types.LearningRun) types.Result
	Abort(ctx context.Context, run *types.LearningRun)
}

// AttemptRecorder 记录每次阶段分析尝试，供事后追溯
// 持久层实现该接口，测试中可以留空
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, runID string, bucket types.BucketID, stage types.LearningStage, attempt int, compliant bool, message string) error
}

// Deps 是各学习阶段共享的依赖集合
type Deps struct {
	Ops         *plc.Ops
	Monitor     *monitor.Monitor
	Analyzer    analysis.Analyzer
	Recorder    AttemptRecorder // 可以为 nil
	Logger      *slog.Logger
	MaxAttempts int           // 单阶段最大调整次数
	SettleDelay time.Duration // 放料后到下一周期的等待
}

func (d *Deps) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 15
}

func (d *Deps) recordAttempt(ctx context.Context, run *types.LearningRun, stage types.LearningStage, attempt int, compliant bool, message string) {
	metrics.StageAttemptsTotal.WithLabelValues(string(stage)).Inc()
	if d.Recorder == nil {
		return
	}
	if err := d.Recorder.RecordAttempt(ctx, run.ID, run.Bucket, stage, attempt, compliant, message); err != nil {
		d.Logger.Warn("记录阶段尝试失败", "error", err, "run_id", run.ID)
	}
}

// runCycleOnce 执行一个标准测定周期：开始监测 -> 启动料斗 -> 等到量 -> 停机放料
// 返回从启动到到量信号的毫秒数
func (d *Deps) runCycleOnce(ctx context.Context, bucket types.BucketID, mode monitor.Mode) (monitor.Edge, error) {
	edges, err := d.Monitor.Watch(bucket, mode)
	if err != nil {
		return monitor.Edge{}, err
	}

	if err := d.Ops.StartBucket(ctx, bucket); err != nil {
		d.Monitor.StopBucket(bucket)
		return monitor.Edge{}, err
	}

	var edge monitor.Edge
	select {
	case <-ctx.Done():
		d.Monitor.StopBucket(bucket)
		_ = d.Ops.StopBucket(context.Background(), bucket)
		return monitor.Edge{}, ctx.Err()
	case e, ok := <-edges:
		if !ok {
			_ = d.Ops.StopBucket(context.Background(), bucket)
			return monitor.Edge{}, fmt.Errorf("料斗 %d 的监测会话被取消", bucket)
		}
		edge = e
	}
	if edge.Err != nil {
		_ = d.Ops.StopBucket(context.Background(), bucket)
		return monitor.Edge{}, edge.Err
	}

	if err := d.Ops.StopAndDischarge(ctx, bucket); err != nil {
		return monitor.Edge{}, err
	}
	return edge, nil
}

// abortBucket 失败后的统一收尾：取消监测会话并停机放料
func (d *Deps) abortBucket(ctx context.Context, bucket types.BucketID) {
	d.Monitor.StopBucket(bucket)
	if err := d.Ops.StopAndDischarge(ctx, bucket); err != nil {
		d.Logger.Error("中止后停机放料失败", "error", err, "bucket", bucket)
	}
}

func (d *Deps) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(dur):
		return nil
	}
}
