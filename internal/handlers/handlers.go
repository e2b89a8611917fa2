package handlers

import (
	"log/slog"

	"smart-weigher/internal/event"
	"smart-weigher/internal/tracker"
	"smart-weigher/internal/web"
)

// RegisterEventHandlers 将所有事件处理器注册到事件总线和状态跟踪器
// 这是事件驱动架构的核心，将不同的业务关注点（UI、日志）解耦
func RegisterEventHandlers(bus *event.Bus, tr *tracker.Tracker, st *web.StateTracker, logger *slog.Logger) {
	// --- Web UI 处理器 (Web UI Handler) ---
	// 料斗学习状态变化时推送给所有 WebSocket 客户端
	tr.OnStateChanged(func(s tracker.BucketState) {
		st.UpdateBucketState(s)
	})
	tr.OnAllCompleted(func() {
		success, failed, total := tr.CompletedCount()
		if failed == 0 {
			logger.Info("整机学习完成，可以切入生产模式", "success", success, "total", total)
		} else {
			logger.Warn("整机学习结束，存在失败料斗", "success", success, "failed", failed, "total", total)
		}
	})

	// --- 日志处理器 (Logging Handler) ---
	// 订阅关键业务事件，记录审计日志
	bus.Subscribe(event.RunFailed, func(e event.Event) {
		logger.Error("学习任务失败", "run_id", e.RunID, "bucket", e.Bucket,
			"stage", e.Stage, "reason", e.Payload)
	})
	bus.Subscribe(event.RunCompleted, func(e event.Event) {
		logger.Info("学习任务成功", "run_id", e.RunID, "bucket", e.Bucket)
	})
	bus.Subscribe(event.TargetReached, func(e event.Event) {
		logger.Debug("到量信号", "bucket", e.Bucket)
	})
}
