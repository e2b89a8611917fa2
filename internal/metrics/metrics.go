package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// RunsInQueue 仪表盘：当前队列中等待的学习任务数量
	// 用于监控系统积压情况
	RunsInQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learning_runs_in_queue",
		Help: "The number of learning runs currently waiting in the priority queue",
	})

	// RunsProcessedTotal 计数器：处理完成的学习任务总数
	// 按状态 (success/failed) 和学习程序分类
	RunsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learning_runs_processed_total",
		Help: "The total number of processed learning runs",
	}, []string{"status", "program"})

	// StageAttemptsTotal 计数器：各学习阶段的尝试次数
	// 尝试次数偏高说明物料或参数表需要人工复核
	StageAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "learning_stage_attempts_total",
		Help: "The total number of analysis attempts per learning stage",
	}, []string{"stage"})

	// StageDuration 直方图：各学习阶段耗时分布
	// 用于分析学习流程的性能瓶颈
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "learning_stage_duration_seconds",
		Help:    "Time spent in each learning stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)
