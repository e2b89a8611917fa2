package learning

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"smart-weigher/internal/event"
	"smart-weigher/internal/metrics"
	"smart-weigher/internal/persistence"
	"smart-weigher/internal/types"
	"smart-weigher/internal/util"
)

// Scheduler 负责学习任务的调度和分发
// 它维护一个优先级队列，并控制并发执行的 worker 数量
type Scheduler struct {
	pq         PriorityQueue    // 优先级队列，存储待处理的任务
	engine     *Engine          // 学习引擎，用于执行任务
	mu         sync.Mutex       // 互斥锁，保护队列并发访问
	cond       *sync.Cond       // 条件变量，用于通知 worker 有新任务
	maxWorkers int              // 最大并发 worker 数
	wg         sync.WaitGroup   // 等待组，用于优雅停机
	wal        *persistence.WAL // 预写日志，用于持久化任务
	eventBus   *event.Bus
	logger     *slog.Logger

	busy map[types.BucketID]bool // 正在执行任务的料斗，同一料斗不允许并发学习
}

// NewScheduler 创建一个新的 Scheduler 实例
func NewScheduler(engine *Engine, maxWorkers int, wal *persistence.WAL, bus *event.Bus, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		pq:         make(PriorityQueue, 0),
		engine:     engine,
		maxWorkers: maxWorkers,
		wal:        wal,
		eventBus:   bus,
		busy:       make(map[types.BucketID]bool),
		logger:     logger.With("component", "scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// RecoverRuns 从 WAL 日志中恢复未完成的学习任务
// 在系统启动时调用，确保任务不丢失
func (s *Scheduler) RecoverRuns() error {
	if s.wal == nil {
		return nil
	}
	runs, err := s.wal.Recover()
	if err != nil {
		return err
	}
	for _, run := range runs {
		s.logger.Info("重新加载未完成的学习任务", "run_id", run.ID, "bucket", run.Bucket)
		s.submit(run) // 内部提交，不重复写 WAL
	}
	return nil
}

// SubmitRun 提交一个新的学习任务到调度器
// 同一料斗已有排队或进行中的任务时忽略重复提交并返回 false；
// 接受的任务先写入 WAL 持久化，再放入内存队列
func (s *Scheduler) SubmitRun(run *types.LearningRun) bool {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[run.Bucket] || s.queuedLocked(run.Bucket) {
		s.logger.Info("料斗已有排队或进行中的学习任务，忽略重复提交",
			"run_id", run.ID, "bucket", run.Bucket)
		return false
	}
	if s.wal != nil {
		if err := s.wal.Append(run); err != nil {
			s.logger.Error("写入 WAL 失败", "error", err, "run_id", run.ID)
			// 注意：生产环境中这里可能需要返回错误或重试
		}
	}
	s.enqueueLocked(run)
	return true
}

// submit 是 WAL 恢复用的内部提交，不去重也不重复写 WAL
func (s *Scheduler) submit(run *types.LearningRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(run)
}

// enqueueLocked 将任务放入优先级队列并唤醒 worker，调用方必须持有 s.mu
func (s *Scheduler) enqueueLocked(run *types.LearningRun) {
	s.logger.Info("接收到学习任务",
		"run_id", run.ID, "bucket", run.Bucket, "program", run.Program, "priority", run.Priority)
	heap.Push(&s.pq, &Item{Run: run})
	metrics.RunsInQueue.Inc()
	s.eventBus.Publish(event.Event{Type: event.RunScheduled, RunID: run.ID, Bucket: run.Bucket})
	s.cond.Signal() // 唤醒一个等待的 worker
}

// queuedLocked 判断某料斗是否已有排队中的任务，调用方必须持有 s.mu
func (s *Scheduler) queuedLocked(b types.BucketID) bool {
	for _, item := range s.pq {
		if item.Run.Bucket == b {
			return true
		}
	}
	return false
}

// Start 启动调度循环
// 启动 worker 池来并发处理任务
func (s *Scheduler) Start(ctx context.Context) {
	workerPool := make(chan struct{}, s.maxWorkers)

	// 监听上下文取消信号，用于优雅停机
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.cond.Broadcast() // 唤醒所有 worker 以便它们退出
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		// 队列为空或队首料斗正忙时等待
		for s.nextReadyLocked() < 0 {
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
		}

		// 再次检查是否需要退出
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}

		// 取出优先级最高且料斗空闲的任务
		idx := s.nextReadyLocked()
		item := heap.Remove(&s.pq, idx).(*Item)
		metrics.RunsInQueue.Dec()
		s.busy[item.Run.Bucket] = true
		s.mu.Unlock()

		// 获取 worker 凭证（控制并发数）
		workerPool <- struct{}{}
		s.wg.Add(1)

		// 启动 goroutine 执行任务
		go func(run *types.LearningRun) {
			defer s.wg.Done()

			// 生成 Trace ID 并注入 Context，用于全链路追踪
			traceID := util.NewTraceID()
			runCtx := util.ContextWithTraceID(ctx, traceID)

			s.engine.Process(runCtx, run)

			// 任务结束后标记 WAL 并释放料斗
			if s.wal != nil {
				_ = s.wal.Complete(run.ID)
			}
			s.mu.Lock()
			delete(s.busy, run.Bucket)
			s.cond.Broadcast()
			s.mu.Unlock()
			<-workerPool // 释放 worker 凭证
		}(item.Run)
	}
}

// nextReadyLocked 返回队列中优先级最高且料斗空闲的任务下标，没有则返回 -1
// 调用方必须持有 s.mu
func (s *Scheduler) nextReadyLocked() int {
	best := -1
	for i, item := range s.pq {
		if s.busy[item.Run.Bucket] {
			continue
		}
		if best < 0 || item.Run.Priority > s.pq[best].Run.Priority {
			best = i
		}
	}
	return best
}

// WaitForCompletion 等待所有正在执行的任务完成
// 用于优雅停机
func (s *Scheduler) WaitForCompletion() {
	s.wg.Wait()
}
