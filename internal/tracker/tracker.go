package tracker

import (
	"log/slog"
	"sync"
	"time"

	"smart-weigher/internal/types"
)

// BucketState 是单个料斗学习进度的快照
type BucketState struct {
	Bucket         types.BucketID       `json:"bucket"`
	Status         types.LearningStatus `json:"status"`
	CurrentStage   types.LearningStage  `json:"current_stage"`
	CoarseTime     bool                 `json:"coarse_time_learned"`
	FlightMaterial bool                 `json:"flight_material_learned"`
	FineTime       bool                 `json:"fine_time_learned"`
	Adaptive       bool                 `json:"adaptive_learned"`
	Completed      bool                 `json:"completed"`
	FailReason     string               `json:"fail_reason,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// allStagesLearned 四个阶段全部完成才算整斗完成
func (s *BucketState) allStagesLearned() bool {
	return s.CoarseTime && s.FlightMaterial && s.FineTime && s.Adaptive
}

// StateChangedFunc 在任一料斗状态变化后被调用
type StateChangedFunc func(state BucketState)

// AllCompletedFunc 在六个料斗全部进入终态 (成功或失败) 时被调用一次
type AllCompletedFunc func()

// Tracker 集中维护六个料斗的学习进度
// 所有读写都在同一把锁下进行，回调在锁外触发
type Tracker struct {
	mu      sync.Mutex
	buckets map[types.BucketID]*BucketState
	logger  *slog.Logger

	onStateChanged StateChangedFunc
	onAllCompleted AllCompletedFunc
	allNotified    bool
}

func NewTracker(logger *slog.Logger) *Tracker {
	t := &Tracker{
		buckets: make(map[types.BucketID]*BucketState),
		logger:  logger.With("component", "tracker"),
	}
	for _, b := range types.AllBuckets() {
		t.buckets[b] = &BucketState{
			Bucket:       b,
			Status:       types.StatusNotStarted,
			CurrentStage: types.StageNone,
			UpdatedAt:    time.Now(),
		}
	}
	return t
}

// OnStateChanged 注册料斗状态变化回调
func (t *Tracker) OnStateChanged(fn StateChangedFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChanged = fn
}

// OnAllCompleted 注册全部完成回调
func (t *Tracker) OnAllCompleted(fn AllCompletedFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAllCompleted = fn
}

// StartStage 标记某料斗进入指定学习阶段
// 重复调用同一阶段是幂等的
func (t *Tracker) StartStage(bucket types.BucketID, stage types.LearningStage) {
	t.mu.Lock()
	s, ok := t.buckets[bucket]
	if !ok {
		t.mu.Unlock()
		return
	}
	if s.Status == types.StatusLearning && s.CurrentStage == stage {
		t.mu.Unlock()
		return
	}
	s.Status = types.StatusLearning
	s.CurrentStage = stage
	s.FailReason = ""
	s.UpdatedAt = time.Now()
	snapshot := *s
	t.mu.Unlock()

	t.notifyStateChanged(snapshot)
}

// CompleteStage 标记某料斗完成指定学习阶段
// 四个阶段全部完成后该料斗进入 COMPLETED
func (t *Tracker) CompleteStage(bucket types.BucketID, stage types.LearningStage) {
	t.mu.Lock()
	s, ok := t.buckets[bucket]
	if !ok {
		t.mu.Unlock()
		return
	}
	switch stage {
	case types.StageCoarseTime:
		s.CoarseTime = true
	case types.StageFlightMaterial:
		s.FlightMaterial = true
	case types.StageFineTime:
		s.FineTime = true
	case types.StageAdaptiveLearning:
		s.Adaptive = true
	}
	if s.allStagesLearned() {
		s.Status = types.StatusCompleted
		s.CurrentStage = types.StageNone
		s.Completed = true
	}
	s.UpdatedAt = time.Now()
	snapshot := *s
	allDone := t.allCompletedLocked() && !t.allNotified
	if allDone {
		t.allNotified = true
	}
	t.mu.Unlock()

	t.notifyStateChanged(snapshot)
	if allDone {
		t.notifyAllCompleted()
	}
}

// FailStage 标记某料斗学习失败并记录原因
// 失败阶段的学习结果记为未通过；失败也是终态，同样参与全部完成判定
func (t *Tracker) FailStage(bucket types.BucketID, stage types.LearningStage, reason string) {
	t.mu.Lock()
	s, ok := t.buckets[bucket]
	if !ok {
		t.mu.Unlock()
		return
	}
	s.Status = types.StatusFailed
	s.CurrentStage = stage
	s.FailReason = reason
	switch stage {
	case types.StageCoarseTime:
		s.CoarseTime = false
	case types.StageFlightMaterial:
		s.FlightMaterial = false
	case types.StageFineTime:
		s.FineTime = false
	case types.StageAdaptiveLearning:
		s.Adaptive = false
	}
	s.UpdatedAt = time.Now()
	snapshot := *s
	allDone := t.allCompletedLocked() && !t.allNotified
	if allDone {
		t.allNotified = true
	}
	t.mu.Unlock()

	t.notifyStateChanged(snapshot)
	if allDone {
		t.notifyAllCompleted()
	}
}

// Get 返回某料斗的状态快照
func (t *Tracker) Get(bucket types.BucketID) (BucketState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.buckets[bucket]
	if !ok {
		return BucketState{}, false
	}
	return *s, true
}

// All 返回全部六个料斗的状态快照，按料斗号升序
func (t *Tracker) All() []BucketState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]BucketState, 0, types.BucketCount)
	for _, b := range types.AllBuckets() {
		out = append(out, *t.buckets[b])
	}
	return out
}

// AllCompleted 判断六个料斗是否全部进入终态 (成功或失败)
func (t *Tracker) AllCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allCompletedLocked()
}

// CompletedCount 返回成功、失败和总料斗数
func (t *Tracker) CompletedCount() (success, failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.buckets {
		switch s.Status {
		case types.StatusCompleted:
			success++
		case types.StatusFailed:
			failed++
		}
	}
	return success, failed, types.BucketCount
}

// ResetBucket 将某料斗的学习进度重置为初始状态
func (t *Tracker) ResetBucket(bucket types.BucketID) {
	t.mu.Lock()
	s, ok := t.buckets[bucket]
	if !ok {
		t.mu.Unlock()
		return
	}
	*s = BucketState{
		Bucket:       bucket,
		Status:       types.StatusNotStarted,
		CurrentStage: types.StageNone,
		UpdatedAt:    time.Now(),
	}
	t.allNotified = false
	snapshot := *s
	t.mu.Unlock()

	t.notifyStateChanged(snapshot)
}

// ResetAll 重置全部料斗
func (t *Tracker) ResetAll() {
	for _, b := range types.AllBuckets() {
		t.ResetBucket(b)
	}
}

// 成功或失败都算终态，任一料斗仍在学习或尚未开始时返回假
func (t *Tracker) allCompletedLocked() bool {
	for _, s := range t.buckets {
		if s.Status != types.StatusCompleted && s.Status != types.StatusFailed {
			return false
		}
	}
	return true
}

// 回调由外部注入，panic 不应拖垮跟踪器本身
func (t *Tracker) notifyStateChanged(s BucketState) {
	t.mu.Lock()
	fn := t.onStateChanged
	t.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("状态变化回调发生 panic", "bucket", s.Bucket, "panic", r)
		}
	}()
	fn(s)
}

func (t *Tracker) notifyAllCompleted() {
	t.mu.Lock()
	fn := t.onAllCompleted
	t.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("全部完成回调发生 panic", "panic", r)
		}
	}()
	t.logger.Info("六个料斗全部进入终态")
	fn()
}
