package web

import (
	"sync"

	"smart-weigher/internal/tracker"
	"smart-weigher/internal/types"
)

// BucketView 定义了用于 UI 展示的料斗状态
// 这是一个简化的视图，只包含前端需要的数据
type BucketView struct {
	Bucket         int    `json:"bucket"`
	Status         string `json:"status"`
	CurrentStage   string `json:"current_stage"`
	CoarseTime     bool   `json:"coarse_time_learned"`
	FlightMaterial bool   `json:"flight_material_learned"`
	FineTime       bool   `json:"fine_time_learned"`
	Adaptive       bool   `json:"adaptive_learned"`
	FailReason     string `json:"fail_reason,omitempty"`
}

// GlobalState 代表整机六个料斗的实时学习状态快照
type GlobalState struct {
	Buckets   map[int]BucketView `json:"buckets"`
	Completed int                `json:"completed"`
	AllDone   bool               `json:"all_done"`
}

// StateTracker 负责把料斗学习进度推送给前端
type StateTracker struct {
	mu    sync.RWMutex
	state GlobalState
	hub   *Hub
}

// NewStateTracker 创建一个新的 StateTracker 实例
func NewStateTracker(hub *Hub) *StateTracker {
	st := &StateTracker{
		state: GlobalState{Buckets: make(map[int]BucketView)},
		hub:   hub,
	}
	for _, b := range types.AllBuckets() {
		st.state.Buckets[int(b)] = BucketView{
			Bucket: int(b),
			Status: string(types.StatusNotStarted),
		}
	}
	hub.SetSnapshot(st.snapshot)
	return st
}

// UpdateBucketState 更新单个料斗的视图，并向所有客户端广播最新的全局状态
func (st *StateTracker) UpdateBucketState(s tracker.BucketState) {
	st.mu.Lock()

	st.state.Buckets[int(s.Bucket)] = BucketView{
		Bucket:         int(s.Bucket),
		Status:         string(s.Status),
		CurrentStage:   string(s.CurrentStage),
		CoarseTime:     s.CoarseTime,
		FlightMaterial: s.FlightMaterial,
		FineTime:       s.FineTime,
		Adaptive:       s.Adaptive,
		FailReason:     s.FailReason,
	}
	completed := 0
	for _, v := range st.state.Buckets {
		if v.Status == string(types.StatusCompleted) {
			completed++
		}
	}
	st.state.Completed = completed
	st.state.AllDone = completed == types.BucketCount
	snapshot := st.copyLocked()
	st.mu.Unlock()

	st.hub.BroadcastState(snapshot)
}

// GetStateSnapshot 返回当前全局状态的一个深拷贝副本
// 用于新客户端连接时获取一次全量数据
func (st *StateTracker) GetStateSnapshot() GlobalState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.copyLocked()
}

func (st *StateTracker) snapshot() interface{} {
	return st.GetStateSnapshot()
}

// copyLocked 深拷贝当前状态，调用方必须持有锁
func (st *StateTracker) copyLocked() GlobalState {
	newState := GlobalState{
		Buckets:   make(map[int]BucketView, len(st.state.Buckets)),
		Completed: st.state.Completed,
		AllDone:   st.state.AllDone,
	}
	for id, v := range st.state.Buckets {
		newState.Buckets[id] = v
	}
	return newState
}
