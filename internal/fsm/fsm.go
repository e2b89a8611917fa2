package fsm

import (
	"fmt"
	"sync"
)

// State 代表料斗学习流程中的一个状态
type State string

// Event 代表触发状态转换的事件
type Event string

const (
	StateNotStarted     State = "NOT_STARTED"
	StateCoarseTime     State = "COARSE_TIME"
	StateFlightMaterial State = "FLIGHT_MATERIAL"
	StateFineTime       State = "FINE_TIME"
	StateAdaptive       State = "ADAPTIVE_LEARNING"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

const (
	EventStart        Event = "START"
	EventCoarseDone   Event = "COARSE_DONE"
	EventFlightDone   Event = "FLIGHT_DONE"
	EventFineDone     Event = "FINE_DONE"
	EventAdaptiveDone Event = "ADAPTIVE_DONE"
	EventFail         Event = "FAIL"
	EventReset        Event = "RESET"
)

// Callback 在状态成功转换后被调用
type Callback func(from State, to State, event Event)

// Machine 是一个基于转换表的有限状态机
// 学习流程严格按快加时间 -> 飞料值 -> 慢加时间 -> 自适应学习推进，
// 任一学习阶段失败都进入 FAILED
type Machine struct {
	mu          sync.Mutex
	current     State
	transitions map[State]map[Event]State
	callbacks   []Callback
}

// NewMachine 创建一个初始状态为 NOT_STARTED 的状态机
func NewMachine() *Machine {
	return &Machine{
		current: StateNotStarted,
		transitions: map[State]map[Event]State{
			StateNotStarted: {
				EventStart: StateCoarseTime,
			},
			StateCoarseTime: {
				EventCoarseDone: StateFlightMaterial,
				EventFail:       StateFailed,
			},
			StateFlightMaterial: {
				EventFlightDone: StateFineTime,
				EventFail:       StateFailed,
			},
			StateFineTime: {
				EventFineDone: StateAdaptive,
				EventFail:     StateFailed,
			},
			StateAdaptive: {
				EventAdaptiveDone: StateCompleted,
				EventFail:         StateFailed,
			},
			StateCompleted: {
				EventReset: StateNotStarted,
			},
			StateFailed: {
				EventReset: StateNotStarted,
			},
		},
	}
}

// Current 返回当前状态
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnTransition 注册一个转换回调
func (m *Machine) OnTransition(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Fire 触发一个事件，如果当前状态下该事件不合法则返回错误
func (m *Machine) Fire(event Event) error {
	m.mu.Lock()

	next, ok := m.transitions[m.current][event]
	if !ok {
		current := m.current
		m.mu.Unlock()
		return fmt.Errorf("状态 %s 下不允许事件 %s", current, event)
	}

	from := m.current
	m.current = next
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(from, next, event)
	}
	return nil
}

// Can 判断当前状态下事件是否合法
func (m *Machine) Can(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transitions[m.current][event]
	return ok
}
