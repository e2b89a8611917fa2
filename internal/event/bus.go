package event

import (
	"sync"
	"time"

	"smart-weigher/internal/types"
)

// EventType 定义了系统中事件的类型
type EventType string

const (
	RunScheduled  EventType = "RUN_SCHEDULED"  // 学习任务已入队
	RunStarted    EventType = "RUN_STARTED"    // 学习任务开始执行
	StageStarted  EventType = "STAGE_STARTED"  // 学习阶段开始
	StageFinished EventType = "STAGE_FINISHED" // 学习阶段结束
	RunCompleted  EventType = "RUN_COMPLETED"  // 学习任务成功完成
	RunFailed     EventType = "RUN_FAILED"     // 学习任务失败
	TargetReached EventType = "TARGET_REACHED" // 监控到到量信号
	ParamAdjusted EventType = "PARAM_ADJUSTED" // 分析后写回了新参数
)

// Event 是在总线上传递的事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Bucket    types.BucketID
	RunID     string
	Stage     types.LearningStage
	Payload   interface{} // 允许携带任意数据
}

// Handler 是处理事件的回调函数类型
type Handler func(e Event)

// Bus 提供了一个简单的发布/订阅功能
type Bus struct {
	subscribers map[EventType][]Handler
	mu          sync.RWMutex
}

// NewBus 创建一个新的事件总线
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Handler),
	}
}

// Subscribe 注册一个事件处理器来监听特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都会被异步调用
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if handlers, found := b.subscribers[e.Type]; found {
		for _, handler := range handlers {
			// 异步执行，避免阻塞发布者
			go handler(e)
		}
	}
}
