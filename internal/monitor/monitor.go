package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smart-weigher/internal/event"
	"smart-weigher/internal/plc"
	"smart-weigher/internal/types"
)

// Mode 决定一次监测会话要捕获哪些信号
type Mode string

const (
	// ModeStandard 只捕获到量信号
	ModeStandard Mode = "standard"
	// ModeAdaptive 同时捕获快加线圈的下降沿，用于测量快加时间
	ModeAdaptive Mode = "adaptive"
)

// Edge 是一次监测会话的结果
// 到量信号的上升沿出现时发出，每个会话只发出一次
type Edge struct {
	Bucket       types.BucketID
	ElapsedMs    int // 会话开始到到量信号的毫秒数
	CoarseTimeMs int // 仅 ModeAdaptive：会话开始到快加线圈下降沿的毫秒数
	At           time.Time
	Err          error // 非 nil 表示会话因 IO 故障终止
}

type session struct {
	mode       Mode
	start      time.Time
	ch         chan Edge
	prevTarget bool
	prevCoarse bool
	coarseSeen bool // 是否已观察到快加线圈为 ON
	coarseMs   int
	coarseDone bool
}

// Config 是监测服务的轮询参数
type Config struct {
	PollInterval     time.Duration // 有活动会话时的轮询间隔
	IdlePollInterval time.Duration // 空闲时的轮询间隔
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     20 * time.Millisecond,
		IdlePollInterval: 500 * time.Millisecond,
	}
}

// Monitor 用单一轮询循环批量读取六个料斗的到量信号
// 无论多少料斗在学习，每个轮询周期只做一到两次 Modbus 批量读取
type Monitor struct {
	port   plc.Port
	bus    *event.Bus
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[types.BucketID]*session
}

func NewMonitor(port plc.Port, bus *event.Bus, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = DefaultConfig().IdlePollInterval
	}
	return &Monitor{
		port:     port,
		bus:      bus,
		cfg:      cfg,
		sessions: make(map[types.BucketID]*session),
		logger:   logger.With("component", "monitor"),
	}
}

// Watch 为指定料斗开启一次监测会话，返回的通道最多收到一个 Edge 后关闭
// 会话被 StopBucket 取消时，通道直接关闭而不发送任何值
func (m *Monitor) Watch(bucket types.BucketID, mode Mode) (<-chan Edge, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("无效的料斗编号: %d", bucket)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[bucket]; exists {
		return nil, fmt.Errorf("料斗 %d 已有监测会话在进行中", bucket)
	}

	s := &session{
		mode:  mode,
		start: time.Now(),
		ch:    make(chan Edge, 1),
		// 会话开始时线圈可能残留上个周期的 ON 状态，
		// 必须先观察到 OFF 才认上升沿
		prevTarget: true,
	}
	m.sessions[bucket] = s
	m.logger.Debug("开启监测会话", "bucket", bucket, "mode", mode)
	return s.ch, nil
}

// StopBucket 取消指定料斗的监测会话，无会话时为空操作
func (m *Monitor) StopBucket(bucket types.BucketID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[bucket]; ok {
		close(s.ch)
		delete(m.sessions, bucket)
		m.logger.Debug("取消监测会话", "bucket", bucket)
	}
}

// StopAll 取消全部监测会话
func (m *Monitor) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for b, s := range m.sessions {
		close(s.ch)
		delete(m.sessions, b)
	}
}

// Run 启动轮询循环，直到 ctx 取消
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("监测服务启动",
		"poll_interval_ms", m.cfg.PollInterval.Milliseconds(),
		"idle_interval_ms", m.cfg.IdlePollInterval.Milliseconds())

	for {
		interval := m.cfg.IdlePollInterval
		m.mu.Lock()
		active := len(m.sessions) > 0
		m.mu.Unlock()
		if active {
			m.poll()
			interval = m.cfg.PollInterval
		}

		select {
		case <-ctx.Done():
			m.StopAll()
			m.logger.Info("监测服务停止")
			return
		case <-time.After(interval):
		}
	}
}

// poll 做一轮批量读取并推进所有活动会话
func (m *Monitor) poll() {
	targets, err := m.port.ReadCoils(plc.TargetReachedStart, types.BucketCount)
	if err != nil {
		m.failAll(fmt.Errorf("读取到量信号失败: %w", err))
		return
	}

	m.mu.Lock()
	needCoarse := false
	for _, s := range m.sessions {
		if s.mode == ModeAdaptive && !s.coarseDone {
			needCoarse = true
			break
		}
	}
	m.mu.Unlock()

	var coarse []bool
	if needCoarse {
		coarse, err = m.port.ReadCoils(plc.CoarseAddStart, types.BucketCount)
		if err != nil {
			m.failAll(fmt.Errorf("读取快加线圈失败: %w", err))
			return
		}
	}

	now := time.Now()
	m.mu.Lock()
	for bucket, s := range m.sessions {
		idx := int(bucket) - 1

		if s.mode == ModeAdaptive && !s.coarseDone && coarse != nil {
			cur := coarse[idx]
			if cur {
				s.coarseSeen = true
			}
			// 下降沿：快加阶段结束
			if s.coarseSeen && s.prevCoarse && !cur {
				s.coarseMs = int(now.Sub(s.start).Milliseconds())
				s.coarseDone = true
				m.logger.Debug("捕获快加结束信号", "bucket", bucket, "coarse_time_ms", s.coarseMs)
			}
			s.prevCoarse = cur
		}

		cur := targets[idx]
		if !s.prevTarget && cur {
			edge := Edge{
				Bucket:       bucket,
				ElapsedMs:    int(now.Sub(s.start).Milliseconds()),
				CoarseTimeMs: s.coarseMs,
				At:           now,
			}
			s.ch <- edge
			close(s.ch)
			delete(m.sessions, bucket)
			m.logger.Info("捕获到量信号", "bucket", bucket, "elapsed_ms", edge.ElapsedMs)
			if m.bus != nil {
				m.bus.Publish(event.Event{
					Type:    event.TargetReached,
					Bucket:  bucket,
					Payload: edge,
				})
			}
			continue
		}
		s.prevTarget = cur
	}
	m.mu.Unlock()
}

// failAll 在 IO 故障时终止全部会话，故障对调用方是终止性的
func (m *Monitor) failAll(err error) {
	m.logger.Error("监测轮询 IO 故障", "error", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	for b, s := range m.sessions {
		s.ch <- Edge{Bucket: b, Err: err, At: time.Now()}
		close(s.ch)
		delete(m.sessions, b)
	}
}
