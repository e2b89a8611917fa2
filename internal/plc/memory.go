package plc

import (
	"fmt"
	"sync"
	"time"
)

// TraceOp 记录一次总线操作，用于测试中回放与断言协议时序
type TraceOp struct {
	Kind    string // "write_coil" / "write_coils" / "write_register" / "read_coils" / "read_registers"
	Address uint16
	Bool    bool
	Value   uint16
	Time    time.Time
}

// MemoryPort 是 Port 的内存实现，供测试和离线演示使用
// 记录完整的操作轨迹，并允许注册线圈写入钩子来模拟现场设备行为
type MemoryPort struct {
	mu        sync.Mutex
	coils     map[uint16]bool
	registers map[uint16]uint16
	trace     []TraceOp
	connected bool

	// OnCoilWrite 在每次线圈写入后被调用 (持锁状态下)，
	// 模拟器用它在启动线圈置位时安排到量信号等反应
	OnCoilWrite func(address uint16, value bool)

	// FailNext 非空时，下一次匹配该 Kind 的操作返回错误，用于注入 IO 故障
	FailNext string
}

// NewMemoryPort 创建一个空的内存 Port
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{
		coils:     make(map[uint16]bool),
		registers: make(map[uint16]uint16),
	}
}

func (m *MemoryPort) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryPort) failIf(kind string) error {
	if m.FailNext == kind {
		m.FailNext = ""
		return fmt.Errorf("模拟 IO 故障: %s", kind)
	}
	return nil
}

func (m *MemoryPort) ReadCoils(address, count uint16) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIf("read_coils"); err != nil {
		return nil, err
	}
	m.trace = append(m.trace, TraceOp{Kind: "read_coils", Address: address, Value: count, Time: time.Now()})
	values := make([]bool, count)
	for i := uint16(0); i < count; i++ {
		values[i] = m.coils[address+i]
	}
	return values, nil
}

func (m *MemoryPort) WriteCoil(address uint16, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIf("write_coil"); err != nil {
		return err
	}
	m.coils[address] = value
	m.trace = append(m.trace, TraceOp{Kind: "write_coil", Address: address, Bool: value, Time: time.Now()})
	if m.OnCoilWrite != nil {
		m.OnCoilWrite(address, value)
	}
	return nil
}

func (m *MemoryPort) WriteCoils(address uint16, values []bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIf("write_coils"); err != nil {
		return err
	}
	for i, v := range values {
		m.coils[address+uint16(i)] = v
		m.trace = append(m.trace, TraceOp{Kind: "write_coils", Address: address + uint16(i), Bool: v, Time: time.Now()})
	}
	if m.OnCoilWrite != nil {
		for i, v := range values {
			m.OnCoilWrite(address+uint16(i), v)
		}
	}
	return nil
}

func (m *MemoryPort) ReadRegisters(address, count uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIf("read_registers"); err != nil {
		return nil, err
	}
	m.trace = append(m.trace, TraceOp{Kind: "read_registers", Address: address, Value: count, Time: time.Now()})
	values := make([]uint16, count)
	for i := uint16(0); i < count; i++ {
		values[i] = m.registers[address+i]
	}
	return values, nil
}

func (m *MemoryPort) WriteRegister(address, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failIf("write_register"); err != nil {
		return err
	}
	m.registers[address] = value
	m.trace = append(m.trace, TraceOp{Kind: "write_register", Address: address, Value: value, Time: time.Now()})
	return nil
}

// SetCoil 直接设置线圈状态，不记录轨迹 (模拟现场信号变化)
func (m *MemoryPort) SetCoil(address uint16, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coils[address] = value
}

// SetRegister 直接设置寄存器值，不记录轨迹
func (m *MemoryPort) SetRegister(address, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers[address] = value
}

// Coil 返回线圈当前状态
func (m *MemoryPort) Coil(address uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coils[address]
}

// Register 返回寄存器当前值
func (m *MemoryPort) Register(address uint16) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers[address]
}

// Trace 返回操作轨迹的快照
func (m *MemoryPort) Trace() []TraceOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TraceOp, len(m.trace))
	copy(out, m.trace)
	return out
}
