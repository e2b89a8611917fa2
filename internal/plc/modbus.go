package plc

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// ModbusPort 基于 Modbus TCP 实现 Port 接口
// 单条 TCP 连接上的所有事务通过互斥锁串行化，
// 多个料斗任务并发调用时在锁上排队等待
type ModbusPort struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
	mu      sync.Mutex
	logger  *slog.Logger
}

// NewModbusPort 创建一个 Modbus TCP Port
// addr 形如 "192.168.6.6:502"，slaveID 为 PLC 从站号
func NewModbusPort(addr string, slaveID byte, timeout time.Duration, logger *slog.Logger) *ModbusPort {
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = timeout
	handler.SlaveId = slaveID
	return &ModbusPort{
		handler: handler,
		client:  modbus.NewClient(handler),
		logger:  logger.With("component", "modbus"),
	}
}

// Connect 建立到 PLC 的 TCP 连接
func (p *ModbusPort) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.handler.Connect(); err != nil {
		return fmt.Errorf("连接 PLC 失败 (%s): %w", p.handler.Address, err)
	}
	p.logger.Info("PLC 连接成功", "addr", p.handler.Address, "slave_id", p.handler.SlaveId)
	return nil
}

// Close 断开与 PLC 的连接
func (p *ModbusPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler.Close()
}

// ReadCoils 读取连续线圈，返回按地址顺序展开的布尔序列
func (p *ModbusPort) ReadCoils(address, count uint16) ([]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := p.client.ReadCoils(address, count)
	if err != nil {
		return nil, fmt.Errorf("读取线圈失败 (addr=%d count=%d): %w", address, count, err)
	}
	return unpackBits(data, count), nil
}

// WriteCoil 写入单个线圈
func (p *ModbusPort) WriteCoil(address uint16, value bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var v uint16
	if value {
		v = 0xFF00
	}
	if _, err := p.client.WriteSingleCoil(address, v); err != nil {
		return fmt.Errorf("写入线圈失败 (addr=%d value=%t): %w", address, value, err)
	}
	return nil
}

// WriteCoils 批量写入连续线圈
func (p *ModbusPort) WriteCoils(address uint16, values []bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.client.WriteMultipleCoils(address, uint16(len(values)), packBits(values)); err != nil {
		return fmt.Errorf("批量写入线圈失败 (addr=%d count=%d): %w", address, len(values), err)
	}
	return nil
}

// ReadRegisters 读取连续保持寄存器
func (p *ModbusPort) ReadRegisters(address, count uint16) ([]uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := p.client.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, fmt.Errorf("读取寄存器失败 (addr=%d count=%d): %w", address, count, err)
	}
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	return regs, nil
}

// WriteRegister 写入单个保持寄存器
func (p *ModbusPort) WriteRegister(address, value uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.client.WriteSingleRegister(address, value); err != nil {
		return fmt.Errorf("写入寄存器失败 (addr=%d value=%d): %w", address, value, err)
	}
	return nil
}

// unpackBits 将 Modbus 返回的位压缩字节展开为布尔序列 (LSB 在前)
func unpackBits(data []byte, count uint16) []bool {
	bits := make([]bool, count)
	for i := uint16(0); i < count; i++ {
		bits[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return bits
}

// packBits 将布尔序列压缩为 Modbus 位字节 (LSB 在前)
func packBits(values []bool) []byte {
	data := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			data[i/8] |= 1 << (i % 8)
		}
	}
	return data
}
