package plc

// Port 是离散线圈与 16 位保持寄存器的读写抽象
// 核心层只依赖该接口；真实实现走 Modbus TCP，测试使用内存实现
//
// 任何一次读写都可能因断连/超时返回错误，调用方将其视为本次测定的
// 终止性失败，不在 Port 内部做静默重试。
// 实现必须串行化底层总线事务：多个料斗任务会并发调用同一个 Port。
type Port interface {
	Connect() error
	Close() error

	ReadCoils(address, count uint16) ([]bool, error)
	WriteCoil(address uint16, value bool) error
	WriteCoils(address uint16, values []bool) error

	ReadRegisters(address, count uint16) ([]uint16, error)
	WriteRegister(address, value uint16) error
}
