package config

import (
	"fmt"

	"smart-weigher/internal/types"

	"github.com/spf13/viper"
)

// PLCConfig 定义 PLC 连接参数
type PLCConfig struct {
	Address   string `mapstructure:"address"`    // Modbus TCP 地址，如 192.168.1.10:502
	SlaveID   int    `mapstructure:"slave_id"`   // 从站号
	TimeoutMs int    `mapstructure:"timeout_ms"` // 单次事务超时
}

// TimingConfig 定义控制动作之间的等待时间
// 默认值对应真实设备的机械响应时间，测试时可以缩短
type TimingConfig struct {
	MutexSettleMs      int `mapstructure:"mutex_settle_ms"`       // 互斥写入之间的等待
	DischargePulseMs   int `mapstructure:"discharge_pulse_ms"`    // 放料脉冲宽度
	StopDischargeMs    int `mapstructure:"stop_discharge_ms"`     // 停机到放料的间隔
	GlobalStepMs       int `mapstructure:"global_step_ms"`        // 整机操作步骤间隔
	ParamWriteGapMs    int `mapstructure:"param_write_gap_ms"`    // 参数写回后的等待
	AdaptiveRetryGapMs int `mapstructure:"adaptive_retry_gap_ms"` // 自适应重试之间的间隔
}

// AdaptiveConfig 定义自适应学习阶段的收敛参数
type AdaptiveConfig struct {
	MaxRounds         int `mapstructure:"max_rounds"`         // 最大学习轮数
	AttemptsPerRound  int `mapstructure:"attempts_per_round"` // 每轮最大尝试次数
	RequiredSuccesses int `mapstructure:"required_successes"` // 需要的连续合规次数
}

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	PLC              PLCConfig                      `mapstructure:"plc"`
	MaxWorkers       int                            `mapstructure:"max_workers"`       // 学习任务最大并发数
	MaxAttempts      int                            `mapstructure:"max_attempts"`      // 单阶段最大调整次数
	PollIntervalMs   int                            `mapstructure:"poll_interval_ms"`  // 监测服务活动轮询间隔
	IdleIntervalMs   int                            `mapstructure:"idle_interval_ms"`  // 监测服务空闲轮询间隔
	Timing           TimingConfig                   `mapstructure:"timing"`
	Adaptive         AdaptiveConfig                 `mapstructure:"adaptive"`
	Programs         map[string][]types.ProgramStep `mapstructure:"programs"`          // 学习程序定义，Key 为程序名
	WALPath          string                         `mapstructure:"wal_path"`          // 任务日志文件路径
	DBPath           string                         `mapstructure:"db_path"`           // 学习结果数据库路径
	AnalysisEndpoint string                         `mapstructure:"analysis_endpoint"` // 分析服务地址，为空则使用本地分析
	ListenAddr       string                         `mapstructure:"listen_addr"`       // 学习服务 HTTP 监听地址
}

// LoadConfig 从 config.yaml 文件加载配置
// 使用 Viper 库来读取和解析配置文件
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config") // 配置文件名称 (不带扩展名)
	viper.SetConfigType("yaml")   // 配置文件类型
	viper.AddConfigPath(".")      // 查找配置文件的路径 (当前目录)

	// 设置默认值
	viper.SetDefault("plc.address", "127.0.0.1:502")
	viper.SetDefault("plc.slave_id", 1)
	viper.SetDefault("plc.timeout_ms", 1000)
	viper.SetDefault("max_workers", 6)
	viper.SetDefault("max_attempts", 15)
	viper.SetDefault("poll_interval_ms", 20)
	viper.SetDefault("idle_interval_ms", 500)
	viper.SetDefault("timing.mutex_settle_ms", 50)
	viper.SetDefault("timing.discharge_pulse_ms", 1500)
	viper.SetDefault("timing.stop_discharge_ms", 500)
	viper.SetDefault("timing.global_step_ms", 1000)
	viper.SetDefault("timing.param_write_gap_ms", 100)
	viper.SetDefault("timing.adaptive_retry_gap_ms", 1000)
	viper.SetDefault("adaptive.max_rounds", 3)
	viper.SetDefault("adaptive.attempts_per_round", 15)
	viper.SetDefault("adaptive.required_successes", 3)
	viper.SetDefault("wal_path", "learning.wal")
	viper.SetDefault("db_path", "learning.db")
	viper.SetDefault("listen_addr", ":8080")

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 将配置解析到结构体中
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &cfg, nil
}
