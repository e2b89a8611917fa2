package types

// BucketID 定义料斗编号 (1..6)
// 料斗是物理称重头，数量固定，运行期间不会创建或销毁
type BucketID int

// BucketCount 称重机的料斗总数
const BucketCount = 6

// AllBuckets 返回全部料斗编号 [1..6]
func AllBuckets() []BucketID {
	ids := make([]BucketID, 0, BucketCount)
	for i := 1; i <= BucketCount; i++ {
		ids = append(ids, BucketID(i))
	}
	return ids
}

// Valid 判断料斗编号是否在有效范围内
func (b BucketID) Valid() bool {
	return b >= 1 && b <= BucketCount
}

// LearningStage 定义学习阶段
// 阶段严格按序推进：快加时间 -> 飞料值 -> 慢加时间 -> 自适应学习
type LearningStage string

const (
	StageNone             LearningStage = "NONE"              // 未进入任何阶段
	StageCoarseTime       LearningStage = "COARSE_TIME"       // 快加时间测定
	StageFlightMaterial   LearningStage = "FLIGHT_MATERIAL"   // 飞料值测定
	StageFineTime         LearningStage = "FINE_TIME"         // 慢加时间测定
	StageAdaptiveLearning LearningStage = "ADAPTIVE_LEARNING" // 自适应学习
)

// LearningStages 按推进顺序列出四个学习阶段
var LearningStages = []LearningStage{
	StageCoarseTime,
	StageFlightMaterial,
	StageFineTime,
	StageAdaptiveLearning,
}

// LearningStatus 定义料斗学习状态
type LearningStatus string

const (
	StatusNotStarted LearningStatus = "NOT_STARTED" // 未开始
	StatusLearning   LearningStatus = "LEARNING"    // 学习中
	StatusFailed     LearningStatus = "FAILED"      // 学习失败 (终态，需显式重置)
	StatusCompleted  LearningStatus = "COMPLETED"   // 四个阶段全部通过
)

// ProgramStep 定义学习程序中的一个步骤
// Rule 为 expr 规则表达式，为空则无条件执行该阶段
type ProgramStep struct {
	Stage LearningStage `mapstructure:"stage"`
	Rule  string        `mapstructure:"rule,omitempty"`
}

// LearningRun 表示一个料斗的一次完整学习任务
// 由调度器排队、引擎按程序步骤推进，过程量随阶段完成逐步填充
type LearningRun struct {
	ID           string // 任务唯一标识 (UUID)
	Bucket       BucketID
	TargetWeight float64 // 生产目标重量 (g)
	Program      string  // 学习程序名称，对应配置中的阶段序列
	Priority     int     // 优先级：数值越大越先调度
	Step         int     // 当前步骤索引

	// 阶段产物，按序填充
	CoarseSpeed    int     // 学习得到的快加速度
	CoarseTimeMs   int     // 合规的快加时间 (ms)
	FlightMaterial float64 // 飞料平均值 (g)
	FineSpeed      int     // 学习得到的慢加速度
	FineFlowRate   float64 // 慢加流速 (g/s)，0 表示尚未测得
	CoarseAdvance  float64 // 快加提前量 (g)
	FallValue      float64 // 落差值 (g)

	History []string               // 已完成阶段记录
	Attrs   map[string]interface{} `json:"attrs,omitempty"` // 动态属性，供规则引擎决策
}

// Result 表示一个阶段执行的结果
type Result struct {
	RunID   string
	Bucket  BucketID
	Stage   LearningStage
	Success bool
	Error   error
}

// LearnedParameters 是整条学习流水线的最终产物
// 四个阶段全部完成后生成，交由持久层保存
type LearnedParameters struct {
	RunID         string
	Bucket        BucketID
	TargetWeight  float64
	CoarseSpeed   int
	FineSpeed     int
	CoarseAdvance float64 // g
	FallValue     float64 // g
}

// CycleMeasurement 是一次生产/测试周期的实测数据
// 自适应学习阶段不直接驱动监测服务，而是消费周期执行方提供的测量值
type CycleMeasurement struct {
	TotalCycleMs  int     // 总周期时间 (ms)
	CoarseTimeMs  int     // 快加时间 (ms)
	ErrorValue    float64 // 实际重量 - 目标重量 (g)
	CoarseAdvance float64 // 周期结束后从 PLC 读回的快加提前量 (g)
	FallValue     float64 // 周期结束后从 PLC 读回的落差值 (g)
}
