package analysis

import "context"

// Analyzer 是阶段控制器使用的边界条件分析入口
// 本地实现直接调用纯函数，远程实现通过 HTTP 调用分析服务；
// 引擎层对两者一视同仁
type Analyzer interface {
	CoarseTime(ctx context.Context, targetWeight float64, coarseTimeMs, currentSpeed int) (CoarseTimeResult, error)
	FlightMaterial(ctx context.Context, targetWeight float64, readings []float64) (FlightMaterialResult, error)
	FineTime(ctx context.Context, testWeight float64, fineTimeMs, currentFineSpeed int,
		originalTargetWeight, flightMaterial float64) (FineTimeResult, error)
	Adaptive(ctx context.Context, in AdaptiveInput) (AdaptiveResult, error)
}

// LocalAnalyzer 在进程内直接执行分析函数
type LocalAnalyzer struct{}

// NewLocalAnalyzer 创建本地分析器
func NewLocalAnalyzer() *LocalAnalyzer { return &LocalAnalyzer{} }

func (LocalAnalyzer) CoarseTime(_ context.Context, targetWeight float64, coarseTimeMs, currentSpeed int) (CoarseTimeResult, error) {
	return AnalyzeCoarseTime(targetWeight, coarseTimeMs, currentSpeed), nil
}

func (LocalAnalyzer) FlightMaterial(_ context.Context, targetWeight float64, readings []float64) (FlightMaterialResult, error) {
	return AnalyzeFlightMaterial(targetWeight, readings)
}

func (LocalAnalyzer) FineTime(_ context.Context, testWeight float64, fineTimeMs, currentFineSpeed int,
	originalTargetWeight, flightMaterial float64) (FineTimeResult, error) {
	return AnalyzeFineTime(testWeight, fineTimeMs, currentFineSpeed, originalTargetWeight, flightMaterial), nil
}

func (LocalAnalyzer) Adaptive(_ context.Context, in AdaptiveInput) (AdaptiveResult, error) {
	return AnalyzeAdaptive(in), nil
}
