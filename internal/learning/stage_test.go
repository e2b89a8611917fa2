package learning

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/monitor"
	"smart-weigher/internal/plc"
	"smart-weigher/internal/types"
)

// plcSimulator 在内存 Port 上模拟现场设备：
// 启动线圈置位后先清掉到量信号，经过一个周期时间再发出到量
type plcSimulator struct {
	port     *plc.MemoryPort
	cycle    time.Duration
	coarse   time.Duration // >0 时模拟快加线圈的通断 (自适应监测用)
	weightAt func(bucket types.BucketID) uint16
}

func (s *plcSimulator) install() {
	s.port.OnCoilWrite = func(address uint16, value bool) {
		if !value || address < plc.StartCoilBase || address >= plc.StartCoilBase+types.BucketCount {
			return
		}
		b := types.BucketID(address - plc.StartCoilBase + 1)
		// 钩子在持锁状态下被调用，反应必须放到独立协程里
		go s.runCycle(b)
	}
}

func (s *plcSimulator) runCycle(b types.BucketID) {
	s.port.SetCoil(plc.TargetReachedCoil(b), false)
	if s.coarse > 0 {
		s.port.SetCoil(plc.CoarseAddCoil(b), true)
		time.Sleep(s.coarse)
		s.port.SetCoil(plc.CoarseAddCoil(b), false)
		time.Sleep(s.cycle - s.coarse)
	} else {
		time.Sleep(s.cycle)
	}
	if s.weightAt != nil {
		s.port.SetRegister(plc.WeightReg(b), s.weightAt(b))
	}
	s.port.SetCoil(plc.TargetReachedCoil(b), true)
}

// scriptedAnalyzer 按预置脚本依次返回分析结果，脚本耗尽时重复最后一项
type scriptedAnalyzer struct {
	coarse []analysis.CoarseTimeResult
	flight []analysis.FlightMaterialResult
	fine   []analysis.FineTimeResult

	coarseCalls []int // 每次调用收到的快加时间
	fineCalls   []int
	flightArgs  [][]float64
}

func (a *scriptedAnalyzer) CoarseTime(_ context.Context, _ float64, coarseTimeMs, _ int) (analysis.CoarseTimeResult, error) {
	a.coarseCalls = append(a.coarseCalls, coarseTimeMs)
	idx := len(a.coarseCalls) - 1
	if idx >= len(a.coarse) {
		idx = len(a.coarse) - 1
	}
	return a.coarse[idx], nil
}

func (a *scriptedAnalyzer) FlightMaterial(_ context.Context, _ float64, readings []float64) (analysis.FlightMaterialResult, error) {
	a.flightArgs = append(a.flightArgs, readings)
	idx := len(a.flightArgs) - 1
	if idx >= len(a.flight) {
		idx = len(a.flight) - 1
	}
	return a.flight[idx], nil
}

func (a *scriptedAnalyzer) FineTime(_ context.Context, _ float64, fineTimeMs, _ int, _, _ float64) (analysis.FineTimeResult, error) {
	a.fineCalls = append(a.fineCalls, fineTimeMs)
	idx := len(a.fineCalls) - 1
	if idx >= len(a.fine) {
		idx = len(a.fine) - 1
	}
	return a.fine[idx], nil
}

func (a *scriptedAnalyzer) Adaptive(context.Context, analysis.AdaptiveInput) (analysis.AdaptiveResult, error) {
	return analysis.AdaptiveResult{Compliant: true}, nil
}

func newStageDeps(t *testing.T, analyzer analysis.Analyzer, sim *plcSimulator) *Deps {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	sim.install()

	timing := plc.Timings{
		MutexSettle:      time.Millisecond,
		DischargePulse:   time.Millisecond,
		StopDischargeGap: time.Millisecond,
		GlobalStepGap:    time.Millisecond,
	}
	ops := plc.NewOps(sim.port, timing, logger)

	mon := monitor.NewMonitor(sim.port, nil, monitor.Config{
		PollInterval:     time.Millisecond,
		IdlePollInterval: 2 * time.Millisecond,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go mon.Run(ctx)
	t.Cleanup(cancel)

	return &Deps{
		Ops:         ops,
		Monitor:     mon,
		Analyzer:    analyzer,
		Logger:      logger,
		MaxAttempts: 5,
		SettleDelay: time.Millisecond,
	}
}

func TestCoarseTimeStageAdjustsUntilCompliant(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 20 * time.Millisecond}
	analyzer := &scriptedAnalyzer{coarse: []analysis.CoarseTimeResult{
		{Compliant: false, HasNewSpeed: true, NewSpeed: 77, Message: "快加时间过长"},
		{Compliant: true, Message: "快加时间合规"},
	}}
	deps := newStageDeps(t, analyzer, sim)

	run := &types.LearningRun{ID: "run-1", Bucket: 1, TargetWeight: 200}
	stage := NewCoarseTimeStage(deps)
	res := stage.Execute(context.Background(), run)

	if !res.Success {
		t.Fatalf("阶段应成功: %v", res.Error)
	}
	if run.CoarseSpeed != 77 {
		t.Errorf("应采用调整后的速度 77, 得到 %d", run.CoarseSpeed)
	}
	if run.CoarseTimeMs <= 0 {
		t.Errorf("快加时间应为正值: %d", run.CoarseTimeMs)
	}
	if len(analyzer.coarseCalls) != 2 {
		t.Errorf("分析调用次数预期 2, 得到 %d", len(analyzer.coarseCalls))
	}

	// 调整后的速度与目标重量应已写入 PLC
	if got := sim.port.Register(plc.CoarseSpeedReg(1)); got != 77 {
		t.Errorf("快加速度寄存器预期 77, 得到 %d", got)
	}
	if got := sim.port.Register(plc.TargetWeightReg(1)); got != 2000 {
		t.Errorf("目标重量寄存器预期 2000, 得到 %d", got)
	}
}

func TestCoarseTimeStageTerminalFailure(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 20 * time.Millisecond}
	analyzer := &scriptedAnalyzer{coarse: []analysis.CoarseTimeResult{
		{Compliant: false, HasNewSpeed: false, Message: "料斗快加速度异常，请人工检修"},
	}}
	deps := newStageDeps(t, analyzer, sim)

	run := &types.LearningRun{ID: "run-2", Bucket: 2, TargetWeight: 200}
	res := NewCoarseTimeStage(deps).Execute(context.Background(), run)

	if res.Success {
		t.Fatal("无新速度的不合规应是终止性失败")
	}
	if res.Error == nil || res.Error.Error() != "料斗快加速度异常，请人工检修" {
		t.Errorf("失败原因应透传分析消息: %v", res.Error)
	}
}

func TestCoarseTimeStageExhaustsAttempts(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 10 * time.Millisecond}
	// 永远不合规但总能给出新速度
	analyzer := &scriptedAnalyzer{coarse: []analysis.CoarseTimeResult{
		{Compliant: false, HasNewSpeed: true, NewSpeed: 80, Message: "快加时间过长"},
	}}
	deps := newStageDeps(t, analyzer, sim)
	deps.MaxAttempts = 3

	run := &types.LearningRun{ID: "run-3", Bucket: 3, TargetWeight: 200}
	res := NewCoarseTimeStage(deps).Execute(context.Background(), run)

	if res.Success {
		t.Fatal("超过最大尝试次数应失败")
	}
	if len(analyzer.coarseCalls) != 3 {
		t.Errorf("尝试次数预期 3, 得到 %d", len(analyzer.coarseCalls))
	}
}

func TestFlightMaterialStageCollectsThreeReadings(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 10 * time.Millisecond}
	weights := []uint16{2010, 2020, 2030}
	i := 0
	sim.weightAt = func(types.BucketID) uint16 {
		w := weights[i%len(weights)]
		i++
		return w
	}
	analyzer := &scriptedAnalyzer{flight: []analysis.FlightMaterialResult{
		{Average: 2.0, Min: 1.0, Max: 3.0, StdDev: 0.82},
	}}
	deps := newStageDeps(t, analyzer, sim)

	run := &types.LearningRun{ID: "run-4", Bucket: 4, TargetWeight: 200}
	res := NewFlightMaterialStage(deps).Execute(context.Background(), run)

	if !res.Success {
		t.Fatalf("阶段应成功: %v", res.Error)
	}
	if run.FlightMaterial != 2.0 {
		t.Errorf("飞料值预期 2.0, 得到 %v", run.FlightMaterial)
	}
	if len(analyzer.flightArgs) != 1 || len(analyzer.flightArgs[0]) != 3 {
		t.Fatalf("应提交一次 3 个读数: %v", analyzer.flightArgs)
	}
	want := []float64{201.0, 202.0, 203.0}
	for j, w := range want {
		if analyzer.flightArgs[0][j] != w {
			t.Errorf("第 %d 个读数预期 %v, 得到 %v", j+1, w, analyzer.flightArgs[0][j])
		}
	}
}

func TestFineTimeStageWritesCoarseAdvance(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 15 * time.Millisecond}
	advance := 14.7
	analyzer := &scriptedAnalyzer{fine: []analysis.FineTimeResult{
		{Compliant: true, FlowRate: 0.5, HasCoarseAdvance: true, CoarseAdvance: advance},
	}}
	deps := newStageDeps(t, analyzer, sim)

	run := &types.LearningRun{ID: "run-5", Bucket: 5, TargetWeight: 200, FlightMaterial: 2.0}
	res := NewFineTimeStage(deps).Execute(context.Background(), run)

	if !res.Success {
		t.Fatalf("阶段应成功: %v", res.Error)
	}
	if run.FineSpeed != defaultFineSpeed {
		t.Errorf("慢加速度预期默认 %d, 得到 %d", defaultFineSpeed, run.FineSpeed)
	}
	if run.FineFlowRate != 0.5 {
		t.Errorf("慢加流速预期 0.5, 得到 %v", run.FineFlowRate)
	}
	if run.CoarseAdvance != advance {
		t.Errorf("快加提前量预期 %v, 得到 %v", advance, run.CoarseAdvance)
	}
	if got := sim.port.Register(plc.CoarseAdvanceReg(5)); got != 147 {
		t.Errorf("提前量寄存器预期 147, 得到 %d", got)
	}
	if got := sim.port.Register(plc.FineSpeedReg(5)); got != defaultFineSpeed {
		t.Errorf("慢加速度寄存器预期 %d, 得到 %d", defaultFineSpeed, got)
	}
	// 测试周期结束后目标重量恢复为生产目标
	if got := sim.port.Register(plc.TargetWeightReg(5)); got != 2000 {
		t.Errorf("目标重量应恢复为 2000, 得到 %d", got)
	}
}

func TestFineTimeStageWritesTestParametersBeforeStart(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 15 * time.Millisecond}
	analyzer := &scriptedAnalyzer{fine: []analysis.FineTimeResult{
		{Compliant: true, FlowRate: 0.4, HasCoarseAdvance: true, CoarseAdvance: 12.0},
	}}
	deps := newStageDeps(t, analyzer, sim)

	run := &types.LearningRun{ID: "run-7", Bucket: 3, TargetWeight: 200, FlightMaterial: 2.0}
	if res := NewFineTimeStage(deps).Execute(context.Background(), run); !res.Success {
		t.Fatalf("阶段应成功: %v", res.Error)
	}

	// 测定参数必须在第一次启动之前写入：
	// 目标重量 6g、快加提前量 6g (寄存器值 60)、默认慢加速度 44
	firstStart, targetAt, advanceAt, speedAt := -1, -1, -1, -1
	for i, op := range sim.port.Trace() {
		switch {
		case op.Kind == "write_coil" && op.Address == plc.StartCoil(3) && op.Bool:
			if firstStart < 0 {
				firstStart = i
			}
		case op.Kind == "write_register" && op.Address == plc.TargetWeightReg(3) && op.Value == 60:
			if targetAt < 0 {
				targetAt = i
			}
		case op.Kind == "write_register" && op.Address == plc.CoarseAdvanceReg(3) && op.Value == 60:
			if advanceAt < 0 {
				advanceAt = i
			}
		case op.Kind == "write_register" && op.Address == plc.FineSpeedReg(3) && op.Value == defaultFineSpeed:
			if speedAt < 0 {
				speedAt = i
			}
		}
	}
	if firstStart < 0 {
		t.Fatal("测定周期未启动")
	}
	if targetAt < 0 || targetAt > firstStart {
		t.Errorf("目标重量 6g 应在启动前写入, 位置 %d / 启动 %d", targetAt, firstStart)
	}
	if advanceAt < 0 || advanceAt > firstStart {
		t.Errorf("快加提前量 6g 应在启动前写入, 位置 %d / 启动 %d", advanceAt, firstStart)
	}
	if speedAt < 0 || speedAt > firstStart {
		t.Errorf("默认慢加速度 %d 应在启动前写入, 位置 %d / 启动 %d", defaultFineSpeed, speedAt, firstStart)
	}
}

func TestFineTimeStageRestoresAdvanceWithoutFlightMaterial(t *testing.T) {
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 15 * time.Millisecond}
	sim.port.SetRegister(plc.CoarseAdvanceReg(4), 98)
	analyzer := &scriptedAnalyzer{fine: []analysis.FineTimeResult{
		{Compliant: true, FlowRate: 0.4},
	}}
	deps := newStageDeps(t, analyzer, sim)

	run := &types.LearningRun{ID: "run-8", Bucket: 4, TargetWeight: 200}
	if res := NewFineTimeStage(deps).Execute(context.Background(), run); !res.Success {
		t.Fatalf("阶段应成功: %v", res.Error)
	}
	// 未计算提前量时恢复测定前的寄存器值
	if got := sim.port.Register(plc.CoarseAdvanceReg(4)); got != 98 {
		t.Errorf("提前量寄存器应恢复为 98, 得到 %d", got)
	}
}

func TestRunCycleOnceContextCancelled(t *testing.T) {
	// 周期远长于取消时间
	sim := &plcSimulator{port: plc.NewMemoryPort(), cycle: 5 * time.Second}
	analyzer := &scriptedAnalyzer{}
	deps := newStageDeps(t, analyzer, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := deps.runCycleOnce(ctx, 6, monitor.ModeStandard)
	if err == nil {
		t.Fatal("上下文取消应中断周期")
	}
	// 中断后料斗应已被停止
	if sim.port.Coil(plc.StartCoil(6)) {
		t.Error("中断后启动线圈应为假")
	}
}
