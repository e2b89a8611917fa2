package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart-weigher/internal/analysis"
	"smart-weigher/internal/config"
	"smart-weigher/internal/event"
	"smart-weigher/internal/handlers"
	"smart-weigher/internal/learning"
	"smart-weigher/internal/monitor"
	"smart-weigher/internal/persistence"
	"smart-weigher/internal/plc"
	"smart-weigher/internal/tracker"
	"smart-weigher/internal/types"
	"smart-weigher/internal/web"
)

// main 是学习服务的主入口
func main() {
	// 1. 初始化核心组件
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("加载配置失败", "error", err)
		os.Exit(1)
	}

	hub := web.NewHub()
	go hub.Run()
	stateTracker := web.NewStateTracker(hub)

	eventBus := event.NewBus()
	bucketTracker := tracker.NewTracker(logger)

	wal, err := persistence.NewWAL(cfg.WALPath)
	if err != nil {
		logger.Error("无法初始化 WAL", "error", err)
		os.Exit(1)
	}
	defer wal.Close()

	store, err := persistence.OpenStore(cfg.DBPath)
	if err != nil {
		logger.Error("无法打开结果数据库", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 2. 连接 PLC
	port := plc.NewModbusPort(cfg.PLC.Address, byte(cfg.PLC.SlaveID),
		time.Duration(cfg.PLC.TimeoutMs)*time.Millisecond, logger)
	if err := port.Connect(); err != nil {
		logger.Error("连接 PLC 失败", "error", err, "address", cfg.PLC.Address)
		os.Exit(1)
	}
	defer port.Close()

	ops := plc.NewOps(port, plc.Timings{
		MutexSettle:      time.Duration(cfg.Timing.MutexSettleMs) * time.Millisecond,
		DischargePulse:   time.Duration(cfg.Timing.DischargePulseMs) * time.Millisecond,
		StopDischargeGap: time.Duration(cfg.Timing.StopDischargeMs) * time.Millisecond,
		GlobalStepGap:    time.Duration(cfg.Timing.GlobalStepMs) * time.Millisecond,
	}, logger)

	// 3. 注册事件处理器
	handlers.RegisterEventHandlers(eventBus, bucketTracker, stateTracker, logger)

	// 4. 启动监测服务
	mon := monitor.NewMonitor(port, eventBus, monitor.Config{
		PollInterval:     time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		IdlePollInterval: time.Duration(cfg.IdleIntervalMs) * time.Millisecond,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	// 5. 初始化引擎和调度器
	var analyzer analysis.Analyzer
	if cfg.AnalysisEndpoint != "" {
		analyzer = analysis.NewRemoteAnalyzer(cfg.AnalysisEndpoint, logger)
		logger.Info("使用远端分析服务", "endpoint", cfg.AnalysisEndpoint)
	} else {
		analyzer = analysis.NewLocalAnalyzer()
		logger.Info("使用本地分析")
	}

	deps := &learning.Deps{
		Ops:         ops,
		Monitor:     mon,
		Analyzer:    analyzer,
		Recorder:    store,
		Logger:      logger,
		MaxAttempts: cfg.MaxAttempts,
		SettleDelay: time.Duration(cfg.Timing.ParamWriteGapMs) * time.Millisecond,
	}

	engine := learning.NewEngine(cfg.Programs, bucketTracker, store, logger, eventBus)
	engine.RegisterStage(learning.NewCoarseTimeStage(deps))
	engine.RegisterStage(learning.NewFlightMaterialStage(deps))
	engine.RegisterStage(learning.NewFineTimeStage(deps))
	engine.RegisterStage(learning.NewAdaptiveStage(deps, learning.NewPLCCycleRunner(deps), learning.AdaptiveParams{
		MaxRounds:         cfg.Adaptive.MaxRounds,
		AttemptsPerRound:  cfg.Adaptive.AttemptsPerRound,
		RequiredSuccesses: cfg.Adaptive.RequiredSuccesses,
		WriteGap:          time.Duration(cfg.Timing.ParamWriteGapMs) * time.Millisecond,
		RetryGap:          time.Duration(cfg.Timing.AdaptiveRetryGapMs) * time.Millisecond,
	}))

	scheduler := learning.NewScheduler(engine, cfg.MaxWorkers, wal, eventBus, logger)

	// 6. 恢复和启动
	if err := scheduler.RecoverRuns(); err != nil {
		logger.Warn("从 WAL 恢复任务失败", "error", err)
	}

	logger.Info("=== 智能称重学习系统启动 ===", "listen", cfg.ListenAddr)

	go scheduler.Start(ctx)
	go startAPIServer(ctx, cfg.ListenAddr, scheduler, ops, hub, stateTracker, bucketTracker, store, logger)

	// 7. 优雅停机
	waitForShutdown(logger, cancel, scheduler)
}

// runRequest 定义了提交学习任务的请求体
type runRequest struct {
	Bucket       int     `json:"bucket"`
	TargetWeight float64 `json:"target_weight"`
	Program      string  `json:"program"`
	Priority     int     `json:"priority"`
	FallValue    float64 `json:"fall_value,omitempty"`
}

// startAPIServer 启动 API 和 Web 服务器
func startAPIServer(ctx context.Context, addr string, scheduler *learning.Scheduler, ops *plc.Ops, hub *web.Hub, st *web.StateTracker, tr *tracker.Tracker, store *persistence.Store, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st.GetStateSnapshot())
	})
	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("解析任务请求失败", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bucket := types.BucketID(req.Bucket)
		if !bucket.Valid() {
			http.Error(w, "无效的料斗编号", http.StatusUnprocessableEntity)
			return
		}
		if req.TargetWeight <= 0 || req.TargetWeight > 2000 {
			http.Error(w, "目标重量超出范围 (0, 2000]g", http.StatusUnprocessableEntity)
			return
		}
		if req.Program == "" {
			req.Program = "standard"
		}
		run := &types.LearningRun{
			Bucket:       bucket,
			TargetWeight: req.TargetWeight,
			Program:      req.Program,
			Priority:     req.Priority,
			FallValue:    req.FallValue,
		}
		if !scheduler.SubmitRun(run) {
			http.Error(w, "该料斗已有排队或进行中的学习任务", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "id": run.ID})
	})
	mux.HandleFunc("/api/clean", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		// 清料以重量稳定判定结束，后台执行
		go func() {
			if err := ops.RunGlobalClean(ctx, plc.DefaultCleanParams()); err != nil {
				logger.Error("整机清料失败", "error", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "cleaning"})
	})
	mux.HandleFunc("/api/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tr.ResetAll()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/parameters/", func(w http.ResponseWriter, r *http.Request) {
		var bucket int
		if _, err := fmt.Sscanf(r.URL.Path, "/api/parameters/%d", &bucket); err != nil {
			http.Error(w, "无效的料斗编号", http.StatusBadRequest)
			return
		}
		params, err := store.LatestParameters(r.Context(), types.BucketID(bucket))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(params)
	})

	fs := http.FileServer(http.Dir("./web/static"))
	mux.Handle("/", fs)

	logger.Info("API 和前端服务器启动", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("API 服务器启动失败", "error", err)
	}
}

// waitForShutdown 等待系统信号以实现优雅停机
func waitForShutdown(logger *slog.Logger, cancel context.CancelFunc, scheduler *learning.Scheduler) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("接收到停机信号，正在优雅关闭...")
	cancel()
	scheduler.WaitForCompletion()
	logger.Info("学习服务已安全退出。")
}
