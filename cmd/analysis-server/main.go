package main

import (
	"log/slog"
	"net/http"
	"os"

	"smart-weigher/internal/analysis"
)

// main 是边界条件分析服务的入口
// 四个分析端点都是纯函数计算，服务本身无状态，可以水平扩展
func main() {
	port := os.Getenv("ANALYSIS_ADDR")
	if port == "" {
		port = ":9090"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "analysis-server")
	slog.SetDefault(logger)

	logger.Info("=== 边界条件分析服务启动 ===", "addr", port)

	handler := analysis.NewHandler(logger)
	if err := http.ListenAndServe(port, handler); err != nil {
		logger.Error("服务启动失败", "error", err)
	}
}
