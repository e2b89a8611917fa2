package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"smart-weigher/internal/util"
)

// RemoteAnalyzer 通过 HTTP 调用远端分析服务，实现 Analyzer 接口
// 请求会携带 X-Trace-ID 头，便于跨服务追踪
type RemoteAnalyzer struct {
	Endpoint string
	Client   *http.Client
	logger   *slog.Logger
}

func NewRemoteAnalyzer(endpoint string, logger *slog.Logger) *RemoteAnalyzer {
	return &RemoteAnalyzer{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "remote_analyzer"),
	}
}

func (a *RemoteAnalyzer) CoarseTime(ctx context.Context, targetWeight float64, coarseTimeMs, currentSpeed int) (CoarseTimeResult, error) {
	req := CoarseTimeRequest{
		TargetWeight:       targetWeight,
		CoarseTimeMs:       coarseTimeMs,
		CurrentCoarseSpeed: currentSpeed,
	}
	var resp CoarseTimeResponse
	if err := a.post(ctx, "/coarse_time/analyze", req, &resp); err != nil {
		return CoarseTimeResult{}, err
	}
	res := CoarseTimeResult{
		Compliant:       resp.IsCompliant,
		Message:         resp.Message,
		StandardCycleMs: resp.StandardCycleMs,
		Ratio:           resp.CoarseTimeRatio,
		MinTimeMs:       resp.MinCoarseTimeMs,
		MaxTimeMs:       resp.MaxCoarseTimeMs,
	}
	if resp.NewCoarseSpeed != nil {
		res.HasNewSpeed = true
		res.NewSpeed = *resp.NewCoarseSpeed
	}
	return res, nil
}

func (a *RemoteAnalyzer) FlightMaterial(ctx context.Context, targetWeight float64, readings []float64) (FlightMaterialResult, error) {
	req := FlightMaterialRequest{
		TargetWeight:    targetWeight,
		RecordedWeights: readings,
	}
	var resp FlightMaterialResponse
	if err := a.post(ctx, "/flight_material/analyze", req, &resp); err != nil {
		return FlightMaterialResult{}, err
	}
	return FlightMaterialResult{
		Values:   resp.FlightMaterialDetails,
		Average:  resp.AverageFlightMaterial,
		Min:      resp.Min,
		Max:      resp.Max,
		Variance: resp.Variance,
		StdDev:   resp.StandardDeviation,
		Message:  resp.Message,
	}, nil
}

func (a *RemoteAnalyzer) FineTime(ctx context.Context, testWeight float64, fineTimeMs, currentFineSpeed int, originalTargetWeight, flightMaterial float64) (FineTimeResult, error) {
	req := FineTimeRequest{
		TargetWeight:         testWeight,
		FineTimeMs:           fineTimeMs,
		CurrentFineSpeed:     currentFineSpeed,
		OriginalTargetWeight: originalTargetWeight,
		FlightMaterialValue:  flightMaterial,
	}
	var resp FineTimeResponse
	if err := a.post(ctx, "/fine_time/analyze", req, &resp); err != nil {
		return FineTimeResult{}, err
	}
	res := FineTimeResult{
		Compliant: resp.IsCompliant,
		FlowRate:  resp.FineFlowRate,
		Message:   resp.Message,
	}
	if resp.NewFineSpeed != nil {
		res.HasNewSpeed = true
		res.NewSpeed = *resp.NewFineSpeed
	}
	if resp.CoarseAdvance != nil {
		res.HasCoarseAdvance = true
		res.CoarseAdvance = *resp.CoarseAdvance
	}
	return res, nil
}

func (a *RemoteAnalyzer) Adaptive(ctx context.Context, in AdaptiveInput) (AdaptiveResult, error) {
	req := AdaptiveRequest{
		TargetWeight:         in.TargetWeight,
		ActualTotalCycleMs:   in.ActualTotalCycleMs,
		ActualCoarseTimeMs:   in.ActualCoarseTimeMs,
		ErrorValue:           in.ErrorValue,
		CurrentCoarseAdvance: in.CurrentCoarseAdvance,
		CurrentFallValue:     in.CurrentFallValue,
	}
	if in.FineFlowRate > 0 {
		req.FineFlowRate = &in.FineFlowRate
	}
	var resp AdaptiveResponse
	if err := a.post(ctx, "/adaptive_learning/analyze", req, &resp); err != nil {
		return AdaptiveResult{}, err
	}
	res := AdaptiveResult{
		Compliant: resp.IsCompliant,
		Message:   resp.Message,
	}
	if v, ok := resp.AdjustmentParameters["coarse_advance"]; ok {
		ca := v
		res.Adjustment.CoarseAdvance = &ca
	}
	if v, ok := resp.AdjustmentParameters["fall_value"]; ok {
		fv := v
		res.Adjustment.FallValue = &fv
	}
	return res, nil
}

func (a *RemoteAnalyzer) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("序列化分析请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建分析请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		httpReq.Header.Set("X-Trace-ID", traceID)
	}

	start := time.Now()
	httpResp, err := a.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("调用分析服务失败: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		a.logger.Error("分析服务返回异常状态",
			"path", path, "status", httpResp.StatusCode, "body", string(body))
		return fmt.Errorf("分析服务返回异常状态 %d: %s", httpResp.StatusCode, string(body))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("解析分析响应失败: %w", err)
	}
	a.logger.Debug("分析调用完成", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
