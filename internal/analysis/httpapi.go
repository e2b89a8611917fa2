package analysis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// 分析服务的 REST 边界
// 所有数值字段在进入核心逻辑前做范围校验，校验失败返回 422，
// 携带字段名与错误消息

// CoarseTimeRequest /coarse_time/analyze 请求体
type CoarseTimeRequest struct {
	TargetWeight       float64 `json:"target_weight"`
	CoarseTimeMs       int     `json:"coarse_time_ms"`
	CurrentCoarseSpeed int     `json:"current_coarse_speed"`
}

// CoarseTimeResponse /coarse_time/analyze 响应体
type CoarseTimeResponse struct {
	IsCompliant     bool    `json:"is_compliant"`
	NewCoarseSpeed  *int    `json:"new_coarse_speed,omitempty"`
	Message         string  `json:"message"`
	StandardCycleMs int     `json:"standard_total_cycle_ms"`
	CoarseTimeRatio float64 `json:"coarse_time_ratio"`
	MinCoarseTimeMs float64 `json:"min_coarse_time_ms"`
	MaxCoarseTimeMs float64 `json:"max_coarse_time_ms"`
}

// FlightMaterialRequest /flight_material/analyze 请求体
type FlightMaterialRequest struct {
	TargetWeight    float64   `json:"target_weight"`
	RecordedWeights []float64 `json:"recorded_weights"`
}

// FlightMaterialResponse /flight_material/analyze 响应体
type FlightMaterialResponse struct {
	AverageFlightMaterial float64   `json:"average_flight_material"`
	FlightMaterialDetails []float64 `json:"flight_material_details"`
	Min                   float64   `json:"min"`
	Max                   float64   `json:"max"`
	Variance              float64   `json:"variance"`
	StandardDeviation     float64   `json:"standard_deviation"`
	Message               string    `json:"message"`
}

// FineTimeRequest /fine_time/analyze 请求体
type FineTimeRequest struct {
	TargetWeight         float64 `json:"target_weight"`
	FineTimeMs           int     `json:"fine_time_ms"`
	CurrentFineSpeed     int     `json:"current_fine_speed"`
	OriginalTargetWeight float64 `json:"original_target_weight"`
	FlightMaterialValue  float64 `json:"flight_material_value"`
}

// FineTimeResponse /fine_time/analyze 响应体
type FineTimeResponse struct {
	IsCompliant   bool     `json:"is_compliant"`
	NewFineSpeed  *int     `json:"new_fine_speed,omitempty"`
	CoarseAdvance *float64 `json:"coarse_advance,omitempty"`
	FineFlowRate  float64  `json:"fine_flow_rate"`
	Message       string   `json:"message"`
}

// AdaptiveRequest /adaptive_learning/analyze 请求体
type AdaptiveRequest struct {
	TargetWeight         float64  `json:"target_weight"`
	ActualTotalCycleMs   int      `json:"actual_total_cycle_ms"`
	ActualCoarseTimeMs   int      `json:"actual_coarse_time_ms"`
	ErrorValue           float64  `json:"error_value"`
	CurrentCoarseAdvance float64  `json:"current_coarse_advance"`
	CurrentFallValue     float64  `json:"current_fall_value"`
	FineFlowRate         *float64 `json:"fine_flow_rate,omitempty"`
}

// AdaptiveResponse /adaptive_learning/analyze 响应体
type AdaptiveResponse struct {
	IsCompliant          bool               `json:"is_compliant"`
	AdjustmentParameters map[string]float64 `json:"adjustment_parameters,omitempty"`
	Message              string             `json:"message"`
}

// validationError 422 响应体
type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// 校验边界：重量 0-2000g，时间不超过 60s，速度 1-100 档
const (
	maxWeightG  = 2000.0
	maxTimeMs   = 60000
	maxSpeedVal = 100
)

func validateWeight(field string, v float64) *validationError {
	if v < 0 || v > maxWeightG {
		return &validationError{Field: field, Message: fmt.Sprintf("重量 %.1fg 超出范围 [0, %.0f]g", v, maxWeightG)}
	}
	return nil
}

func validateTime(field string, v int) *validationError {
	if v <= 0 || v > maxTimeMs {
		return &validationError{Field: field, Message: fmt.Sprintf("时间 %dms 超出范围 (0, %d]ms", v, maxTimeMs)}
	}
	return nil
}

func validateSpeed(field string, v int) *validationError {
	if v < 1 || v > maxSpeedVal {
		return &validationError{Field: field, Message: fmt.Sprintf("速度 %d 超出范围 [1, %d]", v, maxSpeedVal)}
	}
	return nil
}

// NewHandler 构建分析服务的 HTTP 处理器
func NewHandler(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/coarse_time/analyze", func(w http.ResponseWriter, r *http.Request) {
		reqLogger := requestLogger(logger, r)
		var req CoarseTimeRequest
		if !decode(w, r, &req, reqLogger) {
			return
		}
		for _, ve := range []*validationError{
			validateWeight("target_weight", req.TargetWeight),
			validateTime("coarse_time_ms", req.CoarseTimeMs),
			validateSpeed("current_coarse_speed", req.CurrentCoarseSpeed),
		} {
			if ve != nil {
				unprocessable(w, ve)
				return
			}
		}

		res := AnalyzeCoarseTime(req.TargetWeight, req.CoarseTimeMs, req.CurrentCoarseSpeed)
		resp := CoarseTimeResponse{
			IsCompliant:     res.Compliant,
			Message:         res.Message,
			StandardCycleMs: res.StandardCycleMs,
			CoarseTimeRatio: res.Ratio,
			MinCoarseTimeMs: res.MinTimeMs,
			MaxCoarseTimeMs: res.MaxTimeMs,
		}
		if res.HasNewSpeed {
			resp.NewCoarseSpeed = &res.NewSpeed
		}
		reqLogger.Info("快加时间分析完成", "compliant", res.Compliant)
		writeJSON(w, resp)
	})

	mux.HandleFunc("/flight_material/analyze", func(w http.ResponseWriter, r *http.Request) {
		reqLogger := requestLogger(logger, r)
		var req FlightMaterialRequest
		if !decode(w, r, &req, reqLogger) {
			return
		}
		if ve := validateWeight("target_weight", req.TargetWeight); ve != nil {
			unprocessable(w, ve)
			return
		}
		for i, v := range req.RecordedWeights {
			if ve := validateWeight(fmt.Sprintf("recorded_weights[%d]", i), v); ve != nil {
				unprocessable(w, ve)
				return
			}
		}

		res, err := AnalyzeFlightMaterial(req.TargetWeight, req.RecordedWeights)
		if err != nil {
			unprocessable(w, &validationError{Field: "recorded_weights", Message: err.Error()})
			return
		}
		reqLogger.Info("飞料值分析完成", "average", res.Average)
		writeJSON(w, FlightMaterialResponse{
			AverageFlightMaterial: res.Average,
			FlightMaterialDetails: res.Values,
			Min:                   res.Min,
			Max:                   res.Max,
			Variance:              res.Variance,
			StandardDeviation:     res.StdDev,
			Message:               res.Message,
		})
	})

	mux.HandleFunc("/fine_time/analyze", func(w http.ResponseWriter, r *http.Request) {
		reqLogger := requestLogger(logger, r)
		var req FineTimeRequest
		if !decode(w, r, &req, reqLogger) {
			return
		}
		for _, ve := range []*validationError{
			validateWeight("target_weight", req.TargetWeight),
			validateTime("fine_time_ms", req.FineTimeMs),
			validateSpeed("current_fine_speed", req.CurrentFineSpeed),
			validateWeight("original_target_weight", req.OriginalTargetWeight),
		} {
			if ve != nil {
				unprocessable(w, ve)
				return
			}
		}

		res := AnalyzeFineTime(req.TargetWeight, req.FineTimeMs, req.CurrentFineSpeed,
			req.OriginalTargetWeight, req.FlightMaterialValue)
		resp := FineTimeResponse{
			IsCompliant:  res.Compliant,
			FineFlowRate: res.FlowRate,
			Message:      res.Message,
		}
		if res.HasNewSpeed {
			resp.NewFineSpeed = &res.NewSpeed
		}
		if res.HasCoarseAdvance {
			resp.CoarseAdvance = &res.CoarseAdvance
		}
		reqLogger.Info("慢加时间分析完成", "compliant", res.Compliant, "flow_rate", res.FlowRate)
		writeJSON(w, resp)
	})

	mux.HandleFunc("/adaptive_learning/analyze", func(w http.ResponseWriter, r *http.Request) {
		reqLogger := requestLogger(logger, r)
		var req AdaptiveRequest
		if !decode(w, r, &req, reqLogger) {
			return
		}
		for _, ve := range []*validationError{
			validateWeight("target_weight", req.TargetWeight),
			validateTime("actual_total_cycle_ms", req.ActualTotalCycleMs),
			validateTime("actual_coarse_time_ms", req.ActualCoarseTimeMs),
		} {
			if ve != nil {
				unprocessable(w, ve)
				return
			}
		}

		in := AdaptiveInput{
			TargetWeight:         req.TargetWeight,
			ActualTotalCycleMs:   req.ActualTotalCycleMs,
			ActualCoarseTimeMs:   req.ActualCoarseTimeMs,
			ErrorValue:           req.ErrorValue,
			CurrentCoarseAdvance: req.CurrentCoarseAdvance,
			CurrentFallValue:     req.CurrentFallValue,
		}
		if req.FineFlowRate != nil {
			in.FineFlowRate = *req.FineFlowRate
		}
		res := AnalyzeAdaptive(in)

		resp := AdaptiveResponse{IsCompliant: res.Compliant, Message: res.Message}
		if !res.Adjustment.Empty() {
			resp.AdjustmentParameters = make(map[string]float64)
			if res.Adjustment.CoarseAdvance != nil {
				resp.AdjustmentParameters["coarse_advance"] = *res.Adjustment.CoarseAdvance
			}
			if res.Adjustment.FallValue != nil {
				resp.AdjustmentParameters["fall_value"] = *res.Adjustment.FallValue
			}
		}
		reqLogger.Info("自适应学习分析完成", "compliant", res.Compliant)
		writeJSON(w, resp)
	})

	return mux
}

// requestLogger 从 HTTP Header 中提取 Trace ID，实现跨服务追踪
func requestLogger(logger *slog.Logger, r *http.Request) *slog.Logger {
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		return logger.With("trace_id", traceID)
	}
	return logger
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}, logger *slog.Logger) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Warn("解析分析请求失败", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func unprocessable(w http.ResponseWriter, ve *validationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(ve)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
