package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	server := httptest.NewServer(NewHandler(logger))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCoarseTimeEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/coarse_time/analyze", CoarseTimeRequest{
		TargetWeight:       200,
		CoarseTimeMs:       5200,
		CurrentCoarseSpeed: 75,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("预期状态码 200, 得到 %d", resp.StatusCode)
	}

	var out CoarseTimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if out.IsCompliant {
		t.Error("5200ms 不应合规")
	}
	if out.NewCoarseSpeed == nil || *out.NewCoarseSpeed != 77 {
		t.Errorf("预期新速度 77, 得到 %+v", out.NewCoarseSpeed)
	}
	if out.StandardCycleMs != 9000 {
		t.Errorf("标准周期预期 9000, 得到 %d", out.StandardCycleMs)
	}
}

// 范围外的输入在到达分析逻辑之前被拒绝，返回 422 与字段名
func TestValidationRejects(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name string
		path string
		body interface{}
	}{
		{"负重量", "/coarse_time/analyze", CoarseTimeRequest{TargetWeight: -5, CoarseTimeMs: 3000, CurrentCoarseSpeed: 75}},
		{"超重", "/coarse_time/analyze", CoarseTimeRequest{TargetWeight: 2500, CoarseTimeMs: 3000, CurrentCoarseSpeed: 75}},
		{"零时间", "/coarse_time/analyze", CoarseTimeRequest{TargetWeight: 200, CoarseTimeMs: 0, CurrentCoarseSpeed: 75}},
		{"速度越界", "/coarse_time/analyze", CoarseTimeRequest{TargetWeight: 200, CoarseTimeMs: 3000, CurrentCoarseSpeed: 101}},
		{"慢加速度越界", "/fine_time/analyze", FineTimeRequest{TargetWeight: 6, FineTimeMs: 12000, CurrentFineSpeed: 0, OriginalTargetWeight: 200}},
		{"采样超重", "/flight_material/analyze", FlightMaterialRequest{TargetWeight: 200, RecordedWeights: []float64{201, 5000, 203}}},
	}
	for _, c := range cases {
		resp := postJSON(t, server.URL+c.path, c.body)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("%s: 预期状态码 422, 得到 %d", c.name, resp.StatusCode)
			continue
		}
		var ve validationError
		if err := json.NewDecoder(resp.Body).Decode(&ve); err != nil {
			t.Errorf("%s: 解析 422 响应失败: %v", c.name, err)
			continue
		}
		if ve.Field == "" || ve.Message == "" {
			t.Errorf("%s: 422 响应必须携带字段名和消息: %+v", c.name, ve)
		}
	}
}

func TestFlightMaterialWrongArityRejected(t *testing.T) {
	server := newTestServer(t)
	resp := postJSON(t, server.URL+"/flight_material/analyze", FlightMaterialRequest{
		TargetWeight:    200,
		RecordedWeights: []float64{201, 202},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("预期状态码 422, 得到 %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/coarse_time/analyze")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("预期状态码 405, 得到 %d", resp.StatusCode)
	}
}

// RemoteAnalyzer 通过 HTTP 调用分析服务，结果应与本地分析一致
func TestRemoteAnalyzerRoundTrip(t *testing.T) {
	server := newTestServer(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	remote := NewRemoteAnalyzer(server.URL, logger)
	ctx := context.Background()

	coarse, err := remote.CoarseTime(ctx, 200, 3000, 75)
	if err != nil {
		t.Fatalf("远程快加分析失败: %v", err)
	}
	if !coarse.Compliant {
		t.Errorf("3000ms 应当合规: %s", coarse.Message)
	}

	flight, err := remote.FlightMaterial(ctx, 200, []float64{201, 202, 203})
	if err != nil {
		t.Fatalf("远程飞料分析失败: %v", err)
	}
	if flight.Average != 2.0 {
		t.Errorf("平均飞料值预期 2.0, 得到 %v", flight.Average)
	}

	fine, err := remote.FineTime(ctx, FineTestWeight, 12000, 50, 200, 2.0)
	if err != nil {
		t.Fatalf("远程慢加分析失败: %v", err)
	}
	if !fine.Compliant || !fine.HasCoarseAdvance {
		t.Errorf("慢加分析结果异常: %+v", fine)
	}

	adaptive, err := remote.Adaptive(ctx, AdaptiveInput{
		TargetWeight:         200,
		ActualTotalCycleMs:   8500,
		ActualCoarseTimeMs:   3000,
		ErrorValue:           0.3,
		CurrentCoarseAdvance: 14.7,
		CurrentFallValue:     0.5,
		FineFlowRate:         0.5,
	})
	if err != nil {
		t.Fatalf("远程自适应分析失败: %v", err)
	}
	if !adaptive.Compliant || !adaptive.Adjustment.Empty() {
		t.Errorf("自适应分析结果异常: %+v", adaptive)
	}

	// 422 响应应转化为调用方错误
	if _, err := remote.CoarseTime(ctx, -5, 3000, 75); err == nil {
		t.Error("422 响应应返回错误")
	}
}
