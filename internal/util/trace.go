package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// contextKey 是私有类型，避免与其他包的 context key 冲突
type contextKey string

const traceIDKey contextKey = "traceID"

// NewTraceID 生成随机 Trace ID
// 学习任务从提交到分析服务调用共用同一个 ID，串起一次学习的全部日志
func NewTraceID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// 随机数源失败时退回固定串，日志仍可定位
		return "failed-to-generate-trace-id"
	}
	return hex.EncodeToString(bytes)
}

// ContextWithTraceID 把 Trace ID 注入 Context
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext 从 Context 中提取 Trace ID
func TraceIDFromContext(ctx context.Context) (string, bool) {
	traceID, ok := ctx.Value(traceIDKey).(string)
	return traceID, ok
}
