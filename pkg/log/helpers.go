package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// SlowRequestThresholdMs is the duration above which RequestWithContext also
// emits a slow-request warning.
const SlowRequestThresholdMs = 1000

// LogHelper 扩展 Kratos log.Helper，提供便捷的日志方法
// 通过在日志调用时自动添加 "type" 字段，触发 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func typed(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// Registry 记录注册表变更日志（表情符号: 📇）
func (h *LogHelper) Registry(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "registry", kvs)...)
}

// Probe 记录健康检查日志（表情符号: 🩺）
func (h *LogHelper) Probe(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "probe", kvs)...)
}

// Breaker 记录熔断器状态变化日志（表情符号: 🔌）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "breaker", kvs)...)
}

// Route 记录路由决策日志（表情符号: 🚪）
func (h *LogHelper) Route(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "route", kvs)...)
}

// Discovery 记录服务发现同步日志（表情符号: 📦）
func (h *LogHelper) Discovery(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "discovery", kvs)...)
}

// Startup 记录启动相关日志（表情符号: 🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "startup", kvs)...)
}

// Audit 记录审计日志（表情符号: 📋）
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "audit", kvs)...)
}

// SlowRequest 记录慢请求警告（表情符号: 🐌）
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)

	allKvs := append(kvs,
		"request_id", reqCtx.RequestID,
		"target_service", reqCtx.Service,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
	)
	h.Warnw(typed(msg, "slow_request", allKvs)...)
}

// RequestWithContext 记录带 Context 的 HTTP 请求日志
// 自动从 Context 提取 Request ID 和路由结果并检测慢请求
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)

	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s",
		method, url, status, durationMs, reqCtx.RequestID)

	allKvs := append(kvs,
		"request_id", reqCtx.RequestID,
		"target_service", reqCtx.Service,
		"instance_id", reqCtx.InstanceID,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(typed(msg, "request", allKvs)...)

	if durationMs > SlowRequestThresholdMs {
		h.SlowRequest(ctx, method, url, durationMs, SlowRequestThresholdMs)
	}
}
