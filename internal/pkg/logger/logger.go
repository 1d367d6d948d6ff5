// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// 全局基础 Logger。各服务在启动时调用 Init 注入服务名。
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局日志器，service 字段会附加到每条日志上。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// L 返回全局基础 Logger。
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回一个绑定了链路追踪信息的 Logger。
// 如果上下文中存在有效的 Span，日志会自动携带 trace_id / span_id，
// 便于在 Jaeger 和日志系统之间互相跳转。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}
