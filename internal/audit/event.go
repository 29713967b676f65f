package audit

import (
	"context"
	"time"
)

// AuthEvent — одна запись журнала аутентификации.
type AuthEvent struct {
	ID       string `json:"id"`       // UUID события
	TraceID  string `json:"trace_id"` // Сквозной ID запроса
	Channel  string `json:"channel"`  // http, grpc, login
	Resource string `json:"resource"` // "GET /auth/check" или полное имя gRPC метода
	Subject  string `json:"subject"`  // Кто (sub из токена или логин)
	TokenID  string `json:"token_id"` // jti

	// Результат
	Outcome    string    `json:"outcome"` // valid, expired, invalid, missing, denied, unavailable, issued...
	Status     int       `json:"status"`  // HTTP статус ответа
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// WithTraceID кладет Trace-ID в контекст, чтобы события аудита можно было связать с запросом.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext безопасно достает ID в любом месте кода
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
