package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey - приватный тип ключей контекста, исключает коллизии с другими пакетами.
type ctxKey string

const (
	traceIDKey       ctxKey = "trace_id"
	correlationIDKey ctxKey = "correlation_id"
	orderIDKey       ctxKey = "order_id"
	intentIDKey      ctxKey = "intent_id"
	loggerKey        ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста ("" если нет).
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithCorrelationID добавляет correlation_id в контекст.
// Для платежей correlation_id обычно совпадает с ID события процессора.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
func CorrelationIDFromContext(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// WithPaymentFields привязывает к контексту заказ и платёжное намерение.
// Все логи, полученные через FromContext, будут содержать order_id и intent_id.
// Пустые значения пропускаются.
//
//	ctx = logger.WithPaymentFields(ctx, 42, "pi_123")
func WithPaymentFields(ctx context.Context, orderID int64, intentID string) context.Context {
	if orderID > 0 {
		ctx = context.WithValue(ctx, orderIDKey, orderID)
	}
	if intentID != "" {
		ctx = context.WithValue(ctx, intentIDKey, intentID)
	}
	return ctx
}

// WithLogger кладёт настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный),
// обогащённый trace_id, correlation_id, order_id и intent_id.
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = log
	}

	lctx := l.With()
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		lctx = lctx.Str("trace_id", traceID)
	}
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		lctx = lctx.Str("correlation_id", correlationID)
	}
	if orderID, ok := ctx.Value(orderIDKey).(int64); ok {
		lctx = lctx.Int64("order_id", orderID)
	}
	if intentID, ok := ctx.Value(intentIDKey).(string); ok {
		lctx = lctx.Str("intent_id", intentID)
	}

	return lctx.Logger()
}

// Ctx возвращает указатель на логгер из контекста.
//
//	log := logger.Ctx(ctx)
//	log.Info().Msg("Сообщение")
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs добавляет trace_id и correlation_id, пропуская пустые.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
