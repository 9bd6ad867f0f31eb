package logger

import "context"

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	loggerKey        contextKey = "vmstate.logger"
	transactionIDKey contextKey = "vmstate.tx_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithTransactionID adds a transaction ID to the context.
func WithTransactionID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, transactionIDKey, txID)
}

// TransactionIDFromContext extracts the transaction ID from context.
func TransactionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(transactionIDKey).(string); ok {
		return id
	}
	return ""
}

// L is a shorthand for FromContext(ctx).WithContext(ctx).
func L(ctx context.Context) Logger {
	return FromContext(ctx).WithContext(ctx)
}
