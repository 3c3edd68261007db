// Package logger provides structured logging for the queue components.
package logger

import "context"

// Logger is the structured logging interface used throughout the
// module. Every method takes a message followed by key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger whose entries always carry the given
	// key-value pairs.
	With(args ...any) Logger

	// WithContext returns a child logger carrying fields previously
	// attached to the context with ContextWithFields.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{}

// ContextWithFields attaches key-value pairs to the context for
// WithContext to pick up.
func ContextWithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	existing, _ := ctx.Value(contextKey{}).([]any)
	combined := make([]any, 0, len(existing)+len(args))
	combined = append(combined, existing...)
	combined = append(combined, args...)
	return context.WithValue(ctx, contextKey{}, combined)
}

func fieldsFromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(contextKey{}).([]any)
	return fields
}

// Nop is a Logger that discards everything. Useful as a default in
// tests and optional dependencies.
type Nop struct{}

func (Nop) Debug(string, ...any)                 {}
func (Nop) Info(string, ...any)                  {}
func (Nop) Warn(string, ...any)                  {}
func (Nop) Error(string, ...any)                 {}
func (n Nop) With(...any) Logger                 { return n }
func (n Nop) WithContext(context.Context) Logger { return n }
