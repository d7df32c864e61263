// Package logging wraps zap with the field vocabulary shared by all
// services, so log lines stay queryable across order, payment and
// inventory flows.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a service-scoped structured logger.
type Logger struct {
	zl      *zap.Logger
	service string
}

// New builds the production JSON logger for a service.
func New(service string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zl, err := cfg.Build(zap.Fields(zap.String("service", service)))
	if err != nil {
		return nil, err
	}
	return &Logger{zl: zl, service: service}, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// Fields carries the cross-service log vocabulary. Zero values are omitted.
type Fields struct {
	OrderID    string
	PaymentID  string
	ItemID     string
	EventID    string
	Step       string
	Status     string
	DurationMS int64
	Err        error
}

func (f Fields) zap() []zap.Field {
	out := make([]zap.Field, 0, 8)
	if f.OrderID != "" {
		out = append(out, zap.String("order_id", f.OrderID))
	}
	if f.PaymentID != "" {
		out = append(out, zap.String("payment_id", f.PaymentID))
	}
	if f.ItemID != "" {
		out = append(out, zap.String("item_id", f.ItemID))
	}
	if f.EventID != "" {
		out = append(out, zap.String("event_id", f.EventID))
	}
	if f.Step != "" {
		out = append(out, zap.String("step", f.Step))
	}
	if f.Status != "" {
		out = append(out, zap.String("status", f.Status))
	}
	if f.DurationMS != 0 {
		out = append(out, zap.Int64("duration_ms", f.DurationMS))
	}
	if f.Err != nil {
		out = append(out, zap.Error(f.Err))
	}
	return out
}

func (l *Logger) Info(msg string, f Fields)  { l.zl.Info(msg, f.zap()...) }
func (l *Logger) Warn(msg string, f Fields)  { l.zl.Warn(msg, f.zap()...) }
func (l *Logger) Error(msg string, f Fields) { l.zl.Error(msg, f.zap()...) }
func (l *Logger) Debug(msg string, f Fields) { l.zl.Debug(msg, f.zap()...) }

// Since converts an operation start time into the duration field.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Sync flushes buffered log entries. Called on shutdown.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}
