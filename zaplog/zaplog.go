// Package zaplog adapts go.uber.org/zap to the ledgerkit Logger interface.
package zaplog

import (
	"go.uber.org/zap"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

// Logger wraps a zap.SugaredLogger as a ledgerkit.Logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps an existing zap logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{sugar: logger.Sugar()}
}

// NewDevelopment creates a logger with zap's development configuration.
func NewDevelopment() (*Logger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return New(logger), nil
}

// NewProduction creates a logger with zap's production configuration.
func NewProduction() (*Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(logger), nil
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.sugar.Debugw(msg, args...)
}

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.sugar.Infow(msg, args...)
}

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.sugar.Warnw(msg, args...)
}

// Error logs at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.sugar.Errorw(msg, args...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

var _ ledgerkit.Logger = (*Logger)(nil)
