package logging

import (
	"log/slog"
)

// LoggerHook creates instance-specific loggers by wrapping a base logger.
// The dispatcher stays generic; capture is an implementation detail of
// the hook.
type LoggerHook interface {
	// LoggerForInstance wraps the base logger for one workflow instance.
	LoggerForInstance(baseLogger *slog.Logger, instanceID string) *slog.Logger
}

// CapturingLoggerHook creates loggers that record into a LogCollector.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook that captures all instance logs.
func NewCapturingLoggerHook(collector *LogCollector) LoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
	}
}

// LoggerForInstance wraps the base logger with a CapturingHandler keyed
// by the instance id.
func (p *CapturingLoggerHook) LoggerForInstance(baseLogger *slog.Logger, instanceID string) *slog.Logger {
	return slog.New(NewCapturingHandler(
		baseLogger.Handler(),
		p.collector,
		instanceID,
	))
}
