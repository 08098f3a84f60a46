// Package alert handles operator-visible notifications. The trading core
// never passes through a critical state (an unprotected position above all)
// without emitting through a Notifier.
package alert

import "github.com/your-org/kraken-scalp-bot/pkg/logger"

// Severity classifies an alert.
type Severity string

const (
	// SeverityInfo marks routine notable events.
	SeverityInfo Severity = "info"
	// SeverityWarning marks degraded but recoverable conditions.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks conditions needing operator action, such as an
	// unprotected position.
	SeverityCritical Severity = "critical"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(severity Severity, message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing and returns nil.
func (n *NoOpNotifier) Send(severity Severity, message string) error {
	return nil
}

// Close does nothing and returns nil.
func (n *NoOpNotifier) Close() error {
	return nil
}

// LogNotifier writes alerts to the application log.
type LogNotifier struct{}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Send logs the alert at a level matching its severity.
func (n *LogNotifier) Send(severity Severity, message string) error {
	switch severity {
	case SeverityCritical:
		logger.Errorf("[ALERT:critical] %s", message)
	case SeverityWarning:
		logger.Warnf("[ALERT:warning] %s", message)
	default:
		logger.Infof("[ALERT:info] %s", message)
	}
	return nil
}

// Close does nothing and returns nil.
func (n *LogNotifier) Close() error {
	return nil
}

// Fanout sends every alert to multiple notifiers, returning the first error.
type Fanout []Notifier

// Send forwards the alert to every notifier.
func (f Fanout) Send(severity Severity, message string) error {
	var firstErr error
	for _, n := range f {
		if err := n.Send(severity, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every notifier.
func (f Fanout) Close() error {
	var firstErr error
	for _, n := range f {
		if err := n.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
