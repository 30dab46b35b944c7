// Package logger defines the small structured logging interface the decision
// point writes through, with adapters for the common Go loggers.
package logger

import "fmt"

// Logger accepts a message and alternating key/value pairs
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// key renders a key/value pair's key; non-string keys are formatted with %v
func key(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
