package logger

import (
	phlog "github.com/oarkflow/log"
)

// PhusluLogger writes through the package-level phlog logger
type PhusluLogger struct{}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

func (p *PhusluLogger) Debug(msg string, keyvals ...any) { emit(phlog.Debug(), msg, keyvals) }
func (p *PhusluLogger) Info(msg string, keyvals ...any)  { emit(phlog.Info(), msg, keyvals) }
func (p *PhusluLogger) Error(msg string, keyvals ...any) { emit(phlog.Error(), msg, keyvals) }

// entry is the subset of the phlog entry builder used here
type entry[E any] interface {
	Str(key, val string) E
	Bool(key string, b bool) E
	Int(key string, i int) E
	Int64(key string, i int64) E
	Any(key string, value any) E
	Msg(msg string)
}

func emit[E entry[E]](e E, msg string, keyvals []any) {
	for i := 0; i < len(keyvals)-1; i += 2 {
		ks := key(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(ks, v)
		case bool:
			e = e.Bool(ks, v)
		case int:
			e = e.Int(ks, v)
		case int64:
			e = e.Int64(ks, v)
		case error:
			e = e.Str(ks, v.Error())
		default:
			e = e.Any(ks, v)
		}
	}
	e.Msg(msg)
}
