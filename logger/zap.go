package logger

import "go.uber.org/zap"

// ZapLogger adapts a *zap.Logger through its sugared key/value API
type ZapLogger struct {
	s *zap.SugaredLogger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{s: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, keyvals ...any) { z.s.Debugw(msg, normalize(keyvals)...) }
func (z *ZapLogger) Info(msg string, keyvals ...any)  { z.s.Infow(msg, normalize(keyvals)...) }
func (z *ZapLogger) Error(msg string, keyvals ...any) { z.s.Errorw(msg, normalize(keyvals)...) }

// Sync flushes buffered entries
func (z *ZapLogger) Sync() error { return z.s.Sync() }

// normalize turns keys into strings and drops a dangling key, which the
// sugared logger would otherwise report as a DPanic.
func normalize(keyvals []any) []any {
	out := make([]any, 0, len(keyvals)&^1)
	for i := 0; i < len(keyvals)-1; i += 2 {
		out = append(out, key(keyvals[i]), keyvals[i+1])
	}
	return out
}
