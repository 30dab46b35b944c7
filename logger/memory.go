package logger

import "sync"

// Record is one call captured by MemoryLogger
type Record struct {
	Level   string
	Msg     string
	Keyvals []any
}

// MemoryLogger keeps every record in memory; tests use it to assert on output
type MemoryLogger struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryLogger() *MemoryLogger { return &MemoryLogger{} }

func (m *MemoryLogger) Debug(msg string, keyvals ...any) { m.add("debug", msg, keyvals) }
func (m *MemoryLogger) Info(msg string, keyvals ...any)  { m.add("info", msg, keyvals) }
func (m *MemoryLogger) Error(msg string, keyvals ...any) { m.add("error", msg, keyvals) }

func (m *MemoryLogger) add(level, msg string, keyvals []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Level: level, Msg: msg, Keyvals: append([]any(nil), keyvals...)})
}

// Records returns a copy of the captured records
func (m *MemoryLogger) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Count returns how many records were captured at level
func (m *MemoryLogger) Count(level string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Level == level {
			n++
		}
	}
	return n
}
