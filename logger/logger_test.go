package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSLogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	l.Debug("hidden", "k", "v")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered, got %q", buf.String())
	}

	l.Error("access evaluation failed", "user_id", int64(3), "resource_uri", "/api/users", 42, true, "dangling")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "access evaluation failed" || rec["level"] != "ERROR" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["user_id"] != float64(3) || rec["resource_uri"] != "/api/users" || rec["42"] != true {
		t.Fatalf("unexpected attributes %v", rec)
	}
	if _, ok := rec["dangling"]; ok {
		t.Fatalf("dangling key should be dropped")
	}
}

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debug("access decision", "decision", "ALLOW", "policy_id", int64(1))
	l.Error("audit write failed", "error", errors.New("disk full").Error(), "odd")
	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	first := logs.All()[0]
	if first.Level != zapcore.DebugLevel || first.ContextMap()["decision"] != "ALLOW" || first.ContextMap()["policy_id"] != int64(1) {
		t.Fatalf("unexpected entry %+v", first)
	}
	second := logs.All()[1]
	if second.Level != zapcore.ErrorLevel || len(second.Context) != 1 {
		t.Fatalf("unexpected entry %+v", second)
	}
	if err := NewZapLogger(nil).Sync(); err != nil {
		t.Fatalf("nop sync: %v", err)
	}
}

func TestMemoryLogger(t *testing.T) {
	m := NewMemoryLogger()
	m.Info("a")
	m.Error("b", "k", 1)
	m.Error("c")
	if m.Count("error") != 2 || m.Count("info") != 1 || m.Count("debug") != 0 {
		t.Fatalf("unexpected counts %+v", m.Records())
	}
	if r := m.Records()[1]; r.Msg != "b" || len(r.Keyvals) != 2 {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", "null", "None", "phuslu", "slog", "zap"} {
		l, err := New(kind)
		if err != nil || l == nil {
			t.Fatalf("%q: %v", kind, err)
		}
	}
	if _, err := New("logrus"); err == nil {
		t.Fatalf("expected error for unknown logger")
	}
}

func TestPhusluLoggerAcceptsAllValueKinds(t *testing.T) {
	l := NewPhusluLogger()
	l.Debug("d", "s", "x", "b", true, "i", 1, "i64", int64(2), "err", errors.New("e"), "any", []int{1})
	l.Info("i")
	l.Error("e", 1, "non-string key")
}
