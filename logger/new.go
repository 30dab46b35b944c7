package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
)

// New returns the adapter named by kind: "phuslu", "slog", "zap", or
// "null"/"" for no output.
func New(kind string) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "null", "none":
		return NewNullLogger(), nil
	case "phuslu", "phlog":
		return NewPhusluLogger(), nil
	case "slog":
		return NewSLogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil))), nil
	case "zap":
		l, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		return NewZapLogger(l), nil
	}
	return nil, fmt.Errorf("unknown logger %q", kind)
}
