package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/squealx"
)

// rowSet is the part of a result cursor the stores read from
type rowSet interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type queryFunc func(ctx context.Context, q string, params map[string]any) (rowSet, error)

func namedQuery(db *squealx.DB) queryFunc {
	return func(ctx context.Context, q string, params map[string]any) (rowSet, error) {
		r, err := db.NamedQueryContext(ctx, q, params)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// timeLayout is fixed width so stored timestamps order lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return date.Parse(s)
}

// scanTime accepts whatever the driver hands back for a timestamp column
func scanTime(raw any) time.Time {
	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v
	case string:
		t, _ = parseFlexibleTime(v)
	case []byte:
		t, _ = parseFlexibleTime(string(v))
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idOrNil(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
