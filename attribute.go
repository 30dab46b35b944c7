package abac

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/date"
)

// ParseAttributeValue converts a stored raw value into its typed form.
//
//   - integer:  base-10 int64
//   - boolean:  true iff the lower-cased value is "true", "1" or "yes"
//   - datetime: ISO-8601 time.Time
//   - list/json: JSON-decoded structure
//   - string and unknown types: the value itself
//
// The attribute degrades to string on parse failure: any error returns the raw
// value unchanged and is never reported to the caller.
func ParseAttributeValue(value string, dt DataType) any {
	switch dt {
	case DataInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return value
		}
		return n
	case DataBoolean:
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		}
		return false
	case DataDatetime:
		t, err := parseISOTime(value)
		if err != nil {
			return value
		}
		return t
	case DataList, DataJSON:
		var out any
		if err := json.Unmarshal([]byte(value), &out); err != nil {
			return value
		}
		return out
	default:
		return value
	}
}

// parseISOTime tries the strict RFC 3339 layouts before falling back to the
// flexible parser, which also understands naive "2006-01-02T15:04:05".
func parseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return date.Parse(s)
}
