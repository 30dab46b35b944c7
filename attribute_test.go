package abac

import (
	"reflect"
	"testing"
	"time"
)

func TestParseAttributeValue(t *testing.T) {
	cases := []struct {
		name  string
		value string
		dt    DataType
		want  any
	}{
		{"integer", "42", DataInteger, int64(42)},
		{"negative integer", "-7", DataInteger, int64(-7)},
		{"integer degrades", "4.5", DataInteger, "4.5"},
		{"boolean true", "true", DataBoolean, true},
		{"boolean upper", "TRUE", DataBoolean, true},
		{"boolean one", "1", DataBoolean, true},
		{"boolean yes", "Yes", DataBoolean, true},
		{"boolean other", "on", DataBoolean, false},
		{"boolean empty", "", DataBoolean, false},
		{"list", `["a","b"]`, DataList, []any{"a", "b"}},
		{"json", `{"k":1}`, DataJSON, map[string]any{"k": float64(1)}},
		{"json degrades", `{"k":`, DataJSON, `{"k":`},
		{"string", "hello", DataString, "hello"},
		{"unknown type", "x", DataType("blob"), "x"},
		{"datetime degrades", "not a date", DataDatetime, "not a date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseAttributeValue(tc.value, tc.dt)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseAttributeValue(%q, %s) = %#v, want %#v", tc.value, tc.dt, got, tc.want)
			}
		})
	}
}

func TestParseAttributeValueDatetime(t *testing.T) {
	got, ok := ParseAttributeValue("2024-03-01T10:30:00Z", DataDatetime).(time.Time)
	if !ok {
		t.Fatalf("expected time.Time")
	}
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAttributeTypeAcceptsLegacyUser(t *testing.T) {
	var at AttributeType
	if err := at.UnmarshalText([]byte("user")); err != nil {
		t.Fatal(err)
	}
	if at != AttributeSubject {
		t.Fatalf("got %q", at)
	}
}
