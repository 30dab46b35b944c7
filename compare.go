package abac

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// valuesEqual compares an attribute value with a policy literal. Numbers are
// compared by value whatever their Go kind, times are compared as instants
// (a string literal is accepted when it parses as RFC 3339) and lists/objects
// are compared element-wise.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an.cmp(bn) == 0
	}
	switch av := a.(type) {
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case time.Time:
			return timeEqualsString(bv, av)
		}
		return false
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Equal(bv)
		case string:
			return timeEqualsString(av, bv)
		}
		return false
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isList(ra) && isList(rb):
		if ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !valuesEqual(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case ra.Kind() == reflect.Map && rb.Kind() == reflect.Map:
		if ra.Len() != rb.Len() || ra.Type().Key() != rb.Type().Key() {
			return false
		}
		iter := ra.MapRange()
		for iter.Next() {
			bv := rb.MapIndex(iter.Key())
			if !bv.IsValid() || !valuesEqual(iter.Value().Interface(), bv.Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func timeEqualsString(t time.Time, s string) bool {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	return err == nil && parsed.Equal(t)
}

func isList(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

// number keeps integers exact and only falls back to float64 when one side
// is fractional.
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) cmp(o number) int {
	if !n.isFloat && !o.isFloat {
		switch {
		case n.i < o.i:
			return -1
		case n.i > o.i:
			return 1
		}
		return 0
	}
	a, b := n.float(), o.float()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{i: int64(n)}, true
	case int8:
		return number{i: int64(n)}, true
	case int16:
		return number{i: int64(n)}, true
	case int32:
		return number{i: int64(n)}, true
	case int64:
		return number{i: n}, true
	case uint:
		return uintNumber(uint64(n)), true
	case uint8:
		return number{i: int64(n)}, true
	case uint16:
		return number{i: int64(n)}, true
	case uint32:
		return number{i: int64(n)}, true
	case uint64:
		return uintNumber(n), true
	case float32:
		return floatNumber(float64(n)), true
	case float64:
		return floatNumber(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return number{i: i}, true
		}
		if f, err := n.Float64(); err == nil {
			return floatNumber(f), true
		}
	}
	return number{}, false
}

func uintNumber(u uint64) number {
	if u > math.MaxInt64 {
		return number{f: float64(u), isFloat: true}
	}
	return number{i: int64(u)}
}

// floatNumber folds integral floats (JSON decodes every number as float64)
// back into the exact integer representation.
func floatNumber(f float64) number {
	if f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63 {
		return number{i: int64(f)}
	}
	return number{f: f, isFloat: true}
}

// compareNumeric orders two operands of greater_than / less_than
func compareNumeric(a, b any) (int, error) {
	an, ok := toNumber(a)
	if !ok {
		return 0, fmt.Errorf("attribute value %v (%T) is not numeric", a, a)
	}
	bn, ok := toNumber(b)
	if !ok {
		return 0, fmt.Errorf("operand %v (%T) is not numeric", b, b)
	}
	return an.cmp(bn), nil
}

// stringify renders a value the way regex conditions see it
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return s.Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(s)
	}
	if n, ok := toNumber(v); ok {
		if n.isFloat {
			return strconv.FormatFloat(n.f, 'f', -1, 64)
		}
		return strconv.FormatInt(n.i, 10)
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
