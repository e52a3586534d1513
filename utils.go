package vcodec

import (
	"fmt"
	"math"
	"reflect"

	"www.velocidex.com/golang/vfilter"
)

func to_int64(x interface{}) (int64, bool) {
	switch t := x.(type) {
	case bool:
		if t {
			return 1, true
		} else {
			return 0, true
		}
	case int:
		return int64(t), true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case int8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case int16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case int64:
		return t, true
	case float32:
		return int64(t), true
	case float64:
		return int64(t), true
	case Ref:
		return int64(t), true

	case *int:
		return int64(*t), true
	case *uint64:
		return int64(*t), true
	case *int64:
		return int64(*t), true
	case *float64:
		return int64(*t), true

	default:
		return 0, false
	}
}

func to_float64(x interface{}) (float64, bool) {
	switch t := x.(type) {
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case uint64:
		return float64(t), true
	}

	i, ok := to_int64(x)
	return float64(i), ok
}

func to_bool(x interface{}) bool {
	switch t := x.(type) {
	case nil, vfilter.Null, *vfilter.Null:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	}

	i, ok := to_int64(x)
	if ok {
		return i != 0
	}

	return !IsNil(x)
}

// Encodes any integer value as the raw bits of a size byte
// integer. Values that do not fit are an error.
func to_bits(value interface{}, size int, signed bool) (uint64, error) {
	bits := uint(size * 8)

	// uint64 values above MaxInt64 must not go through to_int64's
	// sign handling.
	if u, ok := value.(uint64); ok {
		if bits < 64 && u>>bits != 0 {
			return 0, fmt.Errorf("value %d does not fit in %d bytes", u, size)
		}
		return u, nil
	}

	i, ok := to_int64(value)
	if !ok {
		return 0, fmt.Errorf("expecting an integer not %T", value)
	}

	if bits == 64 {
		return uint64(i), nil
	}

	if signed {
		min := -(int64(1) << (bits - 1))
		max := int64(1)<<(bits-1) - 1
		if i < min || i > max {
			return 0, fmt.Errorf("value %d does not fit in %d signed bytes", i, size)
		}
		return uint64(i) & (uint64(1)<<bits - 1), nil
	}

	if i < 0 || uint64(i)>>bits != 0 {
		return 0, fmt.Errorf("value %d does not fit in %d bytes", i, size)
	}
	return uint64(i), nil
}

// Sign extends the low bits of value.
func sign_extend(value uint64, bits uint) int64 {
	if bits == 0 || bits >= 64 {
		return int64(value)
	}
	shift := 64 - bits
	return int64(value<<shift) >> shift
}

func fits_int(value uint64) bool {
	return value <= math.MaxInt64
}

// We need to do this stupid check because Go does not allow
// comparison to nil with interfaces.
func IsNil(v interface{}) bool {
	if v == nil {
		return true
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return reflect.ValueOf(v).IsNil()
	}
	return false
}
