package karchive

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"howett.net/plist"
)

// ReferenceDate is the epoch of archived dates (NSDate, plist <date>).
var ReferenceDate = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// parsePlist decodes binary, XML or OpenStep property list bytes into the
// generic tree produced by howett.net/plist.
func parsePlist(data []byte) (any, int, error) {
	var raw any
	format, err := plist.Unmarshal(data, &raw)
	if err != nil {
		return nil, 0, formatErrf("", err, "cannot parse property list")
	}
	return raw, format, nil
}

func formatName(format int) string {
	if name, ok := plist.FormatNames[format]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", format)
}

// bridge converts a node of the generic plist tree into a Value. n is the
// arena size; references must fall within it.
func bridge(raw any, n int) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int64:
		return IntegerValue(SignedInteger(x)), nil
	case uint64:
		return IntegerValue(UnsignedInteger(x)), nil
	case int:
		return IntegerValue(SignedInteger(int64(x))), nil
	case float64:
		return Real(x), nil
	case float32:
		return Real(float64(x)), nil
	case []byte:
		return Data(bytes.Clone(x)), nil
	case time.Time:
		return Real(x.Sub(ReferenceDate).Seconds()), nil
	case plist.UID:
		if uint64(x) >= uint64(n) || uint64(x) > math.MaxUint32 {
			return Value{}, fmt.Errorf("reference %d out of range (%d objects)", uint64(x), n)
		}
		return RefValue(Ref(x)), nil
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			v, err := bridge(e, n)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, e := range x {
			v, err := bridge(e, n)
			if err != nil {
				return Value{}, fmt.Errorf("%q: %w", k, err)
			}
			fields[k] = v
		}
		return Dict(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported property list value %T", raw)
	}
}
