package types

import (
	"fmt"
	"strconv"
	"time"
)

// ValueType names the type an attribute value string is casted into before
// it crosses the API boundary.
type ValueType string

const (
	ValueTypeStr      ValueType = "STR"
	ValueTypeInt      ValueType = "INT"
	ValueTypeFloat    ValueType = "FLOAT"
	ValueTypeBool     ValueType = "BOOL"
	ValueTypeDate     ValueType = "DATE"
	ValueTypeDatetime ValueType = "DATETIME"
)

// CastValue parses the raw stored string into the declared type. The zero
// ValueType behaves like STR.
func (vt ValueType) CastValue(raw string) (any, error) {
	switch vt {
	case ValueTypeStr, "":
		return raw, nil
	case ValueTypeInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a valid integer: %w", raw, err)
		}
		return v, nil
	case ValueTypeFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a valid float: %w", raw, err)
		}
		return v, nil
	case ValueTypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a valid bool: %w", raw, err)
		}
		return v, nil
	case ValueTypeDate:
		v, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a valid ISO date: %w", raw, err)
		}
		return v, nil
	case ValueTypeDatetime:
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a valid RFC3339 datetime: %w", raw, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", string(vt))
	}
}

func (vt ValueType) Valid() bool {
	switch vt {
	case ValueTypeStr, ValueTypeInt, ValueTypeFloat, ValueTypeBool, ValueTypeDate, ValueTypeDatetime:
		return true
	}
	return false
}
