package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DataType identifies the static type of a column.
type DataType int8

const (
	// NULL is the type of an untyped NULL value.
	NULL DataType = iota
	// INTEGER is a 64-bit signed integer column.
	INTEGER
	// FLOAT is a 64-bit floating point column.
	FLOAT
	// TEXT is a UTF-8 string column.
	TEXT
	// BOOLEAN is a true/false column.
	BOOLEAN
	// TIMESTAMP is a point-in-time column stored in UTC.
	TIMESTAMP
	// JSON is a tagged-variant column holding a serialized JSON document.
	JSON
)

// String returns the SQL-ish name of the data type.
func (t DataType) String() string {
	switch t {
	case NULL:
		return "NULL"
	case INTEGER:
		return "INTEGER"
	case FLOAT:
		return "FLOAT"
	case TEXT:
		return "TEXT"
	case BOOLEAN:
		return "BOOLEAN"
	case TIMESTAMP:
		return "TIMESTAMP"
	case JSON:
		return "JSON"
	default:
		return fmt.Sprintf("DataType(%d)", t)
	}
}

// ColumnValue is a single typed cell value.
type ColumnValue interface {
	// Type returns the static type of the value.
	Type() DataType
	// IsNull reports whether the value is NULL.
	IsNull() bool

	// AsInt64 returns the value as an integer. ok is false when the value
	// cannot be represented as one.
	AsInt64() (val int64, ok bool)
	AsFloat64() (val float64, ok bool)
	AsString() (val string, ok bool)
	AsBoolean() (val bool, ok bool)
	AsTimestamp() (val time.Time, ok bool)
	AsJSON() (val string, ok bool)

	// AsInterface returns the underlying Go value, or nil for NULL.
	AsInterface() interface{}

	// Equals reports whether other holds the same value.
	Equals(other ColumnValue) bool
	// Compare orders the value against other: negative, zero or positive.
	// Comparing NULL with non-NULL returns ErrNullComparison.
	Compare(other ColumnValue) (int, error)
}

// Static NULL instances, shared because NULL values are immutable.
var (
	StaticNullUnknown   = &Value{dataType: NULL, isNull: true}
	StaticNullInteger   = &Value{dataType: INTEGER, isNull: true}
	StaticNullFloat     = &Value{dataType: FLOAT, isNull: true}
	StaticNullString    = &Value{dataType: TEXT, isNull: true}
	StaticNullBoolean   = &Value{dataType: BOOLEAN, isNull: true}
	StaticNullTimestamp = &Value{dataType: TIMESTAMP, isNull: true}
	StaticNullJSON      = &Value{dataType: JSON, isNull: true}

	staticNullsByType = map[DataType]*Value{
		NULL:      StaticNullUnknown,
		INTEGER:   StaticNullInteger,
		FLOAT:     StaticNullFloat,
		TEXT:      StaticNullString,
		BOOLEAN:   StaticNullBoolean,
		TIMESTAMP: StaticNullTimestamp,
		JSON:      StaticNullJSON,
	}

	staticTrue  = &Value{dataType: BOOLEAN, boolValue: true}
	staticFalse = &Value{dataType: BOOLEAN, boolValue: false}
)

// Value is the concrete ColumnValue implementation. Primitives are stored
// directly in their slot so reads avoid interface unboxing.
type Value struct {
	dataType    DataType
	isNull      bool
	intValue    int64
	floatValue  float64
	stringValue string
	boolValue   bool
	timeValue   time.Time
}

// Type returns the static type of the value.
func (v *Value) Type() DataType {
	return v.dataType
}

// IsNull reports whether the value is NULL.
func (v *Value) IsNull() bool {
	return v.isNull
}

// AsInt64 returns the integer value. Floats truncate, booleans map to 0/1,
// timestamps yield UnixNano. Text does not coerce.
func (v *Value) AsInt64() (int64, bool) {
	if v.isNull {
		return 0, true
	}
	switch v.dataType {
	case INTEGER:
		return v.intValue, true
	case FLOAT:
		return int64(v.floatValue), true
	case BOOLEAN:
		if v.boolValue {
			return 1, true
		}
		return 0, true
	case TIMESTAMP:
		return v.timeValue.UTC().UnixNano(), true
	default:
		return 0, false
	}
}

// AsFloat64 returns the float value; integers widen, booleans map to 0/1.
func (v *Value) AsFloat64() (float64, bool) {
	if v.isNull {
		return 0, true
	}
	switch v.dataType {
	case FLOAT:
		return v.floatValue, true
	case INTEGER:
		return float64(v.intValue), true
	case BOOLEAN:
		if v.boolValue {
			return 1.0, true
		}
		return 0.0, true
	default:
		return 0, false
	}
}

// AsString renders the value as text.
func (v *Value) AsString() (string, bool) {
	if v.isNull {
		return "", true
	}
	switch v.dataType {
	case TEXT, JSON:
		return v.stringValue, true
	case INTEGER:
		return strconv.FormatInt(v.intValue, 10), true
	case FLOAT:
		return strconv.FormatFloat(v.floatValue, 'g', -1, 64), true
	case BOOLEAN:
		if v.boolValue {
			return "true", true
		}
		return "false", true
	case TIMESTAMP:
		return v.timeValue.Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

// AsBoolean returns the boolean value; numerics are true when non-zero.
func (v *Value) AsBoolean() (bool, bool) {
	if v.isNull {
		return false, true
	}
	switch v.dataType {
	case BOOLEAN:
		return v.boolValue, true
	case INTEGER:
		return v.intValue != 0, true
	case FLOAT:
		return v.floatValue != 0, true
	default:
		return false, false
	}
}

// AsTimestamp returns the timestamp value.
func (v *Value) AsTimestamp() (time.Time, bool) {
	if v.isNull {
		return time.Time{}, true
	}
	if v.dataType == TIMESTAMP {
		return v.timeValue, true
	}
	return time.Time{}, false
}

// AsJSON returns the serialized JSON document.
func (v *Value) AsJSON() (string, bool) {
	if v.isNull {
		return "null", true
	}
	if v.dataType == JSON {
		return v.stringValue, true
	}
	return "", false
}

// AsInterface returns the underlying Go value, or nil for NULL.
func (v *Value) AsInterface() interface{} {
	if v.isNull {
		return nil
	}
	switch v.dataType {
	case INTEGER:
		return v.intValue
	case FLOAT:
		return v.floatValue
	case TEXT, JSON:
		return v.stringValue
	case BOOLEAN:
		return v.boolValue
	case TIMESTAMP:
		return v.timeValue
	default:
		return nil
	}
}

// Equals reports whether other holds the same value. NULL equals only NULL.
func (v *Value) Equals(other ColumnValue) bool {
	if other == nil {
		return false
	}
	if v.IsNull() && other.IsNull() {
		return true
	}
	if v.IsNull() || other.IsNull() {
		return false
	}
	if v.Type() != other.Type() {
		return false
	}

	switch v.Type() {
	case INTEGER:
		o, _ := other.AsInt64()
		return v.intValue == o
	case FLOAT:
		o, _ := other.AsFloat64()
		return v.floatValue == o
	case TEXT, JSON:
		o, _ := other.AsString()
		return v.stringValue == o
	case BOOLEAN:
		o, _ := other.AsBoolean()
		return v.boolValue == o
	case TIMESTAMP:
		o, _ := other.AsTimestamp()
		return v.timeValue.Equal(o)
	default:
		return false
	}
}

// Compare orders v against other. Integer and float compare numerically
// across the two types; JSON supports equality only.
func (v *Value) Compare(other ColumnValue) (int, error) {
	if v.IsNull() || other == nil || other.IsNull() {
		if v.IsNull() && (other == nil || other.IsNull()) {
			return 0, nil
		}
		return 0, ErrNullComparison
	}

	if v.Type() == other.Type() {
		switch v.Type() {
		case INTEGER:
			o, _ := other.AsInt64()
			return compareOrdered(v.intValue, o), nil
		case FLOAT:
			o, _ := other.AsFloat64()
			return compareOrdered(v.floatValue, o), nil
		case TEXT:
			o, _ := other.AsString()
			return compareOrdered(v.stringValue, o), nil
		case BOOLEAN:
			o, _ := other.AsBoolean()
			if !v.boolValue && o {
				return -1, nil
			} else if v.boolValue && !o {
				return 1, nil
			}
			return 0, nil
		case TIMESTAMP:
			o, _ := other.AsTimestamp()
			return v.timeValue.Compare(o), nil
		case JSON:
			o, _ := other.AsString()
			if v.stringValue == o {
				return 0, nil
			}
			return 0, ErrIncomparableTypes
		}
	}

	// Mixed integer/float comparison widens to float.
	if (v.Type() == INTEGER || v.Type() == FLOAT) &&
		(other.Type() == INTEGER || other.Type() == FLOAT) {
		a, _ := v.AsFloat64()
		b, _ := other.AsFloat64()
		return compareOrdered(a, b), nil
	}

	return 0, ErrIncomparableTypes
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// NewIntegerValue creates an INTEGER value.
func NewIntegerValue(value int64) ColumnValue {
	return &Value{dataType: INTEGER, intValue: value}
}

// NewFloatValue creates a FLOAT value.
func NewFloatValue(value float64) ColumnValue {
	return &Value{dataType: FLOAT, floatValue: value}
}

// NewStringValue creates a TEXT value.
func NewStringValue(value string) ColumnValue {
	return &Value{dataType: TEXT, stringValue: value}
}

// NewBooleanValue creates a BOOLEAN value.
func NewBooleanValue(value bool) ColumnValue {
	if value {
		return staticTrue
	}
	return staticFalse
}

// NewTimestampValue creates a TIMESTAMP value normalized to UTC.
func NewTimestampValue(value time.Time) ColumnValue {
	return &Value{dataType: TIMESTAMP, timeValue: value.UTC()}
}

// NewJSONValue creates a JSON value from an already-serialized document.
func NewJSONValue(value string) ColumnValue {
	return &Value{dataType: JSON, stringValue: value}
}

// NewNullValue returns the shared NULL instance for the given type.
func NewNullValue(dataType DataType) ColumnValue {
	if v, ok := staticNullsByType[dataType]; ok {
		return v
	}
	return &Value{dataType: dataType, isNull: true}
}

// NewValueFromInterface infers a ColumnValue from a Go value. Maps and
// slices become JSON documents.
func NewValueFromInterface(val interface{}) ColumnValue {
	if val == nil {
		return StaticNullUnknown
	}
	switch v := val.(type) {
	case int:
		return NewIntegerValue(int64(v))
	case int32:
		return NewIntegerValue(int64(v))
	case int64:
		return NewIntegerValue(v)
	case float32:
		return NewFloatValue(float64(v))
	case float64:
		return NewFloatValue(v)
	case string:
		return NewStringValue(v)
	case bool:
		return NewBooleanValue(v)
	case time.Time:
		return NewTimestampValue(v)
	case ColumnValue:
		return v
	case map[string]interface{}, []interface{}:
		data, _ := json.Marshal(v)
		return NewJSONValue(string(data))
	default:
		return NewStringValue(fmt.Sprintf("%v", v))
	}
}
