package wolke

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// DictionaryKey canonicalizes a key value for dictionary lookups. Values with
// a defined string representation use that string, enum-like named scalar
// types collapse to their underlying scalar, and plain scalars pass through.
// Any other value cannot act as a dictionary key and yields a ConfigError.
func DictionaryKey(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	case driver.Valuer:
		inner, err := v.Value()
		if err != nil {
			return "", configError("dictionary key", err)
		}
		return DictionaryKey(inner)
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", nil
		}
		rv = rv.Elem()
	}

	// Named types over a basic kind (enum-like values) reduce to the
	// underlying scalar.
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	}

	return "", configErrorf("dictionary key", "%w: %T", ErrInvalidDictionaryKey, value)
}

// CompareKeys reports whether two key values identify the same row. A nil or
// empty key never matches. When either side parses as an integer, both are
// compared as integers; different store drivers return the same key as
// "5", 5 or int64(5) and those must all match each other.
func CompareKeys(a, b any) bool {
	if a == nil || b == nil {
		return false
	}

	as, err := DictionaryKey(a)
	if err != nil {
		return false
	}
	bs, err := DictionaryKey(b)
	if err != nil {
		return false
	}

	if as == "" || bs == "" {
		return false
	}

	ai, aErr := strconv.ParseInt(as, 10, 64)
	bi, bErr := strconv.ParseInt(bs, 10, 64)
	if aErr == nil || bErr == nil {
		return aErr == nil && bErr == nil && ai == bi
	}

	return as == bs
}
