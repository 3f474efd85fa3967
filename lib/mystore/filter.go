package mystore

import (
	"cmp"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// matches evaluates datastore-style filters against a struct value in memory.
func matches[T any](value T, filters []Filter) (bool, error) {
	v := reflect.Indirect(reflect.ValueOf(value))
	for _, f := range filters {
		field := v.FieldByName(f.Field)
		if !field.IsValid() {
			return false, fmt.Errorf("unknown field %s in filter", f.Field)
		}

		result, ok := compareValues(field.Interface(), f.Value)
		if !ok {
			return false, fmt.Errorf("field %s cannot be compared with %T", f.Field, f.Value)
		}

		switch f.Compare {
		case "=":
			if result != 0 {
				return false, nil
			}
		case "!=":
			if result == 0 {
				return false, nil
			}
		case "<":
			if result >= 0 {
				return false, nil
			}
		case "<=":
			if result > 0 {
				return false, nil
			}
		case ">":
			if result <= 0 {
				return false, nil
			}
		case ">=":
			if result < 0 {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported comparison %s", f.Compare)
		}
	}
	return true, nil
}

func parseOrder(orderByField string) (string, bool) {
	if strings.HasPrefix(orderByField, "-") {
		return orderByField[1:], true
	}
	return orderByField, false
}

func compareFields[T any](a, b T, fieldName string) (int, bool) {
	av := reflect.Indirect(reflect.ValueOf(a)).FieldByName(fieldName)
	bv := reflect.Indirect(reflect.ValueOf(b)).FieldByName(fieldName)
	if !av.IsValid() || !bv.IsValid() {
		return 0, false
	}
	return compareValues(av.Interface(), bv.Interface())
}

func compareValues(a, b any) (int, bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}

	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if !av.IsValid() || !bv.IsValid() {
		return 0, false
	}

	switch av.Kind() {
	case reflect.String:
		if bv.Kind() != reflect.String {
			return 0, false
		}
		return strings.Compare(av.String(), bv.String()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !bv.CanInt() {
			return 0, false
		}
		return cmp.Compare(av.Int(), bv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !bv.CanUint() {
			return 0, false
		}
		return cmp.Compare(av.Uint(), bv.Uint()), true
	case reflect.Float32, reflect.Float64:
		if !bv.CanFloat() {
			return 0, false
		}
		return cmp.Compare(av.Float(), bv.Float()), true
	case reflect.Bool:
		if bv.Kind() != reflect.Bool {
			return 0, false
		}
		switch {
		case av.Bool() == bv.Bool():
			return 0, true
		case !av.Bool():
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}
