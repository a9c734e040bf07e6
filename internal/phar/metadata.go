package phar

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/conneroisu/crate/internal/errors"
)

// SerializeMetadata encodes v in the format produced by PHP's serialize().
// Supported values are nil, booleans, integers, floats, strings, slices and
// maps with string or integer keys. Map keys are written in sorted order.
func SerializeMetadata(v any) ([]byte, error) {
	var b strings.Builder
	if err := serializeValue(&b, reflect.ValueOf(v)); err != nil {
		return nil, err
	}

	return []byte(b.String()), nil
}

func serializeValue(b *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		b.WriteString("N;")
		return nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			b.WriteString("N;")
			return nil
		}
		return serializeValue(b, v.Elem())
	case reflect.Bool:
		if v.Bool() {
			b.WriteString("b:1;")
		} else {
			b.WriteString("b:0;")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fmt.Fprintf(b, "i:%d;", v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fmt.Fprintf(b, "i:%d;", v.Uint())
	case reflect.Float32, reflect.Float64:
		b.WriteString("d:")
		b.WriteString(formatFloat(v.Float()))
		b.WriteString(";")
	case reflect.String:
		s := v.String()
		fmt.Fprintf(b, "s:%d:\"%s\";", len(s), s)
	case reflect.Slice, reflect.Array:
		fmt.Fprintf(b, "a:%d:{", v.Len())
		for i := range v.Len() {
			fmt.Fprintf(b, "i:%d;", i)
			if err := serializeValue(b, v.Index(i)); err != nil {
				return err
			}
		}
		b.WriteString("}")
	case reflect.Map:
		keys := v.MapKeys()
		slices.SortFunc(keys, func(x, y reflect.Value) int {
			return strings.Compare(fmt.Sprint(x.Interface()), fmt.Sprint(y.Interface()))
		})
		fmt.Fprintf(b, "a:%d:{", len(keys))
		for _, k := range keys {
			if err := serializeKey(b, k); err != nil {
				return err
			}
			if err := serializeValue(b, v.MapIndex(k)); err != nil {
				return err
			}
		}
		b.WriteString("}")
	default:
		return errors.NewArgumentError(errors.CodeUnsupported,
			fmt.Sprintf("Cannot serialize metadata values of type %s.", v.Type()))
	}

	return nil
}

func serializeKey(b *strings.Builder, k reflect.Value) error {
	for k.Kind() == reflect.Interface {
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		s := k.String()
		fmt.Fprintf(b, "s:%d:\"%s\";", len(s), s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fmt.Fprintf(b, "i:%d;", k.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fmt.Fprintf(b, "i:%d;", k.Uint())
	default:
		return errors.NewArgumentError(errors.CodeUnsupported,
			fmt.Sprintf("Cannot serialize metadata keys of type %s.", k.Type()))
	}

	return nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}

	return strconv.FormatFloat(f, 'g', -1, 64)
}
