package stub

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// exportString renders s as a single quoted PHP string literal.
func exportString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

// exportList renders values the way var_export prints a list.
func exportList(values []string) string {
	var b strings.Builder
	b.WriteString("array (\n")
	for i, v := range values {
		fmt.Fprintf(&b, "  %d => %s,\n", i, exportString(v))
	}
	b.WriteString(")")

	return b.String()
}

// exportMap renders m as a var_export array with its keys sorted.
func exportMap(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString("array (\n")
	for _, k := range keys {
		v, err := exportScalar(m[k])
		if err != nil {
			return "", fmt.Errorf("%s: %w", k, err)
		}
		fmt.Fprintf(&b, "  %s => %s,\n", exportString(k), v)
	}
	b.WriteString(")")

	return b.String(), nil
}

func exportScalar(v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return exportString(rv.String()), nil
	case reflect.Bool:
		if rv.Bool() {
			return "true", nil
		}
		return "false", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
