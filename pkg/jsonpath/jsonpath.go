// Package jsonpath translates the small JSONPath subset accepted for dataset
// selection into gjson paths.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ToGJSON converts a JSONPath expression such as $.data['employees'][0] into
// the equivalent gjson path (data.employees.0). Paths without a leading $
// are assumed to already be gjson paths and are returned unchanged.
func ToGJSON(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return b.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(escape(key))
			i += end
		case '.':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// escape protects gjson metacharacters inside a bracketed key.
func escape(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}

// Lookup resolves path against a JSON document.
func Lookup(data []byte, path string) (gjson.Result, error) {
	if path == "" {
		return gjson.ParseBytes(data), nil
	}
	res := gjson.GetBytes(data, ToGJSON(path))
	if !res.Exists() {
		return res, fmt.Errorf("path %q matched nothing", path)
	}
	return res, nil
}
