// Package jsonpath resolves simple JSONPath expressions ($.a.b[0].c) against
// JSON documents using gjson.
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when the path does not resolve to a value.
var ErrNotFound = errors.New("path not found")

// Lookup resolves path against body. A missing value is reported with
// ErrNotFound.
func Lookup(body []byte, path string) (gjson.Result, error) {
	if len(body) == 0 {
		return gjson.Result{}, fmt.Errorf("empty JSON document")
	}
	if path == "" {
		return gjson.Result{}, fmt.Errorf("empty JSONPath expression")
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("body is not valid JSON")
	}

	result := gjson.GetBytes(body, ToGjson(path))
	if !result.Exists() {
		return result, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return result, nil
}

// Extract returns the value at path rendered as a string. JSON null is
// rendered as "null".
func Extract(body []byte, path string) (string, error) {
	result, err := Lookup(body, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ToGjson converts a JSONPath expression to gjson syntax.
//
//	$.users[0].name  -> users.0.name
//	$['name']        -> name
//	$                -> @this
func ToGjson(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var sb strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				sb.WriteString(path[i:])
				return sb.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(key)
			i += end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
