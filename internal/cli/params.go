package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// parseParams merges a JSON object with key=value pairs. Pair values are
// strings; numbers in the JSON object decode as json.Number, matching the
// values a webhook delivers.
func parseParams(jsonObject string, pairs []string) (map[string]any, error) {
	params := make(map[string]any)
	if jsonObject != "" {
		dec := json.NewDecoder(strings.NewReader(jsonObject))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid --params-json: %w", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, errors.New("invalid --params-json: trailing data after the object")
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New("invalid --params-json: must be a JSON object")
		}
		params = obj
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// formatValue renders a step result or parameter for a table cell.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(buf.String())
}
