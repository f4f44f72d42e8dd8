package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseOptions turns repeated key=value flags into encoder options. Values
// that parse as bool, integer, or float keep that type; a bare key means true.
func parseOptions(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	options := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, hasValue := strings.Cut(pair, "=")
		key = strings.TrimLeft(strings.TrimSpace(key), "-")
		if key == "" {
			return nil, fmt.Errorf("invalid option %q: expected key=value", pair)
		}
		if !hasValue {
			options[key] = true
			continue
		}
		options[key] = parseOptionValue(strings.TrimSpace(value))
	}
	return options, nil
}

func parseOptionValue(value string) any {
	if b, err := strconv.ParseBool(value); err == nil && !isNumeric(value) {
		return b
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// isNumeric guards "0" and "1", which ParseBool also accepts.
func isNumeric(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}
