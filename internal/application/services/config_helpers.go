package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/ddr"
)

// ConfigHelper provides shared utilities for extracting configuration values
// from step config maps.

// GetConfigString safely extracts a string value from a config map.
// It returns an empty string if the key does not exist or the value is not a string.
func GetConfigString(config map[string]interface{}, key string) string {
	if val, ok := config[key].(string); ok {
		return val
	}
	return ""
}

// GetConfigStringRequired reads a config string, substitutes tokens and
// fails when the result is empty.
func GetConfigStringRequired(config map[string]interface{}, key string, ctx *ddr.Context) (string, error) {
	val := resolvedString(config, key, ctx)
	if val == "" {
		return "", fmt.Errorf("missing required config key: %s", key)
	}
	return val, nil
}

// GetConfigMap extracts a nested map[string]interface{} from a config map.
func GetConfigMap(config map[string]interface{}, key string) (map[string]interface{}, bool) {
	switch val := config[key].(type) {
	case map[string]interface{}:
		return val, true
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

// resolvedString reads a config string and substitutes tokens
func resolvedString(config map[string]interface{}, key string, ctx *ddr.Context) string {
	return strings.TrimSpace(ddr.Resolve(GetConfigString(config, key), ctx))
}

// resolvedHeaders reads a header map, substitutes tokens and stringifies values
func resolvedHeaders(config map[string]interface{}, ctx *ddr.Context) map[string]string {
	raw, ok := GetConfigMap(config, constants.ConfigHeaders)
	if !ok {
		return map[string]string{}
	}
	resolved := ddr.ResolveDeep(raw, ctx).(map[string]interface{})
	headers := make(map[string]string, len(resolved))
	for k, v := range resolved {
		if v == nil {
			continue
		}
		headers[k] = ddr.Stringify(v)
	}
	return headers
}

// extractPath walks a decoded JSON value along a dotted path.
// Numeric segments index into arrays.
func extractPath(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}
	current := data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// applyOutputMapping projects selected fields of source into result.
// Paths that do not resolve are left out.
func applyOutputMapping(config map[string]interface{}, source interface{}, result map[string]interface{}) {
	mapping, ok := GetConfigMap(config, constants.ConfigOutputMapping)
	if !ok {
		return
	}
	for outputKey, rawPath := range mapping {
		path, ok := rawPath.(string)
		if !ok {
			continue
		}
		if value, found := extractPath(source, path); found {
			result[outputKey] = value
		}
	}
}
