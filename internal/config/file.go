package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFileLookup reads a flat YAML document of FLEETD_* keys, e.g.
//
//	FLEETD_DISTRIBUTED_TRANSPORT: grpc
//	FLEETD_GRPC_TARGET: controller.internal:8444
func LoadFileLookup(path string) (LookupFunc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return ParseFileLookup(raw)
}

func ParseFileLookup(raw []byte) (LookupFunc, error) {
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	values := make(map[string]string, len(doc))
	for key, value := range doc {
		if !strings.HasPrefix(key, "FLEETD_") {
			return nil, fmt.Errorf("config file key %q must start with FLEETD_", key)
		}
		switch typed := value.(type) {
		case string:
			values[key] = typed
		case bool:
			values[key] = strconv.FormatBool(typed)
		case int:
			values[key] = strconv.Itoa(typed)
		case float64:
			values[key] = strconv.FormatFloat(typed, 'f', -1, 64)
		case nil:
			values[key] = ""
		default:
			return nil, fmt.Errorf("config file key %q must be a scalar", key)
		}
	}

	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}, nil
}

// ChainLookup returns the first hit across lookups, so earlier entries win.
func ChainLookup(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok {
				return value, true
			}
		}
		return "", false
	}
}
