package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// source resolves configuration keys: the environment first, then the
// properties file, then the caller's default.
type source struct {
	props map[string]string
}

func (s *source) get(key, defaultValue string) string {
	if value := GetEnv(key, ""); value != "" {
		return value
	}
	if s != nil {
		if value, ok := s.props[key]; ok && value != "" {
			return value
		}
	}
	return defaultValue
}

// loadProperties reads a YAML properties file. Nested keys are flattened to
// environment variable form, so
//
//	session:
//	  redis-url: redis://cache:6379
//
// is read as SESSION_REDIS_URL.
func loadProperties(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading properties file: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parsing properties file %s: %w", path, err)
	}
	props := make(map[string]string)
	flatten("", tree, props)
	return props, nil
}

func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			flatten(joinKey(prefix, key), child, out)
		}
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}
