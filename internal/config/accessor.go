package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// secretPaths lists the dot paths masked by Sanitize. "*" matches any map key.
var secretPaths = []string{
	"providers.*.apiKey",
	"embedding.apiKey",
	"index.qdrant.apiKey",
	"channels.whatsapp.accessToken",
	"channels.whatsapp.appSecret",
	"channels.whatsapp.verifyToken",
	"admin.token",
}

// tree is the generic JSON form of a Config, addressed by dot paths
// such as "answer.topK" or "providers.claude.apiKey".
type tree map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t tree) config() (*Config, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (t tree) get(path string) (any, error) {
	var cur any = map[string]any(t)
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid index %q in %s", key, path)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	return cur, nil
}

// set stores value at path, creating intermediate sections as needed.
func (t tree) set(path string, value any) error {
	keys := strings.Split(path, ".")
	node := map[string]any(t)
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key]
		if !ok || next == nil {
			child := map[string]any{}
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not a section", path, key)
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
	return nil
}

// mask applies fn to every string leaf matching pattern.
func (t tree) mask(pattern []string, node map[string]any, fn func(string) string) {
	key, rest := pattern[0], pattern[1:]
	for k, v := range node {
		if key != "*" && key != k {
			continue
		}
		if len(rest) == 0 {
			if s, ok := v.(string); ok {
				node[k] = fn(s)
			}
			continue
		}
		if child, ok := v.(map[string]any); ok {
			t.mask(rest, child, fn)
		}
	}
}

func (t tree) flatten(prefix string, node map[string]any, out map[string]any) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			t.flatten(path, child, out)
			continue
		}
		out[path] = v
	}
}

// GetByPath returns the value at a dot path (e.g. "answer.topK").
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	return t.get(path)
}

// SetByPath sets the value at a dot path. String values are converted to
// bool or number where they parse as one. cfg is only modified when the
// result passes Validate.
func SetByPath(cfg *Config, path string, value any) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	if err := t.set(path, coerce(value)); err != nil {
		return err
	}
	updated, err := t.config()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(updated); err != nil {
		return err
	}
	*cfg = *updated
	return nil
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of cfg with every secret masked.
func Sanitize(cfg *Config) *Config {
	t, err := toTree(cfg)
	if err != nil {
		return cfg
	}
	for _, p := range secretPaths {
		t.mask(strings.Split(p, "."), t, maskString)
	}
	out, err := t.config()
	if err != nil {
		return cfg
	}
	return out
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	t.flatten("", t, out)
	return out
}
