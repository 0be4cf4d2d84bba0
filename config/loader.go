package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "ORCHD"

// Loader loads configuration with layer merging and environment overrides.
// Later layers override earlier ones key by key; lists are replaced whole.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. YAML (.yaml, .yml) and JSON
// with comments (.json, .jsonc) are accepted.
func (l *Loader) AddLayer(path string) *Loader {
	l.layers = append(l.layers, path)
	return l
}

// EnableValidation toggles schema checks of template documents and the
// final Validate call.
func (l *Loader) EnableValidation(enabled bool) *Loader {
	l.validation = enabled
	return l
}

// SetEnvPrefix changes the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// LoadFile loads and validates a single configuration file.
func LoadFile(path string) (*Config, error) {
	return NewLoader().AddLayer(path).Load()
}

// Load merges every layer, applies environment overrides and defaults, and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}
	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, raw)
	}
	return l.build(merged)
}

// Parse decodes a single document in the given format ("json" or "yaml")
// and runs it through the same pipeline as Load.
func (l *Loader) Parse(data []byte, format string) (*Config, error) {
	raw, err := parseRaw(data, format)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Parse", "parse "+format)
	}
	return l.build(raw)
}

func (l *Loader) build(merged map[string]any) (*Config, error) {
	normalizeTemplates(merged)

	if l.validation {
		if err := validateTemplateDocuments(merged); err != nil {
			return nil, err
		}
	}

	cfg, err := decodeConfig(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	cfg.ApplyDefaults()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseRaw(data, format)
}

func parseRaw(data []byte, format string) (map[string]any, error) {
	raw := map[string]any{}
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	case formatJSON:
		data = jsonc.ToJSON(data)
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return raw, nil
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", errors.ErrInvalidConfig, format)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func decodeConfig(merged map[string]any) (*Config, error) {
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// deepMergeMaps merges override into base; nested maps merge, other values
// replace.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// normalizeTemplates lets YAML authors write unquoted scalars and lists in
// string maps: {delay: 1, nodes: [a, b]} becomes {delay: "1", nodes: "a,b"}.
// A single trigger string becomes a one-element list and null fields are
// dropped.
func normalizeTemplates(merged map[string]any) {
	for _, r := range docList(merged["reactions"]) {
		dropNulls(r)
		stringifyMap(r, "handler_parameters")
		if s, ok := r["triggered_on"].(string); ok {
			r["triggered_on"] = []any{s}
		}
		for _, sink := range docList(r["sinks"]) {
			dropNulls(sink)
			stringifyMap(sink, "properties")
		}
	}
	for _, s := range docList(merged["sensors"]) {
		dropNulls(s)
		stringifyMap(s, "parameters")
	}
}

func dropNulls(doc map[string]any) {
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
}

func docList(v any) []map[string]any {
	items, _ := v.([]any)
	docs := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			docs = append(docs, m)
		}
	}
	return docs
}

func stringifyMap(doc map[string]any, key string) {
	m, ok := doc[key].(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		m[k] = scalarString(v)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = scalarString(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

func validateTemplateDocuments(merged map[string]any) error {
	check := func(kind, section string) error {
		for i, doc := range docList(merged[section]) {
			data, err := json.Marshal(doc)
			if err != nil {
				return errors.WrapInvalid(
					fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
					"Loader", "Load", fmt.Sprintf("encode %s[%d]", section, i))
			}
			if err := model.ValidateDocument(kind, data); err != nil {
				return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("validate %s[%d]", section, i))
			}
		}
		return nil
	}
	if err := check(model.KindReaction, "reactions"); err != nil {
		return err
	}
	return check(model.KindSensor, "sensors")
}

type envOverride struct {
	suffix string
	apply  func(cfg *Config, value string) error
}

var envOverrides = []envOverride{
	{"_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"_LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"_NATS_URL", func(c *Config, v string) error { c.NATS.URL = v; return nil }},
	{"_NATS_TOKEN", func(c *Config, v string) error { c.NATS.Token = v; return nil }},
	{"_NATS_USERNAME", func(c *Config, v string) error { c.NATS.Username = v; return nil }},
	{"_NATS_PASSWORD", func(c *Config, v string) error { c.NATS.Password = v; return nil }},
	{"_NATS_SUBJECT", func(c *Config, v string) error { c.NATS.Subject = v; return nil }},
	{"_NATS_CONFIG_BUCKET", func(c *Config, v string) error { c.NATS.ConfigBucket = v; return nil }},
	{"_METRICS_ENABLED", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Metrics.Enabled = b
		return err
	}},
	{"_METRICS_PORT", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Metrics.Port = n
		return err
	}},
	{"_DISPATCH_WORKERS", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Dispatch.Workers = n
		return err
	}},
	{"_DISPATCH_QUEUE_SIZE", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Dispatch.QueueSize = n
		return err
	}},
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		key := l.envPrefix + o.suffix
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := validateEnvVar(key, value); err != nil {
			return err
		}
		if err := o.apply(cfg, value); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", errors.ErrInvalidConfig, key, value, err)
		}
	}
	return nil
}

// Save writes cfg to path as YAML or JSON, chosen by extension, with
// owner-only permissions.
func Save(path string, cfg *Config) error {
	format, err := formatOf(path)
	if err != nil {
		return errors.WrapInvalid(err, "config", "Save", "select format")
	}

	var data []byte
	switch format {
	case formatYAML:
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "config", "Save", "encode configuration")
	}
	return errors.Wrap(safeWriteFile(path, data), "config", "Save", "write "+path)
}
