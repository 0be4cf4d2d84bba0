package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/tlsutil"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultNATSName      = "orchd"
	DefaultMetricsPort   = 9090
	DefaultMetricsPath   = "/metrics"
	DefaultQueueSize     = 1000
	DefaultMaxReconnects = -1
	DefaultConfigBucket  = "orchd_config"
)

// Config is the runtime configuration of an orchd process.
type Config struct {
	Version   string                   `json:"version,omitempty" yaml:"version,omitempty"` // Semantic version for KV sync control
	Log       LogConfig                `json:"log" yaml:"log"`
	NATS      NATSConfig               `json:"nats" yaml:"nats"`
	Metrics   MetricsConfig            `json:"metrics" yaml:"metrics"`
	Dispatch  DispatchConfig           `json:"dispatch" yaml:"dispatch"`
	Reactions []model.ReactionTemplate `json:"reactions,omitempty" yaml:"reactions,omitempty"`
	Sensors   []model.SensorTemplate   `json:"sensors,omitempty" yaml:"sensors,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text, json
}

// NATSConfig defines the shared NATS connection. An empty URL runs the
// process without NATS.
type NATSConfig struct {
	URL           string         `json:"url,omitempty" yaml:"url,omitempty"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Token         string         `json:"token,omitempty" yaml:"token,omitempty"`
	Username      string         `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string         `json:"password,omitempty" yaml:"password,omitempty"`
	MaxReconnects int            `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait model.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`

	// TLS for tls:// and wss:// servers or mTLS authentication.
	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls,omitempty"`

	// Subject on which remote NATS communicators are received. Empty
	// disables the receiver.
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Codec   string `json:"codec,omitempty" yaml:"codec,omitempty"`

	// ConfigBucket is the KV bucket watched for template updates. Empty
	// disables the watch.
	ConfigBucket string `json:"config_bucket,omitempty" yaml:"config_bucket,omitempty"`
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DispatchConfig sizes the shared sink fan-out pool. Workers 0 delivers on
// one goroutine per sink.
type DispatchConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.NATS.TLS.CAFiles = slices.Clone(c.NATS.TLS.CAFiles)
	if c.Reactions != nil {
		clone.Reactions = make([]model.ReactionTemplate, len(c.Reactions))
		for i, r := range c.Reactions {
			clone.Reactions[i] = r.Clone()
		}
	}
	if c.Sensors != nil {
		clone.Sensors = make([]model.SensorTemplate, len(c.Sensors))
		for i, s := range c.Sensors {
			clone.Sensors[i] = s.Clone()
		}
	}
	return &clone
}

// ApplyDefaults fills unset fields. Templates without an id take their
// name as id so KV keys stay stable across restarts.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.NATS.Name == "" {
		c.NATS.Name = DefaultNATSName
	}
	if c.NATS.Codec == "" {
		c.NATS.Codec = codec.JSON
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = DefaultMaxReconnects
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}
	for i := range c.Reactions {
		if c.Reactions[i].ID == "" {
			c.Reactions[i].ID = c.Reactions[i].Name
		}
	}
	for i := range c.Sensors {
		if c.Sensors[i].ID == "" {
			c.Sensors[i].ID = c.Sensors[i].Name
		}
	}
}

// Validate checks the whole configuration. Every failure is classified
// invalid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "check config")
	}

	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			add("version: %v", err)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format %q is not one of text, json", c.Log.Format)
	}

	if c.NATS.URL != "" {
		for raw := range strings.SplitSeq(c.NATS.URL, ",") {
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil {
				add("nats.url %q: %v", raw, err)
				continue
			}
			switch u.Scheme {
			case "nats", "tls", "ws", "wss":
			default:
				add("nats.url %q: unsupported scheme %q", raw, u.Scheme)
			}
		}
	}
	if c.NATS.Token != "" && c.NATS.Username != "" {
		add("nats.token and nats.username are mutually exclusive")
	}
	if c.NATS.Password != "" && c.NATS.Username == "" {
		add("nats.password requires nats.username")
	}
	if c.NATS.Codec != "" {
		if _, err := codec.ByName(c.NATS.Codec); err != nil {
			add("nats.codec: %v", err)
		}
	}
	if c.NATS.Subject != "" && strings.ContainsAny(c.NATS.Subject, " \t") {
		add("nats.subject %q contains whitespace", c.NATS.Subject)
	}
	if (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		add("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	if c.NATS.ReconnectWait < 0 {
		add("nats.reconnect_wait must not be negative")
	}
	if (c.NATS.Subject != "" || c.NATS.ConfigBucket != "") && c.NATS.URL == "" {
		add("nats.subject and nats.config_bucket require nats.url")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			add("metrics.port %d out of range 1-65535", c.Metrics.Port)
		}
		if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if c.Dispatch.Workers < 0 {
		add("dispatch.workers must not be negative")
	}
	if c.Dispatch.QueueSize < 0 {
		add("dispatch.queue_size must not be negative")
	}

	reactionIDs := make(map[string]bool, len(c.Reactions))
	for i, r := range c.Reactions {
		if err := r.Validate(); err != nil {
			add("reactions[%d]: %v", i, err)
		}
		if r.ID != "" {
			if reactionIDs[r.ID] {
				add("reactions[%d]: duplicate id %q", i, r.ID)
			}
			reactionIDs[r.ID] = true
		}
	}
	sensorIDs := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if err := s.Validate(); err != nil {
			add("sensors[%d]: %v", i, err)
		}
		if s.ID != "" {
			if sensorIDs[s.ID] {
				add("sensors[%d]: duplicate id %q", i, s.ID)
			}
			sensorIDs[s.ID] = true
		}
	}

	if len(errs) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(errs...)),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

// Reaction returns the reaction template with the given id.
func (c *Config) Reaction(id string) (model.ReactionTemplate, bool) {
	i := slices.IndexFunc(c.Reactions, func(r model.ReactionTemplate) bool { return r.ID == id })
	if i < 0 {
		return model.ReactionTemplate{}, false
	}
	return c.Reactions[i].Clone(), true
}

// Sensor returns the sensor template with the given id.
func (c *Config) Sensor(id string) (model.SensorTemplate, bool) {
	i := slices.IndexFunc(c.Sensors, func(s model.SensorTemplate) bool { return s.ID == id })
	if i < 0 {
		return model.SensorTemplate{}, false
	}
	return c.Sensors[i].Clone(), true
}

// setReaction replaces the reaction with the same id or appends it.
func (c *Config) setReaction(t model.ReactionTemplate) {
	if i := slices.IndexFunc(c.Reactions, func(r model.ReactionTemplate) bool { return r.ID == t.ID }); i >= 0 {
		c.Reactions[i] = t
		return
	}
	c.Reactions = append(c.Reactions, t)
}

func (c *Config) deleteReaction(id string) {
	c.Reactions = slices.DeleteFunc(c.Reactions, func(r model.ReactionTemplate) bool { return r.ID == id })
}

func (c *Config) setSensor(t model.SensorTemplate) {
	if i := slices.IndexFunc(c.Sensors, func(s model.SensorTemplate) bool { return s.ID == t.ID }); i >= 0 {
		c.Sensors[i] = t
		return
	}
	c.Sensors = append(c.Sensors, t)
}

func (c *Config) deleteSensor(id string) {
	c.Sensors = slices.DeleteFunc(c.Sensors, func(s model.SensorTemplate) bool { return s.ID == id })
}

// Redacted returns a copy with credentials masked.
func (c *Config) Redacted() *Config {
	r := c.Clone()
	if r.NATS.Token != "" {
		r.NATS.Token = "***"
	}
	if r.NATS.Password != "" {
		r.NATS.Password = "***"
	}
	return r
}

// String renders the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	a, err := semVerParts(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	b, err := semVerParts(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}
	return slices.Compare(a[:], b[:]), nil
}

func semVerParts(version string) ([3]int, error) {
	major, minor, patch, err := parseSemVer(version)
	return [3]int{major, minor, patch}, err
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
// Returns major, minor, patch, error
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, stderrors.New("version cannot be empty")
	}

	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component '%s'", p)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
