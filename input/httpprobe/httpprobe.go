// Package httpprobe provides the orchd.sensors.HTTPProbe probe, which polls
// an HTTP endpoint once per sample and emits the outcome as an event.
package httpprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/tlsutil"
	"github.com/c360/orchd/sensor"
)

// SensorType is the type reference of the HTTP probe.
const SensorType = "orchd.sensors.HTTPProbe"

// DefaultEventName is used when event_name is not set.
const DefaultEventName = "io.orchd.events.http.Response"

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodOptions: true,
}

// Config holds configuration for the HTTP probe.
type Config struct {
	URL          string
	Method       string
	Timeout      time.Duration
	EventName    string
	ExpectStatus int
	Headers      map[string]string
	Body         string
	MaxBody      int
	TLS          tlsutil.ClientConfig
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: url %q", errors.ErrInvalidConfig, c.URL),
			"Config", "Validate", "parse url")
	}
	if !allowedMethods[c.Method] {
		return errors.WrapInvalid(
			fmt.Errorf("%w: method %q", errors.ErrInvalidConfig, c.Method),
			"Config", "Validate", "check method")
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeout must be positive")
	}
	if c.ExpectStatus != 0 && (c.ExpectStatus < 100 || c.ExpectStatus > 599) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: expect_status %d", errors.ErrInvalidConfig, c.ExpectStatus),
			"Config", "Validate", "check expected status")
	}
	if !model.ValidName(c.EventName) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: event_name %q", errors.ErrInvalidName, c.EventName),
			"Config", "Validate", "check event name")
	}
	return nil
}

// ConfigFromParameters builds a Config from sensor template parameters.
func ConfigFromParameters(params map[string]string) (Config, error) {
	p := component.Params(params)
	cfg := Config{
		URL:       p.String("url", ""),
		Method:    strings.ToUpper(p.String("method", http.MethodGet)),
		EventName: p.String("event_name", DefaultEventName),
		Headers:   p.Prefixed("header."),
		Body:      p.String("body", ""),
	}
	var err error
	if cfg.Timeout, err = p.Duration("timeout", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ExpectStatus, err = p.Int("expect_status", 0); err != nil {
		return cfg, err
	}
	if cfg.MaxBody, err = p.Int("max_body", 64*1024); err != nil {
		return cfg, err
	}
	if cfg.TLS, err = tlsutil.FromProperties(params); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Probe performs one request per Sense.
type Probe struct {
	config Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewProbe creates an unconfigured probe.
func NewProbe() *Probe {
	return &Probe{now: time.Now}
}

// Configure implements sensor.ConfigurableProbe.
func (p *Probe) Configure(_ context.Context, tmpl model.SensorTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromParameters(tmpl.Parameters)
	if err != nil {
		return err
	}
	p.config = cfg
	p.logger = deps.GetLoggerWithComponent("http-probe").With("url", cfg.URL)

	p.client = &http.Client{Timeout: cfg.Timeout}
	if !cfg.TLS.IsZero() {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
		if err != nil {
			return err
		}
		p.client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return nil
}

// Sense implements sensor.Probe. Transport failures are returned; any
// response is emitted, with "ok" reporting whether the status matched.
func (p *Probe) Sense(ctx context.Context, emit sensor.Emitter) error {
	if p.client == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "HTTPProbe", "Sense", "check client")
	}

	var body io.Reader
	if p.config.Body != "" {
		body = strings.NewReader(p.config.Body)
	}
	req, err := http.NewRequestWithContext(ctx, p.config.Method, p.config.URL, body)
	if err != nil {
		return errors.WrapInvalid(err, "HTTPProbe", "Sense", "build request")
	}
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "HTTPProbe", "Sense", "request "+p.config.URL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(p.config.MaxBody)))
	if err != nil {
		return errors.WrapTransient(err, "HTTPProbe", "Sense", "read body")
	}
	latency := p.now().Sub(start)

	ok := p.statusOK(resp.StatusCode)
	if !ok {
		p.logger.Debug("Unexpected status", "status", resp.StatusCode)
	}

	e, err := model.NewEvent(p.config.EventName, map[string]any{
		"url":        p.config.URL,
		"method":     p.config.Method,
		"status":     resp.StatusCode,
		"ok":         ok,
		"latency_ms": latency.Milliseconds(),
		"body":       decodeBody(resp.Header.Get("Content-Type"), raw),
	})
	if err != nil {
		return err
	}
	return emit.Emit(ctx, e)
}

func (p *Probe) statusOK(status int) bool {
	if p.config.ExpectStatus != 0 {
		return status == p.config.ExpectStatus
	}
	return status >= 200 && status < 300
}

// decodeBody returns JSON bodies as decoded values and anything else as text.
func decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil &&
		(mt == "application/json" || strings.HasSuffix(mt, "+json")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if dec.Decode(&v) == nil {
			return v
		}
	}
	return string(raw)
}

// Close releases idle connections.
func (p *Probe) Close(context.Context) error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

// ExampleTemplate returns the template printed by the CLI for this probe.
func ExampleTemplate() model.SensorTemplate {
	return model.SensorTemplate{
		Name:             "io.orchd.sensor_template.HTTPProbe",
		Description:      "Polls an HTTP endpoint and emits the response",
		Version:          "1.0",
		Sensor:           SensorType,
		Communicator:     sensor.LocalCommunicatorType,
		SamplingInterval: model.Duration(30 * time.Second),
		Parameters: map[string]string{
			"url":           "http://localhost:8080/health",
			"expect_status": "200",
			"timeout":       "5s",
		},
	}
}

// Register registers the HTTP probe with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SensorType,
		Kind:        component.KindSensor,
		Factory:     func() any { return NewProbe() },
		Description: "Polls an HTTP endpoint once per sample",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
