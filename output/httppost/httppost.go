// Package httppost provides a sink that POSTs reaction output to an HTTP
// endpoint.
package httppost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/retry"
	"github.com/c360/orchd/pkg/tlsutil"
)

// SinkType is the type reference of the HTTP POST sink.
const SinkType = "orchd.sinks.HTTPPostSink"

// Config holds configuration for the HTTP POST sink
type Config struct {
	URL         string
	Headers     map[string]string
	Timeout     time.Duration
	RetryCount  int
	RetryDelay  time.Duration
	ContentType string
	RateLimit   float64
	Codec       string
	TLS         tlsutil.ClientConfig
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url scheme must be http or https")
	}

	if c.Timeout < 0 || c.Timeout > 300*time.Second {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}

	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the HTTP POST sink
func DefaultConfig() Config {
	return Config{
		URL:        "http://localhost:8080/webhook",
		Headers:    make(map[string]string),
		Timeout:    30 * time.Second,
		RetryCount: 3,
		RetryDelay: 100 * time.Millisecond,
		Codec:      codec.JSON,
	}
}

// ConfigFromProperties builds a Config from sink template properties.
func ConfigFromProperties(props map[string]string) (Config, error) {
	p := component.Params(props)
	cfg := DefaultConfig()
	cfg.URL = p.String("url", "")
	cfg.ContentType = p.String("content_type", "")
	cfg.Codec = p.String("codec", cfg.Codec)
	cfg.Headers = p.Prefixed("header.")

	var err error
	if cfg.Timeout, err = p.Duration("timeout", cfg.Timeout); err != nil {
		return cfg, err
	}
	if cfg.RetryCount, err = p.Int("retry_count", cfg.RetryCount); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = p.Duration("retry_delay", cfg.RetryDelay); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = p.Float("rate_limit", 0); err != nil {
		return cfg, err
	}
	if cfg.TLS, err = tlsutil.FromProperties(props); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Sink sends each payload as one HTTP POST request.
type Sink struct {
	config     Config
	codec      codec.Codec
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	// Metrics
	messagesSent    int64
	messagesRetried int64
	errors          int64
}

// NewSink creates an unconfigured sink.
func NewSink() *Sink {
	return &Sink{}
}

// Configure implements sink.Configurable.
func (h *Sink) Configure(_ context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromProperties(tmpl.Properties)
	if err != nil {
		return err
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return err
	}
	if cfg.ContentType == "" {
		cfg.ContentType = c.ContentType()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if !cfg.TLS.IsZero() {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
		if err != nil {
			return errors.WrapFatal(err, "HTTPPostSink", "Configure", "load TLS config")
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	h.config = cfg
	h.codec = c
	h.httpClient = httpClient
	if cfg.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	h.logger = deps.GetLoggerWithComponent("httppost-sink").With("url", cfg.URL)
	h.logger.Info("HTTP POST sink configured",
		"codec", c.Name(),
		"retry_count", cfg.RetryCount,
		"rate_limit", cfg.RateLimit)
	return nil
}

// Accept encodes data and POSTs it, retrying transient failures. Client
// errors (4xx other than 429) are not retried.
func (h *Sink) Accept(ctx context.Context, data any) error {
	if h.httpClient == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "HTTPPostSink", "Accept", "check client")
	}

	payload, err := codec.EncodePayload(h.codec, data)
	if err != nil {
		atomic.AddInt64(&h.errors, 1)
		return err
	}

	cfg := retry.Config{
		MaxAttempts:  h.config.RetryCount + 1,
		InitialDelay: h.config.RetryDelay,
		MaxDelay:     max(h.config.RetryDelay, 5*time.Second),
		Multiplier:   2.0,
		AddJitter:    true,
		ShouldRetry:  errors.IsTransient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			atomic.AddInt64(&h.messagesRetried, 1)
			h.logger.Debug("Retrying HTTP POST", "attempt", attempt, "delay", delay, "error", err)
		},
	}

	err = retry.Do(ctx, cfg, func() error {
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return retry.NonRetryable(errors.WrapTransient(err, "HTTPPostSink", "Accept", "wait for rate limiter"))
			}
		}
		return h.sendHTTPPost(ctx, payload)
	})
	if err != nil {
		atomic.AddInt64(&h.errors, 1)
		return err
	}

	atomic.AddInt64(&h.messagesSent, 1)
	return nil
}

// sendHTTPPost sends a single HTTP POST request
func (h *Sink) sendHTTPPost(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(data))
	if err != nil {
		return errors.WrapInvalid(err, "HTTPPostSink", "sendHTTPPost", "build request")
	}

	req.Header.Set("Content-Type", h.config.ContentType)
	for key, value := range h.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "HTTPPostSink", "sendHTTPPost", "send request")
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.WrapTransient(errors.ErrRateLimited, "HTTPPostSink", "sendHTTPPost",
			fmt.Sprintf("HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return errors.WrapTransient(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
			"HTTPPostSink", "sendHTTPPost", "post payload")
	default:
		return errors.WrapInvalid(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
			"HTTPPostSink", "sendHTTPPost", "post payload")
	}
}

// Close releases idle connections.
func (h *Sink) Close(context.Context) error {
	if h.httpClient != nil {
		h.httpClient.CloseIdleConnections()
	}
	return nil
}

// Stats returns sent, retried and failed counts.
func (h *Sink) Stats() (sent, retried, failed int64) {
	return atomic.LoadInt64(&h.messagesSent), atomic.LoadInt64(&h.messagesRetried), atomic.LoadInt64(&h.errors)
}

// ExampleTemplate returns the template printed by the CLI for this sink.
func ExampleTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:      "io.orchd.sinks.HTTPPostSink",
		Version:   "1.0",
		SinkClass: SinkType,
		Properties: map[string]string{
			"url":                  "http://localhost:8080/webhook",
			"timeout":              "30s",
			"retry_count":          "3",
			"rate_limit":           "10",
			"codec":                "json",
			"header.Authorization": "Bearer <token>",
		},
	}
}

// Register registers the HTTP POST sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return NewSink() },
		Description: "POSTs output to an HTTP endpoint with retries and rate limiting",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
