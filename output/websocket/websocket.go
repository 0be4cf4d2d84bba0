// Package websocket provides a sink that streams reaction output to a
// WebSocket server.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/tlsutil"
)

// SinkType is the type reference of the WebSocket sink.
const SinkType = "orchd.sinks.WebSocketSink"

// Config holds configuration for the WebSocket sink
type Config struct {
	URL              string
	Headers          map[string]string
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	Codec            string
	MessageType      string
	TLS              tlsutil.ClientConfig
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
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url scheme must be ws or wss")
	}
	if c.MessageType != "" && c.MessageType != "text" && c.MessageType != "binary" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"message_type must be one of: text, binary")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "write_timeout must be positive")
	}
	return nil
}

// DefaultConfig returns default configuration for the WebSocket sink
func DefaultConfig() Config {
	return Config{
		Headers:          make(map[string]string),
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Codec:            codec.JSON,
	}
}

// ConfigFromProperties builds a Config from sink template properties.
func ConfigFromProperties(props map[string]string) (Config, error) {
	p := component.Params(props)
	cfg := DefaultConfig()
	cfg.URL = p.String("url", "")
	cfg.Codec = p.String("codec", cfg.Codec)
	cfg.MessageType = p.String("message_type", "")
	cfg.Headers = p.Prefixed("header.")

	var err error
	if cfg.WriteTimeout, err = p.Duration("write_timeout", cfg.WriteTimeout); err != nil {
		return cfg, err
	}
	if cfg.HandshakeTimeout, err = p.Duration("handshake_timeout", cfg.HandshakeTimeout); err != nil {
		return cfg, err
	}
	if cfg.TLS, err = tlsutil.FromProperties(props); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Sink holds one client connection. A broken connection is redialled once
// on the next Accept.
type Sink struct {
	config      Config
	codec       codec.Codec
	messageType int
	dialer      *websocket.Dialer
	header      http.Header
	logger      *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	wg     sync.WaitGroup

	messagesSent int64
	reconnects   int64
	errors       int64
}

// NewSink creates an unconfigured sink.
func NewSink() *Sink {
	return &Sink{}
}

// Configure implements sink.Configurable. It dials the server so a bad
// endpoint fails reaction provisioning.
func (w *Sink) Configure(ctx context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromProperties(tmpl.Properties)
	if err != nil {
		return err
	}
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	if !cfg.TLS.IsZero() {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
		if err != nil {
			return errors.WrapFatal(err, "WebSocketSink", "Configure", "load TLS config")
		}
		dialer.TLSClientConfig = tlsConfig
	}

	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	w.config = cfg
	w.codec = c
	w.dialer = &dialer
	w.header = header
	w.messageType = websocket.TextMessage
	if cfg.MessageType == "binary" || (cfg.MessageType == "" && c.Name() == codec.CBOR) {
		w.messageType = websocket.BinaryMessage
	}
	w.logger = deps.GetLoggerWithComponent("websocket-sink").With("url", cfg.URL)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.dialLocked(ctx); err != nil {
		return err
	}
	w.logger.Info("WebSocket sink connected", "codec", c.Name())
	return nil
}

func (w *Sink) dialLocked(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.config.URL, w.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return errors.WrapInvalid(fmt.Errorf("handshake status %d: %w", resp.StatusCode, err),
				"WebSocketSink", "dial", "connect to "+w.config.URL)
		}
		return errors.WrapTransient(err, "WebSocketSink", "dial", "connect to "+w.config.URL)
	}
	w.conn = conn

	w.wg.Add(1)
	go w.readLoop(conn)
	return nil
}

// readLoop drains incoming frames so control frames are processed, and
// drops the connection when the server goes away.
func (w *Sink) readLoop(conn *websocket.Conn) {
	defer w.wg.Done()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			closed := w.closed
			w.mu.Unlock()
			_ = conn.Close()
			if !closed {
				w.logger.Warn("WebSocket connection lost", "error", err)
			}
			return
		}
	}
}

// Accept encodes data and writes it as one message.
func (w *Sink) Accept(ctx context.Context, data any) error {
	if w.dialer == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "WebSocketSink", "Accept", "check connection")
	}
	payload, err := codec.EncodePayload(w.codec, data)
	if err != nil {
		atomic.AddInt64(&w.errors, 1)
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.WrapInvalid(errors.ErrClosed, "WebSocketSink", "Accept", "check connection")
	}

	if w.conn != nil {
		if err := w.writeLocked(payload); err == nil {
			atomic.AddInt64(&w.messagesSent, 1)
			return nil
		}
		_ = w.conn.Close()
		w.conn = nil
	}

	atomic.AddInt64(&w.reconnects, 1)
	if err := w.dialLocked(ctx); err != nil {
		atomic.AddInt64(&w.errors, 1)
		return err
	}
	if err := w.writeLocked(payload); err != nil {
		atomic.AddInt64(&w.errors, 1)
		return errors.WrapTransient(err, "WebSocketSink", "Accept", "write message")
	}
	atomic.AddInt64(&w.messagesSent, 1)
	return nil
}

func (w *Sink) writeLocked(payload []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	return w.conn.WriteMessage(w.messageType, payload)
}

// Close sends a close frame and closes the connection. It is idempotent.
func (w *Sink) Close(context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	w.wg.Wait()
	return nil
}

// Stats returns sent messages, reconnects and errors.
func (w *Sink) Stats() (sent, reconnects, failed int64) {
	return atomic.LoadInt64(&w.messagesSent), atomic.LoadInt64(&w.reconnects), atomic.LoadInt64(&w.errors)
}

// ExampleTemplate returns the template printed by the CLI for this sink.
func ExampleTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:      "io.orchd.sinks.WebSocketSink",
		Version:   "1.0",
		SinkClass: SinkType,
		Properties: map[string]string{
			"url":           "ws://localhost:8080/stream",
			"write_timeout": "10s",
			"codec":         "json",
		},
	}
}

// Register registers the WebSocket sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return NewSink() },
		Description: "Streams output to a WebSocket server",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
