package udp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/pkg/buffer"
	"github.com/c360/orchd/pkg/retry"
	"github.com/c360/orchd/sensor"
)

// SensorType is the type reference of the UDP listener probe.
const SensorType = "orchd.sensors.UDPListener"

// DefaultEventName is used when event_name is not set.
const DefaultEventName = "io.orchd.events.udp.Packet"

// Metrics holds Prometheus metrics for one listener.
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	socketErrors    prometheus.Counter
}

// newMetrics creates and registers listener metrics. A nil registry
// disables them.
func newMetrics(registry *metric.MetricsRegistry, service string) *Metrics {
	if registry == nil {
		return nil
	}
	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "orchd",
			Subsystem:   "udp",
			Name:        "packets_received_total",
			ConstLabels: prometheus.Labels{"listener": service},
			Help:        "Total UDP packets received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "orchd",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			ConstLabels: prometheus.Labels{"listener": service},
			Help:        "Total bytes received from UDP",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "orchd",
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			ConstLabels: prometheus.Labels{"listener": service},
			Help:        "Socket read errors encountered",
		}),
	}
	_ = registry.RegisterCounter(service, "packets_received", m.packetsReceived)
	_ = registry.RegisterCounter(service, "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter(service, "socket_errors", m.socketErrors)
	return m
}

// Config holds configuration for the UDP listener.
type Config struct {
	Bind        string
	ReadTimeout time.Duration
	MaxPacket   int
	BufferSize  int
	MaxBatch    int
	EventName   string
	ParseJSON   bool
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.Bind)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: bind %q", errors.ErrInvalidConfig, c.Bind),
			"Config", "Validate", "parse bind address")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: port %q", errors.ErrInvalidConfig, port),
			"Config", "Validate", "check port")
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: host %q", errors.ErrInvalidConfig, host),
			"Config", "Validate", "check host")
	}
	if c.MaxPacket <= 0 || c.MaxPacket > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_packet must be in 1..65535")
	}
	if c.BufferSize <= 0 || c.MaxBatch <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffer_size and max_batch must be positive")
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
		Bind:      p.String("bind", "0.0.0.0:14550"),
		EventName: p.String("event_name", DefaultEventName),
	}
	var err error
	if cfg.ReadTimeout, err = p.Duration("read_timeout", time.Second); err != nil {
		return cfg, err
	}
	if cfg.MaxPacket, err = p.Int("max_packet", 65535); err != nil {
		return cfg, err
	}
	if cfg.BufferSize, err = p.Int("buffer_size", 1000); err != nil {
		return cfg, err
	}
	if cfg.MaxBatch, err = p.Int("max_batch", 100); err != nil {
		return cfg, err
	}
	if cfg.ParseJSON, err = p.Bool("parse_json", false); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

type packet struct {
	data   []byte
	source string
	at     time.Time
}

// Listener is a UDP probe. It is bound by Configure and released by Close.
type Listener struct {
	config      Config
	logger      *slog.Logger
	retryConfig retry.Config

	mu       sync.Mutex
	conn     *net.UDPConn
	ring     *buffer.Ring[packet]
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool

	packets atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64

	metrics *Metrics
}

// NewListener creates an unconfigured listener.
func NewListener() *Listener {
	return &Listener{retryConfig: retry.Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}}
}

// Configure implements sensor.ConfigurableProbe. It binds the socket and
// starts reading.
func (l *Listener) Configure(ctx context.Context, tmpl model.SensorTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromParameters(tmpl.Parameters)
	if err != nil {
		return err
	}
	l.config = cfg

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "UDPListener", "Configure", "bind socket")
	}

	var conn *net.UDPConn
	if err := retry.Do(ctx, l.retryConfig, func() error {
		c, err := bindSocket(cfg.Bind)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}); err != nil {
		return errors.WrapTransient(err, "UDPListener", "Configure", "socket binding")
	}

	addr := conn.LocalAddr().(*net.UDPAddr)
	service := fmt.Sprintf("udp_%d", addr.Port)
	ring, err := buffer.NewRing[packet](cfg.BufferSize,
		buffer.WithOverflowPolicy(buffer.DropOldest),
		buffer.WithMetrics(deps.MetricsRegistry, service))
	if err != nil {
		_ = conn.Close()
		return err
	}

	l.conn = conn
	l.ring = ring
	l.metrics = newMetrics(deps.MetricsRegistry, service)
	l.logger = deps.GetLoggerWithComponent("udp-listener").With("addr", addr.String())
	l.shutdown = make(chan struct{})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readLoop(conn, l.shutdown)
	}()

	l.logger.Info("UDP listener bound", "buffer_size", cfg.BufferSize)
	return nil
}

func bindSocket(bind string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, retry.NonRetryable(fmt.Errorf("resolve UDP address %s: %w", bind, err))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}
	return conn, nil
}

// Addr returns the bound address, or nil before Configure.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *Listener) readLoop(conn *net.UDPConn, shutdown <-chan struct{}) {
	buf := make([]byte, l.config.MaxPacket)
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		// Short deadline so shutdown is observed promptly.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-shutdown:
				return
			default:
			}
			l.errors.Add(1)
			if l.metrics != nil {
				l.metrics.socketErrors.Inc()
			}
			l.logger.Warn("UDP read failed", "error", err)
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		l.packets.Add(1)
		l.bytes.Add(int64(n))
		if l.metrics != nil {
			l.metrics.packetsReceived.Inc()
			l.metrics.bytesReceived.Add(float64(n))
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if dropped, err := l.ring.Write(packet{data: data, source: from.String(), at: time.Now().UTC()}); err != nil {
			return
		} else if dropped {
			l.logger.Debug("UDP buffer full, dropped oldest packet")
		}
	}
}

// Sense implements sensor.Probe.
func (l *Listener) Sense(ctx context.Context, emit sensor.Emitter) error {
	l.mu.Lock()
	ring := l.ring
	l.mu.Unlock()
	if ring == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "UDPListener", "Sense", "check socket")
	}

	batch := ring.ReadBatch(l.config.MaxBatch)
	if len(batch) == 0 {
		timer := time.NewTimer(l.config.ReadTimeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ring.Notify():
		}
		batch = ring.ReadBatch(l.config.MaxBatch)
	}

	var firstErr error
	for _, p := range batch {
		e, err := model.NewEvent(l.config.EventName, l.eventData(p))
		if err == nil {
			err = emit.Emit(ctx, e)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Listener) eventData(p packet) map[string]any {
	data := map[string]any{
		"source":      p.source,
		"size":        len(p.data),
		"received_at": p.at.Format(time.RFC3339Nano),
		"payload":     string(p.data),
	}
	if l.config.ParseJSON {
		var obj map[string]any
		if json.Unmarshal(p.data, &obj) == nil {
			data["payload"] = obj
		}
	}
	return data
}

// Stats returns packets and bytes received and socket errors.
func (l *Listener) Stats() (packets, bytes, socketErrors int64) {
	return l.packets.Load(), l.bytes.Load(), l.errors.Load()
}

// Dropped returns the number of packets dropped because the ring was full.
func (l *Listener) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ring == nil {
		return 0
	}
	return l.ring.Stats().Drops
}

// Close stops the read loop and releases the socket.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed || l.conn == nil {
		l.closed = true
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.shutdown)
	err := l.conn.Close()
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "UDPListener", "Close", "wait for read loop")
	}
	_ = l.ring.Close()
	return errors.Wrap(err, "UDPListener", "Close", "close socket")
}

// ExampleTemplate returns the template printed by the CLI for this probe.
func ExampleTemplate() model.SensorTemplate {
	return model.SensorTemplate{
		Name:         "io.orchd.sensor_template.UDPListener",
		Description:  "Emits one event per received UDP packet",
		Version:      "1.0",
		Sensor:       SensorType,
		Communicator: sensor.LocalCommunicatorType,
		Parameters: map[string]string{
			"bind":         "0.0.0.0:14550",
			"read_timeout": "1s",
			"event_name":   DefaultEventName,
		},
	}
}

// Register registers the UDP listener with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SensorType,
		Kind:        component.KindSensor,
		Factory:     func() any { return NewListener() },
		Description: "UDP listener emitting one event per packet",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
