package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/pkg/tlsutil"
)

// ClientOption configures a Client. NewClient fails with an invalid error
// when an option rejects its value.
type ClientOption func(*Client) error

func invalidOption(option string, value any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s=%v", errors.ErrInvalidConfig, option, value),
		"Client", option, "validate option")
}

// durationOption sets *field when d is positive.
func durationOption(option string, d time.Duration, field func(*Client) *time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return invalidOption(option, d)
		}
		*field(c) = d
		return nil
	}
}

// WithMaxReconnects sets the reconnect attempts, -1 retries forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		if n < -1 {
			return invalidOption("WithMaxReconnects", n)
		}
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return durationOption("WithReconnectWait", d, func(c *Client) *time.Duration { return &c.reconnectWait })
}

// WithPingInterval sets the server ping interval.
func WithPingInterval(d time.Duration) ClientOption {
	return durationOption("WithPingInterval", d, func(c *Client) *time.Duration { return &c.pingInterval })
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) ClientOption {
	return durationOption("WithTimeout", d, func(c *Client) *time.Duration { return &c.timeout })
}

// WithDrainTimeout bounds the drain performed by Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return durationOption("WithDrainTimeout", d, func(c *Client) *time.Duration { return &c.drainTimeout })
}

// WithHealthInterval sets the health probe interval. Zero disables probing.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return invalidOption("WithHealthInterval", d)
		}
		c.healthInterval = d
		return nil
	}
}

// WithCircuitBreakerThreshold sets the consecutive failures that open the
// circuit. Values below 1 keep the default of 5.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold >= 1 {
			c.circuitThreshold = threshold
		}
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker backoff. Values below one second
// keep the default of one minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d >= time.Second {
			c.maxBackoff = d
		}
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" {
			return invalidOption("WithCredentials", "empty username")
		}
		c.username, c.password = username, password
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS secures the connection. A zero config leaves TLS to the URL
// scheme.
func WithTLS(cfg tlsutil.ClientConfig) ClientOption {
	return func(c *Client) error {
		if cfg.IsZero() {
			return nil
		}
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg)
		if err != nil {
			return err
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithDisconnectCallback is called after the connection drops.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called after a successful reconnect.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback is called when IsHealthy changes.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithMetrics records connection status, RTT, reconnects and circuit
// breaker state into the core metrics of registry.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}
