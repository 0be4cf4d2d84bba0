package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ReplyHandler answers a request; the returned bytes are the reply.
type ReplyHandler func(context.Context, []byte) ([]byte, error)

// MockNATSClient is an in-memory stand-in for natsclient.Client covering
// the methods communicators and receivers use: Connect, Publish,
// Subscribe, Request, Reply and Close. Subjects match literally.
// Thread-safe for concurrent use from multiple goroutines.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions map[string][]func(context.Context, []byte)
	repliers      map[string][]ReplyHandler
	connected     bool
	closed        bool

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// ConnectCalls counts Connect invocations.
	ConnectCalls int
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:      make(map[string][][]byte),
		subscriptions: make(map[string][]func(context.Context, []byte)),
		repliers:      make(map[string][]ReplyHandler),
	}
}

// Connect marks the client connected unless ConnectErr is set.
func (c *MockNATSClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	c.closed = false
	return nil
}

// Publish records data and delivers it to subscribers and repliers.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)

	// Copy handlers to avoid holding lock during callbacks
	handlers := append([]func(context.Context, []byte){}, c.subscriptions[subject]...)
	repliers := append([]ReplyHandler{}, c.repliers[subject]...)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, data)
	}
	for _, r := range repliers {
		_, _ = r(ctx, data)
	}
	return nil
}

// Subscribe registers a handler for a subject.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.subscriptions[subject] = append(c.subscriptions[subject], handler)
	return nil
}

// Reply registers a request handler for a subject.
func (c *MockNATSClient) Reply(ctx context.Context, subject string, handler func(context.Context, []byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.repliers[subject] = append(c.repliers[subject], handler)
	return nil
}

// Request records data and returns the answer of the first replier.
func (c *MockNATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)
	repliers := c.repliers[subject]
	c.mu.Unlock()

	if len(repliers) == 0 {
		return nil, fmt.Errorf("no responders on subject %s", subject)
	}
	return repliers[0](ctx, data)
}

// GetMessages returns all messages for a subject as [][]byte.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Close closes the mock client.
func (c *MockNATSClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

// IsConnected reports whether Connect succeeded and Close was not called.
func (c *MockNATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WaitForMessageCount waits for a specific number of messages (with timeout).
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.GetMessageCount(subject) >= count {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on subject %s (got %d)", count, subject, client.GetMessageCount(subject))
}
