// Package file provides a sink that writes reaction output to a file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// SinkType is the type reference of the file sink.
const SinkType = "orchd.sinks.FileSink"

// Config holds configuration for the file sink, read from the template
// properties.
type Config struct {
	Path          string
	Format        string
	Append        bool
	Compression   string
	BufferSize    int
	FlushInterval time.Duration
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "path is required")
	}

	validFormats := map[string]bool{"json": true, "jsonl": true, "raw": true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl, raw")
	}

	if c.Compression != "none" && c.Compression != "zstd" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"compression must be one of: none, zstd")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}

	if c.FlushInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"flush_interval cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the file sink
func DefaultConfig() Config {
	return Config{
		Path:          filepath.Join(os.TempDir(), "orchd", "output.jsonl"),
		Format:        "jsonl",
		Append:        true,
		Compression:   "none",
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// ConfigFromProperties builds a Config from sink template properties.
func ConfigFromProperties(props map[string]string) (Config, error) {
	p := component.Params(props)
	cfg := DefaultConfig()
	cfg.Path = p.String("path", cfg.Path)
	cfg.Format = p.String("format", cfg.Format)
	cfg.Compression = p.String("compression", cfg.Compression)

	var err error
	if cfg.Append, err = p.Bool("append", cfg.Append); err != nil {
		return cfg, err
	}
	if cfg.BufferSize, err = p.Int("buffer_size", cfg.BufferSize); err != nil {
		return cfg, err
	}
	if cfg.FlushInterval, err = p.Duration("flush_interval", cfg.FlushInterval); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Sink buffers payloads and writes them to a file
type Sink struct {
	config Config
	codec  codec.Codec
	logger *slog.Logger

	// File handling
	file   *os.File
	writer io.Writer
	zw     *zstd.Encoder
	fileMu sync.Mutex

	// Buffer for batching writes
	buffer   [][]byte
	bufferMu sync.Mutex

	// Lifecycle management
	shutdown  chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup

	// Metrics
	messagesWritten int64
	bytesWritten    int64
	errors          int64
}

// NewSink creates an unconfigured sink. Configure opens the file.
func NewSink() *Sink {
	return &Sink{codec: mustJSON()}
}

func mustJSON() codec.Codec {
	c, _ := codec.ByName(codec.JSON)
	return c
}

// Configure implements sink.Configurable. It creates the parent directory,
// opens the file and starts the flush loop.
func (f *Sink) Configure(_ context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromProperties(tmpl.Properties)
	if err != nil {
		return err
	}
	return f.open(cfg, deps.GetLoggerWithComponent("file-sink").With("path", cfg.Path))
}

func (f *Sink) open(cfg Config, logger *slog.Logger) error {
	f.config = cfg
	f.logger = logger
	if f.codec == nil {
		f.codec = mustJSON()
	}

	// Create output directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return errors.WrapFatal(err, "FileSink", "Configure", "create output directory")
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "FileSink", "Configure", "open output file")
	}
	f.file = file
	f.writer = file

	if cfg.Compression == "zstd" {
		// Appended zstd frames decode as one stream.
		f.zw, err = zstd.NewWriter(file)
		if err != nil {
			_ = file.Close()
			return errors.WrapFatal(err, "FileSink", "Configure", "create zstd encoder")
		}
		f.writer = f.zw
	}

	f.buffer = make([][]byte, 0, max(cfg.BufferSize, 1))
	f.shutdown = make(chan struct{})

	if cfg.FlushInterval > 0 {
		f.wg.Add(1)
		go f.flushLoop(cfg.FlushInterval)
	}

	f.logger.Info("File sink opened",
		"format", cfg.Format,
		"append", cfg.Append,
		"compression", cfg.Compression,
		"buffer_size", cfg.BufferSize)
	return nil
}

// Accept encodes data and buffers it. A full buffer is flushed
// synchronously and its write error returned.
func (f *Sink) Accept(ctx context.Context, data any) error {
	if f.file == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "FileSink", "Accept", "check file")
	}

	payload, err := codec.EncodePayload(f.codec, data)
	if err != nil {
		atomic.AddInt64(&f.errors, 1)
		return err
	}

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, payload)
	shouldFlush := len(f.buffer) >= f.config.BufferSize
	f.bufferMu.Unlock()

	if !shouldFlush {
		return nil
	}
	if err := ctx.Err(); err != nil {
		// Left in the buffer for the next flush.
		return nil
	}
	return f.flush()
}

// flushLoop periodically flushes the buffer
func (f *Sink) flushLoop(interval time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ticker.C:
			if err := f.flush(); err != nil {
				f.logger.Error("Periodic flush failed", "error", err)
			}
		}
	}
}

// Flush writes buffered payloads to the file.
func (f *Sink) Flush() error { return f.flush() }

func (f *Sink) flush() error {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return nil
	}
	messages := f.buffer
	f.buffer = make([][]byte, 0, cap(messages))
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.writer == nil {
		atomic.AddInt64(&f.errors, int64(len(messages)))
		return errors.WrapFatal(errors.ErrClosed, "FileSink", "flush",
			fmt.Sprintf("write %d messages", len(messages)))
	}

	var firstErr error
	for i, msg := range messages {
		n, err := f.writer.Write(f.frame(msg))
		if err != nil {
			atomic.AddInt64(&f.errors, 1)
			f.logger.Error("Failed to write message to file", "message_index", i, "error", err)
			if firstErr == nil {
				firstErr = errors.WrapTransient(err, "FileSink", "flush", "write message")
			}
			continue
		}
		atomic.AddInt64(&f.messagesWritten, 1)
		atomic.AddInt64(&f.bytesWritten, int64(n))
	}

	f.logger.Debug("Flush completed",
		"message_count", len(messages),
		"total_written", atomic.LoadInt64(&f.messagesWritten),
		"total_errors", atomic.LoadInt64(&f.errors))
	return firstErr
}

func (f *Sink) frame(msg []byte) []byte {
	switch f.config.Format {
	case "json":
		var obj any
		if err := json.Unmarshal(msg, &obj); err == nil {
			if formatted, err := json.MarshalIndent(obj, "", "  "); err == nil {
				return append(formatted, '\n')
			}
		}
		return append(msg, '\n')
	case "raw":
		return msg
	default:
		return append(msg, '\n')
	}
}

// Close flushes the buffer and closes the file. It is idempotent.
func (f *Sink) Close(context.Context) error {
	f.closeOnce.Do(func() {
		if f.shutdown != nil {
			close(f.shutdown)
		}
		f.wg.Wait()

		var errs []error
		if f.file != nil {
			if err := f.flush(); err != nil {
				errs = append(errs, err)
			}
		}

		f.fileMu.Lock()
		if f.zw != nil {
			if err := f.zw.Close(); err != nil {
				errs = append(errs, errors.WrapFatal(err, "FileSink", "Close", "finish zstd stream"))
			}
		}
		if f.file != nil {
			if err := f.file.Close(); err != nil {
				errs = append(errs, errors.WrapFatal(err, "FileSink", "Close", "close output file"))
			}
		}
		f.writer = nil
		f.fileMu.Unlock()

		if len(errs) > 0 {
			f.closeErr = errs[0]
		}
		if f.logger != nil {
			f.logger.Info("File sink closed",
				"messages_written", atomic.LoadInt64(&f.messagesWritten),
				"bytes_written", atomic.LoadInt64(&f.bytesWritten),
				"errors", atomic.LoadInt64(&f.errors))
		}
	})
	return f.closeErr
}

// Stats returns the number of messages and bytes written and the error count.
func (f *Sink) Stats() (messages, bytes, errs int64) {
	return atomic.LoadInt64(&f.messagesWritten), atomic.LoadInt64(&f.bytesWritten), atomic.LoadInt64(&f.errors)
}

// ExampleTemplate returns the template printed by the CLI for this sink.
func ExampleTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:      "io.orchd.sinks.FileSink",
		Version:   "1.0",
		SinkClass: SinkType,
		Properties: map[string]string{
			"path":           "/var/lib/orchd/output.jsonl",
			"format":         "jsonl",
			"append":         "true",
			"compression":    "none",
			"buffer_size":    "100",
			"flush_interval": "1s",
		},
	}
}

// Register registers the file sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return NewSink() },
		Description: "Writes output to a file in JSON, JSON lines or raw format, optionally zstd compressed",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
