// Package mongosink provides the orchd.sinks.MongoSink sink, which stores
// reaction output as MongoDB documents.
package mongosink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// SinkType is the type reference of the MongoDB sink.
const SinkType = "orchd.sinks.MongoSink"

// Inserter stores one document.
type Inserter interface {
	InsertOne(ctx context.Context, doc any) error
}

type collectionInserter struct{ coll *mongo.Collection }

func (c collectionInserter) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

// Config holds configuration for the MongoDB sink.
type Config struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URI == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "uri is required")
	}
	if c.Database == "" || c.Collection == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "database and collection are required")
	}
	return nil
}

// ConfigFromProperties builds a Config from sink template properties.
func ConfigFromProperties(props map[string]string) (Config, error) {
	p := component.Params(props)
	cfg := Config{
		URI:        p.String("uri", ""),
		Database:   p.String("database", "orchd"),
		Collection: p.String("collection", "output"),
	}
	var err error
	if cfg.ConnectTimeout, err = p.Duration("connect_timeout", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Sink inserts one document per payload:
// {_id, received_at, payload}.
type Sink struct {
	config   Config
	client   *mongo.Client
	inserter Inserter
	logger   *slog.Logger
	now      func() time.Time

	closeOnce sync.Once
	closeErr  error

	inserted int64
	errors   int64
}

// NewSink creates an unconfigured sink.
func NewSink() *Sink {
	return &Sink{now: time.Now}
}

// NewSinkWithInserter creates a sink that stores through ins instead of a
// MongoDB client.
func NewSinkWithInserter(ins Inserter) *Sink {
	return &Sink{inserter: ins, now: time.Now}
}

// Configure implements sink.Configurable.
func (s *Sink) Configure(ctx context.Context, tmpl model.SinkTemplate, deps component.Dependencies) error {
	s.logger = deps.GetLoggerWithComponent("mongo-sink")
	if s.inserter != nil {
		return nil
	}

	cfg, err := ConfigFromProperties(tmpl.Properties)
	if err != nil {
		return err
	}
	s.config = cfg
	s.logger = s.logger.With("database", cfg.Database, "collection", cfg.Collection)

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return errors.WrapInvalid(err, "MongoSink", "Configure", "connect")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return errors.WrapTransient(err, "MongoSink", "Configure", "ping")
	}

	s.client = client
	s.inserter = collectionInserter{coll: client.Database(cfg.Database).Collection(cfg.Collection)}
	s.logger.Info("MongoDB sink connected")
	return nil
}

// Document builds the stored document for a payload. JSON byte payloads
// are decoded so they are stored as structured values.
func Document(id string, at time.Time, data any) bson.M {
	payload := data
	switch v := data.(type) {
	case []byte:
		var decoded any
		if json.Unmarshal(v, &decoded) == nil {
			payload = decoded
		} else {
			payload = string(v)
		}
	case json.RawMessage:
		var decoded any
		if json.Unmarshal(v, &decoded) == nil {
			payload = decoded
		}
	}
	return bson.M{
		"_id":         id,
		"received_at": at,
		"payload":     payload,
	}
}

// Accept stores one document.
func (s *Sink) Accept(ctx context.Context, data any) error {
	if s.inserter == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "MongoSink", "Accept", "check client")
	}
	doc := Document(uuid.NewString(), s.now().UTC(), data)
	if err := s.inserter.InsertOne(ctx, doc); err != nil {
		atomic.AddInt64(&s.errors, 1)
		return errors.WrapTransient(err, "MongoSink", "Accept", "insert document")
	}
	atomic.AddInt64(&s.inserted, 1)
	return nil
}

// Close disconnects the client.
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.client != nil {
			if err := s.client.Disconnect(ctx); err != nil {
				s.closeErr = errors.WrapTransient(err, "MongoSink", "Close", "disconnect")
			}
		}
	})
	return s.closeErr
}

// Stats returns inserted documents and failures.
func (s *Sink) Stats() (inserted, failed int64) {
	return atomic.LoadInt64(&s.inserted), atomic.LoadInt64(&s.errors)
}

// ExampleTemplate returns the template printed by the CLI for this sink.
func ExampleTemplate() model.SinkTemplate {
	return model.SinkTemplate{
		Name:      "io.orchd.sinks.MongoSink",
		Version:   "1.0",
		SinkClass: SinkType,
		Properties: map[string]string{
			"uri":        "mongodb://localhost:27017",
			"database":   "orchd",
			"collection": "output",
		},
	}
}

// Register registers the MongoDB sink with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SinkType,
		Kind:        component.KindSink,
		Factory:     func() any { return NewSink() },
		Description: "Stores output as MongoDB documents",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
