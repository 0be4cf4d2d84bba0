// Package opcua provides the orchd.sensors.OPCUAProbe probe. Each sample
// reads the configured nodes in one request and emits their values.
package opcua

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/sensor"
)

// SensorType is the type reference of the OPC UA probe.
const SensorType = "orchd.sensors.OPCUAProbe"

// DefaultEventName is used when event_name is not set.
const DefaultEventName = "io.orchd.events.opcua.Values"

// Reader is the subset of *opcua.Client used by the probe.
type Reader interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Close(ctx context.Context) error
}

// DialFunc opens a session to the configured endpoint.
type DialFunc func(ctx context.Context, cfg Config) (Reader, error)

// Config holds configuration for the OPC UA probe.
type Config struct {
	Endpoint        string
	Nodes           []string
	EventName       string
	SecurityMode    string
	SecurityPolicy  string
	Username        string
	Password        string
	ApplicationName string
	Timeout         time.Duration
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Endpoint, "opc.tcp://") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: endpoint %q", errors.ErrInvalidConfig, c.Endpoint),
			"Config", "Validate", "check endpoint")
	}
	if len(c.Nodes) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one node is required")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: node %q: %v", errors.ErrInvalidConfig, n, err),
				"Config", "Validate", "parse node id")
		}
	}
	if c.Password != "" && c.Username == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "password requires username")
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
		Endpoint:        p.String("endpoint", ""),
		Nodes:           p.List("nodes"),
		EventName:       p.String("event_name", DefaultEventName),
		SecurityMode:    normalizeSecurityMode(p.String("security_mode", "None")),
		SecurityPolicy:  p.String("security_policy", "None"),
		Username:        p.String("username", ""),
		Password:        p.String("password", ""),
		ApplicationName: p.String("application_name", "orchd"),
	}
	var err error
	if cfg.Timeout, err = p.Duration("timeout", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

// ClientOptions returns the gopcua options for cfg.
func ClientOptions(cfg Config) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(cfg.SecurityMode),
		opcua.SecurityPolicy(cfg.SecurityPolicy),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.RequestTimeout(cfg.Timeout),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func dialClient(ctx context.Context, cfg Config) (Reader, error) {
	client, err := opcua.NewClient(cfg.Endpoint, ClientOptions(cfg)...)
	if err != nil {
		return nil, errors.WrapInvalid(err, "OPCUAProbe", "dial", "create client")
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.WrapTransient(err, "OPCUAProbe", "dial", "connect "+cfg.Endpoint)
	}
	return client, nil
}

// Probe reads all configured nodes per Sense. The session is opened on the
// first Sense and reopened after a failed read.
type Probe struct {
	config  Config
	nodeIDs []*ua.NodeID
	dial    DialFunc
	logger  *slog.Logger

	mu     sync.Mutex
	reader Reader
}

// NewProbe creates an unconfigured probe.
func NewProbe() *Probe {
	return &Probe{dial: dialClient}
}

// NewProbeWithDialer creates a probe that opens sessions through dial.
func NewProbeWithDialer(dial DialFunc) *Probe {
	return &Probe{dial: dial}
}

// Configure implements sensor.ConfigurableProbe. It does not connect.
func (p *Probe) Configure(_ context.Context, tmpl model.SensorTemplate, deps component.Dependencies) error {
	cfg, err := ConfigFromParameters(tmpl.Parameters)
	if err != nil {
		return err
	}
	p.config = cfg
	p.nodeIDs = make([]*ua.NodeID, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		p.nodeIDs[i], _ = ua.ParseNodeID(n)
	}
	p.logger = deps.GetLoggerWithComponent("opcua-probe").With("endpoint", cfg.Endpoint)
	return nil
}

func (p *Probe) session(ctx context.Context) (Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader != nil {
		return p.reader, nil
	}
	r, err := p.dial(ctx, p.config)
	if err != nil {
		return nil, err
	}
	p.reader = r
	p.logger.Info("OPC UA session opened", "nodes", len(p.nodeIDs))
	return r, nil
}

func (p *Probe) drop(ctx context.Context, r Reader) {
	p.mu.Lock()
	if p.reader == r {
		p.reader = nil
	}
	p.mu.Unlock()
	_ = r.Close(ctx)
}

// Sense implements sensor.Probe. The event data holds the endpoint, a
// values map keyed by node id and, for nodes whose read failed, a
// statuses map with the OPC UA status text.
func (p *Probe) Sense(ctx context.Context, emit sensor.Emitter) error {
	if p.nodeIDs == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "OPCUAProbe", "Sense", "check configuration")
	}

	r, err := p.session(ctx)
	if err != nil {
		return err
	}

	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        make([]*ua.ReadValueID, len(p.nodeIDs)),
	}
	for i, id := range p.nodeIDs {
		req.NodesToRead[i] = &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue}
	}

	resp, err := r.Read(ctx, req)
	if err != nil {
		p.drop(ctx, r)
		return errors.WrapTransient(err, "OPCUAProbe", "Sense", "read nodes")
	}
	if resp == nil || len(resp.Results) != len(p.nodeIDs) {
		return errors.WrapTransient(errors.ErrInvalidData, "OPCUAProbe", "Sense", "match read results")
	}

	values := make(map[string]any, len(resp.Results))
	statuses := map[string]any{}
	for i, res := range resp.Results {
		node := p.config.Nodes[i]
		if res.Status != ua.StatusOK {
			statuses[node] = res.Status.Error()
			continue
		}
		values[node] = variantValue(res.Value)
	}
	if len(values) == 0 {
		return errors.WrapTransient(
			fmt.Errorf("%w: no readable node", errors.ErrInvalidData),
			"OPCUAProbe", "Sense", "read nodes")
	}

	data := map[string]any{
		"endpoint": p.config.Endpoint,
		"values":   values,
	}
	if len(statuses) > 0 {
		data["statuses"] = statuses
	}
	e, err := model.NewEvent(p.config.EventName, data)
	if err != nil {
		return err
	}
	return emit.Emit(ctx, e)
}

// variantValue widens numeric variants to float64 and returns other
// values unchanged.
func variantValue(v *ua.Variant) any {
	if v == nil {
		return nil
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val)
	case float64:
		return val
	case int8:
		return float64(val)
	case uint8:
		return float64(val)
	case int16:
		return float64(val)
	case uint16:
		return float64(val)
	case int32:
		return float64(val)
	case uint32:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}

// Close closes the session if one is open.
func (p *Probe) Close(ctx context.Context) error {
	p.mu.Lock()
	r := p.reader
	p.reader = nil
	p.mu.Unlock()
	if r == nil {
		return nil
	}
	return errors.Wrap(r.Close(ctx), "OPCUAProbe", "Close", "close session")
}

// ExampleTemplate returns the template printed by the CLI for this probe.
func ExampleTemplate() model.SensorTemplate {
	return model.SensorTemplate{
		Name:             "io.orchd.sensor_template.OPCUAProbe",
		Description:      "Reads OPC UA node values once per sample",
		Version:          "1.0",
		Sensor:           SensorType,
		Communicator:     sensor.LocalCommunicatorType,
		SamplingInterval: model.Duration(5 * time.Second),
		Parameters: map[string]string{
			"endpoint":      "opc.tcp://localhost:4840",
			"nodes":         "ns=2;s=Temperature,ns=2;s=Pressure",
			"security_mode": "None",
		},
	}
}

// Register registers the OPC UA probe with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     SensorType,
		Kind:        component.KindSensor,
		Factory:     func() any { return NewProbe() },
		Description: "Polls OPC UA node values",
		Version:     "1.0",
		Template:    ExampleTemplate(),
	})
}
