package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/c360/orchd/errors"
)

// Wildcard in a trigger list matches every event name.
const Wildcard = ""

// SinkTemplate describes a sink to provision.
type SinkTemplate struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Version    string            `json:"version" yaml:"version"`
	SinkClass  string            `json:"sink_class" yaml:"sink_class"`
	Properties map[string]string `json:"properties" yaml:"properties"`
}

// Validate checks the template fields.
func (t SinkTemplate) Validate() error {
	if !ValidName(t.Name) {
		return invalidTemplate("SinkTemplate", "name", t.Name)
	}
	if strings.TrimSpace(t.SinkClass) == "" {
		return invalidTemplate("SinkTemplate", "sink_class", t.SinkClass)
	}
	return nil
}

// Clone returns a deep copy.
func (t SinkTemplate) Clone() SinkTemplate {
	t.Properties = maps.Clone(t.Properties)
	return t
}

// Property returns a property value or def when unset.
func (t SinkTemplate) Property(key, def string) string {
	if v, ok := t.Properties[key]; ok && v != "" {
		return v
	}
	return def
}

// ReactionTemplate describes a reaction: a handler, its triggers and the
// sinks its output is delivered to.
type ReactionTemplate struct {
	ID                string            `json:"id" yaml:"id"`
	Name              string            `json:"name" yaml:"name"`
	Version           string            `json:"version" yaml:"version"`
	Handler           string            `json:"handler" yaml:"handler"`
	TriggeredOn       []string          `json:"triggered_on" yaml:"triggered_on"`
	HandlerParameters map[string]string `json:"handler_parameters" yaml:"handler_parameters"`
	Sinks             []SinkTemplate    `json:"sinks" yaml:"sinks"`
	Active            bool              `json:"active" yaml:"active"`
}

// Validate checks the template and every nested sink template.
func (t ReactionTemplate) Validate() error {
	if !ValidName(t.Name) {
		return invalidTemplate("ReactionTemplate", "name", t.Name)
	}
	if strings.TrimSpace(t.Handler) == "" {
		return invalidTemplate("ReactionTemplate", "handler", t.Handler)
	}
	for _, trig := range t.TriggeredOn {
		if trig != Wildcard && !ValidName(trig) {
			return invalidTemplate("ReactionTemplate", "triggered_on", trig)
		}
	}
	for i, s := range t.Sinks {
		if err := s.Validate(); err != nil {
			return errors.Wrap(err, "ReactionTemplate", "Validate", fmt.Sprintf("validate sinks[%d]", i))
		}
	}
	return nil
}

// Triggers reports whether an event with the given name is dispatched to
// this reaction.
func (t ReactionTemplate) Triggers(name string) bool {
	for _, trig := range t.TriggeredOn {
		if trig == Wildcard || trig == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (t ReactionTemplate) Clone() ReactionTemplate {
	t.TriggeredOn = slices.Clone(t.TriggeredOn)
	t.HandlerParameters = maps.Clone(t.HandlerParameters)
	if t.Sinks != nil {
		sinks := make([]SinkTemplate, len(t.Sinks))
		for i, s := range t.Sinks {
			sinks[i] = s.Clone()
		}
		t.Sinks = sinks
	}
	return t
}

// Parameter returns a handler parameter or def when unset.
func (t ReactionTemplate) Parameter(key, def string) string {
	if v, ok := t.HandlerParameters[key]; ok && v != "" {
		return v
	}
	return def
}

// SensorTemplate describes a sensor: the probe kind, the communicator used
// to reach the bus and the sampling interval.
type SensorTemplate struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version          string            `json:"version" yaml:"version"`
	Sensor           string            `json:"sensor" yaml:"sensor"`
	Communicator     string            `json:"communicator" yaml:"communicator"`
	Parameters       map[string]string `json:"parameters" yaml:"parameters"`
	SamplingInterval Duration          `json:"sampling_interval" yaml:"sampling_interval"`
}

// Validate checks the template fields.
func (t SensorTemplate) Validate() error {
	if !ValidName(t.Name) {
		return invalidTemplate("SensorTemplate", "name", t.Name)
	}
	if strings.TrimSpace(t.Sensor) == "" {
		return invalidTemplate("SensorTemplate", "sensor", t.Sensor)
	}
	if t.SamplingInterval < 0 {
		return invalidTemplate("SensorTemplate", "sampling_interval", t.SamplingInterval.String())
	}
	return nil
}

// Clone returns a deep copy.
func (t SensorTemplate) Clone() SensorTemplate {
	t.Parameters = maps.Clone(t.Parameters)
	return t
}

// Parameter returns a sensor parameter or def when unset.
func (t SensorTemplate) Parameter(key, def string) string {
	if v, ok := t.Parameters[key]; ok && v != "" {
		return v
	}
	return def
}

// EnsureID returns id, or a fresh UUID when id is empty.
func EnsureID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func invalidTemplate(kind, field, value string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s %q", errors.ErrInvalidConfig, field, value),
		kind, "Validate", "validate "+field)
}

// Duration is a time.Duration that decodes from a Go duration string
// ("250ms") or a number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "1.5s" or 1.5.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts "1.5s" or 1.5.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(v any) (Duration, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		if t == "" {
			return 0, nil
		}
		pd, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", t, err)
		}
		return Duration(pd), nil
	case float64:
		return Duration(t * float64(time.Second)), nil
	case int:
		return Duration(time.Duration(t) * time.Second), nil
	default:
		return 0, fmt.Errorf("invalid duration type %T", v)
	}
}
