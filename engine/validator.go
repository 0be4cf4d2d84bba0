package engine

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/sensor"
)

// Validation statuses.
const (
	StatusValid    = "valid"
	StatusWarnings = "warnings"
	StatusErrors   = "errors"
)

// Validator checks reaction and sensor templates against a registry
// without instantiating anything.
type Validator struct {
	registry *component.Registry
	logger   *slog.Logger
}

// NewValidator creates a validator resolving type references in registry.
func NewValidator(registry *component.Registry, logger *slog.Logger) *Validator {
	if registry == nil {
		registry = component.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{registry: registry, logger: logger}
}

// ValidationResult contains the results of template validation
type ValidationResult struct {
	Status   string            `json:"validation_status"` // "valid", "warnings", "errors"
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// ValidationIssue represents a single validation problem
type ValidationIssue struct {
	Type          string   `json:"type"`     // "invalid_template", "unknown_component", "duplicate_id", ...
	Severity      string   `json:"severity"` // "error", "warning"
	ComponentName string   `json:"component_name"`
	Field         string   `json:"field,omitempty"`
	Message       string   `json:"message"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// ValidationError carries a result with errors.
type ValidationError struct {
	Result *ValidationResult
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, issue := range e.Result.Errors {
		msgs = append(msgs, issue.ComponentName+": "+issue.Message)
	}
	return fmt.Sprintf("validation failed with %d error(s): %s", len(e.Result.Errors), strings.Join(msgs, "; "))
}

// Err returns nil for a result without errors, otherwise an invalid
// classified error wrapping a *ValidationError.
func (r *ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return errors.WrapInvalid(&ValidationError{Result: r}, "Validator", "Validate", "validate templates")
}

func (r *ValidationResult) addError(issue ValidationIssue) {
	issue.Severity = "error"
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) addWarning(issue ValidationIssue) {
	issue.Severity = "warning"
	r.Warnings = append(r.Warnings, issue)
}

// Validate checks every template. Errors make a configuration unusable;
// warnings flag templates that load but will likely never do anything.
func (v *Validator) Validate(reactions []model.ReactionTemplate, sensors []model.SensorTemplate) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}

	v.logger.Debug("Starting template validation",
		"reactions", len(reactions),
		"sensors", len(sensors))

	seen := map[string]string{}
	for _, tmpl := range reactions {
		v.validateReaction(tmpl, seen, result)
	}
	for _, tmpl := range sensors {
		v.validateSensor(tmpl, seen, result)
	}

	switch {
	case len(result.Errors) > 0:
		result.Status = StatusErrors
	case len(result.Warnings) > 0:
		result.Status = StatusWarnings
	default:
		result.Status = StatusValid
	}

	v.logger.Debug("Template validation complete",
		"status", result.Status,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))
	return result
}

func (v *Validator) checkDuplicate(kind, id, name string, seen map[string]string, result *ValidationResult) {
	if id == "" {
		id = name
	}
	key := kind + "/" + id
	if other, ok := seen[key]; ok {
		result.addError(ValidationIssue{
			Type:          "duplicate_id",
			ComponentName: name,
			Field:         "id",
			Message:       fmt.Sprintf("%s id %q is also used by %q", kind, id, other),
			Suggestions:   []string{"Give every template a distinct id or name"},
		})
		return
	}
	seen[key] = name
}

func (v *Validator) validateReaction(tmpl model.ReactionTemplate, seen map[string]string, result *ValidationResult) {
	name := tmpl.Name
	if err := tmpl.Validate(); err != nil {
		result.addError(ValidationIssue{
			Type:          "invalid_template",
			ComponentName: name,
			Message:       err.Error(),
		})
	}
	v.checkDuplicate("reaction", tmpl.ID, name, seen, result)

	if tmpl.Handler != "" {
		v.checkType(name, "handler", tmpl.Handler, component.KindHandler, result)
	}
	for i, s := range tmpl.Sinks {
		if s.SinkClass == "" {
			continue
		}
		v.checkType(name, fmt.Sprintf("sinks[%d].sink_class", i), s.SinkClass, component.KindSink, result)
	}

	if len(tmpl.Sinks) == 0 {
		result.addWarning(ValidationIssue{
			Type:          "no_sinks",
			ComponentName: name,
			Field:         "sinks",
			Message:       "Reaction has no sinks; handler output is discarded",
			Suggestions:   []string{"Add a sink, or use orchd.sinks.DummySink while testing"},
		})
	}
	if len(tmpl.TriggeredOn) == 0 {
		result.addWarning(ValidationIssue{
			Type:          "no_triggers",
			ComponentName: name,
			Field:         "triggered_on",
			Message:       "Reaction has no triggers and will never run",
			Suggestions:   []string{`Use "" to match every event`},
		})
	}
	if !tmpl.Active {
		result.addWarning(ValidationIssue{
			Type:          "inactive",
			ComponentName: name,
			Field:         "active",
			Message:       "Reaction is provisioned but not subscribed until started",
		})
	}
}

func (v *Validator) validateSensor(tmpl model.SensorTemplate, seen map[string]string, result *ValidationResult) {
	name := tmpl.Name
	if err := tmpl.Validate(); err != nil {
		result.addError(ValidationIssue{
			Type:          "invalid_template",
			ComponentName: name,
			Message:       err.Error(),
		})
	}
	v.checkDuplicate("sensor", tmpl.ID, name, seen, result)

	if tmpl.Sensor != "" {
		v.checkType(name, "sensor", tmpl.Sensor, component.KindSensor, result)
	}
	comm := tmpl.Communicator
	if comm == "" {
		comm = sensor.LocalCommunicatorType
	}
	v.checkType(name, "communicator", comm, component.KindCommunicator, result)

	if _, err := sensor.ParseErrorPolicy(tmpl.Parameter("on_error", "")); err != nil {
		result.addError(ValidationIssue{
			Type:          "invalid_parameter",
			ComponentName: name,
			Field:         "parameters.on_error",
			Message:       err.Error(),
			Suggestions:   []string{`Use "continue" or "abort"`},
		})
	}
	if tmpl.SamplingInterval == 0 {
		result.addWarning(ValidationIssue{
			Type:          "zero_interval",
			ComponentName: name,
			Field:         "sampling_interval",
			Message:       "Sensor samples back to back; only blocking probes should run without an interval",
		})
	}
}

func (v *Validator) checkType(name, field, typeRef string, kind component.Kind, result *ValidationResult) {
	err := v.registry.Check(typeRef, kind)
	if err == nil {
		return
	}

	issue := ValidationIssue{
		Type:          "unknown_component",
		ComponentName: name,
		Field:         field,
		Message:       err.Error(),
	}
	var re *errors.ResolutionError
	if stderrors.As(err, &re) && re.Reason == errors.KindMismatch {
		issue.Type = "kind_mismatch"
	}
	issue.Suggestions = v.suggest(typeRef, kind)
	result.addError(issue)
}

// suggest lists registered types of kind with the same type name or in the
// same namespace.
func (v *Validator) suggest(typeRef string, kind component.Kind) []string {
	namespace, typeName, _ := component.SplitTypeRef(typeRef)

	var byName, byNamespace []string
	for _, info := range v.registry.ListKind(kind) {
		ns, n, _ := component.SplitTypeRef(info.TypeRef)
		switch {
		case typeName != "" && strings.EqualFold(n, typeName):
			byName = append(byName, "Did you mean "+info.TypeRef+"?")
		case namespace != "" && ns == namespace:
			byNamespace = append(byNamespace, "Registered in "+ns+": "+info.TypeRef)
		}
	}
	suggestions := append(byName, byNamespace...)
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	if len(suggestions) == 0 {
		suggestions = []string{fmt.Sprintf("Run `orchd types` to list registered %s types", kind)}
	}
	return suggestions
}

// Validate checks templates against the engine registry.
func (e *Engine) Validate(reactions []model.ReactionTemplate, sensors []model.SensorTemplate) *ValidationResult {
	result := NewValidator(e.registry, e.logger).Validate(reactions, sensors)
	e.metrics.recordValidation(result.Status)
	return result
}
