package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/sink"
)

// Type references of the built-in handlers.
const (
	PassthroughType = "orchd.handlers.Passthrough"
	FieldMapType    = "orchd.handlers.FieldMap"
	ThresholdType   = "orchd.handlers.Threshold"
)

// Passthrough forwards the event itself.
type Passthrough struct{}

// Handle implements reaction.Handler.
func (Passthrough) Handle(_ context.Context, e model.Event, _ model.ReactionTemplate) (any, error) {
	return map[string]any{
		"id":   e.ID(),
		"name": e.Name(),
		"data": e.Data(),
	}, nil
}

// FieldMap transforms the event data. Parameters are applied in order:
// map.<src>=<dst> renames, add.<key>=<value> sets, remove=a,b deletes,
// upper=a,b and lower=a,b change the case of string values.
type FieldMap struct{}

// Handle implements reaction.Handler.
func (FieldMap) Handle(_ context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error) {
	params := component.Params(tmpl.HandlerParameters)
	data := e.Data()
	if data == nil {
		data = map[string]any{}
	}

	renames := params.Prefixed("map.")
	for _, src := range slices.Sorted(maps.Keys(renames)) {
		dst := renames[src]
		if dst == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: map.%s has no target", errors.ErrInvalidConfig, src),
				"FieldMap", "Handle", "rename field")
		}
		if v, ok := data[src]; ok {
			delete(data, src)
			data[dst] = v
		}
	}
	for k, v := range params.Prefixed("add.") {
		data[k] = v
	}
	for _, k := range params.List("remove") {
		delete(data, k)
	}
	for _, k := range params.List("upper") {
		if s, ok := data[k].(string); ok {
			data[k] = strings.ToUpper(s)
		}
	}
	for _, k := range params.List("lower") {
		if s, ok := data[k].(string); ok {
			data[k] = strings.ToLower(s)
		}
	}
	return data, nil
}

// Threshold compares a numeric field against a limit. Parameters: field
// (dotted paths reach into nested maps), op (gt, gte, lt, lte, eq, ne;
// default gt), value and an optional label. A matching event produces its
// data plus a "threshold" annotation; anything else produces no output.
type Threshold struct{}

// Handle implements reaction.Handler.
func (Threshold) Handle(_ context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error) {
	params := component.Params(tmpl.HandlerParameters)
	field, err := params.Required("field")
	if err != nil {
		return nil, err
	}
	limit, err := params.Float("value", 0)
	if err != nil {
		return nil, err
	}
	op := params.String("op", "gt")
	cmp, ok := comparators[op]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown op %q", errors.ErrInvalidConfig, op),
			"Threshold", "Handle", "parse op")
	}

	raw, ok := lookup(e.Data(), field)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: field %q missing from %s", errors.ErrInvalidData, field, e.Name()),
			"Threshold", "Handle", "read field")
	}
	observed, ok := toFloat(raw)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: field %q is not numeric (%T)", errors.ErrInvalidData, field, raw),
			"Threshold", "Handle", "read field")
	}
	if !cmp(observed, limit) {
		return nil, errors.ErrNoOutput
	}

	out := e.Data()
	if out == nil {
		out = map[string]any{}
	}
	annotation := map[string]any{
		"field":    field,
		"op":       op,
		"value":    limit,
		"observed": observed,
	}
	if label := params.String("label", ""); label != "" {
		annotation["label"] = label
	}
	out["threshold"] = annotation
	return out, nil
}

var comparators = map[string]func(a, b float64) bool{
	"gt":  func(a, b float64) bool { return a > b },
	"gte": func(a, b float64) bool { return a >= b },
	"lt":  func(a, b float64) bool { return a < b },
	"lte": func(a, b float64) bool { return a <= b },
	"eq":  func(a, b float64) bool { return a == b },
	"ne":  func(a, b float64) bool { return a != b },
}

func lookup(data map[string]any, path string) (any, bool) {
	if v, ok := data[path]; ok {
		return v, true
	}
	var cur any = data
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func exampleTemplate(name, handler string, params map[string]string) model.ReactionTemplate {
	return model.ReactionTemplate{
		Name:              name,
		Version:           "1.0",
		TriggeredOn:       []string{"io.orchd.events.system.Test"},
		Handler:           handler,
		HandlerParameters: params,
		Sinks:             []model.SinkTemplate{sink.DummyTemplate()},
		Active:            true,
	}
}

// Register registers the built-in handlers.
func Register(registry *component.Registry) error {
	regs := []component.RegistrationConfig{
		{
			TypeRef:     PassthroughType,
			Kind:        component.KindHandler,
			Factory:     func() any { return Passthrough{} },
			Description: "Forwards the triggering event unchanged",
			Version:     "1.0",
			Template:    exampleTemplate("io.orchd.reaction_template.Passthrough", PassthroughType, map[string]string{}),
		},
		{
			TypeRef:     FieldMapType,
			Kind:        component.KindHandler,
			Factory:     func() any { return FieldMap{} },
			Description: "Renames, adds, removes and case-folds event data fields",
			Version:     "1.0",
			Template: exampleTemplate("io.orchd.reaction_template.FieldMap", FieldMapType, map[string]string{
				"map.temp":   "temperature",
				"add.source": "orchd",
				"remove":     "debug",
				"upper":      "unit",
			}),
		},
		{
			TypeRef:     ThresholdType,
			Kind:        component.KindHandler,
			Factory:     func() any { return Threshold{} },
			Description: "Forwards event data when a numeric field crosses a limit",
			Version:     "1.0",
			Template: exampleTemplate("io.orchd.reaction_template.Threshold", ThresholdType, map[string]string{
				"field": "temperature",
				"op":    "gt",
				"value": "80",
				"label": "overheat",
			}),
		},
	}
	for _, reg := range regs {
		if err := registry.RegisterWithConfig(reg); err != nil {
			return err
		}
	}
	return nil
}
