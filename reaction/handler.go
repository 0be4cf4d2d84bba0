package reaction

import (
	"context"
	"log/slog"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/sink"
)

// ErrNoOutput is returned by a Handler that has nothing to deliver for an
// event. It is not counted as a failure.
var ErrNoOutput = errors.ErrNoOutput

// Handler turns a triggering event into output for the reaction's sinks.
// A nil output with a nil error is still delivered. Handle may be called
// concurrently; each call gets its own copy of the template.
type Handler interface {
	Handle(ctx context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error) {
	return f(ctx, e, tmpl)
}

// DummyHandlerType is the type reference of DummyReactionHandler.
const DummyHandlerType = "orchd.reactions.DummyReactionHandler"

// DummyReactionHandler logs the call and produces no payload.
type DummyReactionHandler struct{}

// Handle implements Handler.
func (DummyReactionHandler) Handle(_ context.Context, e model.Event, tmpl model.ReactionTemplate) (any, error) {
	slog.Info("DummyReactionHandler.Handle called", "event", e.Name(), "reaction", tmpl.Name)
	return nil, nil
}

// DummyTemplate returns the template of the built-in test reaction.
func DummyTemplate() model.ReactionTemplate {
	return model.ReactionTemplate{
		ID:                "cfe5b2cd-fb15-4ca6-888f-6a770d1a4e6a",
		Name:              "io.orchd.reaction_template.DummyTemplate",
		Version:           "1.0",
		TriggeredOn:       []string{"io.orchd.events.system.Test"},
		Handler:           DummyHandlerType,
		HandlerParameters: map[string]string{},
		Sinks:             []model.SinkTemplate{sink.DummyTemplate()},
		Active:            true,
	}
}

// Register registers the handlers of this package.
func Register(registry *component.Registry) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		TypeRef:     DummyHandlerType,
		Kind:        component.KindHandler,
		Factory:     func() any { return DummyReactionHandler{} },
		Description: "Logs every triggering event",
		Version:     "1.0",
		Template:    DummyTemplate(),
	})
}
