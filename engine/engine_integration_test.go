//go:build integration

package engine_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/componentregistry"
	"github.com/c360/orchd/engine"
	"github.com/c360/orchd/handler"
	"github.com/c360/orchd/model"
	"github.com/c360/orchd/natsclient"
	"github.com/c360/orchd/output/natspub"
)

type EngineIntegrationSuite struct {
	suite.Suite
	testClient *natsclient.TestClient
	registry   *component.Registry
	engine     *engine.Engine
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *EngineIntegrationSuite) SetupSuite() {
	s.testClient = natsclient.NewTestClient(s.T(), natsclient.WithJetStream())
}

func (s *EngineIntegrationSuite) SetupTest() {
	s.registry = component.NewRegistry()
	s.Require().NoError(componentregistry.Register(s.registry))

	var err error
	s.engine, err = engine.New(
		engine.WithRegistry(s.registry),
		engine.WithDependencies(component.Dependencies{
			NATSClient: s.testClient.Client,
			Logger:     slog.Default(),
		}),
		engine.WithDispatch(2, 16),
	)
	s.Require().NoError(err)

	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *EngineIntegrationSuite) TearDownTest() {
	s.NoError(s.engine.Close(s.ctx))
	s.cancel()
}

func (s *EngineIntegrationSuite) forwardTemplate(subject string) model.ReactionTemplate {
	return model.ReactionTemplate{
		Name:        "io.orchd.reactions.Forward",
		Version:     "1.0",
		Handler:     handler.PassthroughType,
		TriggeredOn: []string{"io.orchd.events.test.Ping"},
		Sinks: []model.SinkTemplate{{
			Name:       "io.orchd.sinks.Forward",
			Version:    "1.0",
			SinkClass:  natspub.SinkType,
			Properties: map[string]string{"subject": subject},
		}},
		Active: true,
	}
}

func (s *EngineIntegrationSuite) subscribe(subject string) <-chan []byte {
	got := make(chan []byte, 4)
	s.Require().NoError(s.testClient.Client.Subscribe(s.ctx, subject, func(_ context.Context, data []byte) {
		got <- data
	}))
	return got
}

func (s *EngineIntegrationSuite) TestEmitReachesNATSSink() {
	got := s.subscribe("orchd.it.forward")

	_, err := s.engine.AddReaction(s.ctx, s.forwardTemplate("orchd.it.forward"))
	s.Require().NoError(err)

	event, err := s.engine.Emit(s.ctx, "io.orchd.events.test.Ping", map[string]any{"seq": 1})
	s.Require().NoError(err)

	select {
	case data := <-got:
		var out map[string]any
		s.Require().NoError(json.Unmarshal(data, &out))
		s.Equal(event.ID(), out["id"])
		s.Equal("io.orchd.events.test.Ping", out["name"])
		s.Equal(map[string]any{"seq": float64(1)}, out["data"])
	case <-s.ctx.Done():
		s.Fail("no message on the sink subject")
	}

	info, err := s.engine.Reaction("io.orchd.reactions.Forward")
	s.Require().NoError(err)
	s.Eventually(func() bool {
		info, err = s.engine.Reaction(info.ID)
		return err == nil && info.Handled == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func (s *EngineIntegrationSuite) TestReplaceReactionSwitchesSubject() {
	oldSubject := s.subscribe("orchd.it.old")
	newSubject := s.subscribe("orchd.it.new")

	_, err := s.engine.AddReaction(s.ctx, s.forwardTemplate("orchd.it.old"))
	s.Require().NoError(err)
	_, err = s.engine.ReplaceReaction(s.ctx, s.forwardTemplate("orchd.it.new"))
	s.Require().NoError(err)
	s.Len(s.engine.Reactions(), 1)

	_, err = s.engine.Emit(s.ctx, "io.orchd.events.test.Ping", nil)
	s.Require().NoError(err)

	select {
	case <-newSubject:
	case <-s.ctx.Done():
		s.Fail("replacement sink did not publish")
	}
	select {
	case <-oldSubject:
		s.Fail("replaced sink still publishing")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngineIntegrationSuite(t *testing.T) {
	suite.Run(t, new(EngineIntegrationSuite))
}
