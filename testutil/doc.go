// Package testutil provides test doubles and fixtures shared by the orchd
// package tests.
//
// # Test doubles
//
// RecordingSink stores every value it accepts and counts Close calls. It
// implements the sink capability and the Configurable extension, so it can
// be registered under RecordingSinkType and provisioned from a template.
//
// StubHandler records the events it handles and returns either the event
// data or the result of HandleFunc.
//
// StubProbe emits one event per Sense call, or returns SenseErr.
//
// RecordingCommunicator stores emitted events instead of forwarding them and
// lets tests inject authentication and emission failures.
//
// MockNATSClient is an in-memory loopback covering Connect, Publish,
// Subscribe, Request, Reply and Close. Published messages are recorded per
// subject and delivered to subscribers and repliers on the caller's
// goroutine; Request answers with the first replier.
//
// # Fixtures
//
// ReactionTemplate, SinkTemplate and SensorTemplate build valid templates
// wired to the stub type references. TestEvents builds events from the
// generic TestReadings.
//
// # Usage
//
//	reg := component.NewRegistry()
//	rec := testutil.NewRecordingSink()
//	testutil.MustRegister(t, reg, testutil.RecordingSinkType, component.KindSink,
//	    func() any { return rec })
//	testutil.MustRegister(t, reg, testutil.StubHandlerType, component.KindHandler,
//	    func() any { return &testutil.StubHandler{} })
//
//	r := reaction.New(testutil.ReactionTemplate("alarm", "out"), reaction.WithRegistry(reg))
//	require.NoError(t, r.Init(ctx))
//
// Wait helpers poll with a deadline and fail the test on timeout.
package testutil
