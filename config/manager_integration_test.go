//go:build integration

package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchd/model"
	"github.com/c360/orchd/natsclient"
)

func TestManager_KVRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())

	kv, err := OpenBucket(ctx, tc.Client, "orchd_config_test")
	require.NoError(t, err)

	cm, err := NewManager(validConfig(), kv, slog.Default())
	require.NoError(t, err)
	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	// First boot pushes the local templates.
	entry, err := kv.Get(ctx, "reactions.alarm")
	require.NoError(t, err)
	var pushed model.ReactionTemplate
	require.NoError(t, json.Unmarshal(entry.Value(), &pushed))
	assert.Equal(t, "orchd.handlers.Threshold", pushed.Handler)

	updates := cm.OnChange("reactions.*")

	next := pushed.Clone()
	next.TriggeredOn = []string{"io.orchd.events.opcua.Values"}
	data, err := json.Marshal(next)
	require.NoError(t, err)
	_, err = kv.Put(ctx, "reactions.alarm", data)
	require.NoError(t, err)

	select {
	case u := <-updates:
		assert.Equal(t, "alarm", u.ID())
		r, ok := u.Config.Get().Reaction("alarm")
		require.True(t, ok)
		assert.Equal(t, []string{"io.orchd.events.opcua.Values"}, r.TriggeredOn)
	case <-ctx.Done():
		t.Fatal("timed out waiting for update")
	}

	require.NoError(t, kv.Delete(ctx, "reactions.alarm"))
	select {
	case u := <-updates:
		assert.True(t, u.Deleted)
		_, ok := u.Config.Get().Reaction("alarm")
		assert.False(t, ok)
	case <-ctx.Done():
		t.Fatal("timed out waiting for delete")
	}
}

func TestManager_NewerBucketWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	kv, err := OpenBucket(ctx, tc.Client, "")
	require.NoError(t, err)

	_, err = kv.Put(ctx, "version", []byte(`"9.0.0"`))
	require.NoError(t, err)
	sensor, err := json.Marshal(model.SensorTemplate{Name: "remote", Sensor: "orchd.sensors.HTTPProbe"})
	require.NoError(t, err)
	_, err = kv.Put(ctx, "sensors.remote", sensor)
	require.NoError(t, err)

	cm, err := NewManager(validConfig(), kv, slog.Default())
	require.NoError(t, err)
	require.NoError(t, cm.Start(ctx))
	defer cm.Stop(5 * time.Second)

	cfg := cm.GetConfig().Get()
	assert.Equal(t, "9.0.0", cfg.Version)
	_, ok := cfg.Sensor("remote")
	assert.True(t, ok)
	_, ok = cfg.Sensor("probe")
	assert.True(t, ok, "local templates not in the bucket are kept")
}
