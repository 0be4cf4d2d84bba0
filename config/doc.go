// Package config loads, validates and synchronises orchd runtime
// configuration.
//
// A configuration file is YAML (.yaml, .yml) or JSON with comments
// (.json, .jsonc). It carries the logging, NATS, metrics and dispatch
// settings plus the reaction and sensor templates started at boot.
//
// # Loading
//
//	cfg, err := config.NewLoader().
//		AddLayer("orchd.yaml").
//		AddLayer("site.yaml"). // overrides orchd.yaml
//		Load()
//
// Each template document is checked against the embedded JSON Schemas
// before decoding. Environment variables prefixed ORCHD_ override file
// values (ORCHD_NATS_URL, ORCHD_NATS_TOKEN, ORCHD_METRICS_PORT,
// ORCHD_DISPATCH_WORKERS, ...).
//
// # Dynamic Configuration
//
// Manager mirrors templates into a NATS KV bucket under the keys
// "reactions.<id>" and "sensors.<id>" and publishes changes:
//
//	kv, _ := config.OpenBucket(ctx, client, cfg.NATS.ConfigBucket)
//	cm, _ := config.NewManager(cfg, kv, logger)
//	if err := cm.Start(ctx); err != nil {
//		return err
//	}
//	defer cm.Stop(5 * time.Second)
//
//	for update := range cm.OnChange("reactions.*") {
//		tmpl, ok := update.Config.Get().Reaction(update.ID())
//		...
//	}
package config
