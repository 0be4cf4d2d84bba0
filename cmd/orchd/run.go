package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/orchd/codec"
	"github.com/c360/orchd/communicator/natscomm"
	"github.com/c360/orchd/component"
	"github.com/c360/orchd/config"
	"github.com/c360/orchd/engine"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/metric"
	"github.com/c360/orchd/natsclient"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	ConfigPaths     []string
	ShutdownTimeout time.Duration
}

func newRunCommand(root *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reactions and sensors of a configuration",
		Long: `Load a configuration and run it until SIGINT or SIGTERM.

When nats.url is set the process connects to NATS; nats.config_bucket then
keeps templates in a KV bucket and applies changes to running reactions and
sensors, and nats.subject receives events from remote NATS communicators.`,
		Example: `  orchd run --config orchd.yaml
  ORCHD_NATS_URL=nats://broker:4222 orchd run -c base.yaml -c site.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.ConfigPaths)
			if err != nil {
				return err
			}

			logger := root.Logger
			if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-format") {
				logger = setupLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			}
			slog.SetDefault(logger)

			logger.Info("Starting orchd",
				"version", Version,
				"build_time", BuildTime,
				"config_paths", opts.ConfigPaths)

			return newDaemon(cfg, logger).run(cmd.Context(), opts.ShutdownTimeout)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.ConfigPaths, "config", "c", getEnvList("CONFIG", nil),
		"Configuration file, repeat to layer overrides (env: ORCHD_CONFIG)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: ORCHD_SHUTDOWN_TIMEOUT)")
	return cmd
}

// daemon owns everything a running orchd process holds.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics  *metric.MetricsRegistry
	nats     *natsclient.Client
	registry *component.Registry
	engine   *engine.Engine
	manager  *config.Manager
	receiver *natscomm.Receiver
	server   *metric.Server

	watchers sync.WaitGroup
}

func newDaemon(cfg *config.Config, logger *slog.Logger) *daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &daemon{cfg: cfg, logger: logger}
}

// run sets everything up, blocks until ctx is cancelled or a signal
// arrives, then shuts down within shutdownTimeout.
func (d *daemon) run(ctx context.Context, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	setupErr := d.setup(signalCtx)
	if setupErr == nil {
		d.logger.Info("orchd started",
			"reactions", len(d.engine.Reactions()),
			"sensors", len(d.engine.Sensors()))

		<-signalCtx.Done()
		d.logger.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownErr := d.shutdown(shutdownCtx, shutdownTimeout)
	if setupErr != nil {
		return setupErr
	}
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	d.logger.Info("orchd shutdown complete")
	return nil
}

// setup builds the process in dependency order. On error the caller still
// runs shutdown to release what was created.
func (d *daemon) setup(ctx context.Context) error {
	d.metrics = metric.NewMetricsRegistry()

	if d.cfg.NATS.Enabled() {
		if err := d.connectToNATS(ctx); err != nil {
			return err
		}
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	d.registry = registry

	eng, err := engine.New(
		engine.WithRegistry(d.registry),
		engine.WithDependencies(component.Dependencies{
			NATSClient:      d.nats,
			MetricsRegistry: d.metrics,
			Logger:          d.logger,
		}),
		engine.WithLogger(d.logger),
		engine.WithMetricsRegistry(d.metrics),
		engine.WithDispatch(d.cfg.Dispatch.Workers, d.cfg.Dispatch.QueueSize),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	d.engine = eng

	cfg := d.cfg
	if d.nats != nil && cfg.NATS.ConfigBucket != "" {
		if err := d.setupConfigManager(ctx); err != nil {
			return err
		}
		cfg = d.manager.GetConfig().Get()
	}

	if err := d.engine.Load(ctx, cfg.Reactions, cfg.Sensors); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	if d.manager != nil {
		d.watch(ctx, "reactions.*")
		d.watch(ctx, "sensors.*")
	}

	if d.nats != nil && cfg.NATS.Subject != "" {
		if err := d.startReceiver(ctx); err != nil {
			return err
		}
	}

	if cfg.Metrics.Enabled {
		d.startMetricsServer()
	}
	return nil
}


// connectToNATS establishes the shared NATS connection and waits for it to
// be ready.
func (d *daemon) connectToNATS(ctx context.Context) error {
	n := d.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(n.Name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithLogger(d.logger),
		natsclient.WithMetrics(d.metrics),
		natsclient.WithTLS(n.TLS),
	}
	if n.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(n.ReconnectWait.Std()))
	}
	switch {
	case n.Token != "":
		opts = append(opts, natsclient.WithToken(n.Token))
	case n.Username != "":
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}

	client, err := natsclient.NewClient(n.URL, opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	d.nats = client

	d.logger.Info("Connecting to NATS", "url", n.URL)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// setupConfigManager opens the template bucket and starts syncing it with
// the local configuration.
func (d *daemon) setupConfigManager(ctx context.Context) error {
	kv, err := config.OpenBucket(ctx, d.nats, d.cfg.NATS.ConfigBucket)
	if err != nil {
		return fmt.Errorf("open config bucket: %w", err)
	}

	manager, err := config.NewManager(d.cfg, kv, d.logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	d.manager = manager
	return nil
}

// watch applies template changes under pattern until the manager stops.
func (d *daemon) watch(ctx context.Context, pattern string) {
	updates := d.manager.OnChange(pattern)

	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()
		for u := range updates {
			if err := d.applyUpdate(ctx, u); err != nil {
				d.logger.Error("Failed to apply configuration update", "key", u.Key, "error", err)
				continue
			}
			d.logger.Info("Applied configuration update", "key", u.Key, "deleted", u.Deleted)
		}
	}()
}

// applyUpdate replaces or removes the reaction or sensor named by a KV
// change. Removing an id the engine does not hold is not an error.
func (d *daemon) applyUpdate(ctx context.Context, u config.Update) error {
	id := u.ID()
	current := u.Config.Get()

	var err error
	switch u.Section() {
	case "reactions":
		tmpl, ok := current.Reaction(id)
		if u.Deleted || !ok {
			err = d.engine.RemoveReaction(ctx, id)
			break
		}
		_, err = d.engine.ReplaceReaction(ctx, tmpl)

	case "sensors":
		tmpl, ok := current.Sensor(id)
		if u.Deleted || !ok {
			err = d.engine.RemoveSensor(ctx, id)
			break
		}
		_, err = d.engine.ReplaceSensor(ctx, tmpl)

	default:
		return nil
	}

	if stderrors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

// startReceiver publishes events from remote NATS communicators into the
// engine bus.
func (d *daemon) startReceiver(ctx context.Context) error {
	c, err := codec.ByName(d.cfg.NATS.Codec)
	if err != nil {
		return err
	}
	d.receiver = natscomm.NewReceiver(d.engine.Bus(), c, d.logger)
	if err := d.receiver.Listen(ctx, d.nats, d.cfg.NATS.Subject); err != nil {
		return fmt.Errorf("start receiver: %w", err)
	}
	return nil
}

func (d *daemon) startMetricsServer() {
	d.server = metric.NewServer(d.cfg.Metrics.Port, d.cfg.Metrics.Path, d.metrics, d.engine.Health)
	go func() {
		if err := d.server.Start(); err != nil {
			d.logger.Error("Metrics server failed", "error", err)
		}
	}()
	d.logger.Info("Serving metrics", "port", d.cfg.Metrics.Port, "path", d.cfg.Metrics.Path)
}

// shutdown releases everything in reverse setup order. Parts that were
// never created are skipped.
func (d *daemon) shutdown(ctx context.Context, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	var errs []error
	if d.manager != nil {
		if err := d.manager.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop config manager: %w", err))
		}
	}
	d.watchers.Wait()

	if d.engine != nil {
		if err := d.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if d.receiver != nil {
		received, rejected := d.receiver.Stats()
		d.logger.Info("Receiver stopped", "received", received, "rejected", rejected)
	}
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if d.nats != nil {
		if err := d.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close NATS: %w", err))
		}
	}
	return stderrors.Join(errs...)
}
