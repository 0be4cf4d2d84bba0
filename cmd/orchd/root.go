package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/componentregistry"
)

// Output formats
const (
	outputText = "text"
	outputJSON = "json"
)

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	LogLevel  string
	LogFormat string
	Output    string

	// Logger is built from the flags before any command runs.
	Logger *slog.Logger
}

// NewRootCommand creates the orchd command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Event orchestration runtime for edge and IoT deployments",
		Long: `orchd runs sensors that sample devices and publish events, and reactions
that transform those events and deliver the result to sinks.

Use "orchd run" to start a configuration, "orchd validate" to check one,
and "orchd types" to list the handler, sink, sensor and communicator types
that templates can reference.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.Output {
			case outputText, outputJSON:
			default:
				return &ExitError{
					Code: ExitInvalid,
					Err:  fmt.Errorf("unsupported output format %q (use text or json)", opts.Output),
				}
			}
			opts.Logger = setupLogger(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ORCHD_LOG_LEVEL)")
	pf.StringVar(&opts.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"),
		"Log format: text, json (env: ORCHD_LOG_FORMAT)")
	pf.StringVarP(&opts.Output, "output", "o", outputText, "Output format: text, json")

	cmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newTemplateCommand(opts),
		newTypesCommand(opts),
		newSchemaCommand(opts),
		newVersionCommand(opts),
	)

	return cmd
}

// newRegistry returns a registry holding every built-in type.
func newRegistry() (*component.Registry, error) {
	reg := component.NewRegistry()
	if err := componentregistry.Register(reg); err != nil {
		return nil, fmt.Errorf("register components: %w", err)
	}
	return reg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
