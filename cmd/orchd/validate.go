package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360/orchd/config"
	"github.com/c360/orchd/engine"
)

// ValidateOptions holds the flags of the validate command.
type ValidateOptions struct {
	ConfigPaths []string
	WritePath   string
	Strict      bool
}

type validateReport struct {
	Config    string                   `json:"config"`
	Reactions int                      `json:"reactions"`
	Sensors   int                      `json:"sensors"`
	Result    *engine.ValidationResult `json:"result"`
}

func newValidateCommand(root *RootOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration against the registered types",
		Long: `Load a configuration, merging every --config layer in order, and check its
reaction and sensor templates against the registered component types.
Nothing is started.

Exit status is 0 when the configuration is usable, 3 when it has errors
(or warnings with --strict).`,
		Example: `  orchd validate --config orchd.yaml
  orchd validate --config base.yaml --config site.yaml --write merged.json -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.ConfigPaths, "config", "c", getEnvList("CONFIG", nil),
		"Configuration file, repeat to layer overrides (env: ORCHD_CONFIG)")
	cmd.Flags().StringVar(&opts.WritePath, "write", "", "Write the merged configuration to this file")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "Treat warnings as errors")
	return cmd
}

func runValidate(out io.Writer, root *RootOptions, opts *ValidateOptions) error {
	cfg, err := loadConfig(opts.ConfigPaths)
	if err != nil {
		return err
	}

	reg, err := newRegistry()
	if err != nil {
		return err
	}

	result := engine.NewValidator(reg, root.Logger).Validate(cfg.Reactions, cfg.Sensors)
	report := validateReport{
		Config:    fmt.Sprint(opts.ConfigPaths),
		Reactions: len(cfg.Reactions),
		Sensors:   len(cfg.Sensors),
		Result:    result,
	}

	if root.Output == outputJSON {
		err = writeJSON(out, report)
	} else {
		err = printValidation(out, report)
	}
	if err != nil {
		return err
	}

	if err := result.Err(); err != nil {
		return &ExitError{Code: ExitInvalid, Err: err}
	}
	if opts.Strict && result.Status == engine.StatusWarnings {
		return &ExitError{
			Code: ExitInvalid,
			Err:  fmt.Errorf("%d warning(s) with --strict", len(result.Warnings)),
		}
	}

	if opts.WritePath != "" {
		if err := config.Save(opts.WritePath, cfg); err != nil {
			return err
		}
		root.Logger.Info("Wrote merged configuration", "path", opts.WritePath)
	}
	return nil
}

func printValidation(w io.Writer, r validateReport) error {
	p := &printer{w: w}
	p.printf("Configuration: %s (%d reactions, %d sensors)\n", r.Config, r.Reactions, r.Sensors)
	p.printf("Status: %s\n", r.Result.Status)

	for _, issues := range [][]engine.ValidationIssue{r.Result.Errors, r.Result.Warnings} {
		for _, issue := range issues {
			target := issue.ComponentName
			if issue.Field != "" {
				target += "." + issue.Field
			}
			p.printf("  %-7s [%s] %s: %s\n", issue.Severity, issue.Type, target, issue.Message)
			for _, s := range issue.Suggestions {
				p.printf("          suggestion: %s\n", s)
			}
		}
	}
	return p.err
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// loadConfig merges the configuration layers in order.
func loadConfig(paths []string) (*config.Config, error) {
	if len(paths) == 0 {
		return nil, &ExitError{Code: ExitInvalid, Err: fmt.Errorf("no configuration given (use --config or ORCHD_CONFIG)")}
	}

	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
