package main

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360/orchd/component"
	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

var componentKinds = []component.Kind{
	component.KindHandler,
	component.KindSink,
	component.KindSensor,
	component.KindCommunicator,
}

func newTemplateCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "template <type-ref>",
		Short: "Print the example template of a registered type as JSON",
		Example: `  orchd template orchd.sinks.FileSink
  orchd template orchd.sensors.UDPListener > udp.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}

			typeRef := args[0]
			tmpl, ok := reg.Template(typeRef)
			if !ok {
				if _, known := reg.Lookup(typeRef); known {
					return errors.WrapInvalid(
						fmt.Errorf("%w: type %q has no example template", errors.ErrNotFound, typeRef),
						"orchd", "template", "lookup template")
				}
				return errors.WrapInvalid(
					fmt.Errorf("%w: type %q is not registered", errors.ErrNotFound, typeRef),
					"orchd", "template", "lookup type")
			}
			return writeJSON(cmd.OutOrStdout(), tmpl)
		},
	}
}

func newTypesCommand(root *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the registered component types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry()
			if err != nil {
				return err
			}

			infos := reg.List()
			if kind != "" {
				if !slices.Contains(componentKinds, component.Kind(kind)) {
					return &ExitError{Code: ExitInvalid, Err: fmt.Errorf("unknown kind %q (use %s)", kind, kindList())}
				}
				infos = reg.ListKind(component.Kind(kind))
			}
			if infos == nil {
				infos = []component.Info{}
			}

			if root.Output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "KIND\tTYPE\tVERSION\tDESCRIPTION")
			for _, info := range infos {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Kind, info.TypeRef, info.Version, info.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only list one kind: "+kindList())
	return cmd
}

func kindList() string {
	names := make([]string, len(componentKinds))
	for i, k := range componentKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func newSchemaCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "schema <kind>",
		Short:     "Print the JSON Schema of a template or event document",
		Long:      "Print the JSON Schema of a document kind: " + strings.Join(model.SchemaKinds(), ", ") + ".",
		Args:      cobra.ExactArgs(1),
		ValidArgs: model.SchemaKinds(),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := model.Schema(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(schema)
			return err
		},
	}
}

type versionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func newVersionCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Name:      appName,
				Version:   Version,
				BuildTime: BuildTime,
				GoVersion: runtime.Version(),
			}
			if root.Output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s, %s)\n",
				info.Name, info.Version, info.BuildTime, info.GoVersion)
			return err
		},
	}
}
