package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"astrored/internal/solver"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(format)
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml|json)")
	cmd.AddCommand(show)
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(root.out, "configuration ok")
			return nil
		},
	})
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and solver availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}

func (r *Root) configShow(format string) error {
	cfgPath := r.cfgPath
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/astrored/config.json"
	}
	switch format {
	case "yaml", "yml":
		fmt.Fprintf(r.out, "# config file: %s\n", cfgPath)
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(r.cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(r.cfg)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func (r *Root) cmdVersion() error {
	fmt.Fprintf(r.out, "astrored %s\n", Version)
	fmt.Fprintf(r.out, "Built with Go %s\n", runtime.Version())
	status := solver.NewExecSolver(r.cfg.Solver.Binary, r.cfg.Solver.Args, r.log).Available()
	if status.Available {
		fmt.Fprintf(r.out, "solver: %s (%s)\n", r.cfg.Solver.Binary, status.Path)
	} else {
		fmt.Fprintf(r.out, "solver: %s unavailable: %v\n", r.cfg.Solver.Binary, status.Error)
	}
	return nil
}
