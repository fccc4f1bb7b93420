package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"astrored/internal/config"
	"astrored/internal/metrics"
	"astrored/internal/storage"
)

// Version is overridden at link time.
var Version = "0.1.0-dev"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, rec *metrics.Recorder, newPipeline PipelineFactory) *cobra.Command {
	return newRootCmd(NewRoot(cfg, log, store, rec, newPipeline))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "astrored",
		Short: "astrored fits orbits to 80-column minor planet astrometry",
		Long: `astrored decodes MPC 80-column observation records, drives an external
orbit fitting program over them (falling back to per-year subsets when the
whole arc does not converge), and converts mean anomalies to true anomalies.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newSolveCmd(root))
	rootCmd.AddCommand(newCleanCmd(root))
	rootCmd.AddCommand(newImportCmd(root))
	rootCmd.AddCommand(newTargetsCmd(root))
	rootCmd.AddCommand(newAnomalyCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newGRPCCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newSolveCmd(root *Root) *cobra.Command {
	var (
		target string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "solve <observations.obs|directory>",
		Short: "Fit orbits to an 80-column observation file or every file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdSolve(cmd.Context(), args[0], target, asJSON)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target designation, taken from the records if empty")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result event as JSON")
	return cmd
}

func newCleanCmd(root *Root) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "clean <observations.obs>",
		Short: "Drop duplicate records and sort by observation time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdClean(cmd.Context(), args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: rewrite the input)")
	return cmd
}

func newImportCmd(root *Root) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "import <archive-db> <designation>",
		Short: "Fit an orbit to the archived observations of one target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdImport(cmd.Context(), args[0], args[1], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result event as JSON")
	return cmd
}

func newTargetsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "targets <archive-db>",
		Short: "List designations in an observation archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdTargets(cmd.Context(), args[0])
		},
	}
}

func newAnomalyCmd(root *Root) *cobra.Command {
	var mean, sigma, ecc float64
	cmd := &cobra.Command{
		Use:   "anomaly",
		Short: "Convert a mean anomaly to eccentric and true anomaly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdAnomaly(mean, sigma, ecc)
		},
	}
	cmd.Flags().Float64VarP(&mean, "mean", "m", 0, "mean anomaly in degrees")
	cmd.Flags().Float64VarP(&sigma, "sigma", "s", 0, "1-sigma error of the mean anomaly in degrees")
	cmd.Flags().Float64VarP(&ecc, "eccentricity", "e", 0, "orbital eccentricity, 0 <= e < 1")
	cmd.MarkFlagRequired("mean")
	cmd.MarkFlagRequired("eccentricity")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent solve jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdJobs(limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its solver attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdJobShow(args[0])
		},
	})
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.HTTPAddr
			}
			return root.cmdServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newGRPCCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "grpc",
		Short: "Start the gRPC OrbitService",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.GRPCAddr
			}
			return root.cmdGRPC(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var inbox, processed string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Solve observation files as they appear in an inbox directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inbox == "" {
				inbox = root.cfg.Paths.Inbox
			}
			if processed == "" {
				processed = root.cfg.Paths.Processed
			}
			return root.cmdWatch(cmd.Context(), inbox, processed)
		},
	}
	cmd.Flags().StringVar(&inbox, "inbox", "", "directory to watch (default from config)")
	cmd.Flags().StringVar(&processed, "processed", "", "directory submitted files are moved to (default from config)")
	return cmd
}
