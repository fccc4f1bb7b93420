package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"astrored/internal/archive"
	"astrored/internal/config"
	"astrored/internal/logging"
	"astrored/internal/metrics"
	"astrored/internal/mpc80"
	"astrored/internal/orbit"
	"astrored/internal/solver"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log     *slog.Logger
	decoder mpc80.Decoder
	driver  OrbitDriver
	archive ObservationSource
}

// OrbitDriver fits an orbit to an observation set.
type OrbitDriver interface {
	SolveOrbit(ctx context.Context, set mpc80.ObservationSet) (orbit.Estimate, solver.SolveReport, error)
}

// ObservationSource supplies stored observations of a target.
type ObservationSource interface {
	Observations(ctx context.Context, designation string, d mpc80.Decoder) (mpc80.ObservationSet, error)
}

// NewRouter returns a Processor solving with driver. src may be nil when
// no observation archive is configured.
func NewRouter(logger *slog.Logger, decoder mpc80.Decoder, driver OrbitDriver, src ObservationSource) Processor {
	return &router{log: logger, decoder: decoder, driver: driver, archive: src}
}

// SolverFactory wires each worker to its own workspace under the
// configured root, prepared from the template directory.
func SolverFactory(cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder, src *archive.Archive) func(int) (Processor, error) {
	bin := solver.NewExecSolver(cfg.Solver.Binary, cfg.Solver.Args, logger)
	status := bin.Available()
	logging.LogToolStatus(logger, cfg.Solver.Binary, status.Available, status.Version, status.Path, status.Error)

	var source ObservationSource
	if src != nil {
		source = src
	}
	files := solver.Files{
		Input:  cfg.Solver.InputFile,
		Result: cfg.Solver.ResultFile,
		Error:  cfg.Solver.ErrorFile,
	}
	return func(worker int) (Processor, error) {
		ws, err := solver.NewWorkspace(filepath.Join(cfg.Solver.WorkspaceRoot, fmt.Sprintf("worker-%d", worker)), files)
		if err != nil {
			return nil, err
		}
		if err := ws.Prepare(cfg.Solver.TemplateDir); err != nil {
			return nil, err
		}
		wlog := logger.With("worker", worker)
		driver := solver.NewDriver(ws, bin, solver.Options{
			Timeout: cfg.Solver.Timeout,
			Logger:  wlog,
			Metrics: rec,
		})
		return NewRouter(wlog, mpc80.Decoder{Strict: cfg.Codec.Strict}, driver, source), nil
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobSolve:
		return r.handleSolve(ctx, job)
	case JobImport:
		return r.handleImport(ctx, job)
	case JobClean:
		return r.handleClean(job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleSolve(ctx context.Context, job Job) Result {
	obs := job.Observations
	if len(obs) == 0 && job.InputPath != "" {
		var err error
		obs, err = mpc80.ReadFile(job.InputPath, r.decoder)
		if err != nil {
			return Result{Job: job, Error: fmt.Errorf("read %s: %w", job.InputPath, err)}
		}
	}
	return r.solve(ctx, job, obs)
}

func (r *router) handleImport(ctx context.Context, job Job) Result {
	if r.archive == nil {
		return Result{Job: job, Error: errors.New("no observation archive configured")}
	}
	if job.Target == "" {
		return Result{Job: job, Error: errors.New("import requires a target designation")}
	}
	obs, err := r.archive.Observations(ctx, job.Target, r.decoder)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("import %s: %w", job.Target, err)}
	}
	return r.solve(ctx, job, obs)
}

func (r *router) solve(ctx context.Context, job Job, obs mpc80.ObservationSet) Result {
	target := job.Target
	if target == "" && len(obs) > 0 {
		target = obs[0].Desig()
	}
	meta := map[string]any{
		"target": target,
		"input":  len(obs),
	}

	est, report, err := r.driver.SolveOrbit(ctx, obs)
	meta["observations"] = report.Observations
	meta["dropped"] = report.Dropped
	meta["arc_days"] = report.ArcDays
	meta["attempts"] = len(report.Attempts)
	meta["partitioned"] = report.Partitioned
	res := Result{Job: job, Report: &report, Meta: meta}
	if err != nil {
		res.Error = err
		return res
	}
	res.Estimate = &est
	meta["converged"] = report.Converged()
	meta["epoch_jd"] = est.Epoch
	meta["perihelion_au"] = est.Perihelion()

	// the estimate stands even when the anomaly conversion fails
	ecc, nu, err := orbit.MeanToTrue(est.MeanAnomaly, est.Eccentricity.Value)
	if err != nil {
		r.log.Warn("anomaly conversion failed", "target", target, "error", err)
		return res
	}
	res.Anomaly = &Anomalies{Eccentric: ecc, True: nu}
	return res
}

func (r *router) handleClean(job Job) Result {
	if job.InputPath == "" || job.Output == "" {
		return Result{Job: job, Error: errors.New("clean requires input and output paths")}
	}
	obs, err := mpc80.ReadFile(job.InputPath, r.decoder)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("read %s: %w", job.InputPath, err)}
	}
	cleaned := mpc80.Clean(obs)
	if err := mpc80.WriteFile(job.Output, cleaned); err != nil {
		return Result{Job: job, Error: fmt.Errorf("write %s: %w", job.Output, err)}
	}
	return Result{Job: job, Meta: map[string]any{
		"input":  len(obs),
		"output": len(cleaned),
		"years":  cleaned.Years(),
		"path":   job.Output,
	}}
}
