package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"astrored/internal/archive"
	"astrored/internal/config"
	"astrored/internal/fsutil"
	"astrored/internal/grpcserver"
	"astrored/internal/metrics"
	"astrored/internal/mpc80"
	"astrored/internal/orbit"
	"astrored/internal/pipeline"
	"astrored/internal/server"
	"astrored/internal/storage"
	"astrored/internal/watch"
)

type pipelineClient interface {
	Submit(job pipeline.Job) (string, error)
	Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error)
	Subscribe() (<-chan pipeline.Result, func())
}

// observationArchive is the read side of an archive database.
type observationArchive interface {
	Targets(ctx context.Context) ([]archive.TargetCount, error)
	Observations(ctx context.Context, designation string, d mpc80.Decoder) (mpc80.ObservationSet, error)
	Close() error
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, rec *metrics.Recorder, decoder mpc80.Decoder, log *slog.Logger) error

type watchFunc func(ctx context.Context, inbox, processed string, pipe pipelineClient, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, rec *metrics.Recorder, decoder mpc80.Decoder, log *slog.Logger) error {
	real, ok := pipe.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	return server.NewServer(addr, store, real, rec, decoder, log).Start(ctx)
}

func defaultGRPC(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, _ *metrics.Recorder, decoder mpc80.Decoder, log *slog.Logger) error {
	real, ok := pipe.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support grpc operation")
	}
	return grpcserver.NewOrbitServer(real, store, decoder, log).Start(ctx, addr)
}

func defaultWatch(ctx context.Context, inbox, processed string, pipe pipelineClient, log *slog.Logger) error {
	w, err := watch.New(inbox, processed, pipe, log)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func defaultOpenArchive(path string) (observationArchive, error) {
	return archive.Open(path)
}

// PipelineFactory builds the solve pipeline on first use.
type PipelineFactory func(ctx context.Context) (*pipeline.Pipeline, error)

// Root wires CLI commands to the pipeline.
type Root struct {
	cfg     *config.Config
	cfgPath string
	log     *slog.Logger
	store   *storage.Store
	metrics *metrics.Recorder
	out     io.Writer

	pipeOnce    sync.Once
	pipe        pipelineClient
	pipeErr     error
	pipelineFn  func(ctx context.Context) (pipelineClient, error)
	serveFn     serverFunc
	grpcFn      serverFunc
	watchFn     watchFunc
	openArchive func(path string) (observationArchive, error)
}

// NewRoot constructs the command dependencies. newPipeline is called at
// most once, by the first command that needs to solve.
func NewRoot(cfg *config.Config, logger *slog.Logger, store *storage.Store, rec *metrics.Recorder, newPipeline PipelineFactory) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		cfg:     cfg,
		cfgPath: os.Getenv("ASTRORED_CONFIG"),
		log:     logger,
		store:   store,
		metrics: rec,
		out:     os.Stdout,
		pipelineFn: func(ctx context.Context) (pipelineClient, error) {
			if newPipeline == nil {
				return nil, errors.New("no pipeline configured")
			}
			return newPipeline(ctx)
		},
		serveFn:     defaultServe,
		grpcFn:      defaultGRPC,
		watchFn:     defaultWatch,
		openArchive: defaultOpenArchive,
	}
}

// SetOutput redirects command output.
func (r *Root) SetOutput(w io.Writer) {
	r.out = w
}

func (r *Root) decoder() mpc80.Decoder {
	return mpc80.Decoder{Strict: r.cfg.Codec.Strict}
}

func (r *Root) pipeline(ctx context.Context) (pipelineClient, error) {
	r.pipeOnce.Do(func() {
		r.pipe, r.pipeErr = r.pipelineFn(ctx)
	})
	return r.pipe, r.pipeErr
}

// runJob submits job and waits for its result. A failed job is printed
// before its error is returned.
func (r *Root) runJob(ctx context.Context, job pipeline.Job, asJSON bool) error {
	pipe, err := r.pipeline(ctx)
	if err != nil {
		return err
	}
	r.log.Info("job queued", "type", job.Type, "target", job.Target, "input", job.InputPath)
	res, err := pipe.Run(ctx, job)
	if err != nil {
		return err
	}
	if err := r.printResult(res, asJSON); err != nil {
		return err
	}
	return res.Error
}

func (r *Root) printResult(res pipeline.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Event())
	}
	fmt.Fprintf(r.out, "job:      %s (%s)\n", res.Job.ID, res.Job.Type)
	if t, ok := res.Meta["target"].(string); ok && t != "" {
		fmt.Fprintf(r.out, "target:   %s\n", t)
	}
	fmt.Fprintf(r.out, "status:   %s\n", res.Status())
	if res.Error != nil {
		fmt.Fprintf(r.out, "error:    %v\n", res.Error)
	}
	if out, ok := res.Meta["output"].(string); ok {
		fmt.Fprintf(r.out, "output:   %s (%v observations)\n", out, res.Meta["observations"])
	}
	if est := res.Estimate; est != nil {
		fmt.Fprintf(r.out, "elements: %s\n", est)
		fmt.Fprintf(r.out, "q=%.6f AU  Q=%.6f AU\n", est.Perihelion(), est.Aphelion())
	}
	if an := res.Anomaly; an != nil {
		fmt.Fprintf(r.out, "E=%.5f±%.2g  nu=%.5f±%.2g\n", an.Eccentric.Value, an.Eccentric.Sigma, an.True.Value, an.True.Sigma)
	}
	if rep := res.Report; rep != nil && len(rep.Attempts) > 0 {
		fmt.Fprintf(r.out, "attempts (%d observations, %d dropped, arc %.2f d):\n", rep.Observations, rep.Dropped, rep.ArcDays)
		for _, a := range rep.Attempts {
			scope := a.Scope
			if a.Year != 0 {
				scope = fmt.Sprintf("%d", a.Year)
			}
			fmt.Fprintf(r.out, "  %-8s %5d obs  %-9s %s\n", scope, a.Observations, a.Outcome, a.Duration.Round(time.Millisecond))
		}
	}
	return nil
}

func (r *Root) cmdSolve(ctx context.Context, path, target string, asJSON bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("solve input: %w", err)
	}
	if info.IsDir() {
		return r.solveBatch(ctx, path, asJSON)
	}
	return r.runJob(ctx, pipeline.Job{
		Type:      pipeline.JobSolve,
		Target:    target,
		Source:    "cli",
		InputPath: path,
	}, asJSON)
}

// solveBatch submits every observation file under dir and waits for all
// of them, so the pipeline's workers run in parallel.
func (r *Root) solveBatch(ctx context.Context, dir string, asJSON bool) error {
	files, err := fsutil.ListObservations(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no observation files under %s", dir)
	}
	pipe, err := r.pipeline(ctx)
	if err != nil {
		return err
	}
	resCh, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	pending := make(map[string]bool, len(files))
	for _, f := range files {
		id, err := pipe.Submit(pipeline.Job{Type: pipeline.JobSolve, Source: "cli", InputPath: f})
		if err != nil {
			return fmt.Errorf("submit %s: %w", f, err)
		}
		pending[id] = true
	}
	r.log.Info("batch queued", "dir", dir, "files", len(files))

	var errs []error
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if !pending[res.Job.ID] {
				continue
			}
			delete(pending, res.Job.ID)
			if err := r.printResult(res, asJSON); err != nil {
				return err
			}
			if res.Error != nil {
				errs = append(errs, fmt.Errorf("%s: %w", res.Job.InputPath, res.Error))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Root) cmdClean(ctx context.Context, input, output string) error {
	if output == "" {
		output = input
	}
	return r.runJob(ctx, pipeline.Job{
		Type:      pipeline.JobClean,
		Source:    "cli",
		InputPath: input,
		Output:    output,
	}, false)
}

func (r *Root) cmdImport(ctx context.Context, dbPath, designation string, asJSON bool) error {
	arch, err := r.openArchive(dbPath)
	if err != nil {
		return err
	}
	defer arch.Close()
	obs, err := arch.Observations(ctx, designation, r.decoder())
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return fmt.Errorf("no observations of %s in %s", designation, dbPath)
	}
	return r.runJob(ctx, pipeline.Job{
		Type:         pipeline.JobSolve,
		Target:       designation,
		Source:       "archive",
		InputPath:    dbPath,
		Observations: obs,
	}, asJSON)
}

func (r *Root) cmdTargets(ctx context.Context, dbPath string) error {
	arch, err := r.openArchive(dbPath)
	if err != nil {
		return err
	}
	defer arch.Close()
	targets, err := arch.Targets(ctx)
	if err != nil {
		return err
	}
	for _, t := range targets {
		fmt.Fprintf(r.out, "%-12s %d\n", t.Designation, t.Records)
	}
	return nil
}

func (r *Root) cmdAnomaly(mean, sigma, ecc float64) error {
	e, nu, err := orbit.MeanToTrue(orbit.Element{Value: mean, Sigma: sigma}, ecc)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "M=%.6f±%.3g  e=%.6f\n", mean, sigma, ecc)
	fmt.Fprintf(r.out, "E=%.6f±%.3g\n", e.Value, e.Sigma)
	fmt.Fprintf(r.out, "nu=%.6f±%.3g\n", nu.Value, nu.Sigma)
	return nil
}

func (r *Root) cmdJobs(limit int) error {
	if r.store == nil {
		return errors.New("job history is not configured")
	}
	recs, err := r.store.RecentJobs(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(r.out, "No jobs recorded")
		return nil
	}
	for _, rec := range recs {
		fmt.Fprintf(r.out, "%s  %-9s %-12s %4d obs  %s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), rec.Status, orDash(rec.Target), rec.Observations, rec.ID)
	}
	return nil
}

func (r *Root) cmdJobShow(id string) error {
	if r.store == nil {
		return errors.New("job history is not configured")
	}
	rec, err := r.store.Job(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "job:      %s\n", rec.ID)
	fmt.Fprintf(r.out, "target:   %s\n", orDash(rec.Target))
	fmt.Fprintf(r.out, "source:   %s\n", orDash(rec.Source))
	fmt.Fprintf(r.out, "status:   %s\n", rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(r.out, "error:    %s\n", rec.Error)
	}
	if est, _, err := r.store.LatestOrbit(rec.Target); err == nil && rec.Target != "" {
		fmt.Fprintf(r.out, "latest:   %s\n", est)
	}
	attempts, err := r.store.Attempts(id)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		scope := a.Scope
		if a.Year != 0 {
			scope = fmt.Sprintf("%d", a.Year)
		}
		fmt.Fprintf(r.out, "  %-8s %5d obs  %-9s %dms\n", scope, a.Observations, a.Outcome, a.DurationMS)
	}
	return nil
}

func (r *Root) cmdServe(ctx context.Context, addr string) error {
	pipe, err := r.pipeline(ctx)
	if err != nil {
		return err
	}
	return r.serveFn(ctx, addr, r.store, pipe, r.metrics, r.decoder(), r.log)
}

func (r *Root) cmdGRPC(ctx context.Context, addr string) error {
	pipe, err := r.pipeline(ctx)
	if err != nil {
		return err
	}
	return r.grpcFn(ctx, addr, r.store, pipe, r.metrics, r.decoder(), r.log)
}

func (r *Root) cmdWatch(ctx context.Context, inbox, processed string) error {
	pipe, err := r.pipeline(ctx)
	if err != nil {
		return err
	}
	return r.watchFn(ctx, inbox, processed, pipe, r.log)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
