package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"astrored/internal/logging"
	"astrored/internal/metrics"
	"astrored/internal/mpc80"
	"astrored/internal/orbit"
)

// Attempt outcomes.
const (
	OutcomeConverged = "converged"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// Attempt describes one solver invocation.
type Attempt struct {
	Scope        string        `json:"scope"`
	Year         int           `json:"year,omitempty"`
	Observations int           `json:"observations"`
	Outcome      string        `json:"outcome"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// SolveReport lists what SolveOrbit did to reach its result.
type SolveReport struct {
	Observations int       `json:"observations"`
	Dropped      int       `json:"dropped"`
	ArcDays      float64   `json:"arc_days"` // span of the cleaned set
	Partitioned  bool      `json:"partitioned"`
	Attempts     []Attempt `json:"attempts"`
}

// Converged counts the attempts that produced an estimate.
func (r SolveReport) Converged() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeConverged {
			n++
		}
	}
	return n
}

// Options tune a Driver.
type Options struct {
	// Timeout bounds each solver invocation. Zero disables it.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Driver runs the whole-set then partition-by-year solve policy against
// one workspace. SolveOrbit calls are serialized; callers wanting
// parallel solves create one Driver per workspace.
type Driver struct {
	mu      sync.Mutex
	ws      *Workspace
	solver  OrbitSolver
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Recorder
}

func NewDriver(ws *Workspace, s OrbitSolver, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		ws:      ws,
		solver:  s,
		timeout: opts.Timeout,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// SolveOrbit cleans set and fits an orbit to all of it. If that attempt
// fails, each calendar year is fitted on its own, in increasing order,
// and the converged estimates are aggregated. Partition failures are
// logged and skipped. ErrNoConvergentOrbit is returned when nothing
// converged; workspace, aggregation and context errors abort the call.
func (d *Driver) SolveOrbit(ctx context.Context, set mpc80.ObservationSet) (orbit.Estimate, SolveReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	clean := mpc80.Clean(set)
	report := SolveReport{Observations: len(clean), Dropped: len(set) - len(clean), ArcDays: clean.Arc()}
	if len(clean) == 0 {
		d.metrics.RecordSolve("no_orbit")
		return orbit.Estimate{}, report, fmt.Errorf("%w: no usable observations", ErrNoConvergentOrbit)
	}

	est, err := d.attempt(ctx, &report, metrics.ScopeWhole, 0, clean)
	if err == nil {
		d.metrics.RecordSolve("ok")
		return est, report, nil
	}
	if !recoverable(err) {
		d.metrics.RecordSolve("error")
		return orbit.Estimate{}, report, err
	}

	report.Partitioned = true
	failures := []error{err}
	var estimates []orbit.Estimate
	for _, g := range mpc80.GroupByYear(clean) {
		est, err := d.attempt(ctx, &report, metrics.ScopePartition, g.Year, g.Obs)
		if err != nil {
			if !recoverable(err) {
				d.metrics.RecordSolve("error")
				return orbit.Estimate{}, report, err
			}
			logging.LogPartition(d.logger, g.Year, len(g.Obs), err)
			failures = append(failures, err)
			continue
		}
		estimates = append(estimates, est)
	}

	if len(estimates) == 0 {
		d.metrics.RecordSolve("no_orbit")
		return orbit.Estimate{}, report, fmt.Errorf("%w after %d attempts: %w",
			ErrNoConvergentOrbit, len(report.Attempts), errors.Join(failures...))
	}
	agg, err := orbit.Aggregate(estimates)
	if err != nil {
		d.metrics.RecordSolve("error")
		return orbit.Estimate{}, report, err
	}
	d.metrics.RecordSolve("ok")
	return agg, report, nil
}

// attempt resets the workspace, writes obs and invokes the solver once.
func (d *Driver) attempt(ctx context.Context, report *SolveReport, scope string, year int, obs mpc80.ObservationSet) (orbit.Estimate, error) {
	if err := ctx.Err(); err != nil {
		return orbit.Estimate{}, err
	}
	if err := d.ws.Reset(); err != nil {
		return orbit.Estimate{}, err
	}
	if err := d.ws.WriteInput(obs); err != nil {
		return orbit.Estimate{}, fmt.Errorf("%w: write input: %v", ErrWorkspaceInconsistency, err)
	}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	start := time.Now()
	est, err := d.solver.Solve(actx, d.ws)
	timedOut := errors.Is(actx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// the caller gave up; never report that as a solver outcome
		err = ctx.Err()
	} else if err != nil && timedOut && !errors.Is(err, ErrSolverTimeout) {
		err = fmt.Errorf("%w after %s: %v", ErrSolverTimeout, d.timeout, err)
	}

	a := Attempt{Scope: scope, Year: year, Observations: len(obs), Duration: elapsed}
	switch {
	case err == nil:
		a.Outcome = OutcomeConverged
	case errors.Is(err, ErrSolverTimeout):
		a.Outcome = OutcomeTimeout
	case errors.Is(err, ErrNonConvergence), errors.Is(err, ErrUnusableResult):
		a.Outcome = OutcomeFailed
	default:
		a.Outcome = OutcomeError
	}
	if err != nil {
		a.Error = err.Error()
	}
	report.Attempts = append(report.Attempts, a)
	d.metrics.RecordAttempt(scope, a.Outcome, elapsed.Seconds())
	d.logger.Debug("solver attempt",
		"scope", scope,
		"year", year,
		"observations", len(obs),
		"outcome", a.Outcome,
		"duration_ms", elapsed.Milliseconds(),
	)
	return est, err
}
