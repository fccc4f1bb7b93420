package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"astrored/internal/logging"
	"astrored/internal/metrics"
	"astrored/internal/mpc80"
	"astrored/internal/orbit"
	"astrored/internal/solver"
	"astrored/internal/storage"
)

// JobType enumerates supported job categories.
type JobType string

const (
	JobSolve  JobType = "solve"  // fit an orbit to supplied or file observations
	JobImport JobType = "import" // fit an orbit to archived observations of a target
	JobClean  JobType = "clean"  // dedup and sort an observation file
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// Job represents a single request.
type Job struct {
	ID           string
	Type         JobType
	Target       string
	Source       string
	InputPath    string
	Output       string
	Observations mpc80.ObservationSet
	Options      map[string]any
}

// Anomalies are derived from a converged estimate's mean anomaly.
type Anomalies struct {
	Eccentric orbit.Element `json:"eccentric"`
	True      orbit.Element `json:"true"`
}

// Result captures the outcome of a Job.
type Result struct {
	Job      Job
	Error    error
	Estimate *orbit.Estimate
	Anomaly  *Anomalies
	Report   *solver.SolveReport
	Meta     map[string]any
}

// Status is "completed" or "failed".
func (r Result) Status() string {
	if r.Error != nil {
		return "failed"
	}
	return "completed"
}

// Event is the JSON form of a Result sent to stream subscribers.
type Event struct {
	ID       string              `json:"id"`
	Type     JobType             `json:"type"`
	Target   string              `json:"target,omitempty"`
	Source   string              `json:"source,omitempty"`
	Status   string              `json:"status"`
	Error    string              `json:"error,omitempty"`
	Estimate *orbit.Estimate     `json:"estimate,omitempty"`
	Anomaly  *Anomalies          `json:"anomaly,omitempty"`
	Report   *solver.SolveReport `json:"report,omitempty"`
	Meta     map[string]any      `json:"meta,omitempty"`
}

// Event converts r for serialization.
func (r Result) Event() Event {
	return Event{
		ID:       r.Job.ID,
		Type:     r.Job.Type,
		Target:   r.Job.Target,
		Source:   r.Job.Source,
		Status:   r.Status(),
		Error:    errString(r.Error),
		Estimate: r.Estimate,
		Anomaly:  r.Anomaly,
		Report:   r.Report,
		Meta:     r.Meta,
	}
}

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Options configure a Pipeline.
type Options struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
	Store     *storage.Store
	Metrics   *metrics.Recorder
	// NewProcessor builds the processor owned by worker n. Workers never
	// share a processor, so each one can own a solver workspace.
	NewProcessor func(worker int) (Processor, error)
}

// Pipeline orchestrates job dispatch across workers.
type Pipeline struct {
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	metrics   *metrics.Recorder
	mu        sync.Mutex
	stopped   bool
	subs      map[int]chan Result
	nextSubID int
	waiters   map[string]chan Result
}

// New creates the workers' processors and starts them.
func New(ctx context.Context, opts Options) (*Pipeline, error) {
	if opts.NewProcessor == nil {
		return nil, errors.New("pipeline: no processor factory")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queue := opts.QueueSize
	if queue < 1 {
		queue = workers * 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	procs := make([]Processor, workers)
	for i := range procs {
		proc, err := opts.NewProcessor(i)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		procs[i] = proc
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		log:     logger,
		jobs:    make(chan Job, queue),
		cancel:  cancel,
		store:   opts.Store,
		metrics: opts.Metrics,
		subs:    make(map[int]chan Result),
		waiters: make(map[string]chan Result),
	}
	for i, proc := range procs {
		p.wg.Add(1)
		go p.worker(ctx, i, proc)
	}
	return p, nil
}

// Submit adds a job to the processing queue and returns its ID.
func (p *Pipeline) Submit(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Type == "" {
		job.Type = JobSolve
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return "", errors.New("pipeline stopped")
	}
	select {
	case p.jobs <- job:
	default:
		return "", ErrQueueFull
	}
	if p.store != nil {
		if err := p.store.RecordJobQueued(storage.JobRecord{
			ID:           job.ID,
			Target:       job.Target,
			Source:       job.Source,
			Status:       "queued",
			Observations: len(job.Observations),
		}); err != nil {
			p.log.Warn("failed to record queued job", "id", job.ID, "error", err)
		}
	}
	p.metrics.SetQueueDepth(len(p.jobs))
	return job.ID, nil
}

// Run submits job and blocks until its result is ready.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	ch := make(chan Result, 1)
	p.mu.Lock()
	p.waiters[job.ID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, job.ID)
		p.mu.Unlock()
	}()

	if _, err := p.Submit(job); err != nil {
		return Result{}, err
	}
	select {
	case res, ok := <-ch:
		if !ok {
			return Result{}, errors.New("pipeline stopped")
		}
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		for id, ch := range p.waiters {
			close(ch)
			delete(p.waiters, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int, proc Processor) {
	defer p.wg.Done()
	logger := p.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.metrics.SetQueueDepth(len(p.jobs))
			p.run(ctx, logger, proc, job)
		}
	}
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, proc Processor, job Job) {
	start := time.Now()
	logging.LogSolveStart(logger, job.ID, job.Target, job.Source, len(job.Observations))
	if p.store != nil {
		if err := p.store.RecordJobStart(job.ID); err != nil {
			logger.Warn("failed to record job start", "id", job.ID, "error", err)
		}
	}

	res := proc.Process(ctx, job)
	res.Job = job
	if res.Job.Target == "" {
		res.Job.Target = targetOf(res)
	}
	duration := time.Since(start)

	if res.Error != nil {
		logging.LogSolveError(logger, job.ID, duration, res.Error, map[string]any{
			"type":   job.Type,
			"target": res.Job.Target,
			"input":  job.InputPath,
		})
	} else {
		logging.LogSolveComplete(logger, job.ID, duration, res.Meta)
	}
	p.record(res)
	p.metrics.RecordJob(res.Status())
	p.broadcast(res)
}

func targetOf(res Result) string {
	if t, ok := res.Meta["target"].(string); ok {
		return t
	}
	return ""
}

func (p *Pipeline) record(res Result) {
	if p.store == nil {
		return
	}
	id := res.Job.ID
	if err := p.store.RecordJobResult(id, res.Status(), res.Meta, errString(res.Error)); err != nil {
		p.log.Warn("failed to record job result", "id", id, "error", err)
	}
	if res.Estimate != nil {
		if err := p.store.RecordOrbit(id, res.Job.Target, *res.Estimate); err != nil {
			p.log.Warn("failed to record orbit", "id", id, "error", err)
		}
	}
	if res.Report != nil {
		attempts := make([]storage.AttemptRecord, len(res.Report.Attempts))
		for i, a := range res.Report.Attempts {
			attempts[i] = storage.AttemptRecord{
				Scope:        a.Scope,
				Year:         a.Year,
				Observations: a.Observations,
				Outcome:      a.Outcome,
				Error:        a.Error,
				DurationMS:   a.Duration.Milliseconds(),
			}
		}
		if err := p.store.RecordAttempts(id, attempts); err != nil {
			p.log.Warn("failed to record attempts", "id", id, "error", err)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.waiters[res.Job.ID]; ok {
		ch <- res
		delete(p.waiters, res.Job.ID)
	}
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
