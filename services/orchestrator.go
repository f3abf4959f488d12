package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"estate-harvester/metrics"
	"estate-harvester/models"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

var (
	// ErrInvalidArgument is returned by StartJob for an empty source set or
	// a code that does not name a known active source.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// ErrShuttingDown is returned by StartJob once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// TriggerManual names jobs started without a scheduler trigger.
const TriggerManual = "manual"

// JobRequest is the argument set of StartJob.
type JobRequest struct {
	SourceCodes []string `json:"sourceCodes"`
	FullRescan  bool     `json:"fullRescan"`
	Trigger     string   `json:"trigger,omitempty"`
}

// JobStarter is the single entry point shared by the scheduler, the API
// and the CLI.
type JobStarter interface {
	StartJob(ctx context.Context, req JobRequest) (string, error)
}

// OrchestratorStore is the persistence the orchestrator needs.
type OrchestratorStore interface {
	storage.SourceStore
	storage.JobStore
}

// Orchestrator creates jobs, fans their sources out to Source Tasks and
// advances the job state machine.
type Orchestrator struct {
	store   OrchestratorStore
	runner  *SourceRunner
	pool    *utils.WorkerPool
	metrics *metrics.Metrics
	logger  utils.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. maxConcurrentSources bounds
// how many Source Tasks run at once across all jobs.
func NewOrchestrator(store OrchestratorStore, runner *SourceRunner, maxConcurrentSources int, m *metrics.Metrics, logger utils.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		runner:    runner,
		pool:      utils.NewWorkerPool(maxConcurrentSources),
		metrics:   m,
		logger:    logger.With(utils.Component("orchestrator")),
		baseCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]context.CancelFunc),
	}
}

// StartJob validates req, persists a new job, moves it to running and
// launches it in the background. The job outlives ctx.
func (o *Orchestrator) StartJob(ctx context.Context, req JobRequest) (string, error) {
	codes := normaliseCodes(req.SourceCodes)
	if len(codes) == 0 {
		return "", fmt.Errorf("%w: no source codes", ErrInvalidArgument)
	}

	found, err := o.store.GetSourcesByCodes(ctx, codes)
	if err != nil {
		return "", fmt.Errorf("resolve sources: %w", err)
	}
	byCode := make(map[string]models.Source, len(found))
	for _, s := range found {
		byCode[s.Code] = s
	}
	sources := make([]models.Source, 0, len(codes))
	for _, code := range codes {
		s, ok := byCode[code]
		switch {
		case !ok:
			return "", fmt.Errorf("%w: unknown source %q", ErrInvalidArgument, code)
		case !s.Active:
			return "", fmt.Errorf("%w: source %q is inactive", ErrInvalidArgument, code)
		}
		sources = append(sources, s)
	}

	if o.isClosed() {
		return "", ErrShuttingDown
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.NewString(),
		SourceCodes: codes,
		FullRescan:  req.FullRescan,
		Trigger:     trigger,
		Status:      models.JobQueued,
		CreatedAt:   now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := o.store.TransitionJob(ctx, job.ID, models.JobQueued, models.JobRunning, now); err != nil {
		return "", fmt.Errorf("start job %s: %w", job.ID, err)
	}
	job.Status = models.JobRunning
	job.StartedAt = &now

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.finish(ctx, job, nil, ErrShuttingDown.Error())
		return "", ErrShuttingDown
	}
	jobCtx, cancel := context.WithCancel(o.baseCtx)
	o.running[job.ID] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("Job started",
		utils.String("job_id", job.ID),
		utils.Strings("sources", codes),
		utils.Bool("full_rescan", job.FullRescan),
		utils.String("trigger", trigger))

	go o.run(jobCtx, job, sources)
	return job.ID, nil
}

// GetJobStatus returns the job with its run records.
func (o *Orchestrator) GetJobStatus(ctx context.Context, id string) (*models.JobSnapshot, error) {
	job, err := o.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	runs, err := o.store.ListRunRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list runs of job %s: %w", id, err)
	}
	return &models.JobSnapshot{Job: *job, Runs: runs}, nil
}

// ListJobs returns the most recent jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return o.store.ListJobs(ctx, limit)
}

// CancelJob raises the cancellation signal of a running job. Cancelling a
// finished job is a no-op.
func (o *Orchestrator) CancelJob(ctx context.Context, id string) error {
	o.mu.Lock()
	cancel, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		o.logger.Info("Job cancellation requested", utils.String("job_id", id))
		cancel()
		return nil
	}

	if _, err := o.store.GetJob(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return fmt.Errorf("get job %s: %w", id, err)
	}
	return nil
}

// Shutdown cancels every running job and waits for them to finalize or
// for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancelAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("Orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) run(ctx context.Context, job *models.Job, sources []models.Source) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.running[job.ID]; ok {
			cancel()
			delete(o.running, job.ID)
		}
		o.mu.Unlock()
	}()

	total := len(sources)
	var (
		done    atomic.Int64
		mu      sync.Mutex
		records = make([]models.RunRecord, 0, total)
		wg      sync.WaitGroup
	)
	report := func(rec models.RunRecord) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
		o.advance(job.ID, int(done.Add(1))*100/total)
	}

	for _, src := range sources {
		wg.Add(1)
		err := o.pool.Submit(ctx, func() {
			defer wg.Done()
			report(o.runner.Run(ctx, job, src))
		})
		if err != nil {
			wg.Done()
			report(o.runner.Skip(ctx, job, src, cancelledMessage))
		}
	}
	wg.Wait()

	msg := ""
	if ctx.Err() != nil {
		msg = cancelledMessage
	}
	o.finish(ctx, job, records, msg)
}

func (o *Orchestrator) advance(jobID string, progress int) {
	if err := o.store.UpdateJobProgress(context.WithoutCancel(o.baseCtx), jobID, progress); err != nil {
		o.logger.Warn("Failed to update job progress",
			utils.String("job_id", jobID), utils.Int("progress", progress), utils.Err(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, job *models.Job, records []models.RunRecord, msg string) {
	job.Counts = models.Counts{}
	var failed []string
	for _, rec := range records {
		job.Counts.Add(rec.Counts)
		if rec.Status != models.RunSucceeded {
			failed = append(failed, fmt.Sprintf("%s: %s", rec.SourceCode, rec.ErrorMessage))
		}
	}
	job.Status = terminalStatus(records)
	job.Progress = 100
	switch {
	case msg != "":
		job.ErrorMessage = msg
	case len(failed) > 0:
		sort.Strings(failed)
		job.ErrorMessage = strings.Join(failed, "; ")
	}
	finished := time.Now().UTC()
	job.FinishedAt = &finished

	if err := o.store.FinishJob(context.WithoutCancel(ctx), job); err != nil {
		o.logger.Error("Failed to finalize job", utils.String("job_id", job.ID), utils.Err(err))
		return
	}
	o.metrics.JobFinished(string(job.Status))
	o.logger.Info("Job finished",
		utils.String("job_id", job.ID),
		utils.String("status", string(job.Status)),
		utils.Int("new", job.New),
		utils.Int("updated", job.Updated),
		utils.Int("deactivated", job.Deactivated),
		utils.Int("errors", job.Errors))
}

// terminalStatus folds run outcomes into the job's terminal state.
func terminalStatus(records []models.RunRecord) models.JobStatus {
	succeeded := 0
	for _, rec := range records {
		if rec.Status == models.RunSucceeded {
			succeeded++
		}
	}
	switch {
	case len(records) > 0 && succeeded == len(records):
		return models.JobSucceeded
	case succeeded == 0:
		return models.JobFailed
	default:
		return models.JobPartiallySucceeded
	}
}

func normaliseCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
