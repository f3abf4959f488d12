package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"estate-harvester/locks"
	"estate-harvester/metrics"
	"estate-harvester/models"
	"estate-harvester/scraper"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

// Error classes recorded in a run's error-class map.
const (
	ErrorClassFetch     = "fetch"
	ErrorClassParse     = "parse"
	ErrorClassReconcile = "reconcile"
	ErrorClassOther     = "other"
)

const cancelledMessage = "cancelled"

// RejectionRecorder receives candidates turned away by the filter pipeline.
type RejectionRecorder interface {
	Record(rej storage.Rejection) error
}

// SourceRunnerConfig wires a SourceRunner.
type SourceRunnerConfig struct {
	Store      storage.JobStore
	Registry   *scraper.Registry
	Fetchers   map[string]scraper.Fetcher // keyed by fetch mode
	Cleaner    *Cleaner
	Filter     *FilterPipeline
	Reconciler *Reconciler
	Locker     locks.SourceLocker
	Rejections RejectionRecorder // optional

	// GlobalLimiter is shared by every source of every job in the process.
	GlobalLimiter        *utils.Limiter
	PerSourceConcurrency int
	RateInterval         time.Duration
	Retry                utils.RetryConfig
	FetchTimeout         time.Duration

	Metrics *metrics.Metrics
	Logger  utils.Logger
}

// SourceRunner executes Source Tasks: it drives one adapter end to end and
// produces exactly one RunRecord per call.
type SourceRunner struct {
	cfg    SourceRunnerConfig
	logger utils.Logger
}

// NewSourceRunner creates a SourceRunner.
func NewSourceRunner(cfg SourceRunnerConfig) *SourceRunner {
	if cfg.PerSourceConcurrency < 1 {
		cfg.PerSourceConcurrency = 1
	}
	if cfg.Locker == nil {
		cfg.Locker = locks.NewMemoryLocker()
	}
	return &SourceRunner{cfg: cfg, logger: cfg.Logger.With(utils.Component("source_task"))}
}

// runTally accumulates a run's counters from concurrent candidate workers.
type runTally struct {
	mu           sync.Mutex
	counts       models.Counts
	rejections   models.Counter
	errorClasses models.Counter
}

func newRunTally() *runTally {
	return &runTally{rejections: models.Counter{}, errorClasses: models.Counter{}}
}

func (t *runTally) add(fn func(c *models.Counts)) {
	t.mu.Lock()
	fn(&t.counts)
	t.mu.Unlock()
}

func (t *runTally) reject(reason string) {
	t.mu.Lock()
	t.counts.Rejected++
	t.rejections[reason]++
	t.mu.Unlock()
}

func (t *runTally) fail(class string) {
	t.mu.Lock()
	t.counts.Errors++
	t.errorClasses[class]++
	t.mu.Unlock()
}

func (t *runTally) writeTo(rec *models.RunRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec.Counts = t.counts
	rec.Rejections = t.rejections
	rec.ErrorClasses = t.errorClasses
}

// Run harvests source for job. ctx carries the job's cancellation signal;
// bookkeeping writes outlive it so the RunRecord is always finalized.
func (r *SourceRunner) Run(ctx context.Context, job *models.Job, source models.Source) models.RunRecord {
	start := time.Now()
	logger := r.logger.With(utils.String("job_id", job.ID), utils.String("source", source.Code))
	dbctx := context.WithoutCancel(ctx)

	rec := models.RunRecord{
		JobID:        job.ID,
		SourceID:     source.ID,
		SourceCode:   source.Code,
		Status:       models.RunRunning,
		Rejections:   models.Counter{},
		ErrorClasses: models.Counter{},
		StartedAt:    start.UTC(),
	}
	if err := r.cfg.Store.CreateRunRecord(dbctx, &rec); err != nil {
		logger.Error("Failed to create run record", utils.Err(err))
		rec.Status = models.RunFailed
		rec.ErrorMessage = fmt.Sprintf("create run record: %v", err)
		return rec
	}

	logger.Info("Source run started", utils.Bool("full_rescan", job.FullRescan))
	r.execute(ctx, logger, job, source, &rec)

	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	if err := r.cfg.Store.FinishRunRecord(dbctx, &rec); err != nil {
		logger.Error("Failed to finalize run record", utils.Err(err))
	}
	r.cfg.Metrics.SourceRun(source.Code, string(rec.Status), time.Since(start))

	logger.Info("Source run finished",
		utils.String("status", string(rec.Status)),
		utils.Int("seen", rec.Seen),
		utils.Int("new", rec.New),
		utils.Int("updated", rec.Updated),
		utils.Int("deactivated", rec.Deactivated),
		utils.Int("rejected", rec.Rejected),
		utils.Int("errors", rec.Errors),
		utils.Duration("duration", time.Since(start)))
	return rec
}

// Skip records a run of source that never started, finalized as failed
// with reason.
func (r *SourceRunner) Skip(ctx context.Context, job *models.Job, source models.Source, reason string) models.RunRecord {
	dbctx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	rec := models.RunRecord{
		JobID:        job.ID,
		SourceID:     source.ID,
		SourceCode:   source.Code,
		Status:       models.RunRunning,
		Rejections:   models.Counter{},
		ErrorClasses: models.Counter{},
		StartedAt:    now,
	}
	if err := r.cfg.Store.CreateRunRecord(dbctx, &rec); err != nil {
		r.logger.Error("Failed to create run record", utils.String("source", source.Code), utils.Err(err))
	}
	rec.Status = models.RunFailed
	rec.ErrorMessage = reason
	rec.FinishedAt = &now
	if rec.ID != 0 {
		if err := r.cfg.Store.FinishRunRecord(dbctx, &rec); err != nil {
			r.logger.Error("Failed to finalize run record", utils.String("source", source.Code), utils.Err(err))
		}
	}
	return rec
}

func (r *SourceRunner) execute(ctx context.Context, logger utils.Logger, job *models.Job, source models.Source, rec *models.RunRecord) {
	failRun := func(msg string) {
		rec.Status = models.RunFailed
		rec.ErrorMessage = msg
		logger.Warn("Source run failed", utils.String("reason", msg))
	}

	release, err := r.cfg.Locker.TryLock(ctx, source.Code)
	if err != nil {
		failRun(err.Error())
		return
	}
	defer release()

	adapter, err := r.buildAdapter(source)
	if err != nil {
		failRun(err.Error())
		return
	}

	tally := newRunTally()
	observed := utils.NewKeySet()
	queued := utils.NewKeySet()
	pool := utils.NewWorkerPool(r.cfg.PerSourceConcurrency)
	var emitted atomic.Int64

	enumErr := adapter.EnumerateCandidates(ctx, func(c models.RawCandidate) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		emitted.Add(1)

		c.ExternalID = strings.TrimSpace(c.ExternalID)
		key := c.ExternalID
		if key == "" {
			key = resolveURL(source.BaseURL, c.DetailURL)
		}
		if key == "" {
			tally.fail(ErrorClassParse)
			logger.Debug("Candidate without identity skipped")
			return nil
		}
		observed.Add(key)
		if !queued.Add(key) {
			return nil
		}
		tally.add(func(cnt *models.Counts) { cnt.Seen++ })

		return pool.Submit(ctx, func() {
			r.processCandidate(ctx, logger, job, source, adapter, c, tally, observed)
		})
	})
	pool.Wait()

	tally.writeTo(rec)
	cancelled := ctx.Err() != nil

	switch {
	case cancelled:
		rec.Status = models.RunFailed
		rec.ErrorMessage = cancelledMessage
	case enumErr != nil && emitted.Load() == 0:
		failRun(fmt.Sprintf("enumerate: %v", enumErr))
		return
	case enumErr != nil:
		rec.Status = models.RunSucceeded
		rec.Errors++
		rec.ErrorClasses[errorClassOf(enumErr)]++
		rec.ErrorMessage = fmt.Sprintf("enumerate: %v", enumErr)
		logger.Warn("Enumeration stopped early", utils.Err(enumErr), utils.Int64("emitted", emitted.Load()))
	default:
		rec.Status = models.RunSucceeded
	}

	if !job.FullRescan {
		return
	}
	if cancelled || enumErr != nil {
		logger.Warn("Skipping deactivation sweep: enumeration incomplete",
			utils.Bool("cancelled", cancelled), utils.Err(enumErr))
		return
	}

	seen := make([]string, 0, observed.Size())
	for k := range observed.Snapshot() {
		seen = append(seen, k)
	}
	n, err := r.cfg.Reconciler.DeactivateUnseen(context.WithoutCancel(ctx), source.ID, seen)
	if err != nil {
		logger.Error("Deactivation sweep failed", utils.Err(err))
		rec.Errors++
		rec.ErrorClasses[ErrorClassReconcile]++
		rec.ErrorMessage = err.Error()
		return
	}
	rec.Deactivated = n
	r.cfg.Metrics.Deactivated(source.Code, n)
}

func (r *SourceRunner) buildAdapter(source models.Source) (scraper.Adapter, error) {
	mode := source.FetchMode
	if mode == "" {
		mode = models.FetchModeHTTP
	}
	base, ok := r.cfg.Fetchers[mode]
	if !ok {
		return nil, fmt.Errorf("source %s: no fetcher for mode %q", source.Code, mode)
	}

	gate := NewFetchGate(base, FetchGateConfig{
		Source:    source.Code,
		PerSource: utils.NewLimiter(r.cfg.PerSourceConcurrency, r.cfg.RateInterval),
		Global:    r.cfg.GlobalLimiter,
		Retry:     r.cfg.Retry,
		Timeout:   r.cfg.FetchTimeout,
		Metrics:   r.cfg.Metrics,
	})
	return r.cfg.Registry.Build(source, gate)
}

func (r *SourceRunner) processCandidate(
	ctx context.Context,
	logger utils.Logger,
	job *models.Job,
	source models.Source,
	adapter scraper.Adapter,
	c models.RawCandidate,
	tally *runTally,
	observed *utils.KeySet,
) {
	if ctx.Err() != nil {
		return
	}

	listing, err := adapter.FetchDetail(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		class := errorClassOf(err)
		tally.fail(class)
		r.cfg.Metrics.Candidate(source.Code, "error")
		logger.Warn("Candidate failed",
			utils.String("url", c.DetailURL), utils.String("class", class), utils.Err(err))
		return
	}

	if listing.ExternalID == "" {
		listing.ExternalID = c.ExternalID
	}
	if listing.URL == "" {
		listing.URL = c.DetailURL
	}
	if !r.cfg.Cleaner.Clean(source, listing) {
		tally.fail(ErrorClassParse)
		r.cfg.Metrics.Candidate(source.Code, "error")
		return
	}
	observed.Add(listing.ExternalID)

	if admitted, reason := r.cfg.Filter.Evaluate(listing); !admitted {
		tally.reject(reason)
		r.cfg.Metrics.Candidate(source.Code, "rejected_"+reason)
		r.recordRejection(logger, job, source, listing, reason)
		return
	}

	outcome, err := r.cfg.Reconciler.Upsert(ctx, listing)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		tally.fail(ErrorClassReconcile)
		r.cfg.Metrics.Candidate(source.Code, "error")
		logger.Error("Reconciliation failed",
			utils.String("external_id", listing.ExternalID), utils.Err(err))
		return
	}

	switch outcome {
	case models.Inserted:
		tally.add(func(cnt *models.Counts) { cnt.New++ })
	case models.Updated:
		tally.add(func(cnt *models.Counts) { cnt.Updated++ })
	}
	r.cfg.Metrics.Candidate(source.Code, outcome.String())
}

func (r *SourceRunner) recordRejection(logger utils.Logger, job *models.Job, source models.Source, l *models.NormalizedListing, reason string) {
	if r.cfg.Rejections == nil {
		return
	}
	err := r.cfg.Rejections.Record(storage.Rejection{
		At:         time.Now(),
		JobID:      job.ID,
		SourceCode: source.Code,
		ExternalID: l.ExternalID,
		URL:        l.URL,
		Reason:     reason,
		Title:      l.Title,
		Price:      l.Price,
	})
	if err != nil {
		logger.Warn("Failed to record rejection", utils.Err(err))
	}
}

func errorClassOf(err error) string {
	if errors.Is(err, ErrReconciliation) {
		return ErrorClassReconcile
	}
	return scraper.ErrorClass(err)
}
