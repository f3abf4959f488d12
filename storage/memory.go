package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"estate-harvester/models"
)

// Memory is an in-process Store with the same semantics as Postgres. It
// backs dry runs and tests.
type Memory struct {
	mu sync.Mutex

	sources      map[string]*models.Source
	nextSourceID int64

	listings      map[models.ListingKey]*models.NormalizedListing
	nextListingID int64

	jobs      map[string]*models.Job
	runs      map[string][]*models.RunRecord
	nextRunID int64

	// FailUpserts makes the next n UpsertListing calls fail, for exercising
	// the reconciliation retry.
	FailUpserts int
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sources:  make(map[string]*models.Source),
		listings: make(map[models.ListingKey]*models.NormalizedListing),
		jobs:     make(map[string]*models.Job),
		runs:     make(map[string][]*models.RunRecord),
	}
}

// UpsertSource implements SourceStore.
func (m *Memory) UpsertSource(_ context.Context, s *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.FetchMode == "" {
		s.FetchMode = models.FetchModeHTTP
	}
	if existing, ok := m.sources[s.Code]; ok {
		s.ID, s.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		m.nextSourceID++
		s.ID, s.CreatedAt = m.nextSourceID, time.Now().UTC()
	}
	cp := *s
	m.sources[s.Code] = &cp
	return nil
}

// ListSources implements SourceStore.
func (m *Memory) ListSources(_ context.Context) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// GetSourcesByCodes implements SourceStore.
func (m *Memory) GetSourcesByCodes(_ context.Context, codes []string) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Source
	for _, code := range codes {
		if s, ok := m.sources[code]; ok {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// UpsertListing implements ListingStore.
func (m *Memory) UpsertListing(_ context.Context, l *models.NormalizedListing, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpserts > 0 {
		m.FailUpserts--
		return false, fmt.Errorf("memory: injected upsert failure")
	}

	key := l.Key()
	stored, exists := m.listings[key]
	if !exists {
		m.nextListingID++
		l.ID = m.nextListingID
		l.FirstSeenAt = now
		l.LastSeenAt = now
	} else {
		l.ID = stored.ID
		l.FirstSeenAt = stored.FirstSeenAt
		l.LastSeenAt = stored.LastSeenAt
		if now.After(l.LastSeenAt) {
			l.LastSeenAt = now
		}
	}
	l.IsActive = true

	cp := *l
	cp.Photos = slices.Clone(l.Photos)
	m.listings[key] = &cp
	return !exists, nil
}

// DeactivateUnseen implements ListingStore.
func (m *Memory) DeactivateUnseen(_ context.Context, sourceID int64, seen []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	observed := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		observed[id] = struct{}{}
	}
	n := 0
	for key, l := range m.listings {
		if key.SourceID != sourceID || !l.IsActive {
			continue
		}
		if _, ok := observed[key.ExternalID]; !ok {
			l.IsActive = false
			n++
		}
	}
	return n, nil
}

// GetListing implements ListingStore.
func (m *Memory) GetListing(_ context.Context, key models.ListingKey) (*models.NormalizedListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	cp.Photos = slices.Clone(l.Photos)
	return &cp, nil
}

// ListListings implements ListingStore.
func (m *Memory) ListListings(_ context.Context) ([]*models.NormalizedListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.NormalizedListing, 0, len(m.listings))
	for _, l := range m.listings {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateJob implements JobStore.
func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("memory: job %s already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

// TransitionJob implements JobStore.
func (m *Memory) TransitionJob(_ context.Context, id string, from, to models.JobStatus, at time.Time) error {
	if err := models.ValidateJobTransition(from, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != from {
		return fmt.Errorf("job %s not %s: %w", id, from, ErrStaleState)
	}
	job.Status = to
	if to == models.JobRunning {
		started := at
		job.StartedAt = &started
	}
	return nil
}

// UpdateJobProgress implements JobStore.
func (m *Memory) UpdateJobProgress(_ context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[id]; ok && progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

// FinishJob implements JobStore.
func (m *Memory) FinishJob(_ context.Context, job *models.Job) error {
	if err := models.ValidateJobTransition(models.JobRunning, job.Status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[job.ID]
	if !ok || stored.Status != models.JobRunning {
		return fmt.Errorf("job %s not running: %w", job.ID, ErrStaleState)
	}
	stored.Status = job.Status
	stored.Progress = max(stored.Progress, job.Progress)
	stored.Counts = job.Counts
	stored.ErrorMessage = job.ErrorMessage
	stored.FinishedAt = job.FinishedAt
	return nil
}

// GetJob implements JobStore.
func (m *Memory) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// ListJobs implements JobStore.
func (m *Memory) ListJobs(_ context.Context, limit int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateRunRecord implements JobStore.
func (m *Memory) CreateRunRecord(_ context.Context, r *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRunID++
	r.ID = m.nextRunID
	cp := *r
	m.runs[r.JobID] = append(m.runs[r.JobID], &cp)
	return nil
}

// FinishRunRecord implements JobStore.
func (m *Memory) FinishRunRecord(_ context.Context, r *models.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, stored := range m.runs[r.JobID] {
		if stored.ID != r.ID {
			continue
		}
		if stored.Status != models.RunRunning {
			return fmt.Errorf("run record %d already final: %w", r.ID, ErrStaleState)
		}
		cp := *r
		cp.Rejections = cloneCounter(r.Rejections)
		cp.ErrorClasses = cloneCounter(r.ErrorClasses)
		*stored = cp
		return nil
	}
	return fmt.Errorf("run record %d: %w", r.ID, ErrNotFound)
}

// ListRunRecords implements JobStore.
func (m *Memory) ListRunRecords(_ context.Context, jobID string) ([]models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.RunRecord, 0, len(m.runs[jobID]))
	for _, r := range m.runs[jobID] {
		cp := *r
		cp.Rejections = cloneCounter(r.Rejections)
		cp.ErrorClasses = cloneCounter(r.ErrorClasses)
		out = append(out, cp)
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func cloneCounter(c models.Counter) models.Counter {
	if c == nil {
		return nil
	}
	out := make(models.Counter, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
