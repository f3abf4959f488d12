package storage

import (
	"context"
	"errors"
	"time"

	"estate-harvester/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when a conditional status update matched no
	// row because the row had already moved on.
	ErrStaleState = errors.New("stale state")
)

// SourceStore is the sources catalogue.
type SourceStore interface {
	UpsertSource(ctx context.Context, s *models.Source) error
	ListSources(ctx context.Context) ([]models.Source, error)
	GetSourcesByCodes(ctx context.Context, codes []string) ([]models.Source, error)
}

// ListingStore persists canonical listings and their photo sets.
type ListingStore interface {
	// UpsertListing inserts or refreshes l and atomically replaces its photo
	// set. It fills l.ID, l.FirstSeenAt, l.LastSeenAt and l.IsActive and
	// reports whether a new row was created.
	UpsertListing(ctx context.Context, l *models.NormalizedListing, now time.Time) (inserted bool, err error)
	// DeactivateUnseen marks every active listing of sourceID whose external
	// id is not in seen as inactive and returns how many rows changed.
	DeactivateUnseen(ctx context.Context, sourceID int64, seen []string) (int, error)
	GetListing(ctx context.Context, key models.ListingKey) (*models.NormalizedListing, error)
	ListListings(ctx context.Context) ([]*models.NormalizedListing, error)
}

// JobStore persists jobs and their run records.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	// TransitionJob moves a job from one status to another, failing with
	// ErrStaleState when the job is no longer in from.
	TransitionJob(ctx context.Context, id string, from, to models.JobStatus, at time.Time) error
	// UpdateJobProgress raises the stored progress; it never lowers it.
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	// FinishJob writes the terminal status, counts and error of a running job.
	FinishJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)

	CreateRunRecord(ctx context.Context, r *models.RunRecord) error
	// FinishRunRecord finalizes a running record; finalized records are
	// never modified again.
	FinishRunRecord(ctx context.Context, r *models.RunRecord) error
	ListRunRecords(ctx context.Context, jobID string) ([]models.RunRecord, error)
}

// Store is everything the orchestrator persists.
type Store interface {
	SourceStore
	ListingStore
	JobStore
	Close() error
}
