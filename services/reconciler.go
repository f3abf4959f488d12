package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estate-harvester/models"
	"estate-harvester/storage"
	"estate-harvester/utils"
)

// ErrReconciliation is returned when a listing could not be written even
// after the retry.
var ErrReconciliation = errors.New("reconciliation failed")

// Reconciler merges normalized listings into the canonical store.
type Reconciler struct {
	store      storage.ListingStore
	keys       *utils.KeyedMutex
	maxPhotos  int
	retryDelay time.Duration
	now        func() time.Time
	logger     utils.Logger
}

// NewReconciler creates a Reconciler. maxPhotos <= 0 keeps every photo.
func NewReconciler(store storage.ListingStore, maxPhotos int, retryDelay time.Duration, logger utils.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		keys:       utils.NewKeyedMutex(),
		maxPhotos:  maxPhotos,
		retryDelay: retryDelay,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(utils.Component("reconciler")),
	}
}

// Upsert inserts l or refreshes the existing row with the same natural key,
// replacing its photo set. Calls for the same key are serialized.
func (r *Reconciler) Upsert(ctx context.Context, l *models.NormalizedListing) (models.UpsertOutcome, error) {
	if r.maxPhotos > 0 && len(l.Photos) > r.maxPhotos {
		l.Photos = l.Photos[:r.maxPhotos]
	}

	unlock := r.keys.Lock(fmt.Sprintf("%d/%s", l.SourceID, l.ExternalID))
	defer unlock()

	retry := utils.RetryConfig{MaxAttempts: 2, BaseDelay: r.retryDelay, Logger: r.logger}
	var inserted bool
	err := retry.Do(ctx, "upsert listing", func(ctx context.Context) error {
		var err error
		inserted, err = r.store.UpsertListing(ctx, l, r.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: listing %d/%s: %w", ErrReconciliation, l.SourceID, l.ExternalID, err)
	}

	if inserted {
		return models.Inserted, nil
	}
	return models.Updated, nil
}

// DeactivateUnseen soft-deletes every active listing of sourceID whose
// external id is not in seen.
func (r *Reconciler) DeactivateUnseen(ctx context.Context, sourceID int64, seen []string) (int, error) {
	n, err := r.store.DeactivateUnseen(ctx, sourceID, seen)
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate source %d: %w", ErrReconciliation, sourceID, err)
	}
	r.logger.Info("Deactivated unseen listings",
		utils.Int64("source_id", sourceID),
		utils.Int("observed", len(seen)),
		utils.Int("deactivated", n))
	return n, nil
}
