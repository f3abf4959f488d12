package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate-harvester/models"
)

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	l := sampleListing()
	inserted, err := m.UpsertListing(ctx, l, t0)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := sampleListing()
	again.Title = "Rodinný dům po rekonstrukci"
	inserted, err = m.UpsertListing(ctx, again, t1)
	require.NoError(t, err)
	assert.False(t, inserted)

	all, _ := m.ListListings(ctx)
	require.Len(t, all, 1)

	got, err := m.GetListing(ctx, l.Key())
	require.NoError(t, err)
	assert.Equal(t, t0, got.FirstSeenAt)
	assert.Equal(t, t1, got.LastSeenAt)
	assert.Equal(t, "Rodinný dům po rekonstrukci", got.Title)
	assert.False(t, got.FirstSeenAt.After(got.LastSeenAt))
}

func TestMemoryPhotoSetIsReplaced(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	l := sampleListing()
	l.Photos = []string{"a", "b", "c"}
	_, err := m.UpsertListing(ctx, l, time.Now())
	require.NoError(t, err)

	l2 := sampleListing()
	l2.Photos = []string{"d"}
	_, err = m.UpsertListing(ctx, l2, time.Now())
	require.NoError(t, err)

	got, err := m.GetListing(ctx, l.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got.Photos)
}

func TestMemoryDeactivateUnseen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		l := sampleListing()
		l.ExternalID = id
		_, err := m.UpsertListing(ctx, l, now)
		require.NoError(t, err)
	}
	other := sampleListing()
	other.SourceID = 99
	other.ExternalID = "z"
	_, err := m.UpsertListing(ctx, other, now)
	require.NoError(t, err)

	n, err := m.DeactivateUnseen(ctx, 3, []string{"a", "d"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var active []string
	all, _ := m.ListListings(ctx)
	for _, l := range all {
		if l.IsActive && l.SourceID == 3 {
			active = append(active, l.ExternalID)
		}
	}
	assert.Equal(t, []string{"a"}, active)

	z, _ := m.GetListing(ctx, other.Key())
	assert.True(t, z.IsActive, "other sources are untouched")

	// Re-observation reactivates.
	b := sampleListing()
	b.ExternalID = "b"
	_, err = m.UpsertListing(ctx, b, now.Add(time.Minute))
	require.NoError(t, err)
	got, _ := m.GetListing(ctx, b.Key())
	assert.True(t, got.IsActive)
}

func TestMemoryJobLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := &models.Job{ID: "j1", SourceCodes: []string{"a"}, Status: models.JobQueued}
	require.NoError(t, m.CreateJob(ctx, job))
	require.NoError(t, m.TransitionJob(ctx, "j1", models.JobQueued, models.JobRunning, time.Now()))
	assert.ErrorIs(t, m.TransitionJob(ctx, "j1", models.JobQueued, models.JobRunning, time.Now()), ErrStaleState)

	require.NoError(t, m.UpdateJobProgress(ctx, "j1", 50))
	require.NoError(t, m.UpdateJobProgress(ctx, "j1", 20))
	got, _ := m.GetJob(ctx, "j1")
	assert.Equal(t, 50, got.Progress)
	assert.NotNil(t, got.StartedAt)

	run := &models.RunRecord{JobID: "j1", SourceID: 1, SourceCode: "a", Status: models.RunRunning, StartedAt: time.Now()}
	require.NoError(t, m.CreateRunRecord(ctx, run))
	run.Status = models.RunSucceeded
	run.Seen = 4
	require.NoError(t, m.FinishRunRecord(ctx, run))
	assert.ErrorIs(t, m.FinishRunRecord(ctx, run), ErrStaleState)

	finished := time.Now()
	job.Status = models.JobSucceeded
	job.Progress = 100
	job.FinishedAt = &finished
	require.NoError(t, m.FinishJob(ctx, job))
	assert.ErrorIs(t, m.FinishJob(ctx, job), ErrStaleState)

	runs, _ := m.ListRunRecords(ctx, "j1")
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].Seen)

	_, err := m.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySourcesByCode(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.UpsertSource(ctx, &models.Source{Code: "b", Kind: "html", Active: true}))
	require.NoError(t, m.UpsertSource(ctx, &models.Source{Code: "a", Kind: "html", Active: true}))

	s := &models.Source{Code: "a", Kind: "jsonfeed", Active: false}
	require.NoError(t, m.UpsertSource(ctx, s))
	assert.Equal(t, int64(2), s.ID, "upsert keeps the id")

	got, _ := m.GetSourcesByCodes(ctx, []string{"a", "missing"})
	require.Len(t, got, 1)
	assert.Equal(t, "jsonfeed", got[0].Kind)
	assert.Equal(t, models.FetchModeHTTP, got[0].FetchMode)

	all, _ := m.ListSources(ctx)
	codes := []string{all[0].Code, all[1].Code}
	assert.True(t, sort.StringsAreSorted(codes))
}

func TestRejectionLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rejections.csv")

	for i := 0; i < 2; i++ {
		log, err := NewRejectionLog(path)
		require.NoError(t, err)
		require.NoError(t, log.Record(Rejection{
			At: time.Now(), JobID: "j1", SourceCode: "demo", ExternalID: "1", Reason: "geo", Title: "Byt", Price: 1,
		}))
		require.NoError(t, log.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3, "one header and two rows")
	assert.Equal(t, rejectionHeader, rows[0])
	assert.Equal(t, "geo", rows[1][5])
}
