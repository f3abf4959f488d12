package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate-harvester/config"
)

type recordingStarter struct {
	mu   sync.Mutex
	reqs []JobRequest
	err  error
}

func (r *recordingStarter) StartJob(_ context.Context, req JobRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.reqs = append(r.reqs, req)
	return fmt.Sprintf("job-%d", len(r.reqs)), nil
}

func (r *recordingStarter) requests() []JobRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JobRequest(nil), r.reqs...)
}

func TestNewSchedulerValidatesTriggers(t *testing.T) {
	tests := []struct {
		name     string
		triggers []config.TriggerConfig
		wantErr  string
	}{
		{"missing name", []config.TriggerConfig{{Schedule: "0 3 * * *", Sources: []string{"a"}}}, "without a name"},
		{"bad schedule", []config.TriggerConfig{{Name: "n", Schedule: "every day", Sources: []string{"a"}}}, "parse schedule"},
		{"six fields", []config.TriggerConfig{{Name: "n", Schedule: "0 0 3 * * *", Sources: []string{"a"}}}, "parse schedule"},
		{"no sources", []config.TriggerConfig{{Name: "n", Schedule: "0 3 * * *", Sources: []string{" "}}}, "no sources"},
		{"duplicate", []config.TriggerConfig{
			{Name: "n", Schedule: "0 3 * * *", Sources: []string{"a"}},
			{Name: "n", Schedule: "0 4 * * *", Sources: []string{"b"}},
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(&recordingStarter{}, tt.triggers, newTestLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchedulerTriggerNow(t *testing.T) {
	starter := &recordingStarter{}
	s, err := NewScheduler(starter, []config.TriggerConfig{
		{Name: "nightly-full", Schedule: "0 3 * * *", Sources: []string{"a", "b"}, FullRescan: true},
		{Name: "hourly", Schedule: "@hourly", Sources: []string{"a"}},
	}, newTestLogger())
	require.NoError(t, err)

	jobID, err := s.TriggerNow(context.Background(), "nightly-full")
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	reqs := starter.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, JobRequest{SourceCodes: []string{"a", "b"}, FullRescan: true, Trigger: "nightly-full"}, reqs[0])

	_, err = s.TriggerNow(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownTrigger))
}

func TestSchedulerTriggerNowPropagatesStartErrors(t *testing.T) {
	starter := &recordingStarter{err: ErrInvalidArgument}
	s, err := NewScheduler(starter, []config.TriggerConfig{
		{Name: "t", Schedule: "0 3 * * *", Sources: []string{"gone"}},
	}, newTestLogger())
	require.NoError(t, err)

	_, err = s.TriggerNow(context.Background(), "t")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSchedulerListsTriggersWithNextRun(t *testing.T) {
	s, err := NewScheduler(&recordingStarter{}, []config.TriggerConfig{
		{Name: "b", Schedule: "0 3 * * *", Sources: []string{"x"}},
		{Name: "a", Schedule: "*/5 * * * *", Sources: []string{"y"}},
	}, newTestLogger())
	require.NoError(t, err)

	got := s.Triggers()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	for _, tr := range got {
		assert.True(t, tr.NextRun.After(time.Now()), tr.Name)
	}
	assert.Equal(t, 3, got[1].NextRun.Hour())
}

func TestSchedulerFiresOnCalendar(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}
	starter := &recordingStarter{}
	s, err := NewScheduler(starter, []config.TriggerConfig{
		{Name: "tick", Schedule: "@every 1s", Sources: []string{"a"}},
	}, newTestLogger())
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return len(starter.requests()) > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, "tick", starter.requests()[0].Trigger)
}
