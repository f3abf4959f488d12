package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// JobStatus is a state of the job lifecycle:
//
//	queued → running → succeeded | failed | partially_succeeded
type JobStatus string

const (
	JobQueued             JobStatus = "queued"
	JobRunning            JobStatus = "running"
	JobSucceeded          JobStatus = "succeeded"
	JobFailed             JobStatus = "failed"
	JobPartiallySucceeded JobStatus = "partially_succeeded"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobFailed},
	JobRunning: {JobSucceeded, JobFailed, JobPartiallySucceeded},
}

// ValidateJobTransition returns an error when from → to is not an edge of
// the lifecycle.
func ValidateJobTransition(from, to JobStatus) error {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid job transition from %s to %s", from, to)
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobPartiallySucceeded
}

// RunStatus is the state of one source's run within a job.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Counts are the per-run and per-job tallies.
type Counts struct {
	Seen        int `db:"seen" json:"seen"`
	New         int `db:"new_count" json:"new"`
	Updated     int `db:"updated_count" json:"updated"`
	Deactivated int `db:"deactivated" json:"deactivated"`
	Errors      int `db:"errors" json:"errors"`
	Rejected    int `db:"rejected" json:"rejected"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Seen += other.Seen
	c.New += other.New
	c.Updated += other.Updated
	c.Deactivated += other.Deactivated
	c.Errors += other.Errors
	c.Rejected += other.Rejected
}

// Job is one orchestrator invocation spanning one or more sources.
type Job struct {
	ID           string         `db:"id" json:"id"`
	SourceCodes  pq.StringArray `db:"source_codes" json:"sourceCodes"`
	FullRescan   bool           `db:"full_rescan" json:"fullRescan"`
	Trigger      string         `db:"trigger_name" json:"trigger"`
	Status       JobStatus      `db:"status" json:"status"`
	Progress     int            `db:"progress" json:"progress"`
	Counts
	ErrorMessage string     `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	StartedAt    *time.Time `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt   *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
}

// RunRecord is the outcome of one Source Task within a job. It is final
// once Status leaves RunRunning.
type RunRecord struct {
	ID         int64     `db:"id" json:"id"`
	JobID      string    `db:"job_id" json:"jobId"`
	SourceID   int64     `db:"source_id" json:"sourceId"`
	SourceCode string    `db:"source_code" json:"sourceCode"`
	Status     RunStatus `db:"status" json:"status"`
	Counts
	Rejections   Counter    `db:"rejections" json:"rejections"`
	ErrorClasses Counter    `db:"error_classes" json:"errorClasses"`
	ErrorMessage string     `db:"error_message" json:"errorMessage,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt   *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
}

// JobSnapshot is a job together with its run records.
type JobSnapshot struct {
	Job  Job         `json:"job"`
	Runs []RunRecord `json:"runs"`
}
