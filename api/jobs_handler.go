package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"estate-harvester/models"
	"estate-harvester/services"
)

// CreateJobRequest is the body of POST /api/v1/jobs.
type CreateJobRequest struct {
	SourceCodes []string `json:"sourceCodes" binding:"required"`
	FullRescan  bool     `json:"fullRescan"`
}

// SourceRunView is one source's slice of a job status response.
type SourceRunView struct {
	Status       models.RunStatus `json:"status"`
	Counts       models.Counts    `json:"counts"`
	Rejections   models.Counter   `json:"rejections"`
	ErrorClasses models.Counter   `json:"errorClasses"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   *time.Time       `json:"finishedAt,omitempty"`
}

// JobView is the job status response.
type JobView struct {
	JobID           string                   `json:"jobId"`
	Status          models.JobStatus         `json:"status"`
	Progress        int                      `json:"progress"`
	SourceCodes     []string                 `json:"sourceCodes"`
	FullRescan      bool                     `json:"fullRescan"`
	Trigger         string                   `json:"trigger"`
	Counts          models.Counts            `json:"counts"`
	PerSourceCounts map[string]SourceRunView `json:"perSourceCounts"`
	ErrorMessage    string                   `json:"errorMessage,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	StartedAt       *time.Time               `json:"startedAt,omitempty"`
	FinishedAt      *time.Time               `json:"finishedAt,omitempty"`
}

func newJobView(job models.Job, runs []models.RunRecord) JobView {
	v := JobView{
		JobID:           job.ID,
		Status:          job.Status,
		Progress:        job.Progress,
		SourceCodes:     job.SourceCodes,
		FullRescan:      job.FullRescan,
		Trigger:         job.Trigger,
		Counts:          job.Counts,
		PerSourceCounts: make(map[string]SourceRunView, len(runs)),
		ErrorMessage:    job.ErrorMessage,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}
	for _, r := range runs {
		v.PerSourceCounts[r.SourceCode] = SourceRunView{
			Status:       r.Status,
			Counts:       r.Counts,
			Rejections:   r.Rejections,
			ErrorClasses: r.ErrorClasses,
			ErrorMessage: r.ErrorMessage,
			StartedAt:    r.StartedAt,
			FinishedAt:   r.FinishedAt,
		}
	}
	return v
}

// JobsHandler serves the job endpoints.
type JobsHandler struct {
	jobs JobService
}

func NewJobsHandler(jobs JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// CreateJob handles POST /api/v1/jobs
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	id, err := h.jobs.StartJob(c.Request.Context(), services.JobRequest{
		SourceCodes: req.SourceCodes,
		FullRescan:  req.FullRescan,
	})
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		respondBadRequest(c, err.Error())
		return
	case errors.Is(err, services.ErrShuttingDown):
		respondError(c, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		respondInternalError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": id})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	snap, err := h.jobs.GetJobStatus(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrJobNotFound) {
		respondNotFound(c, "Job")
		return
	}
	if err != nil {
		respondInternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobView(snap.Job, snap.Runs))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	jobs, err := h.jobs.ListJobs(c.Request.Context(), parseLimit(c))
	if err != nil {
		respondInternalError(c, err)
		return
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		v := newJobView(j, nil)
		v.PerSourceCounts = nil
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views, "total": len(views)})
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	err := h.jobs.CancelJob(c.Request.Context(), id)
	if errors.Is(err, services.ErrJobNotFound) {
		respondNotFound(c, "Job")
		return
	}
	if err != nil {
		respondInternalError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": id})
}
