// Package api implements the HTTP trigger API of the harvester.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estate-harvester/models"
	"estate-harvester/services"
	"estate-harvester/utils"
)

const (
	readHeaderTimeout = 10 * time.Second
	defaultJobsLimit  = 20
	maxJobsLimit      = 200
)

// JobService is the orchestrator surface the API drives.
type JobService interface {
	StartJob(ctx context.Context, req services.JobRequest) (string, error)
	GetJobStatus(ctx context.Context, id string) (*models.JobSnapshot, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
	CancelJob(ctx context.Context, id string) error
}

// TriggerService exposes the scheduler's triggers.
type TriggerService interface {
	Triggers() []services.TriggerInfo
	TriggerNow(ctx context.Context, name string) (string, error)
}

// SetupRouter creates the gin engine with every route. gatherer may be nil
// to leave /metrics out.
func SetupRouter(log utils.Logger, jobs JobService, triggers TriggerService, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	jh := NewJobsHandler(jobs)
	th := NewTriggersHandler(triggers)

	v1 := router.Group("/api/v1")
	v1.POST("/jobs", jh.CreateJob)
	v1.GET("/jobs", jh.ListJobs)
	v1.GET("/jobs/:id", jh.GetJob)
	v1.POST("/jobs/:id/cancel", jh.CancelJob)
	v1.GET("/triggers", th.ListTriggers)
	v1.POST("/triggers/:name/run", th.RunTrigger)

	return router
}

// loggingMiddleware logs every request on the harvester logger.
func loggingMiddleware(log utils.Logger) gin.HandlerFunc {
	log = log.With(utils.Component("api"))
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []utils.Field{
			utils.String("method", c.Request.Method),
			utils.String("path", path),
			utils.String("query", query),
			utils.Int("status", c.Writer.Status()),
			utils.Duration("latency", time.Since(start)),
			utils.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, utils.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("HTTP Request", fields...)
			return
		}
		log.Info("HTTP Request", fields...)
	}
}

// NewHTTPServer wraps router in an http.Server listening on addr.
func NewHTTPServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
