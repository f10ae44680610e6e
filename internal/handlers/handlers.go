// Package handlers contains the HTTP API: extracted events, engine
// stats, health, and scheduler control.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"email-event-digest/internal/pipeline"
	"email-event-digest/internal/repository"
	"email-event-digest/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	repo      *repository.Repository
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, repo *repository.Repository, p *pipeline.Pipeline, s *scheduler.Scheduler) *Handlers {
	return &Handlers{db: db, repo: repo, pipeline: p, scheduler: s}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		// Extracted events
		api.GET("/events", h.ListEvents)
		api.GET("/events/:id", h.GetEvent)

		// Engine stats
		api.GET("/stats", h.GetStats)

		// Scheduler control
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
