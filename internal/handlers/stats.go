package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"email-event-digest/internal/models"
)

// GetStats summarizes engine state: stored events, processed emails,
// cache behavior, learned aliases, and the most recent run.
func (h *Handlers) GetStats(c *gin.Context) {
	eventCount, err := h.repo.CountEvents()
	if err != nil {
		logrus.Errorf("Failed to count events: %v", err)
	}
	processedCount, err := h.repo.CountProcessed()
	if err != nil {
		logrus.Errorf("Failed to count processed emails: %v", err)
	}
	cacheCount, err := h.repo.CountCacheEntries()
	if err != nil {
		logrus.Errorf("Failed to count cache entries: %v", err)
	}

	hits, misses, _ := h.pipeline.CacheStats()

	response := models.StatsResponse{
		EventCount:      eventCount,
		ProcessedCount:  processedCount,
		CacheEntryCount: cacheCount,
		LearnedAliases:  h.pipeline.LearnedBuckets(),
		CacheHits:       hits,
		CacheMisses:     misses,
		CallsRemaining:  h.pipeline.CallsRemaining(),
	}

	if last := h.pipeline.LastRun(); last != nil {
		startedAt := last.StartedAt
		response.LastRunAt = &startedAt
		response.LastRunID = last.RunID
		response.LastRunParsed = last.Parsed
		response.LastRunDropped = last.Dropped
		response.LastRunDeferred = last.Deferred
		response.LastRunDuplicate = last.Merged
	}

	c.JSON(http.StatusOK, response)
}
