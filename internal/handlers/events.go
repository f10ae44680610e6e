package handlers

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"email-event-digest/internal/models"
	"email-event-digest/internal/repository"
)

var isoDateParamRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListEvents returns extracted events, optionally filtered by date
// range, food availability, and a free-text search over title and
// location. Results are ordered by date, then start time with untimed
// events last.
func (h *Handlers) ListEvents(c *gin.Context) {
	filter := repository.EventFilter{
		DateFrom: c.Query("date_from"),
		DateTo:   c.Query("date_to"),
		Search:   c.Query("search"),
		Limit:    defaultPageSize,
	}

	for _, d := range []string{filter.DateFrom, filter.DateTo} {
		if d != "" && !isoDateParamRe.MatchString(d) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "date_from and date_to must be YYYY-MM-DD",
				Code:    http.StatusBadRequest,
			})
			return
		}
	}

	if v := c.Query("has_food"); v != "" {
		hasFood, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "has_food must be true or false",
				Code:    http.StatusBadRequest,
			})
			return
		}
		filter.HasFood = &hasFood
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "limit must be between 1 and 200",
				Code:    http.StatusBadRequest,
			})
			return
		}
		filter.Limit = limit
	}

	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "offset must be a non-negative integer",
				Code:    http.StatusBadRequest,
			})
			return
		}
		filter.Offset = offset
	}

	events, total, err := h.repo.ListEvents(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch events",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, models.EventListResponse{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetEvent returns a single event by ID
func (h *Handlers) GetEvent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid event ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	event, err := h.repo.GetEvent(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch event",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Event not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, event)
}
