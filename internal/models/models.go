package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// EmailMessage represents a raw email handed to the engine by a fetcher.
// ReceivedAt is already converted to the engine's configured timezone so
// it can serve as the anchor for relative date resolution.
type EmailMessage struct {
	ID         string            `json:"id"`
	Subject    string            `json:"subject"`
	From       string            `json:"from"`
	Body       string            `json:"body"`
	ReceivedAt time.Time         `json:"received_at"`
	Headers    map[string]string `json:"headers"`
}

// Contact is a person attached to an event. Both fields are optional.
type Contact struct {
	Name  *string `json:"name"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// ConfidenceScores carries the extractor's self-reported confidence.
type ConfidenceScores struct {
	Category *float64 `json:"category"`
	Cuisine  *float64 `json:"cuisine"`
	Overall  *float64 `json:"overall"`
}

// CandidateEvent is the extractor's unvalidated output. Any field may be
// absent or malformed; it never reaches persistence without passing the
// guardrail first.
type CandidateEvent struct {
	Title            string           `json:"title"`
	Description      *string          `json:"description"`
	Organizer        *string          `json:"organizer"`
	Contacts         []Contact        `json:"contacts"`
	DateStart        *string          `json:"date_start"`
	TimeStart        *string          `json:"time_start"`
	TimeEnd          *string          `json:"time_end"`
	Timezone         string           `json:"timezone"`
	Location         *string          `json:"location"`
	URLs             []string         `json:"urls"`
	FoodType         *string          `json:"food_type"`
	FoodQuantityHint *string          `json:"food_quantity_hint"`
	FoodCuisine      *string          `json:"food_cuisine"`
	Category         *string          `json:"category"`
	Confidence       ConfidenceScores `json:"confidence"`
}

// Event is a validated, persisted event record. It is immutable after
// creation except for the deduplicator's merge step, which may union
// URLs/mailing lists and backfill unset fields.
type Event struct {
	ID               uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Title            string         `json:"title" gorm:"type:varchar(140);not null" validate:"required,max=140"`
	Organizer        *string        `json:"organizer" gorm:"type:varchar(255)"`
	Contacts         []Contact      `json:"contacts" gorm:"serializer:json;type:text"`
	DateStart        string         `json:"date_start" gorm:"type:varchar(10);not null;index"`
	TimeStart        *string        `json:"time_start" gorm:"type:varchar(5)"`
	TimeEnd          *string        `json:"time_end" gorm:"type:varchar(5)"`
	Timezone         string         `json:"timezone" gorm:"type:varchar(64);not null"`
	Location         *string        `json:"location" gorm:"type:varchar(255)"`
	Description      *string        `json:"description" gorm:"type:text"`
	URLs             []string       `json:"urls" gorm:"serializer:json;type:text"`
	FoodType         *string        `json:"food_type" gorm:"type:varchar(128)"`
	FoodQuantityHint *string        `json:"food_quantity_hint" gorm:"type:varchar(128)"`
	FoodCuisine      *string        `json:"food_cuisine" gorm:"type:varchar(64)"`
	Category         *string        `json:"category" gorm:"type:varchar(64)"`
	SourceMessageID  string         `json:"source_message_id" gorm:"type:varchar(255);index"`
	SourceSubject    string         `json:"source_subject" gorm:"type:varchar(512)"`
	MailingLists     []string       `json:"mailing_lists" gorm:"serializer:json;type:text"`
	DedupeKey        string         `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Event
func (Event) TableName() string {
	return "events"
}

var foodKeywords = []string{
	"food", "pizza", "snack", "snacks", "refreshment", "refreshments",
	"boba", "dinner", "lunch", "breakfast", "catered", "catering", "dessert",
}

// HasFood reports whether the event advertises food, derived from the
// food fields or keyword mentions in the description.
func (e *Event) HasFood() bool {
	if e.FoodType != nil || e.FoodQuantityHint != nil {
		return true
	}
	if e.Description == nil {
		return false
	}
	desc := strings.ToLower(*e.Description)
	for _, kw := range foodKeywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// LearnedAlias is a learned token-to-category mapping with a rolling
// confidence score, persisted across runs.
type LearnedAlias struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Token       string    `json:"token" gorm:"type:varchar(255);not null;uniqueIndex"`
	Category    string    `json:"category" gorm:"type:varchar(128);not null"`
	Confidence  float64   `json:"confidence" gorm:"not null"`
	SampleCount int       `json:"sample_count" gorm:"not null"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for LearnedAlias
func (LearnedAlias) TableName() string {
	return "learned_aliases"
}

// CacheEntry is a memoized extractor result keyed by a content hash of
// the normalized email. Dropped marks an intentional "no event" result;
// otherwise Payload holds the candidate JSON.
type CacheEntry struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ContentHash string    `json:"content_hash" gorm:"type:varchar(64);not null;uniqueIndex"`
	Dropped     bool      `json:"dropped"`
	Payload     string    `json:"payload" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for CacheEntry
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// ProcessedEmail records a fully handled message so it is never
// re-extracted on later runs. Deferred messages are not recorded here.
type ProcessedEmail struct {
	ID          uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string         `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Outcome     string         `json:"outcome" gorm:"type:varchar(32);not null"` // event, dropped
	ProcessedAt time.Time      `json:"processed_at"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for ProcessedEmail
func (ProcessedEmail) TableName() string {
	return "processed_emails"
}

// EventListResponse is the paginated events payload served by the API.
type EventListResponse struct {
	Events []Event `json:"events"`
	Total  int64   `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// StatsResponse summarizes engine state for the stats endpoint.
type StatsResponse struct {
	EventCount       int64          `json:"event_count"`
	ProcessedCount   int64          `json:"processed_count"`
	CacheEntryCount  int64          `json:"cache_entry_count"`
	LearnedAliases   map[string]int `json:"learned_aliases"`
	CacheHits        uint64         `json:"cache_hits"`
	CacheMisses      uint64         `json:"cache_misses"`
	CallsRemaining   int            `json:"calls_remaining"`
	LastRunAt        *time.Time     `json:"last_run_at,omitempty"`
	LastRunID        string         `json:"last_run_id,omitempty"`
	LastRunParsed    int            `json:"last_run_parsed"`
	LastRunDropped   int            `json:"last_run_dropped"`
	LastRunDeferred  int            `json:"last_run_deferred"`
	LastRunDuplicate int            `json:"last_run_duplicates"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
