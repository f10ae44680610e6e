package repository

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"email-event-digest/internal/models"
)

// Repository mediates all database access. It also implements the
// response cache and learning store backends.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// EventFilter narrows ListEvents. Zero values mean "no constraint".
type EventFilter struct {
	DateFrom string
	DateTo   string
	HasFood  *bool
	Search   string
	Limit    int
	Offset   int
}

// CreateEvent inserts a newly validated event.
func (r *Repository) CreateEvent(ev *models.Event) error {
	if result := r.db.Create(ev); result.Error != nil {
		return fmt.Errorf("failed to create event: %w", result.Error)
	}
	return nil
}

// UpdateEvent persists a merged canonical record.
func (r *Repository) UpdateEvent(ev *models.Event) error {
	if result := r.db.Save(ev); result.Error != nil {
		return fmt.Errorf("failed to update event: %w", result.Error)
	}
	return nil
}

// ListAllEvents returns every stored event, ordered by date then start
// time with absent times last. Used to seed the deduplicator.
func (r *Repository) ListAllEvents() ([]models.Event, error) {
	var events []models.Event
	result := r.db.
		Order("date_start ASC, time_start IS NULL ASC, time_start ASC, id ASC").
		Find(&events)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list events: %w", result.Error)
	}
	return events, nil
}

// ListEvents returns events matching the filter plus the post-filter
// total. Date range and search run in SQL; the has-food derivation
// includes description keywords, so it is applied over the fetched rows.
func (r *Repository) ListEvents(filter EventFilter) ([]models.Event, int64, error) {
	query := r.db.Model(&models.Event{})
	if filter.DateFrom != "" {
		query = query.Where("date_start >= ?", filter.DateFrom)
	}
	if filter.DateTo != "" {
		query = query.Where("date_start <= ?", filter.DateTo)
	}
	if filter.Search != "" {
		needle := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where(
			"LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(location) LIKE ?",
			needle, needle, needle,
		)
	}

	var events []models.Event
	result := query.
		Order("date_start ASC, time_start IS NULL ASC, time_start ASC, id ASC").
		Find(&events)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", result.Error)
	}

	if filter.HasFood != nil {
		filtered := events[:0]
		for _, ev := range events {
			if ev.HasFood() == *filter.HasFood {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	total := int64(len(events))
	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			events = nil
		} else {
			events = events[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, total, nil
}

// GetEvent fetches one event by id; nil when not found.
func (r *Repository) GetEvent(id uint) (*models.Event, error) {
	var ev models.Event
	result := r.db.First(&ev, id)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get event: %w", result.Error)
	}
	return &ev, nil
}

// CountEvents returns the total stored event count.
func (r *Repository) CountEvents() (int64, error) {
	var count int64
	if result := r.db.Model(&models.Event{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("failed to count events: %w", result.Error)
	}
	return count, nil
}

// IsEmailProcessed checks whether a message has been fully handled on a
// prior run.
func (r *Repository) IsEmailProcessed(messageID string) (bool, error) {
	var processed models.ProcessedEmail
	result := r.db.Where("message_id = ?", messageID).First(&processed)
	if result.Error == nil {
		return true, nil
	}
	if result.Error == gorm.ErrRecordNotFound {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed email: %w", result.Error)
}

// MarkEmailProcessed records a fully handled message with its outcome.
// Re-marking an already processed message is a no-op.
func (r *Repository) MarkEmailProcessed(messageID, outcome string) error {
	processed := models.ProcessedEmail{
		MessageID:   messageID,
		Outcome:     outcome,
		ProcessedAt: time.Now(),
	}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&processed)
	if result.Error != nil {
		return fmt.Errorf("failed to mark email as processed: %w", result.Error)
	}
	return nil
}

// CountProcessed returns the processed-email count.
func (r *Repository) CountProcessed() (int64, error) {
	var count int64
	if result := r.db.Model(&models.ProcessedEmail{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("failed to count processed emails: %w", result.Error)
	}
	return count, nil
}

// LoadCacheEntries implements cache.Backend.
func (r *Repository) LoadCacheEntries() ([]models.CacheEntry, error) {
	var entries []models.CacheEntry
	if result := r.db.Find(&entries); result.Error != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", result.Error)
	}
	return entries, nil
}

// SaveCacheEntry implements cache.Backend. Saves are upserts keyed by
// the content hash so unrelated entries are never touched.
func (r *Repository) SaveCacheEntry(entry *models.CacheEntry) error {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"dropped", "payload", "created_at"}),
	}).Create(entry)
	if result.Error != nil {
		return fmt.Errorf("failed to save cache entry: %w", result.Error)
	}
	return nil
}

// DeleteCacheEntries implements cache.Backend.
func (r *Repository) DeleteCacheEntries(hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	result := r.db.Where("content_hash IN ?", hashes).Delete(&models.CacheEntry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete cache entries: %w", result.Error)
	}
	return nil
}

// CountCacheEntries returns the persisted cache entry count.
func (r *Repository) CountCacheEntries() (int64, error) {
	var count int64
	if result := r.db.Model(&models.CacheEntry{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", result.Error)
	}
	return count, nil
}

// LoadAliases implements learn.Backend.
func (r *Repository) LoadAliases() ([]models.LearnedAlias, error) {
	var aliases []models.LearnedAlias
	if result := r.db.Find(&aliases); result.Error != nil {
		return nil, fmt.Errorf("failed to load learned aliases: %w", result.Error)
	}
	return aliases, nil
}

// SaveAlias implements learn.Backend with an upsert keyed by token.
func (r *Repository) SaveAlias(alias *models.LearnedAlias) error {
	result := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "confidence", "sample_count", "last_seen_at", "updated_at",
		}),
	}).Create(alias)
	if result.Error != nil {
		return fmt.Errorf("failed to save learned alias: %w", result.Error)
	}
	return nil
}

// DeleteAliases implements learn.Backend.
func (r *Repository) DeleteAliases(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	result := r.db.Where("token IN ?", tokens).Delete(&models.LearnedAlias{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete learned aliases: %w", result.Error)
	}
	return nil
}
