package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/booking-manager/backend/internal/storage"
	"github.com/booking-manager/backend/internal/storage/models"
)

// Store is the persistence the sync engine needs.
type Store interface {
	GetFeed(ctx context.Context, id string) (*models.Feed, error)
	ListEnabledImportFeeds(ctx context.Context) ([]models.Feed, error)
	ListFeedsForUser(ctx context.Context, userID string) ([]models.Feed, error)
	ListFeedEvents(ctx context.Context, userID, feedID string) ([]models.Event, error)
	UpdateSyncStatus(ctx context.Context, feedID, status string, syncError *string) error
	// Apply writes the plan and stamps the feed as synchronized at syncedAt,
	// all or nothing.
	Apply(ctx context.Context, feed *models.Feed, plan *Plan, syncedAt time.Time) error
}

// SQLStore implements Store on the SQLite repositories.
type SQLStore struct {
	db     *storage.DB
	feeds  *storage.FeedRepository
	events *storage.EventRepository
}

// NewSQLStore creates a store over db.
func NewSQLStore(db *storage.DB, feeds *storage.FeedRepository, events *storage.EventRepository) *SQLStore {
	return &SQLStore{db: db, feeds: feeds, events: events}
}

// GetFeed returns ErrFeedNotFound when id does not exist.
func (s *SQLStore) GetFeed(ctx context.Context, id string) (*models.Feed, error) {
	feed, err := s.feeds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, ErrFeedNotFound
	}
	return feed, nil
}

func (s *SQLStore) ListEnabledImportFeeds(ctx context.Context) ([]models.Feed, error) {
	return s.feeds.ListEnabledImport(ctx)
}

func (s *SQLStore) ListFeedsForUser(ctx context.Context, userID string) ([]models.Feed, error) {
	return s.feeds.ListByUser(ctx, userID)
}

func (s *SQLStore) ListFeedEvents(ctx context.Context, userID, feedID string) ([]models.Event, error) {
	return s.events.ListByFeed(ctx, userID, feedID)
}

func (s *SQLStore) UpdateSyncStatus(ctx context.Context, feedID, status string, syncError *string) error {
	return s.feeds.UpdateSyncStatus(ctx, feedID, status, syncError)
}

// Apply runs the plan in one transaction. An event that became protected or
// vanished since it was read is left alone.
func (s *SQLStore) Apply(ctx context.Context, feed *models.Feed, plan *Plan, syncedAt time.Time) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for i := range plan.Deletes {
			ev := &plan.Deletes[i]
			if _, err := s.events.Delete(ctx, tx, ev.ID); err != nil {
				return fmt.Errorf("delete uid %s: %w", ev.ExternalID(), err)
			}
		}

		for i := range plan.Updates {
			ev := &plan.Updates[i]
			err := s.events.Update(ctx, tx, ev)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("update uid %s: %w", ev.ExternalID(), err)
			}
		}

		for i := range plan.Creates {
			ev := &plan.Creates[i]
			if err := s.events.Create(ctx, tx, ev); err != nil {
				return fmt.Errorf("create uid %s: %w", ev.ExternalID(), err)
			}
		}

		return s.feeds.MarkSynchronized(ctx, tx, feed.ID, syncedAt)
	})
}
