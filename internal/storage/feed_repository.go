package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/booking-manager/backend/internal/storage/models"
)

// ErrNotFound is returned by mutations that matched no row.
var ErrNotFound = errors.New("not found")

const feedColumns = `
	id, user_id, name, url, credential, enabled, direction, color, sync_method,
	last_synchronized_at, sync_status, sync_error, created_at, updated_at`

// FeedRepository provides data access for external calendar feeds.
type FeedRepository struct {
	BaseRepository
}

// NewFeedRepository creates a new feed repository.
func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*models.Feed, error) {
	f := &models.Feed{}
	err := row.Scan(
		&f.ID, &f.UserID, &f.Name, &f.URL, &f.Credential, &f.Enabled, &f.Direction,
		&f.Color, &f.SyncMethod, &f.LastSynchronizedAt, &f.SyncStatus, &f.SyncError,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *FeedRepository) list(ctx context.Context, where string, args ...any) ([]models.Feed, error) {
	rows, err := r.DB().QueryContext(ctx, "SELECT"+feedColumns+" FROM feeds "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, *f)
	}

	return feeds, rows.Err()
}

// Create inserts a new feed. Direction defaults to import.
func (r *FeedRepository) Create(ctx context.Context, f *models.Feed) error {
	f.ID = GenerateID()
	f.CreatedAt = r.Now()
	f.UpdatedAt = f.CreatedAt
	f.SyncStatus = models.SyncStatusPending
	if f.Direction == "" {
		f.Direction = models.DirectionImport
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO feeds (
			id, user_id, name, url, credential, enabled, direction, color, sync_method,
			sync_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.UserID, f.Name, f.URL, f.Credential, f.Enabled, f.Direction, f.Color,
		f.SyncMethod, f.SyncStatus, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting feed: %w", err)
	}

	return nil
}

// GetByID retrieves a feed by its ID. It returns nil, nil when absent.
func (r *FeedRepository) GetByID(ctx context.Context, id string) (*models.Feed, error) {
	f, err := scanFeed(r.DB().QueryRowContext(ctx, "SELECT"+feedColumns+" FROM feeds WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed: %w", err)
	}
	return f, nil
}

// List retrieves every feed.
func (r *FeedRepository) List(ctx context.Context) ([]models.Feed, error) {
	return r.list(ctx, "ORDER BY user_id, name")
}

// ListByUser retrieves the feeds owned by one user.
func (r *FeedRepository) ListByUser(ctx context.Context, userID string) ([]models.Feed, error) {
	return r.list(ctx, "WHERE user_id = ? ORDER BY name", userID)
}

// ListEnabledImport retrieves the feeds the reconciliation engine processes,
// least recently synchronized first.
func (r *FeedRepository) ListEnabledImport(ctx context.Context) ([]models.Feed, error) {
	return r.list(ctx, "WHERE enabled = 1 AND direction = ? ORDER BY last_synchronized_at ASC NULLS FIRST, id",
		models.DirectionImport)
}

// Update saves the user-editable fields of a feed.
func (r *FeedRepository) Update(ctx context.Context, f *models.Feed) error {
	f.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE feeds SET
			name = ?, url = ?, credential = ?, enabled = ?, direction = ?, color = ?,
			sync_method = ?, updated_at = ?
		WHERE id = ?
	`,
		f.Name, f.URL, f.Credential, f.Enabled, f.Direction, f.Color, f.SyncMethod,
		f.UpdatedAt, f.ID,
	)
	if err != nil {
		return fmt.Errorf("updating feed: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %s: %w", f.ID, ErrNotFound)
	}

	return nil
}

// UpdateSyncStatus records progress or failure of a sync run. It never
// advances last_synchronized_at; see MarkSynchronized.
func (r *FeedRepository) UpdateSyncStatus(ctx context.Context, id, status string, syncError *string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE feeds SET sync_status = ?, sync_error = ?, updated_at = ? WHERE id = ?
	`, status, syncError, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating sync status: %w", err)
	}
	return nil
}

// MarkSynchronized stamps a successful reconciliation. Pass the transaction
// that applied the run so the stamp commits with it.
func (r *FeedRepository) MarkSynchronized(ctx context.Context, q Queryable, id string, at time.Time) error {
	result, err := r.on(q).ExecContext(ctx, `
		UPDATE feeds SET
			last_synchronized_at = ?, sync_status = ?, sync_error = NULL, updated_at = ?
		WHERE id = ?
	`, at, models.SyncStatusSuccess, r.Now(), id)
	if err != nil {
		return fmt.Errorf("marking feed synchronized: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}

	return nil
}

// Delete removes a feed and clears the feed linkage of its events.
func (r *FeedRepository) Delete(ctx context.Context, id string) error {
	return r.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET source_feed_id = NULL, updated_at = ? WHERE source_feed_id = ?
		`, r.Now(), id); err != nil {
			return fmt.Errorf("unlinking feed events: %w", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting feed: %w", err)
		}

		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("feed %s: %w", id, ErrNotFound)
		}

		return nil
	})
}

// Count returns the number of configured feeds.
func (r *FeedRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting feeds: %w", err)
	}
	return n, nil
}
