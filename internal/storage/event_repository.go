package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/booking-manager/backend/internal/storage/models"
)

const eventColumns = `
	seq, id, user_id, title, description, start_at, end_at, color, all_day,
	source_type, source_feed_id, source_external_id, source_url, source_data,
	csv_protected, created_at, updated_at`

// EventRepository provides data access for local calendar events.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		ev                                   models.Event
		srcType, feedID, extID, url, srcData sql.NullString
	)

	err := row.Scan(
		&ev.Seq, &ev.ID, &ev.UserID, &ev.Title, &ev.Description, &ev.Start, &ev.End,
		&ev.Color, &ev.AllDay, &srcType, &feedID, &extID, &url, &srcData,
		&ev.CSVProtected, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if srcType.Valid {
		ev.Source = &models.EventSource{
			Type:       srcType.String,
			FeedID:     feedID.String,
			ExternalID: extID.String,
			URL:        url.String,
		}
		if srcData.Valid && srcData.String != "" {
			if err := json.Unmarshal([]byte(srcData.String), &ev.Source.OriginalData); err != nil {
				return nil, fmt.Errorf("decoding source data of event %s: %w", ev.ID, err)
			}
		}
	}

	return &ev, nil
}

// sourceArgs flattens an optional source into its column values.
func sourceArgs(src *models.EventSource) ([]any, error) {
	if src == nil {
		return []any{nil, nil, nil, nil, nil}, nil
	}

	data, err := json.Marshal(src.OriginalData)
	if err != nil {
		return nil, fmt.Errorf("encoding source data: %w", err)
	}

	return []any{src.Type, nullable(src.FeedID), nullable(src.ExternalID), nullable(src.URL), string(data)}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *EventRepository) list(ctx context.Context, where string, args ...any) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, "SELECT"+eventColumns+" FROM events "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *ev)
	}

	return events, rows.Err()
}

// GetByID retrieves an event by its ID. It returns nil, nil when absent.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	ev, err := scanEvent(r.DB().QueryRowContext(ctx, "SELECT"+eventColumns+" FROM events WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return ev, nil
}

// ListByFeed retrieves every event of userID linked to feedID.
func (r *EventRepository) ListByFeed(ctx context.Context, userID, feedID string) ([]models.Event, error) {
	return r.list(ctx, "WHERE user_id = ? AND source_feed_id = ? ORDER BY seq", userID, feedID)
}

// ListBySourceType retrieves events with the given provenance. An empty
// userID selects all owners.
func (r *EventRepository) ListBySourceType(ctx context.Context, userID, sourceType string) ([]models.Event, error) {
	if userID == "" {
		return r.list(ctx, "WHERE source_type = ? ORDER BY user_id, start_at, seq", sourceType)
	}
	return r.list(ctx, "WHERE user_id = ? AND source_type = ? ORDER BY start_at, seq", userID, sourceType)
}

// ListByUserBetween retrieves a user's events starting in [from, to).
func (r *EventRepository) ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]models.Event, error) {
	return r.list(ctx, "WHERE user_id = ? AND start_at >= ? AND start_at < ? ORDER BY start_at, seq",
		userID, from.UTC(), to.UTC())
}

// Create inserts an event through q (a transaction or nil for the pool).
func (r *EventRepository) Create(ctx context.Context, q Queryable, ev *models.Event) error {
	src, err := sourceArgs(ev.Source)
	if err != nil {
		return err
	}

	if ev.ID == "" {
		ev.ID = GenerateID()
	}
	ev.CreatedAt = r.Now()
	ev.UpdatedAt = ev.CreatedAt
	ev.Start = ev.Start.UTC()
	if ev.End != nil {
		end := ev.End.UTC()
		ev.End = &end
	}

	args := []any{ev.ID, ev.UserID, ev.Title, ev.Description, ev.Start, ev.End, ev.Color, ev.AllDay}
	args = append(args, src...)
	args = append(args, ev.CSVProtected, ev.CreatedAt, ev.UpdatedAt)

	result, err := r.on(q).ExecContext(ctx, `
		INSERT INTO events (
			id, user_id, title, description, start_at, end_at, color, all_day,
			source_type, source_feed_id, source_external_id, source_url, source_data,
			csv_protected, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	if seq, err := result.LastInsertId(); err == nil {
		ev.Seq = seq
	}

	return nil
}

// Update rewrites the content and source of an unprotected event in place.
// CSV-protected rows are never matched.
func (r *EventRepository) Update(ctx context.Context, q Queryable, ev *models.Event) error {
	src, err := sourceArgs(ev.Source)
	if err != nil {
		return err
	}

	ev.UpdatedAt = r.Now()
	ev.Start = ev.Start.UTC()
	if ev.End != nil {
		end := ev.End.UTC()
		ev.End = &end
	}

	args := []any{ev.Title, ev.Description, ev.Start, ev.End, ev.Color, ev.AllDay}
	args = append(args, src...)
	args = append(args, ev.UpdatedAt, ev.ID)

	result, err := r.on(q).ExecContext(ctx, `
		UPDATE events SET
			title = ?, description = ?, start_at = ?, end_at = ?, color = ?, all_day = ?,
			source_type = ?, source_feed_id = ?, source_external_id = ?, source_url = ?,
			source_data = ?, updated_at = ?
		WHERE id = ? AND csv_protected = 0
	`, args...)
	if err != nil {
		return fmt.Errorf("updating event: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", ev.ID, ErrNotFound)
	}

	return nil
}

// Delete removes an unprotected event. It reports whether a row was removed.
func (r *EventRepository) Delete(ctx context.Context, q Queryable, id string) (bool, error) {
	result, err := r.on(q).ExecContext(ctx, "DELETE FROM events WHERE id = ? AND csv_protected = 0", id)
	if err != nil {
		return false, fmt.Errorf("deleting event: %w", err)
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeleteMany removes the given unprotected events in one transaction and
// returns how many rows went away.
func (r *EventRepository) DeleteMany(ctx context.Context, ids []string) (int, error) {
	removed := 0
	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			ok, err := r.Delete(ctx, tx, id)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Count returns the number of stored events.
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
