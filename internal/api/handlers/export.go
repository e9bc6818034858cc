package handlers

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/booking-manager/backend/internal/api/middleware"
	"github.com/booking-manager/backend/internal/calendar"
	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
)

// EventLister reads a user's events. *storage.EventRepository implements it.
type EventLister interface {
	ListByUserBetween(ctx context.Context, userID string, from, to time.Time) ([]models.Event, error)
}

// ExportFeed publishes the owner's events inside the sync window as an
// iCalendar document. Only export-direction feeds are served.
func ExportFeed(feeds FeedStore, events EventLister, policy *config.Policy, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, ok := loadFeed(w, r, feeds)
		if !ok {
			return
		}
		if feed.Direction != models.DirectionExport || !feed.Enabled {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Feed is not an enabled export feed")
			return
		}

		now := time.Now()
		_, window := calendar.Bounds(policy, now)
		list, err := events.ListByUserBetween(r.Context(), feed.UserID, window.Start, window.End)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query events")
			return
		}

		var buf bytes.Buffer
		if err := calendar.ExportICS(&buf, feed, list, now); err != nil {
			log.Error("exporting feed", logger.String("feed_id", feed.ID), logger.Error(err))
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to build calendar")
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
		w.Write(buf.Bytes())
	}
}
