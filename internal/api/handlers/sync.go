package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/booking-manager/backend/internal/api/middleware"
	"github.com/booking-manager/backend/internal/calendar"
	"github.com/booking-manager/backend/internal/logger"
)

// Syncer runs on-demand synchronizations. *calendar.Scheduler implements it.
type Syncer interface {
	SyncFeed(ctx context.Context, feedID string) (*calendar.Result, error)
	SyncUser(ctx context.Context, userID string) (calendar.BatchResult, error)
	RunAll(ctx context.Context) (calendar.BatchResult, error)
}

// writeSyncError maps a synchronization failure to an HTTP status and a
// message fit for the caller.
func writeSyncError(w http.ResponseWriter, err error) {
	var (
		rateErr  *calendar.RateLimitedError
		fetchErr *calendar.FetchError
		parseErr *calendar.ParseError
	)

	status, code := http.StatusInternalServerError, middleware.ErrInternalError
	switch {
	case errors.Is(err, calendar.ErrFeedNotFound):
		status, code = http.StatusNotFound, middleware.ErrNotFound
	case errors.Is(err, calendar.ErrSyncInProgress), errors.Is(err, calendar.ErrFeedNotEligible):
		status, code = http.StatusConflict, middleware.ErrConflict
	case errors.As(err, &rateErr):
		status, code = http.StatusTooManyRequests, middleware.ErrRateLimited
	case errors.As(err, &fetchErr):
		status, code = http.StatusBadGateway, middleware.ErrUpstream
	case errors.As(err, &parseErr):
		status, code = http.StatusUnprocessableEntity, middleware.ErrUnprocessable
	}

	middleware.WriteError(w, status, code, calendar.UserMessage(err))
}

// SyncFeed synchronizes one feed and returns its result.
func SyncFeed(syncer Syncer, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		result, err := syncer.SyncFeed(r.Context(), id)
		if err != nil {
			log.Debug("on-demand sync failed", logger.String("feed_id", id), logger.Error(err))
			writeSyncError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// SyncUser synchronizes every import feed of one user.
func SyncUser(syncer Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := syncer.SyncUser(r.Context(), mux.Vars(r)["userID"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to synchronize feeds")
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

// SyncAll runs a full batch over every enabled import feed.
func SyncAll(syncer Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := syncer.RunAll(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to synchronize feeds")
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}
