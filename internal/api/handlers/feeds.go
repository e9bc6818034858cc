package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/booking-manager/backend/internal/api/middleware"
	"github.com/booking-manager/backend/internal/storage"
	"github.com/booking-manager/backend/internal/storage/models"
)

// FeedStore is the feed persistence the handlers need.
// *storage.FeedRepository implements it.
type FeedStore interface {
	Create(ctx context.Context, f *models.Feed) error
	GetByID(ctx context.Context, id string) (*models.Feed, error)
	List(ctx context.Context) ([]models.Feed, error)
	ListByUser(ctx context.Context, userID string) ([]models.Feed, error)
	Update(ctx context.Context, f *models.Feed) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// FeedRequest is the body of feed create and update calls. Omitted fields
// keep their current value on update.
type FeedRequest struct {
	UserID     string  `json:"user_id"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	Credential *string `json:"credential,omitempty"`
	Enabled    *bool   `json:"enabled,omitempty"`
	Direction  string  `json:"direction"`
	Color      string  `json:"color"`
	SyncMethod string  `json:"sync_method"`
}

// FeedResponse is a feed as returned by the API. Credentials are never echoed.
type FeedResponse struct {
	models.Feed
	HasCredential bool `json:"has_credential"`
}

func feedResponse(f *models.Feed) FeedResponse {
	return FeedResponse{Feed: *f, HasCredential: f.Credential != nil && *f.Credential != ""}
}

// normalizeFeedURL accepts http(s) and webcal links; webcal is fetched over https.
func normalizeFeedURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "webcal", "webcals":
		u.Scheme = "https"
	default:
		return "", false
	}
	return u.String(), true
}

func validSyncMethod(m string) bool {
	switch m {
	case "", models.SyncMethodICal, models.SyncMethodBeds24ICal, models.SyncMethodBeds24API:
		return true
	}
	return false
}

// apply copies the request onto f, validating as it goes. It returns a
// user-facing message on failure.
func (req *FeedRequest) apply(f *models.Feed, creating bool) string {
	if creating {
		if req.UserID == "" || req.Name == "" || req.URL == "" {
			return "user_id, name and url are required"
		}
		f.UserID = req.UserID
		f.Enabled = true
	}

	if req.Name != "" {
		f.Name = req.Name
	}
	if req.URL != "" {
		u, ok := normalizeFeedURL(req.URL)
		if !ok {
			return "url must be an http, https or webcal link"
		}
		f.URL = u
	}
	if req.Credential != nil {
		f.Credential = req.Credential
	}
	if req.Enabled != nil {
		f.Enabled = *req.Enabled
	}
	if req.Direction != "" {
		if req.Direction != models.DirectionImport && req.Direction != models.DirectionExport {
			return "direction must be import or export"
		}
		f.Direction = req.Direction
	}
	if req.Color != "" {
		f.Color = req.Color
	}
	if req.SyncMethod != "" || creating {
		if !validSyncMethod(req.SyncMethod) {
			return "unknown sync_method"
		}
		f.SyncMethod = req.SyncMethod
	}

	return ""
}

// ListFeeds returns every feed, or the feeds of ?user_id=.
func ListFeeds(feeds FeedStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			list []models.Feed
			err  error
		)
		if userID := r.URL.Query().Get("user_id"); userID != "" {
			list, err = feeds.ListByUser(r.Context(), userID)
		} else {
			list, err = feeds.List(r.Context())
		}
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query feeds")
			return
		}

		response := make([]FeedResponse, 0, len(list))
		for i := range list {
			response = append(response, feedResponse(&list[i]))
		}

		writeJSON(w, http.StatusOK, response)
	}
}

// CreateFeed adds a new feed.
func CreateFeed(feeds FeedStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		var f models.Feed
		if msg := req.apply(&f, true); msg != "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, msg)
			return
		}

		if err := feeds.Create(r.Context(), &f); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create feed")
			return
		}

		writeJSON(w, http.StatusCreated, feedResponse(&f))
	}
}

// GetFeed returns a single feed by ID.
func GetFeed(feeds FeedStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := loadFeed(w, r, feeds)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, feedResponse(f))
	}
}

// UpdateFeed changes the user-editable fields of a feed.
func UpdateFeed(feeds FeedStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := loadFeed(w, r, feeds)
		if !ok {
			return
		}

		var req FeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.UserID != "" && req.UserID != f.UserID {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "user_id cannot be changed")
			return
		}
		if msg := req.apply(f, false); msg != "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, msg)
			return
		}

		if err := feeds.Update(r.Context(), f); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to update feed")
			return
		}

		writeJSON(w, http.StatusOK, feedResponse(f))
	}
}

// DeleteFeed removes a feed. Its events stay but lose their feed link.
func DeleteFeed(feeds FeedStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := feeds.Delete(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to delete feed")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// loadFeed fetches the {id} feed and writes the error response itself when
// it cannot.
func loadFeed(w http.ResponseWriter, r *http.Request, feeds FeedStore) (*models.Feed, bool) {
	f, err := feeds.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query feed")
		return nil, false
	}
	if f == nil {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
		return nil, false
	}
	return f, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
