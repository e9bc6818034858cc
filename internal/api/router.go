// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/booking-manager/backend/internal/api/handlers"
	"github.com/booking-manager/backend/internal/api/middleware"
	"github.com/booking-manager/backend/internal/audit"
	"github.com/booking-manager/backend/internal/calendar"
	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage"
	"github.com/booking-manager/backend/internal/websocket"
)

// Services holds everything the routes need.
type Services struct {
	DB        *storage.DB
	Feeds     *storage.FeedRepository
	Events    *storage.EventRepository
	Hub       *websocket.Hub
	Scheduler *calendar.Scheduler
	Auditor   *audit.Auditor
	Policy    *config.Policy
	StaticDir string
	Log       logger.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging(s.Log))
	r.Use(middleware.ErrorRecovery(s.Log))

	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(s.Feeds, s.Events, s.Scheduler, s.Hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, s.Log)).Methods("GET")

	// Feed endpoints
	api.HandleFunc("/feeds", handlers.ListFeeds(s.Feeds)).Methods("GET")
	api.HandleFunc("/feeds", handlers.CreateFeed(s.Feeds)).Methods("POST")
	api.HandleFunc("/feeds/{id}", handlers.GetFeed(s.Feeds)).Methods("GET")
	api.HandleFunc("/feeds/{id}", handlers.UpdateFeed(s.Feeds)).Methods("PUT")
	api.HandleFunc("/feeds/{id}", handlers.DeleteFeed(s.Feeds)).Methods("DELETE")
	api.HandleFunc("/feeds/{id}/export.ics", handlers.ExportFeed(s.Feeds, s.Events, s.Policy, s.Log)).Methods("GET")

	// Synchronization endpoints
	api.HandleFunc("/feeds/{id}/sync", handlers.SyncFeed(s.Scheduler, s.Log)).Methods("POST")
	api.HandleFunc("/users/{userID}/sync", handlers.SyncUser(s.Scheduler)).Methods("POST")
	api.HandleFunc("/sync", handlers.SyncAll(s.Scheduler)).Methods("POST")

	// Duplicate audit endpoints
	api.HandleFunc("/users/{userID}/duplicates", handlers.ListDuplicates(s.Auditor)).Methods("GET")
	api.HandleFunc("/users/{userID}/duplicates", handlers.RemoveDuplicates(s.Auditor)).Methods("DELETE")
	api.HandleFunc("/users/{userID}/duplicates/similar", handlers.ListSimilar(s.Auditor)).Methods("GET")

	// Serve static frontend files
	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir)))
	}

	return r
}
