// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/booking-manager/backend/internal/calendar"
)

// Pinger checks database connectivity. *storage.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Counter counts stored rows. The feed and event repositories implement it.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// StatsSource reports scheduler state. *calendar.Scheduler implements it.
type StatsSource interface {
	Stats() calendar.Stats
}

// ClientCounter reports connected websocket clients. *websocket.Hub implements it.
type ClientCounter interface {
	ClientCount() int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.PingContext(ctx) == nil

		response := HealthResponse{Status: "healthy", DBConnected: dbConnected}
		status := http.StatusOK
		if !dbConnected {
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	FeedsCount       int            `json:"feeds_count"`
	EventsCount      int            `json:"events_count"`
	WebSocketClients int            `json:"websocket_clients"`
	Scheduler        calendar.Stats `json:"scheduler"`
	NextSyncAt       *time.Time     `json:"next_sync_at,omitempty"`
}

// Status returns a handler that provides system status information.
// Counting failures are reported as zero.
func Status(feeds, events Counter, scheduler StatsSource, clients ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var response StatusResponse
		response.FeedsCount, _ = feeds.Count(ctx)
		response.EventsCount, _ = events.Count(ctx)
		if clients != nil {
			response.WebSocketClients = clients.ClientCount()
		}
		if scheduler != nil {
			response.Scheduler = scheduler.Stats()
			response.NextSyncAt = response.Scheduler.NextRunAt
		}

		writeJSON(w, http.StatusOK, response)
	}
}
