// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Feed is an external calendar source owned by one user.
type Feed struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Name               string     `json:"name"`
	URL                string     `json:"url"`
	Credential         *string    `json:"-"`
	Enabled            bool       `json:"enabled"`
	Direction          string     `json:"direction"`
	Color              string     `json:"color"`
	SyncMethod         string     `json:"sync_method"`
	LastSynchronizedAt *time.Time `json:"last_synchronized_at,omitempty"`
	SyncStatus         string     `json:"sync_status"`
	SyncError          *string    `json:"sync_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Feed directions
const (
	DirectionImport = "import"
	DirectionExport = "export"
)

// Sync methods select the source adapter. An empty method is resolved from the URL.
const (
	SyncMethodICal       = "ical"
	SyncMethodBeds24ICal = "beds24_ical"
	SyncMethodBeds24API  = "beds24_api"
)

// SyncStatus constants
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Importable reports whether the reconciliation engine may process the feed.
func (f *Feed) Importable() bool {
	return f.Enabled && f.Direction == DirectionImport
}

// RemoteEvent is one normalized entry from a remote calendar pull.
type RemoteEvent struct {
	UID         string       `json:"uid"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	AllDay      bool         `json:"all_day"`
	Original    OriginalData `json:"original"`
}
