package models

import (
	"time"
)

// DefaultSpan is the implied length of an event stored without an end time.
const DefaultSpan = 24 * time.Hour

// Event source types
const (
	SourceICal      = "ical"
	SourceBeds24    = "beds24"
	SourceCSVImport = "csv_import"
)

// Event is a booking or calendar entry owned by a user.
type Event struct {
	ID           string       `json:"id"`
	Seq          int64        `json:"seq"`
	UserID       string       `json:"user_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Start        time.Time    `json:"start"`
	End          *time.Time   `json:"end,omitempty"`
	Color        string       `json:"color"`
	AllDay       bool         `json:"all_day"`
	Source       *EventSource `json:"source,omitempty"`
	CSVProtected bool         `json:"csv_protected"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// EventSource records where a synchronized event came from. A nil source
// marks a manual entry.
type EventSource struct {
	Type         string       `json:"type"`
	FeedID       string       `json:"feed_id,omitempty"`
	ExternalID   string       `json:"external_id,omitempty"`
	URL          string       `json:"url,omitempty"`
	OriginalData OriginalData `json:"original_data"`
}

// OriginalData is the snapshot of remote metadata kept alongside a synced event.
type OriginalData struct {
	Location  string `json:"location,omitempty"`
	Organizer string `json:"organizer,omitempty"`
	Status    string `json:"status,omitempty"`
}

// EffectiveEnd returns End, or Start plus DefaultSpan when no end is stored.
func (e *Event) EffectiveEnd() time.Time {
	if e.End != nil {
		return *e.End
	}
	return e.Start.Add(DefaultSpan)
}

// ExternalID returns the remote UID, or "" for events without a source.
func (e *Event) ExternalID() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.ExternalID
}

// SourceType returns the provenance tag, or "" for manual events.
func (e *Event) SourceType() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.Type
}
