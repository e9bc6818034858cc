package calendar

import (
	"time"

	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/sanitize"
	"github.com/booking-manager/backend/internal/storage/models"
)

// Counts summarizes one reconciliation pass.
type Counts struct {
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Deleted      int `json:"deleted"`
	Unchanged    int `json:"unchanged"`
	Protected    int `json:"protected"`
	Preserved    int `json:"preserved"`
	OutOfWindow  int `json:"out_of_window"`
	RoomRejected int `json:"room_rejected"`
}

// Plan is the set of writes that brings the local events of one feed in line
// with a remote pull. Updates carry the full new state of the event; Deletes
// carry the local event as it was read.
type Plan struct {
	Creates []models.Event
	Updates []models.Event
	Deletes []models.Event
	Counts  Counts
}

// Empty reports whether applying the plan would write no events.
func (p *Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Bounds returns the preservation threshold and sync window for now.
func Bounds(policy *config.Policy, now time.Time) (threshold time.Time, window Window) {
	threshold = now.Add(-policy.PreservationAge)
	window = Window{
		Start: now.Add(-policy.PastWindow),
		End:   now.Add(policy.FutureWindow),
	}
	return threshold, window
}

// Reconcile computes the plan for feed. local holds the events currently
// linked to the feed, remote the freshly decoded pull.
//
// Local events are matched to remote ones by external UID only. Events
// older than the preservation threshold, events outside the sync window and
// CSV-protected events are never updated or deleted.
func Reconcile(feed *models.Feed, local []models.Event, remote []models.RemoteEvent, adapter Adapter, policy *config.Policy, now time.Time) *Plan {
	threshold, window := Bounds(policy, now)
	plan := &Plan{}

	byUID := make(map[string]*models.Event, len(local))
	for i := range local {
		if uid := local[i].ExternalID(); uid != "" {
			if _, dup := byUID[uid]; !dup {
				byUID[uid] = &local[i]
			}
		}
	}

	keep := make(map[string]bool, len(local))
	seen := make(map[string]bool, len(remote))

	for i := range local {
		if local[i].Start.Before(threshold) {
			keep[local[i].ID] = true
			plan.Counts.Preserved++
		}
	}

	for _, rem := range remote {
		if rem.UID == "" || seen[rem.UID] {
			continue
		}
		seen[rem.UID] = true

		if !window.Contains(rem.Start) {
			plan.Counts.OutOfWindow++
			continue
		}

		existing := byUID[rem.UID]

		if !adapter.InScope(feed, rem) {
			plan.Counts.RoomRejected++
			if existing == nil || keep[existing.ID] {
				continue
			}
			// Decided here so the deletion pass does not see it again.
			keep[existing.ID] = true
			plan.retire(*existing, window, threshold)
			continue
		}

		if existing != nil {
			keep[existing.ID] = true
			if existing.CSVProtected {
				plan.Counts.Protected++
				continue
			}

			if updated, changed := applyRemote(*existing, rem, adapter, feed); changed {
				plan.Updates = append(plan.Updates, updated)
				plan.Counts.Updated++
			} else {
				plan.Counts.Unchanged++
			}
			continue
		}

		plan.Creates = append(plan.Creates, newLocalEvent(feed, rem, adapter, policy))
		plan.Counts.Created++
	}

	for _, ev := range local {
		if !keep[ev.ID] {
			plan.retire(ev, window, threshold)
		}
	}

	return plan
}

// retire deletes a local event that no longer belongs to the feed, unless
// it is preserved by age, starts outside the window, or is CSV-protected.
func (p *Plan) retire(ev models.Event, window Window, threshold time.Time) {
	switch {
	case ev.Start.Before(threshold), !window.Contains(ev.Start):
		p.Counts.Preserved++
	case ev.CSVProtected:
		p.Counts.Protected++
	default:
		p.Deletes = append(p.Deletes, ev)
		p.Counts.Deleted++
	}
}

// applyRemote copies the remote fields onto ev. changed is false when the
// title, sanitized description, start and end already match.
func applyRemote(ev models.Event, rem models.RemoteEvent, adapter Adapter, feed *models.Feed) (models.Event, bool) {
	description := sanitize.Description(rem.Description)

	changed := ev.Title != rem.Title ||
		ev.Description != description ||
		!ev.Start.Equal(rem.Start) ||
		!ev.EffectiveEnd().Equal(rem.End)
	if !changed {
		return ev, false
	}

	end := rem.End
	ev.Title = rem.Title
	ev.Description = description
	ev.Start = rem.Start
	ev.End = &end
	ev.Source = eventSource(feed, rem, adapter)

	return ev, true
}

func newLocalEvent(feed *models.Feed, rem models.RemoteEvent, adapter Adapter, policy *config.Policy) models.Event {
	color := feed.Color
	if color == "" {
		color = policy.DefaultColor
	}
	end := rem.End

	return models.Event{
		UserID:      feed.UserID,
		Title:       rem.Title,
		Description: sanitize.Description(rem.Description),
		Start:       rem.Start,
		End:         &end,
		Color:       color,
		AllDay:      false,
		Source:      eventSource(feed, rem, adapter),
	}
}

func eventSource(feed *models.Feed, rem models.RemoteEvent, adapter Adapter) *models.EventSource {
	return &models.EventSource{
		Type:         adapter.SourceType(),
		FeedID:       feed.ID,
		ExternalID:   rem.UID,
		URL:          redactURL(feed.URL),
		OriginalData: rem.Original,
	}
}
