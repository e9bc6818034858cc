package calendar

import (
	"testing"
	"time"

	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/storage/models"
)

var reconcileNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testFeed() *models.Feed {
	return &models.Feed{
		ID:        "feed-1",
		UserID:    "user-1",
		Name:      "Airbnb",
		URL:       "https://calendar.example.com/feed.ics",
		Enabled:   true,
		Direction: models.DirectionImport,
		Color:     "#ff5a5f",
	}
}

func remoteAt(uid, title string, start time.Time) models.RemoteEvent {
	return models.RemoteEvent{UID: uid, Title: title, Start: start, End: start.Add(72 * time.Hour)}
}

func localFrom(id string, feed *models.Feed, rem models.RemoteEvent) models.Event {
	end := rem.End
	return models.Event{
		ID:     id,
		UserID: feed.UserID,
		Title:  rem.Title,
		Start:  rem.Start,
		End:    &end,
		Source: &models.EventSource{Type: models.SourceICal, FeedID: feed.ID, ExternalID: rem.UID},
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func reconcile(t *testing.T, feed *models.Feed, local []models.Event, remote []models.RemoteEvent) *Plan {
	t.Helper()
	ad, err := testAdapters().For(feed)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return Reconcile(feed, local, remote, ad, config.DefaultPolicy(), reconcileNow)
}

// applyInMemory mimics Store.Apply on a slice.
func applyInMemory(local []models.Event, plan *Plan) []models.Event {
	deleted := make(map[string]bool)
	for _, ev := range plan.Deletes {
		deleted[ev.ID] = true
	}
	updated := make(map[string]models.Event)
	for _, ev := range plan.Updates {
		updated[ev.ID] = ev
	}

	var out []models.Event
	for _, ev := range local {
		if deleted[ev.ID] {
			continue
		}
		if u, ok := updated[ev.ID]; ok {
			ev = u
		}
		out = append(out, ev)
	}
	for i, ev := range plan.Creates {
		ev.ID = "created-" + ev.ExternalID() + "-" + string(rune('a'+i))
		out = append(out, ev)
	}
	return out
}

func TestReconcileFreshFeed(t *testing.T) {
	feed := testFeed()
	remote := []models.RemoteEvent{
		remoteAt("a", "Guest A", reconcileNow.Add(days(3))),
		remoteAt("b", "Guest B", reconcileNow.Add(days(10))),
		remoteAt("c", "Guest C", reconcileNow.Add(days(40))),
	}

	plan := reconcile(t, feed, nil, remote)
	if plan.Counts.Created != 3 || plan.Counts.Updated != 0 || plan.Counts.Deleted != 0 {
		t.Fatalf("counts = %+v", plan.Counts)
	}

	ev := plan.Creates[0]
	if ev.UserID != "user-1" || ev.Color != "#ff5a5f" || ev.AllDay {
		t.Errorf("created event = %+v", ev)
	}
	if ev.Source == nil || ev.Source.Type != models.SourceICal || ev.Source.FeedID != "feed-1" || ev.Source.ExternalID != "a" {
		t.Errorf("source = %+v", ev.Source)
	}
}

func TestReconcileDefaultColor(t *testing.T) {
	feed := testFeed()
	feed.Color = ""

	plan := reconcile(t, feed, nil, []models.RemoteEvent{remoteAt("a", "Guest A", reconcileNow.Add(days(3)))})
	if got := plan.Creates[0].Color; got != config.DefaultPolicy().DefaultColor {
		t.Fatalf("color = %q", got)
	}
}

func TestReconcileTitleChangeUpdatesInPlace(t *testing.T) {
	feed := testFeed()
	rem := remoteAt("abc123", "Guest A", reconcileNow.Add(days(5)))
	local := []models.Event{localFrom("ev-1", feed, rem)}

	rem.Title = "Guest B"
	plan := reconcile(t, feed, local, []models.RemoteEvent{rem})

	if plan.Counts.Updated != 1 || plan.Counts.Created != 0 || plan.Counts.Deleted != 0 {
		t.Fatalf("counts = %+v", plan.Counts)
	}
	up := plan.Updates[0]
	if up.ID != "ev-1" || up.Title != "Guest B" || up.Source.FeedID != feed.ID {
		t.Fatalf("update = %+v", up)
	}
}

func TestReconcileTimeShiftUpdatesInPlace(t *testing.T) {
	feed := testFeed()
	rem := remoteAt("abc123", "Guest A", reconcileNow.Add(days(5)))
	local := []models.Event{localFrom("ev-1", feed, rem)}

	rem.Start = rem.Start.Add(2 * time.Hour)
	rem.End = rem.End.Add(26 * time.Hour)
	plan := reconcile(t, feed, local, []models.RemoteEvent{rem})

	if len(plan.Updates) != 1 || plan.Updates[0].ID != "ev-1" {
		t.Fatalf("plan = %+v", plan)
	}
	if !plan.Updates[0].Start.Equal(rem.Start) || !plan.Updates[0].EffectiveEnd().Equal(rem.End) {
		t.Fatalf("times not updated: %+v", plan.Updates[0])
	}
}

func TestReconcileDeletesVanishedEvent(t *testing.T) {
	feed := testFeed()
	local := []models.Event{localFrom("ev-xyz", feed, remoteAt("xyz", "Guest", reconcileNow.Add(days(10))))}

	plan := reconcile(t, feed, local, nil)
	if plan.Counts.Deleted != 1 || len(plan.Deletes) != 1 || plan.Deletes[0].ID != "ev-xyz" {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestReconcileProtectedEvents(t *testing.T) {
	feed := testFeed()
	rem := remoteAt("xyz", "Guest", reconcileNow.Add(days(10)))
	protected := localFrom("ev-xyz", feed, rem)
	protected.CSVProtected = true

	t.Run("vanished", func(t *testing.T) {
		plan := reconcile(t, feed, []models.Event{protected}, nil)
		if plan.Counts.Deleted != 0 || plan.Counts.Protected != 1 || !plan.Empty() {
			t.Fatalf("plan = %+v", plan)
		}
	})

	t.Run("modified upstream", func(t *testing.T) {
		changed := rem
		changed.Title = "Someone else"
		plan := reconcile(t, feed, []models.Event{protected}, []models.RemoteEvent{changed})
		if plan.Counts.Protected != 1 || !plan.Empty() {
			t.Fatalf("plan = %+v", plan)
		}
	})
}

func TestReconcilePreservesHistoricalEvents(t *testing.T) {
	feed := testFeed()
	old := localFrom("ev-old", feed, remoteAt("old", "Stay 2022", reconcileNow.Add(-days(4*365))))

	plan := reconcile(t, feed, []models.Event{old}, nil)
	if plan.Counts.Deleted != 0 || plan.Counts.Preserved != 1 || !plan.Empty() {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestReconcileWindow(t *testing.T) {
	feed := testFeed()

	t.Run("remote outside window", func(t *testing.T) {
		remote := []models.RemoteEvent{
			remoteAt("past", "Past", reconcileNow.Add(-days(31))),
			remoteAt("future", "Future", reconcileNow.Add(days(361))),
		}
		plan := reconcile(t, feed, nil, remote)
		if plan.Counts.OutOfWindow != 2 || !plan.Empty() {
			t.Fatalf("plan = %+v", plan)
		}
	})

	t.Run("local outside window", func(t *testing.T) {
		local := []models.Event{
			localFrom("ev-past", feed, remoteAt("past", "Past", reconcileNow.Add(-days(60)))),
			localFrom("ev-future", feed, remoteAt("future", "Future", reconcileNow.Add(days(400)))),
		}
		plan := reconcile(t, feed, local, nil)
		if plan.Counts.Preserved != 2 || !plan.Empty() {
			t.Fatalf("plan = %+v", plan)
		}
	})

	t.Run("remote outside window does not update", func(t *testing.T) {
		rem := remoteAt("past", "Past", reconcileNow.Add(-days(45)))
		local := []models.Event{localFrom("ev-past", feed, rem)}
		rem.Title = "Renamed"
		plan := reconcile(t, feed, local, []models.RemoteEvent{rem})
		if !plan.Empty() {
			t.Fatalf("plan = %+v", plan)
		}
	})
}

func TestReconcileRoomScoping(t *testing.T) {
	feed := testFeed()
	feed.URL = "https://www.beds24.com/ical/bookings.ics?roomid=12"
	feed.SyncMethod = models.SyncMethodBeds24ICal

	foreign := remoteAt("b24-1", "Room 7 - Jane Doe", reconcileNow.Add(days(5)))
	own := remoteAt("b24-2", "Room 12 - John Roe", reconcileNow.Add(days(8)))

	t.Run("not created", func(t *testing.T) {
		plan := reconcile(t, feed, nil, []models.RemoteEvent{foreign, own})
		if plan.Counts.Created != 1 || plan.Creates[0].ExternalID() != "b24-2" || plan.Counts.RoomRejected != 1 {
			t.Fatalf("plan = %+v", plan)
		}
		if plan.Creates[0].Source.Type != models.SourceICal {
			t.Errorf("source type = %s", plan.Creates[0].Source.Type)
		}
	})

	t.Run("stale copy deleted", func(t *testing.T) {
		local := []models.Event{localFrom("ev-stale", feed, foreign)}
		plan := reconcile(t, feed, local, []models.RemoteEvent{foreign})
		if plan.Counts.Deleted != 1 || len(plan.Deletes) != 1 || plan.Deletes[0].ID != "ev-stale" {
			t.Fatalf("plan = %+v", plan)
		}
	})

	t.Run("copy outside window kept", func(t *testing.T) {
		copyOf := foreign
		copyOf.Start = reconcileNow.Add(days(400))
		copyOf.End = copyOf.Start.Add(days(2))
		local := []models.Event{localFrom("ev-far", feed, copyOf)}
		plan := reconcile(t, feed, local, []models.RemoteEvent{foreign})
		if !plan.Empty() || plan.Counts.Preserved != 1 || plan.Counts.RoomRejected != 1 {
			t.Fatalf("plan = %+v", plan)
		}
	})

	t.Run("protected stale copy kept", func(t *testing.T) {
		stale := localFrom("ev-stale", feed, foreign)
		stale.CSVProtected = true
		plan := reconcile(t, feed, []models.Event{stale}, []models.RemoteEvent{foreign})
		if !plan.Empty() || plan.Counts.Protected != 1 {
			t.Fatalf("plan = %+v", plan)
		}
	})
}

func TestReconcileSanitizesDescription(t *testing.T) {
	feed := testFeed()
	rem := remoteAt("a", "Guest A", reconcileNow.Add(days(3)))
	rem.Description = "Contact jane@example.com"

	plan := reconcile(t, feed, nil, []models.RemoteEvent{rem})
	if got := plan.Creates[0].Description; got != "Contact [email removed]" {
		t.Fatalf("description = %q", got)
	}

	// The stored text is sanitized, the remote is not: still no update.
	local := applyInMemory(nil, plan)
	again := reconcile(t, feed, local, []models.RemoteEvent{rem})
	if !again.Empty() || again.Counts.Unchanged != 1 {
		t.Fatalf("second run = %+v", again)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	feed := testFeed()
	remote := []models.RemoteEvent{
		remoteAt("a", "Guest A", reconcileNow.Add(days(3))),
		remoteAt("b", "Guest B", reconcileNow.Add(days(10))),
		{UID: "c", Title: "No end", Start: reconcileNow.Add(days(20)), End: reconcileNow.Add(days(21))},
	}
	local := []models.Event{
		localFrom("ev-gone", feed, remoteAt("gone", "Gone", reconcileNow.Add(days(7)))),
	}

	first := reconcile(t, feed, local, remote)
	if first.Counts.Created != 3 || first.Counts.Deleted != 1 {
		t.Fatalf("first run = %+v", first.Counts)
	}

	second := reconcile(t, feed, applyInMemory(local, first), remote)
	if !second.Empty() {
		t.Fatalf("second run not empty: %+v", second.Counts)
	}
	if second.Counts.Unchanged != 3 {
		t.Fatalf("second run = %+v", second.Counts)
	}
}

func TestReconcileNilEndMatchesDefaultSpan(t *testing.T) {
	feed := testFeed()
	start := reconcileNow.Add(days(4))
	local := []models.Event{{
		ID:     "ev-1",
		UserID: feed.UserID,
		Title:  "Blocked",
		Start:  start,
		Source: &models.EventSource{Type: models.SourceICal, FeedID: feed.ID, ExternalID: "blk"},
	}}

	plan := reconcile(t, feed, local, []models.RemoteEvent{{UID: "blk", Title: "Blocked", Start: start, End: start.Add(models.DefaultSpan)}})
	if !plan.Empty() || plan.Counts.Unchanged != 1 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestReconcileRepeatedUIDInPull(t *testing.T) {
	feed := testFeed()
	start := reconcileNow.Add(days(4))

	plan := reconcile(t, feed, nil, []models.RemoteEvent{
		remoteAt("dup", "First", start),
		remoteAt("dup", "Second", start.Add(time.Hour)),
	})
	if plan.Counts.Created != 1 || plan.Creates[0].Title != "First" {
		t.Fatalf("plan = %+v", plan)
	}
}
