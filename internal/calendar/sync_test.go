package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/lease"
	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
	"github.com/booking-manager/backend/internal/websocket"
)

// fakeStore keeps feeds and events in memory. Apply is all-or-nothing.
type fakeStore struct {
	mu       sync.Mutex
	feeds    map[string]*models.Feed
	events   []models.Event
	nextID   int
	applyErr error
}

func newFakeStore(feeds ...*models.Feed) *fakeStore {
	s := &fakeStore{feeds: make(map[string]*models.Feed)}
	for _, f := range feeds {
		s.feeds[f.ID] = f
	}
	return s
}

func (s *fakeStore) GetFeed(_ context.Context, id string) (*models.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[id]
	if !ok {
		return nil, ErrFeedNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *fakeStore) list(keep func(*models.Feed) bool) []models.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Feed
	for _, f := range s.feeds {
		if keep(f) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeStore) ListEnabledImportFeeds(context.Context) ([]models.Feed, error) {
	return s.list(func(f *models.Feed) bool { return f.Importable() }), nil
}

func (s *fakeStore) ListFeedsForUser(_ context.Context, userID string) ([]models.Feed, error) {
	return s.list(func(f *models.Feed) bool { return f.UserID == userID }), nil
}

func (s *fakeStore) ListFeedEvents(_ context.Context, userID, feedID string) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.UserID == userID && ev.Source != nil && ev.Source.FeedID == feedID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateSyncStatus(_ context.Context, feedID, status string, syncError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[feedID]; ok {
		f.SyncStatus = status
		f.SyncError = syncError
	}
	return nil
}

func (s *fakeStore) Apply(_ context.Context, feed *models.Feed, plan *Plan, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}

	deleted := make(map[string]bool)
	for _, ev := range plan.Deletes {
		deleted[ev.ID] = true
	}
	updated := make(map[string]models.Event)
	for _, ev := range plan.Updates {
		updated[ev.ID] = ev
	}

	var next []models.Event
	for _, ev := range s.events {
		if deleted[ev.ID] && !ev.CSVProtected {
			continue
		}
		if u, ok := updated[ev.ID]; ok && !ev.CSVProtected {
			ev = u
		}
		next = append(next, ev)
	}
	for _, ev := range plan.Creates {
		s.nextID++
		ev.ID = "ev-" + strconv.Itoa(s.nextID)
		ev.Seq = int64(s.nextID)
		next = append(next, ev)
	}
	s.events = next

	f := s.feeds[feed.ID]
	at := syncedAt
	f.LastSynchronizedAt = &at
	f.SyncStatus = models.SyncStatusSuccess
	f.SyncError = nil
	return nil
}

func (s *fakeStore) feed(id string) models.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.feeds[id]
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []websocket.FeedSyncPayload
	failed    []string
	batches   []websocket.BatchPayload
}

func (n *fakeNotifier) BroadcastFeedSyncCompleted(p websocket.FeedSyncPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, p)
}

func (n *fakeNotifier) BroadcastFeedSyncError(feedID, _, _, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, feedID+": "+message)
}

func (n *fakeNotifier) BroadcastBatchCompleted(p websocket.BatchPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, p)
}

func newTestService(t *testing.T, store Store) (*SyncService, *fakeNotifier, *lease.MemoryLocker) {
	t.Helper()
	log := logger.New("error", false)
	fetcher := NewFetcher(nil, "test-agent/1.0", config.DefaultPolicy().Fetch, log)
	fetcher.sleep = func(context.Context, time.Duration) error { return nil }

	notifier := &fakeNotifier{}
	locker := lease.NewMemoryLocker()
	svc := NewSyncService(store, testAdapters(), fetcher, locker, config.DefaultPolicy(), notifier, log)
	svc.now = func() time.Time { return reconcileNow }
	return svc, notifier, locker
}

var threeBookings = icsDoc(
	"BEGIN:VEVENT",
	"UID:a",
	"DTSTAMP:20260101T000000Z",
	"DTSTART:20260605T150000Z",
	"DTEND:20260608T100000Z",
	"SUMMARY:Guest A",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:b",
	"DTSTAMP:20260101T000000Z",
	"DTSTART:20260610T150000Z",
	"DTEND:20260612T100000Z",
	"SUMMARY:Guest B",
	"DESCRIPTION:Call +351 912 345 678",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:c",
	"DTSTAMP:20260101T000000Z",
	"DTSTART:20260701T150000Z",
	"SUMMARY:Guest C",
	"END:VEVENT",
)

func serveICS(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func importFeed(id, url string) *models.Feed {
	return &models.Feed{
		ID:         id,
		UserID:     "user-1",
		Name:       "Feed " + id,
		URL:        url,
		Enabled:    true,
		Direction:  models.DirectionImport,
		SyncStatus: models.SyncStatusPending,
	}
}

func TestSyncFeedCreatesThenIdle(t *testing.T) {
	srv := serveICS(t, threeBookings)
	store := newFakeStore(importFeed("f1", srv.URL))
	svc, notifier, _ := newTestService(t, store)

	res, err := svc.SyncFeedByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("SyncFeedByID: %v", err)
	}
	if res.Counts.Created != 3 || res.Fetched != 3 || res.Adapter != models.SyncMethodICal {
		t.Fatalf("result = %+v", res)
	}

	feed := store.feed("f1")
	if feed.LastSynchronizedAt == nil || !feed.LastSynchronizedAt.Equal(reconcileNow) {
		t.Fatalf("last synchronized = %v", feed.LastSynchronizedAt)
	}
	if feed.SyncStatus != models.SyncStatusSuccess {
		t.Fatalf("status = %s", feed.SyncStatus)
	}

	for _, ev := range store.events {
		if ev.Source.ExternalID == "b" && ev.Description != "Call [phone removed]" {
			t.Errorf("description stored unsanitized: %q", ev.Description)
		}
	}

	again, err := svc.SyncFeedByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again.Counts.Created+again.Counts.Updated+again.Counts.Deleted != 0 || again.Counts.Unchanged != 3 {
		t.Fatalf("second sync = %+v", again.Counts)
	}
	if len(notifier.completed) != 2 {
		t.Fatalf("completed notifications = %d", len(notifier.completed))
	}
}

func TestSyncFeedRateLimitedLeavesFeedUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := newFakeStore(importFeed("f1", srv.URL))
	svc, notifier, _ := newTestService(t, store)

	_, err := svc.SyncFeedByID(context.Background(), "f1")
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) || rateErr.Attempts != 3 {
		t.Fatalf("err = %v, want RateLimitedError after 3 attempts", err)
	}

	feed := store.feed("f1")
	if feed.LastSynchronizedAt != nil {
		t.Fatal("last synchronized must not advance on failure")
	}
	if feed.SyncStatus != models.SyncStatusError || feed.SyncError == nil {
		t.Fatalf("status = %s, error = %v", feed.SyncStatus, feed.SyncError)
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("failures notified = %v", notifier.failed)
	}
}

func TestSyncFeedApplyFailure(t *testing.T) {
	srv := serveICS(t, threeBookings)
	store := newFakeStore(importFeed("f1", srv.URL))
	store.applyErr = errors.New("disk full")
	svc, _, _ := newTestService(t, store)

	_, err := svc.SyncFeedByID(context.Background(), "f1")
	if err == nil {
		t.Fatal("expected apply error")
	}
	if len(store.events) != 0 || store.feed("f1").LastSynchronizedAt != nil {
		t.Fatalf("store changed after failed apply: %d events", len(store.events))
	}
}

func TestSyncFeedParseFailureWritesNothing(t *testing.T) {
	srv := serveICS(t, []byte("<html><body>Sign in</body></html>"))
	store := newFakeStore(importFeed("f1", srv.URL))
	store.events = []models.Event{localFrom("keep-me", importFeed("f1", srv.URL), remoteAt("x", "Guest", reconcileNow.Add(days(3))))}
	svc, _, _ := newTestService(t, store)

	_, err := svc.SyncFeedByID(context.Background(), "f1")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if len(store.events) != 1 {
		t.Fatal("local events must survive a parse failure")
	}
}

func TestSyncFeedLeaseContention(t *testing.T) {
	srv := serveICS(t, threeBookings)
	store := newFakeStore(importFeed("f1", srv.URL))
	svc, _, locker := newTestService(t, store)

	held, err := locker.TryAcquire(context.Background(), leaseKey("f1"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SyncFeedByID(context.Background(), "f1"); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}

	held.Release()
	if _, err := svc.SyncFeedByID(context.Background(), "f1"); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestSyncFeedNotEligible(t *testing.T) {
	disabled := importFeed("f1", "https://example.com/a.ics")
	disabled.Enabled = false
	export := importFeed("f2", "https://example.com/b.ics")
	export.Direction = models.DirectionExport

	svc, _, _ := newTestService(t, newFakeStore(disabled, export))
	for _, id := range []string{"f1", "f2"} {
		if _, err := svc.SyncFeedByID(context.Background(), id); !errors.Is(err, ErrFeedNotEligible) {
			t.Errorf("%s: err = %v, want ErrFeedNotEligible", id, err)
		}
	}
	if _, err := svc.SyncFeedByID(context.Background(), "missing"); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("missing feed: err = %v", err)
	}
}

func TestSyncFeedsContinuesAfterFailure(t *testing.T) {
	good := serveICS(t, threeBookings)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer bad.Close()

	store := newFakeStore(importFeed("f1", bad.URL), importFeed("f2", good.URL))
	svc, _, _ := newTestService(t, store)

	feeds, _ := store.ListEnabledImportFeeds(context.Background())
	batch := svc.SyncFeeds(context.Background(), feeds)

	if batch.Total != 2 || batch.Failed != 1 || batch.Succeeded != 1 || batch.Counts.Created != 3 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Failures[0].FeedID != "f1" || batch.Failures[0].Message != "The calendar provider answered with HTTP 404." {
		t.Fatalf("failure = %+v", batch.Failures[0])
	}
	if store.feed("f2").LastSynchronizedAt == nil || store.feed("f1").LastSynchronizedAt != nil {
		t.Fatal("only the healthy feed should advance")
	}
}
