package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/lease"
	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
	"github.com/booking-manager/backend/internal/websocket"
)

// Notifier receives the outcome of each feed synchronization.
// *websocket.EventBroadcaster implements it.
type Notifier interface {
	BroadcastFeedSyncCompleted(payload websocket.FeedSyncPayload)
	BroadcastFeedSyncError(feedID, feedName, userID, message string)
}

// Result describes one successful feed synchronization.
type Result struct {
	FeedID   string        `json:"feed_id"`
	FeedName string        `json:"feed_name"`
	UserID   string        `json:"user_id"`
	Adapter  string        `json:"adapter"`
	Fetched  int           `json:"fetched"`
	Counts   Counts        `json:"counts"`
	SyncedAt time.Time     `json:"synced_at"`
	Duration time.Duration `json:"duration"`
}

// FeedFailure is a feed that failed inside a batch.
type FeedFailure struct {
	FeedID   string `json:"feed_id"`
	FeedName string `json:"feed_name"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

// BatchResult aggregates a sequential run over several feeds.
type BatchResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Counts    Counts        `json:"counts"`
	Results   []*Result     `json:"results"`
	Failures  []FeedFailure `json:"failures"`
}

func (b *BatchResult) add(c Counts) {
	b.Counts.Created += c.Created
	b.Counts.Updated += c.Updated
	b.Counts.Deleted += c.Deleted
	b.Counts.Unchanged += c.Unchanged
	b.Counts.Protected += c.Protected
	b.Counts.Preserved += c.Preserved
	b.Counts.OutOfWindow += c.OutOfWindow
	b.Counts.RoomRejected += c.RoomRejected
}

// SyncService pulls one feed and reconciles it with the local events.
type SyncService struct {
	store    Store
	adapters *Adapters
	fetcher  *Fetcher
	locker   lease.Locker
	policy   *config.Policy
	notifier Notifier
	log      logger.Logger

	now func() time.Time
}

// NewSyncService creates a sync service. notifier may be nil.
func NewSyncService(
	store Store,
	adapters *Adapters,
	fetcher *Fetcher,
	locker lease.Locker,
	policy *config.Policy,
	notifier Notifier,
	log logger.Logger,
) *SyncService {
	return &SyncService{
		store:    store,
		adapters: adapters,
		fetcher:  fetcher,
		locker:   locker,
		policy:   policy,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Policy returns the sync policy in effect.
func (s *SyncService) Policy() *config.Policy {
	return s.policy
}

func leaseKey(feedID string) string {
	return "feed-sync:" + feedID
}

// SyncFeedByID loads the feed and synchronizes it.
func (s *SyncService) SyncFeedByID(ctx context.Context, feedID string) (*Result, error) {
	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	return s.SyncFeed(ctx, feed)
}

// SyncFeed fetches the feed, reconciles it and applies the plan in one
// transaction. Nothing is written when fetching or decoding fails.
func (s *SyncService) SyncFeed(ctx context.Context, feed *models.Feed) (*Result, error) {
	if !feed.Importable() {
		return nil, ErrFeedNotEligible
	}

	l, err := s.locker.TryAcquire(ctx, leaseKey(feed.ID), s.policy.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		return nil, ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lease for feed %s: %w", feed.ID, err)
	}
	defer l.Release()

	log := s.log.With(logger.String("feed_id", feed.ID), logger.String("user_id", feed.UserID))

	if err := s.store.UpdateSyncStatus(ctx, feed.ID, models.SyncStatusSyncing, nil); err != nil {
		log.Warn("failed to mark feed as syncing", logger.Error(err))
	}

	started := s.now()
	result, err := s.run(ctx, feed)
	if err != nil {
		msg := err.Error()
		// The request context may already be gone; the status still has to land.
		if serr := s.store.UpdateSyncStatus(context.WithoutCancel(ctx), feed.ID, models.SyncStatusError, &msg); serr != nil {
			log.Warn("failed to record sync error", logger.Error(serr))
		}
		log.Error("feed sync failed", logger.Error(err))
		if s.notifier != nil {
			s.notifier.BroadcastFeedSyncError(feed.ID, feed.Name, feed.UserID, UserMessage(err))
		}
		return nil, err
	}
	result.Duration = s.now().Sub(started)

	log.Info("feed synchronized",
		logger.String("adapter", result.Adapter),
		logger.Int("fetched", result.Fetched),
		logger.Int("created", result.Counts.Created),
		logger.Int("updated", result.Counts.Updated),
		logger.Int("deleted", result.Counts.Deleted),
		logger.Int("protected", result.Counts.Protected),
		logger.Int("preserved", result.Counts.Preserved),
		logger.Duration("duration", result.Duration))

	if s.notifier != nil {
		s.notifier.BroadcastFeedSyncCompleted(websocket.FeedSyncPayload{
			FeedID:    feed.ID,
			FeedName:  feed.Name,
			UserID:    feed.UserID,
			Status:    models.SyncStatusSuccess,
			Created:   result.Counts.Created,
			Updated:   result.Counts.Updated,
			Deleted:   result.Counts.Deleted,
			Protected: result.Counts.Protected,
			SyncedAt:  result.SyncedAt,
		})
	}

	return result, nil
}

func (s *SyncService) run(ctx context.Context, feed *models.Feed) (*Result, error) {
	adapter, err := s.adapters.For(feed)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	_, window := Bounds(s.policy, now)

	req, err := adapter.Request(feed, window)
	if err != nil {
		return nil, err
	}

	payload, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	remote, err := adapter.Decode(payload, window)
	if err != nil {
		return nil, err
	}

	local, err := s.store.ListFeedEvents(ctx, feed.UserID, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("reading local events: %w", err)
	}

	plan := Reconcile(feed, local, remote, adapter, s.policy, now)

	if err := s.store.Apply(ctx, feed, plan, now); err != nil {
		return nil, fmt.Errorf("applying sync plan: %w", err)
	}

	return &Result{
		FeedID:   feed.ID,
		FeedName: feed.Name,
		UserID:   feed.UserID,
		Adapter:  adapter.Name(),
		Fetched:  len(remote),
		Counts:   plan.Counts,
		SyncedAt: now,
	}, nil
}

// SyncFeeds synchronizes feeds one after the other. A failing feed is
// recorded and the batch moves on; feeds that are not enabled imports or
// are already syncing are skipped.
func (s *SyncService) SyncFeeds(ctx context.Context, feeds []models.Feed) BatchResult {
	batch := BatchResult{StartedAt: s.now().UTC(), Total: len(feeds)}

	for i := range feeds {
		if ctx.Err() != nil {
			batch.Skipped += len(feeds) - i
			break
		}

		feed := &feeds[i]
		result, err := s.SyncFeed(ctx, feed)
		switch {
		case err == nil:
			batch.Succeeded++
			batch.add(result.Counts)
			batch.Results = append(batch.Results, result)
		case errors.Is(err, ErrFeedNotEligible), errors.Is(err, ErrSyncInProgress):
			s.log.Debug("feed skipped", logger.String("feed_id", feed.ID), logger.Error(err))
			batch.Skipped++
		default:
			batch.Failed++
			batch.Failures = append(batch.Failures, FeedFailure{
				FeedID:   feed.ID,
				FeedName: feed.Name,
				Error:    err.Error(),
				Message:  UserMessage(err),
			})
		}
	}

	batch.Duration = s.now().UTC().Sub(batch.StartedAt)
	return batch
}
