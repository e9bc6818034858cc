package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
	"github.com/booking-manager/backend/internal/websocket"
)

// BatchNotifier receives batch summaries. *websocket.EventBroadcaster
// implements it.
type BatchNotifier interface {
	BroadcastBatchCompleted(payload websocket.BatchPayload)
}

// Stats describes the unattended runs so far.
type Stats struct {
	Schedule     string        `json:"schedule"`
	Running      bool          `json:"running"`
	Runs         int           `json:"runs"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastTotal    int           `json:"last_total"`
	LastFailed   int           `json:"last_failed"`
	NextRunAt    *time.Time    `json:"next_run_at,omitempty"`
}

// Scheduler runs every enabled import feed on a cron schedule and serves
// on-demand runs. Overlapping scheduled runs are skipped.
type Scheduler struct {
	cron     *cron.Cron
	spec     string
	entryID  cron.EntryID
	service  *SyncService
	store    Store
	notifier BatchNotifier
	log      logger.Logger

	mu      sync.Mutex
	started bool
	baseCtx context.Context
	cancel  context.CancelFunc
	stats   Stats
}

// NewScheduler creates a scheduler for spec, a cron expression with
// optional seconds field or a descriptor such as "@every 1m".
// notifier may be nil.
func NewScheduler(service *SyncService, store Store, spec string, notifier BatchNotifier, log logger.Logger) *Scheduler {
	cl := cronLogger{log: log.With(logger.String("component", "cron"))}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:     spec,
		service:  service,
		store:    store,
		notifier: notifier,
		log:      log,
		stats:    Stats{Schedule: spec},
	}
}

// Start registers the unattended job and starts the cron loop. Runs use a
// context derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}

	id, err := s.cron.AddFunc(s.spec, s.runScheduled)
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", s.spec, err)
	}
	s.entryID = id
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true

	s.cron.Start()
	s.log.Info("feed sync scheduler started", logger.String("schedule", s.spec))

	return nil
}

// Stop cancels an in-flight run and waits for it to return. The job is
// unregistered, so a later Start schedules it exactly once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	entryID := s.entryID
	s.mu.Unlock()

	s.log.Info("stopping feed sync scheduler")
	cancel()
	<-s.cron.Stop().Done()
	s.cron.Remove(entryID)
	s.log.Info("feed sync scheduler stopped")
}

func (s *Scheduler) runScheduled() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.stats.Running = true
	s.mu.Unlock()

	batch, err := s.RunAll(ctx)

	s.mu.Lock()
	now := batch.StartedAt
	s.stats.Running = false
	s.stats.Runs++
	s.stats.LastRunAt = &now
	s.stats.LastDuration = batch.Duration
	s.stats.LastTotal = batch.Total
	s.stats.LastFailed = batch.Failed
	s.mu.Unlock()

	if err != nil {
		s.log.Error("scheduled feed sync failed", logger.Error(err))
		return
	}
	s.notifyBatch("schedule", batch)
}

// RunAll synchronizes every enabled import feed, one at a time.
func (s *Scheduler) RunAll(ctx context.Context) (BatchResult, error) {
	started := time.Now().UTC()
	feeds, err := s.store.ListEnabledImportFeeds(ctx)
	if err != nil {
		return BatchResult{StartedAt: started}, fmt.Errorf("listing feeds: %w", err)
	}

	batch := s.service.SyncFeeds(ctx, feeds)
	s.log.Info("feed sync batch finished",
		logger.Int("feeds", batch.Total),
		logger.Int("succeeded", batch.Succeeded),
		logger.Int("failed", batch.Failed),
		logger.Int("skipped", batch.Skipped),
		logger.Int("created", batch.Counts.Created),
		logger.Int("updated", batch.Counts.Updated),
		logger.Int("deleted", batch.Counts.Deleted),
		logger.Duration("duration", batch.Duration))

	return batch, nil
}

// SyncUser synchronizes the enabled import feeds of one user on the
// caller's context.
func (s *Scheduler) SyncUser(ctx context.Context, userID string) (BatchResult, error) {
	all, err := s.store.ListFeedsForUser(ctx, userID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing feeds of user %s: %w", userID, err)
	}

	feeds := make([]models.Feed, 0, len(all))
	for _, f := range all {
		if f.Importable() {
			feeds = append(feeds, f)
		}
	}

	batch := s.service.SyncFeeds(ctx, feeds)
	s.notifyBatch("manual", batch)
	return batch, nil
}

// SyncFeed synchronizes one feed on the caller's context.
func (s *Scheduler) SyncFeed(ctx context.Context, feedID string) (*Result, error) {
	return s.service.SyncFeedByID(ctx, feedID)
}

// NextRun returns the next unattended run, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// Stats returns a snapshot of the unattended run statistics.
func (s *Scheduler) Stats() Stats {
	next := s.NextRun()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.NextRunAt = next
	return st
}

func (s *Scheduler) notifyBatch(trigger string, batch BatchResult) {
	if s.notifier == nil {
		return
	}
	s.notifier.BroadcastBatchCompleted(websocket.BatchPayload{
		Trigger:   trigger,
		Total:     batch.Total,
		Succeeded: batch.Succeeded,
		Failed:    batch.Failed,
		Skipped:   batch.Skipped,
		NextRunAt: s.NextRun(),
	})
}

// cronLogger routes cron's own messages to the service logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, logger.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, logger.Error(err), logger.Any("details", keysAndValues))
}
