// Package audit finds duplicate synchronized events.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
)

// AllUsers selects every owner.
const AllUsers = "all"

// EventStore is the event persistence the auditor needs.
// *storage.EventRepository implements it.
type EventStore interface {
	// ListBySourceType lists events of one source type; an empty userID
	// means every owner.
	ListBySourceType(ctx context.Context, userID, sourceType string) ([]models.Event, error)
	// DeleteMany removes unprotected events in one transaction.
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

// Notifier is told about removals. *websocket.EventBroadcaster implements it.
type Notifier interface {
	BroadcastDuplicatesRemoved(userID string, groups, removed int)
}

// ExactGroup is a set of events sharing owner, title, start and end.
// Keep is the most recently inserted member.
type ExactGroup struct {
	UserID     string         `json:"user_id"`
	Title      string         `json:"title"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Keep       models.Event   `json:"keep"`
	Duplicates []models.Event `json:"duplicates"`
}

// Report summarizes a cleanup.
type Report struct {
	Groups    int          `json:"groups"`
	Removed   int          `json:"removed"`
	Protected int          `json:"protected"`
	Details   []ExactGroup `json:"details"`
}

// SimilarGroup is a cluster of events that look alike. It is advisory only.
type SimilarGroup struct {
	UserID  string         `json:"user_id"`
	Score   float64        `json:"score"`
	Suggest string         `json:"suggested_keep_id"`
	Events  []models.Event `json:"events"`
}

// Auditor detects and removes duplicate synchronized events.
type Auditor struct {
	events   EventStore
	policy   config.DuplicatePolicy
	notifier Notifier
	log      logger.Logger
}

// NewAuditor creates an auditor. notifier may be nil.
func NewAuditor(events EventStore, policy config.DuplicatePolicy, notifier Notifier, log logger.Logger) *Auditor {
	return &Auditor{events: events, policy: policy, notifier: notifier, log: log}
}

func ownerFilter(userID string) string {
	if userID == AllUsers {
		return ""
	}
	return userID
}

type exactKey struct {
	userID string
	title  string
	start  int64
	end    int64
}

// FindExact groups synchronized events by owner, title, start and end and
// returns the groups with more than one member.
func (a *Auditor) FindExact(ctx context.Context, userID string) ([]ExactGroup, error) {
	events, err := a.events.ListBySourceType(ctx, ownerFilter(userID), models.SourceICal)
	if err != nil {
		return nil, fmt.Errorf("listing synchronized events: %w", err)
	}

	buckets := make(map[exactKey][]models.Event)
	var order []exactKey
	for _, ev := range events {
		k := exactKey{
			userID: ev.UserID,
			title:  ev.Title,
			start:  ev.Start.UTC().UnixNano(),
			end:    ev.EffectiveEnd().UTC().UnixNano(),
		}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], ev)
	}

	var groups []ExactGroup
	for _, k := range order {
		members := buckets[k]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Seq > members[j].Seq })

		groups = append(groups, ExactGroup{
			UserID:     k.userID,
			Title:      k.title,
			Start:      time.Unix(0, k.start).UTC(),
			End:        time.Unix(0, k.end).UTC(),
			Keep:       members[0],
			Duplicates: members[1:],
		})
	}

	return groups, nil
}

// RemoveExact deletes every member of each exact group except the keeper.
// CSV-protected members are left in place and counted.
func (a *Auditor) RemoveExact(ctx context.Context, userID string) (*Report, error) {
	groups, err := a.FindExact(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &Report{Groups: len(groups), Details: groups}
	var ids []string
	for _, g := range groups {
		for _, ev := range g.Duplicates {
			if ev.CSVProtected {
				report.Protected++
				continue
			}
			ids = append(ids, ev.ID)
		}
	}

	if len(ids) > 0 {
		removed, err := a.events.DeleteMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("removing duplicates: %w", err)
		}
		report.Removed = removed
	}

	a.log.Info("duplicate events removed",
		logger.String("user_id", userID),
		logger.Int("groups", report.Groups),
		logger.Int("removed", report.Removed),
		logger.Int("protected", report.Protected))

	if a.notifier != nil && report.Removed > 0 {
		a.notifier.BroadcastDuplicatesRemoved(ownerFilter(userID), report.Groups, report.Removed)
	}

	return report, nil
}

// ScanSimilar reports clusters of synchronized events whose weighted
// similarity reaches the policy threshold. Only pairs of the same owner
// starting within MaxStartDelta of each other are compared. Nothing is
// deleted.
func (a *Auditor) ScanSimilar(ctx context.Context, userID string) ([]SimilarGroup, error) {
	events, err := a.events.ListBySourceType(ctx, ownerFilter(userID), models.SourceICal)
	if err != nil {
		return nil, fmt.Errorf("listing synchronized events: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].UserID != events[j].UserID {
			return events[i].UserID < events[j].UserID
		}
		return events[i].Start.Before(events[j].Start)
	})

	sc := newScorer(a.policy.MaxStartDelta)
	sets := newUnionFind(len(events))
	best := make(map[int]float64)

	for i := range events {
		for j := i + 1; j < len(events); j++ {
			if events[j].UserID != events[i].UserID ||
				events[j].Start.Sub(events[i].Start) > a.policy.MaxStartDelta {
				break
			}
			score := sc.Score(&events[i], &events[j])
			if score < a.policy.SimilarityThreshold {
				continue
			}
			sets.union(i, j)
			best[i] = max(best[i], score)
			best[j] = max(best[j], score)
		}
	}

	clusters := make(map[int][]int)
	var roots []int
	for i := range events {
		r := sets.find(i)
		if _, ok := clusters[r]; !ok {
			roots = append(roots, r)
		}
		clusters[r] = append(clusters[r], i)
	}

	var groups []SimilarGroup
	for _, r := range roots {
		idx := clusters[r]
		if len(idx) < 2 {
			continue
		}

		g := SimilarGroup{UserID: events[idx[0]].UserID}
		var keep *models.Event
		for _, i := range idx {
			g.Events = append(g.Events, events[i])
			if keep == nil || events[i].Seq > keep.Seq {
				keep = &events[i]
			}
			g.Score = max(g.Score, best[i])
		}
		g.Suggest = keep.ID
		groups = append(groups, g)
	}

	return groups, nil
}

// unionFind tracks disjoint sets of event indexes.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[rj] = ri
	}
}
