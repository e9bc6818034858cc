package calendar

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/booking-manager/backend/internal/storage/models"
)

// Adapter knows how to talk to one kind of feed provider: how to request the
// feed, how to decode it, and which remote events belong to the feed.
type Adapter interface {
	Name() string
	// SourceType tags the local events created from this adapter.
	SourceType() string
	Request(feed *models.Feed, window Window) (*FetchRequest, error)
	Decode(payload []byte, window Window) ([]models.RemoteEvent, error)
	// InScope reports whether ev belongs to feed. Out-of-scope events are
	// rejected and any local copy of them is removed.
	InScope(feed *models.Feed, ev models.RemoteEvent) bool
}

// Adapters resolves the adapter for a feed.
type Adapters struct {
	byName map[string]Adapter
}

// NewAdapters registers the built-in adapters.
func NewAdapters(parser *Parser) *Adapters {
	a := &Adapters{byName: make(map[string]Adapter)}
	a.Register(&ICalAdapter{parser: parser})
	a.Register(&Beds24ICalAdapter{ICalAdapter{parser: parser}})
	a.Register(&Beds24APIAdapter{log: parser.log})
	return a
}

// Register adds or replaces an adapter under its name.
func (a *Adapters) Register(ad Adapter) {
	a.byName[ad.Name()] = ad
}

// For returns the adapter named by the feed's sync method. Feeds without a
// method are matched on their URL.
func (a *Adapters) For(feed *models.Feed) (Adapter, error) {
	name := feed.SyncMethod
	if name == "" {
		name = detectSyncMethod(feed.URL)
	}

	ad, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("feed %s: unknown sync method %q", feed.ID, name)
	}
	return ad, nil
}

func detectSyncMethod(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil && strings.Contains(strings.ToLower(u.Host), "beds24") {
		if strings.HasPrefix(u.Path, "/v2/") {
			return models.SyncMethodBeds24API
		}
		if roomParam(u) != "" {
			return models.SyncMethodBeds24ICal
		}
	}
	return models.SyncMethodICal
}

// ICalAdapter handles plain iCalendar subscription links.
type ICalAdapter struct {
	parser *Parser
}

func (a *ICalAdapter) Name() string       { return models.SyncMethodICal }
func (a *ICalAdapter) SourceType() string { return models.SourceICal }

// Request fetches the feed URL. A credential is sent as the Authorization header.
func (a *ICalAdapter) Request(feed *models.Feed, _ Window) (*FetchRequest, error) {
	if _, err := url.ParseRequestURI(feed.URL); err != nil {
		return nil, fmt.Errorf("feed %s: invalid URL: %w", feed.ID, err)
	}

	req := &FetchRequest{URL: feed.URL, Header: http.Header{}}
	if feed.Credential != nil && *feed.Credential != "" {
		req.Header.Set("Authorization", *feed.Credential)
	}
	return req, nil
}

func (a *ICalAdapter) Decode(payload []byte, window Window) ([]models.RemoteEvent, error) {
	return a.parser.ParseICS(payload, window)
}

// InScope accepts everything: generic calendars carry no room identity.
func (a *ICalAdapter) InScope(*models.Feed, models.RemoteEvent) bool { return true }

// Beds24ICalAdapter handles Beds24 iCal exports, which are scoped to one room
// through the roomid query parameter.
type Beds24ICalAdapter struct {
	ICalAdapter
}

func (a *Beds24ICalAdapter) Name() string { return models.SyncMethodBeds24ICal }

func (a *Beds24ICalAdapter) InScope(feed *models.Feed, ev models.RemoteEvent) bool {
	return roomInScope(feed.URL, ev.Title)
}

var roomTokenPattern = regexp.MustCompile(`(?i)\broom\s*#?\s*(\d+)\b`)

// roomInScope is false only when both the feed URL and the title name a
// room and the two differ.
func roomInScope(feedURL, title string) bool {
	u, err := url.Parse(feedURL)
	if err != nil {
		return true
	}
	feedRoom := roomParam(u)
	if feedRoom == "" {
		return true
	}

	m := roomTokenPattern.FindStringSubmatch(title)
	if m == nil {
		return true
	}
	return normalizeRoom(m[1]) == feedRoom
}

// roomParam returns the normalized roomid query value, matching the key
// case-insensitively.
func roomParam(u *url.URL) string {
	for k, vs := range u.Query() {
		if strings.EqualFold(k, "roomid") && len(vs) > 0 && vs[0] != "" {
			return normalizeRoom(vs[0])
		}
	}
	return ""
}

func normalizeRoom(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "0")
	if s == "" {
		return "0"
	}
	return s
}
