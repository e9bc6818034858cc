package calendar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
)

const beds24DateLayout = "2006-01-02"

// Beds24APIAdapter reads bookings from the Beds24 v2 JSON API. The feed URL is
// the bookings endpoint, typically carrying roomId; the credential is the
// API token.
type Beds24APIAdapter struct {
	log logger.Logger
}

func (a *Beds24APIAdapter) Name() string       { return models.SyncMethodBeds24API }
func (a *Beds24APIAdapter) SourceType() string { return models.SourceBeds24 }

// Request limits the query to bookings overlapping the window.
func (a *Beds24APIAdapter) Request(feed *models.Feed, window Window) (*FetchRequest, error) {
	if feed.Credential == nil || *feed.Credential == "" {
		return nil, fmt.Errorf("feed %s: beds24 API feeds need a token", feed.ID)
	}

	u, err := url.Parse(feed.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("feed %s: invalid URL %q", feed.ID, feed.URL)
	}

	q := u.Query()
	if q.Get("departureFrom") == "" {
		q.Set("departureFrom", window.Start.UTC().Format(beds24DateLayout))
	}
	if q.Get("arrivalTo") == "" {
		q.Set("arrivalTo", window.End.UTC().Format(beds24DateLayout))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("token", *feed.Credential)

	return &FetchRequest{URL: u.String(), Header: header}, nil
}

type beds24Response struct {
	Success *bool             `json:"success"`
	Error   string            `json:"error"`
	Data    []json.RawMessage `json:"data"`
}

type beds24Booking struct {
	ID        json.Number `json:"id"`
	RoomID    json.Number `json:"roomId"`
	Status    string      `json:"status"`
	Arrival   string      `json:"arrival"`
	Departure string      `json:"departure"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Title     string      `json:"title"`
	Notes     string      `json:"notes"`
	Comments  string      `json:"comments"`
	Referer   string      `json:"referer"`
	NumAdult  int         `json:"numAdult"`
	NumChild  int         `json:"numChild"`
}

// Decode turns the bookings payload into remote events. A booking that
// cannot be read is logged and skipped.
func (a *Beds24APIAdapter) Decode(payload []byte, _ Window) ([]models.RemoteEvent, error) {
	var resp beds24Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &ParseError{Reason: "invalid beds24 bookings document", Err: err}
	}
	if resp.Success != nil && !*resp.Success {
		return nil, &ParseError{Reason: "beds24 rejected the request: " + resp.Error}
	}

	events := make([]models.RemoteEvent, 0, len(resp.Data))
	for _, raw := range resp.Data {
		ev, ok, err := decodeBeds24Booking(raw)
		if err != nil {
			a.log.Warn("skipping malformed beds24 booking", logger.Error(err))
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}

	return events, nil
}

// decodeBeds24Booking returns ok=false for cancelled bookings.
func decodeBeds24Booking(raw json.RawMessage) (models.RemoteEvent, bool, error) {
	var b beds24Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return models.RemoteEvent{}, false, err
	}
	if b.ID == "" {
		return models.RemoteEvent{}, false, fmt.Errorf("booking without id")
	}

	status := strings.ToLower(b.Status)
	if status == "cancelled" || status == "canceled" {
		return models.RemoteEvent{}, false, nil
	}

	start, err := time.Parse(beds24DateLayout, b.Arrival)
	if err != nil {
		return models.RemoteEvent{}, false, fmt.Errorf("booking %s: invalid arrival: %w", b.ID, err)
	}
	end := start.Add(models.DefaultSpan)
	if b.Departure != "" {
		d, err := time.Parse(beds24DateLayout, b.Departure)
		if err != nil {
			return models.RemoteEvent{}, false, fmt.Errorf("booking %s: invalid departure: %w", b.ID, err)
		}
		if d.After(start) {
			end = d
		}
	}

	guest := strings.TrimSpace(strings.Join([]string{b.Title, b.FirstName, b.LastName}, " "))
	if guest == "" {
		guest = "Booking " + b.ID.String()
	}
	title := guest
	if room := b.RoomID.String(); room != "" {
		title = "Room " + room + " - " + guest
	}

	var notes []string
	for _, s := range []string{b.Notes, b.Comments} {
		if s = strings.TrimSpace(s); s != "" {
			notes = append(notes, s)
		}
	}
	if guests := b.NumAdult + b.NumChild; guests > 0 {
		notes = append(notes, "Guests: "+strconv.Itoa(guests))
	}

	return models.RemoteEvent{
		UID:         "beds24-" + b.ID.String(),
		Title:       title,
		Description: strings.Join(notes, "\n"),
		Start:       start,
		End:         end,
		AllDay:      true,
		Original: models.OriginalData{
			Location:  b.Referer,
			Organizer: "beds24",
			Status:    strings.ToUpper(status),
		},
	}, true, nil
}

// InScope applies the same room check as the iCal export.
func (a *Beds24APIAdapter) InScope(feed *models.Feed, ev models.RemoteEvent) bool {
	return roomInScope(feed.URL, ev.Title)
}
