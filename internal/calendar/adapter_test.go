package calendar

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
)

func testAdapters() *Adapters {
	return NewAdapters(NewParser(logger.New("error", false)))
}

func strPtr(s string) *string { return &s }

func TestAdaptersFor(t *testing.T) {
	tests := []struct {
		name   string
		feed   models.Feed
		expect string
	}{
		{"explicit method", models.Feed{SyncMethod: models.SyncMethodBeds24ICal, URL: "https://example.com/a.ics"}, models.SyncMethodBeds24ICal},
		{"plain url", models.Feed{URL: "https://calendar.example.com/a.ics"}, models.SyncMethodICal},
		{"beds24 ical", models.Feed{URL: "https://www.beds24.com/ical/bookings.ics?roomid=12&token=x"}, models.SyncMethodBeds24ICal},
		{"beds24 api", models.Feed{URL: "https://api.beds24.com/v2/bookings?roomId=12"}, models.SyncMethodBeds24API},
		{"beds24 without room", models.Feed{URL: "https://www.beds24.com/ical/bookings.ics"}, models.SyncMethodICal},
	}

	adapters := testAdapters()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad, err := adapters.For(&tt.feed)
			if err != nil {
				t.Fatalf("For: %v", err)
			}
			if ad.Name() != tt.expect {
				t.Fatalf("adapter = %s, want %s", ad.Name(), tt.expect)
			}
		})
	}

	if _, err := adapters.For(&models.Feed{SyncMethod: "caldav"}); err == nil {
		t.Fatal("unknown sync method should fail")
	}
}

func TestRoomInScope(t *testing.T) {
	const feedURL = "https://www.beds24.com/ical/bookings.ics?RoomId=012"

	tests := []struct {
		title string
		want  bool
	}{
		{"Room 12 - Jane Doe", true},
		{"room #12 Jane", true},
		{"Room 7 - Jane Doe", false},
		{"Bedroom 7", true},
		{"Jane Doe", true},
	}
	for _, tt := range tests {
		if got := roomInScope(feedURL, tt.title); got != tt.want {
			t.Errorf("roomInScope(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}

	if !roomInScope("https://example.com/cal.ics", "Room 7 - Jane Doe") {
		t.Error("feeds without a room should accept every title")
	}
}

func TestICalAdapterRequest(t *testing.T) {
	ad := &ICalAdapter{}
	req, err := ad.Request(&models.Feed{ID: "f1", URL: "https://example.com/a.ics", Credential: strPtr("Bearer abc")}, testWindow)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.URL != "https://example.com/a.ics" || req.Header.Get("Authorization") != "Bearer abc" {
		t.Fatalf("request = %+v", req)
	}

	if _, err := ad.Request(&models.Feed{ID: "f2", URL: "not a url"}, testWindow); err == nil {
		t.Fatal("invalid URL should fail")
	}
}

func TestBeds24APIRequest(t *testing.T) {
	ad := &Beds24APIAdapter{log: logger.Nop()}
	feed := &models.Feed{ID: "f1", URL: "https://api.beds24.com/v2/bookings?roomId=12", Credential: strPtr("tok")}

	req, err := ad.Request(feed, testWindow)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("roomId") != "12" || q.Get("departureFrom") != "2026-01-01" || q.Get("arrivalTo") != "2026-12-31" {
		t.Fatalf("query = %v", q)
	}
	if req.Header.Get("token") != "tok" || req.Header.Get("Accept") != "application/json" {
		t.Fatalf("headers = %v", req.Header)
	}

	feed.Credential = nil
	if _, err := ad.Request(feed, testWindow); err == nil {
		t.Fatal("missing token should fail")
	}
}

func TestBeds24APIDecode(t *testing.T) {
	payload := []byte(`{"success":true,"data":[
		{"id":101,"roomId":12,"status":"confirmed","arrival":"2026-03-10","departure":"2026-03-13",
		 "firstName":"Jane","lastName":"Doe","notes":"Late check-in","numAdult":2},
		{"id":102,"roomId":12,"status":"cancelled","arrival":"2026-03-20","departure":"2026-03-22"},
		{"id":103,"roomId":12,"arrival":"not-a-date"},
		{"id":104,"roomId":12,"arrival":"2026-04-01"}
	]}`)

	ad := &Beds24APIAdapter{log: logger.Nop()}
	events, err := ad.Decode(payload, testWindow)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}

	first := events[0]
	if first.UID != "beds24-101" || first.Title != "Room 12 - Jane Doe" {
		t.Fatalf("first = %+v", first)
	}
	if first.Description != "Late check-in\nGuests: 2" {
		t.Errorf("description = %q", first.Description)
	}
	if !first.Start.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) ||
		!first.End.Equal(time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("times = %v..%v", first.Start, first.End)
	}

	if got := events[1].End.Sub(events[1].Start); got != models.DefaultSpan {
		t.Errorf("missing departure span = %v", got)
	}
	if events[1].Title != "Room 12 - Booking 104" {
		t.Errorf("anonymous title = %q", events[1].Title)
	}
}

func TestBeds24APIDecodeRejectsDocument(t *testing.T) {
	ad := &Beds24APIAdapter{log: logger.Nop()}

	for _, body := range []string{"<html></html>", `{"success":false,"error":"token expired"}`} {
		_, err := ad.Decode([]byte(body), testWindow)
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("Decode(%q) err = %v, want ParseError", body, err)
		}
	}
}
