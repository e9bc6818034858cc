package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
)

func TestExportICSRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)
	events := []models.Event{
		{ID: "e1", Title: "Room 12 - Jane Doe", Description: "Late arrival, bring keys", Start: start, End: &end},
		{ID: "e2", Title: "Owner stay", Start: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), AllDay: true},
	}

	var buf bytes.Buffer
	feed := &models.Feed{ID: "f1", Name: "Lisbon flat", Direction: models.DirectionExport}
	if err := ExportICS(&buf, feed, events, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("ExportICS: %v", err)
	}
	if !strings.Contains(buf.String(), "X-WR-CALNAME:Lisbon flat") {
		t.Errorf("calendar name missing:\n%s", buf.String())
	}

	parsed, err := NewParser(logger.Nop()).ParseICS(buf.Bytes(), testWindow)
	if err != nil {
		t.Fatalf("re-parsing export: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("got %d events back, want 2", len(parsed))
	}

	first := parsed[0]
	if first.UID != "e1@booking-manager" || first.Title != events[0].Title || first.Description != events[0].Description {
		t.Errorf("first = %+v", first)
	}
	if !first.Start.Equal(start) || !first.End.Equal(end) {
		t.Errorf("first times = %v..%v", first.Start, first.End)
	}

	second := parsed[1]
	if !second.AllDay || second.End.Sub(second.Start) != models.DefaultSpan {
		t.Errorf("all-day export = %+v", second)
	}
}
