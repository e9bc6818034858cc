package calendar

import (
	"fmt"
	"io"
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/booking-manager/backend/internal/storage/models"
)

const exportProductID = "-//Booking Manager//Calendar Export//EN"

// ExportICS writes events as an iCalendar document for an export feed.
// All-day events are written with DATE values.
func ExportICS(w io.Writer, feed *models.Feed, events []models.Event, now time.Time) error {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, exportProductID)
	if feed.Name != "" {
		cal.Props.SetText("X-WR-CALNAME", feed.Name)
	}

	stamp := now.UTC().Truncate(time.Second)
	for i := range events {
		ev := &events[i]

		vevent := goical.NewEvent()
		vevent.Props.SetText(goical.PropUID, ev.ID+"@booking-manager")
		vevent.Props.SetDateTime(goical.PropDateTimeStamp, stamp)
		if ev.AllDay {
			vevent.Props.SetDate(goical.PropDateTimeStart, ev.Start.UTC())
			vevent.Props.SetDate(goical.PropDateTimeEnd, ev.EffectiveEnd().UTC())
		} else {
			vevent.Props.SetDateTime(goical.PropDateTimeStart, ev.Start.UTC())
			vevent.Props.SetDateTime(goical.PropDateTimeEnd, ev.EffectiveEnd().UTC())
		}
		vevent.Props.SetText(goical.PropSummary, ev.Title)
		if ev.Description != "" {
			vevent.Props.SetText(goical.PropDescription, ev.Description)
		}
		if ev.Source != nil && ev.Source.OriginalData.Location != "" {
			vevent.Props.SetText(goical.PropLocation, ev.Source.OriginalData.Location)
		}

		cal.Children = append(cal.Children, vevent.Component)
	}

	if err := goical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar export: %w", err)
	}
	return nil
}
