// Package calendar fetches remote calendars and reconciles them with local events.
package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage/models"
)

const defaultMaxOccurrences = 1000

var (
	propertyRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propertyDuration     = ical.ComponentProperty("DURATION")
)

// Window is an inclusive time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Parser turns iCalendar documents into remote events.
type Parser struct {
	log            logger.Logger
	maxOccurrences int
}

// NewParser creates a parser that logs skipped entries to log.
func NewParser(log logger.Logger) *Parser {
	return &Parser{log: log, maxOccurrences: defaultMaxOccurrences}
}

// vevent is one VEVENT before recurrence expansion.
type vevent struct {
	models.RemoteEvent
	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
}

// ParseICS parses an iCalendar payload. Recurring series are expanded inside
// window; single events are returned regardless of the window.
func (p *Parser) ParseICS(payload []byte, window Window) ([]models.RemoteEvent, error) {
	if err := validateICalendar(payload); err != nil {
		return nil, err
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(payload))
	if err != nil {
		return nil, &ParseError{Reason: "invalid iCalendar document", Err: err}
	}

	var (
		bases     []vevent
		overrides = make(map[string][]vevent)
	)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			p.log.Warn("skipping malformed calendar entry", logger.Error(err))
			continue
		}
		if ev.recurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	events := make([]models.RemoteEvent, 0, len(bases))
	for _, ev := range bases {
		if ev.rrule == "" {
			if !cancelled(ev.RemoteEvent) {
				events = append(events, ev.RemoteEvent)
			}
			continue
		}

		expanded, err := p.expand(ev, overrides[ev.UID], window)
		if err != nil {
			p.log.Warn("skipping calendar series with invalid RRULE",
				logger.String("uid", ev.UID), logger.Error(err))
			continue
		}
		events = append(events, expanded...)
	}

	return events, nil
}

func validateICalendar(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return &ParseError{Reason: "empty document"}
	}

	head := bytes.ToLower(trimmed[:min(len(trimmed), 512)])
	if bytes.HasPrefix(head, []byte("<")) || bytes.Contains(head, []byte("<html")) {
		return &ParseError{Reason: "received an HTML page instead of a calendar"}
	}
	if !bytes.Contains(trimmed, []byte("BEGIN:VCALENDAR")) {
		return &ParseError{Reason: "missing BEGIN:VCALENDAR"}
	}
	return nil
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, fmt.Errorf("event %s: missing DTSTART", uid)
	}
	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("event %s: invalid DTSTART: %w", uid, err)
	}

	out.AllDay = isDateValue(dtStart)
	if out.AllDay {
		start = floorDay(start)
	}
	out.Start = start

	out.End = out.Start.Add(models.DefaultSpan)
	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		if end, err := ve.GetEndAt(); err == nil {
			if out.AllDay {
				end = floorDay(end)
			}
			if end.After(out.Start) {
				out.End = end
			}
		}
	} else if d, ok := parseDuration(propValue(ve, propertyDuration)); ok && d > 0 {
		out.End = out.Start.Add(d)
	}

	out.Title = unescapeText(propValue(ve, ical.ComponentPropertySummary))
	out.Description = unescapeText(propValue(ve, ical.ComponentPropertyDescription))
	out.Original = models.OriginalData{
		Location:  unescapeText(propValue(ve, ical.ComponentPropertyLocation)),
		Organizer: propValue(ve, ical.ComponentPropertyOrganizer),
		Status:    strings.ToUpper(propValue(ve, ical.ComponentPropertyStatus)),
	}

	out.rrule = propValue(ve, ical.ComponentPropertyRrule)

	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propLocation(prop.ICalParameters, out.Start.Location())
		for _, part := range strings.Split(prop.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), loc); err == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}

	if rid := ve.GetProperty(propertyRecurrenceID); rid != nil && rid.Value != "" {
		t, err := parseICSTime(rid.Value, propLocation(rid.ICalParameters, out.Start.Location()))
		if err != nil {
			return out, fmt.Errorf("event %s: invalid RECURRENCE-ID: %w", uid, err)
		}
		out.recurrenceID = &t
	}

	return out, nil
}

// expand materializes the occurrences of a series inside window. Each
// occurrence gets the stable UID "<uid>/<original start in UTC>".
func (p *Parser) expand(base vevent, overrides []vevent, window Window) ([]models.RemoteEvent, error) {
	rule, err := rrule.StrToRRule(base.rrule)
	if err != nil {
		return nil, err
	}
	rule.DTStart(base.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range base.exdates {
		set.ExDate(ex.In(base.Start.Location()))
	}

	starts := set.Between(window.Start.In(base.Start.Location()), window.End.In(base.Start.Location()), true)
	if len(starts) > p.maxOccurrences {
		p.log.Warn("recurring series truncated",
			logger.String("uid", base.UID), logger.Int("occurrences", len(starts)))
		starts = starts[:p.maxOccurrences]
	}

	duration := base.End.Sub(base.Start)
	out := make([]models.RemoteEvent, 0, len(starts))
	for _, start := range starts {
		occ := base.RemoteEvent
		occ.UID = instanceUID(base.UID, start)
		occ.Start = start
		occ.End = start.Add(duration)

		for _, ov := range overrides {
			if ov.recurrenceID.Equal(start) {
				occ.Title = ov.Title
				occ.Description = ov.Description
				occ.Start = ov.Start
				occ.End = ov.End
				occ.Original = ov.Original
				break
			}
		}

		if !cancelled(occ) {
			out = append(out, occ)
		}
	}

	return out, nil
}

func instanceUID(uid string, start time.Time) string {
	return uid + "/" + start.UTC().Format("20060102T150405Z")
}

func cancelled(ev models.RemoteEvent) bool {
	return ev.Original.Status == "CANCELLED"
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propLocation(params map[string][]string, fallback *time.Location) *time.Location {
	if tz, ok := params["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return fallback
}

func floorDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		t, err := time.Parse("20060102", v)
		return t.UTC(), err
	}
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration reads an RFC 5545 DURATION value such as P1D or PT2H30M.
func parseDuration(v string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(v)
	if m == nil || v == "P" {
		return 0, false
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, false
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, true
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}
