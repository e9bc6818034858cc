// Package sanitize strips personal contact data from remote free text before
// it is stored.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	emailMask = "[email removed]"
	phoneMask = "[phone removed]"
)

var (
	emailPattern = regexp.MustCompile(`(?i)(mailto:)?[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

	// Runs of digits and separators that might be a phone number. isPhone
	// decides on each candidate.
	phoneCandidate = regexp.MustCompile(`(?:\+|\()?\d[\d\s().\-/]*\d`)

	// Dates with a four digit year, ISO or day first.
	datePattern = regexp.MustCompile(`\b(?:19|20)\d{2}-\d{1,2}-\d{1,2}\b|\b\d{1,2}[./-]\d{1,2}[./-](?:19|20)\d{2}\b`)

	// Amounts written with thousands separators, such as 1 250 000.
	amountPattern = regexp.MustCompile(`^\d{1,3}(?:[ .]\d{3})+$`)

	digitGroups = regexp.MustCompile(`\d+`)

	blankRuns = regexp.MustCompile(`[ \t]{2,}`)
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// Description masks emails and phone numbers in a remote description and
// trims the result. Dates, times, amounts and bare reference numbers are
// kept. It is idempotent.
func Description(text string) string {
	if text == "" {
		return ""
	}

	out := emailPattern.ReplaceAllString(text, emailMask)
	out = maskPhones(out)
	out = blankRuns.ReplaceAllString(out, " ")

	return strings.TrimSpace(out)
}

func maskPhones(text string) string {
	matches := phoneCandidate.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		// A colon right after the run means a clock time such as 14:00.
		if end < len(text) && text[end] == ':' {
			continue
		}
		if !isPhone(text[start:end]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(phoneMask)
		last = end
	}
	b.WriteString(text[last:])

	return b.String()
}

// isPhone accepts a candidate carrying an international prefix, or a local
// number split into several digit groups. Single long numbers are treated
// as booking references.
func isPhone(s string) bool {
	if datePattern.MatchString(s) || amountPattern.MatchString(s) {
		return false
	}

	groups := digitGroups.FindAllString(s, -1)
	digits := 0
	for _, g := range groups {
		digits += len(g)
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return false
	}

	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "00") {
		return true
	}
	return len(groups) >= 2
}
