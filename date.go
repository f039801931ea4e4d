package imapmock

import (
	"fmt"
	"strings"
	"time"
)

// Date and time layouts.
const (
	// Described in RFC 3501 on page 83.
	DateLayout = "2-Jan-2006"
	// INTERNALDATE, described in RFC 3501 on page 84. The day of month is
	// padded with a zero, the way servers render it on the wire.
	DateTimeLayout = "02-Jan-2006 15:04:05 -0700"
	// Described in RFC 5322 section 3.3.
	MessageDateTimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"
)

// Permutations of the layouts defined in RFC 5322, section 3.3.
var messageDateTimeLayouts = [...]string{
	MessageDateTimeLayout, // popular, try it first
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04 -0700",
	"2 Jan 2006 15:04 MST",
	"02 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 -0700 (MST)",
	"02 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 02 Jan 2006 15:04 -0700",
	"Mon, 02 Jan 2006 15:04 MST",
}

// ParseMessageDateTime parses a date based on the layouts defined in
// RFC 5322, section 3.3.
func ParseMessageDateTime(maybeDate string) (time.Time, error) {
	maybeDate = strings.TrimSpace(maybeDate)
	for _, layout := range messageDateTimeLayouts {
		parsed, err := time.Parse(layout, maybeDate)
		if err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %s could not be parsed", maybeDate)
}

// ParseDateTime parses an IMAP INTERNALDATE string.
func ParseDateTime(maybeDate string) (time.Time, error) {
	maybeDate = strings.TrimSpace(maybeDate)
	for _, layout := range []string{DateTimeLayout, "2-Jan-2006 15:04:05 -0700"} {
		parsed, err := time.Parse(layout, maybeDate)
		if err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %s could not be parsed", maybeDate)
}

// ParseDate parses an IMAP date, e.g. a SEARCH BEFORE operand.
func ParseDate(maybeDate string) (time.Time, error) {
	maybeDate = strings.TrimSpace(maybeDate)
	for _, layout := range []string{DateLayout, "02-Jan-2006"} {
		parsed, err := time.Parse(layout, maybeDate)
		if err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %s could not be parsed", maybeDate)
}

// FormatDateTime renders t as an INTERNALDATE string.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// ValidInternalDate reports whether s is a well-formed INTERNALDATE string,
// used to validate the optional APPEND date argument.
func ValidInternalDate(s string) bool {
	_, err := ParseDateTime(s)
	return err == nil
}
