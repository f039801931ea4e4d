package search

import (
	"time"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/store"
)

// Date keys compare calendar days only, ignoring the time of day and zone.

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func internalDay(msg *store.Message) (time.Time, bool) {
	t, err := imapmock.ParseDateTime(msg.InternalDate)
	if err != nil {
		return time.Time{}, false
	}
	return day(t), true
}

func sentDay(msg *store.Message) (time.Time, bool) {
	mh := msg.Parsed().Mail()
	if t, err := mh.Date(); err == nil && !t.IsZero() {
		return day(t), true
	}
	return internalDay(msg)
}

func dayBefore(msgDay, want time.Time) bool    { return msgDay.Before(want) }
func daySame(msgDay, want time.Time) bool      { return msgDay.Equal(want) }
func dayOnOrAfter(msgDay, want time.Time) bool { return !msgDay.Before(want) }

func dateKey(extract func(*store.Message) (time.Time, bool), cmp func(time.Time, time.Time) bool) HandlerFunc {
	return func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		want, err := imapmock.ParseDate(term.Values[0].Str())
		if err != nil {
			return false, err
		}
		msgDay, ok := extract(msg)
		if !ok {
			return false, nil
		}
		return cmp(msgDay, day(want)), nil
	}
}
