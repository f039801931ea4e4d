package store

import (
	"fmt"
	"strings"
)

// FlagsMode selects how a flag mutation combines with the existing set.
type FlagsMode int

const (
	// SetFlags replaces the flag set.
	SetFlags FlagsMode = iota
	// AddFlags unions the given flags into the set.
	AddFlags
	// RemoveFlags subtracts the given flags from the set.
	RemoveFlags
)

// ApplyFlags mutates a message's flag set. Backslash-prefixed flags must be
// known system flags or the whole mutation is rejected. Flags outside the
// folder's permanent list are silently dropped on set and add unless the
// folder allows arbitrary permanent flags; removal is never filtered.
// Returns whether the flag set changed.
func (s *Store) ApplyFlags(mbox *Mailbox, msg *Message, mode FlagsMode, flags []string) (bool, error) {
	if err := s.checkSystemFlags(flags); err != nil {
		return false, err
	}

	switch mode {
	case SetFlags:
		kept := make([]string, 0, len(flags))
		for _, flag := range dedupeFlags(flags) {
			if s.permanentFlag(mbox, flag) {
				kept = append(kept, flag)
			}
		}
		if flagsEqual(msg.Flags, kept) {
			msg.Flags = kept
			return false, nil
		}
		msg.Flags = kept
		return true, nil

	case AddFlags:
		changed := false
		for _, flag := range flags {
			if msg.HasFlag(flag) || !s.permanentFlag(mbox, flag) {
				continue
			}
			msg.Flags = append(msg.Flags, flag)
			changed = true
		}
		return changed, nil

	case RemoveFlags:
		changed := false
		for _, flag := range flags {
			for i, existing := range msg.Flags {
				if existing == flag {
					msg.Flags = append(msg.Flags[:i], msg.Flags[i+1:]...)
					changed = true
					break
				}
			}
		}
		return changed, nil
	}
	return false, fmt.Errorf("unknown flags mode %d", mode)
}

// ValidateFlags rejects backslash-prefixed flags outside the configured
// system flag set.
func (s *Store) ValidateFlags(flags []string) error {
	return s.checkSystemFlags(flags)
}

func (s *Store) checkSystemFlags(flags []string) error {
	for _, flag := range flags {
		if !strings.HasPrefix(flag, `\`) {
			continue
		}
		known := false
		for _, sys := range s.SystemFlags {
			if sys == flag {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("invalid system flag %s", flag)
		}
	}
	return nil
}

func (s *Store) permanentFlag(mbox *Mailbox, flag string) bool {
	if mbox.AllowPermanentFlags {
		return true
	}
	for _, pf := range mbox.PermanentFlags {
		if pf == flag {
			return true
		}
	}
	return false
}

func flagsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
