package store

// Mailbox is one folder in a namespace tree. Messages are kept in a dense
// slice: sequence number i+1 maps to Messages[i].
type Mailbox struct {
	// Path is the full path including the namespace prefix. Maintained by
	// Index, not by hand.
	Path string
	// NamespacePrefix names the namespace this folder belongs to.
	NamespacePrefix string

	// Flags holds the folder attributes (\Noselect, \HasChildren, ...).
	Flags []string
	// Folders holds immediate children keyed by their path segment.
	Folders map[string]*Mailbox
	// Messages is the dense message list in UID order.
	Messages []*Message

	// UIDValidity is assigned by Index and stable for the folder path.
	UIDValidity uint32
	// UIDNext is the next UID to assign. Only ever grows for a path, even
	// across delete and recreate.
	UIDNext uint32

	// PermanentFlags lists the flags clients may store. Flags outside the
	// list are silently dropped unless AllowPermanentFlags is set.
	PermanentFlags []string
	AllowPermanentFlags bool

	// Subscribed marks the folder for LSUB listings.
	Subscribed bool

	// SpecialUse holds role attributes like \Sent or \Junk, advertised
	// when the corresponding capability is active.
	SpecialUse []string

	// Ext holds extension-attached folder fields, e.g. the highest
	// modification sequence.
	Ext map[string]interface{}
}

// HasFlag reports whether the folder carries the attribute.
func (mbox *Mailbox) HasFlag(flag string) bool {
	for _, f := range mbox.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SetFlag adds the attribute if missing.
func (mbox *Mailbox) SetFlag(flag string) {
	if !mbox.HasFlag(flag) {
		mbox.Flags = append(mbox.Flags, flag)
	}
}

// ClearFlag removes the attribute if present.
func (mbox *Mailbox) ClearFlag(flag string) {
	for i, f := range mbox.Flags {
		if f == flag {
			mbox.Flags = append(mbox.Flags[:i], mbox.Flags[i+1:]...)
			return
		}
	}
}

// Selectable reports whether the folder can be opened by SELECT or EXAMINE.
func (mbox *Mailbox) Selectable() bool {
	return !mbox.HasFlag(`\Noselect`) && !mbox.HasFlag(`\NonExistent`)
}

// MaxUID returns the highest UID present, or 0 for an empty folder.
func (mbox *Mailbox) MaxUID() uint32 {
	var max uint32
	for _, msg := range mbox.Messages {
		if msg.UID > max {
			max = msg.UID
		}
	}
	return max
}

// Status is the aggregate view of a folder used by SELECT, EXAMINE and
// STATUS responses.
type Status struct {
	// FlagCounts maps each flag in use to the number of messages carrying
	// it. Flags holds the same keys in first-seen order.
	FlagCounts map[string]int
	Flags      []string

	// PermanentFlags is the folder's permanent flag list extended, in
	// first-seen order, with every flag actually in use.
	PermanentFlags []string

	Seen   int
	Unseen int
}

// GatherStatus walks the folder's messages once and aggregates flag usage
// and seen counts.
func (mbox *Mailbox) GatherStatus() *Status {
	st := &Status{FlagCounts: make(map[string]int)}
	st.PermanentFlags = append(st.PermanentFlags, mbox.PermanentFlags...)

	for _, msg := range mbox.Messages {
		if msg.HasFlag(`\Seen`) {
			st.Seen++
		} else {
			st.Unseen++
		}
		for _, flag := range msg.Flags {
			if _, ok := st.FlagCounts[flag]; !ok {
				st.Flags = append(st.Flags, flag)
			}
			st.FlagCounts[flag]++

			found := false
			for _, pf := range st.PermanentFlags {
				if pf == flag {
					found = true
					break
				}
			}
			if !found {
				st.PermanentFlags = append(st.PermanentFlags, flag)
			}
		}
	}
	return st
}
