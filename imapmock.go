// Package imapmock provides shared protocol vocabulary for the in-memory
// IMAP server emulation: connection states, system flags and date handling.
package imapmock

// ConnState describes the state of an IMAP connection.
type ConnState int

const (
	// In the not authenticated state, the client must supply authentication
	// credentials before most commands will be permitted.
	NotAuthenticatedState ConnState = iota
	// In the authenticated state, the client is authenticated and must select
	// a mailbox to access before commands that affect messages will be
	// permitted.
	AuthenticatedState
	// In a selected state, a mailbox has been selected to access.
	SelectedState
	// In the logout state, the connection is being terminated.
	LogoutState
)

// String returns the human-readable name of the state used in logs.
func (s ConnState) String() string {
	switch s {
	case NotAuthenticatedState:
		return "Not Authenticated"
	case AuthenticatedState:
		return "Authenticated"
	case SelectedState:
		return "Selected"
	case LogoutState:
		return "Logout"
	}
	return "Unknown"
}

// System message flags, defined in RFC 3501 section 2.3.2.
const (
	SeenFlag     = "\\Seen"
	AnsweredFlag = "\\Answered"
	FlaggedFlag  = "\\Flagged"
	DeletedFlag  = "\\Deleted"
	DraftFlag    = "\\Draft"
	RecentFlag   = "\\Recent"
)

// DefaultSystemFlags is the flag allow-list used when the server is not
// configured with its own. \Recent is deliberately absent: it is session
// metadata, not a flag clients may STORE.
func DefaultSystemFlags() []string {
	return []string{AnsweredFlag, FlaggedFlag, DraftFlag, DeletedFlag, SeenFlag}
}

// Mailbox attribute flags reported by LIST.
const (
	NoSelectAttr      = "\\Noselect"
	NonExistentAttr   = "\\NonExistent"
	HasChildrenAttr   = "\\HasChildren"
	HasNoChildrenAttr = "\\HasNoChildren"
)

// STATUS items accepted by the base server. Extensions may register more.
const (
	StatusMessages    = "MESSAGES"
	StatusRecent      = "RECENT"
	StatusUIDNext     = "UIDNEXT"
	StatusUIDValidity = "UIDVALIDITY"
	StatusUnseen      = "UNSEEN"
)
