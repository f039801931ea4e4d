package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore() *Store {
	s := New()
	ref := s.Reference()
	ref.Folders["INBOX"] = &Mailbox{
		Messages: []*Message{
			{UID: 500, Raw: []byte("a")},
			{UID: 600, Raw: []byte("b")},
			{UID: 601, Raw: []byte("c")},
			{UID: 602, Raw: []byte("d")},
		},
	}
	ref.Folders["Work"] = &Mailbox{
		Folders: map[string]*Mailbox{
			"Reports": {},
		},
	}
	s.Index()
	return s
}

func TestIndexNormalizes(t *testing.T) {
	s := testStore()

	inbox := s.Resolve("INBOX")
	require.NotNil(t, inbox)
	assert.Equal(t, "INBOX", inbox.Path)
	assert.Equal(t, uint32(603), inbox.UIDNext)
	assert.NotZero(t, inbox.UIDValidity)

	work := s.Resolve("Work")
	require.NotNil(t, work)
	assert.True(t, work.HasFlag(`\HasChildren`))
	assert.False(t, work.HasFlag(`\HasNoChildren`))

	reports := s.Resolve("Work/Reports")
	require.NotNil(t, reports)
	assert.True(t, reports.HasFlag(`\HasNoChildren`))
	assert.Equal(t, uint32(1), reports.UIDNext)
}

func TestResolveInboxCaseInsensitive(t *testing.T) {
	s := testStore()
	assert.Same(t, s.Resolve("INBOX"), s.Resolve("inbox"))
	assert.Same(t, s.Resolve("INBOX"), s.Resolve("Inbox"))
	assert.Nil(t, s.Resolve("work")) // only INBOX folds case
}

func TestIndexIsIdempotent(t *testing.T) {
	s := testStore()
	inbox := s.Resolve("INBOX")
	validity := inbox.UIDValidity
	next := inbox.UIDNext

	s.Index()
	s.Index()
	assert.Equal(t, validity, inbox.UIDValidity)
	assert.Equal(t, next, inbox.UIDNext)
}

func TestAppendAssignsMonotonicUIDs(t *testing.T) {
	s := testStore()
	inbox := s.Resolve("INBOX")

	m1 := s.Append(inbox, []string{`\Seen`}, "", []byte("x"))
	m2 := s.Append(inbox, nil, "", []byte("y"))
	assert.Equal(t, uint32(603), m1.UID)
	assert.Equal(t, uint32(604), m2.UID)
	assert.Equal(t, uint32(605), inbox.UIDNext)
	assert.NotEmpty(t, m2.InternalDate)
}

func TestDeletedFolderPoisonsUIDs(t *testing.T) {
	s := testStore()
	_, err := s.CreateFolder("Archive")
	require.NoError(t, err)

	archive := s.Resolve("Archive")
	s.Append(archive, nil, "", []byte("one"))
	s.Append(archive, nil, "", []byte("two"))
	next := archive.UIDNext
	validity := archive.UIDValidity

	require.NoError(t, s.DeleteFolder("Archive"))
	assert.Nil(t, s.Resolve("Archive"))

	_, err = s.CreateFolder("Archive")
	require.NoError(t, err)
	recreated := s.Resolve("Archive")
	require.NotNil(t, recreated)
	assert.Equal(t, next, recreated.UIDNext)
	assert.Equal(t, validity, recreated.UIDValidity)

	msg := s.Append(recreated, nil, "", []byte("three"))
	assert.Equal(t, next, msg.UID)
}

func TestCreateFolderIntermediates(t *testing.T) {
	s := testStore()
	_, err := s.CreateFolder("Projects/2026/Q3")
	require.NoError(t, err)
	assert.NotNil(t, s.Resolve("Projects"))
	assert.NotNil(t, s.Resolve("Projects/2026"))
	assert.NotNil(t, s.Resolve("Projects/2026/Q3"))
	assert.True(t, s.Resolve("Projects").HasFlag(`\HasChildren`))

	_, err = s.CreateFolder("Projects/2026/Q3")
	assert.Error(t, err)
	_, err = s.CreateFolder("inbox")
	assert.Error(t, err)
}

func TestRenameFolder(t *testing.T) {
	s := testStore()
	_, err := s.CreateFolder("Drafts")
	require.NoError(t, err)
	drafts := s.Resolve("Drafts")
	s.Append(drafts, nil, "", []byte("wip"))

	require.NoError(t, s.RenameFolder("Drafts", "Sketches"))
	assert.Nil(t, s.Resolve("Drafts"))
	moved := s.Resolve("Sketches")
	require.NotNil(t, moved)
	assert.Len(t, moved.Messages, 1)

	assert.Error(t, s.RenameFolder("INBOX", "Elsewhere"))
	assert.Error(t, s.RenameFolder("Nope", "Elsewhere"))
}

func TestMatchFolders(t *testing.T) {
	s := testStore()
	_, err := s.CreateFolder("Work/Reports/2026")
	require.NoError(t, err)

	paths := func(mboxes []*Mailbox) []string {
		var out []string
		for _, mbox := range mboxes {
			out = append(out, mbox.Path)
		}
		return out
	}

	all := paths(s.MatchFolders("", "*"))
	assert.Contains(t, all, "INBOX")
	assert.Contains(t, all, "Work")
	assert.Contains(t, all, "Work/Reports/2026")

	top := paths(s.MatchFolders("", "%"))
	assert.Contains(t, top, "INBOX")
	assert.Contains(t, top, "Work")
	assert.NotContains(t, top, "Work/Reports")

	sub := paths(s.MatchFolders("", "Work/%"))
	assert.Equal(t, []string{"Work/Reports"}, sub)

	inbox := paths(s.MatchFolders("", "inbox"))
	assert.Equal(t, []string{"INBOX"}, inbox)
}

func TestRangeBySequence(t *testing.T) {
	s := testStore()
	msgs := s.Resolve("INBOX").Messages

	got := Range(msgs, "2:3", false)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].Seq)
	assert.Equal(t, uint32(600), got[0].Msg.UID)

	got = Range(msgs, "*", false)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(4), got[0].Seq)

	// Reversed bounds normalize, comma tokens union without duplicates.
	got = Range(msgs, "3:1,2", false)
	assert.Len(t, got, 3)
}

func TestRangeByUID(t *testing.T) {
	s := testStore()
	msgs := s.Resolve("INBOX").Messages

	got := Range(msgs, "600:*", true)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(600), got[0].Msg.UID)
	assert.Equal(t, uint32(602), got[2].Msg.UID)

	// UIDs absent from the folder simply match nothing.
	assert.Empty(t, Range(msgs, "510:599", true))

	got = Range(msgs, "500", true)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(1), got[0].Seq)
}

func TestApplyFlags(t *testing.T) {
	s := testStore()
	inbox := s.Resolve("INBOX")
	msg := inbox.Messages[0]

	changed, err := s.ApplyFlags(inbox, msg, AddFlags, []string{`\Seen`, "custom"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, msg.HasFlag(`\Seen`))
	// Not in the permanent list, silently dropped.
	assert.False(t, msg.HasFlag("custom"))

	changed, err = s.ApplyFlags(inbox, msg, AddFlags, []string{`\Seen`})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.ApplyFlags(inbox, msg, SetFlags, []string{`\Flagged`})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{`\Flagged`}, msg.Flags)

	changed, err = s.ApplyFlags(inbox, msg, RemoveFlags, []string{`\Flagged`})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, msg.Flags)

	_, err = s.ApplyFlags(inbox, msg, AddFlags, []string{`\Bogus`})
	assert.Error(t, err)
}

func TestApplyFlagsAllowPermanent(t *testing.T) {
	s := testStore()
	inbox := s.Resolve("INBOX")
	inbox.AllowPermanentFlags = true
	msg := inbox.Messages[0]

	changed, err := s.ApplyFlags(inbox, msg, AddFlags, []string{"$Label1"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, msg.HasFlag("$Label1"))
}

func TestExpungeDeleted(t *testing.T) {
	s := testStore()
	inbox := s.Resolve("INBOX")
	inbox.Messages[0].Flags = []string{`\Deleted`}
	inbox.Messages[2].Flags = []string{`\Deleted`}

	removed, snapshot := s.ExpungeDeleted(inbox)
	// Sequence numbers are relative to the state at each removal.
	assert.Equal(t, []uint32{1, 2}, removed)
	require.Len(t, snapshot, 2)
	assert.Equal(t, uint32(600), snapshot[0].UID)
	assert.Equal(t, uint32(602), snapshot[1].UID)
	assert.Len(t, inbox.Messages, 2)
}

func TestGatherStatus(t *testing.T) {
	s := testStore()
	inbox := s.Resolve("INBOX")
	inbox.Messages[0].Flags = []string{`\Seen`}
	inbox.Messages[1].Flags = []string{`\Seen`, `\Flagged`}

	st := inbox.GatherStatus()
	assert.Equal(t, 2, st.Seen)
	assert.Equal(t, 2, st.Unseen)
	assert.Equal(t, 2, st.FlagCounts[`\Seen`])
	assert.Equal(t, 1, st.FlagCounts[`\Flagged`])
	assert.Contains(t, st.PermanentFlags, `\Flagged`)
}
