package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

func atoms(toks ...string) []*wire.Node {
	var out []*wire.Node
	for _, tok := range toks {
		out = append(out, wire.NewAtom(tok))
	}
	return out
}

func testContext() *Context {
	raw := func(from, subject, body, date string) []byte {
		return []byte(strings.Join([]string{
			"From: " + from,
			"To: rcpt@example.com",
			"Date: " + date,
			"Subject: " + subject,
			"",
			body,
		}, "\r\n"))
	}
	msgs := []*store.Message{
		{
			UID: 11, Flags: []string{`\Seen`},
			InternalDate: "10-Mar-2026 12:00:00 +0000",
			Raw:          raw("alice@example.com", "status report", "all quiet", "Tue, 10 Mar 2026 11:00:00 +0000"),
		},
		{
			UID: 12, Flags: []string{`\Flagged`},
			InternalDate: "14-Mar-2026 12:00:00 +0000",
			Raw:          raw("bob@example.com", "lunch plans", "burgers again", "Sat, 14 Mar 2026 11:00:00 +0000"),
		},
		{
			UID: 15, Flags: []string{},
			InternalDate: "20-Mar-2026 12:00:00 +0000",
			Raw:          raw("alice@example.com", "re: lunch plans", "fine, burgers", "Fri, 20 Mar 2026 11:00:00 +0000"),
		},
	}
	return &Context{Messages: msgs}
}

func uids(got []store.Ranged) []uint32 {
	var out []uint32
	for _, g := range got {
		out = append(out, g.Msg.UID)
	}
	return out
}

func TestComposeArity(t *testing.T) {
	r := NewRegistry()

	q, err := r.Compose(atoms("UNSEEN", "FROM", "alice"))
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, "UNSEEN", q[0].Key)
	assert.Equal(t, "FROM", q[1].Key)
	assert.Equal(t, "alice", q[1].Values[0].Str())

	q, err = r.Compose(atoms("OR", "SEEN", "NOT", "FLAGGED"))
	require.NoError(t, err)
	require.Len(t, q, 1)
	require.Len(t, q[0].Sub, 2)
	assert.Equal(t, "NOT", q[0].Sub[1].Key)

	_, err = r.Compose(atoms("BOGUSKEY"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid query element: BOGUSKEY")

	_, err = r.Compose(atoms("HEADER", "Subject"))
	assert.Error(t, err)
}

func TestComposeSequenceFallback(t *testing.T) {
	r := NewRegistry()
	q, err := r.Compose(atoms("1:3,5", "UNSEEN"))
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, "_SEQ", q[0].Key)
}

func TestComposeCharsetIgnored(t *testing.T) {
	r := NewRegistry()
	q, err := r.Compose(atoms("CHARSET", "UTF-8", "SUBJECT", "lunch"))
	require.NoError(t, err)
	require.Len(t, q, 1)
	assert.Equal(t, "SUBJECT", q[0].Key)
}

func TestEvaluateConjunction(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("FROM", "alice", "UNSEEN"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{15}, uids(got))
}

func TestEvaluateOrAndNot(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("OR", "SEEN", "FLAGGED"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{11, 12}, uids(got))

	q, err = r.Compose(atoms("NOT", "FROM", "alice"))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12}, uids(got))
}

func TestEvaluateTextAndBody(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("BODY", "BURGERS"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 15}, uids(got))

	// TEXT also scans headers.
	q, err = r.Compose(atoms("TEXT", "rcpt@example.com"))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestEvaluateHeader(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("HEADER", "Subject", "lunch"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 15}, uids(got))

	// Empty value tests for field presence only.
	q, err = r.Compose(atoms("HEADER", "To", ""))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	q, err = r.Compose(atoms("HEADER", "X-Missing", ""))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluateDates(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("SINCE", "14-Mar-2026"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 15}, uids(got))

	q, err = r.Compose(atoms("SENTON", "10-Mar-2026"))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{11}, uids(got))

	q, err = r.Compose(atoms("BEFORE", "14-Mar-2026"))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{11}, uids(got))
}

func TestEvaluateUIDAndSeq(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("UID", "12:*"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 15}, uids(got))

	q, err = r.Compose(atoms("2"))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12}, uids(got))
}

func TestEvaluateSize(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	q, err := r.Compose(atoms("LARGER", "1"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	q, err = r.Compose(atoms("SMALLER", "1"))
	require.NoError(t, err)
	got, err = r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegisterExtensionKey(t *testing.T) {
	r := NewRegistry()
	ctx := testContext()

	r.Register("MODSEQ", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return msg.UID >= 12, nil
	})

	q, err := r.Compose(atoms("MODSEQ", "1"))
	require.NoError(t, err)
	got, err := r.Evaluate(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint32{12, 15}, uids(got))
}
