package server_test

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/picomail/imapmock/server"
	"github.com/picomail/imapmock/store"
)

const (
	msgSeenRaw   = "From: alice@example.org\r\nTo: bob@example.org\r\nSubject: first\r\n\r\nfirst body\r\n"
	msgUnseenRaw = "From: carol@example.org\r\nTo: bob@example.org\r\nSubject: second\r\n\r\nsecond body\r\n"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	st := store.New()
	st.Reference().Folders = map[string]*store.Mailbox{
		"INBOX": {
			UIDValidity: 42,
			Messages: []*store.Message{
				{UID: 1, Flags: []string{`\Seen`}, InternalDate: "14-Sep-2013 21:22:28 -0300", Raw: []byte(msgSeenRaw)},
				{UID: 2, InternalDate: "15-Sep-2013 09:00:00 -0300", Raw: []byte(msgUnseenRaw)},
			},
		},
		"Archive": {},
	}
	s := server.New(server.Options{
		Store:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Users:  []server.User{{Username: "testuser", Password: "demo"}},
	})
	t.Cleanup(func() { s.Close() })
	return s
}

// script drives one connection through a request/response exchange.
type script struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *server.Server) *script {
	t.Helper()
	client, srv := net.Pipe()
	go s.NewConn(srv)
	sc := &script{t: t, conn: client, r: bufio.NewReader(client)}
	t.Cleanup(func() { client.Close() })
	sc.expect("* OK Test server ready")
	return sc
}

func (sc *script) write(data string) {
	sc.t.Helper()
	sc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := sc.conn.Write([]byte(data))
	require.NoError(sc.t, err)
}

func (sc *script) send(line string) {
	sc.write(line + "\r\n")
}

func (sc *script) line() string {
	sc.t.Helper()
	sc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := sc.r.ReadString('\n')
	require.NoError(sc.t, err)
	return strings.TrimRight(line, "\r\n")
}

func (sc *script) expect(want string) {
	sc.t.Helper()
	require.Equal(sc.t, want, sc.line())
}

// until reads lines until one starts with the prefix and returns it.
func (sc *script) until(prefix string) string {
	sc.t.Helper()
	for {
		l := sc.line()
		if strings.HasPrefix(l, prefix) {
			return l
		}
	}
}

func (sc *script) login() {
	sc.t.Helper()
	sc.send("t0 LOGIN testuser demo")
	sc.expect("t0 OK User logged in")
}

func (sc *script) selectInbox() {
	sc.t.Helper()
	sc.login()
	sc.send("t1 SELECT INBOX")
	sc.until("t1 ")
}

func TestCapability(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.send("A1 CAPABILITY")
	sc.expect("* CAPABILITY IMAP4rev1")
	sc.expect("A1 OK Capability completed")
}

func TestLogin(t *testing.T) {
	sc := dial(t, newTestServer(t))

	sc.send("A1 LOGIN testuser wrong")
	sc.expect("A1 NO Login failed: authentication failure")

	sc.send("A2 LOGIN testuser demo")
	sc.expect("A2 OK User logged in")

	sc.send("A3 LOGIN testuser demo")
	sc.expect("A3 NO Already logged in")
}

func TestLoginWithSynchronizingLiteral(t *testing.T) {
	sc := dial(t, newTestServer(t))

	sc.send("A1 LOGIN testuser {4}")
	sc.expect("+ Go ahead")
	sc.send("demo")
	sc.expect("A1 OK User logged in")
}

func TestLoginLiteralSplitAcrossWrites(t *testing.T) {
	sc := dial(t, newTestServer(t))

	sc.write("A1 LOGIN te")
	sc.write("stuser {4}\r\n")
	sc.expect("+ Go ahead")
	sc.write("de")
	sc.write("mo\r\n")
	sc.expect("A1 OK User logged in")
}

func TestNonSynchronizingLiteral(t *testing.T) {
	sc := dial(t, newTestServer(t))

	sc.write("A1 LOGIN testuser {4+}\r\ndemo\r\n")
	sc.expect("A1 OK User logged in")
}

func TestSelectResponses(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.login()

	sc.send("A1 SELECT INBOX")
	sc.expect(`* FLAGS (\Seen)`)
	sc.expect(`* OK [PERMANENTFLAGS (\Answered \Flagged \Draft \Deleted \Seen)] Flags permitted`)
	sc.expect("* 2 EXISTS")
	sc.expect("* 0 RECENT")
	sc.expect("* OK [UIDVALIDITY 42] UIDs valid")
	sc.expect("* OK [UIDNEXT 3] Predicted next UID")
	sc.expect("* OK [UNSEEN 2] First unseen")
	sc.expect("A1 OK [READ-WRITE] SELECT completed")
}

func TestSelectUnknownMailbox(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.login()
	sc.send("A1 SELECT nosuch")
	sc.expect("A1 NO Invalid mailbox name")
}

func TestExamineIsReadOnly(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.login()

	sc.send("A1 EXAMINE INBOX")
	require.Equal(t, "A1 OK [READ-ONLY] EXAMINE completed", sc.until("A1 "))

	sc.send("A2 STORE 1 +FLAGS (\\Deleted)")
	sc.expect("A2 NO Mailbox is in read only mode")
}

func TestFetchFlagsAndUID(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()

	sc.send("A1 FETCH 1:2 (UID FLAGS)")
	sc.expect(`* 1 FETCH (UID 1 FLAGS (\Seen))`)
	sc.expect("* 2 FETCH (UID 2 FLAGS ())")
	sc.expect("A1 OK FETCH completed")

	sc.send("A2 UID FETCH 2 (FLAGS)")
	sc.expect("* 2 FETCH (FLAGS () UID 2)")
	sc.expect("A2 OK FETCH completed")
}

func TestFetchUnknownItem(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()
	sc.send("A1 FETCH 1 (WAT)")
	sc.expect("A1 BAD invalid fetch argument: WAT")
}

func TestStoreAndSearch(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()

	sc.send("A1 SEARCH UNSEEN")
	sc.expect("* SEARCH 2")
	sc.expect("A1 OK SEARCH completed")

	sc.send("A2 STORE 2 +FLAGS (\\Seen)")
	sc.expect(`* 2 FETCH (FLAGS (\Seen))`)
	sc.expect("A2 OK STORE completed")

	sc.send("A3 SEARCH UNSEEN")
	sc.expect("* SEARCH")
	sc.expect("A3 OK SEARCH completed")

	sc.send("A4 STORE 2 -FLAGS.SILENT (\\Seen)")
	sc.expect("A4 OK STORE completed")

	sc.send("A5 UID SEARCH UNSEEN")
	sc.expect("* SEARCH 2")
	sc.expect("A5 OK SEARCH completed")
}

func TestSearchInvalidKey(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()
	sc.send("A1 SEARCH WAT")
	sc.expect("A1 NO invalid query element: WAT (Failure)")
}

func TestExpunge(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()

	sc.send("A1 STORE 1 +FLAGS.SILENT (\\Deleted)")
	sc.expect("A1 OK STORE completed")

	sc.send("A2 EXPUNGE")
	sc.expect("* 1 EXPUNGE")
	sc.expect("A2 OK EXPUNGE completed")

	sc.send("A3 FETCH 1 (UID)")
	sc.expect("* 1 FETCH (UID 2)")
	sc.expect("A3 OK FETCH completed")
}

func TestExpungeNotifiesOtherSession(t *testing.T) {
	s := newTestServer(t)
	a := dial(t, s)
	a.selectInbox()
	b := dial(t, s)
	b.selectInbox()

	a.send("A1 STORE 1 +FLAGS.SILENT (\\Deleted)")
	a.until("A1 ")
	a.send("A2 EXPUNGE")
	a.expect("* 1 EXPUNGE")
	a.expect("A2 OK EXPUNGE completed")

	// The other session must not mutate flags while removal notices are
	// still queued.
	b.send("B1 STORE 1 +FLAGS (\\Answered)")
	b.expect("B1 NO Pending EXPUNGE messages, can not store")

	// A NOOP delivers the queued updates before its completion, oldest
	// first: the flag change, the removal, the new message count.
	b.send("B2 NOOP")
	b.expect(`* 1 FETCH (FLAGS (\Deleted))`)
	b.expect("* 1 EXPUNGE")
	b.expect("* 1 EXISTS")
	b.expect("B2 OK NOOP completed")

	b.send("B3 STORE 1 +FLAGS (\\Answered)")
	b.expect(`* 1 FETCH (FLAGS (\Answered))`)
	b.expect("B3 OK STORE completed")
}

func TestAppendNotifiesBeforeCompletion(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()

	raw := "Subject: third\r\n\r\nthird body\r\n"
	sc.write("A1 APPEND INBOX (\\Flagged) {" + strconv.Itoa(len(raw)) + "}\r\n")
	sc.expect("+ Go ahead")
	sc.write(raw + "\r\n")
	sc.expect("* 3 EXISTS")
	sc.expect("A1 OK APPEND completed")

	sc.send("A2 FETCH 3 (UID FLAGS)")
	sc.expect(`* 3 FETCH (UID 3 FLAGS (\Flagged))`)
	sc.expect("A2 OK FETCH completed")
}

func TestCopy(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()

	sc.send("A1 COPY 1:2 Archive")
	sc.expect("A1 OK COPY completed")

	sc.send("A2 STATUS Archive (MESSAGES UIDNEXT)")
	sc.expect(`* STATUS "Archive" (MESSAGES 2 UIDNEXT 3)`)
	sc.expect("A2 OK STATUS completed")
}

func TestListAndCreate(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.login()

	sc.send(`A1 LIST "" "*"`)
	sc.expect(`* LIST (\HasNoChildren) "/" "Archive"`)
	sc.expect(`* LIST (\HasNoChildren) "/" "INBOX"`)
	sc.expect("A1 OK LIST completed")

	sc.send(`A2 LIST "" ""`)
	sc.expect(`* LIST (\Noselect) "/" ""`)
	sc.expect("A2 OK LIST completed")

	sc.send("A3 CREATE Archive/2024")
	sc.expect("A3 OK CREATE completed")

	sc.send(`A4 LIST "" "Archive*"`)
	sc.expect(`* LIST (\HasChildren) "/" "Archive"`)
	sc.expect(`* LIST (\HasNoChildren) "/" "Archive/2024"`)
	sc.expect("A4 OK LIST completed")

	sc.send("A5 DELETE Archive")
	sc.expect("A5 NO mailbox has children")

	sc.send("A6 DELETE Archive/2024")
	sc.expect("A6 OK DELETE completed")

	sc.send("A7 RENAME Archive Stash")
	sc.expect("A7 OK RENAME completed")

	sc.send(`A8 LIST "" "Stash"`)
	sc.expect(`* LIST (\HasNoChildren) "/" "Stash"`)
	sc.expect("A8 OK LIST completed")
}

func TestListEncodesInternationalNames(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.login()

	sc.send("A1 CREATE Entw&APw-rfe")
	sc.expect("A1 OK CREATE completed")

	sc.send(`A2 LIST "" "Entw*"`)
	sc.expect(`* LIST (\HasNoChildren) "/" "Entw&APw-rfe"`)
	sc.expect("A2 OK LIST completed")
}

func TestStatusUnknownItem(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.login()
	sc.send("A1 STATUS INBOX (MESSAGES WAT)")
	sc.expect("A1 BAD Invalid status element: WAT")
}

func TestUnknownCommand(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.send("A1 WAT")
	sc.expect("A1 BAD Unknown command: WAT")
}

func TestParseError(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.send(`A1 LOGIN "unterminated`)
	sc.expect("A1 BAD unterminated quoted string")
}

func TestCommandsRequireState(t *testing.T) {
	sc := dial(t, newTestServer(t))

	sc.send("A1 SELECT INBOX")
	sc.expect("A1 NO Login first")

	sc.login()
	sc.send("A2 FETCH 1 (UID)")
	sc.expect("A2 NO Select mailbox first")
}

func TestClose(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.selectInbox()

	sc.send("A1 STORE 1 +FLAGS.SILENT (\\Deleted)")
	sc.until("A1 ")

	// CLOSE expunges without sending removal notices.
	sc.send("A2 CLOSE")
	sc.expect("A2 OK CLOSE completed")

	sc.send("A3 SELECT INBOX")
	require.Equal(t, "A3 OK [READ-WRITE] SELECT completed", sc.until("A3 "))
	sc.send("A4 FETCH 1 (UID)")
	sc.expect("* 1 FETCH (UID 2)")
	sc.expect("A4 OK FETCH completed")
}

func TestLogout(t *testing.T) {
	sc := dial(t, newTestServer(t))
	sc.send("A1 LOGOUT")
	sc.expect("* BYE LOGOUT received")
	sc.expect("A1 OK LOGOUT completed")

	sc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := sc.r.ReadString('\n')
	require.Error(t, err)
}
