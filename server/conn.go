package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// ErrConnClosed is returned by continuation reads on a dead connection.
var ErrConnClosed = errors.New("connection closed")

// Conn is one client session. Fields are accessed under the server's
// execution lock unless noted otherwise.
type Conn struct {
	ID     string
	server *Server
	conn   net.Conn
	logger *slog.Logger

	State imapmock.ConnState
	User  string

	// Selected and ReadOnly describe the open folder, if any.
	Selected *store.Mailbox
	ReadOnly bool

	// Enabled holds capabilities switched on by ENABLE.
	Enabled map[string]bool
	// Ext holds per-session extension state.
	Ext map[string]interface{}

	sendMu sync.Mutex

	// framer state, owned by the read goroutine
	buf              []byte
	current          []byte
	literalRemaining int

	frames chan []byte

	overrideMu sync.Mutex
	override   chan []byte

	noticeMu       sync.Mutex
	notices        []*Notice
	direct         bool
	pendingExpunge bool

	closeOnce sync.Once
	closed    chan struct{}
}

// matches a literal announcement at the end of a command line
var literalRe = regexp.MustCompile(`\{(\d+)(\+)?\}$`)

// NewConn wires a network connection into the server and starts its read
// and execution goroutines.
func (s *Server) NewConn(conn net.Conn) *Conn {
	c := &Conn{
		ID:      uuid.NewString(),
		server:  s,
		conn:    conn,
		logger:  s.logger.With("conn", conn.RemoteAddr().String()),
		State:   imapmock.NotAuthenticatedState,
		Enabled: make(map[string]bool),
		Ext:     make(map[string]interface{}),
		frames:  make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
	s.addConn(c)

	s.mu.Lock()
	for _, hook := range s.connHooks {
		hook(c)
	}
	s.mu.Unlock()

	c.send(&wire.Resp{Tag: "*", Name: "OK", Attrs: []*wire.Node{wire.NewText(s.greeting)}})

	go c.readLoop()
	go c.execLoop()
	return c
}

// Server returns the owning server.
func (c *Conn) Server() *Server { return c.server }

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		c.server.removeConn(c)
		c.State = imapmock.LogoutState
	})
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	defer c.Close()

	chunk := make([]byte, 4096)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.feed(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// feed runs the framer over newly received bytes. A command frame is one
// line plus, for each literal announced at a line's end, the literal's
// bytes and the line that follows, however the delivery was split.
func (c *Conn) feed(chunk []byte) {
	c.buf = append(c.buf, chunk...)
	for {
		if c.literalRemaining > 0 {
			n := c.literalRemaining
			if n > len(c.buf) {
				n = len(c.buf)
			}
			c.current = append(c.current, c.buf[:n]...)
			c.buf = c.buf[n:]
			c.literalRemaining -= n
			if c.literalRemaining > 0 {
				return
			}
		}

		idx := bytes.IndexByte(c.buf, '\n')
		if idx < 0 {
			return
		}
		line := c.buf[:idx]
		c.buf = c.buf[idx+1:]
		line = bytes.TrimSuffix(line, []byte("\r"))

		if m := literalRe.FindSubmatch(line); m != nil {
			size, err := strconv.Atoi(string(m[1]))
			if err == nil {
				c.current = append(c.current, line...)
				c.current = append(c.current, '\r', '\n')
				c.literalRemaining = size
				if len(m[2]) == 0 {
					c.send(&wire.Resp{Tag: "+", Attrs: []*wire.Node{wire.NewText("Go ahead")}})
				}
				continue
			}
		}

		frame := append(c.current, line...)
		c.current = nil
		c.deliver(frame)
	}
}

func (c *Conn) deliver(frame []byte) {
	c.overrideMu.Lock()
	override := c.override
	c.override = nil
	c.overrideMu.Unlock()

	if override != nil {
		override <- frame
		return
	}
	select {
	case c.frames <- frame:
	case <-c.closed:
	}
}

func (c *Conn) execLoop() {
	for frame := range c.frames {
		c.handleFrame(frame)
		if c.State == imapmock.LogoutState {
			break
		}
	}
	c.Close()
}

func (c *Conn) handleFrame(frame []byte) {
	cmd, err := wire.ParseCommand(frame)
	if err != nil {
		if c.server.metrics != nil {
			c.server.metrics.ParseErrors.Inc()
		}
		c.logger.Debug("parse error", "err", err)
		c.send(wire.Bad(wire.Tag(frame), err.Error()))
		return
	}

	c.logger.Debug("command", "tag", cmd.Tag, "verb", cmd.Name)
	if c.server.metrics != nil {
		c.server.metrics.Commands.WithLabelValues(cmd.Name).Inc()
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := s.commands[cmd.Name]
	if fn == nil {
		c.Tagged(cmd, wire.Bad(cmd.Tag, "Unknown command: "+cmd.Name))
		return
	}
	if err := fn(c, cmd); err != nil {
		var status *StatusErr
		if errors.As(err, &status) && status.Status == "BAD" {
			c.Tagged(cmd, wire.Bad(cmd.Tag, status.Text))
			return
		}
		c.Tagged(cmd, wire.No(cmd.Tag, err.Error()))
	}
}

// send writes one response. Safe from any goroutine.
func (c *Conn) send(resp *wire.Resp) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.Write(resp.Compile())
}

// Untagged sends an untagged response immediately.
func (c *Conn) Untagged(resp *wire.Resp) {
	c.send(resp)
}

// Tagged completes a command. Queued notices are flushed first, unless the
// command is one whose execution pinned a snapshot of the folder (FETCH,
// STORE and SEARCH keep their view until completion).
func (c *Conn) Tagged(cmd *wire.Command, resp *wire.Resp) {
	if !retainsNotices(cmd.Name) {
		c.FlushNotices()
	}
	c.send(resp)
}

// OK completes a command with a tagged OK.
func (c *Conn) OK(cmd *wire.Command, text string) {
	c.Tagged(cmd, wire.OK(cmd.Tag, text))
}

func retainsNotices(verb string) bool {
	switch verb {
	case "FETCH", "STORE", "SEARCH", "UID FETCH", "UID STORE", "UID SEARCH":
		return true
	}
	return false
}

// RunOutputHooks lets extensions observe or amend a response at a named
// emission point before it is sent.
func (c *Conn) RunOutputHooks(event string, resp *wire.Resp, data ...interface{}) {
	for _, hook := range c.server.outputHooks {
		hook(c, event, resp, data...)
	}
}

func (c *Conn) queueNotice(n *Notice) {
	c.noticeMu.Lock()
	direct := c.direct
	if !direct {
		c.notices = append(c.notices, n)
		if n.Expunge {
			c.pendingExpunge = true
		}
	}
	c.noticeMu.Unlock()
	if direct {
		c.send(n.Resp)
	}
}

// FlushNotices sends all queued untagged updates in arrival order.
func (c *Conn) FlushNotices() {
	c.noticeMu.Lock()
	notices := c.notices
	c.notices = nil
	c.pendingExpunge = false
	c.noticeMu.Unlock()
	for _, n := range notices {
		c.send(n.Resp)
	}
}

// resetNotices drops queued updates. Selecting a folder invalidates
// anything queued for the previous one.
func (c *Conn) resetNotices() {
	c.noticeMu.Lock()
	c.notices = nil
	c.pendingExpunge = false
	c.noticeMu.Unlock()
}

// SetDirectNotices toggles immediate delivery of updates, flushing the
// queue when switching on. IDLE uses this.
func (c *Conn) SetDirectNotices(direct bool) {
	c.noticeMu.Lock()
	c.direct = direct
	c.noticeMu.Unlock()
	if direct {
		c.FlushNotices()
	}
}

// PendingExpunge reports whether an expunge notice is queued but not yet
// delivered. STORE refuses to run in that window.
func (c *Conn) PendingExpunge() bool {
	c.noticeMu.Lock()
	defer c.noticeMu.Unlock()
	return c.pendingExpunge
}

// SessionMessages returns the message list commands must run against: the
// snapshot attached to the oldest undelivered expunge run, or the live
// folder content.
func (c *Conn) SessionMessages() []*store.Message {
	c.noticeMu.Lock()
	defer c.noticeMu.Unlock()
	for _, n := range c.notices {
		if n.Snapshot != nil {
			return n.Snapshot
		}
	}
	if c.Selected == nil {
		return nil
	}
	return c.Selected.Messages
}

// SendContinuation sends a "+" continuation request with the given text.
func (c *Conn) SendContinuation(text string) {
	c.send(&wire.Resp{Tag: "+", Attrs: []*wire.Node{wire.NewText(text)}})
}

// ReadContinuation suspends the running handler until the client sends
// another line, releasing the execution lock while parked. A zero timeout
// waits indefinitely.
func (c *Conn) ReadContinuation(timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)
	c.overrideMu.Lock()
	c.override = ch
	c.overrideMu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	c.server.mu.Unlock()
	defer c.server.mu.Lock()

	select {
	case line := <-ch:
		return line, nil
	case <-timer:
		c.overrideMu.Lock()
		c.override = nil
		c.overrideMu.Unlock()
		return nil, fmt.Errorf("continuation timeout")
	case <-c.closed:
		return nil, ErrConnClosed
	}
}

// Bye sends an untagged BYE and closes the connection.
func (c *Conn) Bye(text string) {
	c.send(&wire.Resp{Tag: "*", Name: "BYE", Attrs: []*wire.Node{wire.NewText(text)}})
	c.Close()
}
