package caps

import (
	"strings"
	"time"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/server"
	"github.com/picomail/imapmock/wire"
)

// idleTimeout bounds an IDLE wait; the connection is dropped after it.
const idleTimeout = 30 * time.Minute

// Idle adds the IDLE capability: the session parks, receives updates the
// moment they happen, and resumes on DONE.
func Idle(s *server.Server) {
	s.RegisterCapability("IDLE", nil)
	s.SetCommandHandler("IDLE", func(c *server.Conn, cmd *wire.Command) error {
		if c.State != imapmock.AuthenticatedState && c.State != imapmock.SelectedState {
			return server.NoErr("Login first")
		}

		c.SendContinuation("idling")
		c.SetDirectNotices(true)
		defer c.SetDirectNotices(false)

		line, err := c.ReadContinuation(idleTimeout)
		if err == server.ErrConnClosed {
			return nil
		}
		if err != nil {
			c.Bye("IDLE terminated")
			return nil
		}
		if !strings.EqualFold(strings.TrimSpace(string(line)), "DONE") {
			return server.BadErr("Invalid IDLE continuation data")
		}
		c.OK(cmd, "IDLE terminated")
		return nil
	})
}

// Unselect adds the UNSELECT capability: leave the selected state without
// the implicit expunge of CLOSE.
func Unselect(s *server.Server) {
	s.RegisterCapability("UNSELECT", nil)
	s.SetCommandHandler("UNSELECT", func(c *server.Conn, cmd *wire.Command) error {
		if c.State != imapmock.SelectedState {
			return server.NoErr("Select mailbox first")
		}
		c.Selected = nil
		c.State = imapmock.AuthenticatedState
		c.OK(cmd, "UNSELECT completed")
		return nil
	})
}

// EnableCmd adds the ENABLE capability. Plugins mark their tokens as
// enablable; everything else is silently ignored per the extension rules.
func EnableCmd(s *server.Server) {
	s.RegisterCapability("ENABLE", nil)
	s.SetCommandHandler("ENABLE", func(c *server.Conn, cmd *wire.Command) error {
		if c.State != imapmock.AuthenticatedState && c.State != imapmock.SelectedState {
			return server.NoErr("Login first")
		}

		attrs := []*wire.Node{}
		for _, arg := range cmd.Args {
			name := strings.ToUpper(arg.Str())
			if !c.Server().Enablable(name) {
				continue
			}
			c.Enabled[name] = true
			attrs = append(attrs, wire.NewAtom(name))
		}
		c.Untagged(&wire.Resp{Tag: "*", Name: "ENABLED", Attrs: attrs})
		c.OK(cmd, "ENABLE completed")
		return nil
	})
}

// SaslIR advertises initial-response support; the AUTHENTICATE command
// accepts the extra argument regardless.
func SaslIR(s *server.Server) {
	s.RegisterCapability("SASL-IR", preAuth)
}

// LiteralPlus advertises non-synchronizing literals; the framer consumes
// {n+} markers without a continuation round trip regardless.
func LiteralPlus(s *server.Server) {
	s.RegisterCapability("LITERAL+", nil)
}
