package server

import (
	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/utf7"
	"github.com/picomail/imapmock/wire"
)

func registerBaseCommands(s *Server) {
	s.SetCommandHandler("CAPABILITY", handleCapability)
	s.SetCommandHandler("NOOP", handleNoop)
	s.SetCommandHandler("LOGOUT", handleLogout)

	s.SetCommandHandler("LOGIN", handleLogin)
	s.SetCommandHandler("AUTHENTICATE", handleAuthenticate)

	s.SetCommandHandler("SELECT", handleSelect)
	s.SetCommandHandler("EXAMINE", handleExamine)
	s.SetCommandHandler("LIST", handleList)
	s.SetCommandHandler("LSUB", handleLsub)
	s.SetCommandHandler("SUBSCRIBE", handleSubscribe)
	s.SetCommandHandler("UNSUBSCRIBE", handleUnsubscribe)
	s.SetCommandHandler("CREATE", handleCreate)
	s.SetCommandHandler("DELETE", handleDelete)
	s.SetCommandHandler("RENAME", handleRename)
	s.SetCommandHandler("STATUS", handleStatus)
	s.SetCommandHandler("APPEND", handleAppend)
	s.SetCommandHandler("NAMESPACE", handleNamespace)

	s.SetCommandHandler("CHECK", handleCheck)
	s.SetCommandHandler("CLOSE", handleClose)
	s.SetCommandHandler("EXPUNGE", handleExpunge)
	s.SetCommandHandler("FETCH", handleFetch(false))
	s.SetCommandHandler("UID FETCH", handleFetch(true))
	s.SetCommandHandler("STORE", handleStore(false))
	s.SetCommandHandler("UID STORE", handleStore(true))
	s.SetCommandHandler("SEARCH", handleSearch(false))
	s.SetCommandHandler("UID SEARCH", handleSearch(true))
	s.SetCommandHandler("COPY", handleCopy(false))
	s.SetCommandHandler("UID COPY", handleCopy(true))
}

func handleCapability(c *Conn, cmd *wire.Command) error {
	attrs := []*wire.Node{}
	for _, name := range c.server.CapabilityList(c) {
		attrs = append(attrs, wire.NewAtom(name))
	}
	c.Untagged(&wire.Resp{Tag: "*", Name: "CAPABILITY", Attrs: attrs})
	c.OK(cmd, "Capability completed")
	return nil
}

func handleNoop(c *Conn, cmd *wire.Command) error {
	c.OK(cmd, "NOOP completed")
	return nil
}

func handleLogout(c *Conn, cmd *wire.Command) error {
	c.Untagged(&wire.Resp{Tag: "*", Name: "BYE", Attrs: []*wire.Node{wire.NewText("LOGOUT received")}})
	c.OK(cmd, "LOGOUT completed")
	c.State = imapmock.LogoutState
	c.Close()
	return nil
}

func requireAuth(c *Conn) error {
	if c.State != imapmock.AuthenticatedState && c.State != imapmock.SelectedState {
		return NoErr("Login first")
	}
	return nil
}

func requireSelected(c *Conn) error {
	if c.State != imapmock.SelectedState || c.Selected == nil {
		return NoErr("Select mailbox first")
	}
	return nil
}

func requireArgs(cmd *wire.Command, n int) error {
	if len(cmd.Args) < n {
		return BadErr("Not enough arguments for %s", cmd.Name)
	}
	return nil
}

// mailboxName decodes a client-supplied mailbox name from modified UTF-7.
// Names that fail to decode are used verbatim so that a stray '&' in a
// folder name does not make it unaddressable.
func mailboxName(arg *wire.Node) string {
	name := arg.Str()
	decoded, err := utf7.Decode(name)
	if err != nil {
		return name
	}
	return decoded
}

func existsNotice(n int) *wire.Resp {
	return &wire.Resp{Tag: "*", Attrs: []*wire.Node{wire.NewNumber(uint32(n)), wire.NewAtom("EXISTS")}}
}

func expungeNotice(seq uint32) *wire.Resp {
	return &wire.Resp{Tag: "*", Attrs: []*wire.Node{wire.NewNumber(seq), wire.NewAtom("EXPUNGE")}}
}

func fetchResp(seq uint32, attrs ...*wire.Node) *wire.Resp {
	return &wire.Resp{Tag: "*", Attrs: []*wire.Node{
		wire.NewNumber(seq),
		wire.NewAtom("FETCH"),
		wire.NewList(attrs...),
	}}
}

// respCode builds a bracketed response code node, e.g. [UIDNEXT 4].
func respCode(nodes ...*wire.Node) *wire.Node {
	return wire.NewSect(nodes...)
}
