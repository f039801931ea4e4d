package caps

import (
	"strconv"
	"strings"

	"github.com/picomail/imapmock/fetch"
	"github.com/picomail/imapmock/search"
	"github.com/picomail/imapmock/server"
	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// Condstore adds the CONDSTORE extension: every message carries a
// modification sequence, folders track the highest one, FETCH grows a
// CHANGEDSINCE modifier and a MODSEQ item, STORE grows UNCHANGEDSINCE,
// and SEARCH grows a MODSEQ key.
func Condstore(s *server.Server) {
	s.RegisterCapability("CONDSTORE", nil)
	s.AllowEnable("CONDSTORE")

	st := s.Store()
	st.MessageHooks = append(st.MessageHooks, func(mbox *store.Mailbox, msg *store.Message) {
		if _, ok := msg.Ext["MODSEQ"]; !ok {
			bumpModSeq(mbox, msg)
		}
	})
	st.Index()

	wrapOpen(s, "SELECT")
	wrapOpen(s, "EXAMINE")
	wrapFetch(s, "FETCH")
	wrapFetch(s, "UID FETCH")
	wrapStore(s, "STORE")
	wrapStore(s, "UID STORE")

	s.FetchRegistry().Register("MODSEQ", func(ctx *fetch.Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return wire.NewList(modSeqNode(msgModSeq(msg))), false, nil
	})

	s.SearchRegistry().Register("MODSEQ", []search.ArgKind{search.ArgValue}, func(ctx *search.Context, msg *store.Message, seq uint32, term *search.Term) (bool, error) {
		n, err := term.Values[0].NumValue()
		if err != nil {
			return false, err
		}
		return msgModSeq(msg) >= n, nil
	})

	s.AddFetchFilter(func(c *server.Conn, cmd *wire.Command, msg *store.Message, seq uint32) bool {
		since, ok := cmd.Ext["CHANGEDSINCE"].(uint64)
		if !ok {
			return true
		}
		return msgModSeq(msg) > since
	})

	s.AddStoreFilter(func(c *server.Conn, cmd *wire.Command, msg *store.Message, seq uint32) bool {
		since, ok := cmd.Ext["UNCHANGEDSINCE"].(uint64)
		if !ok {
			return true
		}
		return msgModSeq(msg) <= since
	})

	s.AddOutputHook(func(c *server.Conn, event string, resp *wire.Resp, data ...interface{}) {
		switch event {
		case "SELECT", "EXAMINE":
			mbox := data[0].(*store.Mailbox)
			c.Untagged(&wire.Resp{Tag: "*", Name: "OK", Attrs: []*wire.Node{
				wire.NewSect(wire.NewAtom("HIGHESTMODSEQ"), modSeqNode(mboxModSeq(mbox))),
				wire.NewText("Highest"),
			}})
		case "STORE COMPLETE":
			mbox := data[0].(*store.Mailbox)
			affected := data[1].([]*store.Message)
			for _, msg := range affected {
				bumpModSeq(mbox, msg)
			}
		}
	})
}

func wrapOpen(s *server.Server, verb string) {
	prev := s.CommandHandler(verb)
	s.SetCommandHandler(verb, func(c *server.Conn, cmd *wire.Command) error {
		// SELECT path (CONDSTORE) also switches the extension on
		if n := len(cmd.Args); n >= 2 && cmd.Args[n-1].Type == wire.List && listHasAtom(cmd.Args[n-1], "CONDSTORE") {
			cmd.Args = cmd.Args[:n-1]
			c.Enabled["CONDSTORE"] = true
		}
		return prev(c, cmd)
	})
}

func wrapFetch(s *server.Server, verb string) {
	prev := s.CommandHandler(verb)
	s.SetCommandHandler(verb, func(c *server.Conn, cmd *wire.Command) error {
		n := len(cmd.Args)
		if n < 3 || cmd.Args[n-1].Type != wire.List {
			return prev(c, cmd)
		}
		mod := cmd.Args[n-1].List
		if len(mod) != 2 || !strings.EqualFold(mod[0].Str(), "CHANGEDSINCE") {
			return prev(c, cmd)
		}
		since, err := mod[1].NumValue()
		if err != nil {
			return server.BadErr("Invalid CHANGEDSINCE modifier")
		}

		cmd.Args = cmd.Args[:n-1]
		if cmd.Ext == nil {
			cmd.Ext = make(map[string]interface{})
		}
		cmd.Ext["CHANGEDSINCE"] = since
		c.Enabled["CONDSTORE"] = true
		ensureFetchItem(cmd, "MODSEQ")
		return prev(c, cmd)
	})
}

func wrapStore(s *server.Server, verb string) {
	prev := s.CommandHandler(verb)
	s.SetCommandHandler(verb, func(c *server.Conn, cmd *wire.Command) error {
		if len(cmd.Args) < 4 || cmd.Args[1].Type != wire.List {
			return prev(c, cmd)
		}
		mod := cmd.Args[1].List
		if len(mod) != 2 || !strings.EqualFold(mod[0].Str(), "UNCHANGEDSINCE") {
			return prev(c, cmd)
		}
		since, err := mod[1].NumValue()
		if err != nil {
			return server.BadErr("Invalid UNCHANGEDSINCE modifier")
		}

		cmd.Args = append(cmd.Args[:1], cmd.Args[2:]...)
		if cmd.Ext == nil {
			cmd.Ext = make(map[string]interface{})
		}
		cmd.Ext["UNCHANGEDSINCE"] = since
		c.Enabled["CONDSTORE"] = true
		return prev(c, cmd)
	})
}

// ensureFetchItem appends an item to the FETCH item argument unless asked
// for already.
func ensureFetchItem(cmd *wire.Command, name string) {
	items := fetch.ExpandItems(cmd.Args[1])
	for _, item := range items {
		if strings.EqualFold(item.Str(), name) {
			return
		}
	}
	items = append(items, wire.NewAtom(name))
	cmd.Args[1] = wire.NewList(items...)
}

func msgModSeq(msg *store.Message) uint64 {
	v, _ := msg.Ext["MODSEQ"].(uint64)
	return v
}

func mboxModSeq(mbox *store.Mailbox) uint64 {
	v, _ := mbox.Ext["HIGHESTMODSEQ"].(uint64)
	return v
}

func bumpModSeq(mbox *store.Mailbox, msg *store.Message) {
	next := mboxModSeq(mbox) + 1
	mbox.Ext["HIGHESTMODSEQ"] = next
	msg.Ext["MODSEQ"] = next
}

// modSeqNode renders a modification sequence, which may exceed the 32-bit
// number node range.
func modSeqNode(v uint64) *wire.Node {
	return wire.NewAtom(strconv.FormatUint(v, 10))
}
