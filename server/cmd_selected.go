package server

import (
	"strings"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/fetch"
	"github.com/picomail/imapmock/search"
	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

func handleCheck(c *Conn, cmd *wire.Command) error {
	if err := requireSelected(c); err != nil {
		return err
	}
	c.OK(cmd, "CHECK completed")
	return nil
}

func handleClose(c *Conn, cmd *wire.Command) error {
	if err := requireSelected(c); err != nil {
		return err
	}
	if !c.ReadOnly {
		c.expunge(true)
	}
	c.Selected = nil
	c.State = imapmock.AuthenticatedState
	c.resetNotices()
	c.OK(cmd, "CLOSE completed")
	return nil
}

func handleExpunge(c *Conn, cmd *wire.Command) error {
	if err := requireSelected(c); err != nil {
		return err
	}
	if c.ReadOnly {
		return NoErr("Mailbox is in read only mode")
	}
	c.expunge(false)
	c.OK(cmd, "EXPUNGE completed")
	return nil
}

// expunge removes \Deleted messages from the selected folder, sends the
// removals to this session unless silent, and queues them for every other
// session with the folder open.
func (c *Conn) expunge(silent bool) {
	mbox := c.Selected
	removed, snapshot := c.server.store.ExpungeDeleted(mbox)
	if len(removed) == 0 {
		return
	}

	if !silent {
		for _, seq := range removed {
			c.Untagged(expungeNotice(seq))
		}
	}

	notices := make([]*Notice, 0, len(removed)+1)
	for _, seq := range removed {
		notices = append(notices, &Notice{Resp: expungeNotice(seq), Expunge: true})
	}
	notices = append(notices, &Notice{Resp: existsNotice(len(snapshot)), Snapshot: snapshot})
	c.server.Notify(mbox, c, notices...)
}

func handleFetch(byUID bool) HandlerFunc {
	return func(c *Conn, cmd *wire.Command) error {
		if err := requireSelected(c); err != nil {
			return err
		}
		if err := requireArgs(cmd, 2); err != nil {
			return err
		}

		msgs := c.SessionMessages()
		items := fetch.ExpandItems(cmd.Args[1])
		ctx := &fetch.Context{
			Store:    c.server.store,
			Mailbox:  c.Selected,
			Messages: msgs,
			ReadOnly: c.ReadOnly,
			ByUID:    byUID,
			Session:  c,
		}

	ranged:
		for _, got := range store.Range(msgs, cmd.Args[0].Str(), byUID) {
			for _, filter := range c.server.fetchFilters {
				if !filter(c, cmd, got.Msg, got.Seq) {
					continue ranged
				}
			}
			attrs, err := c.server.fetchReg.Project(ctx, got.Msg, got.Seq, items)
			if err != nil {
				return BadErr("%s", err.Error())
			}
			c.Untagged(fetchResp(got.Seq, attrs...))
		}
		c.OK(cmd, "FETCH completed")
		return nil
	}
}

var storeActions = map[string]store.FlagsMode{
	"FLAGS":  store.SetFlags,
	"+FLAGS": store.AddFlags,
	"-FLAGS": store.RemoveFlags,
}

func handleStore(byUID bool) HandlerFunc {
	return func(c *Conn, cmd *wire.Command) error {
		if err := requireSelected(c); err != nil {
			return err
		}
		if err := requireArgs(cmd, 3); err != nil {
			return err
		}
		if c.ReadOnly {
			return NoErr("Mailbox is in read only mode")
		}
		if c.PendingExpunge() {
			return NoErr("Pending EXPUNGE messages, can not store")
		}

		action := strings.ToUpper(cmd.Args[1].Str())
		silent := strings.HasSuffix(action, ".SILENT")
		action = strings.TrimSuffix(action, ".SILENT")
		mode, ok := storeActions[action]
		if !ok {
			return BadErr("Invalid STORE argument: %s", cmd.Args[1].Str())
		}

		var flags []string
		if cmd.Args[2].Type == wire.List {
			for _, f := range cmd.Args[2].List {
				flags = append(flags, f.Str())
			}
		} else {
			for _, f := range cmd.Args[2:] {
				flags = append(flags, f.Str())
			}
		}

		mbox := c.Selected
		msgs := c.SessionMessages()
		var affected []*store.Message

	ranged:
		for _, got := range store.Range(msgs, cmd.Args[0].Str(), byUID) {
			for _, filter := range c.server.storeFilters {
				if !filter(c, cmd, got.Msg, got.Seq) {
					continue ranged
				}
			}
			changed, err := c.server.store.ApplyFlags(mbox, got.Msg, mode, flags)
			if err != nil {
				return BadErr("%s", err.Error())
			}
			affected = append(affected, got.Msg)

			flagAttrs := []*wire.Node{wire.NewAtom("FLAGS"), wire.AtomList(got.Msg.Flags...)}
			if byUID {
				flagAttrs = append(flagAttrs, wire.NewAtom("UID"), wire.NewNumber(got.Msg.UID))
			}
			if !silent {
				c.Untagged(fetchResp(got.Seq, flagAttrs...))
			}
			if changed {
				c.server.Notify(mbox, c, &Notice{
					Resp: fetchResp(got.Seq, wire.NewAtom("FLAGS"), wire.AtomList(got.Msg.Flags...)),
				})
			}
		}

		resp := wire.OK(cmd.Tag, "STORE completed")
		c.RunOutputHooks("STORE COMPLETE", resp, mbox, affected)
		c.Tagged(cmd, resp)
		return nil
	}
}

func handleSearch(byUID bool) HandlerFunc {
	return func(c *Conn, cmd *wire.Command) error {
		if err := requireSelected(c); err != nil {
			return err
		}
		if len(cmd.Args) == 0 {
			return BadErr("Not enough arguments for %s", cmd.Name)
		}

		query, err := c.server.searchReg.Compose(cmd.Args)
		if err != nil {
			return NoErr("%s (Failure)", err.Error())
		}

		ctx := &search.Context{
			Mailbox:  c.Selected,
			Messages: c.SessionMessages(),
			Session:  c,
		}
		matches, err := c.server.searchReg.Evaluate(ctx, query)
		if err != nil {
			return NoErr("%s (Failure)", err.Error())
		}

		attrs := []*wire.Node{}
		for _, got := range matches {
			n := got.Seq
			if byUID {
				n = got.Msg.UID
			}
			attrs = append(attrs, wire.NewNumber(n))
		}
		c.Untagged(&wire.Resp{Tag: "*", Name: "SEARCH", Attrs: attrs})
		c.OK(cmd, "SEARCH completed")
		return nil
	}
}

func handleCopy(byUID bool) HandlerFunc {
	return func(c *Conn, cmd *wire.Command) error {
		if err := requireSelected(c); err != nil {
			return err
		}
		if err := requireArgs(cmd, 2); err != nil {
			return err
		}

		dest := c.server.store.Resolve(mailboxName(cmd.Args[1]))
		if dest == nil || !dest.Selectable() {
			return NoErr("Invalid destination mailbox")
		}

		msgs := c.SessionMessages()
		for _, got := range store.Range(msgs, cmd.Args[0].Str(), byUID) {
			flags := append([]string(nil), got.Msg.Flags...)
			c.server.store.Append(dest, flags, got.Msg.InternalDate, got.Msg.Raw)
		}
		c.server.Notify(dest, nil, &Notice{Resp: existsNotice(len(dest.Messages))})
		c.OK(cmd, "COPY completed")
		return nil
	}
}
