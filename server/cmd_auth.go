package server

import (
	"strings"
	"time"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/utf7"
	"github.com/picomail/imapmock/wire"
)

func handleSelect(c *Conn, cmd *wire.Command) error {
	return openMailbox(c, cmd, false)
}

func handleExamine(c *Conn, cmd *wire.Command) error {
	return openMailbox(c, cmd, true)
}

func openMailbox(c *Conn, cmd *wire.Command, readOnly bool) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	mbox := c.server.store.Resolve(mailboxName(cmd.Args[0]))
	if mbox == nil || !mbox.Selectable() {
		c.State = imapmock.AuthenticatedState
		c.Selected = nil
		return NoErr("Invalid mailbox name")
	}

	c.Selected = mbox
	c.ReadOnly = readOnly
	c.State = imapmock.SelectedState
	c.resetNotices()

	st := mbox.GatherStatus()

	c.Untagged(&wire.Resp{Tag: "*", Name: "FLAGS", Attrs: []*wire.Node{wire.AtomList(st.Flags...)}})

	permanent := append([]string(nil), st.PermanentFlags...)
	if mbox.AllowPermanentFlags {
		permanent = append(permanent, `\*`)
	}
	c.Untagged(&wire.Resp{Tag: "*", Name: "OK", Attrs: []*wire.Node{
		respCode(wire.NewAtom("PERMANENTFLAGS"), wire.AtomList(permanent...)),
		wire.NewText("Flags permitted"),
	}})

	c.Untagged(existsNotice(len(mbox.Messages)))
	c.Untagged(&wire.Resp{Tag: "*", Attrs: []*wire.Node{wire.NewNumber(0), wire.NewAtom("RECENT")}})
	c.Untagged(&wire.Resp{Tag: "*", Name: "OK", Attrs: []*wire.Node{
		respCode(wire.NewAtom("UIDVALIDITY"), wire.NewNumber(mbox.UIDValidity)),
		wire.NewText("UIDs valid"),
	}})
	c.Untagged(&wire.Resp{Tag: "*", Name: "OK", Attrs: []*wire.Node{
		respCode(wire.NewAtom("UIDNEXT"), wire.NewNumber(mbox.UIDNext)),
		wire.NewText("Predicted next UID"),
	}})
	for i, msg := range mbox.Messages {
		if !msg.HasFlag(`\Seen`) {
			c.Untagged(&wire.Resp{Tag: "*", Name: "OK", Attrs: []*wire.Node{
				respCode(wire.NewAtom("UNSEEN"), wire.NewNumber(uint32(i+1))),
				wire.NewText("First unseen"),
			}})
			break
		}
	}

	code, event := "READ-WRITE", "SELECT"
	if readOnly {
		code, event = "READ-ONLY", "EXAMINE"
	}
	resp := &wire.Resp{Tag: cmd.Tag, Name: "OK", Attrs: []*wire.Node{
		respCode(wire.NewAtom(code)),
		wire.NewText(cmd.Name + " completed"),
	}}
	c.RunOutputHooks(event, resp, mbox)
	c.Tagged(cmd, resp)
	return nil
}

func handleList(c *Conn, cmd *wire.Command) error {
	return listMailboxes(c, cmd, "LIST", "LIST ITEM", false)
}

func handleLsub(c *Conn, cmd *wire.Command) error {
	return listMailboxes(c, cmd, "LSUB", "LSUB ITEM", true)
}

func listMailboxes(c *Conn, cmd *wire.Command, name, event string, subscribedOnly bool) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	reference := mailboxName(cmd.Args[0])
	pattern := mailboxName(cmd.Args[1])

	s := c.server.store
	ns := s.Reference()
	if pattern == "" {
		// empty pattern asks for the hierarchy delimiter only
		c.Untagged(&wire.Resp{Tag: "*", Name: name, Attrs: []*wire.Node{
			wire.AtomList(imapmock.NoSelectAttr),
			wire.NewString(ns.Separator),
			wire.NewString(""),
		}})
		c.OK(cmd, name+" completed")
		return nil
	}

	filter, _ := cmd.Ext["LIST FILTER"].(func(*store.Mailbox) bool)
	for _, mbox := range s.MatchFolders(reference, pattern) {
		if subscribedOnly && !mbox.Subscribed {
			continue
		}
		if filter != nil && !filter(mbox) {
			continue
		}
		resp := &wire.Resp{Tag: "*", Name: name, Attrs: []*wire.Node{
			wire.AtomList(mbox.Flags...),
			wire.NewString(ns.Separator),
			wire.NewString(utf7.Encode(mbox.Path)),
		}}
		c.RunOutputHooks(event, resp, mbox, cmd)
		c.Untagged(resp)
	}
	c.OK(cmd, name+" completed")
	return nil
}

func handleSubscribe(c *Conn, cmd *wire.Command) error {
	return setSubscribed(c, cmd, true)
}

func handleUnsubscribe(c *Conn, cmd *wire.Command) error {
	return setSubscribed(c, cmd, false)
}

func setSubscribed(c *Conn, cmd *wire.Command, subscribed bool) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	mbox := c.server.store.Resolve(mailboxName(cmd.Args[0]))
	if mbox == nil {
		return NoErr("Mailbox not found")
	}
	mbox.Subscribed = subscribed
	c.OK(cmd, cmd.Name+" completed")
	return nil
}

func handleCreate(c *Conn, cmd *wire.Command) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	if _, err := c.server.store.CreateFolder(mailboxName(cmd.Args[0])); err != nil {
		return NoErr("%s", err.Error())
	}
	c.OK(cmd, "CREATE completed")
	return nil
}

func handleDelete(c *Conn, cmd *wire.Command) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	if err := c.server.store.DeleteFolder(mailboxName(cmd.Args[0])); err != nil {
		return NoErr("%s", err.Error())
	}
	c.OK(cmd, "DELETE completed")
	return nil
}

func handleRename(c *Conn, cmd *wire.Command) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	if err := c.server.store.RenameFolder(mailboxName(cmd.Args[0]), mailboxName(cmd.Args[1])); err != nil {
		return NoErr("%s", err.Error())
	}
	c.OK(cmd, "RENAME completed")
	return nil
}

func handleStatus(c *Conn, cmd *wire.Command) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	mbox := c.server.store.Resolve(mailboxName(cmd.Args[0]))
	if mbox == nil || !mbox.Selectable() {
		return NoErr("Mailbox not found")
	}
	if cmd.Args[1].Type != wire.List {
		return BadErr("Invalid STATUS arguments")
	}

	st := mbox.GatherStatus()
	var attrs []*wire.Node
	for _, item := range cmd.Args[1].List {
		name := item.Str()
		var value uint32
		switch {
		case strings.EqualFold(name, imapmock.StatusMessages):
			value = uint32(len(mbox.Messages))
		case strings.EqualFold(name, imapmock.StatusRecent):
			value = 0
		case strings.EqualFold(name, imapmock.StatusUIDNext):
			value = mbox.UIDNext
		case strings.EqualFold(name, imapmock.StatusUIDValidity):
			value = mbox.UIDValidity
		case strings.EqualFold(name, imapmock.StatusUnseen):
			value = uint32(st.Unseen)
		default:
			return BadErr("Invalid status element: %s", name)
		}
		attrs = append(attrs, wire.NewAtom(name), wire.NewNumber(value))
	}

	c.Untagged(&wire.Resp{Tag: "*", Name: "STATUS", Attrs: []*wire.Node{
		wire.NewString(utf7.Encode(mbox.Path)),
		wire.NewList(attrs...),
	}})
	c.OK(cmd, "STATUS completed")
	return nil
}

func handleAppend(c *Conn, cmd *wire.Command) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	mbox := c.server.store.Resolve(mailboxName(cmd.Args[0]))
	if mbox == nil || !mbox.Selectable() {
		return NoErr("Invalid mailbox name")
	}

	last := cmd.Args[len(cmd.Args)-1]
	if !last.IsStringLike() {
		return BadErr("Invalid APPEND arguments")
	}
	raw := []byte(last.Str())

	var flags []string
	var internalDate string
	for _, arg := range cmd.Args[1 : len(cmd.Args)-1] {
		switch arg.Type {
		case wire.List:
			for _, f := range arg.List {
				flags = append(flags, f.Str())
			}
		case wire.String, wire.Atom:
			internalDate = arg.Str()
		default:
			return BadErr("Invalid APPEND arguments")
		}
	}

	if err := c.server.store.ValidateFlags(flags); err != nil {
		return BadErr("%s", err.Error())
	}
	if internalDate == "" {
		internalDate = imapmock.FormatDateTime(time.Now())
	} else if !imapmock.ValidInternalDate(internalDate) {
		return BadErr("Invalid internaldate argument")
	}

	c.server.store.Append(mbox, flags, internalDate, raw)
	c.server.Notify(mbox, nil, &Notice{Resp: existsNotice(len(mbox.Messages))})
	c.OK(cmd, "APPEND completed")
	return nil
}

func handleNamespace(c *Conn, cmd *wire.Command) error {
	if err := requireAuth(c); err != nil {
		return err
	}

	byType := map[string][]*wire.Node{}
	for _, ns := range c.server.store.Namespaces {
		byType[ns.Type] = append(byType[ns.Type], wire.NewList(
			wire.NewString(ns.Prefix),
			wire.NewString(ns.Separator),
		))
	}
	group := func(kind string) *wire.Node {
		if nodes := byType[kind]; len(nodes) > 0 {
			return wire.NewList(nodes...)
		}
		return wire.NewNil()
	}

	c.Untagged(&wire.Resp{Tag: "*", Name: "NAMESPACE", Attrs: []*wire.Node{
		group("personal"),
		group("other"),
		group("shared"),
	}})
	c.OK(cmd, "NAMESPACE completed")
	return nil
}

