package caps

import (
	"strings"

	"github.com/picomail/imapmock/server"
	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// SpecialUse adds the SPECIAL-USE listing extension: role attributes on
// folders are appended to LIST items, and the (SPECIAL-USE) selection
// option narrows the listing to folders that have one.
func SpecialUse(s *server.Server) {
	s.RegisterCapability("SPECIAL-USE", nil)

	prev := s.CommandHandler("LIST")
	s.SetCommandHandler("LIST", func(c *server.Conn, cmd *wire.Command) error {
		args := cmd.Args
		only := false

		if len(args) > 0 && args[0].Type == wire.List && listHasAtom(args[0], "SPECIAL-USE") {
			only = true
			args = args[1:]
		}
		// RETURN (SPECIAL-USE) adds attributes the output hook emits
		// anyway; the option is consumed so the base handler never sees it.
		if n := len(args); n >= 2 && strings.EqualFold(args[n-2].Str(), "RETURN") && args[n-1].Type == wire.List {
			args = args[:n-2]
		}
		cmd.Args = args

		if only {
			if cmd.Ext == nil {
				cmd.Ext = make(map[string]interface{})
			}
			cmd.Ext["LIST FILTER"] = func(mbox *store.Mailbox) bool {
				return len(mbox.SpecialUse) > 0
			}
		}
		return prev(c, cmd)
	})

	s.AddOutputHook(func(c *server.Conn, event string, resp *wire.Resp, data ...interface{}) {
		if event != "LIST ITEM" && event != "LSUB ITEM" {
			return
		}
		mbox, ok := data[0].(*store.Mailbox)
		if !ok || len(mbox.SpecialUse) == 0 {
			return
		}
		flags := resp.Attrs[0]
		for _, role := range mbox.SpecialUse {
			flags.List = append(flags.List, wire.NewAtom(role))
		}
	})
}

func listHasAtom(list *wire.Node, name string) bool {
	for _, n := range list.List {
		if strings.EqualFold(n.Str(), name) {
			return true
		}
	}
	return false
}
