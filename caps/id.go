package caps

import (
	"sort"

	"github.com/picomail/imapmock/server"
	"github.com/picomail/imapmock/wire"
)

var defaultIDFields = map[string]string{
	"name":    "imapmock",
	"vendor":  "picomail",
	"version": "1",
}

// ID adds the ID capability with the default server identity.
func ID(s *server.Server) {
	IDWith(defaultIDFields)(s)
}

// IDWith builds an ID plugin advertising the given fields.
func IDWith(fields map[string]string) Plugin {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return func(s *server.Server) {
		s.RegisterCapability("ID", nil)
		s.SetCommandHandler("ID", func(c *server.Conn, cmd *wire.Command) error {
			// the client's own ID list is accepted and discarded
			var attrs []*wire.Node
			for _, k := range keys {
				attrs = append(attrs, wire.NewString(k), wire.NewString(fields[k]))
			}
			c.Untagged(&wire.Resp{Tag: "*", Name: "ID", Attrs: []*wire.Node{wire.NewList(attrs...)}})
			c.OK(cmd, "ID completed")
			return nil
		})
	}
}
