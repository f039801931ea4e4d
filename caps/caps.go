// Package caps holds the capability plugins. Each plugin wires itself
// onto a server through the extension surface only: capability tokens,
// command handler wrapping, fetch/search registries, filters and hooks.
package caps

import (
	"fmt"
	"strings"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/server"
)

// Plugin installs one capability onto a server.
type Plugin func(s *server.Server)

var plugins = map[string]Plugin{
	"ID":          ID,
	"IDLE":        Idle,
	"UNSELECT":    Unselect,
	"ENABLE":      EnableCmd,
	"CONDSTORE":   Condstore,
	"SASL-IR":     SaslIR,
	"LITERALPLUS": LiteralPlus,
	"AUTH-PLAIN":  AuthPlain,
	"XOAUTH2":     XOAuth2,
	"SPECIAL-USE": SpecialUse,
}

// Enable installs the named plugins in order. Unknown names fail.
func Enable(s *server.Server, names ...string) error {
	for _, name := range names {
		plugin, ok := plugins[strings.ToUpper(name)]
		if !ok {
			return fmt.Errorf("unknown capability plugin %q", name)
		}
		plugin(s)
	}
	return nil
}

// Names returns the known plugin names.
func Names() []string {
	out := make([]string, 0, len(plugins))
	for name := range plugins {
		out = append(out, name)
	}
	return out
}

func preAuth(c *server.Conn) bool {
	return c.State == imapmock.NotAuthenticatedState
}
