// Package fetch projects stored messages into FETCH response attributes.
package fetch

import (
	"fmt"
	"strings"

	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// Context carries the projection scope for one FETCH run.
type Context struct {
	Store    *store.Store
	Mailbox  *store.Mailbox
	Messages []*store.Message
	// ReadOnly suppresses the implicit \Seen side effect of body fetches.
	ReadOnly bool
	// ByUID appends the UID attribute to every projected message.
	ByUID bool
	// Session is an opaque handle extensions may use to reach
	// per-connection state.
	Session interface{}
}

// HandlerFunc produces the value node for one fetch item. Returning
// forceSeen requests the implicit \Seen side effect.
type HandlerFunc func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (value *wire.Node, forceSeen bool, err error)

// Registry maps fetch item names to handlers. A fresh registry carries the
// base item set; extensions add their own with Register.
type Registry struct {
	handlers map[string]HandlerFunc
}

// Register adds or replaces a fetch item handler. The name is upper-cased.
func (r *Registry) Register(name string, fn HandlerFunc) {
	if r.handlers == nil {
		r.handlers = make(map[string]HandlerFunc)
	}
	r.handlers[strings.ToUpper(name)] = fn
}

var macros = map[string][]string{
	"ALL":  {"FLAGS", "INTERNALDATE", "RFC822.SIZE", "ENVELOPE"},
	"FAST": {"FLAGS", "INTERNALDATE", "RFC822.SIZE"},
	"FULL": {"FLAGS", "INTERNALDATE", "RFC822.SIZE", "ENVELOPE", "BODY"},
}

// ExpandItems normalizes a FETCH item argument: a macro atom or a single
// item becomes a flat item list, a parenthesized list is flattened.
func ExpandItems(arg *wire.Node) []*wire.Node {
	var items []*wire.Node
	if arg.Type == wire.List {
		items = arg.List
	} else {
		items = []*wire.Node{arg}
	}
	if len(items) == 1 && items[0].Type == wire.Atom && items[0].Sect == nil {
		if names, ok := macros[strings.ToUpper(items[0].Value)]; ok {
			items = nil
			for _, name := range names {
				items = append(items, wire.NewAtom(name))
			}
		}
	}
	return items
}

// Project runs the item list against one message and returns the flat
// attribute list (name, value, name, value, ...). UID FETCH projections
// gain a UID attribute; body fetches on a writable mailbox set \Seen and
// gain a FLAGS attribute unless one was asked for.
func (r *Registry) Project(ctx *Context, msg *store.Message, seq uint32, items []*wire.Node) ([]*wire.Node, error) {
	items = append([]*wire.Node(nil), items...)
	if ctx.ByUID && !hasItem(items, "UID") {
		items = append(items, wire.NewAtom("UID"))
	}

	var attrs []*wire.Node
	forceSeen := false
	for _, item := range items {
		name := strings.ToUpper(item.Str())
		fn, ok := r.handlers[name]
		if !ok {
			return nil, fmt.Errorf("invalid fetch argument: %s", item.Str())
		}
		value, seen, err := fn(ctx, msg, seq, item)
		if err != nil {
			return nil, err
		}
		if seen && !ctx.ReadOnly {
			forceSeen = true
		}
		attrs = append(attrs, responseName(item), value)
	}

	if forceSeen && !msg.HasFlag(`\Seen`) {
		changed, err := ctx.Store.ApplyFlags(ctx.Mailbox, msg, store.AddFlags, []string{`\Seen`})
		if err == nil && changed && !hasItem(items, "FLAGS") {
			attrs = append(attrs, wire.NewAtom("FLAGS"), flagList(msg))
		}
	}
	return attrs, nil
}

func hasItem(items []*wire.Node, name string) bool {
	for _, item := range items {
		if strings.ToUpper(item.Str()) == name {
			return true
		}
	}
	return false
}

// responseName rewrites the asked-for item into its response label: PEEK
// is the request's business only, and a partial echoes just its offset.
func responseName(item *wire.Node) *wire.Node {
	name := strings.ToUpper(item.Str())
	name = strings.Replace(name, ".PEEK", "", 1)
	out := &wire.Node{Type: wire.Atom, Value: name, Sect: item.Sect}
	if len(item.Partial) > 0 {
		out.Partial = item.Partial[:1]
	}
	return out
}

func flagList(msg *store.Message) *wire.Node {
	return wire.AtomList(msg.Flags...)
}

// NewRegistry returns a registry preloaded with the base fetch items.
func NewRegistry() *Registry {
	r := &Registry{}

	r.Register("UID", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return wire.NewNumber(msg.UID), false, nil
	})
	r.Register("FLAGS", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return flagList(msg), false, nil
	})
	r.Register("INTERNALDATE", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return wire.NewString(msg.InternalDate), false, nil
	})
	r.Register("RFC822.SIZE", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return wire.NewNumber(uint32(len(msg.Raw))), false, nil
	})
	r.Register("RFC822", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return wire.NewLiteral(msg.Raw), true, nil
	})
	r.Register("RFC822.HEADER", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return wire.NewLiteral(msg.Parsed().HeaderBlock()), true, nil
	})
	r.Register("ENVELOPE", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return Envelope(msg.Parsed()), false, nil
	})
	r.Register("BODYSTRUCTURE", func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		return BodyStructure(msg.Parsed(), true), false, nil
	})
	r.Register("BODY", bodyHandler(false))
	r.Register("BODY.PEEK", bodyHandler(true))

	return r
}

func bodyHandler(peek bool) HandlerFunc {
	return func(ctx *Context, msg *store.Message, seq uint32, item *wire.Node) (*wire.Node, bool, error) {
		if item.Sect == nil {
			if peek {
				return nil, false, fmt.Errorf("invalid fetch argument: BODY.PEEK")
			}
			return BodyStructure(msg.Parsed(), false), false, nil
		}

		content, err := Section(msg, item.Sect)
		if err != nil {
			return nil, false, err
		}
		content = clipPartial(content, item.Partial)
		return wire.NewLiteral(content), !peek, nil
	}
}

func clipPartial(content []byte, partial []uint32) []byte {
	if len(partial) == 0 {
		return content
	}
	start := partial[0]
	if start >= uint32(len(content)) {
		return nil
	}
	content = content[start:]
	if len(partial) > 1 && uint32(len(content)) > partial[1] {
		content = content[:partial[1]]
	}
	return content
}
