package search

import (
	"strings"

	"github.com/picomail/imapmock/store"
)

// Context carries the evaluation scope: the folder under search and its
// message list at query time. Session is an opaque handle extensions may
// use to reach per-connection state.
type Context struct {
	Mailbox  *store.Mailbox
	Messages []*store.Message
	Session  interface{}
}

// HandlerFunc decides whether one message matches a term. seq is the
// message's 1-based position in the searched list.
type HandlerFunc func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error)

type entry struct {
	args []ArgKind
	fn   HandlerFunc
}

// Registry maps search keys to their arity and matcher. A fresh registry
// carries the base key set; extensions add their own with Register.
type Registry struct {
	entries map[string]entry
}

// Register adds or replaces a search key. The key is upper-cased.
func (r *Registry) Register(key string, args []ArgKind, fn HandlerFunc) {
	if r.entries == nil {
		r.entries = make(map[string]entry)
	}
	r.entries[strings.ToUpper(key)] = entry{args: args, fn: fn}
}

func (r *Registry) lookup(key string) (entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// Evaluate runs a compiled query over the context's messages and returns
// the matches in mailbox order.
func (r *Registry) Evaluate(ctx *Context, query Query) ([]store.Ranged, error) {
	var out []store.Ranged
	for i, msg := range ctx.Messages {
		seq := uint32(i + 1)
		ok, err := r.matchAll(ctx, msg, seq, query)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, store.Ranged{Seq: seq, Msg: msg})
		}
	}
	return out, nil
}

func (r *Registry) matchAll(ctx *Context, msg *store.Message, seq uint32, terms []*Term) (bool, error) {
	for _, term := range terms {
		ok, err := r.match(ctx, msg, seq, term)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (r *Registry) match(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
	if term.Key == "_SEQ" {
		return seqInSet(ctx, msg, seq, term.Values[0].Str(), false), nil
	}
	e, ok := r.lookup(term.Key)
	if !ok || e.fn == nil {
		return false, nil
	}
	return e.fn(ctx, msg, seq, term)
}

func seqInSet(ctx *Context, msg *store.Message, seq uint32, set string, byUID bool) bool {
	for _, got := range store.Range(ctx.Messages, set, byUID) {
		if byUID {
			if got.Msg.UID == msg.UID {
				return true
			}
			continue
		}
		if got.Seq == seq {
			return true
		}
	}
	return false
}

func matchString(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func headerValue(msg *store.Message, key string) (string, bool) {
	fields := msg.Parsed().Fields
	if !fields.Has(key) {
		return "", false
	}
	return fields.Get(key), true
}

// NewRegistry returns a registry preloaded with the base search keys.
func NewRegistry() *Registry {
	r := &Registry{}

	flagKey := func(flag string, want bool) HandlerFunc {
		return func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
			return msg.HasFlag(flag) == want, nil
		}
	}
	headerKey := func(header string) HandlerFunc {
		return func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
			v, ok := headerValue(msg, header)
			return ok && matchString(v, term.Values[0].Str()), nil
		}
	}

	r.Register("ALL", nil, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return true, nil
	})

	r.Register("ANSWERED", nil, flagKey(`\Answered`, true))
	r.Register("UNANSWERED", nil, flagKey(`\Answered`, false))
	r.Register("DELETED", nil, flagKey(`\Deleted`, true))
	r.Register("UNDELETED", nil, flagKey(`\Deleted`, false))
	r.Register("DRAFT", nil, flagKey(`\Draft`, true))
	r.Register("UNDRAFT", nil, flagKey(`\Draft`, false))
	r.Register("FLAGGED", nil, flagKey(`\Flagged`, true))
	r.Register("UNFLAGGED", nil, flagKey(`\Flagged`, false))
	r.Register("SEEN", nil, flagKey(`\Seen`, true))
	r.Register("UNSEEN", nil, flagKey(`\Seen`, false))
	r.Register("RECENT", nil, flagKey(`\Recent`, true))
	r.Register("OLD", nil, flagKey(`\Recent`, false))
	r.Register("NEW", nil, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return msg.HasFlag(`\Recent`) && !msg.HasFlag(`\Seen`), nil
	})

	r.Register("BCC", []ArgKind{ArgValue}, headerKey("Bcc"))
	r.Register("CC", []ArgKind{ArgValue}, headerKey("Cc"))
	r.Register("FROM", []ArgKind{ArgValue}, headerKey("From"))
	r.Register("TO", []ArgKind{ArgValue}, headerKey("To"))
	r.Register("SUBJECT", []ArgKind{ArgValue}, headerKey("Subject"))

	r.Register("HEADER", []ArgKind{ArgValue, ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		v, ok := headerValue(msg, term.Values[0].Str())
		if !ok {
			return false, nil
		}
		needle := term.Values[1].Str()
		if needle == "" {
			return true, nil
		}
		return matchString(v, needle), nil
	})

	r.Register("BODY", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return matchString(msg.Parsed().Text(), term.Values[0].Str()), nil
	})
	r.Register("TEXT", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return matchString(string(msg.Raw), term.Values[0].Str()), nil
	})

	r.Register("KEYWORD", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return msg.HasFlag(term.Values[0].Str()), nil
	})
	r.Register("UNKEYWORD", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return !msg.HasFlag(term.Values[0].Str()), nil
	})

	r.Register("LARGER", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		n, err := term.Values[0].NumValue()
		if err != nil {
			return false, err
		}
		return uint64(len(msg.Raw)) >= n, nil
	})
	r.Register("SMALLER", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		n, err := term.Values[0].NumValue()
		if err != nil {
			return false, err
		}
		return uint64(len(msg.Raw)) < n, nil
	})

	r.Register("BEFORE", []ArgKind{ArgValue}, dateKey(internalDay, dayBefore))
	r.Register("ON", []ArgKind{ArgValue}, dateKey(internalDay, daySame))
	r.Register("SINCE", []ArgKind{ArgValue}, dateKey(internalDay, dayOnOrAfter))
	r.Register("SENTBEFORE", []ArgKind{ArgValue}, dateKey(sentDay, dayBefore))
	r.Register("SENTON", []ArgKind{ArgValue}, dateKey(sentDay, daySame))
	r.Register("SENTSINCE", []ArgKind{ArgValue}, dateKey(sentDay, dayOnOrAfter))

	r.Register("UID", []ArgKind{ArgValue}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		return seqInSet(ctx, msg, seq, term.Values[0].Str(), true), nil
	})

	r.Register("NOT", []ArgKind{ArgCommand}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		ok, err := r.match(ctx, msg, seq, term.Sub[0])
		return !ok, err
	})
	r.Register("OR", []ArgKind{ArgCommand, ArgCommand}, func(ctx *Context, msg *store.Message, seq uint32, term *Term) (bool, error) {
		for _, sub := range term.Sub {
			ok, err := r.match(ctx, msg, seq, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})

	return r
}
