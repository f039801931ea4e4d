// Package search compiles SEARCH queries into an executable form and
// evaluates them against a folder's message list.
package search

import (
	"fmt"
	"strings"

	"github.com/picomail/imapmock/wire"
)

// ArgKind describes one argument slot of a search key.
type ArgKind int

const (
	// ArgValue consumes one literal operand (string, number, atom).
	ArgValue ArgKind = iota
	// ArgCommand consumes one nested search term, recursively.
	ArgCommand
)

// Term is one compiled search key with its operands.
type Term struct {
	// Key is the upper-cased search key, or "_SEQ" for a bare
	// sequence-set operand.
	Key string
	// Values holds the ArgValue operands in order.
	Values []*wire.Node
	// Sub holds the ArgCommand operands in order.
	Sub []*Term
}

// Query is a compiled top-level search: terms combine by intersection in
// their written order.
type Query []*Term

// Compose compiles raw query operands into a Query using the registry's
// arity table. An optional leading CHARSET specification is accepted and
// ignored; the emulation treats all text as UTF-8. Unknown keys that are
// not sequence sets fail with the offending element named.
func (r *Registry) Compose(args []*wire.Node) (Query, error) {
	if len(args) >= 2 && strings.EqualFold(args[0].Str(), "CHARSET") {
		args = args[2:]
	}

	var query Query
	for len(args) > 0 {
		term, rest, err := r.composeTerm(args)
		if err != nil {
			return nil, err
		}
		query = append(query, term)
		args = rest
	}
	return query, nil
}

func (r *Registry) composeTerm(args []*wire.Node) (*Term, []*wire.Node, error) {
	tok := args[0]
	args = args[1:]

	key := strings.ToUpper(tok.Str())
	entry, known := r.lookup(key)
	if !known {
		if tok.Type == wire.Atom && tok.IsSequence() {
			return &Term{Key: "_SEQ", Values: []*wire.Node{tok}}, args, nil
		}
		return nil, nil, fmt.Errorf("invalid query element: %s", tok.Str())
	}

	term := &Term{Key: key}
	for _, kind := range entry.args {
		if len(args) == 0 {
			return nil, nil, fmt.Errorf("invalid query element: %s", key)
		}
		switch kind {
		case ArgValue:
			term.Values = append(term.Values, args[0])
			args = args[1:]
		case ArgCommand:
			sub, rest, err := r.composeTerm(args)
			if err != nil {
				return nil, nil, err
			}
			term.Sub = append(term.Sub, sub)
			args = rest
		}
	}
	return term, args, nil
}
