// Package wire implements the IMAP line grammar: it parses one framed
// command into a tag, a name and a tree of argument nodes, and compiles a
// response tree back into wire bytes.
//
// The node tree is deliberately loose. Command handlers and extension hooks
// inspect and rewrite it directly, so the codec exposes the raw shapes from
// the grammar instead of per-command structs.
package wire

import (
	"regexp"
	"strconv"
)

// Type tags a Node variant.
type Type int

const (
	// Atom is a bare token, e.g. a command argument, a flag or a FETCH item
	// name. Atoms may carry a bracketed section specifier and a partial
	// range, e.g. BODY[1.2.HEADER]<0.100>.
	Atom Type = iota
	// Number is a numeric response attribute, e.g. a message count.
	Number
	// String is a quoted string.
	String
	// Literal is a length-prefixed byte payload.
	Literal
	// List is a parenthesized list of nodes.
	List
	// Section is a bracketed response code, e.g. [UIDNEXT 123].
	Section
	// Text is free-form trailing response text, rendered verbatim.
	Text
	// Nil is the NIL token.
	Nil
)

// Node is one element of a command argument tree or response attribute tree.
type Node struct {
	Type  Type
	Value string  // Atom, String, Text
	Num   uint32  // Number
	Bytes []byte  // Literal
	List  []*Node // List and Section children

	// Sect is non-nil when an atom carried a bracketed section specifier.
	// It is non-nil but empty for BODY[].
	Sect []*Node
	// Partial holds the <start> or <start.count> range following a section.
	Partial []uint32
}

// Constructors used when building responses.

func NewAtom(v string) *Node     { return &Node{Type: Atom, Value: v} }
func NewNumber(n uint32) *Node   { return &Node{Type: Number, Num: n} }
func NewString(v string) *Node   { return &Node{Type: String, Value: v} }
func NewLiteral(b []byte) *Node  { return &Node{Type: Literal, Bytes: b} }
func NewList(ns ...*Node) *Node  { return &Node{Type: List, List: ns} }
func NewSect(ns ...*Node) *Node  { return &Node{Type: Section, List: ns} }
func NewText(v string) *Node     { return &Node{Type: Text, Value: v} }
func NewNil() *Node              { return &Node{Type: Nil} }

// AtomList builds a parenthesized list of atoms, e.g. a flag list.
func AtomList(values ...string) *Node {
	ns := make([]*Node, len(values))
	for i, v := range values {
		ns[i] = NewAtom(v)
	}
	return NewList(ns...)
}

// IsStringLike reports whether the node carries a textual value usable as a
// string argument (atom, quoted string or literal).
func (n *Node) IsStringLike() bool {
	if n == nil {
		return false
	}
	switch n.Type {
	case Atom, String, Literal:
		return true
	}
	return false
}

// Str returns the node's textual value regardless of its representation on
// the wire.
func (n *Node) Str() string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case Literal:
		return string(n.Bytes)
	case Number:
		return strconv.FormatUint(uint64(n.Num), 10)
	}
	return n.Value
}

var sequenceRe = regexp.MustCompile(`^[\d,:*]+$`)

// IsSequence reports whether the node is an atom shaped like a message
// sequence set, e.g. "1", "2:7" or "1,3:*".
func (n *Node) IsSequence() bool {
	return n != nil && n.Type == Atom && sequenceRe.MatchString(n.Value)
}

// NumValue parses the node's textual value as an unsigned number.
func (n *Node) NumValue() (uint64, error) {
	return strconv.ParseUint(n.Str(), 10, 64)
}
