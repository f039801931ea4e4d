package wire

import (
	"fmt"
	"strings"
)

// Command is one parsed client command.
type Command struct {
	// Tag correlates the command with its tagged completion response.
	Tag string
	// Name is the upper-cased command verb. UID variants are joined into a
	// single name, e.g. "UID FETCH".
	Name string
	// Args is the argument tree, nil when the command had no arguments.
	Args []*Node

	// Ext carries per-command scratch values set by capability wrappers and
	// consumed by filters and hooks further down the chain.
	Ext map[string]interface{}
}

// ParseError reports a command that violated the line grammar, as opposed to
// one that failed application-level validation.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// IsParseError reports whether err was produced by the command parser.
func IsParseError(err error) bool {
	_, ok := err.(*ParseError)
	return ok
}

// Tag extracts the best-effort command tag from a raw command, for use in
// failure responses when the command itself cannot be parsed.
func Tag(data []byte) string {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "*"
	}
	return fields[0]
}

// ParseCommand parses one complete framed command, including any literal
// payloads embedded in the data.
func ParseCommand(data []byte) (*Command, error) {
	p := &parser{data: data}

	tag, err := p.readToken()
	if err != nil {
		return nil, err
	}
	if tag == nil || tag.Type != Atom {
		return nil, parseErrorf("missing command tag")
	}

	name, err := p.readToken()
	if err != nil {
		return nil, err
	}
	if name == nil || name.Type != Atom {
		return nil, parseErrorf("missing command name")
	}
	cmd := &Command{Tag: tag.Value, Name: strings.ToUpper(name.Value)}

	// UID is a prefix: the actual verb follows it.
	if cmd.Name == "UID" {
		sub, err := p.readToken()
		if err != nil {
			return nil, err
		}
		if sub == nil || sub.Type != Atom {
			return nil, parseErrorf("UID requires a command name")
		}
		cmd.Name += " " + strings.ToUpper(sub.Value)
	}

	for {
		node, err := p.readToken()
		if err != nil {
			return nil, err
		}
		if node == nil {
			break
		}
		cmd.Args = append(cmd.Args, node)
	}
	return cmd, nil
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.data)
}

func (p *parser) peek() byte {
	return p.data[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && p.data[p.pos] == ' ' {
		p.pos++
	}
}

// readToken returns the next node, or nil at the end of input.
func (p *parser) readToken() (*Node, error) {
	p.skipSpace()
	if p.eof() {
		return nil, nil
	}

	switch p.peek() {
	case '(':
		p.pos++
		return p.readList(')')
	case ')', ']':
		return nil, parseErrorf("unexpected %q", p.peek())
	case '"':
		return p.readQuoted()
	case '{':
		return p.readLiteral()
	default:
		return p.readAtom()
	}
}

// readList consumes nodes until the closing delimiter.
func (p *parser) readList(end byte) (*Node, error) {
	list := []*Node{}
	for {
		p.skipSpace()
		if p.eof() {
			return nil, parseErrorf("unterminated list")
		}
		if p.peek() == end {
			p.pos++
			return &Node{Type: List, List: list}, nil
		}
		var (
			node *Node
			err  error
		)
		switch p.peek() {
		case '(':
			p.pos++
			node, err = p.readList(')')
		case '"':
			node, err = p.readQuoted()
		case '{':
			node, err = p.readLiteral()
		default:
			node, err = p.readAtomUntil(end)
		}
		if err != nil {
			return nil, err
		}
		list = append(list, node)
	}
}

func (p *parser) readQuoted() (*Node, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for {
		if p.eof() {
			return nil, parseErrorf("unterminated quoted string")
		}
		c := p.data[p.pos]
		p.pos++
		switch c {
		case '"':
			return &Node{Type: String, Value: sb.String()}, nil
		case '\\':
			if p.eof() {
				return nil, parseErrorf("unterminated quoted string")
			}
			sb.WriteByte(p.data[p.pos])
			p.pos++
		case '\r', '\n':
			return nil, parseErrorf("line break inside quoted string")
		default:
			sb.WriteByte(c)
		}
	}
}

// readLiteral consumes a {N} or {N+} marker, the following line break and
// exactly N raw bytes. The framer has already collected the bytes; the
// parser only needs to slice them out.
func (p *parser) readLiteral() (*Node, error) {
	p.pos++ // opening brace
	start := p.pos
	for !p.eof() && p.data[p.pos] >= '0' && p.data[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == start {
		return nil, parseErrorf("invalid literal length")
	}
	n := 0
	for _, c := range p.data[start:p.pos] {
		n = n*10 + int(c-'0')
	}
	if !p.eof() && p.peek() == '+' {
		p.pos++
	}
	if p.eof() || p.peek() != '}' {
		return nil, parseErrorf("invalid literal marker")
	}
	p.pos++
	if !p.eof() && p.peek() == '\r' {
		p.pos++
	}
	if p.eof() || p.peek() != '\n' {
		return nil, parseErrorf("literal marker not at end of line")
	}
	p.pos++
	if p.pos+n > len(p.data) {
		return nil, parseErrorf("literal shorter than declared length")
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return &Node{Type: Literal, Bytes: b}, nil
}

func (p *parser) readAtom() (*Node, error) {
	return p.readAtomUntil(0)
}

func (p *parser) readAtomUntil(extra byte) (*Node, error) {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == ' ' || c == '(' || c == ')' || c == '[' || c == '\r' || c == '\n' || (extra != 0 && c == extra) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return nil, parseErrorf("empty atom")
	}
	node := &Node{Type: Atom, Value: string(p.data[start:p.pos])}
	if strings.EqualFold(node.Value, "NIL") {
		return &Node{Type: Nil}, nil
	}

	// Section specifier attached to the atom, e.g. BODY[1.2.HEADER].
	if !p.eof() && p.peek() == '[' {
		p.pos++
		sect, err := p.readList(']')
		if err != nil {
			return nil, err
		}
		node.Sect = sect.List
		if node.Sect == nil {
			node.Sect = []*Node{}
		}
		if err := p.readPartial(node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// readPartial consumes an optional <start> or <start.count> range.
func (p *parser) readPartial(node *Node) error {
	if p.eof() || p.peek() != '<' {
		return nil
	}
	p.pos++
	var nums []uint32
	cur, has := uint32(0), false
	for {
		if p.eof() {
			return parseErrorf("unterminated partial range")
		}
		c := p.peek()
		p.pos++
		switch {
		case c >= '0' && c <= '9':
			cur = cur*10 + uint32(c-'0')
			has = true
		case c == '.':
			if !has {
				return parseErrorf("invalid partial range")
			}
			nums = append(nums, cur)
			cur, has = 0, false
		case c == '>':
			if !has {
				return parseErrorf("invalid partial range")
			}
			nums = append(nums, cur)
			node.Partial = nums
			return nil
		default:
			return parseErrorf("invalid partial range")
		}
	}
}
