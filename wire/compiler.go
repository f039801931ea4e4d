package wire

import (
	"bytes"
	"strconv"
	"strings"
)

// Resp is one server response line. Tag is "*" for untagged responses and
// "+" for continuation requests.
type Resp struct {
	Tag   string
	Name  string // OK, NO, BAD, CAPABILITY, ...; empty for e.g. "* 3 EXISTS"
	Attrs []*Node
}

// OK builds a tagged OK completion with trailing text.
func OK(tag, text string) *Resp {
	return &Resp{Tag: tag, Name: "OK", Attrs: []*Node{NewText(text)}}
}

// No builds a tagged NO response with trailing text.
func No(tag, text string) *Resp {
	return &Resp{Tag: tag, Name: "NO", Attrs: []*Node{NewText(text)}}
}

// Bad builds a tagged BAD response with trailing text.
func Bad(tag, text string) *Resp {
	return &Resp{Tag: tag, Name: "BAD", Attrs: []*Node{NewText(text)}}
}

// Compile renders the response as wire bytes, including the trailing CRLF.
func (r *Resp) Compile() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Tag)
	if r.Name != "" {
		buf.WriteByte(' ')
		buf.WriteString(r.Name)
	}
	for _, attr := range r.Attrs {
		buf.WriteByte(' ')
		compileNode(&buf, attr)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func compileNode(buf *bytes.Buffer, n *Node) {
	if n == nil {
		buf.WriteString("NIL")
		return
	}
	switch n.Type {
	case Atom:
		buf.WriteString(n.Value)
		if n.Sect != nil {
			buf.WriteByte('[')
			compileJoined(buf, n.Sect)
			buf.WriteByte(']')
			if len(n.Partial) > 0 {
				buf.WriteByte('<')
				buf.WriteString(strconv.FormatUint(uint64(n.Partial[0]), 10))
				buf.WriteByte('>')
			}
		}
	case Number:
		buf.WriteString(strconv.FormatUint(uint64(n.Num), 10))
	case String:
		buf.WriteByte('"')
		v := strings.ReplaceAll(n.Value, `\`, `\\`)
		buf.WriteString(strings.ReplaceAll(v, `"`, `\"`))
		buf.WriteByte('"')
	case Literal:
		buf.WriteByte('{')
		buf.WriteString(strconv.Itoa(len(n.Bytes)))
		buf.WriteString("}\r\n")
		buf.Write(n.Bytes)
	case List:
		buf.WriteByte('(')
		compileJoined(buf, n.List)
		buf.WriteByte(')')
	case Section:
		buf.WriteByte('[')
		compileJoined(buf, n.List)
		buf.WriteByte(']')
	case Text:
		buf.WriteString(n.Value)
	case Nil:
		buf.WriteString("NIL")
	}
}

func compileJoined(buf *bytes.Buffer, ns []*Node) {
	for i, n := range ns {
		if i > 0 {
			buf.WriteByte(' ')
		}
		compileNode(buf, n)
	}
}
