package store

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Message is one immutable message body plus its mutable metadata.
type Message struct {
	// UID is assigned once from the folder's uidnext and never reused.
	UID uint32
	// Flags is the message flag set, order-stable and duplicate-free.
	Flags []string
	// InternalDate is the INTERNALDATE string in wire format.
	InternalDate string
	// Raw is the message content as appended, never mutated afterwards.
	Raw []byte

	// Ext holds extension-attached fields, e.g. a modification sequence.
	Ext map[string]interface{}

	parsed *Part
}

// HasFlag reports whether the flag is set. Flag comparison is exact, the
// way flags were stored.
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Parsed returns the message's decomposed content, computing and caching it
// on first use. Malformed content degrades to a single opaque part rather
// than failing: the emulation must keep serving whatever bytes it was
// seeded with.
func (m *Message) Parsed() *Part {
	if m.parsed == nil {
		m.parsed = parsePart(m.Raw)
	}
	return m.parsed
}

// Part is one node of a message's MIME part tree.
type Part struct {
	// Header holds the part's header lines in original order, without the
	// trailing blank line.
	Header []string
	// Fields is the structured header used for envelope and date access.
	Fields message.Header

	// MediaType is the lower-case "type/subtype".
	MediaType string
	// Params holds the Content-Type parameters.
	Params map[string]string
	// Encoding is the Content-Transfer-Encoding token, if any.
	Encoding string

	// Children holds the sub-parts of a multipart part.
	Children []*Part
	// Embedded holds the parsed payload of a message/rfc822 part.
	Embedded *Part

	// Body is the decoded body of a leaf part.
	Body []byte
}

// Mail returns the header wrapped for address and date accessors.
func (p *Part) Mail() mail.Header {
	return mail.Header{Header: p.Fields}
}

// Size returns the byte length used for BODYSTRUCTURE part sizes.
func (p *Part) Size() int {
	return len(p.Body)
}

// Lines returns the line count of the part body.
func (p *Part) Lines() int {
	if len(p.Body) == 0 {
		return 0
	}
	return bytes.Count(p.Body, []byte{'\n'}) + 1
}

// Text returns the part body as text. For multipart parts, sub-part bodies
// are concatenated, which is what substring search runs against.
func (p *Part) Text() string {
	if len(p.Children) > 0 {
		var sb strings.Builder
		for _, c := range p.Children {
			sb.WriteString(c.Text())
		}
		return sb.String()
	}
	if p.Embedded != nil {
		return p.Embedded.Text()
	}
	return string(p.Body)
}

// HeaderBlock renders the part's header lines as a wire-format block,
// terminated by an empty line.
func (p *Part) HeaderBlock() []byte {
	return []byte(strings.Join(p.Header, "\r\n") + "\r\n\r\n")
}

func parsePart(raw []byte) *Part {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		// Opaque fallback: headerless single part carrying the raw bytes.
		return &Part{Body: raw}
	}
	return entityToPart(ent)
}

func entityToPart(ent *message.Entity) *Part {
	p := &Part{Fields: ent.Header}

	fields := ent.Header.Fields()
	for fields.Next() {
		p.Header = append(p.Header, fields.Key()+": "+fields.Value())
	}
	// Fields iterates newest-first; restore original top-down order.
	for i, j := 0, len(p.Header)-1; i < j; i, j = i+1, j-1 {
		p.Header[i], p.Header[j] = p.Header[j], p.Header[i]
	}

	mediaType, params, err := ent.Header.ContentType()
	if err == nil {
		p.MediaType = strings.ToLower(mediaType)
		p.Params = params
	}
	p.Encoding = ent.Header.Get("Content-Transfer-Encoding")

	if mr := ent.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			} else if err != nil {
				break
			}
			p.Children = append(p.Children, entityToPart(child))
		}
		return p
	}

	body, err := io.ReadAll(ent.Body)
	if err == nil {
		p.Body = body
	}
	if p.MediaType == "message/rfc822" && len(p.Body) > 0 {
		p.Embedded = parsePart(p.Body)
	}
	return p
}
