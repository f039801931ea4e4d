// Package utf7 implements the modified UTF-7 encoding defined in RFC 3501
// section 5.1.3, used for international mailbox names.
package utf7

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	min = 0x20 // Minimum self-representing UTF-7 value
	max = 0x7E // Maximum self-representing UTF-7 value

	repl = '�' // Unicode replacement code point
)

var enc = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,")

// ErrBadUTF7 is returned when decoding malformed modified UTF-7.
var ErrBadUTF7 = errors.New("utf7: bad utf-7 encoding")

// Encoding is the modified UTF-7 encoding.
var Encoding encoding.Encoding = mutf7{}

type mutf7 struct{}

func (mutf7) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: &decoder{}}
}

func (mutf7) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: &encoder{}}
}

// Encode converts a UTF-8 mailbox name to modified UTF-7.
func Encode(s string) string {
	var sb strings.Builder
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		sb.WriteByte('&')
		sb.WriteString(enc.EncodeToString(utf16Bytes(s[start:end])))
		sb.WriteByte('-')
		start = -1
	}
	for i, r := range s {
		if r >= min && r <= max {
			flush(i)
			if r == '&' {
				sb.WriteString("&-")
			} else {
				sb.WriteRune(r)
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(s))
	return sb.String()
}

// Decode converts a modified UTF-7 mailbox name to UTF-8.
func Decode(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < min || c > max {
			return "", ErrBadUTF7
		}
		if c != '&' {
			sb.WriteByte(c)
			continue
		}

		end := strings.IndexByte(s[i+1:], '-')
		if end < 0 {
			return "", ErrBadUTF7
		}
		chunk := s[i+1 : i+1+end]
		i += end + 1

		if chunk == "" {
			// "&-" is the escaped ampersand
			sb.WriteByte('&')
			continue
		}
		decoded, err := decodeChunk(chunk)
		if err != nil {
			return "", err
		}
		sb.WriteString(decoded)
	}
	return sb.String(), nil
}

func decodeChunk(chunk string) (string, error) {
	raw, err := enc.DecodeString(pad(chunk))
	if err != nil || len(raw) == 0 || len(raw)%2 != 0 {
		return "", ErrBadUTF7
	}
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	runes := utf16.Decode(units)
	for _, r := range runes {
		if r == repl {
			return "", ErrBadUTF7
		}
		// self-representing characters must not be base64-encoded
		if r >= min && r <= max {
			return "", ErrBadUTF7
		}
	}
	return string(runes), nil
}

func pad(chunk string) string {
	if n := len(chunk) % 4; n != 0 {
		if n == 1 {
			return chunk // invalid length, let base64 report it
		}
		chunk += strings.Repeat("=", 4-n)
	}
	return chunk
}

func utf16Bytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

// The transformers work on whole names; they ask for more input until EOF
// since an escape sequence may span the chunk boundary.

type encoder struct{}

func (encoder) Reset() {}

func (encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	if !atEOF {
		return 0, 0, transform.ErrShortSrc
	}
	out := Encode(string(src))
	if len(dst) < len(out) {
		return 0, 0, transform.ErrShortDst
	}
	return copy(dst, out), len(src), nil
}

type decoder struct{}

func (decoder) Reset() {}

func (decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	if !atEOF {
		return 0, 0, transform.ErrShortSrc
	}
	out, derr := Decode(string(src))
	if derr != nil {
		// substitute the replacement character for undecodable input
		out = strings.Map(func(r rune) rune {
			if r > utf8.RuneSelf {
				return repl
			}
			return r
		}, string(src))
	}
	if len(dst) < len(out) {
		return 0, 0, transform.ErrShortDst
	}
	return copy(dst, out), len(src), nil
}
