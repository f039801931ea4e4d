package fetch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// Section resolves a BODY[...] section specification against a message.
// The first section node is the dotted path with an optional trailing
// specifier (HEADER, HEADER.FIELDS, HEADER.FIELDS.NOT, MIME, TEXT); a
// HEADER.FIELDS variant is followed by its field name list.
func Section(msg *store.Message, sect []*wire.Node) ([]byte, error) {
	if len(sect) == 0 {
		return msg.Raw, nil
	}

	path, specifier, err := splitSection(sect[0].Str())
	if err != nil {
		return nil, err
	}

	part, err := resolvePart(msg.Parsed(), path)
	if err != nil {
		return nil, err
	}

	// HEADER and TEXT on an embedded message address the message inside.
	if specifier != "" && specifier != "MIME" && part.Embedded != nil {
		part = part.Embedded
	}

	switch specifier {
	case "":
		if len(path) == 0 {
			return msg.Raw, nil
		}
		return partContent(part), nil
	case "HEADER", "MIME":
		return part.HeaderBlock(), nil
	case "TEXT":
		return []byte(part.Text()), nil
	case "HEADER.FIELDS", "HEADER.FIELDS.NOT":
		if len(sect) < 2 || sect[1].Type != wire.List {
			return nil, fmt.Errorf("invalid section %s", specifier)
		}
		keep := specifier == "HEADER.FIELDS"
		return filterHeader(part, sect[1].List, keep), nil
	}
	return nil, fmt.Errorf("invalid section %s", specifier)
}

// splitSection splits a section token like "2.1.HEADER" into the numeric
// part path and the trailing specifier.
func splitSection(token string) ([]int, string, error) {
	if token == "" {
		return nil, "", nil
	}
	segments := strings.Split(token, ".")
	var path []int
	i := 0
	for ; i < len(segments); i++ {
		n, err := strconv.Atoi(segments[i])
		if err != nil {
			break
		}
		if n < 1 {
			return nil, "", fmt.Errorf("invalid body part number %d", n)
		}
		path = append(path, n)
	}
	specifier := strings.ToUpper(strings.Join(segments[i:], "."))
	switch specifier {
	case "", "HEADER", "MIME", "TEXT", "HEADER.FIELDS", "HEADER.FIELDS.NOT":
	default:
		return nil, "", fmt.Errorf("invalid section %s", token)
	}
	if specifier == "MIME" && len(path) == 0 {
		return nil, "", fmt.Errorf("MIME requires a part number")
	}
	return path, specifier, nil
}

func resolvePart(root *store.Part, path []int) (*store.Part, error) {
	cur := root
	for _, n := range path {
		if len(cur.Children) == 0 && cur.Embedded != nil {
			cur = cur.Embedded
		}
		if len(cur.Children) > 0 {
			if n > len(cur.Children) {
				return nil, fmt.Errorf("no such body part %d", n)
			}
			cur = cur.Children[n-1]
			continue
		}
		// Part 1 of a non-multipart body is the body itself.
		if n != 1 {
			return nil, fmt.Errorf("no such body part %d", n)
		}
	}
	return cur, nil
}

func partContent(part *store.Part) []byte {
	if part.Embedded != nil {
		return part.Body
	}
	if len(part.Children) > 0 {
		return []byte(part.Text())
	}
	return part.Body
}

func filterHeader(part *store.Part, fields []*wire.Node, keep bool) []byte {
	wanted := make(map[string]bool, len(fields))
	for _, f := range fields {
		wanted[strings.ToLower(f.Str())] = true
	}

	var lines []string
	for _, line := range part.Header {
		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if wanted[strings.ToLower(strings.TrimSpace(name))] == keep {
			lines = append(lines, line)
		}
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}
