package fetch

import (
	"strings"

	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// BodyStructure projects a part tree into the BODY or BODYSTRUCTURE shape.
// extensible adds the extension fields (md5, disposition, language for
// leaves; parameters and friends for multiparts), which is what separates
// the two fetch items.
func BodyStructure(part *store.Part, extensible bool) *wire.Node {
	if len(part.Children) > 0 {
		return multipartStructure(part, extensible)
	}
	return leafStructure(part, extensible)
}

func multipartStructure(part *store.Part, extensible bool) *wire.Node {
	var nodes []*wire.Node
	for _, child := range part.Children {
		nodes = append(nodes, BodyStructure(child, extensible))
	}

	_, subtype := splitMediaType(part.MediaType, "multipart/mixed")
	nodes = append(nodes, wire.NewString(subtype))
	if extensible {
		nodes = append(nodes,
			paramList(part.Params),
			wire.NewNil(), // disposition
			wire.NewNil(), // language
		)
	}
	return wire.NewList(nodes...)
}

func leafStructure(part *store.Part, extensible bool) *wire.Node {
	mediaType, subtype := splitMediaType(part.MediaType, "text/plain")

	encoding := strings.ToUpper(part.Encoding)
	if encoding == "" {
		encoding = "7BIT"
	}

	nodes := []*wire.Node{
		wire.NewString(mediaType),
		wire.NewString(subtype),
		paramList(part.Params),
		stringOrNil(part.Fields.Get("Content-Id")),
		stringOrNil(part.Fields.Get("Content-Description")),
		wire.NewString(encoding),
		wire.NewNumber(uint32(part.Size())),
	}

	switch {
	case part.Embedded != nil:
		nodes = append(nodes,
			Envelope(part.Embedded),
			BodyStructure(part.Embedded, extensible),
			wire.NewNumber(uint32(part.Lines())),
		)
	case mediaType == "TEXT":
		nodes = append(nodes, wire.NewNumber(uint32(part.Lines())))
	}

	if extensible {
		nodes = append(nodes,
			wire.NewNil(), // md5
			wire.NewNil(), // disposition
			wire.NewNil(), // language
		)
	}
	return wire.NewList(nodes...)
}

func splitMediaType(mediaType, fallback string) (string, string) {
	if mediaType == "" {
		mediaType = fallback
	}
	t, sub, ok := strings.Cut(mediaType, "/")
	if !ok {
		sub = "PLAIN"
	}
	return strings.ToUpper(t), strings.ToUpper(sub)
}

func paramList(params map[string]string) *wire.Node {
	if len(params) == 0 {
		return wire.NewNil()
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	var nodes []*wire.Node
	for _, k := range keys {
		nodes = append(nodes, wire.NewString(strings.ToUpper(k)), wire.NewString(params[k]))
	}
	return wire.NewList(nodes...)
}
