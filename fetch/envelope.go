package fetch

import (
	"strings"

	"github.com/picomail/imapmock/store"
	"github.com/picomail/imapmock/wire"
)

// Envelope projects a part's header into the ten-element ENVELOPE list:
// date, subject, from, sender, reply-to, to, cc, bcc, in-reply-to and
// message-id. Sender and reply-to fall back to the from list.
func Envelope(part *store.Part) *wire.Node {
	h := part.Fields

	from := addressList(part, "From")
	sender := addressList(part, "Sender")
	if sender.Type == wire.Nil {
		sender = from
	}
	replyTo := addressList(part, "Reply-To")
	if replyTo.Type == wire.Nil {
		replyTo = from
	}

	return wire.NewList(
		stringOrNil(h.Get("Date")),
		wire.NewString(h.Get("Subject")),
		from,
		sender,
		replyTo,
		addressList(part, "To"),
		addressList(part, "Cc"),
		addressList(part, "Bcc"),
		stringOrNil(h.Get("In-Reply-To")),
		stringOrNil(h.Get("Message-Id")),
	)
}

func stringOrNil(v string) *wire.Node {
	if v == "" {
		return wire.NewNil()
	}
	return wire.NewString(v)
}

// addressList renders one address header as a list of four-element address
// structures: display name, source route (always nil), local part, domain.
func addressList(part *store.Part, field string) *wire.Node {
	if !part.Fields.Has(field) {
		return wire.NewNil()
	}
	mh := part.Mail()
	addrs, err := mh.AddressList(field)
	if err != nil || len(addrs) == 0 {
		return wire.NewNil()
	}

	var out []*wire.Node
	for _, addr := range addrs {
		local, domain, _ := strings.Cut(addr.Address, "@")
		out = append(out, wire.NewList(
			stringOrNil(addr.Name),
			wire.NewNil(),
			stringOrNil(local),
			stringOrNil(domain),
		))
	}
	return wire.NewList(out...)
}
