package broker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/makischu/ebusd-light-B5/internal/ebus"
)

// This file implements the JSON envelope codec spec.md §6 assigns to the
// "request ingest" and "egress publish" collaborators: {"telegram":"HH HH
// ..."} with space-separated, two-digit hex octets.

// ErrMalformedEnvelope is returned by DecodeRequest when the payload is not
// a flat {"telegram": "..."} object, or its telegram string does not parse
// as whitespace-separated hex octets.
var ErrMalformedEnvelope = errors.New("broker: malformed telegram envelope")

// DecodeRequest tolerantly parses a JSON object of the form
// {"telegram":"HH HH HH ..."}: a flat object, exactly one occurrence of the
// "telegram" key, the value a double-quoted string with no internal
// escaping. It does not use encoding/json, since the original's hand-rolled
// parser (see original_source/ebusd-light.cpp) is just as tolerant of
// incidental whitespace and key ordering as a strict decoder would need to
// be told to be, and a hand-rolled scan keeps this collaborator boundary a
// single, auditable pass over the input.
func DecodeRequest(payload []byte) (ebus.Telegram, error) {
	s := string(payload)
	key := strings.Index(s, `"telegram"`)
	if key < 0 {
		return nil, ErrMalformedEnvelope
	}
	rest := s[key+len(`"telegram"`):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return nil, ErrMalformedEnvelope
	}
	rest = rest[colon+1:]
	open := strings.IndexByte(rest, '"')
	if open < 0 {
		return nil, ErrMalformedEnvelope
	}
	rest = rest[open+1:]
	close := strings.IndexByte(rest, '"')
	if close < 0 {
		return nil, ErrMalformedEnvelope
	}
	hexField := rest[:close]
	return parseHexOctets(hexField)
}

func parseHexOctets(field string) (ebus.Telegram, error) {
	fields := strings.Fields(field)
	if len(fields) == 0 {
		return nil, ErrMalformedEnvelope
	}
	out := make(ebus.Telegram, 0, len(fields))
	for _, f := range fields {
		if len(f) != 2 {
			return nil, errors.Wrapf(ErrMalformedEnvelope, "octet %q is not two hex digits", f)
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedEnvelope, "octet %q is not valid hex", f)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// EncodeTelegram renders t as {"telegram":"HH HH ..."}: uppercase hex,
// space-separated, no trailing space, matching the egress publish contract.
func EncodeTelegram(t ebus.Telegram) []byte {
	var b strings.Builder
	b.WriteString(`{"telegram":"`)
	for i, octet := range t {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", octet)
	}
	b.WriteString(`"}`)
	return []byte(b.String())
}
