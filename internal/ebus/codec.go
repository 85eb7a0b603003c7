package ebus

// This file implements C2, the byte codec: escape/unescape of 0xAA/0xA9 on
// the raw bus stream, and the adapter's "enhanced" two-octets-per-octet
// wire encoding layered on top of it.

// enhanced command nibbles, per the adapter firmware.
const (
	cmdReceived         = 1
	cmdArbitrationStart = 2
	cmdFail             = 10
)

// EscapeExpand returns the escape-expanded form of raw: every 0xAA becomes
// 0xA9 0x01 and every 0xA9 becomes 0xA9 0x00; every other octet passes
// through unchanged. This is T_e in §3's TX context.
func EscapeExpand(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		switch b {
		case SYN:
			out = append(out, 0xA9, 0x01)
		case 0xA9:
			out = append(out, 0xA9, 0x00)
		default:
			out = append(out, b)
		}
	}
	return out
}

// EscapeDecoder mirrors EscapeExpand: it holds the one-bit "escape pending"
// flag the decoder needs to carry across byte boundaries.
type EscapeDecoder struct {
	pending bool
}

// Decode feeds one raw bus octet through the escape decoder. ok is false
// while a 0xA9 prefix is being held and awaiting its successor; once the
// pair completes (or a plain octet arrives) ok is true and raw holds the
// decoded octet.
func (d *EscapeDecoder) Decode(b byte) (raw byte, ok bool) {
	if b == 0xA9 {
		d.pending = true
		return 0, false
	}
	if d.pending {
		d.pending = false
		switch b {
		case 0x00:
			return 0xA9, true
		case 0x01:
			return SYN, true
		default:
			// malformed escape sequence; pass the octet through rather than
			// dropping it, consistent with the RX tap's fault-tolerant design.
			return b, true
		}
	}
	return b, true
}

// EnhancedPair is the adapter's two-octet wire encoding of a single source
// octet b tagged with a 4-bit command.
func EnhancedPair(b byte, cmd byte) [2]byte {
	return [2]byte{
		0xC0 | (cmd << 2) | ((b & 0xC0) >> 6),
		0x80 | (b & 0x3F),
	}
}

// EnhancedExpand encodes every octet of expanded (already escape-expanded)
// with the given command nibble, always emitting exactly two octets per
// source octet. This is T_ee in §3's TX context.
func EnhancedExpand(expanded []byte, cmd byte) []byte {
	out := make([]byte, 0, len(expanded)*2)
	for _, b := range expanded {
		pair := EnhancedPair(b, cmd)
		out = append(out, pair[0], pair[1])
	}
	return out
}

// ArbitrationEvent reports an arbitration outcome observed in the enhanced
// decode stream.
type ArbitrationEvent int

const (
	// EventNone means the decoded octet carried no arbitration signal.
	EventNone ArbitrationEvent = iota
	// EventWon means the adapter reported command nibble 2 (arbitration success).
	EventWon
	// EventLost means the adapter reported command nibble 10 (fail).
	EventLost
)

// EnhancedDecoder reassembles the adapter's two-octet enhanced frames back
// into raw octets, tracking the one-byte latch plus "first byte pending"
// flag described in §3's Decoder state.
type EnhancedDecoder struct {
	first   byte
	pending bool
}

// Decode feeds one octet read from the adapter. forward is true when a
// fully-reassembled octet should be handed to the raw (escape) decoder:
// this happens for legacy passthrough bytes (bit 7 clear) and for completed
// enhanced pairs whose command nibble is RECEIVED, ARBITRATION_START, or
// FAIL. Any other command nibble is dropped silently (with a diagnostic
// left to the caller) and forward is false.
func (d *EnhancedDecoder) Decode(b byte) (raw byte, forward bool, event ArbitrationEvent) {
	if b&0x80 == 0 {
		// legacy passthrough: no command nibble, carries its value directly.
		return b, true, EventNone
	}
	if b&0xC0 == 0xC0 {
		// first byte of a pair.
		d.first = b
		d.pending = true
		return 0, false, EventNone
	}
	// b&0xC0 == 0x80: second byte of a pair.
	if !d.pending {
		// stray second byte with no matching first; nothing to reassemble.
		return 0, false, EventNone
	}
	d.pending = false
	first := d.first
	value := ((first & 0x03) << 6) | (b & 0x3F)
	cccc := (first & 0x3C) >> 2
	switch cccc {
	case cmdArbitrationStart:
		return value, true, EventWon
	case cmdFail:
		return value, true, EventLost
	case cmdReceived:
		return value, true, EventNone
	default:
		return 0, false, EventNone
	}
}
