// Package ebus implements the eBUS link-layer engine: byte escaping, the
// adapter's enhanced two-byte framing, the CRC-8 used on the wire, the RX
// framer that taps the bus, and the TX state machine that drives a single
// master request through arbitration, acknowledgement and response capture.
//
// Nothing in this package touches a socket. It consumes and produces plain
// byte slices so that internal/driver can wire it to whatever transport and
// broker implementations collaborate with it.
package ebus

import "fmt"

// MaxTelegramLen is the largest number of octets a Telegram may hold. The
// original C implementation backs a Telegram with a fixed uint8_t[256]
// array; Go slices do not need the fixed backing store, but RX accumulation
// still has to respect the same capacity so that overflow behavior matches.
const MaxTelegramLen = 256

// SYN is the bus synchronization octet. It marks an idle bus and separates
// telegrams from one another.
const SYN byte = 0xAA

// ack/nak values used in both the master ACK-of-response and slave
// ACK-of-request positions.
const (
	ACK byte = 0x00
	NAK byte = 0xFF
)

// BroadcastAddr is the ZZ value meaning "no response or ACK is expected."
const BroadcastAddr byte = 0xFE

// Telegram is an ordered sequence of bus octets. Its length is len(t); the
// 256-octet cap is enforced where accumulation happens (see Framer.Feed),
// not by the type itself.
type Telegram []byte

// masterAddresses is the 25-element cross product of {0,1,3,7,F} nibbles in
// both the high and low position.
var masterAddresses = buildMasterAddresses()

func buildMasterAddresses() map[byte]bool {
	nibbles := [5]byte{0x0, 0x1, 0x3, 0x7, 0xF}
	m := make(map[byte]bool, 25)
	for _, hi := range nibbles {
		for _, lo := range nibbles {
			m[hi<<4|lo] = true
		}
	}
	return m
}

// IsMasterAddress reports whether addr is one of the 25 eBUS master
// addresses.
func IsMasterAddress(addr byte) bool {
	return masterAddresses[addr]
}

// MasterAddresses returns the 25 master addresses in ascending order. Used
// by tests and by anything that wants to enumerate or validate against the
// full set without reaching into the package-private map.
func MasterAddresses() []byte {
	out := make([]byte, 0, len(masterAddresses))
	for a := range masterAddresses {
		out = append(out, a)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// QQ, ZZ, PB, SB, NN return the fixed-position header fields of a master
// request telegram. Callers must have already checked len(t) >= 5
// (IsPlausibleTx does this); these are cheap accessors, not validators.
func (t Telegram) QQ() byte { return t[0] }
func (t Telegram) ZZ() byte { return t[1] }
func (t Telegram) PB() byte { return t[2] }
func (t Telegram) SB() byte { return t[3] }
func (t Telegram) NN() byte { return t[4] }

// masterFrameLen returns 6+NN, the total length of a well-formed master
// request (QQ ZZ PB SB NN D1..Dn CRC).
func masterFrameLen(nn byte) int { return 6 + int(nn) }

// IsPlausibleTx reports whether t could be sent as a master request: QQ is
// a master address, NN <= 16, the length is exactly 6+NN, and the master
// CRC validates. This is the "plausible for TX" predicate from §3.
func (t Telegram) IsPlausibleTx() bool {
	if len(t) < 6 {
		return false
	}
	nn := t.NN()
	if nn > 16 {
		return false
	}
	if !IsMasterAddress(t.QQ()) {
		return false
	}
	if len(t) != masterFrameLen(nn) {
		return false
	}
	return CRC(t[:5+int(nn)]) == t[5+int(nn)]
}

// IsPlausibleRx reports whether t is worth publishing to the egress
// collaborator. This is intentionally lax (len > 1): the RX path is a
// passive tap and forwards any inter-SYN interval with content, CRC errors
// included, so higher layers can observe bus faults.
func (t Telegram) IsPlausibleRx() bool {
	return len(t) > 1
}

// ResponseReady reports whether buf (the echo of a request of length reqLen
// followed by whatever the slave has sent back) already holds a complete
// ACK/NN'/data'/CRC' sub-frame, without judging whether that sub-frame's CRC
// is valid. respLen is 3+NN' once NN' can be read; it is meaningless when
// ready is false.
func ResponseReady(buf Telegram, reqLen int) (ready bool, respLen int) {
	if len(buf) <= reqLen+1 {
		return false, 0
	}
	nn := buf[reqLen+1]
	if len(buf) < reqLen+3 || nn > 16 {
		return false, 0
	}
	respLen = 3 + int(nn)
	return len(buf) >= reqLen+respLen, respLen
}

// VerifySlaveResponse checks the ACK/NN'/data'/CRC' sub-frame that follows a
// master request of length reqLen inside buf. Callers should only call this
// once ResponseReady has reported the sub-frame complete.
func VerifySlaveResponse(buf Telegram, reqLen int) bool {
	ready, respLen := ResponseReady(buf, reqLen)
	if !ready {
		return false
	}
	nn := int(buf[reqLen+1])
	sub := buf[reqLen : reqLen+respLen]
	return CRC(sub[:2+nn]) == sub[2+nn]
}

func (t Telegram) String() string {
	return fmt.Sprintf("% X", []byte(t))
}
