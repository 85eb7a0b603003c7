package ebus

// This file implements C3, the RX framer: it consumes decoded raw bus
// octets one at a time, slices them into candidate telegrams at SYN
// boundaries, and reports the plausible ones. The framer does not touch the
// TX engine: the driver hands the same decoded octet to
// TxEngine.ObserveEcho itself, since both run on the single driver-loop
// thread and share the decoded byte stream (§5).

// Framer accumulates decoded bus octets and emits complete inter-SYN
// intervals. It owns the counters used purely for observability (§4.3).
type Framer struct {
	buf Telegram

	OkCount  int
	BadCount int
}

// NewFramer returns a Framer with an empty accumulator.
func NewFramer() *Framer {
	return &Framer{buf: make(Telegram, 0, MaxTelegramLen)}
}

// Feed appends one decoded raw octet to the accumulator. When the octet is
// SYN, the accumulator (including the trailing SYN) is evaluated as one
// candidate telegram: if it is plausible for RX (len > 1) it is returned for
// the caller to publish and the ok counter is incremented; otherwise, if it
// held more than a single stray SYN, the bad counter is incremented. Either
// way the accumulator is cleared. Overflow before a SYN is observed resets
// the accumulator to empty, silently, per §3's invariant.
//
// telegram is non-nil only on the iteration that completes an inter-SYN
// interval worth reporting.
func (f *Framer) Feed(b byte) (telegram Telegram, plausible bool) {
	if len(f.buf) >= MaxTelegramLen {
		f.buf = f.buf[:0]
	}
	f.buf = append(f.buf, b)

	if b != SYN {
		return nil, false
	}

	candidate := f.buf
	f.buf = make(Telegram, 0, MaxTelegramLen)

	if candidate.IsPlausibleRx() {
		f.OkCount++
		return candidate, true
	}
	// IsPlausibleRx is len>1, so this branch never fires today; it mirrors
	// the same dead branch in the original implementation and is where a
	// future, stricter plausibility check would route bad-CRC telegrams.
	if len(candidate) > 1 {
		f.BadCount++
	}
	return nil, false
}
