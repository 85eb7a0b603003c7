package ebus

import (
	"bytes"
	"testing"
)

func TestEscapeExpandRoundTrip(t *testing.T) {
	raw := []byte{0x00, SYN, 0xB5, 0xA9, 0x10}
	expanded := EscapeExpand(raw)
	want := []byte{0x00, 0xA9, 0x01, 0xB5, 0xA9, 0x00, 0x10}
	if !bytes.Equal(expanded, want) {
		t.Fatalf("EscapeExpand(%X) = %X, want %X", raw, expanded, want)
	}

	var dec EscapeDecoder
	var got []byte
	for _, b := range expanded {
		if raw, ok := dec.Decode(b); ok {
			got = append(got, raw)
		}
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip = %X, want %X", got, raw)
	}
}

func TestEscapeDecoderMalformedSequencePassesThrough(t *testing.T) {
	var dec EscapeDecoder
	if _, ok := dec.Decode(0xA9); ok {
		t.Fatalf("expected pending after 0xA9 prefix")
	}
	raw, ok := dec.Decode(0x42)
	if !ok || raw != 0x42 {
		t.Fatalf("Decode(0x42) after bad escape = (%#x, %v), want (0x42, true)", raw, ok)
	}
}

func TestEnhancedPair(t *testing.T) {
	cases := []struct {
		b, cmd   byte
		wantPair [2]byte
	}{
		{0x00, cmdArbitrationStart, [2]byte{0xC8, 0x80}},
		{0xA9, cmdReceived, [2]byte{0xC6, 0xA9}},
		{0x01, cmdReceived, [2]byte{0xC4, 0x81}},
		{0xB5, cmdReceived, [2]byte{0xC6, 0xB5}},
	}
	for _, c := range cases {
		got := EnhancedPair(c.b, c.cmd)
		if got != c.wantPair {
			t.Errorf("EnhancedPair(%#x, %d) = %X, want %X", c.b, c.cmd, got, c.wantPair)
		}
	}
}

func TestEnhancedExpandAndDecodeRoundTrip(t *testing.T) {
	expanded := []byte{0x00, 0x08, 0xB5, 0x04, 0x02, 0x25, 0x16, 0xD4}
	enhanced := EnhancedExpand(expanded, cmdReceived)

	var dec EnhancedDecoder
	var got []byte
	for _, b := range enhanced {
		raw, forward, event := dec.Decode(b)
		if event != EventNone {
			t.Fatalf("unexpected arbitration event %v decoding RECEIVED stream", event)
		}
		if forward {
			got = append(got, raw)
		}
	}
	if !bytes.Equal(got, expanded) {
		t.Fatalf("enhanced round trip = %X, want %X", got, expanded)
	}
}

func TestEnhancedDecoderLegacyPassthrough(t *testing.T) {
	var dec EnhancedDecoder
	raw, forward, event := dec.Decode(0x42)
	if !forward || raw != 0x42 || event != EventNone {
		t.Fatalf("legacy passthrough = (%#x, %v, %v), want (0x42, true, EventNone)", raw, forward, event)
	}
}

func TestEnhancedDecoderArbitrationEvents(t *testing.T) {
	var dec EnhancedDecoder
	pair := EnhancedPair(0x03, cmdArbitrationStart)
	dec.Decode(pair[0])
	raw, forward, event := dec.Decode(pair[1])
	if !forward || raw != 0x03 || event != EventWon {
		t.Fatalf("ARBITRATION_START decode = (%#x, %v, %v), want (0x03, true, EventWon)", raw, forward, event)
	}

	var dec2 EnhancedDecoder
	pair2 := EnhancedPair(0x03, cmdFail)
	dec2.Decode(pair2[0])
	raw2, forward2, event2 := dec2.Decode(pair2[1])
	if !forward2 || raw2 != 0x03 || event2 != EventLost {
		t.Fatalf("FAIL decode = (%#x, %v, %v), want (0x03, true, EventLost)", raw2, forward2, event2)
	}
}

func TestEnhancedDecoderUnknownCommandDropped(t *testing.T) {
	var dec EnhancedDecoder
	first := byte(0xC0 | (3 << 2)) // cccc=3, unassigned
	dec.Decode(first)
	_, forward, _ := dec.Decode(0x80)
	if forward {
		t.Fatalf("unassigned command nibble should not forward")
	}
}

func TestEnhancedDecoderStraySecondByte(t *testing.T) {
	var dec EnhancedDecoder
	_, forward, _ := dec.Decode(0x80)
	if forward {
		t.Fatalf("stray second byte with no pending first should not forward")
	}
}
