package ebus

import (
	"bytes"
	"testing"
)

func feedAll(f *Framer, bs []byte) []Telegram {
	var out []Telegram
	for _, b := range bs {
		if tg, ok := f.Feed(b); ok {
			out = append(out, tg)
		}
	}
	return out
}

func TestFramerSlicesAtSYN(t *testing.T) {
	f := NewFramer()
	stream := []byte{SYN, 0x00, 0x08, 0xB5, SYN, 0x01, SYN}
	got := feedAll(f, stream)
	if len(got) != 2 {
		t.Fatalf("got %d telegrams, want 2: %v", len(got), got)
	}
	if !bytes.Equal(got[0], []byte{0x00, 0x08, 0xB5, SYN}) {
		t.Errorf("first telegram = %X", got[0])
	}
	if !bytes.Equal(got[1], []byte{0x01, SYN}) {
		t.Errorf("second telegram = %X", got[1])
	}
	if f.OkCount != 2 {
		t.Errorf("OkCount = %d, want 2", f.OkCount)
	}
}

func TestFramerSingleSYNNotPublished(t *testing.T) {
	f := NewFramer()
	got := feedAll(f, []byte{SYN})
	if len(got) != 0 {
		t.Fatalf("lone SYN should not be published, got %v", got)
	}
	if f.OkCount != 0 || f.BadCount != 0 {
		t.Fatalf("lone SYN should not move either counter: ok=%d bad=%d", f.OkCount, f.BadCount)
	}
}

func TestFramerOverflowResetsSilently(t *testing.T) {
	f := NewFramer()
	for i := 0; i < MaxTelegramLen+10; i++ {
		f.Feed(0x01)
	}
	if f.OkCount != 0 || f.BadCount != 0 {
		t.Fatalf("overflow without a SYN should not move either counter: ok=%d bad=%d", f.OkCount, f.BadCount)
	}
	got, ok := f.Feed(SYN)
	if !ok || len(got) == 0 {
		t.Fatalf("telegram following overflow should still be reported once a SYN arrives")
	}
}

func TestFramerBadCounterNeverIncrementsGivenLaxPlausibility(t *testing.T) {
	// A corrupt-CRC telegram is still len>1, so IsPlausibleRx accepts it and
	// it is published via OkCount; BadCount only moves for candidates that
	// are simultaneously >1 byte long AND fail IsPlausibleRx, which cannot
	// happen with today's lax predicate. This mirrors the same dead branch
	// in the original C implementation.
	f := NewFramer()
	stream := []byte{SYN, 0x00, 0x08, 0xB5, 0x04, 0x02, 0x25, 0x16, 0x00 /* bad CRC */, SYN}
	feedAll(f, stream)
	if f.BadCount != 0 {
		t.Fatalf("BadCount = %d, want 0", f.BadCount)
	}
	if f.OkCount != 1 {
		t.Fatalf("OkCount = %d, want 1", f.OkCount)
	}
}
