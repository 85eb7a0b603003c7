package ebus

import "testing"

func TestCRCKnownFrame(t *testing.T) {
	// QQ=0x00 ZZ=0x08 PB=0xB5 SB=0x04 NN=0x02 D1=0x25 D2=0x16, hand-verified
	// against CRC_LOOKUP_TABLE and the crc=table[crc]^byte recurrence from
	// original_source/ebusd-light.cpp, independently of this package.
	frame := []byte{0x00, 0x08, 0xB5, 0x04, 0x02, 0x25, 0x16}
	if got := CRC(frame); got != 0x39 {
		t.Fatalf("CRC(%X) = %#02x, want 0x39", frame, got)
	}
}

func TestCRCFoldsSYNInData(t *testing.T) {
	// D1 == SYN must be folded through the escape expansion before the CRC
	// walk, not treated as a literal 0xAA octet.
	frame := []byte{0x10, 0xFE, 0xB5, 0x04, 0x01, 0xAA}
	if got := CRC(frame); got != 0x42 {
		t.Fatalf("CRC(%X) = %#02x, want 0x42", frame, got)
	}
}

func TestCRCFoldsEscapeMarkerInData(t *testing.T) {
	// D1 == 0xA9 (the escape marker itself) must also be folded.
	frame := []byte{0x03, 0x03, 0x50, 0x00, 0x01, 0xA9}
	if got := CRC(frame); got != 0xA8 {
		t.Fatalf("CRC(%X) = %#02x, want 0xA8", frame, got)
	}
}

func TestCRCEmpty(t *testing.T) {
	if got := CRC(nil); got != 0x00 {
		t.Fatalf("CRC(nil) = %#02x, want 0x00", got)
	}
}

func TestCRCSlaveResponse(t *testing.T) {
	sub := []byte{0x00, 0x02, 0x10, 0x20}
	if got := CRC(sub); got != 0x3E {
		t.Fatalf("CRC(%X) = %#02x, want 0x3E", sub, got)
	}
}

func TestCRCMatchesSpecS1FirstFourteenOctets(t *testing.T) {
	// spec.md S1's adapter telegram, octets [0:14); byte [14] of that
	// telegram is the CRC 0x26, reproduced here from the algorithm alone.
	frame := []byte{0x10, 0x08, 0xB5, 0x10, 0x09, 0x00, 0x00, 0x3D, 0xFF, 0xFF, 0xFF, 0x06, 0x00, 0x00}
	if got := CRC(frame); got != 0x26 {
		t.Fatalf("CRC(%X) = %#02x, want 0x26", frame, got)
	}
}

func TestCRCMatchesSpecS3Request(t *testing.T) {
	// spec.md S3's master request, whose trailing CRC byte is 0x52.
	frame := []byte{0x10, 0xFE, 0xB5, 0x16, 0x03, 0x01, 0x70, 0x10}
	if got := CRC(frame); got != 0x52 {
		t.Fatalf("CRC(%X) = %#02x, want 0x52", frame, got)
	}
}
