package ebus

import "testing"

func TestMasterAddressesHas25Entries(t *testing.T) {
	addrs := MasterAddresses()
	if len(addrs) != 25 {
		t.Fatalf("got %d master addresses, want 25", len(addrs))
	}
	for i := 1; i < len(addrs); i++ {
		if addrs[i-1] >= addrs[i] {
			t.Fatalf("MasterAddresses() not sorted ascending: %X", addrs)
		}
	}
}

func TestIsMasterAddress(t *testing.T) {
	if !IsMasterAddress(0x00) {
		t.Errorf("0x00 should be a master address")
	}
	if !IsMasterAddress(0xFF) {
		t.Errorf("0xFF should be a master address")
	}
	if IsMasterAddress(0x08) {
		t.Errorf("0x08 should not be a master address")
	}
	if IsMasterAddress(0xFE) {
		t.Errorf("0xFE (broadcast) should not be a master address")
	}
}

func buildValidTelegram(t *testing.T) Telegram {
	t.Helper()
	frame := []byte{0x00, 0x08, 0xB5, 0x04, 0x02, 0x25, 0x16}
	return Telegram(append(frame, CRC(frame)))
}

func TestIsPlausibleTxAcceptsValidFrame(t *testing.T) {
	tg := buildValidTelegram(t)
	if !tg.IsPlausibleTx() {
		t.Fatalf("%s should be a plausible TX telegram", tg)
	}
}

func TestIsPlausibleTxRejectsBadCRC(t *testing.T) {
	tg := buildValidTelegram(t)
	tg[len(tg)-1] ^= 0xFF
	if tg.IsPlausibleTx() {
		t.Fatalf("%s should not be plausible with corrupted CRC", tg)
	}
}

func TestIsPlausibleTxRejectsNonMasterQQ(t *testing.T) {
	frame := []byte{0x08, 0x08, 0xB5, 0x04, 0x00}
	tg := Telegram(append(frame, CRC(frame)))
	if tg.IsPlausibleTx() {
		t.Fatalf("%s should not be plausible with non-master QQ", tg)
	}
}

func TestIsPlausibleTxRejectsLengthMismatch(t *testing.T) {
	tg := buildValidTelegram(t)
	tg = append(tg, 0x00) // trailing garbage, NN unchanged
	if tg.IsPlausibleTx() {
		t.Fatalf("%s should not be plausible with length not matching NN", tg)
	}
}

func TestIsPlausibleRx(t *testing.T) {
	if (Telegram{SYN}).IsPlausibleRx() {
		t.Fatalf("single SYN should not be plausible for RX")
	}
	if !(Telegram{0x00, SYN}).IsPlausibleRx() {
		t.Fatalf("two-byte interval should be plausible for RX")
	}
}

func TestResponseReadyAndVerify(t *testing.T) {
	req := buildValidTelegram(t)
	sub := []byte{0x00, 0x02, 0x10, 0x20}
	sub = append(sub, CRC(sub))

	buf := Telegram(append(append(Telegram{}, req...), sub...))

	ready, respLen := ResponseReady(buf, len(req))
	if !ready || respLen != 5 {
		t.Fatalf("ResponseReady = (%v, %d), want (true, 5)", ready, respLen)
	}
	if !VerifySlaveResponse(buf, len(req)) {
		t.Fatalf("VerifySlaveResponse should accept a valid response sub-frame")
	}
}

func TestResponseReadyFalseWhileIncomplete(t *testing.T) {
	req := buildValidTelegram(t)
	buf := Telegram(append(append(Telegram{}, req...), 0x00, 0x02, 0x10))
	if ready, _ := ResponseReady(buf, len(req)); ready {
		t.Fatalf("ResponseReady should be false before NN'+data+CRC are all present")
	}
}

func TestVerifySlaveResponseRejectsBadCRC(t *testing.T) {
	req := buildValidTelegram(t)
	sub := []byte{0x00, 0x02, 0x10, 0x20, 0x00} // wrong CRC
	buf := Telegram(append(append(Telegram{}, req...), sub...))
	if VerifySlaveResponse(buf, len(req)) {
		t.Fatalf("VerifySlaveResponse should reject a corrupted CRC")
	}
}
