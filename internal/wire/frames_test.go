package wire

import (
	"bytes"
	"testing"
)

func TestPacketHeaderRoundTrip(t *testing.T) {
	cases := []PacketHeader{
		{FlowID: 1, OmniType: OmniTypeOriginal, Seq: 42, TableIndex: -1},
		{FlowID: 7, OmniType: OmniTypeFirstRetrans, Seq: 1000, TableIndex: -1},
		{FlowID: 7, OmniType: OmniTypeMultiRetrans, Seq: 1000, TableIndex: 3},
	}
	for _, h := range cases {
		var buf bytes.Buffer
		if err := WritePacketHeader(&buf, h); err != nil {
			t.Fatalf("WritePacketHeader: %v", err)
		}
		got, err := ReadPacketHeader(&buf)
		if err != nil {
			t.Fatalf("ReadPacketHeader: %v", err)
		}
		if *got != h {
			t.Fatalf("round trip mismatch: got %+v want %+v", *got, h)
		}
	}
}

func TestReadPacketHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX")
	if _, err := ReadPacketHeader(buf); err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestNACKFrameRoundTrip(t *testing.T) {
	f := NACKFrame{
		FlowID:      2,
		AdamapID:    9,
		StartSeq:    100,
		ReprLength:  4,
		TableIndex:  -1,
		CumAckSeq:   96,
		RetransTier: 1,
		BitmapSize:  4,
		Words:       [4]uint64{0b1010, 0, 0, 0},
	}
	var buf bytes.Buffer
	if err := WriteNACK(&buf, f); err != nil {
		t.Fatalf("WriteNACK: %v", err)
	}
	got, err := ReadNACK(&buf)
	if err != nil {
		t.Fatalf("ReadNACK: %v", err)
	}
	if *got != f {
		t.Fatalf("round trip mismatch: got %+v want %+v", *got, f)
	}
}
