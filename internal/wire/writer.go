package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WritePacketHeader writes h to w.
func WritePacketHeader(w io.Writer, h PacketHeader) error {
	if _, err := w.Write(MagicPacket[:]); err != nil {
		return fmt.Errorf("writing packet magic: %w", err)
	}
	if _, err := w.Write([]byte{ProtocolVersion}); err != nil {
		return fmt.Errorf("writing packet version: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, h.FlowID); err != nil {
		return fmt.Errorf("writing packet flow id: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint16(h.OmniType)); err != nil {
		return fmt.Errorf("writing packet omni type: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, h.Seq); err != nil {
		return fmt.Errorf("writing packet seq: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, h.TableIndex); err != nil {
		return fmt.Errorf("writing packet table index: %w", err)
	}
	return nil
}

// WriteNACK writes f to w.
func WriteNACK(w io.Writer, f NACKFrame) error {
	if _, err := w.Write(MagicNACK[:]); err != nil {
		return fmt.Errorf("writing nack magic: %w", err)
	}
	if _, err := w.Write([]byte{ProtocolVersion}); err != nil {
		return fmt.Errorf("writing nack version: %w", err)
	}
	fields := []any{f.FlowID, f.AdamapID, f.StartSeq, f.ReprLength, f.TableIndex, f.CumAckSeq}
	for _, v := range fields {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("writing nack field: %w", err)
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(f.RetransTier)); err != nil {
		return fmt.Errorf("writing nack retrans tier: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(f.BitmapSize)); err != nil {
		return fmt.Errorf("writing nack bitmap size: %w", err)
	}
	for _, word := range f.Words {
		if err := binary.Write(w, binary.BigEndian, word); err != nil {
			return fmt.Errorf("writing nack bitmap word: %w", err)
		}
	}
	return nil
}
