package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadPacketHeader reads and validates a PacketHeader from r.
func ReadPacketHeader(r io.Reader) (*PacketHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading packet magic: %w", err)
	}
	if magic != MagicPacket {
		return nil, ErrInvalidMagic
	}

	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("reading packet version: %w", err)
	}
	if version[0] != ProtocolVersion {
		return nil, ErrInvalidVersion
	}

	var flowID uint16
	if err := binary.Read(r, binary.BigEndian, &flowID); err != nil {
		return nil, fmt.Errorf("reading packet flow id: %w", err)
	}
	var omniType uint16
	if err := binary.Read(r, binary.BigEndian, &omniType); err != nil {
		return nil, fmt.Errorf("reading packet omni type: %w", err)
	}
	var seq uint32
	if err := binary.Read(r, binary.BigEndian, &seq); err != nil {
		return nil, fmt.Errorf("reading packet seq: %w", err)
	}
	var tableIndex int32
	if err := binary.Read(r, binary.BigEndian, &tableIndex); err != nil {
		return nil, fmt.Errorf("reading packet table index: %w", err)
	}

	return &PacketHeader{
		FlowID:     flowID,
		OmniType:   OmniType(omniType),
		Seq:        seq,
		TableIndex: tableIndex,
	}, nil
}

// ReadNACK reads and validates a NACKFrame from r.
func ReadNACK(r io.Reader) (*NACKFrame, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading nack magic: %w", err)
	}
	if magic != MagicNACK {
		return nil, ErrInvalidMagic
	}

	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("reading nack version: %w", err)
	}
	if version[0] != ProtocolVersion {
		return nil, ErrInvalidVersion
	}

	f := &NACKFrame{}
	for _, dst := range []any{&f.FlowID, &f.AdamapID, &f.StartSeq, &f.ReprLength, &f.TableIndex, &f.CumAckSeq} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, fmt.Errorf("reading nack field: %w", err)
		}
	}

	var retransTier uint32
	if err := binary.Read(r, binary.BigEndian, &retransTier); err != nil {
		return nil, fmt.Errorf("reading nack retrans tier: %w", err)
	}
	f.RetransTier = int(retransTier)

	var bitmapSize uint32
	if err := binary.Read(r, binary.BigEndian, &bitmapSize); err != nil {
		return nil, fmt.Errorf("reading nack bitmap size: %w", err)
	}
	f.BitmapSize = int(bitmapSize)

	for i := range f.Words {
		if err := binary.Read(r, binary.BigEndian, &f.Words[i]); err != nil {
			return nil, fmt.Errorf("reading nack bitmap word: %w", err)
		}
	}

	return f, nil
}
