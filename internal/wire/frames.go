// Package wire implements the on-wire framing for OmniDMA adamap
// traffic: the packet header every data/retransmit packet carries, and
// the NACK frame the receiver sends back.
package wire

import "errors"

// Magic bytes identifying each frame type on the wire.
var (
	MagicPacket = [4]byte{'O', 'M', 'N', 'I'}
	MagicNACK   = [4]byte{'O', 'N', 'A', 'K'}
)

// ProtocolVersion is the current wire format version.
const ProtocolVersion byte = 0x01

// Errors returned by the reader.
var (
	ErrInvalidMagic   = errors.New("wire: invalid magic bytes")
	ErrInvalidVersion = errors.New("wire: unsupported protocol version")
	ErrTruncatedFrame = errors.New("wire: truncated frame")
)

// OmniType tags a packet header with its retransmission lineage: an
// original transmission, a first retry off the NIC cache, or a
// multi-retry fetch off the lookup table.
type OmniType uint16

const (
	OmniTypeOriginal OmniType = iota
	OmniTypeFirstRetrans
	OmniTypeMultiRetrans
)

// PacketHeader precedes every data packet's payload, letting the
// receiver route it to the right tier of Store.Record.
// Wire format: Magic[4] Version[1] FlowID[2] OmniType[2] Seq[4] TableIndex[4].
type PacketHeader struct {
	FlowID     uint16
	OmniType   OmniType
	Seq        uint32
	TableIndex int32 // -1 when OmniType != OmniTypeMultiRetrans
}

// PacketHeaderSize is the encoded size of a PacketHeader, magic and
// version included.
const PacketHeaderSize = 4 + 1 + 2 + 2 + 4 + 4

// NACKHeaderSize is the fixed-size portion of a NACK frame preceding its
// adamap bitmap words: Magic[4] Version[1] FlowID[2] AdamapID[4]
// StartSeq[4] ReprLength[4] TableIndex[4] CumAckSeq[4] RetransTier[4]
// BitmapSize[4].
const NACKHeaderSize = 4 + 1 + 2 + 4 + 4 + 4 + 4 + 4 + 4 + 4

// NACKFrame is the receiver-to-sender retransmission request: an adamap
// plus the cumulative ack sequence and the retransmission tier the sender
// should resend at, per spec.md §4.4's seven-field NACK — without the tier,
// the sender can't tell a tier-2 resend from a tier-3+ one once this
// frame crosses the wire.
type NACKFrame struct {
	FlowID      uint16
	AdamapID    uint32
	StartSeq    uint32
	ReprLength  uint32
	TableIndex  int32
	CumAckSeq   uint32
	RetransTier int
	BitmapSize  int
	Words       [4]uint64
}
