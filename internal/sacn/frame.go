package sacn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

const (
	Port         = 5568
	MaxSlots     = 512
	MinUniverse  = 1
	MaxUniverse  = 63999
	HeaderLength = 126 // root + framing + dmp layers up to and including the start code

	rootVectorData    = 0x00000004
	framingVectorData = 0x00000002
	dmpVectorSetProp  = 0x02
	dmpAddressType    = 0xa1
	preambleSize      = 0x0010
	pduFlags          = 0x7
)

// packetID identifies the datagram as E1.17
var packetID = []byte{0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00}

// offsets into an E1.31 data packet
const (
	offPreamble      = 0
	offPostamble     = 2
	offPacketID      = 4
	offRootFlagsLen  = 16
	offRootVector    = 18
	offCID           = 22
	offFrameFlagsLen = 38
	offFrameVector   = 40
	offSourceName    = 44
	offPriority      = 108
	offSyncAddr      = 109
	offSequence      = 111
	offOptions       = 112
	offUniverse      = 113
	offDMPFlagsLen   = 115
	offDMPVector     = 117
	offAddrType      = 118
	offFirstAddr     = 119
	offAddrInc       = 121
	offValueCount    = 123
	offStartCode     = 125
)

// Frame is one decoded DMX universe update. Frames are never modified after
// Decode returns them.
type Frame struct {
	Universe  uint16
	Sequence  uint8
	StartCode byte
	SlotCount int
	Slots     [MaxSlots]byte
	// Raw is a private copy of the datagram the frame was decoded from.
	Raw []byte
}

// DecodeError describes why a datagram was rejected.
type DecodeError struct {
	Reason string
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid sACN packet: %s (offset %d)", e.Reason, e.Offset)
}

func decodeErr(reason string, offset int) *DecodeError {
	return &DecodeError{Reason: reason, Offset: offset}
}

// Decode parses an E1.31 data packet. It does not retain data.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderLength {
		return Frame{}, decodeErr(fmt.Sprintf("packet too short: %d bytes", len(data)), 0)
	}
	if binary.BigEndian.Uint16(data[offPreamble:]) != preambleSize {
		return Frame{}, decodeErr("invalid preamble size", offPreamble)
	}
	if binary.BigEndian.Uint16(data[offPostamble:]) != 0 {
		return Frame{}, decodeErr("invalid post-amble size", offPostamble)
	}
	if !bytes.Equal(data[offPacketID:offRootFlagsLen], packetID) {
		return Frame{}, decodeErr("invalid ACN packet identifier", offPacketID)
	}

	// each layer's length counts from its own flags field to the end of the packet
	for _, off := range []int{offRootFlagsLen, offFrameFlagsLen, offDMPFlagsLen} {
		flags, length := splitFlagsLength(data[off:])
		if flags != pduFlags {
			return Frame{}, decodeErr("invalid PDU flags", off)
		}
		if length > len(data)-off || length < HeaderLength-off {
			return Frame{}, decodeErr(fmt.Sprintf("invalid PDU length: %d", length), off)
		}
	}

	if binary.BigEndian.Uint32(data[offRootVector:]) != rootVectorData {
		return Frame{}, decodeErr("unsupported root vector", offRootVector)
	}
	if binary.BigEndian.Uint32(data[offFrameVector:]) != framingVectorData {
		return Frame{}, decodeErr("unsupported framing vector", offFrameVector)
	}
	if data[offDMPVector] != dmpVectorSetProp {
		return Frame{}, decodeErr("invalid DMP vector", offDMPVector)
	}
	if data[offAddrType] != dmpAddressType {
		return Frame{}, decodeErr("invalid address and data type", offAddrType)
	}
	if binary.BigEndian.Uint16(data[offFirstAddr:]) != 0 {
		return Frame{}, decodeErr("invalid first property address", offFirstAddr)
	}
	if binary.BigEndian.Uint16(data[offAddrInc:]) != 1 {
		return Frame{}, decodeErr("invalid address increment", offAddrInc)
	}

	count := int(binary.BigEndian.Uint16(data[offValueCount:]))
	if count < 1 || count > MaxSlots+1 {
		return Frame{}, decodeErr(fmt.Sprintf("invalid property value count: %d", count), offValueCount)
	}
	if offStartCode+count > len(data) {
		return Frame{}, decodeErr(fmt.Sprintf("property value count %d exceeds packet", count), offValueCount)
	}

	universe := binary.BigEndian.Uint16(data[offUniverse:])
	if universe < MinUniverse || universe > MaxUniverse {
		return Frame{}, decodeErr(fmt.Sprintf("universe out of range: %d", universe), offUniverse)
	}

	f := Frame{
		Universe:  universe,
		Sequence:  data[offSequence],
		StartCode: data[offStartCode],
		SlotCount: count - 1,
		Raw:       append([]byte(nil), data...),
	}
	copy(f.Slots[:], data[offStartCode+1:offStartCode+count])

	return f, nil
}

func splitFlagsLength(b []byte) (flags byte, length int) {
	v := binary.BigEndian.Uint16(b)
	return byte(v >> 12), int(v & 0x0fff)
}

// ValidUniverse reports whether u is addressable over sACN.
func ValidUniverse(u uint16) bool {
	return u >= MinUniverse && u <= MaxUniverse
}

// MulticastGroup returns the group a universe is transmitted on:
// 239.255.<universe high byte>.<universe low byte>, port 5568.
func MulticastGroup(universe uint16) *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.IPv4(239, 255, byte(universe>>8), byte(universe)),
		Port: Port,
	}
}
