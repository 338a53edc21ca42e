package sacn

import (
	"encoding/binary"
	"fmt"
)

// Packet holds the fields of an E1.31 data packet that a sender controls.
// The proxy never transmits sACN itself; Packet exists to build datagrams for
// test sources and tooling.
type Packet struct {
	CID        [16]byte // component identifier
	SourceName string   // up to 63 bytes, null padded to 64
	Priority   byte     // 0-200, 100 when zero
	SyncAddr   uint16
	Sequence   byte
	Options    byte
	Universe   uint16
	StartCode  byte
	Slots      []byte // 0-512 bytes
}

// Encode returns the wire representation of p.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Slots) > MaxSlots {
		return nil, fmt.Errorf("too many slots: %d", len(p.Slots))
	}
	if len(p.SourceName) > 63 {
		return nil, fmt.Errorf("source name too long: %d bytes", len(p.SourceName))
	}

	priority := p.Priority
	if priority == 0 {
		priority = 100
	}

	buf := make([]byte, HeaderLength+len(p.Slots))
	binary.BigEndian.PutUint16(buf[offPreamble:], preambleSize)
	binary.BigEndian.PutUint16(buf[offPostamble:], 0)
	copy(buf[offPacketID:], packetID)
	putFlagsLength(buf[offRootFlagsLen:], len(buf)-offRootFlagsLen)
	binary.BigEndian.PutUint32(buf[offRootVector:], rootVectorData)
	copy(buf[offCID:offFrameFlagsLen], p.CID[:])

	putFlagsLength(buf[offFrameFlagsLen:], len(buf)-offFrameFlagsLen)
	binary.BigEndian.PutUint32(buf[offFrameVector:], framingVectorData)
	copy(buf[offSourceName:offPriority], p.SourceName)
	buf[offPriority] = priority
	binary.BigEndian.PutUint16(buf[offSyncAddr:], p.SyncAddr)
	buf[offSequence] = p.Sequence
	buf[offOptions] = p.Options
	binary.BigEndian.PutUint16(buf[offUniverse:], p.Universe)

	putFlagsLength(buf[offDMPFlagsLen:], len(buf)-offDMPFlagsLen)
	buf[offDMPVector] = dmpVectorSetProp
	buf[offAddrType] = dmpAddressType
	binary.BigEndian.PutUint16(buf[offFirstAddr:], 0)
	binary.BigEndian.PutUint16(buf[offAddrInc:], 1)
	binary.BigEndian.PutUint16(buf[offValueCount:], uint16(len(p.Slots)+1))
	buf[offStartCode] = p.StartCode
	copy(buf[offStartCode+1:], p.Slots)

	return buf, nil
}

// Encode builds a null start code data packet for universe.
func Encode(universe uint16, sequence byte, slots []byte) ([]byte, error) {
	p := &Packet{
		SourceName: "sacnproxy",
		Sequence:   sequence,
		Universe:   universe,
		Slots:      slots,
	}
	return p.Encode()
}

func putFlagsLength(b []byte, length int) {
	binary.BigEndian.PutUint16(b, uint16(pduFlags)<<12|uint16(length&0x0fff))
}
