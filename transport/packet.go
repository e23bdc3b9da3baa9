package transport

import (
	"fmt"

	"github.com/stephenmerendino/netcode/internal/bitstream"
)

// PacketMTU bounds the total encoded size of one packet (header + all
// message records), chosen to stay under common path MTUs without
// triggering IP fragmentation.
const PacketMTU = 1452

// Header byte offsets, in wire order.
const (
	fromConnIndexOffset     = 0
	ackOffset                = 1
	lastReceivedAckOffset    = 3
	prevAcksBitfieldOffset   = 5
	reliableBundleCountOff   = 7
	unreliableBundleCountOff = 8
	payloadStartOffset       = 9
)

// Packet is one encoded datagram: a 9-byte header followed by a sequence
// of message records.
type Packet struct {
	FromConnIndex        uint8
	Ack                  uint16
	LastReceivedAck      uint16
	PrevAcksBitfield      uint16
	ReliableBundleCount   uint8
	UnreliableBundleCount uint8
	Messages              []*Message
}

// NewPacket creates an empty packet header ready to accumulate messages.
func NewPacket() *Packet {
	return &Packet{
		FromConnIndex:   ConnIndexNone,
		Ack:             AckIDNone,
		LastReceivedAck: AckIDNone,
	}
}

// EncodedSize returns the total byte size if the packet were written now.
func (p *Packet) EncodedSize() int {
	size := payloadStartOffset
	for _, m := range p.Messages {
		size += m.fullSize()
	}
	return size
}

// FreeByteCount returns how many more bytes could be added before hitting
// PacketMTU.
func (p *Packet) FreeByteCount() int {
	return PacketMTU - p.EncodedSize()
}

// CanFit reports whether msg could be appended without exceeding PacketMTU.
func (p *Packet) CanFit(msg *Message) bool {
	return msg.fullSize() <= p.FreeByteCount()
}

// AddMessage appends msg and keeps the bundle counters consistent.
func (p *Packet) AddMessage(msg *Message) {
	p.Messages = append(p.Messages, msg)
	if msg.IsReliable() {
		p.ReliableBundleCount++
	} else {
		p.UnreliableBundleCount++
	}
}

// Write encodes the packet, stamping every contained message's SentTime to
// now as it writes it.
func (p *Packet) Write(now float32) []byte {
	w := bitstream.NewWriter(PacketMTU)
	// reserve the header, filled in after we know the final counts
	header := make([]byte, payloadStartOffset)
	w.WriteBytes(header)

	for _, m := range p.Messages {
		m.writeTo(w, now)
	}

	buf := w.Bytes()
	buf[fromConnIndexOffset] = p.FromConnIndex
	putUint16(buf, ackOffset, p.Ack)
	putUint16(buf, lastReceivedAckOffset, p.LastReceivedAck)
	putUint16(buf, prevAcksBitfieldOffset, p.PrevAcksBitfield)
	buf[reliableBundleCountOff] = p.ReliableBundleCount
	buf[unreliableBundleCountOff] = p.UnreliableBundleCount
	return buf
}

// ReadPacket decodes a packet from data. Each message's SentTime is read
// from its own record; since Packet.Write stamps every record with the same
// send time, all messages from one packet share it. The NetObject system's
// staleness comparisons rely on this.
func ReadPacket(data []byte, defs map[uint8]*MessageDefinition) (*Packet, error) {
	if len(data) < payloadStartOffset {
		return nil, fmt.Errorf("transport: packet too small: %d bytes", len(data))
	}
	p := &Packet{
		FromConnIndex:         data[fromConnIndexOffset],
		Ack:                   getUint16(data, ackOffset),
		LastReceivedAck:       getUint16(data, lastReceivedAckOffset),
		PrevAcksBitfield:      getUint16(data, prevAcksBitfieldOffset),
		ReliableBundleCount:   data[reliableBundleCountOff],
		UnreliableBundleCount: data[unreliableBundleCountOff],
	}

	r := bitstream.NewReader(data)
	// advance the cursor past the header we already parsed above
	if _, err := r.ReadBytes(payloadStartOffset); err != nil {
		return nil, err
	}

	total := int(p.ReliableBundleCount) + int(p.UnreliableBundleCount)
	for i := 0; i < total; i++ {
		msg, err := readMessage(r, defs)
		if err != nil {
			return nil, err
		}
		p.Messages = append(p.Messages, msg)
	}
	return p, nil
}

func putUint16(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

func getUint16(buf []byte, off int) uint16 {
	return uint16(buf[off]) | uint16(buf[off+1])<<8
}

// PacketTracker records, for one sent ack id, which reliable ids rode
// along in that packet, so a later ack can confirm all of them at once.
type PacketTracker struct {
	AckID       uint16
	ReliableIDs []uint16
	Confirmed   bool
}
