package transport

import (
	"fmt"

	"github.com/stephenmerendino/netcode/internal/bitstream"
)

// MaxPayloadSize is the payload size limit for a single message,
// independent of MTU. Nothing in this package checks it: NewMessage accepts
// any payload, and a message is never split across packets (fragmentation
// of a single oversized message is out of scope).
const MaxPayloadSize = 1024

// Reliability/ordering/connectionless flags, carried on MessageDefinition.
const (
	FlagReliable       uint8 = 0x01
	FlagInOrder        uint8 = 0x02
	FlagConnectionless uint8 = 0x04
)

// Sentinel values meaning "not present" for the optional header fields.
const (
	ConnIndexNone   uint8  = 0xFF
	AckIDNone       uint16 = 0xFFFF
	ReliableIDNone  uint16 = 0xFFFF
	SequenceIDNone  uint16 = 0xFFFF
)

// MessageHandler processes one received message. Replacing the original's
// void*-based function-pointer/method-pointer split with a single closure
// type: a bound method value (session.handlePing) already captures its
// receiver, so no separate "method handler" variant is needed.
type MessageHandler func(msg *Message)

// MessageDefinition describes one wire message type: its id, its
// reliability/ordering/connectionless policy, and the handler invoked on
// receipt.
type MessageDefinition struct {
	ID      uint8
	Flags   uint8
	Handler MessageHandler
}

func (d MessageDefinition) IsReliable() bool       { return d.Flags&FlagReliable != 0 }
func (d MessageDefinition) IsInOrder() bool        { return d.Flags&FlagInOrder != 0 }
func (d MessageDefinition) IsConnectionless() bool { return d.Flags&FlagConnectionless != 0 }

// Message is one logical unit of communication: a type id, a payload, and
// (depending on the definition's flags) a reliable id and/or sequence id
// assigned at send time.
type Message struct {
	TypeID     uint8
	SentTime   float32
	ReliableID uint16 // ReliableIDNone if the definition is not reliable
	SequenceID uint16 // SequenceIDNone if the definition is not in-order
	Payload    []byte

	def *MessageDefinition

	// connectionlessFrom carries the sender endpoint for messages that
	// arrived before a Connection existed (the discover/join handshake).
	connectionlessFrom Endpoint
	// dispatchingConn is set by Connection.invoke before a handler runs,
	// so a handler can recover "which connection did this arrive on"
	// without threading it through MessageHandler's signature.
	dispatchingConn *Connection
}

// NewMessage creates a message of the given type carrying payload. def
// must be the MessageDefinition previously registered for typeID.
func NewMessage(def *MessageDefinition, payload []byte) *Message {
	return &Message{
		TypeID:     def.ID,
		ReliableID: ReliableIDNone,
		SequenceID: SequenceIDNone,
		Payload:    payload,
		def:        def,
	}
}

func (m *Message) IsReliable() bool       { return m.def != nil && m.def.IsReliable() }
func (m *Message) IsInOrder() bool        { return m.def != nil && m.def.IsInOrder() }
func (m *Message) IsConnectionless() bool { return m.def != nil && m.def.IsConnectionless() }

// bodySize returns the encoded size of everything after the body-size
// field itself: type id, timestamp, optional ids, and payload.
func (m *Message) bodySize() uint16 {
	size := 1 + 4 // TypeID + SentTime
	if m.IsReliable() {
		size += 2
	}
	if m.IsInOrder() {
		size += 2
	}
	size += len(m.Payload)
	return uint16(size)
}

// fullSize returns the total encoded size including the 2-byte body-size
// prefix, used when deciding whether a message still fits in a packet.
func (m *Message) fullSize() int {
	return 2 + int(m.bodySize())
}

// writeTo encodes the message onto w, re-stamping SentTime to now — the
// timestamp embedded on the wire always reflects the moment of transmission,
// never an earlier construction time.
func (m *Message) writeTo(w *bitstream.Stream, now float32) {
	m.SentTime = now
	w.WriteUint16(m.bodySize())
	w.WriteByte(m.TypeID)
	w.WriteFloat32(m.SentTime)
	if m.IsReliable() {
		w.WriteUint16(m.ReliableID)
	}
	if m.IsInOrder() {
		w.WriteUint16(m.SequenceID)
	}
	w.WriteBytes(m.Payload)
}

// readMessage decodes one message record from r using defs to resolve the
// type id's reliability/ordering flags (needed to know whether the
// optional id fields are present).
func readMessage(r *bitstream.Stream, defs map[uint8]*MessageDefinition) (*Message, error) {
	bodySize, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	bodyStart := r.Offset()

	typeID, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	def, ok := defs[typeID]
	if !ok {
		return nil, fmt.Errorf("transport: unknown message type %d", typeID)
	}

	sentTime, err := r.ReadFloat32()
	if err != nil {
		return nil, err
	}

	msg := &Message{TypeID: typeID, SentTime: sentTime, ReliableID: ReliableIDNone, SequenceID: SequenceIDNone, def: def}

	if def.IsReliable() {
		msg.ReliableID, err = r.ReadUint16()
		if err != nil {
			return nil, err
		}
	}
	if def.IsInOrder() {
		msg.SequenceID, err = r.ReadUint16()
		if err != nil {
			return nil, err
		}
	}

	payloadLen := int(bodySize) - (r.Offset() - bodyStart)
	if payloadLen < 0 {
		return nil, fmt.Errorf("transport: message body size %d too small for header", bodySize)
	}
	msg.Payload, err = r.ReadBytes(payloadLen)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
