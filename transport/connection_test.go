package transport

import (
	"testing"
	"time"
)

// captureChannel records every payload handed to Send, for inspecting what
// a Connection actually transmits without going through a real socket.
type captureChannel struct {
	sent [][]byte
}

func (c *captureChannel) Send(data []byte, to Endpoint) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	return nil
}
func (c *captureChannel) Poll(now time.Time) []Datagram { return nil }
func (c *captureChannel) Close() error                  { return nil }

func (c *captureChannel) lastPacket(t *testing.T, defs map[uint8]*MessageDefinition) *Packet {
	t.Helper()
	if len(c.sent) == 0 {
		t.Fatal("channel never sent anything")
	}
	pkt, err := ReadPacket(c.sent[len(c.sent)-1], defs)
	if err != nil {
		t.Fatalf("failed to decode sent packet: %v", err)
	}
	return pkt
}

func TestReliableRetransmitAfterResendThreshold(t *testing.T) {
	defs := map[uint8]*MessageDefinition{10: {ID: 10, Flags: FlagReliable}}
	ch := &captureChannel{}
	now := time.Now()
	conn := NewConnection(nil, 1, Endpoint{}, ch, now)

	conn.Send(NewMessage(defs[10], []byte("payload")))
	if err := conn.Update(now, 0); err != nil {
		t.Fatalf("update error: %v", err)
	}
	first := ch.lastPacket(t, defs)
	if len(first.Messages) != 1 {
		t.Fatalf("first send carried %d messages, want 1", len(first.Messages))
	}
	sentID := first.Messages[0].ReliableID

	// before the resend threshold elapses, nothing new should go out.
	now = now.Add(10 * time.Millisecond)
	sentCountBefore := len(ch.sent)
	if err := conn.Update(now, 0); err != nil {
		t.Fatalf("update error: %v", err)
	}
	if len(ch.sent) != sentCountBefore {
		t.Fatalf("connection sent a packet before the resend threshold elapsed")
	}

	now = now.Add(ResendThreshold)
	if err := conn.Update(now, 0); err != nil {
		t.Fatalf("update error: %v", err)
	}
	retransmit := ch.lastPacket(t, defs)
	if len(retransmit.Messages) != 1 || retransmit.Messages[0].ReliableID != sentID {
		t.Fatalf("retransmitted packet = %+v, want reliable id %d", retransmit, sentID)
	}
}

func TestAckConfirmationClearsUnconfirmed(t *testing.T) {
	defs := map[uint8]*MessageDefinition{10: {ID: 10, Flags: FlagReliable}}
	ch := &captureChannel{}
	now := time.Now()
	conn := NewConnection(nil, 1, Endpoint{}, ch, now)

	conn.Send(NewMessage(defs[10], nil))
	if err := conn.Update(now, 0); err != nil {
		t.Fatalf("update error: %v", err)
	}
	if len(conn.sentButUnconfirmed) != 1 {
		t.Fatalf("expected 1 unconfirmed reliable, got %d", len(conn.sentButUnconfirmed))
	}

	// ack 0 (the packet we just sent carried local ack 0) with no history bits.
	conn.confirmAcks(0, 0)
	if len(conn.sentButUnconfirmed) != 0 {
		t.Fatalf("expected the confirmed reliable to be cleared, got %d remaining", len(conn.sentButUnconfirmed))
	}
}

func TestReliableWindowDefersBeyondCapacity(t *testing.T) {
	defs := map[uint8]*MessageDefinition{10: {ID: 10, Flags: FlagReliable}}
	ch := &captureChannel{}
	now := time.Now()
	conn := NewConnection(nil, 1, Endpoint{}, ch, now)

	for i := 0; i < ReliableIDWindow; i++ {
		conn.sentButUnconfirmed[uint16(i)] = &pendingReliable{msg: NewMessage(defs[10], nil), lastSentTime: now}
	}
	conn.Send(NewMessage(defs[10], []byte("overflow")))

	pkt := NewPacket()
	tracker := &PacketTracker{}
	conn.stageNewReliables(pkt, tracker, now)

	if len(pkt.Messages) != 0 {
		t.Fatalf("expected the new reliable to be deferred while the window is full, got %d messages staged", len(pkt.Messages))
	}
	if len(conn.reliableSendQueue) != 1 {
		t.Fatalf("expected the deferred message to remain queued, got %d", len(conn.reliableSendQueue))
	}
}

func TestDuplicateReliableDeliveredOnce(t *testing.T) {
	session := NewSession()
	var invokeCount int
	session.RegisterMessage(FirstUserMessageID, FlagReliable, func(msg *Message) { invokeCount++ })

	ch := &captureChannel{}
	conn := NewConnection(session, 1, Endpoint{}, ch, time.Now())

	def := session.MessageDefinition(FirstUserMessageID)
	msg := NewMessage(def, nil)
	msg.ReliableID = 5

	conn.dispatch(msg)
	conn.dispatch(msg)

	if invokeCount != 1 {
		t.Fatalf("handler invoked %d times, want 1", invokeCount)
	}
}

func TestInOrderMessagesDrainInSequence(t *testing.T) {
	session := NewSession()
	var order []uint16
	session.RegisterMessage(FirstUserMessageID, FlagReliable|FlagInOrder, func(msg *Message) {
		order = append(order, msg.SequenceID)
	})

	ch := &captureChannel{}
	conn := NewConnection(session, 1, Endpoint{}, ch, time.Now())
	def := session.MessageDefinition(FirstUserMessageID)

	makeMsg := func(reliableID, seqID uint16) *Message {
		m := NewMessage(def, nil)
		m.ReliableID = reliableID
		m.SequenceID = seqID
		return m
	}

	conn.dispatch(makeMsg(2, 2))
	conn.dispatch(makeMsg(0, 0))
	if len(order) != 1 || order[0] != 0 {
		t.Fatalf("expected only seq 0 to drain so far, got %v", order)
	}
	conn.dispatch(makeMsg(1, 1))
	if len(order) != 3 {
		t.Fatalf("expected all 3 messages to have drained, got %v", order)
	}
	for i, seq := range order {
		if int(seq) != i {
			t.Fatalf("out-of-order delivery: %v", order)
		}
	}
}
