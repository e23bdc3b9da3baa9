package transport

import "testing"

func defsForTest() map[uint8]*MessageDefinition {
	return map[uint8]*MessageDefinition{
		1: {ID: 1, Flags: 0},
		2: {ID: 2, Flags: FlagReliable},
		3: {ID: 3, Flags: FlagReliable | FlagInOrder},
	}
}

func TestPacketHeaderRoundTrip(t *testing.T) {
	defs := defsForTest()
	pkt := NewPacket()
	pkt.FromConnIndex = 3
	pkt.Ack = 100
	pkt.LastReceivedAck = 99
	pkt.PrevAcksBitfield = 0xBEEF

	data := pkt.Write(0)
	got, err := ReadPacket(data, defs)
	if err != nil {
		t.Fatalf("ReadPacket error: %v", err)
	}
	if got.FromConnIndex != 3 || got.Ack != 100 || got.LastReceivedAck != 99 || got.PrevAcksBitfield != 0xBEEF {
		t.Fatalf("header round trip mismatch: %+v", got)
	}
}

func TestPacketMultipleMessagesRoundTrip(t *testing.T) {
	defs := defsForTest()
	pkt := NewPacket()
	pkt.FromConnIndex = 0

	unreliable := NewMessage(defs[1], []byte("u"))
	pkt.AddMessage(unreliable)

	reliable := NewMessage(defs[2], []byte("rel"))
	reliable.ReliableID = 7
	pkt.AddMessage(reliable)

	ordered := NewMessage(defs[3], []byte("ord"))
	ordered.ReliableID = 8
	ordered.SequenceID = 2
	pkt.AddMessage(ordered)

	if pkt.ReliableBundleCount != 2 || pkt.UnreliableBundleCount != 1 {
		t.Fatalf("bundle counts = %d/%d, want 2/1", pkt.ReliableBundleCount, pkt.UnreliableBundleCount)
	}

	data := pkt.Write(3.0)
	got, err := ReadPacket(data, defs)
	if err != nil {
		t.Fatalf("ReadPacket error: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(got.Messages))
	}
	for _, m := range got.Messages {
		if m.SentTime != 3.0 {
			t.Fatalf("message SentTime = %f, want 3.0 (packet-level overwrite)", m.SentTime)
		}
	}
	if got.Messages[1].ReliableID != 7 {
		t.Fatalf("reliable id = %d, want 7", got.Messages[1].ReliableID)
	}
	if got.Messages[2].SequenceID != 2 {
		t.Fatalf("sequence id = %d, want 2", got.Messages[2].SequenceID)
	}
}

func TestCanFitRespectsMTU(t *testing.T) {
	defs := defsForTest()
	pkt := NewPacket()
	big := NewMessage(defs[1], make([]byte, PacketMTU))
	if pkt.CanFit(big) {
		t.Fatal("a message that alone exceeds the MTU budget should not fit")
	}
}

func TestReadPacketTooShortErrors(t *testing.T) {
	defs := defsForTest()
	if _, err := ReadPacket([]byte{1, 2, 3}, defs); err == nil {
		t.Fatal("expected an error for a too-short packet")
	}
}
