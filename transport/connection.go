package transport

import (
	"sort"
	"time"

	"github.com/stephenmerendino/netcode/internal/cycle"
	"github.com/stephenmerendino/netcode/pkg/netlog"
)

const (
	// ReliableIDWindow bounds how far ahead a connection may issue new
	// reliable ids before older ones are confirmed, and is the width of the
	// window processedReliableIDs is pruned against. It is independent of
	// the id space itself: the window slides within a much larger range.
	ReliableIDWindow = 1024

	// reliableIDRangeMax is the highest value the reliable-id and
	// sequence-id cycles take before wrapping back to 0, per the wire id
	// space — 65535 distinct values, not the 1024-wide send window.
	reliableIDRangeMax = 65534

	// reliableIDRangeSize is reliableIDRangeMax - 0 + 1, the modulus used
	// for wraparound-aware comparisons over the id space.
	reliableIDRangeSize = reliableIDRangeMax + 1

	// ResendThreshold is the minimum time an unconfirmed reliable message
	// waits before it is considered for retransmission.
	ResendThreshold = 150 * time.Millisecond

	ackRangeSize = 1 << 16
)

type pendingReliable struct {
	msg          *Message
	lastSentTime time.Time
}

// Connection is one peer-facing endpoint of a Session: it owns the
// reliable/in-order bookkeeping and builds/consumes packets for exactly
// one remote address. All of its methods are called from the single
// goroutine driving Session.Update — nothing here takes a lock.
type Connection struct {
	session   *Session
	Index     uint8
	Endpoint  Endpoint
	GUID      string
	CreatedAt time.Time

	channel Channel

	// outgoing ack bookkeeping
	localAck       uint16
	packetTrackers [256]PacketTracker

	// outgoing reliable/in-order bookkeeping
	reliableIDCycle           *cycle.Cycle
	sequenceIDCycle           *cycle.Cycle
	sentButUnconfirmed        map[uint16]*pendingReliable
	reliableSendQueue         []*Message
	unreliableSendQueue       []*Message

	// incoming bookkeeping
	lastReceivedRemoteAck uint16
	havePeerAck           bool
	prevAcksBitfield      uint16

	processedReliableIDs map[uint16]bool
	nextExpectedSeqID    uint16
	haveExpectedSeqID    bool
	waitingInOrder       map[uint16]*Message

	LastReceiveTime time.Time
	LastSendTime    time.Time
	Disconnected    bool
}

// NewConnection constructs a connection bound to ep, owned by session and
// communicating over channel.
func NewConnection(session *Session, index uint8, ep Endpoint, channel Channel, now time.Time) *Connection {
	return &Connection{
		session:              session,
		Index:                index,
		Endpoint:             ep,
		channel:               channel,
		localAck:              0,
		reliableIDCycle:       cycle.New(0, reliableIDRangeMax),
		sequenceIDCycle:       cycle.New(0, reliableIDRangeMax),
		sentButUnconfirmed:    make(map[uint16]*pendingReliable),
		processedReliableIDs:  make(map[uint16]bool),
		waitingInOrder:        make(map[uint16]*Message),
		lastReceivedRemoteAck: AckIDNone,
		CreatedAt:             now,
		LastReceiveTime:       now,
		LastSendTime:          now,
	}
}

// Send enqueues msg for transmission. Reliable messages are retried until
// acked; unreliable messages are sent at most once, in the next packet
// built, and dropped if they do not fit in it.
func (c *Connection) Send(msg *Message) {
	if msg.IsReliable() {
		c.reliableSendQueue = append(c.reliableSendQueue, msg)
	} else {
		c.unreliableSendQueue = append(c.unreliableSendQueue, msg)
	}
}

// Update builds and sends at most one packet for this connection's current
// outbound state, the way udp_connection.cpp::consolidate_packet does; it
// sends nothing when there is nothing queued, nothing due for resend, and
// no peer ack to report.
func (c *Connection) Update(now time.Time, nowSeconds float32) error {
	pkt := c.buildPacketToSend(now)
	if pkt == nil {
		return nil
	}
	data := pkt.Write(nowSeconds)
	c.LastSendTime = now
	return c.channel.Send(data, c.Endpoint)
}

// FlushNow builds and sends one packet immediately, bypassing whatever
// tick interval governs normal sends — used by Session.Leave to guarantee
// a pending LEAVE message actually reaches the peer before teardown.
func (c *Connection) FlushNow(now time.Time, nowSeconds float32) error {
	return c.Update(now, nowSeconds)
}

func (c *Connection) buildPacketToSend(now time.Time) *Packet {
	if len(c.reliableSendQueue) == 0 && len(c.unreliableSendQueue) == 0 && !c.hasDueRetransmits(now) && !c.havePeerAck {
		return nil
	}

	pkt := NewPacket()
	pkt.FromConnIndex = c.Index
	pkt.Ack = c.localAck
	if c.havePeerAck {
		pkt.LastReceivedAck = c.lastReceivedRemoteAck
		pkt.PrevAcksBitfield = c.prevAcksBitfield
	} else {
		pkt.LastReceivedAck = AckIDNone
	}

	tracker := &c.packetTrackers[c.localAck%256]
	*tracker = PacketTracker{AckID: c.localAck}

	c.stageRetransmits(pkt, tracker, now)
	c.stageNewReliables(pkt, tracker, now)
	c.stageUnreliables(pkt)

	c.localAck = uint16((uint32(c.localAck) + 1) % ackRangeSize)
	return pkt
}

func (c *Connection) hasDueRetransmits(now time.Time) bool {
	for _, pr := range c.sentButUnconfirmed {
		if now.Sub(pr.lastSentTime) >= ResendThreshold {
			return true
		}
	}
	return false
}

// stageRetransmits adds due, unconfirmed reliables to pkt, oldest
// last-sent-time first. This is a deliberate departure from the original
// engine's descending sort — see DESIGN.md's retransmit-ordering entry.
func (c *Connection) stageRetransmits(pkt *Packet, tracker *PacketTracker, now time.Time) {
	type due struct {
		id uint16
		pr *pendingReliable
	}
	var candidates []due
	for id, pr := range c.sentButUnconfirmed {
		if now.Sub(pr.lastSentTime) >= ResendThreshold {
			candidates = append(candidates, due{id, pr})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].pr.lastSentTime.Before(candidates[j].pr.lastSentTime)
	})
	for _, d := range candidates {
		if !pkt.CanFit(d.pr.msg) {
			break
		}
		pkt.AddMessage(d.pr.msg)
		tracker.ReliableIDs = append(tracker.ReliableIDs, d.id)
		d.pr.lastSentTime = now
		netlog.Debug("connection %d retransmitting reliable id %d", c.Index, d.id)
	}
}

// stageNewReliables assigns ids to and stages as many queued reliables as
// fit in pkt. A candidate that doesn't fit is skipped in favor of the next
// queued one (it stays queued for a later tick) rather than blocking
// smaller followers behind one oversized head-of-queue message; only a
// full send window stops staging outright, since it can't un-fill mid-tick.
func (c *Connection) stageNewReliables(pkt *Packet, tracker *PacketTracker, now time.Time) {
	var remaining []*Message
	for i, msg := range c.reliableSendQueue {
		if len(c.sentButUnconfirmed) >= ReliableIDWindow {
			netlog.Warn("connection %d reliable window full, deferring send", c.Index)
			remaining = append(remaining, c.reliableSendQueue[i:]...)
			break
		}
		if !pkt.CanFit(msg) {
			remaining = append(remaining, msg)
			continue
		}

		msg.ReliableID = uint16(c.reliableIDCycle.Increment())
		if msg.IsInOrder() {
			msg.SequenceID = uint16(c.sequenceIDCycle.Increment())
		}
		c.sentButUnconfirmed[msg.ReliableID] = &pendingReliable{msg: msg, lastSentTime: now}
		tracker.ReliableIDs = append(tracker.ReliableIDs, msg.ReliableID)
		pkt.AddMessage(msg)
	}
	c.reliableSendQueue = remaining
}

// stageUnreliables drains the entire unreliable queue: whatever doesn't
// fit this packet is discarded, never retried, matching the FIFO
// drain-and-discard behavior of the original's unreliable stage.
func (c *Connection) stageUnreliables(pkt *Packet) {
	queue := c.unreliableSendQueue
	c.unreliableSendQueue = nil
	for _, msg := range queue {
		if !pkt.CanFit(msg) {
			continue
		}
		pkt.AddMessage(msg)
	}
}

// ProcessIncomingPacket decodes and dispatches one received datagram. It
// confirms any of our own acks the peer is reporting, records bookkeeping
// for the ack the peer assigned to this packet, and dispatches each
// contained message (honoring reliable dedup and in-order reassembly).
func (c *Connection) ProcessIncomingPacket(data []byte, defs map[uint8]*MessageDefinition, now time.Time) error {
	pkt, err := ReadPacket(data, defs)
	if err != nil {
		return err
	}
	c.LastReceiveTime = now

	if pkt.LastReceivedAck != AckIDNone {
		c.confirmAcks(pkt.LastReceivedAck, pkt.PrevAcksBitfield)
	}

	c.recordReceivedAck(pkt.Ack)

	for _, msg := range pkt.Messages {
		c.dispatch(msg)
	}
	return nil
}

func (c *Connection) confirmAcks(lastReceivedAck uint16, prevBitfield uint16) {
	c.confirmTracker(lastReceivedAck)
	for i := 0; i < 16; i++ {
		if prevBitfield&(1<<uint(i)) == 0 {
			continue
		}
		ackID := uint16((int(lastReceivedAck) - 1 - i + ackRangeSize) % ackRangeSize)
		c.confirmTracker(ackID)
	}
}

func (c *Connection) confirmTracker(ackID uint16) {
	tracker := &c.packetTrackers[ackID%256]
	if tracker.AckID != ackID || tracker.Confirmed {
		return
	}
	tracker.Confirmed = true
	for _, reliableID := range tracker.ReliableIDs {
		delete(c.sentButUnconfirmed, reliableID)
	}
}

// recordReceivedAck folds the peer's newly-received packet ack into our
// 16-bit sliding bitfield of recently seen acks.
func (c *Connection) recordReceivedAck(ack uint16) {
	if ack == AckIDNone {
		return
	}
	if !c.havePeerAck {
		c.havePeerAck = true
		c.lastReceivedRemoteAck = ack
		c.prevAcksBitfield = 0
		return
	}
	if !cycle.IsGreater(uint32(ack), uint32(c.lastReceivedRemoteAck), ackRangeSize) {
		// out-of-order or duplicate arrival of an already-seen ack; mark its
		// bit if it still falls in the 16-bit window, otherwise ignore.
		delta := cycle.AbsDelta(uint32(c.lastReceivedRemoteAck), uint32(ack), ackRangeSize)
		if delta >= 1 && delta <= 16 {
			c.prevAcksBitfield |= 1 << uint(delta-1)
		}
		return
	}
	shift := cycle.AbsDelta(uint32(ack), uint32(c.lastReceivedRemoteAck), ackRangeSize)
	c.prevAcksBitfield = shiftAckBitfield(c.prevAcksBitfield, shift)
	c.lastReceivedRemoteAck = ack
}

// shiftAckBitfield shifts a 16-bit history left by shift positions,
// setting the bit for the previously-current ack (bit shift-1) along the way.
func shiftAckBitfield(bitfield uint16, shift uint32) uint16 {
	if shift > 16 {
		return 0
	}
	return (bitfield << uint(shift)) | (uint16(1) << uint(shift-1))
}

func (c *Connection) dispatch(msg *Message) {
	if msg.IsReliable() {
		if c.processedReliableIDs[msg.ReliableID] {
			return // duplicate delivery, already handled
		}
		c.processedReliableIDs[msg.ReliableID] = true
		c.purgeOldProcessedReliableIDs(msg.ReliableID)
	}

	if !msg.IsInOrder() {
		c.invoke(msg)
		return
	}

	c.waitingInOrder[msg.SequenceID] = msg
	c.drainInOrder()
}

func (c *Connection) drainInOrder() {
	for {
		msg, ok := c.waitingInOrder[c.nextExpectedSeqID]
		if !ok {
			return
		}
		delete(c.waitingInOrder, c.nextExpectedSeqID)
		c.nextExpectedSeqID = nextSeqID(c.nextExpectedSeqID)
		c.invoke(msg)
	}
}

// nextSeqID advances a sequence id by one, wrapping at reliableIDRangeMax
// back to 0 — the same id space sequenceIDCycle assigns from, so a
// receiver's expectation wraps in lockstep with what the sender can send.
func nextSeqID(id uint16) uint16 {
	if id == reliableIDRangeMax {
		return 0
	}
	return id + 1
}

func (c *Connection) invoke(msg *Message) {
	msg.dispatchingConn = c
	if c.session != nil {
		if def, ok := c.session.messageDefs[msg.TypeID]; ok && def.Handler != nil {
			def.Handler(msg)
		}
	}
}

// purgeOldProcessedReliableIDs drops tracked reliable ids that have fallen
// outside the sliding window behind the most recently processed one, so
// the dedup set doesn't grow without bound.
func (c *Connection) purgeOldProcessedReliableIDs(current uint16) {
	for id := range c.processedReliableIDs {
		if cycle.AbsDelta(uint32(current), uint32(id), reliableIDRangeSize) > ReliableIDWindow {
			delete(c.processedReliableIDs, id)
		}
	}
}

// LiveReliableCount reports how many reliable messages are still awaiting
// confirmation, for diagnostics / the full-reliable-window check.
func (c *Connection) LiveReliableCount() int {
	return len(c.sentButUnconfirmed)
}
