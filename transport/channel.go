package transport

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/stephenmerendino/netcode/pkg/netlog"
)

// Datagram is one raw inbound payload paired with its sender, queued for
// delivery at ReadyAt (used by Channel implementations that simulate lag).
type Datagram struct {
	Data    []byte
	From    Endpoint
	ReadyAt time.Time
}

// Channel abstracts how datagrams move between peers. Poll is
// non-blocking: it returns whatever datagrams are due as of now, in
// scheduled order, and nothing beyond.
type Channel interface {
	Send(data []byte, to Endpoint) error
	Poll(now time.Time) []Datagram
	Close() error
}

// PacketChannel wraps a Socket with simulated loss and lag, exactly the
// fault injection packet_channel.cpp provides: inbound datagrams are
// dropped with probability PacketLoss, and surviving ones are held until a
// uniformly-random delay in [MinLagMs, MaxLagMs] has elapsed.
type PacketChannel struct {
	socket *Socket

	mu         sync.Mutex
	packetLoss float64
	minLag     time.Duration
	maxLag     time.Duration
	pending    []Datagram // kept sorted by ReadyAt ascending

	readErrCh chan error
}

// NewPacketChannel wraps socket with the original's default fault
// injection settings (50% loss, 80-120ms lag) and starts a background
// reader goroutine feeding the lag queue. The only goroutine in this
// package that performs a blocking read lives here; every other
// session/connection operation is driven synchronously from Session.Update.
func NewPacketChannel(socket *Socket) *PacketChannel {
	c := &PacketChannel{
		socket:     socket,
		packetLoss: 0.5,
		minLag:     80 * time.Millisecond,
		maxLag:     120 * time.Millisecond,
		readErrCh:  make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *PacketChannel) readLoop() {
	buf := make([]byte, PacketMTU)
	for {
		n, from, err := c.socket.Receive(buf)
		if err != nil {
			if !c.socket.IsBound() {
				return
			}
			continue
		}
		if rand.Float64() < c.packetLoss {
			continue // simulated drop, never enqueued
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		lagRange := c.maxLag - c.minLag
		lag := c.minLag
		if lagRange > 0 {
			lag += time.Duration(rand.Int63n(int64(lagRange)))
		}

		c.mu.Lock()
		c.insertSorted(Datagram{Data: data, From: from, ReadyAt: time.Now().Add(lag)})
		c.mu.Unlock()
	}
}

// insertSorted inserts d keeping c.pending ordered by ReadyAt ascending.
// Caller must hold c.mu.
func (c *PacketChannel) insertSorted(d Datagram) {
	i := sort.Search(len(c.pending), func(i int) bool { return c.pending[i].ReadyAt.After(d.ReadyAt) })
	c.pending = append(c.pending, Datagram{})
	copy(c.pending[i+1:], c.pending[i:])
	c.pending[i] = d
}

// Poll returns every datagram whose scheduled delivery time has arrived.
func (c *PacketChannel) Poll(now time.Time) []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := 0
	for i < len(c.pending) && !c.pending[i].ReadyAt.After(now) {
		i++
	}
	if i == 0 {
		return nil
	}
	due := make([]Datagram, i)
	copy(due, c.pending[:i])
	c.pending = c.pending[i:]
	return due
}

func (c *PacketChannel) Send(data []byte, to Endpoint) error {
	return c.socket.Send(data, to)
}

func (c *PacketChannel) Close() error {
	return c.socket.Close()
}

// SetLoss clamps to [0, 1].
func (c *PacketChannel) SetLoss(loss float64) {
	if loss < 0 {
		loss = 0
	}
	if loss > 1 {
		loss = 1
	}
	c.mu.Lock()
	c.packetLoss = loss
	c.mu.Unlock()
}

// SetLag normalizes min <= max before storing, matching the original's
// get_min(min_lag_ms, m_max_lag_ms) / the new max_lag_ms clamp order.
func (c *PacketChannel) SetLag(minLag, maxLag time.Duration) {
	c.mu.Lock()
	if minLag > c.maxLag {
		minLag = c.maxLag
	}
	if maxLag < minLag {
		maxLag = minLag
	}
	c.minLag = minLag
	c.maxLag = maxLag
	c.mu.Unlock()
	netlog.Debug("packet channel lag set to [%s, %s]", minLag, maxLag)
}

// LoopbackChannel is the degenerate packet channel used for same-process
// host+client testing: sending to a peer hands the datagram straight to
// that peer's inbound queue, with no socket, no serialization round-trip,
// and no loss/lag.
type LoopbackChannel struct {
	self Endpoint
	peer *LoopbackChannel

	mu      sync.Mutex
	pending []Datagram
}

// NewLoopbackPair creates two channels wired directly to each other.
func NewLoopbackPair(a, b Endpoint) (*LoopbackChannel, *LoopbackChannel) {
	ca := &LoopbackChannel{self: a}
	cb := &LoopbackChannel{self: b}
	ca.peer = cb
	cb.peer = ca
	return ca, cb
}

func (c *LoopbackChannel) Send(data []byte, to Endpoint) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.peer.mu.Lock()
	c.peer.pending = append(c.peer.pending, Datagram{Data: cp, From: c.self, ReadyAt: time.Time{}})
	c.peer.mu.Unlock()
	return nil
}

func (c *LoopbackChannel) Poll(now time.Time) []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	due := c.pending
	c.pending = nil
	return due
}

func (c *LoopbackChannel) Close() error { return nil }
