// Package transport implements a reliable, connection-oriented transport
// over UDP: packet framing with ack-based reliability, per-connection
// in-order delivery, and a host/client session state machine with a join
// handshake. It is driven entirely by repeated calls to Session.Update —
// nothing in this package blocks or spawns a goroutine of its own, except
// the channel's background datagram reader.
package transport

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/stephenmerendino/netcode/internal/interval"
	"github.com/stephenmerendino/netcode/pkg/netlog"
)

// SessionState enumerates the join-handshake/lifecycle phases.
type SessionState int

const (
	StateInvalid SessionState = iota
	StateDisconnected
	StateDiscover
	StateConnecting
	StateJoining
	StateReady
)

// Core message type ids. NetObject message ids (10-13) are reserved here
// so application code and the netobject package never collide with them;
// the netobject package registers its own definitions against these ids.
const (
	MsgPing uint8 = iota
	MsgPong
	MsgJoinRequest
	MsgJoinResponse
	MsgHeartbeat
	MsgLeave

	MsgNetObjectCreate   uint8 = 10
	MsgNetObjectDestroy  uint8 = 11
	MsgNetObjectUpdate   uint8 = 12
	MsgNetObjectSetClock uint8 = 13

	FirstUserMessageID uint8 = 20
)

const (
	heartbeatInterval  = 1 * time.Second
	discoverInterval   = 250 * time.Millisecond
	connectingInterval = 250 * time.Millisecond
	discoverTimeout    = 30 * time.Second
	connectingTimeout  = 30 * time.Second
	healthyTimeout     = 3 * time.Second
	peerTimeout        = 30 * time.Second

	// MaxConnections bounds the connection slot table; slot 0 is reserved
	// for the host role and is never handed to a joining client.
	MaxConnections = 256
)

// EventHandler receives a Session lifecycle notification.
type EventHandler func(s *Session, conn *Connection)

// multicaster is a minimal ad-hoc event bus, in the spirit of the
// teacher's core/events EventManager but scoped to a single event each.
type multicaster struct {
	handlers []EventHandler
}

func (m *multicaster) Subscribe(h EventHandler) {
	m.handlers = append(m.handlers, h)
}

func (m *multicaster) fire(s *Session, conn *Connection) {
	for _, h := range m.handlers {
		h(s, conn)
	}
}

// Session is one peer's view of the network: either hosting (accepting
// joins from many clients) or a client (joined to exactly one host).
type Session struct {
	IsHost bool
	state  SessionState

	channel Channel
	defs    map[uint8]*MessageDefinition
	// messageDefs is the same map, exposed under the name Connection looks
	// up handlers through.
	messageDefs map[uint8]*MessageDefinition

	connections    [MaxConnections]*Connection
	hostConnection *Connection // set on the client side once joined
	nextConnIndex  uint8

	startTime time.Time

	discoverTimer   *interval.Interval
	connectingTimer *interval.Interval
	heartbeatTimer  *interval.Interval
	joinDeadline    time.Time

	pendingHostEndpoint Endpoint

	OnConnectionJoined multicaster
	OnConnectionLeft   multicaster
	OnSessionJoined    multicaster
	OnHostLeft         multicaster
	OnNetTick          multicaster
}

// NewSession creates an unstarted session. Call Host or Join to begin the
// handshake, then drive it with repeated Update calls.
func NewSession() *Session {
	defs := make(map[uint8]*MessageDefinition)
	s := &Session{
		state:       StateDisconnected,
		defs:        defs,
		messageDefs: defs,
	}
	s.registerCoreMessages()
	return s
}

func (s *Session) registerCoreMessages() {
	s.RegisterMessage(MsgPing, FlagConnectionless, s.handlePing)
	s.RegisterMessage(MsgPong, FlagConnectionless, s.handlePong)
	s.RegisterMessage(MsgJoinRequest, FlagConnectionless, s.handleJoinRequest)
	s.RegisterMessage(MsgJoinResponse, FlagConnectionless, s.handleJoinResponse)
	s.RegisterMessage(MsgHeartbeat, 0, s.handleHeartbeat)
	s.RegisterMessage(MsgLeave, FlagReliable|FlagInOrder, s.handleLeave)
}

// RegisterMessage adds a message definition. Calling it twice for the
// same id (including a core id, which NewSession has already registered)
// is a programming error and panics immediately rather than corrupting
// dispatch later.
func (s *Session) RegisterMessage(id uint8, flags uint8, handler MessageHandler) {
	if _, exists := s.defs[id]; exists {
		panic(fmt.Sprintf("transport: message id %d already registered", id))
	}
	s.defs[id] = &MessageDefinition{ID: id, Flags: flags, Handler: handler}
}

// MessageDefinition returns the registered definition for id, or nil.
func (s *Session) MessageDefinition(id uint8) *MessageDefinition {
	return s.defs[id]
}

// Host starts listening on channel as the authoritative host.
func (s *Session) Host(channel Channel) {
	s.channel = channel
	s.IsHost = true
	s.state = StateReady
	s.startTime = time.Now()
	s.heartbeatTimer = interval.NewSeconds(s.startTime, heartbeatInterval.Seconds())
	netlog.Success("session started hosting")
}

// Join begins the handshake to connect to hostEndpoint as a client.
func (s *Session) Join(channel Channel, hostEndpoint Endpoint) {
	s.channel = channel
	s.IsHost = false
	s.state = StateDiscover
	s.startTime = time.Now()
	s.pendingHostEndpoint = hostEndpoint
	s.discoverTimer = interval.NewSeconds(s.startTime, discoverInterval.Seconds())
	s.joinDeadline = s.startTime.Add(discoverTimeout)
	netlog.Info("joining host at %s", hostEndpoint)
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// IsReady reports whether the session completed its handshake (host is
// always ready once started; a client is ready once it receives JOIN_RESPONSE).
func (s *Session) IsReady() bool { return s.state == StateReady }

// ClockSeconds returns elapsed seconds since Host/Join, used to stamp
// outgoing messages.
func (s *Session) ClockSeconds(now time.Time) float32 {
	return float32(now.Sub(s.startTime).Seconds())
}

// Update drives the handshake state machine, polls the channel for
// inbound datagrams, dispatches them, ticks every connection's send
// logic, and fires OnNetTick. Call this at a fixed rate from one
// goroutine.
func (s *Session) Update(now time.Time) error {
	if s.channel == nil {
		return nil
	}

	for _, dgram := range s.channel.Poll(now) {
		s.handleInbound(dgram, now)
	}

	switch s.state {
	case StateDiscover:
		s.updateDiscover(now)
	case StateConnecting:
		s.updateConnecting(now)
	}

	nowSeconds := s.ClockSeconds(now)
	for _, conn := range s.connections {
		if conn == nil || conn.Disconnected {
			continue
		}
		if err := conn.Update(now, nowSeconds); err != nil {
			netlog.Warn("connection %d update error: %v", conn.Index, err)
		}
		s.checkTimeout(conn, now)
	}

	if s.IsHost && s.heartbeatTimer != nil && s.heartbeatTimer.CheckAndReset(now) {
		s.broadcastHeartbeat(now)
	}

	s.OnNetTick.fire(s, nil)
	return nil
}

func (s *Session) handleInbound(dgram Datagram, now time.Time) {
	if len(dgram.Data) < 1 {
		return
	}
	connIndex := dgram.Data[fromConnIndexOffset]
	if connIndex == ConnIndexNone {
		// connectionless handshake traffic: no connection slot yet.
		s.processConnectionless(dgram, now)
		return
	}
	conn := s.connectionForIndex(connIndex)
	if conn == nil || !conn.Endpoint.Equal(dgram.From) {
		netlog.Debug("dropping packet for unknown/mismatched connection index %d", connIndex)
		return
	}
	if err := conn.ProcessIncomingPacket(dgram.Data, s.defs, now); err != nil {
		netlog.Debug("discarding malformed packet from %s: %v", dgram.From, err)
	}
}

func (s *Session) connectionForIndex(index uint8) *Connection {
	if int(index) >= len(s.connections) {
		return nil
	}
	return s.connections[index]
}

// processConnectionless decodes a bare connectionless message (no
// connection slot assigned yet — used only for the discover/join
// handshake's PING/PONG/JOIN_REQUEST/JOIN_RESPONSE exchange).
func (s *Session) processConnectionless(dgram Datagram, now time.Time) {
	pkt, err := ReadPacket(dgram.Data, s.defs)
	if err != nil {
		netlog.Debug("discarding malformed connectionless packet: %v", err)
		return
	}
	for _, msg := range pkt.Messages {
		msg.connectionlessFrom = dgram.From
		if def, ok := s.defs[msg.TypeID]; ok && def.Handler != nil {
			def.Handler(msg)
		}
	}
}

func (s *Session) updateDiscover(now time.Time) {
	if now.After(s.joinDeadline) {
		netlog.Error("discover timed out, host unreachable")
		s.state = StateDisconnected
		return
	}
	if s.discoverTimer.CheckAndReset(now) {
		s.sendConnectionless(MsgPing, nil, s.pendingHostEndpoint, now)
	}
}

func (s *Session) updateConnecting(now time.Time) {
	if now.After(s.joinDeadline) {
		netlog.Error("connecting timed out, host unreachable")
		s.state = StateDisconnected
		return
	}
	if s.connectingTimer.CheckAndReset(now) {
		s.sendConnectionless(MsgJoinRequest, []byte(s.localGUID()), s.pendingHostEndpoint, now)
	}
}

func (s *Session) sendConnectionless(typeID uint8, payload []byte, to Endpoint, now time.Time) {
	def := s.defs[typeID]
	msg := NewMessage(def, payload)
	pkt := NewPacket()
	pkt.FromConnIndex = ConnIndexNone
	pkt.AddMessage(msg)
	data := pkt.Write(s.ClockSeconds(now))
	if err := s.channel.Send(data, to); err != nil {
		netlog.Warn("failed to send connectionless message %d: %v", typeID, err)
	}
}

var guidCache string

func (s *Session) localGUID() string {
	if guidCache == "" {
		guidCache = newGUID()
	}
	return guidCache
}

func newGUID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// --- core message handlers ---

func (s *Session) handlePing(msg *Message) {
	if !s.IsHost {
		return
	}
	now := time.Now()
	s.sendConnectionless(MsgPong, nil, msg.connectionlessFrom, now)
}

func (s *Session) handlePong(msg *Message) {
	if s.state != StateDiscover {
		return
	}
	now := time.Now()
	s.state = StateConnecting
	s.connectingTimer = interval.NewSeconds(now, connectingInterval.Seconds())
	s.joinDeadline = now.Add(connectingTimeout)
	netlog.InfoCyan("host discovered, requesting to join")
}

func (s *Session) handleJoinRequest(msg *Message) {
	if !s.IsHost {
		return
	}
	token := string(msg.Payload)

	// a retried JOIN_REQUEST (RTT past the 250ms resend interval, or a
	// dropped JOIN_RESPONSE) must resolve to the connection already
	// allocated for this token instead of handing out a second slot.
	if existing := s.connectionByGUID(token); existing != nil {
		s.sendJoinResponse(existing)
		netlog.Debug("re-acking join for already-known connection %d", existing.Index)
		return
	}

	now := time.Now()
	idx := s.allocateConnectionIndex()
	if idx == ConnIndexNone {
		netlog.Warn("rejecting join from %s: connection table full", msg.connectionlessFrom)
		return
	}
	conn := NewConnection(s, idx, msg.connectionlessFrom, s.channel, now)
	conn.GUID = token
	s.connections[idx] = conn

	s.sendJoinResponse(conn)

	s.OnConnectionJoined.fire(s, conn)
	netlog.Success("connection %d joined from %s", idx, conn.Endpoint)
}

func (s *Session) connectionByGUID(guid string) *Connection {
	for _, conn := range s.connections {
		if conn != nil && !conn.Disconnected && conn.GUID == guid {
			return conn
		}
	}
	return nil
}

func (s *Session) sendJoinResponse(conn *Connection) {
	s.sendConnectionless(MsgJoinResponse, []byte{conn.Index}, conn.Endpoint, time.Now())
}

func (s *Session) handleJoinResponse(msg *Message) {
	if s.state != StateConnecting || len(msg.Payload) < 1 {
		return
	}
	idx := msg.Payload[0]
	now := time.Now()
	conn := NewConnection(s, idx, s.pendingHostEndpoint, s.channel, now)
	s.connections[idx] = conn
	s.hostConnection = conn
	s.state = StateReady
	s.OnSessionJoined.fire(s, conn)
	netlog.Success("joined session as connection %d", idx)
}

func (s *Session) handleHeartbeat(msg *Message) {
	// liveness only; LastReceiveTime is already updated by the connection
	// that received this packet.
}

func (s *Session) handleLeave(msg *Message) {
	conn := s.connectionOwningMessage(msg)
	if conn == nil {
		return
	}
	wasHost := !s.IsHost && conn == s.hostConnection
	// the left-event fires before the connection is torn down, matching
	// the original engine's handle_leave_msg ordering.
	s.OnConnectionLeft.fire(s, conn)
	s.destroyConnection(conn)
	if wasHost {
		s.OnHostLeft.fire(s, conn)
	}
}

// connectionOwningMessage is a best-effort reverse lookup used only by
// handlers that need "which connection did this arrive on" without it
// being threaded through MessageHandler's signature; the dispatch path in
// Connection.invoke always calls handlers for messages that arrived on
// that specific connection, so in practice this resolves via the single
// currently-dispatching connection recorded by Connection.invoke.
func (s *Session) connectionOwningMessage(msg *Message) *Connection {
	return msg.dispatchingConn
}

func (s *Session) allocateConnectionIndex() uint8 {
	for i := 1; i < len(s.connections); i++ { // slot 0 reserved for host role
		if s.connections[i] == nil {
			return uint8(i)
		}
	}
	return ConnIndexNone
}

func (s *Session) destroyConnection(conn *Connection) {
	conn.Disconnected = true
	s.connections[conn.Index] = nil
}

func (s *Session) checkTimeout(conn *Connection, now time.Time) {
	if now.Sub(conn.LastReceiveTime) > peerTimeout {
		netlog.Warn("connection %d timed out", conn.Index)
		wasHost := !s.IsHost && conn == s.hostConnection
		s.OnConnectionLeft.fire(s, conn)
		s.destroyConnection(conn)
		if wasHost {
			s.OnHostLeft.fire(s, conn)
		}
	}
}

func (s *Session) broadcastHeartbeat(now time.Time) {
	def := s.defs[MsgHeartbeat]
	for _, conn := range s.connections {
		if conn == nil || conn.Disconnected {
			continue
		}
		conn.Send(NewMessage(def, nil))
	}
}

// --- send helpers, grounded on session.hpp's send_message_to_* family ---

// SendToIndex sends msg to exactly the connection at idx, if present.
func (s *Session) SendToIndex(idx uint8, msg *Message) {
	if conn := s.connectionForIndex(idx); conn != nil && !conn.Disconnected {
		conn.Send(msg)
	}
}

// SendToAll sends msg to every live connection.
func (s *Session) SendToAll(msg *Message) {
	for _, conn := range s.connections {
		if conn != nil && !conn.Disconnected {
			conn.Send(cloneMessage(msg))
		}
	}
}

// SendToOthers sends msg to every live connection except except.
func (s *Session) SendToOthers(except uint8, msg *Message) {
	for _, conn := range s.connections {
		if conn != nil && !conn.Disconnected && conn.Index != except {
			conn.Send(cloneMessage(msg))
		}
	}
}

// SendToAllClientsExcept is an alias kept distinct from SendToOthers for
// call-site clarity when the caller is specifically the host addressing
// its client set (same behavior, both route through the connection table).
func (s *Session) SendToAllClientsExcept(except uint8, msg *Message) {
	s.SendToOthers(except, msg)
}

// SendToHost sends msg to the host connection; only meaningful on a client.
func (s *Session) SendToHost(msg *Message) {
	if s.hostConnection != nil && !s.hostConnection.Disconnected {
		s.hostConnection.Send(msg)
	}
}

func cloneMessage(msg *Message) *Message {
	cp := *msg
	cp.ReliableID = ReliableIDNone
	cp.SequenceID = SequenceIDNone
	return &cp
}

// Connections returns every currently live connection, for iteration by
// higher layers (e.g. netobject's per-peer diffing).
func (s *Session) Connections() []*Connection {
	var out []*Connection
	for _, conn := range s.connections {
		if conn != nil && !conn.Disconnected {
			out = append(out, conn)
		}
	}
	return out
}

// HostAddress returns, for status/debug output, the host endpoint a client
// joined, or the literal "host" on the hosting side.
func (s *Session) HostAddress() string {
	if s.IsHost {
		return "host"
	}
	return s.pendingHostEndpoint.String()
}

// Leave gracefully disconnects every connection, flushing a LEAVE message
// to each before tearing it down, and aggregates any flush errors.
func (s *Session) Leave() error {
	def := s.defs[MsgLeave]
	now := time.Now()
	nowSeconds := s.ClockSeconds(now)

	var errs error
	for _, conn := range s.connections {
		if conn == nil || conn.Disconnected {
			continue
		}
		conn.Send(NewMessage(def, nil))
		if err := conn.FlushNow(now, nowSeconds); err != nil {
			errs = multierr.Append(errs, err)
		}
		s.destroyConnection(conn)
	}
	s.state = StateDisconnected
	return errs
}

// Stop closes the underlying channel, aggregating that with any error
// from Leave.
func (s *Session) Stop() error {
	var errs error
	if s.state != StateDisconnected {
		errs = multierr.Append(errs, s.Leave())
	}
	if s.channel != nil {
		errs = multierr.Append(errs, s.channel.Close())
	}
	return errs
}
