package netobject

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/stephenmerendino/netcode/internal/interval"
	"github.com/stephenmerendino/netcode/pkg/netlog"
	"github.com/stephenmerendino/netcode/transport"
)

// DefaultTickHz is the default rate at which a host refreshes and diffs
// object snapshots, matching DEFAULT_UPDATE_HZ in the original engine.
const DefaultTickHz = 20.0

// System owns every replicated object for one Session (host or client)
// and drives their creation, destruction, and snapshot synchronization.
// Unlike the original's process-wide globals, a System is bound to
// exactly one *transport.Session at construction.
type System struct {
	session *transport.Session
	defs    map[uint8]TypeDefinition
	objects map[uint16]*Object
	nextID  uint16

	tick   *interval.Interval
	tickHz float64

	hostClockAtSync   float64
	clientClockAtSync float64
	clientReady       bool
}

// NewSystem registers the four reserved NetObject messages on session and
// returns a System ready to have types registered and objects replicated.
func NewSystem(session *transport.Session, tickHz float64) *System {
	sys := &System{
		session: session,
		defs:    make(map[uint8]TypeDefinition),
		objects: make(map[uint16]*Object),
		nextID:  0,
		tick:    interval.NewSeconds(time.Now(), 1.0/tickHz),
		tickHz:  tickHz,
	}

	session.RegisterMessage(transport.MsgNetObjectCreate, transport.FlagReliable|transport.FlagInOrder, sys.onCreate)
	session.RegisterMessage(transport.MsgNetObjectDestroy, transport.FlagReliable|transport.FlagInOrder, sys.onDestroy)
	session.RegisterMessage(transport.MsgNetObjectUpdate, 0, sys.onUpdate)
	session.RegisterMessage(transport.MsgNetObjectSetClock, transport.FlagReliable, sys.onSetClock)

	session.OnConnectionJoined.Subscribe(sys.onConnectionJoined)
	return sys
}

// RegisterType associates def with typeID for CREATE/snapshot decoding.
func (s *System) RegisterType(typeID uint8, def TypeDefinition) {
	s.defs[typeID] = def
}

// GetNumObjects reports how many objects are currently replicated.
func (s *System) GetNumObjects() int { return len(s.objects) }

// GetTickFrequency reports the configured update rate in Hz.
func (s *System) GetTickFrequency() float64 {
	return s.tickHz
}

// Replicate creates a new replicated object of typeID wrapping localObj,
// assigns it an id, and broadcasts a CREATE message to every current peer.
// Host-only.
func (s *System) Replicate(typeID uint8, localObj any) *Object {
	def, ok := s.defs[typeID]
	if !ok {
		panic(fmt.Sprintf("netobject: type not registered: %d", typeID))
	}
	id := s.allocateID()
	obj := newObject(id, typeID, localObj, def)
	s.objects[id] = obj

	s.broadcastCreate(obj)
	return obj
}

// StopReplication destroys obj and broadcasts a DESTROY message.
func (s *System) StopReplication(id uint16) {
	obj, ok := s.objects[id]
	if !ok {
		return
	}
	w := NewPayloadWriter()
	writeUint16(w, obj.ID)
	obj.def.AppendDestroyInfo(w, obj.LocalObj)

	msg := transport.NewMessage(s.defTyped(transport.MsgNetObjectDestroy), w.Bytes())
	s.session.SendToOthers(0, msg)

	delete(s.objects, id)
}

// allocateID hands out net-ids starting at 0 and wraps at the uint16 range,
// relying on the taken-check to skip over any id still in use after a wrap.
func (s *System) allocateID() uint16 {
	for {
		id := s.nextID
		s.nextID++
		if _, taken := s.objects[id]; !taken {
			return id
		}
	}
}

// Tick drives replication for one frame: the host refreshes every
// object's snapshot and diffs it per peer. On a client Tick does nothing;
// snapshots are applied as UPDATE messages arrive (see onUpdate).
func (s *System) Tick(now time.Time) {
	if !s.session.IsHost {
		// a client applies snapshots reactively in onUpdate; there is no
		// fixed tick gate on the receiving end.
		return
	}
	if s.tick.CheckAndReset(now) {
		s.hostSendUpdates()
	}
}

func (s *System) hostSendUpdates() {
	for _, obj := range s.objects {
		obj.refresh()
	}
	for _, conn := range s.session.Connections() {
		for _, obj := range s.objects {
			if obj.isSyncedWith(conn.Index) {
				continue
			}
			w := NewPayloadWriter()
			writeUint16(w, obj.ID)
			obj.def.AppendSnapshot(w, obj.CurrentSnapshot)
			msg := transport.NewMessage(s.defTyped(transport.MsgNetObjectUpdate), w.Bytes())
			s.session.SendToIndex(conn.Index, msg)
			obj.saveSentTo(conn.Index)
		}
	}
}

func (s *System) defTyped(id uint8) *transport.MessageDefinition {
	return s.session.MessageDefinition(id)
}

func (s *System) onConnectionJoined(session *transport.Session, conn *transport.Connection) {
	if !session.IsHost {
		return
	}
	clockMsg := transport.NewMessage(s.defTyped(transport.MsgNetObjectSetClock), nil)
	session.SendToIndex(conn.Index, clockMsg)

	for _, obj := range s.objects {
		s.sendCreateTo(conn.Index, obj)
	}
}

func (s *System) broadcastCreate(obj *Object) {
	w := NewPayloadWriter()
	writeUint16(w, obj.ID)
	w.WriteBytes([]byte{obj.TypeID})
	obj.def.AppendCreateInfo(w, obj.LocalObj)
	msg := transport.NewMessage(s.defTyped(transport.MsgNetObjectCreate), w.Bytes())
	s.session.SendToOthers(0, msg)
}

func (s *System) sendCreateTo(connIndex uint8, obj *Object) {
	w := NewPayloadWriter()
	writeUint16(w, obj.ID)
	w.WriteBytes([]byte{obj.TypeID})
	obj.def.AppendCreateInfo(w, obj.LocalObj)
	msg := transport.NewMessage(s.defTyped(transport.MsgNetObjectCreate), w.Bytes())
	s.session.SendToIndex(connIndex, msg)
}

func (s *System) onCreate(msg *transport.Message) {
	if s.session.IsHost {
		return // the host is the authority; it never receives CREATE
	}
	r := NewPayloadReader(msg.Payload)
	id := readUint16(r)
	typeID := r.ReadBytes(1)[0]
	def, ok := s.defs[typeID]
	if !ok {
		netlog.Warn("netobject: received CREATE for unregistered type %d", typeID)
		return
	}
	localObj := def.ProcessCreateInfo(r)
	obj := newObject(id, typeID, localObj, def)
	s.objects[id] = obj
	netlog.Debug("netobject: created object %d (type %d)", id, typeID)
}

func (s *System) onDestroy(msg *transport.Message) {
	if s.session.IsHost {
		return
	}
	r := NewPayloadReader(msg.Payload)
	id := readUint16(r)
	obj, ok := s.objects[id]
	if !ok {
		return
	}
	obj.def.ProcessDestroyInfo(r, obj.LocalObj)
	delete(s.objects, id)
}

func (s *System) onSetClock(msg *transport.Message) {
	if s.session.IsHost || s.clientReady {
		return // only the first SET_CLOCK establishes the mapping
	}
	s.hostClockAtSync = float64(msg.SentTime)
	s.clientClockAtSync = float64(s.session.ClockSeconds(time.Now()))
	s.clientReady = true
}

func (s *System) onUpdate(msg *transport.Message) {
	if s.session.IsHost || !s.clientReady {
		return
	}
	r := NewPayloadReader(msg.Payload)
	id := readUint16(r)
	obj, ok := s.objects[id]
	if !ok {
		return
	}

	hostTime := float64(msg.SentTime)
	localTime := (hostTime - s.hostClockAtSync) + s.clientClockAtSync

	if obj.hasAppliedOnce && localTime <= obj.lastAppliedClientTime {
		return // stale relative to the last snapshot accepted
	}
	dt := localTime - obj.lastAppliedClientTime
	if !obj.hasAppliedOnce {
		dt = 0
	}
	obj.lastAppliedClientTime = localTime
	obj.hasAppliedOnce = true

	staging := obj.def.CreateSnapshot()
	obj.def.ProcessSnapshot(r, staging)
	if dt <= 0 {
		return // nothing to apply on the very first frame of tracking
	}
	obj.def.ApplySnapshot(staging, obj.LocalObj, dt)
}

func writeUint16(w *PayloadWriter, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.WriteBytes(buf[:])
}

func readUint16(r *PayloadReader) uint16 {
	b := r.ReadBytes(2)
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}
