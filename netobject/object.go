package netobject

// Object is one replicated entity: a type, its application-side state
// (LocalObj), and the current encoded snapshot of that state.
type Object struct {
	ID     uint16
	TypeID uint8

	LocalObj        any
	CurrentSnapshot []byte

	def TypeDefinition

	// host-side: last snapshot bytes sent to each peer, keyed by
	// connection index, so updates are only sent when something changed.
	lastSentToPeer map[uint8][]byte

	// client-side: clock of the most recently accepted snapshot (the first
	// one is recorded but not applied), in the client's local clock domain,
	// used to gate staleness and compute dt.
	lastAppliedClientTime float64
	hasAppliedOnce        bool
}

func newObject(id uint16, typeID uint8, localObj any, def TypeDefinition) *Object {
	snap := def.CreateSnapshot()
	return &Object{
		ID:              id,
		TypeID:          typeID,
		LocalObj:        localObj,
		CurrentSnapshot: snap,
		def:             def,
		lastSentToPeer:  make(map[uint8][]byte),
	}
}

// refresh re-encodes CurrentSnapshot from LocalObj.
func (o *Object) refresh() {
	o.def.RefreshSnapshot(o.CurrentSnapshot, o.LocalObj)
}

// isSyncedWith reports whether CurrentSnapshot equals what was last sent
// to peerIndex.
func (o *Object) isSyncedWith(peerIndex uint8) bool {
	last, ok := o.lastSentToPeer[peerIndex]
	if !ok {
		return false
	}
	return bytesEqual(last, o.CurrentSnapshot)
}

func (o *Object) saveSentTo(peerIndex uint8) {
	cp := make([]byte, len(o.CurrentSnapshot))
	copy(cp, o.CurrentSnapshot)
	o.lastSentToPeer[peerIndex] = cp
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
