// Package netobject implements snapshot-based state replication on top of
// transport.Session: a host periodically diffs each registered object's
// current snapshot against what it last sent to each peer and pushes an
// UPDATE only when something changed; a client applies received snapshots
// against its own local clock, gated so a late-arriving stale update never
// overwrites a newer one.
package netobject

// TypeDefinition is the capability interface a replicated object type
// implements, replacing the original engine's function-pointer struct:
// a type provides its own snapshot encoding and creation/destruction
// wire format, and the system drives it generically.
type TypeDefinition interface {
	// SnapshotSize is the fixed byte length of one encoded snapshot.
	SnapshotSize() int
	// CreateSnapshot allocates a zeroed snapshot buffer of SnapshotSize.
	CreateSnapshot() []byte
	// RefreshSnapshot encodes localObj's current state into snap.
	RefreshSnapshot(snap []byte, localObj any)
	// AppendCreateInfo writes whatever localObj needs for a peer to
	// construct its own copy, onto msg's payload.
	AppendCreateInfo(msg *PayloadWriter, localObj any)
	// ProcessCreateInfo reads create info from msg and returns a new
	// localObj.
	ProcessCreateInfo(msg *PayloadReader) any
	// AppendDestroyInfo/ProcessDestroyInfo mirror the create pair for
	// teardown; most types need nothing here.
	AppendDestroyInfo(msg *PayloadWriter, localObj any)
	ProcessDestroyInfo(msg *PayloadReader, localObj any)
	// AppendSnapshot/ProcessSnapshot move an already-encoded snapshot
	// buffer onto/off of the wire payload.
	AppendSnapshot(msg *PayloadWriter, snap []byte)
	ProcessSnapshot(msg *PayloadReader, snap []byte)
	// ApplySnapshot decodes snap into localObj, given dt seconds elapsed
	// since the previously applied snapshot (dt > 0 is guaranteed by the
	// system before this is called).
	ApplySnapshot(snap []byte, localObj any, dt float64)
}

// NoopTypeDefinition supplies no-op implementations for every
// TypeDefinition method; embed it and override only what a concrete type
// needs, the way net_object_type_definition.cpp defaults every callback.
type NoopTypeDefinition struct{}

func (NoopTypeDefinition) SnapshotSize() int                                { return 0 }
func (NoopTypeDefinition) CreateSnapshot() []byte                          { return nil }
func (NoopTypeDefinition) RefreshSnapshot(snap []byte, localObj any)       {}
func (NoopTypeDefinition) AppendCreateInfo(msg *PayloadWriter, localObj any) {}
func (NoopTypeDefinition) ProcessCreateInfo(msg *PayloadReader) any        { return nil }
func (NoopTypeDefinition) AppendDestroyInfo(msg *PayloadWriter, localObj any) {}
func (NoopTypeDefinition) ProcessDestroyInfo(msg *PayloadReader, localObj any) {}
func (NoopTypeDefinition) AppendSnapshot(msg *PayloadWriter, snap []byte)  {}
func (NoopTypeDefinition) ProcessSnapshot(msg *PayloadReader, snap []byte) {}
func (NoopTypeDefinition) ApplySnapshot(snap []byte, localObj any, dt float64) {}

// PayloadWriter/PayloadReader are tiny payload-building helpers handed to
// TypeDefinition callbacks so they never touch transport.Message directly.
type PayloadWriter struct{ buf []byte }

func NewPayloadWriter() *PayloadWriter { return &PayloadWriter{} }
func (w *PayloadWriter) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *PayloadWriter) Bytes() []byte       { return w.buf }

type PayloadReader struct {
	buf []byte
	pos int
}

func NewPayloadReader(b []byte) *PayloadReader { return &PayloadReader{buf: b} }

func (r *PayloadReader) ReadBytes(n int) []byte {
	if r.pos+n > len(r.buf) {
		n = len(r.buf) - r.pos
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *PayloadReader) Remaining() []byte {
	return r.buf[r.pos:]
}
