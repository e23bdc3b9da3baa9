package netobject

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stephenmerendino/netcode/transport"
)

// counterObj is a minimal replicated object for exercising System: a single
// uint32 value round-tripped through a fixed-size snapshot.
type counterObj struct {
	Value uint32
}

type counterTypeDef struct {
	NoopTypeDefinition
}

func (counterTypeDef) SnapshotSize() int { return 4 }
func (counterTypeDef) CreateSnapshot() []byte { return make([]byte, 4) }

func (counterTypeDef) RefreshSnapshot(snap []byte, localObj any) {
	binary.LittleEndian.PutUint32(snap, localObj.(*counterObj).Value)
}

func (counterTypeDef) AppendSnapshot(msg *PayloadWriter, snap []byte) { msg.WriteBytes(snap) }

func (counterTypeDef) ProcessSnapshot(msg *PayloadReader, snap []byte) {
	copy(snap, msg.ReadBytes(4))
}

func (counterTypeDef) ApplySnapshot(snap []byte, localObj any, dt float64) {
	localObj.(*counterObj).Value = binary.LittleEndian.Uint32(snap)
}

func (counterTypeDef) AppendCreateInfo(msg *PayloadWriter, localObj any) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], localObj.(*counterObj).Value)
	msg.WriteBytes(buf[:])
}

func (counterTypeDef) ProcessCreateInfo(msg *PayloadReader) any {
	return &counterObj{Value: binary.LittleEndian.Uint32(msg.ReadBytes(4))}
}

const counterTypeID uint8 = 1

func newHostClientPair(t *testing.T) (*transport.Session, *transport.Session, *System, *System) {
	t.Helper()
	hostEp := transport.Endpoint{IP: [4]byte{127, 0, 0, 1}, Port: 1919}
	clientEp := transport.Endpoint{IP: [4]byte{127, 0, 0, 1}, Port: 2000}
	hostCh, clientCh := transport.NewLoopbackPair(hostEp, clientEp)

	host := transport.NewSession()
	client := transport.NewSession()
	hostObjects := NewSystem(host, 20.0)
	clientObjects := NewSystem(client, 20.0)
	hostObjects.RegisterType(counterTypeID, counterTypeDef{})
	clientObjects.RegisterType(counterTypeID, counterTypeDef{})

	host.Host(hostCh)
	client.Join(clientCh, hostEp)

	now := time.Now()
	for i := 0; i < 200; i++ {
		now = now.Add(50 * time.Millisecond)
		_ = host.Update(now)
		_ = client.Update(now)
		if host.IsReady() && client.IsReady() {
			break
		}
	}
	if !host.IsReady() || !client.IsReady() {
		t.Fatalf("join handshake never completed")
	}
	return host, client, hostObjects, clientObjects
}

func pumpBoth(host, client *transport.Session, hostObjects, clientObjects *System, now time.Time, ticks int) time.Time {
	for i := 0; i < ticks; i++ {
		now = now.Add(50 * time.Millisecond)
		_ = host.Update(now)
		_ = client.Update(now)
		hostObjects.Tick(now)
		clientObjects.Tick(now)
	}
	return now
}

func TestReplicateBroadcastsCreateToExistingPeer(t *testing.T) {
	host, client, hostObjects, clientObjects := newHostClientPair(t)

	obj := hostObjects.Replicate(counterTypeID, &counterObj{Value: 7})

	now := time.Now()
	pumpBoth(host, client, hostObjects, clientObjects, now, 20)

	require.Equal(t, 1, clientObjects.GetNumObjects())
	clientObj, ok := clientObjects.objects[obj.ID]
	require.True(t, ok, "client never created object %d", obj.ID)
	require.Equal(t, uint32(7), clientObj.LocalObj.(*counterObj).Value)
}

func TestSnapshotUpdatePropagatesChange(t *testing.T) {
	host, client, hostObjects, clientObjects := newHostClientPair(t)
	obj := hostObjects.Replicate(counterTypeID, &counterObj{Value: 1})

	now := time.Now()
	now = pumpBoth(host, client, hostObjects, clientObjects, now, 20)

	localObj := obj.LocalObj.(*counterObj)
	localObj.Value = 42

	now = pumpBoth(host, client, hostObjects, clientObjects, now, 20)

	clientObj := clientObjects.objects[obj.ID]
	require.Equal(t, uint32(42), clientObj.LocalObj.(*counterObj).Value)
}

func TestUnchangedSnapshotIsNotResent(t *testing.T) {
	host, client, hostObjects, clientObjects := newHostClientPair(t)
	obj := hostObjects.Replicate(counterTypeID, &counterObj{Value: 5})

	now := time.Now()
	now = pumpBoth(host, client, hostObjects, clientObjects, now, 20)

	conn := host.Connections()[0]
	require.True(t, obj.isSyncedWith(conn.Index), "object should be marked synced with peer %d once nothing has changed", conn.Index)
}

func TestStopReplicationBroadcastsDestroy(t *testing.T) {
	host, client, hostObjects, clientObjects := newHostClientPair(t)
	obj := hostObjects.Replicate(counterTypeID, &counterObj{Value: 3})

	now := time.Now()
	now = pumpBoth(host, client, hostObjects, clientObjects, now, 20)
	require.Equal(t, 1, clientObjects.GetNumObjects(), "precondition failed")

	hostObjects.StopReplication(obj.ID)
	_ = pumpBoth(host, client, hostObjects, clientObjects, now, 20)

	require.Equal(t, 0, clientObjects.GetNumObjects())
}
