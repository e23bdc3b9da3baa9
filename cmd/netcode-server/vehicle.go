package main

import (
	"math/rand"

	"github.com/stephenmerendino/netcode/internal/bitstream"
	"github.com/stephenmerendino/netcode/netobject"
)

// Vehicle is the demo's one replicated entity type, adapted from the
// teacher's systems.VehicleData: a positioned, rotated, colored object
// with no physics of its own — the snapshot just carries its pose.
type Vehicle struct {
	ID       uint16
	ModelID  uint8
	X, Y, Z  float32
	Rotation float32
	Color1   uint8
	Color2   uint8
}

const vehicleSnapshotSize = 4*4 + 1 + 1 // X,Y,Z,Rotation + Color1 + Color2

// VehicleTypeDefinition implements netobject.TypeDefinition for Vehicle.
type VehicleTypeDefinition struct {
	netobject.NoopTypeDefinition
}

func (VehicleTypeDefinition) SnapshotSize() int { return vehicleSnapshotSize }

func (VehicleTypeDefinition) CreateSnapshot() []byte {
	return make([]byte, vehicleSnapshotSize)
}

func (VehicleTypeDefinition) RefreshSnapshot(snap []byte, localObj any) {
	v := localObj.(*Vehicle)
	w := bitstream.NewWriter(vehicleSnapshotSize)
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
	w.WriteFloat32(v.Rotation)
	w.WriteByte(v.Color1)
	w.WriteByte(v.Color2)
	copy(snap, w.Bytes())
}

func (VehicleTypeDefinition) AppendCreateInfo(msg *netobject.PayloadWriter, localObj any) {
	v := localObj.(*Vehicle)
	w := bitstream.NewWriter(5)
	w.WriteByte(v.ModelID)
	w.WriteFloat32(v.X)
	msg.WriteBytes(w.Bytes())
}

func (VehicleTypeDefinition) ProcessCreateInfo(msg *netobject.PayloadReader) any {
	r := bitstream.NewReader(msg.ReadBytes(5))
	modelID, _ := r.ReadByte()
	x, _ := r.ReadFloat32()
	return &Vehicle{ModelID: modelID, X: x}
}

func (VehicleTypeDefinition) AppendSnapshot(msg *netobject.PayloadWriter, snap []byte) {
	msg.WriteBytes(snap)
}

func (VehicleTypeDefinition) ProcessSnapshot(msg *netobject.PayloadReader, snap []byte) {
	copy(snap, msg.ReadBytes(vehicleSnapshotSize))
}

func (VehicleTypeDefinition) ApplySnapshot(snap []byte, localObj any, dt float64) {
	v := localObj.(*Vehicle)
	r := bitstream.NewReader(snap)
	v.X, _ = r.ReadFloat32()
	v.Y, _ = r.ReadFloat32()
	v.Z, _ = r.ReadFloat32()
	v.Rotation, _ = r.ReadFloat32()
	v.Color1, _ = r.ReadByte()
	v.Color2, _ = r.ReadByte()
}

// randomVehicleColor mirrors the teacher's arbitrary SA-MP color ids,
// kept only so the demo has something to vary between spawned vehicles.
func randomVehicleColor() (uint8, uint8) {
	return uint8(rand.Intn(126)), uint8(rand.Intn(126))
}
