package bitstream

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriter(32)
	w.WriteByte(0x42)
	w.WriteUint16(0xBEEF)
	w.WriteUint32(0xDEADBEEF)
	w.WriteFloat32(3.25)
	w.WriteString("hello", true)

	r := NewReader(w.Bytes())

	b, err := r.ReadByte()
	if err != nil || b != 0x42 {
		t.Fatalf("ReadByte = %v, %v, want 0x42, nil", b, err)
	}

	u16, err := r.ReadUint16()
	if err != nil || u16 != 0xBEEF {
		t.Fatalf("ReadUint16 = %v, %v, want 0xBEEF, nil", u16, err)
	}

	u32, err := r.ReadUint32()
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("ReadUint32 = %v, %v, want 0xDEADBEEF, nil", u32, err)
	}

	f, err := r.ReadFloat32()
	if err != nil || f != 3.25 {
		t.Fatalf("ReadFloat32 = %v, %v, want 3.25, nil", f, err)
	}

	str, present, err := r.ReadString()
	if err != nil || !present || str != "hello" {
		t.Fatalf("ReadString = %q, %v, %v, want hello, true, nil", str, present, err)
	}

	if !r.HasReadAll() {
		t.Fatal("expected all bytes consumed")
	}
}

func TestWriteStringAbsent(t *testing.T) {
	w := NewWriter(8)
	w.WriteString("", false)

	r := NewReader(w.Bytes())
	str, present, err := r.ReadString()
	if err != nil || present || str != "" {
		t.Fatalf("ReadString = %q, %v, %v, want \"\", false, nil", str, present, err)
	}
}

func TestReadPastEndErrors(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.ReadUint32(); err == nil {
		t.Fatal("expected error reading past end of buffer")
	}
}
