// Package bitstream implements the byte-cursor read/write primitives used
// to encode packets and messages onto the wire. The cursor style mirrors
// the teacher's protocol.BitStream (offset into a backing []byte, bounds
// checked on every read), but fields are little-endian throughout to match
// the wire layout this transport actually uses.
package bitstream

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NilStringSentinel marks an absent string: a length prefix of this value
// means "no string follows", distinguishing "" from "not present".
const NilStringSentinel = 0xFFFF

// Stream is a growable write buffer or a bounds-checked read cursor over a
// fixed []byte, depending on how it was constructed.
type Stream struct {
	data   []byte
	offset int
}

// NewWriter creates an empty Stream for writing, with capacity hinted by
// size (typically the packet MTU).
func NewWriter(sizeHint int) *Stream {
	return &Stream{data: make([]byte, 0, sizeHint)}
}

// NewReader wraps an existing buffer for sequential reading.
func NewReader(data []byte) *Stream {
	return &Stream{data: data}
}

// Bytes returns the underlying buffer written so far.
func (s *Stream) Bytes() []byte {
	return s.data
}

// Offset returns the current read/write cursor position.
func (s *Stream) Offset() int {
	return s.offset
}

// Remaining returns the number of unread bytes.
func (s *Stream) Remaining() int {
	return len(s.data) - s.offset
}

// HasReadAll reports whether the cursor has consumed the whole buffer.
func (s *Stream) HasReadAll() bool {
	return s.offset >= len(s.data)
}

func (s *Stream) WriteByte(b byte) {
	s.data = append(s.data, b)
}

func (s *Stream) WriteUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	s.data = append(s.data, buf[:]...)
}

func (s *Stream) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	s.data = append(s.data, buf[:]...)
}

func (s *Stream) WriteFloat32(v float32) {
	s.WriteUint32(math.Float32bits(v))
}

func (s *Stream) WriteBytes(b []byte) {
	s.data = append(s.data, b...)
}

// WriteString writes a length-prefixed string, or NilStringSentinel with no
// payload if present is false (str is then ignored).
func (s *Stream) WriteString(str string, present bool) {
	if !present {
		s.WriteUint16(NilStringSentinel)
		return
	}
	s.WriteUint16(uint16(len(str)))
	s.data = append(s.data, str...)
}

func (s *Stream) ReadByte() (byte, error) {
	if s.offset >= len(s.data) {
		return 0, fmt.Errorf("bitstream: read past end of buffer")
	}
	b := s.data[s.offset]
	s.offset++
	return b, nil
}

func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || s.offset+n > len(s.data) {
		return nil, fmt.Errorf("bitstream: read %d bytes past end of buffer", n)
	}
	b := s.data[s.offset : s.offset+n]
	s.offset += n
	return b, nil
}

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadString reads a length-prefixed string written by WriteString. The
// second return is false if the sentinel marking "no string" was read.
func (s *Stream) ReadString() (string, bool, error) {
	length, err := s.ReadUint16()
	if err != nil {
		return "", false, err
	}
	if length == NilStringSentinel {
		return "", false, nil
	}
	b, err := s.ReadBytes(int(length))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}
