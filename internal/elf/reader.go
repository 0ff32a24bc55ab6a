package elf

import (
	"encoding/binary"

	"github.com/xyproto/ldmini/internal/linkerr"
)

// Reader exposes bounds-checked little-endian reads over an immutable byte
// slice with a current position. Every read fails with a linkerr.TruncatedInput
// error if fewer than the requested bytes remain; integer decoding is fixed
// little-endian regardless of host byte order.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential bounds-checked reads starting at
// offset 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the reader's current offset into data.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total length of the underlying data.
func (r *Reader) Len() int { return len(r.data) }

// Seek repositions the reader to an absolute offset. Seeking past the end
// of data is permitted (it will fail on the next read); seeking to a
// negative offset fails immediately.
func (r *Reader) Seek(offset int) error {
	if offset < 0 {
		return linkerr.New(linkerr.TruncatedInput, "seek to negative offset %d", offset)
	}
	r.pos = offset
	return nil
}

func (r *Reader) require(n int) error {
	if n < 0 || r.pos+n > len(r.data) || r.pos < 0 {
		return linkerr.New(linkerr.TruncatedInput,
			"need %d bytes at offset %d but only %d available", n, r.pos, len(r.data)-r.pos)
	}
	return nil
}

// ReadU8 reads one unsigned byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	if err := r.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadI64 reads a little-endian int64 (two's complement).
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// ReadBytes reads n raw bytes, returning a copy so callers may retain it
// independent of the reader's backing slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// SliceAt returns a copy of n bytes at an absolute offset, without moving
// the reader's position. Used to pull a section's payload
// out of the full file buffer once its (offset, size) are known.
func (r *Reader) SliceAt(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(r.data) {
		return nil, linkerr.New(linkerr.TruncatedInput,
			"need %d bytes at offset %d but file is %d bytes", n, offset, len(r.data))
	}
	out := make([]byte, n)
	copy(out, r.data[offset:offset+n])
	return out, nil
}
