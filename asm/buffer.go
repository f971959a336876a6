// Package asm holds the architecture-neutral pieces of the JIT: the growable
// code buffer a generator emits into and the immutable program it becomes.
package asm

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferOverflow reports that emission exceeded the buffer's capacity
	// ceiling. The caller may retry generation into a larger buffer.
	ErrBufferOverflow = errors.New("asm: code buffer capacity exhausted")

	// ErrFinalized reports mutation of a buffer that has already been
	// finalized.
	ErrFinalized = errors.New("asm: buffer already finalized")
)

// DefaultCapacity is sized for the largest microkernel plus alignment
// padding. A 6-row kernel with post-ops emits well under 2 KiB.
const DefaultCapacity = 16 * 1024

// Buffer is a contiguous growable byte region with a hard capacity ceiling.
// It is exclusively owned by a single generation call while open; Finalize
// turns it into an immutable Program.
type Buffer struct {
	code      []byte
	capacity  int
	finalized bool
	err       error
}

// NewBuffer returns an open buffer that will refuse to grow past capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append appends data and returns the offset it was written at. Once the
// buffer has failed or been finalized every append is a no-op returning the
// current length.
func (b *Buffer) Append(data []byte) int {
	pos := len(b.code)
	if b.err != nil {
		return pos
	}
	if b.finalized {
		b.err = ErrFinalized
		return pos
	}
	if pos+len(data) > b.capacity {
		b.err = ErrBufferOverflow
		return pos
	}
	b.code = append(b.code, data...)
	return pos
}

// Len reports the number of bytes emitted so far.
func (b *Buffer) Len() int { return len(b.code) }

// Err returns the first error recorded against the buffer.
func (b *Buffer) Err() error { return b.err }

// Bytes exposes the open buffer contents for patching. The slice aliases the
// buffer; it must not be retained across Append calls.
func (b *Buffer) Bytes() []byte { return b.code }

// Finalize pads the buffer to align bytes with the filler word (a trap
// instruction, so falling off the end is never executable) and seals it.
// The returned Program is immutable and safe for concurrent readers.
func (b *Buffer) Finalize(align int, filler []byte) (Program, error) {
	if b.err != nil {
		return Program{}, b.err
	}
	if b.finalized {
		return Program{}, ErrFinalized
	}
	if align > 0 && len(filler) > 0 {
		for len(b.code)%align != 0 {
			if len(b.code)+len(filler) > b.capacity {
				b.err = ErrBufferOverflow
				return Program{}, b.err
			}
			b.code = append(b.code, filler...)
		}
	}
	if len(b.code)%4 != 0 {
		return Program{}, fmt.Errorf("asm: finalized size %d is not instruction aligned", len(b.code))
	}
	b.finalized = true
	return Program{code: b.code}, nil
}

// Program is a finalized, logically immutable code region.
type Program struct {
	code []byte
}

// NewProgram wraps code in a Program, copying it so the caller cannot
// mutate the shared view afterwards.
func NewProgram(code []byte) Program {
	return Program{code: append([]byte(nil), code...)}
}

// Code returns the shared read-only view of the machine code. Callers must
// not modify it.
func (p Program) Code() []byte { return p.code }

// Bytes returns a defensive copy of the machine code.
func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

// Size reports the program length in bytes.
func (p Program) Size() int { return len(p.code) }
