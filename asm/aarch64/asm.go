// Package aarch64 is a small AArch64 emitter: it appends fixed-width 32-bit
// instruction words to a code buffer, tracks symbolic labels in an arena of
// integer handles, and patches branch offsets when the stream is finalized.
// It knows nothing about GEMM; the tiling logic lives in the gemm package.
package aarch64

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/elara-ml/gemmjit/asm"
)

var (
	// ErrDuplicateBind reports a label bound more than once.
	ErrDuplicateBind = errors.New("aarch64 asm: label already bound")

	// ErrUnresolvedLabel reports a referenced label still unbound at
	// finalize.
	ErrUnresolvedLabel = errors.New("aarch64 asm: unresolved label")
)

// Label is an integer handle into the assembler's label arena. Labels are
// declared, referenced any number of times before or after binding, and
// bound exactly once.
type Label int

type branchKind uint8

const (
	branchB branchKind = iota
	branchCond
	branchTbz
)

type patchSite struct {
	pos  int
	kind branchKind
}

type labelState struct {
	bound  bool
	offset int
	refs   []patchSite
}

// Assembler emits AArch64 machine code into a Buffer. It uses a sticky
// first-error model: once any emission or bind fails, subsequent calls are
// no-ops and Finalize reports the recorded error. This keeps straight-line
// generator code free of per-instruction error plumbing.
type Assembler struct {
	buf    *asm.Buffer
	labels []labelState
	err    error
}

// New returns an assembler emitting into buf.
func New(buf *asm.Buffer) *Assembler {
	return &Assembler{buf: buf}
}

// Err returns the first error recorded against the assembler or its buffer.
func (a *Assembler) Err() error {
	if a.err != nil {
		return a.err
	}
	return a.buf.Err()
}

// Offset reports the current emission offset in bytes.
func (a *Assembler) Offset() int { return a.buf.Len() }

func (a *Assembler) fail(err error) {
	if a.err == nil && err != nil {
		a.err = err
	}
}

// emit32 appends one little-endian instruction word and returns its offset.
func (a *Assembler) emit32(word uint32) int {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return a.buf.Append(b[:])
}

// emit appends the word produced by an encoder, recording its error if any.
func (a *Assembler) emit(word uint32, err error) {
	if a.Err() != nil {
		return
	}
	if err != nil {
		a.fail(err)
		return
	}
	a.emit32(word)
}

// NewLabel declares a fresh unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, labelState{})
	return Label(len(a.labels) - 1)
}

// Bind attaches the label to the current offset. Binding twice is an error.
func (a *Assembler) Bind(l Label) {
	if a.Err() != nil {
		return
	}
	st, err := a.label(l)
	if err != nil {
		a.fail(err)
		return
	}
	if st.bound {
		a.fail(fmt.Errorf("%w: label %d", ErrDuplicateBind, l))
		return
	}
	st.bound = true
	st.offset = a.buf.Len()
}

func (a *Assembler) label(l Label) (*labelState, error) {
	if l < 0 || int(l) >= len(a.labels) {
		return nil, fmt.Errorf("aarch64 asm: unknown label %d", l)
	}
	return &a.labels[l], nil
}

// reference emits word at the current offset. If the label is already bound
// the branch offset is encoded directly; otherwise the word is a placeholder
// and the site is recorded for patching at finalize.
func (a *Assembler) reference(l Label, word uint32, kind branchKind) {
	if a.Err() != nil {
		return
	}
	st, err := a.label(l)
	if err != nil {
		a.fail(err)
		return
	}
	pos := a.emit32(word)
	if a.Err() != nil {
		return
	}
	if st.bound {
		a.fail(a.patch(patchSite{pos: pos, kind: kind}, st.offset))
		return
	}
	st.refs = append(st.refs, patchSite{pos: pos, kind: kind})
}

// patch rewrites the branch word at site.pos to target the given offset.
func (a *Assembler) patch(site patchSite, target int) error {
	code := a.buf.Bytes()
	if site.pos+4 > len(code) {
		return fmt.Errorf("aarch64 asm: patch site %d out of range", site.pos)
	}
	rel := target - site.pos
	if rel%4 != 0 {
		return fmt.Errorf("aarch64 asm: branch offset %d not instruction aligned", rel)
	}
	imm := rel / 4
	word := binary.LittleEndian.Uint32(code[site.pos : site.pos+4])
	switch site.kind {
	case branchB:
		if imm < -(1<<25) || imm >= (1<<25) {
			return fmt.Errorf("aarch64 asm: branch target out of range (%d bytes)", rel)
		}
		word = (word &^ 0x03FFFFFF) | (uint32(imm) & 0x03FFFFFF)
	case branchCond:
		if imm < -(1<<18) || imm >= (1<<18) {
			return fmt.Errorf("aarch64 asm: conditional branch out of range (%d bytes)", rel)
		}
		word = (word &^ (0x7FFFF << 5)) | ((uint32(imm) & 0x7FFFF) << 5)
	case branchTbz:
		if imm < -(1<<13) || imm >= (1<<13) {
			return fmt.Errorf("aarch64 asm: test branch out of range (%d bytes)", rel)
		}
		word = (word &^ (0x3FFF << 5)) | ((uint32(imm) & 0x3FFF) << 5)
	default:
		return fmt.Errorf("aarch64 asm: unknown branch kind %d", site.kind)
	}
	binary.LittleEndian.PutUint32(code[site.pos:site.pos+4], word)
	return nil
}

// hltWord traps if executed; used as alignment filler so falling off the
// end of a routine is never executable.
var hltWord = []byte{0x00, 0x00, 0x40, 0xD4}

// Finalize resolves every pending branch reference, pads the buffer to the
// instruction-fetch alignment with HLT filler, and seals it. Any label that
// was referenced but never bound fails the whole stream.
func (a *Assembler) Finalize() (asm.Program, error) {
	if err := a.Err(); err != nil {
		return asm.Program{}, err
	}
	for i := range a.labels {
		st := &a.labels[i]
		if len(st.refs) == 0 {
			continue
		}
		if !st.bound {
			return asm.Program{}, fmt.Errorf("%w: label %d", ErrUnresolvedLabel, i)
		}
		for _, site := range st.refs {
			if err := a.patch(site, st.offset); err != nil {
				return asm.Program{}, err
			}
		}
	}
	const fetchAlign = 16
	return a.buf.Finalize(fetchAlign, hltWord)
}
