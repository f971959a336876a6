// Package gemm generates AArch64 NEON microkernels computing one tile of a
// single-precision matrix product, specialized at generation time for row
// count, reduction depth, column remainder shape and fused epilogue.
package gemm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tile geometry of the generated microkernel: up to TileRows output rows by
// TileCols output columns per invocation, accumulating over four reduction
// lanes per unrolled pass.
const (
	TileRows  = 6
	TileCols  = 8
	laneBytes = 4 // one float32 of the reduction dimension
	unrollK   = 4 * laneBytes
)

// NoRemainder is the ColRemainder sentinel for "the column count is always a
// multiple of the tile width": the generator emits no odd-width store code
// at all.
const NoRemainder = -1

var (
	// ErrInvalidParams reports malformed generation parameters. This is a
	// caller contract breach and is never retried internally.
	ErrInvalidParams = errors.New("gemm: invalid generation parameters")

	// ErrUnsupportedPostOp reports a post-operation kind the generator has
	// no instruction template for.
	ErrUnsupportedPostOp = errors.New("gemm: unsupported post-operation")
)

// PostOpKind tags a fused post-operation.
type PostOpKind uint8

const (
	// PostOpHardSwish applies x * min(max(x+3, 0), 6) / 6 lane-wise.
	PostOpHardSwish PostOpKind = iota + 1
)

// PostOp is one element of the fused epilogue pipeline. Ops apply in list
// order: the output of op i feeds op i+1.
type PostOp struct {
	Kind PostOpKind
}

// Params are the generation-time parameters of one microkernel. The
// generated routine re-reads only the numeric constants (clamp bounds or
// post-op constants) at call time, through the params pointer argument.
type Params struct {
	// MaxRows bounds rows_to_compute; 1..TileRows. Rows beyond the
	// requested count alias row 0's memory and are never stored.
	MaxRows int

	// ColRemainder is the column count modulo TileCols the kernel must
	// handle, or NoRemainder when callers guarantee full-width tiles.
	ColRemainder int

	// KBytes is the reduction depth in bytes; nonzero, multiple of the
	// element width.
	KBytes int

	// Min and Max clamp every output element. The infinities disable the
	// respective bound. Mutually exclusive with PostOps.
	Min float32
	Max float32

	// PostOps is the fused epilogue pipeline, applied to the accumulators
	// in place before the store. Mutually exclusive with clamping.
	PostOps []PostOp
}

func (p Params) clampMin() bool { return !math.IsInf(float64(p.Min), -1) }
func (p Params) clampMax() bool { return !math.IsInf(float64(p.Max), 1) }

func (p Params) validate() error {
	if p.MaxRows < 1 || p.MaxRows > TileRows {
		return fmt.Errorf("%w: MaxRows %d outside 1..%d", ErrInvalidParams, p.MaxRows, TileRows)
	}
	if p.KBytes <= 0 || p.KBytes%laneBytes != 0 {
		return fmt.Errorf("%w: KBytes %d must be a positive multiple of %d", ErrInvalidParams, p.KBytes, laneBytes)
	}
	if p.ColRemainder != NoRemainder && (p.ColRemainder < 0 || p.ColRemainder >= TileCols) {
		return fmt.Errorf("%w: ColRemainder %d outside 0..%d", ErrInvalidParams, p.ColRemainder, TileCols-1)
	}
	if len(p.PostOps) > 0 && (p.clampMin() || p.clampMax()) {
		return fmt.Errorf("%w: clamping and post-ops are mutually exclusive", ErrInvalidParams)
	}
	return nil
}

// NoClamp returns the clamp bounds that disable clamping entirely.
func NoClamp() (min, max float32) {
	return float32(math.Inf(-1)), float32(math.Inf(1))
}

// PackParams builds the numeric-params block the generated routine reads at
// call time: for a clamping kernel the two bounds, read once before the
// reduction loop; for a post-op kernel each op's constant stream in pipeline
// order, consumed incrementally by the epilogue.
func (p Params) PackParams() []byte {
	var out []byte
	put := func(vals ...float32) {
		for _, v := range vals {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}
	if len(p.PostOps) == 0 {
		put(p.Min, p.Max)
		return out
	}
	for _, op := range p.PostOps {
		switch op.Kind {
		case PostOpHardSwish:
			put(1.0/6.0, 3.0, 6.0)
		}
	}
	return out
}

// Status classifies a generation outcome for dispatch tables that record a
// code instead of an error chain.
type Status int

const (
	StatusOK Status = iota
	StatusInvalidParameter
	StatusInvalidGenerationState
	StatusUnsupportedPostOp
)

// StatusOf maps a Generate error to its status code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidParams):
		return StatusInvalidParameter
	case errors.Is(err, ErrUnsupportedPostOp):
		return StatusUnsupportedPostOp
	default:
		return StatusInvalidGenerationState
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusInvalidGenerationState:
		return "invalid generation state"
	case StatusUnsupportedPostOp:
		return "unsupported post-op"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
