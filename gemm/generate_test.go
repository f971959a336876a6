package gemm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/elara-ml/gemmjit/asm"
)

func packFloats(vals ...float32) []byte {
	var out []byte
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func clampParams(maxRows, rem, kBytes int) Params {
	return Params{MaxRows: maxRows, ColRemainder: rem, KBytes: kBytes, Min: -1, Max: 1}
}

func mustGenerate(t *testing.T, p Params) asm.Program {
	t.Helper()
	prog, err := Generate(asm.NewBuffer(0), p)
	if err != nil {
		t.Fatalf("Generate(%+v): %v", p, err)
	}
	return prog
}

func progWords(t *testing.T, prog asm.Program) []uint32 {
	t.Helper()
	code := prog.Code()
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return out
}

// countMatching counts instruction words matching value under mask.
func countMatching(ws []uint32, mask, value uint32) int {
	n := 0
	for _, w := range ws {
		if w&mask == value {
			n++
		}
	}
	return n
}

// Opcode patterns used by the structural assertions below.
const (
	maskCsel, wantCsel   = 0xFFE00C00, 0x9A800000 // csel xd, xn, xm, cond
	maskFmax, wantFmax   = 0xFFE0FC00, 0x4E20F400 // fmax vd.4s, vn.4s, vm.4s
	maskFmin, wantFmin   = 0xFFE0FC00, 0x4EA0F400 // fmin vd.4s, vn.4s, vm.4s
	maskLd2R, wantLd2R   = 0xFFFFFC00, 0x4D60C800 // ld2r {vt.4s, vt+1.4s}, [xn]
	maskLd3R, wantLd3R   = 0xFFFFFC00, 0x4DDFE800 // ld3r {vt.4s-vt+2.4s}, [xn], #12
	maskFmla, wantFmla   = 0xFFC0F400, 0x4F801000 // fmla vd.4s, vn.4s, vm.s[lane]
	maskRet, wantRet     = 0xFFFFFFFF, 0xD65F03C0
	maskTbzNC, wantTbzNC = 0xFF00001F, 0x36000001 // tbz x1, #bit, label
)

func TestGenerateAcrossShapes(t *testing.T) {
	for maxRows := 1; maxRows <= TileRows; maxRows++ {
		for _, rem := range []int{NoRemainder, 0, 1, 4, 7} {
			for _, kBytes := range []int{4, 8, 16, 32, 64, 68} {
				name := fmt.Sprintf("rows=%d/rem=%d/k=%d", maxRows, rem, kBytes)
				t.Run(name, func(t *testing.T) {
					prog := mustGenerate(t, clampParams(maxRows, rem, kBytes))
					if prog.Size() == 0 || prog.Size()%16 != 0 {
						t.Fatalf("program size %d not a positive multiple of 16", prog.Size())
					}
					if n := countMatching(progWords(t, prog), maskRet, wantRet); n == 0 {
						t.Fatal("program has no return")
					}
				})
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	p := clampParams(TileRows, 7, 64)
	first := mustGenerate(t, p)
	second := mustGenerate(t, p)
	if !bytes.Equal(first.Code(), second.Code()) {
		t.Fatal("identical parameters generated different code")
	}
}

func TestGenerateValidation(t *testing.T) {
	valid := clampParams(TileRows, NoRemainder, 16)
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero rows", func(p *Params) { p.MaxRows = 0 }},
		{"too many rows", func(p *Params) { p.MaxRows = TileRows + 1 }},
		{"zero depth", func(p *Params) { p.KBytes = 0 }},
		{"ragged depth", func(p *Params) { p.KBytes = 10 }},
		{"remainder at tile width", func(p *Params) { p.ColRemainder = TileCols }},
		{"clamp with post-ops", func(p *Params) { p.PostOps = []PostOp{{Kind: PostOpHardSwish}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := Generate(asm.NewBuffer(0), p)
			if !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("Generate = %v, want ErrInvalidParams", err)
			}
			if got := StatusOf(err); got != StatusInvalidParameter {
				t.Fatalf("StatusOf = %v, want StatusInvalidParameter", got)
			}
		})
	}
}

func TestGenerateUnsupportedPostOp(t *testing.T) {
	min, max := NoClamp()
	p := Params{MaxRows: 2, ColRemainder: NoRemainder, KBytes: 16, Min: min, Max: max,
		PostOps: []PostOp{{Kind: PostOpKind(99)}}}
	_, err := Generate(asm.NewBuffer(0), p)
	if !errors.Is(err, ErrUnsupportedPostOp) {
		t.Fatalf("Generate = %v, want ErrUnsupportedPostOp", err)
	}
	if got := StatusOf(err); got != StatusUnsupportedPostOp {
		t.Fatalf("StatusOf = %v, want StatusUnsupportedPostOp", got)
	}
}

func TestGenerateBufferOverflow(t *testing.T) {
	_, err := Generate(asm.NewBuffer(64), clampParams(TileRows, 7, 64))
	if !errors.Is(err, asm.ErrBufferOverflow) {
		t.Fatalf("Generate = %v, want ErrBufferOverflow", err)
	}
	if got := StatusOf(err); got != StatusInvalidGenerationState {
		t.Fatalf("StatusOf = %v, want StatusInvalidGenerationState", got)
	}
}

// A remainder of zero promises full-width tiles just like NoRemainder does;
// both must specialize identically.
func TestZeroRemainderMatchesNoRemainder(t *testing.T) {
	none := mustGenerate(t, clampParams(TileRows, NoRemainder, 64))
	zero := mustGenerate(t, clampParams(TileRows, 0, 64))
	if !bytes.Equal(none.Code(), zero.Code()) {
		t.Fatal("remainder 0 and NoRemainder generated different code")
	}
}

func TestNoRemainderOmitsOddStoreBands(t *testing.T) {
	full := mustGenerate(t, clampParams(TileRows, 7, 64))
	none := mustGenerate(t, clampParams(TileRows, NoRemainder, 64))
	if none.Size() >= full.Size() {
		t.Fatalf("NoRemainder program (%d bytes) not smaller than remainder-7 program (%d bytes)",
			none.Size(), full.Size())
	}
	// The odd bands are gated on bits of the remaining column count; with no
	// odd path there is nothing to test them with.
	if n := countMatching(progWords(t, none), maskTbzNC, wantTbzNC); n != 0 {
		t.Fatalf("NoRemainder program tests column-count bits %d times", n)
	}
}

// Each set remainder bit contributes exactly one store band, so narrowing the
// remainder must never grow the program.
func TestRemainderBitsGateStoreBands(t *testing.T) {
	sizes := make([]int, TileCols)
	for rem := 0; rem < TileCols; rem++ {
		sizes[rem] = mustGenerate(t, clampParams(TileRows, rem, 64)).Size()
	}
	for _, pair := range [][2]int{{1, 3}, {2, 3}, {1, 5}, {4, 5}, {3, 7}, {5, 7}, {6, 7}} {
		narrow, wide := pair[0], pair[1]
		if sizes[narrow] >= sizes[wide] {
			t.Errorf("remainder %d program (%d bytes) not smaller than remainder %d (%d bytes)",
				narrow, sizes[narrow], wide, sizes[wide])
		}
	}
}

func TestSingleRowOmitsPointerSelects(t *testing.T) {
	one := progWords(t, mustGenerate(t, clampParams(1, NoRemainder, 16)))
	if n := countMatching(one, maskCsel, wantCsel); n != 0 {
		t.Fatalf("single-row program collapses row pointers %d times", n)
	}
	two := progWords(t, mustGenerate(t, clampParams(2, NoRemainder, 16)))
	// One A and one C select for the second row.
	if n := countMatching(two, maskCsel, wantCsel); n != 2 {
		t.Fatalf("two-row program has %d pointer selects, want 2", n)
	}
}

func TestClampEmission(t *testing.T) {
	min, max := NoClamp()

	t.Run("none", func(t *testing.T) {
		p := Params{MaxRows: 2, ColRemainder: NoRemainder, KBytes: 16, Min: min, Max: max}
		ws := progWords(t, mustGenerate(t, p))
		if n := countMatching(ws, maskFmax, wantFmax) + countMatching(ws, maskFmin, wantFmin); n != 0 {
			t.Fatalf("unclamped program bounds accumulators %d times", n)
		}
		if n := countMatching(ws, maskLd2R, wantLd2R); n != 0 {
			t.Fatal("unclamped program loads clamp bounds")
		}
	})

	t.Run("min only", func(t *testing.T) {
		p := Params{MaxRows: 2, ColRemainder: NoRemainder, KBytes: 16, Min: 0, Max: max}
		ws := progWords(t, mustGenerate(t, p))
		if n := countMatching(ws, maskFmax, wantFmax); n != 4 {
			t.Fatalf("min-only program has %d fmax words, want 4", n)
		}
		if n := countMatching(ws, maskFmin, wantFmin); n != 0 {
			t.Fatalf("min-only program has %d fmin words, want 0", n)
		}
	})

	t.Run("both", func(t *testing.T) {
		ws := progWords(t, mustGenerate(t, clampParams(2, NoRemainder, 16)))
		if got := countMatching(ws, maskFmax, wantFmax); got != 4 {
			t.Fatalf("clamped program has %d fmax words, want 4", got)
		}
		if got := countMatching(ws, maskFmin, wantFmin); got != 4 {
			t.Fatalf("clamped program has %d fmin words, want 4", got)
		}
		if n := countMatching(ws, maskLd2R, wantLd2R); n != 1 {
			t.Fatalf("clamped program loads clamp bounds %d times, want 1", n)
		}
	})
}

func TestHardSwishEmission(t *testing.T) {
	min, max := NoClamp()
	p := Params{MaxRows: 3, ColRemainder: NoRemainder, KBytes: 16, Min: min, Max: max,
		PostOps: []PostOp{{Kind: PostOpHardSwish}}}
	ws := progWords(t, mustGenerate(t, p))
	if n := countMatching(ws, maskLd3R, wantLd3R); n != 1 {
		t.Fatalf("hardswish program loads its constants %d times, want 1", n)
	}
	// One fmax/fmin pair per accumulator vector.
	if n := countMatching(ws, maskFmax, wantFmax); n != 6 {
		t.Fatalf("hardswish program has %d fmax words, want 6", n)
	}
	if n := countMatching(ws, maskFmin, wantFmin); n != 6 {
		t.Fatalf("hardswish program has %d fmin words, want 6", n)
	}
}

// The reduction loop body covers four lanes, two vectors each, for every
// active row; the tail bands add two more lanes and one more lane.
func TestReductionFmaCount(t *testing.T) {
	for maxRows := 1; maxRows <= TileRows; maxRows++ {
		ws := progWords(t, mustGenerate(t, clampParams(maxRows, NoRemainder, 64)))
		want := (4 + 2 + 1) * 2 * maxRows
		if n := countMatching(ws, maskFmla, wantFmla); n != want {
			t.Fatalf("maxRows=%d: %d fmla words, want %d", maxRows, n, want)
		}
	}
}

func TestPackParams(t *testing.T) {
	t.Run("clamp", func(t *testing.T) {
		p := clampParams(1, NoRemainder, 4)
		p.Min, p.Max = -0.5, 2.5
		got := p.PackParams()
		want := packFloats(-0.5, 2.5)
		if !bytes.Equal(got, want) {
			t.Fatalf("PackParams = % x, want % x", got, want)
		}
	})
	t.Run("hardswish", func(t *testing.T) {
		min, max := NoClamp()
		p := Params{MaxRows: 1, ColRemainder: NoRemainder, KBytes: 4, Min: min, Max: max,
			PostOps: []PostOp{{Kind: PostOpHardSwish}}}
		got := p.PackParams()
		want := packFloats(1.0/6.0, 3, 6)
		if !bytes.Equal(got, want) {
			t.Fatalf("PackParams = % x, want % x", got, want)
		}
	})
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusOK, "ok"},
		{StatusInvalidParameter, "invalid parameter"},
		{StatusInvalidGenerationState, "invalid generation state"},
		{StatusUnsupportedPostOp, "unsupported post-op"},
		{Status(42), "status(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
