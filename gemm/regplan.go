package gemm

import (
	"fmt"

	"github.com/elara-ml/gemmjit/asm/aarch64"
)

// RegisterPlan is the fixed generation-time mapping from logical roles to
// physical registers for one (architecture, tile shape) pair. Keeping the
// table external to the emission code lets the tiling algorithm retarget to
// other vector widths without touching the loop logic.
//
// Some physical registers are reused across phases: AStride doubles as the
// last row's A pointer and CMStride as the last row's C pointer, because the
// strides are dead once the pointers are derived, and MR is reused first as
// the reduction counter and then as the output tile stride, which is loaded
// only after the counter is exhausted. No two roles are live at once.
type RegisterPlan struct {
	// Scalar argument and working registers.
	MR       aarch64.XReg // rows_to_compute; later reduction counter, then tile stride
	NC       aarch64.XReg // cols_to_compute countdown
	KC       aarch64.XReg // reduction depth in bytes, preserved throughout
	AStride  aarch64.XReg
	W        aarch64.XReg // packed weight stream cursor
	CMStride aarch64.XReg
	Params   aarch64.XReg // numeric params pointer

	// Per-row pointer and vector roles; only the first MaxRows entries of
	// each are ever referenced.
	A   [TileRows]aarch64.XReg
	C   [TileRows]aarch64.XReg
	In  [TileRows]aarch64.VReg
	Acc [TileRows][2]aarch64.VReg

	// Weight tile vectors, cycled in pairs by the reduction loop.
	Wt [4]aarch64.VReg

	// Clamp bound broadcasts (clamping kernels only).
	ClampLo aarch64.VReg
	ClampHi aarch64.VReg

	// Post-op constants and temporaries; these reuse the input vectors and
	// clamp registers, which are dead by the time the epilogue runs.
	PostConst [4]aarch64.VReg
	PostTmp   [4]aarch64.VReg
}

type planKey struct {
	arch string
	rows int
	cols int
}

// neonPlan is the AAPCS64-safe allocation for the 6x8 NEON tile: only
// caller-saved registers, no stack frame, v8-v15 and x19-x28 untouched.
var neonPlan = RegisterPlan{
	MR:       aarch64.X0,
	NC:       aarch64.X1,
	KC:       aarch64.X2,
	AStride:  aarch64.X4,
	W:        aarch64.X5,
	CMStride: aarch64.X7,
	Params:   aarch64.X8,

	A: [TileRows]aarch64.XReg{aarch64.X3, aarch64.X9, aarch64.X10, aarch64.X11, aarch64.X12, aarch64.X4},
	C: [TileRows]aarch64.XReg{aarch64.X6, aarch64.X16, aarch64.X17, aarch64.X14, aarch64.X13, aarch64.X7},
	In: [TileRows]aarch64.VReg{
		aarch64.V0, aarch64.V1, aarch64.V2, aarch64.V3, aarch64.V4, aarch64.V5,
	},
	Acc: [TileRows][2]aarch64.VReg{
		{aarch64.V20, aarch64.V21},
		{aarch64.V22, aarch64.V23},
		{aarch64.V24, aarch64.V25},
		{aarch64.V26, aarch64.V27},
		{aarch64.V28, aarch64.V29},
		{aarch64.V30, aarch64.V31},
	},
	Wt: [4]aarch64.VReg{aarch64.V16, aarch64.V17, aarch64.V18, aarch64.V19},

	ClampLo: aarch64.V6,
	ClampHi: aarch64.V7,

	PostConst: [4]aarch64.VReg{aarch64.V0, aarch64.V1, aarch64.V2, aarch64.V3},
	PostTmp:   [4]aarch64.VReg{aarch64.V4, aarch64.V5, aarch64.V6, aarch64.V7},
}

var plans = map[planKey]*RegisterPlan{
	{arch: "aarch64", rows: TileRows, cols: TileCols}: &neonPlan,
}

func planFor(arch string, rows, cols int) (*RegisterPlan, error) {
	plan, ok := plans[planKey{arch: arch, rows: rows, cols: cols}]
	if !ok {
		return nil, fmt.Errorf("gemm: no register plan for %s %dx%d", arch, rows, cols)
	}
	return plan, nil
}
