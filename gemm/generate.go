package gemm

import (
	"github.com/elara-ml/gemmjit/asm"
	"github.com/elara-ml/gemmjit/asm/aarch64"
)

// Generate emits a microkernel specialized for p into buf and finalizes it.
// The returned Program computes, per invocation:
//
//	C[0:mr, 0:nc] = post(clamp(A[0:mr, 0:kc/4] * W + bias))
//
// with the calling contract (AAPCS64):
//
//	x0 mr, x1 nc, x2 kc bytes, x3 a, x4 a_stride bytes, x5 packed weights
//	(bias first, then column-major weight tiles), x6 c, x7 cm_stride bytes,
//	[sp] cn_stride bytes, [sp+8] numeric params pointer.
//
// Generation is single-threaded and single-pass: it either fully populates
// the buffer or fails outright, leaving nothing to retry except generation
// into a fresh (possibly larger) buffer.
func Generate(buf *asm.Buffer, p Params) (asm.Program, error) {
	if err := p.validate(); err != nil {
		return asm.Program{}, err
	}
	plan, err := planFor("aarch64", TileRows, TileCols)
	if err != nil {
		return asm.Program{}, err
	}
	g := &generator{
		a:    aarch64.New(buf),
		plan: plan,
		p:    p,
		rows: p.MaxRows,
	}
	if err := g.emit(); err != nil {
		return asm.Program{}, err
	}
	return g.a.Finalize()
}

type generator struct {
	a    *aarch64.Assembler
	plan *RegisterPlan
	p    Params
	rows int
}

// emit lays out the full routine. The label graph mirrors the control flow:
// outer column-tile loop, unrolled reduction loop, two reduction tail bands,
// a shared finish block (clamp / post-ops / store decision), and optional
// odd-width store bands.
func (g *generator) emit() error {
	a, pl := g.a, g.plan

	// Control-flow labels: the outer column-tile loop, the unrolled
	// reduction loop, the shared finish block, the two reduction tail
	// bands, and the odd-width store bands.
	outer := a.NewLabel()
	loopK := a.NewLabel()
	finish := a.NewLabel()
	tailK := a.NewLabel()
	tailLane := a.NewLabel()
	oddStore := a.NewLabel()
	oddPair := a.NewLabel()
	oddLane := a.NewLabel()
	done := a.NewLabel()

	// Stack-passed numeric params pointer.
	a.LdrX(pl.Params, aarch64.SP, 8)

	g.deriveRowPointers()

	if g.p.clampMin() || g.p.clampMax() {
		// Broadcast {min, max} once; re-read per call, never per lane.
		a.Ld2R(pl.ClampLo, pl.Params)
	}

	a.Bind(outer)
	g.seedBias()

	// Enter the unrolled loop only with at least one full unroll left;
	// exactly one unroll's worth still runs the body.
	a.SubsXImm(pl.MR, pl.KC, unrollK)
	a.BCond(aarch64.LO, tailK)

	a.Bind(loopK)
	g.loadInputs(unrollK)
	g.accumulateLane(0, 0, func() { a.LdpQPost(pl.Wt[2], pl.Wt[3], pl.W, 32) })
	g.accumulateLane(1, 2, func() { a.LdpQPost(pl.Wt[0], pl.Wt[1], pl.W, 32) })
	g.accumulateLane(2, 0, func() { a.LdpQPost(pl.Wt[2], pl.Wt[3], pl.W, 32) })
	g.accumulateLane(3, 2, func() { a.SubsXImm(pl.MR, pl.MR, unrollK) })
	a.BCond(aarch64.HS, loopK)

	// Remaining length is now negative; its low bits say whether the tail
	// bands have work.
	a.TstXMask(pl.MR, unrollK-1)
	a.BCond(aarch64.NE, tailK)

	a.Bind(finish)
	g.clampAccumulators()
	if err := g.applyPostOps(); err != nil {
		return err
	}
	if g.hasOddPath() {
		a.BCond(aarch64.LO, oddStore)
	}
	g.storeFullWidth()
	a.BCond(aarch64.HI, outer)
	a.Ret()

	a.Bind(tailK)
	// Half-unroll band: two lanes, falling through to the single-lane band
	// when bit 2 of the remaining length is set.
	a.Tbz(pl.MR, 3, tailLane)
	g.loadInputs(unrollK / 2)
	g.accumulateLane(0, 0, func() { a.LdpQPost(pl.Wt[2], pl.Wt[3], pl.W, 32) })
	g.accumulateLane(1, 2, nil)
	a.Tbz(pl.MR, 2, finish)

	a.Bind(tailLane)
	g.loadInputs(unrollK / 4)
	g.accumulateLane(0, 0, nil)
	a.B(finish)

	if g.hasOddPath() {
		g.storeOddWidth(oddStore, oddPair, oddLane, done)
	}
	return a.Err()
}

// deriveRowPointers derives each row's input and output pointer from the
// previous row's, then collapses it back when rows_to_compute does not reach
// it. One conditional select per pointer, once per call, never in the hot
// loop: rows beyond the requested count alias the previous row's memory.
// With MaxRows == 1 nothing is emitted at all.
func (g *generator) deriveRowPointers() {
	a, pl := g.a, g.plan
	cond := aarch64.LO
	for r := 1; r < g.rows; r++ {
		if r%2 == 1 {
			// One compare covers this row (mr < r+1) and the next
			// (mr <= r+1).
			a.CmpXImm(pl.MR, uint32(r+1))
			cond = aarch64.LO
		} else {
			cond = aarch64.LS
		}
		a.AddX(pl.A[r], pl.A[r-1], pl.AStride)
		a.AddX(pl.C[r], pl.C[r-1], pl.CMStride)
		a.CselX(pl.A[r], pl.A[r-1], pl.A[r], cond)
		a.CselX(pl.C[r], pl.C[r-1], pl.C[r], cond)
	}
}

// seedBias loads the bias pair from the weight stream into row 0's
// accumulators and copies it into every other active row, interleaving
// prefetches of the weight stream and the active input rows.
func (g *generator) seedBias() {
	a, pl := g.a, g.plan
	a.LdpQPost(pl.Acc[0][0], pl.Acc[0][1], pl.W, 32)

	prefetch := make([]func(), 0, 4+g.rows)
	for _, off := range []int32{0, 64, 128, 192} {
		off := off
		prefetch = append(prefetch, func() { a.Prfm(pl.W, off) })
	}
	for r := 0; r < g.rows; r++ {
		r := r
		prefetch = append(prefetch, func() { a.Prfm(pl.A[r], 0) })
	}
	next := func() {
		if len(prefetch) > 0 {
			prefetch[0]()
			prefetch = prefetch[1:]
		}
	}

	for r := 1; r < g.rows; r++ {
		a.MovV(pl.Acc[r][0], pl.Acc[0][0])
		next()
		a.MovV(pl.Acc[r][1], pl.Acc[0][1])
		next()
	}
	for len(prefetch) > 0 {
		next()
	}
}

// loadInputs loads bytes of the reduction dimension for every active row,
// advancing the row pointers, then loads the first weight vector pair.
func (g *generator) loadInputs(bytes int32) {
	a, pl := g.a, g.plan
	load := func(r int) {
		switch bytes {
		case unrollK:
			a.LdrQPost(pl.In[r], pl.A[r], bytes)
		case unrollK / 2:
			a.LdrDPost(pl.In[r], pl.A[r], bytes)
		default:
			a.LdrSPost(pl.In[r], pl.A[r], bytes)
		}
	}
	load(0)
	a.LdpQPost(pl.Wt[0], pl.Wt[1], pl.W, 32)
	for r := 1; r < g.rows; r++ {
		load(r)
	}
}

// accumulateLane emits one outer-product step: for reduction lane `lane`,
// multiply every active row's broadcast input scalar with the weight vector
// pair starting at Wt[wt], accumulating into each row's accumulator pair.
// after, when set, is interleaved behind the first FMA to overlap the next
// weight fetch (or the counter update) with the arithmetic.
func (g *generator) accumulateLane(lane, wt int, after func()) {
	a, pl := g.a, g.plan
	for r := 0; r < g.rows; r++ {
		a.FmlaLane(pl.Acc[r][0], pl.Wt[wt], pl.In[r], lane)
		if r == 0 && after != nil {
			after()
		}
	}
	for r := 0; r < g.rows; r++ {
		a.FmlaLane(pl.Acc[r][1], pl.Wt[wt+1], pl.In[r], lane)
	}
}

// clampAccumulators applies the finite bounds to every active accumulator.
// The tile stride reload and the column countdown are interleaved here
// regardless of clamping; they are needed by every store path.
func (g *generator) clampAccumulators() {
	a, pl := g.a, g.plan
	min, max := g.p.clampMin(), g.p.clampMax()

	if min {
		a.Fmax(pl.Acc[0][0], pl.Acc[0][0], pl.ClampLo)
	}
	// cn_stride, reusing the exhausted reduction counter register.
	a.LdrX(pl.MR, aarch64.SP, 0)
	if min {
		a.Fmax(pl.Acc[0][1], pl.Acc[0][1], pl.ClampLo)
		for r := 1; r < g.rows; r++ {
			a.Fmax(pl.Acc[r][0], pl.Acc[r][0], pl.ClampLo)
			a.Fmax(pl.Acc[r][1], pl.Acc[r][1], pl.ClampLo)
		}
	}
	a.SubsXImm(pl.NC, pl.NC, TileCols)
	if max {
		for r := 0; r < g.rows; r++ {
			a.Fmin(pl.Acc[r][0], pl.Acc[r][0], pl.ClampHi)
			a.Fmin(pl.Acc[r][1], pl.Acc[r][1], pl.ClampHi)
		}
	}
}

// storeFullWidth stores every active row's accumulator pair contiguously,
// advancing each output pointer by the tile stride and rewinding each input
// pointer by the reduction depth for the next column tile.
func (g *generator) storeFullWidth() {
	a, pl := g.a, g.plan
	for r := 0; r < g.rows; r++ {
		a.St1TwoQPost(pl.Acc[r][0], pl.C[r], pl.MR)
		a.SubX(pl.A[r], pl.A[r], pl.KC)
	}
}

// storeOddWidth emits the narrow final-tile bands: full vector, half vector,
// single lane, each gated at generation time by the corresponding bit of the
// column remainder and at run time by the matching bit of the remaining
// column count. After each chunk the surviving accumulator content shifts
// down so the next band always stores from the low lanes.
func (g *generator) storeOddWidth(entry, pair, lane, done aarch64.Label) {
	a, pl := g.a, g.plan
	rem := g.p.ColRemainder

	a.Bind(entry)
	if rem&4 != 0 {
		a.Tbz(pl.NC, 2, pair)
		for r := 0; r < g.rows; r++ {
			a.StrQPost(pl.Acc[r][0], pl.C[r], 16)
			a.MovV(pl.Acc[r][0], pl.Acc[r][1])
		}
	}
	a.Bind(pair)
	if rem&2 != 0 {
		a.Tbz(pl.NC, 1, lane)
		for base := 0; base < g.rows; base += 2 {
			top := base + 2
			if top > g.rows {
				top = g.rows
			}
			for r := base; r < top; r++ {
				a.StrDPost(pl.Acc[r][0], pl.C[r], 8)
			}
			for r := base; r < top; r++ {
				a.DupD2(pl.Acc[r][0], pl.Acc[r][0])
			}
		}
	}
	a.Bind(lane)
	if rem&1 != 0 {
		a.Tbz(pl.NC, 0, done)
		for r := 0; r < g.rows; r++ {
			a.StrS(pl.Acc[r][0], pl.C[r])
		}
	}
	a.Bind(done)
	a.Ret()
}

func (g *generator) hasOddPath() bool {
	return g.p.ColRemainder != NoRemainder && g.p.ColRemainder != 0
}
