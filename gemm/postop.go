package gemm

import (
	"fmt"

	"github.com/elara-ml/gemmjit/asm/aarch64"
)

// applyPostOps runs the fused epilogue pipeline over every active
// accumulator in place. It runs after the reduction has fully consumed the
// row inputs, so the input vectors and clamp registers are free to hold the
// pipeline's constants and temporaries. An unrecognized kind aborts
// generation; it is never silently skipped.
func (g *generator) applyPostOps() error {
	if len(g.p.PostOps) == 0 {
		return nil
	}
	// Re-anchor the constant cursor: the ops consume it with post-increment
	// loads, and the epilogue runs once per column tile.
	g.a.LdrX(g.plan.Params, aarch64.SP, 8)
	for _, op := range g.p.PostOps {
		switch op.Kind {
		case PostOpHardSwish:
			g.emitHardSwish()
		default:
			return fmt.Errorf("%w: kind %d", ErrUnsupportedPostOp, op.Kind)
		}
	}
	return g.a.Err()
}

// emitHardSwish applies x * min(max(x+3, 0), 6) * (1/6) to each accumulator
// vector. The three constants come from the params stream, consumed with a
// replicating post-increment load so a following op reads its own block.
func (g *generator) emitHardSwish() {
	a, pl := g.a, g.plan
	sixth := pl.PostConst[0]
	three := pl.PostConst[1]
	six := pl.PostConst[2]
	zero := pl.PostConst[3]

	a.Ld3RPost(sixth, pl.Params)
	a.MoviZero(zero)

	for i := 0; i < g.rows*2; i++ {
		acc := pl.Acc[i/2][i%2]
		tmp := pl.PostTmp[i%len(pl.PostTmp)]
		a.Fadd(tmp, acc, three)
		a.Fmax(tmp, tmp, zero)
		a.Fmin(tmp, tmp, six)
		a.Fmul(tmp, tmp, sixth)
		a.Fmul(acc, acc, tmp)
	}
}
