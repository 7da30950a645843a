package opaquepredicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ir"
	"ssaobf/internal/ireval"
	"ssaobf/internal/obfmeta"
	"ssaobf/internal/predicate"
)

// fixedSource is a deterministic predicate.Source: always picks Formula1,
// always resolves Random to True, and always advances by 1.
type fixedSource struct{}

func (fixedSource) Formula() predicate.Formula   { return predicate.Formula1 }
func (fixedSource) Bool() bool                   { return true }
func (fixedSource) NonzeroConst(bits uint) int64 { return 1 }

// straightFunc is entry -> mid -> join, mid ending in a plain jump so it is
// a guard candidate; join returns a constant.
func straightFunc() *ir.Function {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	mid := &ir.BasicBlock{Label: "mid"}
	join := &ir.BasicBlock{Label: "join"}
	fn.AddBlock(entry)
	fn.AddBlock(mid)
	fn.AddBlock(join)

	entry.Terminator = ir.NewJump(mid)
	entry.Terminator.SetBlock(entry)
	mid.Terminator = ir.NewJump(join)
	mid.Terminator.SetBlock(mid)

	c := ir.NewConst(ir.I32, int64(7))
	join.Instructions = []ir.Instruction{c}
	join.Terminator = ir.NewReturn(c.Res)
	join.Terminator.SetBlock(join)

	fn.RecomputePredecessors()
	return fn
}

func TestEligibleRequiresAJumpCandidate(t *testing.T) {
	assert.True(t, Eligible(straightFunc()))

	fn := &ir.Function{Name: "g", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	fn.AddBlock(entry)
	entry.Terminator = ir.NewReturn(nil)
	entry.Terminator.SetBlock(entry)
	assert.False(t, Eligible(fn), "entry-only function has no non-entry jump to guard")
}

func TestRunGuardsEveryCandidateAndTagsDeadBlock(t *testing.T) {
	fn := straightFunc()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}
	meta := obfmeta.NewStore()

	pass := New(Config{GlobalCount: 4}, meta)
	stats, err := pass.Run(prog, fixedSource{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BlocksGuarded, "only mid ends in a plain jump")
	assert.Len(t, prog.Globals, 4)

	var dead *ir.BasicBlock
	for _, b := range fn.Blocks {
		if b.Label == "mid.opaque.dead" {
			dead = b
		}
	}
	require.NotNil(t, dead)
	require.NotEmpty(t, dead.Instructions)
	assert.True(t, meta.Has(dead.Instructions[0], obfmeta.OpUnreach))

	br, ok := fn.Blocks[1].Terminator.(*ir.BranchTerm)
	require.True(t, ok, "guarded block must now end in a conditional branch")
	assert.True(t, meta.Has(br, obfmeta.OpStub))
	assert.True(t, meta.Has(br, obfmeta.OpMark))
}

func TestRunPreservesSemantics(t *testing.T) {
	orig := straightFunc()
	transformed := ir.CloneFunctionInto(orig, "f")

	meta := obfmeta.NewStore()
	pass := New(Config{GlobalCount: 4}, meta)
	_, err := pass.Run(&ir.Program{Name: "p", Functions: []*ir.Function{transformed}}, fixedSource{})
	require.NoError(t, err)

	want, err := ireval.Run(orig, nil, 1000)
	require.NoError(t, err)
	got, err := ireval.Run(transformed, nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
