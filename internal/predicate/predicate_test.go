package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
)

func newBlock(label string) *ir.BasicBlock { return &ir.BasicBlock{Label: label} }

func TestPrepareModuleRejectsTooFewGuards(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	_, err := PrepareModule(prog, 1, NewSeededSource("x"))
	assert.Error(t, err)
}

func TestPrepareModuleDefaultCount(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-a"))
	require.NoError(t, err)
	assert.Len(t, lib.Globals, DefaultGuardCount)
	for _, g := range lib.Globals {
		assert.Equal(t, ir.Common, g.Linkage)
		assert.Equal(t, int64(0), g.Init)
	}
}

func TestCreateIndeterminateIsRejected(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-b"))
	require.NoError(t, err)
	_, err = lib.Create(KindIndeterminate, newBlock("b"))
	assert.Error(t, err, "Indeterminate must never be silently accepted")
}

func TestCreateNoneIsRejected(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-c"))
	require.NoError(t, err)
	_, err = lib.Create(KindNone, newBlock("b"))
	assert.Error(t, err)
}

func TestCreateTrueAndFalseReportTheirKind(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-d"))
	require.NoError(t, err)

	res, err := lib.Create(KindTrue, newBlock("bt"))
	require.NoError(t, err)
	assert.Equal(t, KindTrue, res.Kind)
	assert.NotNil(t, res.Value)

	res2, err := lib.Create(KindFalse, newBlock("bf"))
	require.NoError(t, err)
	assert.Equal(t, KindFalse, res2.Kind)
}

func TestCreateRandomNeverFallsThroughToIndeterminate(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-e"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := lib.Create(KindRandom, newBlock("br"))
		require.NoError(t, err)
		assert.Contains(t, []Kind{KindTrue, KindFalse}, res.Kind)
	}
}

func TestNonzeroConstNeverProducesZero(t *testing.T) {
	src := NewSeededSource("zero-stress")
	for i := 0; i < 1000; i++ {
		v := src.NonzeroConst(4)
		assert.NotZero(t, v)
	}
}

func TestSeededSourceIsDeterministic(t *testing.T) {
	a := NewSeededSource("reproducible")
	b := NewSeededSource("reproducible")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Formula(), b.Formula())
		assert.Equal(t, a.Bool(), b.Bool())
	}
}

func TestCreateStubInstallsLiteralTruePlaceholder(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-f"))
	require.NoError(t, err)
	meta := obfmeta.NewStore()

	block := newBlock("guard")
	trueSucc := newBlock("true_succ")
	falseSucc := newBlock("false_succ")

	stub, err := lib.CreateStub(meta, block, trueSucc, falseSucc, KindRandom)
	require.NoError(t, err)
	assert.Same(t, trueSucc, stub.Live)
	assert.Same(t, falseSucc, stub.Dead)
	assert.True(t, stub.Mark)

	br, ok := block.Terminator.(*ir.BranchTerm)
	require.True(t, ok)
	assert.Same(t, trueSucc, br.True)
	assert.Same(t, falseSucc, br.False)

	cond, ok := br.Cond.Def.(*ir.FloatCmpInst)
	require.True(t, ok, "stub condition must be an fcmp instruction")
	assert.Equal(t, ir.FCmpTrue, cond.Pred)

	val, ok := meta.Lookup(br, obfmeta.Stub)
	require.True(t, ok)
	assert.Equal(t, KindRandom.String(), val)
	assert.False(t, meta.Has(br, obfmeta.OpStub), "materialisation tags must not exist before Materialise runs")
}

func TestMaterialiseResolvesEveryStubAndTagsTheDeadArm(t *testing.T) {
	prog := &ir.Program{Name: "p"}
	lib, err := PrepareModule(prog, DefaultGuardCount, NewSeededSource("seed-g"))
	require.NoError(t, err)
	meta := obfmeta.NewStore()

	fn := &ir.Function{Name: "f"}
	block := newBlock("guard")
	trueSucc := newBlock("true_succ")
	trueSucc.Terminator = ir.NewReturn(nil)
	falseSucc := newBlock("false_succ")
	falseSucc.Terminator = ir.NewReturn(nil)
	fn.AddBlock(block)
	fn.AddBlock(trueSucc)
	fn.AddBlock(falseSucc)
	prog.Functions = []*ir.Function{fn}

	_, err = lib.CreateStub(meta, block, trueSucc, falseSucc, KindTrue)
	require.NoError(t, err)

	n, err := lib.Materialise(meta, prog)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	br, ok := block.Terminator.(*ir.BranchTerm)
	require.True(t, ok)
	assert.False(t, meta.Has(br, obfmeta.Stub), "stub tag must be discarded once materialised")
	assert.True(t, meta.Has(br, obfmeta.OpStub))
	assert.True(t, meta.Has(br, obfmeta.OpMark))

	if formula, _ := meta.Lookup(br, obfmeta.OpStub); formula == Formula2.String() {
		or, ok := br.Cond.Def.(*ir.IntBinInst)
		require.True(t, ok, "formula2's true form is the OR of its two integer comparisons")
		assert.Equal(t, ir.IOr, or.Op)
	} else {
		_, ok := br.Cond.Def.(*ir.IntCmpInst)
		require.True(t, ok, "materialised condition must be one of the integer formulas, not the fcmp placeholder")
	}

	dead := falseSucc
	mark, _ := meta.Lookup(br, obfmeta.OpMark)
	if mark == obfmeta.ValFalse {
		dead = trueSucc
	}
	assert.True(t, meta.Has(dead.Instructions[0], obfmeta.OpUnreach))
}
