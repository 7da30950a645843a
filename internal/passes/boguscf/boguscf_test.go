package boguscf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ir"
	"ssaobf/internal/obflog"
	"ssaobf/internal/obfmeta"
	"ssaobf/internal/predicate"
)

// straightLine builds a function with one eligible block between entry and
// a return, so BogusCF has exactly one candidate to act on.
func straightLine() *ir.Function {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	mid := &ir.BasicBlock{Label: "mid"}
	fn.AddBlock(entry)
	fn.AddBlock(mid)

	entry.Terminator = ir.NewJump(mid)
	entry.Terminator.SetBlock(entry)

	a := ir.NewConst(ir.I32, int64(1))
	b := ir.NewConst(ir.I32, int64(2))
	sum := ir.NewIntBin(ir.IAdd, a.Res, b.Res)
	mid.Instructions = []ir.Instruction{a, b, sum}
	mid.Terminator = ir.NewReturn(sum.Res)
	mid.Terminator.SetBlock(mid)

	fn.RecomputePredecessors()
	return fn
}

func TestRunAlwaysTransformsAtProbabilityOne(t *testing.T) {
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{straightLine()}}
	meta := obfmeta.NewStore()
	lib, err := predicate.PrepareModule(prog, predicate.DefaultGuardCount, predicate.NewSeededSource("s"))
	require.NoError(t, err)

	pass := New(Config{Probability: 1.0, Seed: "deterministic"}, meta, obflog.New(obflog.LevelError))
	stats, err := pass.Run(prog, lib)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BlocksSeen)
	assert.Equal(t, 1, stats.BlocksTransformed)
	assert.True(t, meta.CheckFunctionTagged(prog.Functions[0], obfmeta.BogusCF))
	assert.Greater(t, len(prog.Functions[0].Blocks), 2, "the transform should have added clone/split blocks")
}

func TestRunNeverTransformsAtProbabilityZero(t *testing.T) {
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{straightLine()}}
	meta := obfmeta.NewStore()
	lib, err := predicate.PrepareModule(prog, predicate.DefaultGuardCount, predicate.NewSeededSource("s"))
	require.NoError(t, err)

	pass := New(Config{Probability: 0.0, Seed: "deterministic"}, meta, obflog.New(obflog.LevelError))
	stats, err := pass.Run(prog, lib)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.BlocksTransformed)
	assert.False(t, meta.CheckFunctionTagged(prog.Functions[0], obfmeta.BogusCF))
}

func TestRunSkipsAlreadyTaggedFunctions(t *testing.T) {
	fn := straightLine()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}
	meta := obfmeta.NewStore()
	meta.TagFunction(fn, obfmeta.BogusCF, obfmeta.ValTrue)
	lib, err := predicate.PrepareModule(prog, predicate.DefaultGuardCount, predicate.NewSeededSource("s"))
	require.NoError(t, err)

	pass := New(Config{Probability: 1.0}, meta, obflog.New(obflog.LevelError))
	stats, err := pass.Run(prog, lib)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FunctionsSkipped)
	assert.Equal(t, 0, stats.BlocksTransformed)
}

func TestRunSkipsFunctionsWithInvokeTerminator(t *testing.T) {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	normal := &ir.BasicBlock{Label: "normal"}
	unwind := &ir.BasicBlock{Label: "unwind", LandingPad: true}
	fn.AddBlock(entry)
	fn.AddBlock(normal)
	fn.AddBlock(unwind)
	entry.Terminator = ir.NewInvoke("callee", ir.I32, nil, normal, unwind)
	entry.Terminator.SetBlock(entry)
	normal.Terminator = ir.NewReturn(nil)
	normal.Terminator.SetBlock(normal)
	unwind.Terminator = ir.NewResume(nil)
	unwind.Terminator.SetBlock(unwind)

	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}
	meta := obfmeta.NewStore()
	lib, err := predicate.PrepareModule(prog, predicate.DefaultGuardCount, predicate.NewSeededSource("s"))
	require.NoError(t, err)

	pass := New(Config{Probability: 1.0}, meta, obflog.New(obflog.LevelError))
	stats, err := pass.Run(prog, lib)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FunctionsSkipped)
}
