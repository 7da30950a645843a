package replaceinst

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ir"
	"ssaobf/internal/obflog"
	"ssaobf/internal/obfmeta"
)

// deadBlockFunc builds a function with one live block and one block tagged
// opaque_unreachable containing an add and an icmp slt, plus a load/store
// pair so the "skip non-rotatable instructions" path is exercised too.
func deadBlockFunc() (*ir.Function, *ir.BasicBlock, *ir.IntBinInst, *ir.IntCmpInst) {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	dead := &ir.BasicBlock{Label: "dead"}
	fn.AddBlock(entry)
	fn.AddBlock(dead)

	one := ir.NewConst(ir.I32, int64(1))
	entry.Instructions = []ir.Instruction{one}
	entry.Terminator = ir.NewReturn(one.Res)
	entry.Terminator.SetBlock(entry)

	a := ir.NewConst(ir.I32, int64(2))
	b := ir.NewConst(ir.I32, int64(3))
	add := ir.NewIntBin(ir.IAdd, a.Res, b.Res)
	cmp := ir.NewIntCmp(ir.ICmpSLT, a.Res, b.Res)
	slot := ir.NewAlloca(ir.I32)
	store := ir.NewStore(slot.Res, add.Res)
	load := ir.NewLoad(slot.Res, ir.I32)
	dead.Instructions = []ir.Instruction{a, b, slot, add, cmp, store, load}
	dead.Terminator = ir.NewUnreachable()
	dead.Terminator.SetBlock(dead)

	fn.RecomputePredecessors()
	return fn, dead, add, cmp
}

func TestRunMutatesOnlyTaggedBlocks(t *testing.T) {
	fn, dead, add, cmp := deadBlockFunc()
	meta := obfmeta.NewStore()
	meta.Tag(dead.Instructions[0], obfmeta.OpUnreach, obfmeta.ValTrue)

	origOp, origPred := add.Op, cmp.Pred

	log := obflog.New(obflog.LevelError)
	pass := New(Config{Seed: "det"}, meta, log)
	stats, err := pass.Run(&ir.Program{Name: "p", Functions: []*ir.Function{fn}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BlocksMutated)
	assert.Equal(t, 2, stats.InstsMutated, "add and icmp are the only rotatable instructions")
	assert.NotEqual(t, origOp, add.Op)
	assert.NotEqual(t, origPred, cmp.Pred)

	// The tag must be cleared after mutation.
	assert.False(t, meta.Has(dead.Instructions[0], obfmeta.OpUnreach))
}

func TestRunLeavesUntaggedBlocksAlone(t *testing.T) {
	fn, _, add, cmp := deadBlockFunc()
	meta := obfmeta.NewStore()
	origOp, origPred := add.Op, cmp.Pred

	log := obflog.New(obflog.LevelError)
	pass := New(Config{Seed: "det"}, meta, log)
	stats, err := pass.Run(&ir.Program{Name: "p", Functions: []*ir.Function{fn}})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.BlocksMutated)
	assert.Equal(t, origOp, add.Op)
	assert.Equal(t, origPred, cmp.Pred)
}

func TestRunWarnsWhenTaggedBlockHasNothingToMutate(t *testing.T) {
	fn := &ir.Function{Name: "g", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	dead := &ir.BasicBlock{Label: "dead"}
	fn.AddBlock(entry)
	fn.AddBlock(dead)
	entry.Terminator = ir.NewJump(dead)
	entry.Terminator.SetBlock(entry)
	debug := ir.NewDebug("nothing here")
	dead.Instructions = []ir.Instruction{debug}
	dead.Terminator = ir.NewUnreachable()
	dead.Terminator.SetBlock(dead)
	fn.RecomputePredecessors()

	meta := obfmeta.NewStore()
	meta.Tag(debug, obfmeta.OpUnreach, obfmeta.ValTrue)

	var buf bytes.Buffer
	log := &obflog.Logger{Out: &buf, Threshold: obflog.LevelWarn}
	pass := New(Config{Seed: "det"}, meta, log)
	stats, err := pass.Run(&ir.Program{Name: "p", Functions: []*ir.Function{fn}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.BlocksSkipped)
	assert.Contains(t, buf.String(), "no eligible instruction found")
}

func TestRotationNeverReturnsTheSameOpcode(t *testing.T) {
	meta := obfmeta.NewStore()
	log := obflog.New(obflog.LevelError)
	pass := New(Config{Seed: "rot"}, meta, log)

	for _, op := range ir.AllIntBinOps() {
		for i := 0; i < 20; i++ {
			assert.NotEqual(t, op, pass.rotateIntBinOp(op))
		}
	}
	for _, pred := range ir.AllFloatPreds() {
		for i := 0; i < 20; i++ {
			assert.NotEqual(t, pred, pass.rotateFloatPred(pred))
		}
	}
}
