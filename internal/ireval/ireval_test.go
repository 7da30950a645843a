package ireval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ir"
)

// addFunc builds: fn add(a, b i32) -> i32 { return a + b }
func addFunc(t *testing.T) *ir.Function {
	t.Helper()
	fn := &ir.Function{Name: "add", ReturnType: ir.I32}
	a := &ir.Param{Name: "a", Type: ir.I32, Value: &ir.Value{Name: "a", Type: ir.I32}}
	b := &ir.Param{Name: "b", Type: ir.I32, Value: &ir.Value{Name: "b", Type: ir.I32}}
	fn.Params = []*ir.Param{a, b}

	entry := &ir.BasicBlock{Label: "entry"}
	fn.AddBlock(entry)
	sum := ir.NewIntBin(ir.IAdd, a.Value, b.Value)
	entry.Instructions = []ir.Instruction{sum}
	entry.Terminator = ir.NewReturn(sum.Res)
	entry.Terminator.SetBlock(entry)
	return fn
}

func TestRunAdd(t *testing.T) {
	fn := addFunc(t)
	got, err := Run(fn, []int64{3, 4}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestRunBranch(t *testing.T) {
	// fn abs(x i32) -> i32 { if x < 0 { return -x } else { return x } }
	fn := &ir.Function{Name: "abs", ReturnType: ir.I32}
	x := &ir.Param{Name: "x", Type: ir.I32, Value: &ir.Value{Name: "x", Type: ir.I32}}
	fn.Params = []*ir.Param{x}

	entry := &ir.BasicBlock{Label: "entry"}
	neg := &ir.BasicBlock{Label: "neg"}
	pos := &ir.BasicBlock{Label: "pos"}
	fn.AddBlock(entry)
	fn.AddBlock(neg)
	fn.AddBlock(pos)

	zero := ir.NewConst(ir.I32, int64(0))
	cmp := ir.NewIntCmp(ir.ICmpSLT, x.Value, zero.Res)
	entry.Instructions = []ir.Instruction{zero, cmp}
	entry.Terminator = ir.NewBranch(cmp.Res, neg, pos)
	entry.Terminator.SetBlock(entry)

	negOne := ir.NewConst(ir.I32, int64(-1))
	negated := ir.NewIntBin(ir.IMul, x.Value, negOne.Res)
	neg.Instructions = []ir.Instruction{negOne, negated}
	neg.Terminator = ir.NewReturn(negated.Res)
	neg.Terminator.SetBlock(neg)

	pos.Terminator = ir.NewReturn(x.Value)
	pos.Terminator.SetBlock(pos)

	got, err := Run(fn, []int64{-5}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	got2, err := Run(fn, []int64{5}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got2)
}

func TestRunDetectsDivisionByZero(t *testing.T) {
	fn := &ir.Function{Name: "divz", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	fn.AddBlock(entry)
	zero := ir.NewConst(ir.I32, int64(0))
	one := ir.NewConst(ir.I32, int64(1))
	div := ir.NewIntBin(ir.ISDiv, one.Res, zero.Res)
	entry.Instructions = []ir.Instruction{zero, one, div}
	entry.Terminator = ir.NewReturn(div.Res)
	entry.Terminator.SetBlock(entry)

	_, err := Run(fn, nil, 100)
	assert.Error(t, err)
}
