// Package demo builds a couple of representative ir.Program values for
// cmd/ssaobf to run the pipeline against. IR textual parsing/emission is
// out of scope (callers build ir.Program values directly through the ir
// package's construction API, the same way the teacher's own SSA builder
// is driven programmatically rather than round-tripped through text in
// its test suite) - this package is the CLI's equivalent of that builder,
// standing in for the frontend a real caller would supply.
package demo

import "ssaobf/internal/ir"

// ClampPositive returns max(x, 0): entry branches on x < 0 between a
// negate-to-zero arm and a pass-through arm that rejoin at a PHI, giving
// BogusCF and OpaquePredicate a genuine diamond to guard and Flatten a
// genuine multi-block function to dispatch.
func ClampPositive() *ir.Function {
	fn := &ir.Function{Name: "clamp_positive", ReturnType: ir.I32, Linkage: ir.Internal}
	x := &ir.Param{Name: "x", Type: ir.I32, Value: &ir.Value{Name: "x", Type: ir.I32}}
	fn.Params = []*ir.Param{x}

	entry := &ir.BasicBlock{Label: "entry"}
	negative := &ir.BasicBlock{Label: "negative"}
	join := &ir.BasicBlock{Label: "join"}
	fn.AddBlock(entry)
	fn.AddBlock(negative)
	fn.AddBlock(join)

	zero := ir.NewConst(ir.I32, int64(0))
	isNeg := ir.NewIntCmp(ir.ICmpSLT, x.Value, zero.Res)
	entry.Instructions = []ir.Instruction{zero, isNeg}
	entry.Terminator = ir.NewBranch(isNeg.Res, negative, join)
	entry.Terminator.SetBlock(entry)

	negZero := ir.NewConst(ir.I32, int64(0))
	negative.Instructions = []ir.Instruction{negZero}
	negative.Terminator = ir.NewJump(join)
	negative.Terminator.SetBlock(negative)

	phi := ir.NewPhi(ir.I32)
	phi.AddIncoming(entry, x.Value)
	phi.AddIncoming(negative, negZero.Res)
	join.Instructions = []ir.Instruction{phi}
	join.Terminator = ir.NewReturn(phi.Res)
	join.Terminator.SetBlock(join)

	fn.RecomputePredecessors()
	return fn
}

// SumTo returns 0+1+...+(n-1) via an accumulating loop, giving the
// pipeline a genuine back-edge and loop-carried PHI to preserve across
// every pass.
func SumTo() *ir.Function {
	fn := &ir.Function{Name: "sum_to", ReturnType: ir.I32, Linkage: ir.Internal}
	n := &ir.Param{Name: "n", Type: ir.I32, Value: &ir.Value{Name: "n", Type: ir.I32}}
	fn.Params = []*ir.Param{n}

	entry := &ir.BasicBlock{Label: "entry"}
	cond := &ir.BasicBlock{Label: "loop.cond"}
	body := &ir.BasicBlock{Label: "loop.body"}
	exit := &ir.BasicBlock{Label: "loop.exit"}
	fn.AddBlock(entry)
	fn.AddBlock(cond)
	fn.AddBlock(body)
	fn.AddBlock(exit)

	entry.Terminator = ir.NewJump(cond)
	entry.Terminator.SetBlock(entry)

	iPhi := ir.NewPhi(ir.I32)
	accPhi := ir.NewPhi(ir.I32)
	done := ir.NewIntCmp(ir.ICmpSLT, iPhi.Res, n.Value)
	cond.Instructions = []ir.Instruction{iPhi, accPhi, done}
	cond.Terminator = ir.NewBranch(done.Res, body, exit)
	cond.Terminator.SetBlock(cond)

	one := ir.NewConst(ir.I32, int64(1))
	nextAcc := ir.NewIntBin(ir.IAdd, accPhi.Res, iPhi.Res)
	nextI := ir.NewIntBin(ir.IAdd, iPhi.Res, one.Res)
	body.Instructions = []ir.Instruction{one, nextAcc, nextI}
	body.Terminator = ir.NewJump(cond)
	body.Terminator.SetBlock(body)

	exit.Terminator = ir.NewReturn(accPhi.Res)
	exit.Terminator.SetBlock(exit)

	zero := ir.NewConst(ir.I32, int64(0))
	entry.Instructions = []ir.Instruction{zero}
	iPhi.AddIncoming(entry, zero.Res)
	iPhi.AddIncoming(body, nextI.Res)
	accPhi.AddIncoming(entry, zero.Res)
	accPhi.AddIncoming(body, nextAcc.Res)

	fn.RecomputePredecessors()
	return fn
}

// Program bundles both demo functions into a Program the way a real
// caller's compiler frontend would hand off a completed module.
func Program() *ir.Program {
	return &ir.Program{Name: "ssaobf-demo", Functions: []*ir.Function{ClampPositive(), SumTo()}}
}
