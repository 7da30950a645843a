// Package ireval is a minimal SSA interpreter used only by tests: a test
// oracle that executes an ir.Function given integer arguments so a
// semantic-preservation test (spec §8, Q1/scenario 1) can compare a
// function's behaviour before and after a pass runs. It is not part of the
// obfuscation pipeline itself - it never ships in cmd/ssaobf - and
// supports only the integer-arithmetic subset of the IR the passes
// actually produce and consume.
package ireval

import (
	"fmt"

	"ssaobf/internal/ir"
)

// Interp walks a function's blocks starting at the entry block, following
// branch/jump/switch terminators, and returns the function's Return value.
// It returns an error on any construct outside its supported subset
// (calls, float constants and float ops) since those never appear in the
// passes' own test fixtures; this is a focused oracle, not a general
// interpreter.
type Interp struct {
	values map[*ir.Value]int64
}

// Run executes fn with args bound positionally to its parameters and
// returns the integer the function returns. steps caps the number of
// blocks visited, guarding against an interpreter bug turning an
// infinite loop in test code into a hang.
func Run(fn *ir.Function, args []int64, steps int) (int64, error) {
	if len(args) != len(fn.Params) {
		return 0, fmt.Errorf("ireval: %s expects %d args, got %d", fn.Name, len(fn.Params), len(args))
	}
	it := &Interp{values: map[*ir.Value]int64{}}
	for i, p := range fn.Params {
		it.values[p.Value] = args[i]
	}
	// Constants used as operands without being placed in a block (switch
	// case values, PHI incoming constants) are seeded before execution.
	for _, b := range fn.Blocks {
		insts := append([]ir.Instruction(nil), b.Instructions...)
		if b.Terminator != nil {
			insts = append(insts, b.Terminator)
		}
		for _, inst := range insts {
			for _, op := range inst.Operands() {
				if op == nil {
					continue
				}
				if c, ok := op.Def.(*ir.ConstInst); ok {
					if n, ok := toInt64(c.Val); ok {
						it.values[op] = n
					}
				}
			}
		}
	}

	block := fn.Entry()
	var prev *ir.BasicBlock
	for n := 0; n < steps; n++ {
		if block == nil {
			return 0, fmt.Errorf("ireval: fell off the CFG")
		}
		for _, inst := range block.Instructions {
			if err := it.step(inst, prev); err != nil {
				return 0, err
			}
		}
		switch term := block.Terminator.(type) {
		case *ir.ReturnTerm:
			if term.Val == nil {
				return 0, nil
			}
			return it.values[term.Val], nil
		case *ir.JumpTerm:
			prev, block = block, term.Target
		case *ir.BranchTerm:
			cond := it.values[term.Cond]
			prev = block
			if cond != 0 {
				block = term.True
			} else {
				block = term.False
			}
		case *ir.SwitchTerm:
			cond := it.values[term.Cond]
			next := term.Default
			for _, c := range term.Cases {
				if it.values[c.Val] == cond {
					next = c.Target
					break
				}
			}
			prev, block = block, next
		default:
			return 0, fmt.Errorf("ireval: unsupported terminator %T", term)
		}
	}
	return 0, fmt.Errorf("ireval: exceeded %d steps, possible infinite loop", steps)
}

func (it *Interp) step(inst ir.Instruction, prev *ir.BasicBlock) error {
	switch v := inst.(type) {
	case *ir.ConstInst:
		n, ok := toInt64(v.Val)
		if !ok {
			return fmt.Errorf("ireval: unsupported constant %v (%T)", v.Val, v.Val)
		}
		it.values[v.Res] = n
	case *ir.IntBinInst:
		l, r := it.values[v.Left], it.values[v.Right]
		res, err := evalIntBin(v.Op, l, r)
		if err != nil {
			return err
		}
		it.values[v.Res] = res
	case *ir.IntCmpInst:
		l, r := it.values[v.Left], it.values[v.Right]
		it.values[v.Res] = boolToInt(evalIntCmp(v.Pred, l, r))
	case *ir.PhiInst:
		if prev == nil {
			return fmt.Errorf("ireval: phi reached with no predecessor recorded")
		}
		val, ok := v.Incoming[prev]
		if !ok {
			return fmt.Errorf("ireval: phi has no incoming value for predecessor %s", prev.Label)
		}
		it.values[v.Res] = it.values[val]
	case *ir.SelectInst:
		if it.values[v.Cond] != 0 {
			it.values[v.Res] = it.values[v.Then]
		} else {
			it.values[v.Res] = it.values[v.Else]
		}
	case *ir.UndefInst:
		it.values[v.Res] = 0
	case *ir.LoadInst:
		// An address never previously stored through reads as zero - the
		// map's natural zero value for an absent key - matching this IR's
		// zero-initialised, common-linkage globals.
		it.values[v.Res] = it.values[v.Address]
	case *ir.StoreInst:
		it.values[v.Address] = it.values[v.Val]
	case *ir.DebugInst:
		// inert
	default:
		return fmt.Errorf("ireval: unsupported instruction %T", v)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case bool:
		return boolToInt(n), true
	default:
		return 0, false
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func evalIntBin(op ir.IntBinOp, l, r int64) (int64, error) {
	switch op {
	case ir.IAdd:
		return l + r, nil
	case ir.ISub:
		return l - r, nil
	case ir.IMul:
		return l * r, nil
	case ir.IUDiv:
		if r == 0 {
			return 0, fmt.Errorf("ireval: division by zero")
		}
		return int64(uint64(l) / uint64(r)), nil
	case ir.ISDiv:
		if r == 0 {
			return 0, fmt.Errorf("ireval: division by zero")
		}
		return l / r, nil
	case ir.IURem:
		if r == 0 {
			return 0, fmt.Errorf("ireval: division by zero")
		}
		return int64(uint64(l) % uint64(r)), nil
	case ir.ISRem:
		if r == 0 {
			return 0, fmt.Errorf("ireval: division by zero")
		}
		return l % r, nil
	case ir.IShl:
		return l << uint64(r), nil
	case ir.ILShr:
		return int64(uint64(l) >> uint64(r)), nil
	case ir.IAShr:
		return l >> uint64(r), nil
	case ir.IAnd:
		return l & r, nil
	case ir.IOr:
		return l | r, nil
	case ir.IXor:
		return l ^ r, nil
	default:
		return 0, fmt.Errorf("ireval: unsupported int binop %v", op)
	}
}

func evalIntCmp(p ir.IntPred, l, r int64) bool {
	switch p {
	case ir.ICmpEQ:
		return l == r
	case ir.ICmpNE:
		return l != r
	case ir.ICmpUGT:
		return uint64(l) > uint64(r)
	case ir.ICmpUGE:
		return uint64(l) >= uint64(r)
	case ir.ICmpULT:
		return uint64(l) < uint64(r)
	case ir.ICmpULE:
		return uint64(l) <= uint64(r)
	case ir.ICmpSGT:
		return l > r
	case ir.ICmpSGE:
		return l >= r
	case ir.ICmpSLT:
		return l < r
	case ir.ICmpSLE:
		return l <= r
	default:
		return false
	}
}
