// Package obfmeta implements the tag discipline every obfuscation pass uses
// to mark a function or block as already processed, and Cleanup uses to
// strip those marks back out before the pipeline hands the program back to
// its caller.
//
// LLVM attaches this bookkeeping as named metadata on an instruction; this
// IR has no metadata node of its own, so the same discipline is kept as a
// side table from an ir.Instruction to its tags, anchored - per the
// original's convention - on the first instruction of a function's entry
// block. Grounded on obf_utilities.cpp's getMetaKindName/tagFunction/
// checkFunctionTagged/removeTagIfExists.
package obfmeta

import (
	"fmt"

	"ssaobf/internal/ir"
)

// InvariantError marks a corrupted-IR condition a pass discovered that it
// has no safe way to route around - spec §7's Invariant-violation class,
// translating the original's assert(...) posture into Go's panic/recover:
// a pass panics with this value rather than a plain string, and the
// scheduler's single recover boundary is the only place that ever catches
// it.
type InvariantError struct {
	Pass   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("obfmeta: invariant violated in %s: %s", e.Pass, e.Detail)
}

// Key names the original's ObfKind metadata kinds.
type Key string

const (
	BogusCF  Key = "obf_boguscf"
	Flatten  Key = "obf_flatten"
	Copy     Key = "obf_copy"
	Inline   Key = "obf_inline"
	Stub     Key = "opaqueStub"       // marks a not-yet-materialised stub branch (BogusCF's or OpaquePredicate's)
	Switch   Key = "FlattenSwitch"    // marks the Flatten dispatcher's switch
	OpStub   Key = "opaque_stub"      // marks an opaque-predicate-materialised stub
	OpUnreach Key = "opaque_unreachable"
	OpMark   Key = "opaque_mark"
)

// Payload values a Key's tag may carry.
const (
	ValTrue          = "true"
	ValFalse         = "false"
	ValIndeterminate = "indeterminate"
	ValRandom        = "random"
)

// Store is the side table mapping a tagged instruction to its key/value
// pairs. The zero value is ready to use.
type Store struct {
	tags map[ir.Instruction]map[Key]string
}

func NewStore() *Store { return &Store{tags: map[ir.Instruction]map[Key]string{}} }

// Tag attaches key=value to inst, overwriting any existing value for key.
func (s *Store) Tag(inst ir.Instruction, key Key, value string) {
	if s.tags == nil {
		s.tags = map[ir.Instruction]map[Key]string{}
	}
	m := s.tags[inst]
	if m == nil {
		m = map[Key]string{}
		s.tags[inst] = m
	}
	m[key] = value
}

// Lookup reports whether inst carries key, and its value if so.
func (s *Store) Lookup(inst ir.Instruction, key Key) (string, bool) {
	m := s.tags[inst]
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// Has reports whether inst carries key at all, regardless of value.
func (s *Store) Has(inst ir.Instruction, key Key) bool {
	_, ok := s.Lookup(inst, key)
	return ok
}

// RemoveTag deletes key from inst, if present.
func (s *Store) RemoveTag(inst ir.Instruction, key Key) {
	if m := s.tags[inst]; m != nil {
		delete(m, key)
	}
}

// anchor returns the instruction a function-level tag is attached to: the
// first instruction of the entry block. If the entry block has none (it
// opens directly with a terminator), an inert debug instruction is
// inserted to serve as the anchor, matching the original's requirement
// that the tag live on "the first instruction" rather than on the block
// itself.
func anchor(fn *ir.Function) ir.Instruction {
	entry := fn.Entry()
	if entry == nil {
		return nil
	}
	if len(entry.Instructions) > 0 {
		return entry.Instructions[0]
	}
	marker := ir.NewDebug("obfmeta.anchor")
	marker.SetBlock(entry)
	entry.Instructions = append([]ir.Instruction{marker}, entry.Instructions...)
	return marker
}

// TagFunction marks fn as processed by the pass owning key.
func (s *Store) TagFunction(fn *ir.Function, key Key, value string) {
	if a := anchor(fn); a != nil {
		s.Tag(a, key, value)
	}
}

// CheckFunctionTagged reports whether fn already carries key, so a pass can
// skip functions a previous run (or an earlier pass in this run) already
// transformed.
func (s *Store) CheckFunctionTagged(fn *ir.Function, key Key) bool {
	entry := fn.Entry()
	if entry == nil || len(entry.Instructions) == 0 {
		return false
	}
	return s.Has(entry.Instructions[0], key)
}

// RemoveFunctionTag clears key from fn's anchor instruction, if present.
func (s *Store) RemoveFunctionTag(fn *ir.Function, key Key) {
	entry := fn.Entry()
	if entry == nil || len(entry.Instructions) == 0 {
		return
	}
	s.RemoveTag(entry.Instructions[0], key)
}

// allKeys lists every tag kind the pipeline ever writes, so Cleanup can
// strip all of them without the caller enumerating passes by hand.
var allKeys = []Key{BogusCF, Flatten, Copy, Inline, Stub, Switch, OpStub, OpUnreach, OpMark}

// StripAll removes every known tag from every instruction of every
// function in prog. This is the Cleanup pass's job (spec §4 pipeline,
// "Cleanup" step): tags are pipeline-internal bookkeeping and must never
// leak into the program the pipeline hands back to its caller.
func (s *Store) StripAll(prog *ir.Program) {
	for _, fn := range prog.Functions {
		for _, b := range fn.Blocks {
			for _, inst := range b.Instructions {
				for _, k := range allKeys {
					s.RemoveTag(inst, k)
				}
			}
			if b.Terminator != nil {
				for _, k := range allKeys {
					s.RemoveTag(b.Terminator, k)
				}
			}
		}
	}
}
