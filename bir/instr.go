// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package bir

import (
	"fmt"
)

const (
	maxDests = 4
	maxSrcs  = 8
)

// InstrID is the stable handle of an
// instruction within its Context.
type InstrID int32

const noInstr InstrID = -1

type RegFmt uint8

const (
	RegFmtAuto RegFmt = iota
	RegFmtF32
	RegFmtF16
	RegFmtS32
	RegFmtU32
	RegFmtS16
	RegFmtU16
)

// Instr is a single instruction.
//
// Instructions are allocated by a Context
// and linked into exactly one Block at a time.
type Instr struct {
	ID InstrID
	Op Op

	Dest []Index
	Src  []Index

	RegFmt RegFmt
	// VecSize is the number of words moved
	// through the staging registers; 0 means 1
	VecSize uint8

	// NoSpill is set on spill code
	// so that it is never spilled again
	NoSpill      bool
	WaitResource bool
	// Slot is the message-passing slot of
	// a staging access; Table is the
	// descriptor table of a resource access
	Slot  uint8
	Table uint8

	Payload Payload

	block      *Block
	prev, next InstrID

	destbuf [maxDests]Index
	srcbuf  [maxSrcs]Index
}

// Block returns the block containing i,
// or nil if i has been removed.
func (i *Instr) Block() *Block { return i.block }

// Next returns the instruction following i in
// its block, or nil at the end of the block.
func (i *Instr) Next() *Instr {
	if i.block == nil || i.next == noInstr {
		return nil
	}
	return i.block.ctx.instrs[i.next]
}

// Prev returns the instruction preceding i.
func (i *Instr) Prev() *Instr {
	if i.block == nil || i.prev == noInstr {
		return nil
	}
	return i.block.ctx.instrs[i.prev]
}

// SetPayload sets the opcode-specific payload.
// A payload of the wrong kind for i.Op is an
// invariant violation.
func (i *Instr) SetPayload(p Payload) {
	if p != nil && p.Kind() != i.Op.PayloadKind() {
		panic(fmt.Sprintf("%s: payload %T does not match opcode", i.Op, p))
	}
	i.Payload = p
}

// Branch returns the branch payload of a branch
// instruction, or nil.
func (i *Instr) Branch() *BranchMods {
	b, _ := i.Payload.(*BranchMods)
	return b
}

// Target returns the target block of a branch, or nil.
func (i *Instr) Target() *Block {
	if b := i.Branch(); b != nil {
		return b.Target
	}
	return nil
}

// DropSrcs shrinks the source list to n entries.
func (i *Instr) DropSrcs(n int) {
	if n < 0 || n >= len(i.Src) {
		panic(fmt.Sprintf("%s: cannot drop sources to %d of %d", i.Op, n, len(i.Src)))
	}
	for k := n; k < len(i.Src); k++ {
		i.Src[k] = Null()
	}
	i.Src = i.Src[:n]
}

// DropDests shrinks the destination list to n entries.
func (i *Instr) DropDests(n int) {
	if n < 0 || n >= len(i.Dest) {
		panic(fmt.Sprintf("%s: cannot drop dests to %d of %d", i.Op, n, len(i.Dest)))
	}
	for k := n; k < len(i.Dest); k++ {
		i.Dest[k] = Null()
	}
	i.Dest = i.Dest[:n]
}

// ReplaceSrc replaces source s, preserving
// the modifiers already present on it.
func (i *Instr) ReplaceSrc(s int, repl Index) {
	i.Src[s] = ReplaceIndex(i.Src[s], repl)
}

// RewriteUses replaces every source reading
// old with repl, preserving modifiers and
// the word offset of the use.
func (i *Instr) RewriteUses(old, repl Index) bool {
	found := false
	for s := range i.Src {
		if !Equiv(i.Src[s], old) {
			continue
		}
		off := i.Src[s].Offset
		i.Src[s] = ReplaceIndex(i.Src[s], repl)
		i.Src[s].Offset += off
		found = true
	}
	return found
}

// HasArg reports whether any source reads arg.
func (i *Instr) HasArg(arg Index) bool {
	for _, s := range i.Src {
		if Equiv(s, arg) {
			return true
		}
	}
	return false
}

func (i *Instr) words() int {
	if i.VecSize == 0 {
		return 1
	}
	return int(i.VecSize)
}

// ReadsStaging reports whether source s is
// read through the staging registers.
func (i *Instr) ReadsStaging(s int) bool {
	return s == 0 && i.Op.info().srRead
}

// WritesStaging reports whether dest 0 is
// written through the staging registers.
func (i *Instr) WritesStaging() bool {
	return i.Op.info().srWrite
}

// CountReadRegisters returns the number of
// consecutive words read by source s.
func (i *Instr) CountReadRegisters(s int) int {
	if i.ReadsStaging(s) || i.Op == OpMov {
		return i.words()
	}
	return 1
}

// CountWriteRegisters returns the number of
// consecutive words written by dest d.
func (i *Instr) CountWriteRegisters(d int) int {
	switch {
	case d == 0 && i.WritesStaging():
		return i.words()
	case i.Op == OpCollect:
		return len(i.Src)
	case i.Op == OpPhi || i.Op == OpMov:
		return i.words()
	}
	return 1
}

// WriteMask returns the set of physical registers
// written by i. It is only meaningful after
// register allocation.
func (i *Instr) WriteMask() uint64 {
	var mask uint64
	for d := range i.Dest {
		if i.Dest[d].Type != IndexRegister {
			continue
		}
		mask |= regRange(i.Dest[d].Value+uint32(i.Dest[d].Offset), i.CountWriteRegisters(d))
	}
	return mask
}

// ReadMask returns the set of physical registers
// read by i, optionally restricted to the staging
// source.
func (i *Instr) ReadMask(stagingOnly bool) uint64 {
	var mask uint64
	for s := range i.Src {
		if i.Src[s].Type != IndexRegister {
			continue
		}
		if stagingOnly && !i.ReadsStaging(s) {
			continue
		}
		mask |= regRange(i.Src[s].Value+uint32(i.Src[s].Offset), i.CountReadRegisters(s))
	}
	return mask
}

func regRange(base uint32, n int) uint64 {
	if int(base)+n > MaxRegs {
		panic(fmt.Sprintf("register range r%d+%d out of bounds", base, n))
	}
	if n == 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << n) - 1) << base
}

// IsSchedulingBarrier reports whether i is a NOP
// acting as a scheduling barrier.
func (i *Instr) IsSchedulingBarrier() bool {
	_, ok := i.Payload.(Barrier)
	return i.Op == OpNop && ok
}

// needsHelpers reports whether i requires helper
// lanes to stay alive (implicit derivatives).
func (i *Instr) needsHelpers() bool {
	if t, ok := i.Payload.(TextureMods); ok {
		return t.needsHelpers()
	}
	return false
}

// SSASrcs calls fn for each SSA source of i.
func (i *Instr) SSASrcs(fn func(s int, x Index)) {
	for s := range i.Src {
		if i.Src[s].IsSSA() {
			fn(s, i.Src[s])
		}
	}
}

// SSADests calls fn for each SSA destination of i.
func (i *Instr) SSADests(fn func(d int, x Index)) {
	for d := range i.Dest {
		if i.Dest[d].IsSSA() {
			fn(d, i.Dest[d])
		}
	}
}

// isMove reports whether i is an unmodified copy.
func (i *Instr) isMove() bool {
	if i.Op != OpMov {
		return false
	}
	s := i.Src[0]
	return !s.Abs && !s.Neg && s.Swizzle == SwizzleH01
}
