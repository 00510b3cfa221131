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

type cursorOption uint8

const (
	cursorBlockStart cursorOption = iota
	cursorBlockEnd
	cursorBlockLogicalEnd
	cursorBefore
	cursorAfter
)

// Cursor is an insertion point.
type Cursor struct {
	opt   cursorOption
	block *Block
	instr *Instr
}

// BeforeBlock points at the start of b.
func BeforeBlock(b *Block) Cursor { return Cursor{opt: cursorBlockStart, block: b} }

// AfterBlock points at the end of b.
func AfterBlock(b *Block) Cursor { return Cursor{opt: cursorBlockEnd, block: b} }

// AfterBlockLogical points at the end of b,
// but before the branch terminating it.
func AfterBlockLogical(b *Block) Cursor { return Cursor{opt: cursorBlockLogicalEnd, block: b} }

func BeforeInstr(i *Instr) Cursor { return Cursor{opt: cursorBefore, block: i.block, instr: i} }

func AfterInstr(i *Instr) Cursor { return Cursor{opt: cursorAfter, block: i.block, instr: i} }

// Builder inserts instructions at a cursor.
// After each insertion the cursor moves past
// the inserted instruction, so consecutive
// emits appear in program order.
type Builder struct {
	Shader *Context
	Cursor Cursor
}

func NewBuilder(ctx *Context, at Cursor) *Builder {
	return &Builder{Shader: ctx, Cursor: at}
}

// Insert links i at the cursor.
func (b *Builder) Insert(i *Instr) {
	c := b.Cursor
	blk := c.block
	if blk == nil {
		panic("Builder.Insert: cursor has no block")
	}
	switch c.opt {
	case cursorBlockStart:
		blk.pushFront(i)
	case cursorBlockEnd:
		blk.pushBack(i)
	case cursorBlockLogicalEnd:
		if t := blk.terminator(); t != nil {
			blk.insertBefore(t, i)
		} else {
			blk.pushBack(i)
		}
	case cursorBefore:
		blk.insertBefore(c.instr, i)
	case cursorAfter:
		blk.insertAfter(c.instr, i)
	default:
		panic(fmt.Sprintf("invalid cursor option %d", c.opt))
	}
	b.Cursor = AfterInstr(i)
}

// Emit allocates and inserts an instruction.
func (b *Builder) Emit(op Op, dests, srcs []Index, p Payload) *Instr {
	i := b.Shader.NewInstr(op)
	if op.NumSrcs() == variadic {
		i.SetSrcs(srcs...)
	} else {
		if len(srcs) != len(i.Src) {
			panic(fmt.Sprintf("%s: %d sources, want %d", op, len(srcs), len(i.Src)))
		}
		copy(i.Src, srcs)
	}
	if len(dests) != len(i.Dest) {
		panic(fmt.Sprintf("%s: %d dests, want %d", op, len(dests), len(i.Dest)))
	}
	copy(i.Dest, dests)
	i.SetPayload(p)
	b.Insert(i)
	return i
}

// emit1 emits an instruction with one
// fresh SSA destination and returns it.
func (b *Builder) emit1(op Op, p Payload, srcs ...Index) Index {
	d := b.Shader.Temp()
	b.Emit(op, []Index{d}, srcs, p)
	return d
}

func (b *Builder) emitVec(op Op, words int, p Payload, srcs ...Index) (Index, *Instr) {
	d := b.Shader.Temp()
	i := b.Emit(op, []Index{d}, srcs, p)
	i.VecSize = uint8(words)
	return d, i
}

func (b *Builder) Nop() *Instr { return b.Emit(OpNop, nil, nil, nil) }

// SchedBarrier emits a scheduling barrier.
func (b *Builder) SchedBarrier() *Instr { return b.Emit(OpNop, nil, nil, Barrier{}) }

func (b *Builder) Mov(src Index) Index { return b.emit1(OpMov, nil, src) }

// MovTo copies src into an existing destination.
func (b *Builder) MovTo(dst, src Index) *Instr {
	return b.Emit(OpMov, []Index{dst}, []Index{src}, nil)
}

func (b *Builder) FAdd(x, y Index) Index { return b.emit1(OpFAdd, RoundMods{}, x, y) }

func (b *Builder) FMA(x, y, z Index) Index { return b.emit1(OpFMA, RoundMods{}, x, y, z) }

// FMul is an FMA adding negative zero.
func (b *Builder) FMul(x, y Index) Index { return b.FMA(x, y, NegZero()) }

func (b *Builder) FMax(x, y Index) Index { return b.emit1(OpFMax, RoundMods{}, x, y) }

func (b *Builder) FMin(x, y Index) Index { return b.emit1(OpFMin, RoundMods{}, x, y) }

func (b *Builder) FAbsNeg(x Index) Index { return b.emit1(OpFAbsNeg, RoundMods{}, x) }

func (b *Builder) FRound(x Index, r Round) Index {
	return b.emit1(OpFRound, RoundMods{Round: r}, x)
}

func (b *Builder) FCmp(x, y Index, c Cmpf) Index {
	return b.emit1(OpFCmp, CompareMods{Cmpf: c}, x, y)
}

func (b *Builder) ICmp(x, y Index, c Cmpf) Index {
	return b.emit1(OpICmp, CompareMods{Cmpf: c}, x, y)
}

func (b *Builder) IAdd(x, y Index) Index { return b.emit1(OpIAdd, nil, x, y) }

func (b *Builder) ISub(x, y Index) Index { return b.emit1(OpISub, nil, x, y) }

func (b *Builder) IMul(x, y Index) Index { return b.emit1(OpIMul, nil, x, y) }

// LShiftOr computes (x << shift) | y.
func (b *Builder) LShiftOr(x, y, shift Index) Index {
	return b.emit1(OpLShiftOr, ShiftMods{}, x, y, shift)
}

// RShiftAnd computes (x >> shift) & y.
func (b *Builder) RShiftAnd(x, y, shift Index) Index {
	return b.emit1(OpRShiftAnd, ShiftMods{}, x, y, shift)
}

// CSel selects t if Cmpf(x, y) holds and f otherwise.
func (b *Builder) CSel(x, y, t, f Index, c Cmpf) Index {
	return b.emit1(OpCSel, CompareMods{Cmpf: c}, x, y, t, f)
}

func (b *Builder) Mux(x, y, sel Index, m MuxMode) Index {
	return b.emit1(OpMux, MuxMods{Mux: m}, x, y, sel)
}

func (b *Builder) F32ToS32(x Index) Index { return b.emit1(OpF32ToS32, RoundMods{Round: RoundZero}, x) }

func (b *Builder) S32ToF32(x Index) Index { return b.emit1(OpS32ToF32, RoundMods{}, x) }

// Collect gathers scalars into a vector value.
func (b *Builder) Collect(srcs ...Index) Index {
	if len(srcs) == 1 {
		return srcs[0]
	}
	return b.emit1(OpCollect, nil, srcs...)
}

// Phi emits a phi with one source per predecessor
// of the current block. Phis must precede every
// other instruction of their block.
func (b *Builder) Phi(srcs ...Index) Index { return b.emit1(OpPhi, nil, srcs...) }

// Load reads words words from the 64-bit address lo:hi.
func (b *Builder) Load(lo, hi Index, words int, m MemoryMods) Index {
	d, _ := b.emitVec(OpLoad, words, m, lo, hi)
	return d
}

// Store writes the words of data to the 64-bit address lo:hi.
func (b *Builder) Store(data, lo, hi Index, words int, m MemoryMods) *Instr {
	i := b.Emit(OpStore, nil, []Index{data, lo, hi}, m)
	i.VecSize = uint8(words)
	return i
}

// LdVar interpolates varying index into words components.
func (b *Builder) LdVar(bary Index, index uint32, words int) Index {
	d, _ := b.emitVec(OpLdVar, words, VaryingMods{Index: index}, bary)
	return d
}

func (b *Builder) LdAttr(vertex, instance Index, attr uint32, words int) Index {
	d, _ := b.emitVec(OpLdAttr, words, VaryingMods{Index: attr}, vertex, instance)
	return d
}

// Texs samples a 2D texture at (x, y), returning four words.
func (b *Builder) Texs(x, y Index, t TextureMods) Index {
	d, _ := b.emitVec(OpTexs, 4, t, x, y)
	return d
}

// Texc samples with a coordinate vector in
// staging registers, returning four words.
func (b *Builder) Texc(coords, desc Index, t TextureMods) Index {
	d, _ := b.emitVec(OpTexc, 4, t, coords, desc)
	return d
}

// Atomic performs op on the word at lo:hi,
// returning the previous value.
func (b *Builder) Atomic(op AtomOp, data, lo, hi Index) Index {
	d, _ := b.emitVec(OpAtomReturn, 1, AtomicMods{Op: op}, data, lo, hi)
	return d
}

// Barrier emits a workgroup barrier.
func (b *Builder) Barrier() *Instr { return b.Emit(OpBarrier, nil, nil, nil) }

func (b *Builder) ATest(coverage, alpha Index) Index {
	return b.emit1(OpATest, nil, coverage, alpha)
}

// Blend writes the four-word color to render target 0.
func (b *Builder) Blend(color, coverage Index) *Instr {
	i := b.Emit(OpBlend, nil, []Index{color, coverage}, nil)
	i.VecSize = 4
	return i
}

// Discard kills the lane if Cmpf(x, y) holds.
func (b *Builder) Discard(x, y Index, c Cmpf) *Instr {
	return b.Emit(OpDiscard, nil, []Index{x, y}, CompareMods{Cmpf: c})
}

// BranchZ branches to target if Cmpf(cond, 0)
// holds and adds the edge to target.
func (b *Builder) BranchZ(cond Index, c Cmpf, target *Block) *Instr {
	i := b.Emit(OpBranchZ, nil, []Index{cond}, &BranchMods{Target: target, Cmpf: c})
	i.block.AddSuccessor(target)
	return i
}

// Jump branches to target unconditionally.
func (b *Builder) Jump(target *Block) *Instr {
	i := b.Emit(OpJump, nil, nil, &BranchMods{Target: target})
	i.block.AddSuccessor(target)
	i.block.UnconditionalJumps = true
	return i
}
