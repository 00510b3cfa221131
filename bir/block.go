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

	"github.com/SnellerInc/bifrost/ints"
)

// Block is a basic block.
type Block struct {
	// Index is the position of the
	// block in Context.Blocks
	Index int

	ctx         *Context
	first, last InstrID
	count       int

	// Successors[1] is only set
	// when Successors[0] is set
	Successors   [2]*Block
	Predecessors []*Block

	// UnconditionalJumps is set once the block ends in
	// a jump; no further successors may be added
	UnconditionalJumps bool
	LoopHeader         bool

	// SSA liveness, indexed by SSA value
	SSALiveIn, SSALiveOut ints.Bitset
	// word-granular liveness, one mask of live
	// words per SSA value
	LiveIn, LiveOut []uint8
	// register liveness after allocation
	RegLiveIn, RegLiveOut uint64

	Scheduled bool
	Clauses   []*Clause

	ScoreboardIn, ScoreboardOut ScoreboardState

	// NeedsNop is set on an empty block that
	// must still hold a clause because it is
	// the target of a branch
	NeedsNop bool

	// PassFlags is scratch space for passes
	PassFlags uint32

	helpersIn, helpersOut bool
}

func (b *Block) String() string { return fmt.Sprintf("block%d", b.Index) }

// Len returns the number of instructions in b.
func (b *Block) Len() int { return b.count }

func (b *Block) Empty() bool { return b.count == 0 }

// First returns the first instruction of b, or nil.
func (b *Block) First() *Instr {
	if b.first == noInstr {
		return nil
	}
	return b.ctx.instrs[b.first]
}

// Last returns the last instruction of b, or nil.
func (b *Block) Last() *Instr {
	if b.last == noInstr {
		return nil
	}
	return b.ctx.instrs[b.last]
}

// InstrList returns a snapshot of the instructions of b.
func (b *Block) InstrList() []*Instr {
	out := make([]*Instr, 0, b.count)
	for it := b.Instrs(); it.Next(); {
		out = append(out, it.Instr())
	}
	return out
}

// AddSuccessor adds a control flow edge from b to s.
// Once b ends in an unconditional jump no further
// successors are added.
func (b *Block) AddSuccessor(s *Block) {
	if s == nil {
		panic("AddSuccessor: nil successor")
	}
	if b.UnconditionalJumps {
		return
	}
	for _, x := range b.Successors {
		if x == s {
			return
		}
	}
	switch {
	case b.Successors[0] == nil:
		b.Successors[0] = s
	case b.Successors[1] == nil:
		b.Successors[1] = s
	default:
		panic(fmt.Sprintf("%s: more than two successors", b))
	}
	s.Predecessors = append(s.Predecessors, b)
}

// NumSuccessors returns the number of successors of b.
func (b *Block) NumSuccessors() int {
	switch {
	case b.Successors[0] == nil:
		if b.Successors[1] != nil {
			panic(fmt.Sprintf("%s: successor slot 0 empty while slot 1 is set", b))
		}
		return 0
	case b.Successors[1] == nil:
		return 1
	}
	return 2
}

// Succs returns the successors of b without gaps.
func (b *Block) Succs() []*Block {
	return b.Successors[:b.NumSuccessors()]
}

// Preds returns the predecessors of b.
func (b *Block) Preds() []*Block { return b.Predecessors }

// predIndex returns the position of p in the
// predecessor list of b, which is also the phi
// source position for the edge p->b.
func (b *Block) predIndex(p *Block) int {
	for i := range b.Predecessors {
		if b.Predecessors[i] == p {
			return i
		}
	}
	panic(fmt.Sprintf("%s is not a predecessor of %s", p, b))
}

// MarkScheduled records that the instruction list
// of b is in clause order. It cannot be undone.
func (b *Block) MarkScheduled() { b.Scheduled = true }

// IsTerminal reports whether every path leaving
// b ends the program without executing another
// instruction. A nil block is terminal.
func IsTerminal(b *Block) bool {
	if b == nil {
		return true
	}
	seen := make(map[*Block]bool)
	stack := []*Block{b}
	for len(stack) > 0 {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[x] {
			continue
		}
		seen[x] = true
		if !x.Empty() || len(x.Clauses) > 0 {
			return false
		}
		stack = append(stack, x.Succs()...)
	}
	return true
}

func (b *Block) link(i *Instr, prev, next InstrID) {
	if i.block != nil {
		panic(fmt.Sprintf("instruction %d is already in %s", i.ID, i.block))
	}
	i.block = b
	i.prev = prev
	i.next = next
	if prev == noInstr {
		b.first = i.ID
	} else {
		b.ctx.instrs[prev].next = i.ID
	}
	if next == noInstr {
		b.last = i.ID
	} else {
		b.ctx.instrs[next].prev = i.ID
	}
	b.count++
}

func (b *Block) pushFront(i *Instr) { b.link(i, noInstr, b.first) }

func (b *Block) pushBack(i *Instr) { b.link(i, b.last, noInstr) }

func (b *Block) insertBefore(pos, i *Instr) { b.link(i, pos.prev, pos.ID) }

func (b *Block) insertAfter(pos, i *Instr) { b.link(i, pos.ID, pos.next) }

func (b *Block) unlink(i *Instr) {
	if i.block != b {
		panic(fmt.Sprintf("instruction %d is not in %s", i.ID, b))
	}
	if i.prev == noInstr {
		b.first = i.next
	} else {
		b.ctx.instrs[i.prev].next = i.next
	}
	if i.next == noInstr {
		b.last = i.prev
	} else {
		b.ctx.instrs[i.next].prev = i.prev
	}
	i.block = nil
	i.prev, i.next = noInstr, noInstr
	b.count--
}

// reorder replaces the instruction list of b
// with list, which must hold the same instructions.
func (b *Block) reorder(list []*Instr) {
	if len(list) != b.count {
		panic(fmt.Sprintf("%s: reorder of %d instructions, have %d", b, len(list), b.count))
	}
	for _, i := range list {
		b.unlink(i)
	}
	for _, i := range list {
		b.pushBack(i)
	}
}

// terminator returns the branch ending b, or nil.
func (b *Block) terminator() *Instr {
	last := b.Last()
	if last != nil && last.Op.IsBranch() {
		return last
	}
	return nil
}

// firstNonPhi returns the first instruction
// of b that is not a phi, or nil.
func (b *Block) firstNonPhi() *Instr {
	for it := b.Instrs(); it.Next(); {
		if it.Instr().Op != OpPhi {
			return it.Instr()
		}
	}
	return nil
}
