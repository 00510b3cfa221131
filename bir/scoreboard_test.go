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
	"testing"
)

func regs(list ...uint32) []Index {
	out := make([]Index, len(list))
	for k, r := range list {
		out[k] = Register(r)
	}
	return out
}

func singleClause(b *Block, list ...*Instr) *Clause {
	cl := &Clause{PCRelIdx: -1, block: b}
	for _, i := range list {
		cl.Tuples = append(cl.Tuples, Tuple{ADD: i})
		if i.Op.MustMessage() {
			cl.Message = i
			cl.MessageType = i.Op.Message()
		}
	}
	return cl
}

type clauseEmitter struct {
	b   *Block
	bld *Builder
}

func newClauseEmitter(c *Context, b *Block) *clauseEmitter {
	return &clauseEmitter{b: b, bld: NewBuilder(c, AfterBlock(b))}
}

func (e *clauseEmitter) emit(op Op, dests, srcs []Index, p Payload, words int) *Clause {
	i := e.bld.Emit(op, dests, srcs, p)
	i.VecSize = uint8(words)
	cl := singleClause(e.b, i)
	e.b.Clauses = append(e.b.Clauses, cl)
	e.b.MarkScheduled()
	return cl
}

func (e *clauseEmitter) load(dst, addr uint32) *Clause {
	return e.emit(OpLoad, regs(dst), regs(addr, addr+1), MemoryMods{Seg: SegWLS}, 1)
}

func (e *clauseEmitter) store(data, addr uint32) *Clause {
	return e.emit(OpStore, nil, regs(data, addr, addr+1), MemoryMods{Seg: SegWLS}, 1)
}

func (e *clauseEmitter) fadd(dst, x, y uint32) *Clause {
	return e.emit(OpFAdd, regs(dst), regs(x, y), RoundMods{}, 0)
}

func TestScoreboardDependencies(t *testing.T) {
	c := NewContext("sb", StageFragment, DefaultOptions())
	e := newClauseEmitter(c, c.NewBlock())
	tex := e.emit(OpTexs, regs(0), regs(8, 9), TextureMods{}, 4)
	ld := e.load(4, 10)
	alu := e.fadd(12, 13, 14)
	st := e.store(4, 16)
	use := e.fadd(20, 0, 1)
	AssignScoreboard(c)

	ids := []uint8{tex.ScoreboardID, ld.ScoreboardID, st.ScoreboardID}
	if ids[0] != 0 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("scoreboard ids %v", ids)
	}
	if tex.Dependencies != 0 || ld.Dependencies != 0 {
		t.Errorf("independent messages wait on %#b and %#b", tex.Dependencies, ld.Dependencies)
	}
	// the store reads the loaded register, but
	// nothing the texture writes
	if st.Dependencies != 1<<ld.ScoreboardID {
		t.Errorf("store waits on %#b, want %#b", st.Dependencies, 1<<ld.ScoreboardID)
	}
	if st.FlowControl != FlowWait {
		t.Errorf("store flow control %s", st.FlowControl)
	}
	for _, cl := range []*Clause{alu, use} {
		if cl.Dependencies != 0 {
			t.Errorf("clause without a message has dependencies %#b", cl.Dependencies)
		}
	}
	if alu.FlowControl != FlowNone {
		t.Errorf("unrelated ALU clause has flow control %s", alu.FlowControl)
	}
	if use.FlowControl != FlowWaitAll {
		t.Errorf("ALU clause reading texture results has flow control %s", use.FlowControl)
	}
}

func TestScoreboardReadAfterRead(t *testing.T) {
	c := NewContext("rar", StageFragment, DefaultOptions())
	e := newClauseEmitter(c, c.NewBlock())
	first := e.emit(OpTexc, regs(0), regs(8, 12), TextureMods{}, 4)
	second := e.emit(OpTexc, regs(4), regs(8, 12), TextureMods{}, 4)
	AssignScoreboard(c)
	if first.Dependencies != 0 || second.Dependencies != 0 {
		t.Errorf("reads of the same staging registers wait: %#b %#b", first.Dependencies, second.Dependencies)
	}
	third := e.emit(OpTexc, regs(8), regs(0, 12), TextureMods{}, 4)
	AssignScoreboard(c)
	// reads r0 written by first and overwrites
	// r8 still to be read by both
	want := uint8(1<<first.ScoreboardID | 1<<second.ScoreboardID)
	if third.Dependencies != want {
		t.Errorf("third texture waits on %#b, want %#b", third.Dependencies, want)
	}
}

func TestScoreboardSlotReuse(t *testing.T) {
	c := NewContext("reuse", StageCompute, DefaultOptions())
	e := newClauseEmitter(c, c.NewBlock())
	var loads []*Clause
	for k := uint32(0); k < ScoreboardSlots+1; k++ {
		loads = append(loads, e.load(k, 40))
	}
	AssignScoreboard(c)
	for k, cl := range loads[:ScoreboardSlots] {
		if cl.ScoreboardID != uint8(k) || cl.Dependencies != 0 {
			t.Errorf("load %d: slot %d, deps %#b", k, cl.ScoreboardID, cl.Dependencies)
		}
	}
	last := loads[ScoreboardSlots]
	if last.ScoreboardID != 0 || last.Dependencies != 1 {
		t.Errorf("ninth load: slot %d, deps %#b; want slot 0 waiting on slot 0", last.ScoreboardID, last.Dependencies)
	}
}

func TestScoreboardBarrier(t *testing.T) {
	c := NewContext("barrier", StageCompute, DefaultOptions())
	e := newClauseEmitter(c, c.NewBlock())
	e.load(0, 40)
	e.load(1, 40)
	bar := e.emit(OpBarrier, nil, nil, nil, 0)
	AssignScoreboard(c)
	if bar.Dependencies != 0b11 {
		t.Errorf("barrier waits on %#b, want 0b11", bar.Dependencies)
	}
}

func TestScoreboardAcrossBlocks(t *testing.T) {
	c := NewContext("loop", StageCompute, DefaultOptions())
	b0, b1 := c.NewBlock(), c.NewBlock()
	b0.AddSuccessor(b1)
	b1.AddSuccessor(b1)
	newClauseEmitter(c, b0).load(0, 40)
	e := newClauseEmitter(c, b1)
	st := e.store(0, 42)
	ld := e.load(0, 44)
	AssignScoreboard(c)
	if st.Dependencies != 0b101 {
		t.Errorf("store waits on %#b, want the loads from both predecessors (0b101)", st.Dependencies)
	}
	if ld.Dependencies != 0b010 {
		t.Errorf("load waits on %#b, want the store (0b010)", ld.Dependencies)
	}
	if b1.ScoreboardIn.Outstanding() != 0b101 {
		t.Errorf("state into the loop %#b", b1.ScoreboardIn.Outstanding())
	}
}

func TestStagingBarrier(t *testing.T) {
	c := NewContext("staging", StageCompute, DefaultOptions())
	b := c.NewBlock()
	bld := NewBuilder(c, AfterBlock(b))
	add := bld.Emit(OpIAdd, regs(4), regs(5, 6), nil)
	st := bld.Emit(OpStore, nil, regs(4, 8, 9), MemoryMods{Seg: SegWLS})
	b.Clauses = []*Clause{singleClause(b, add, st)}
	b.MarkScheduled()
	AssignScoreboard(c)
	if !b.Clauses[0].StagingBarrier {
		t.Error("staging register written in the same clause without a barrier")
	}
}
