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

	"github.com/SnellerInc/bifrost/heap"

	"golang.org/x/exp/slices"
)

// tuple port limits
const (
	maxTupleReads  = 3
	maxTupleWrites = 2
	maxTupleRegs   = 4
	maxTupleImms   = 2
)

type schedEdge struct {
	to int
	// the successor must be issued
	// in a later clause
	cross bool
}

type schedNode struct {
	instr  *Instr
	index  int
	succs  []schedEdge
	npreds int
	height int
	// first clause the node may be placed in
	minClause int
	done      bool
}

func addEdge(nodes []schedNode, from, to int) {
	if from < 0 || from == to {
		return
	}
	nodes[from].succs = append(nodes[from].succs, schedEdge{to: to, cross: nodes[from].instr.Op.MustMessage()})
	nodes[to].npreds++
}

func regsOf(base uint32, n int, fn func(r uint32)) {
	for k := 0; k < n; k++ {
		fn(base + uint32(k))
	}
}

// buildDAG computes the dependencies between the
// instructions of a block: register RAW, WAR and WAW
// hazards, the order of side effects, scheduling
// barriers and the final branch.
func buildDAG(list []*Instr) []schedNode {
	nodes := make([]schedNode, len(list))
	var lastWrite [MaxRegs]int
	var readers [MaxRegs][]int
	for r := range lastWrite {
		lastWrite[r] = -1
	}
	lastEffect, lastBarrier := -1, -1
	for idx, i := range list {
		nodes[idx] = schedNode{instr: i, index: idx}
		if i.IsSchedulingBarrier() || i.Op.IsBranch() {
			for j := 0; j < idx; j++ {
				addEdge(nodes, j, idx)
			}
		}
		addEdge(nodes, lastBarrier, idx)
		if i.Op.SideEffects() || i.Op.MustMessage() {
			addEdge(nodes, lastEffect, idx)
			lastEffect = idx
		}
		for s, x := range i.Src {
			if x.Type == IndexRegister {
				regsOf(x.Value+uint32(x.Offset), i.CountReadRegisters(s), func(r uint32) {
					addEdge(nodes, lastWrite[r], idx)
				})
			}
		}
		for d, x := range i.Dest {
			if x.Type == IndexRegister {
				regsOf(x.Value+uint32(x.Offset), i.CountWriteRegisters(d), func(r uint32) {
					addEdge(nodes, lastWrite[r], idx)
					for _, rd := range readers[r] {
						addEdge(nodes, rd, idx)
					}
				})
			}
		}
		for s, x := range i.Src {
			if x.Type == IndexRegister {
				regsOf(x.Value+uint32(x.Offset), i.CountReadRegisters(s), func(r uint32) {
					readers[r] = append(readers[r], idx)
				})
			}
		}
		for d, x := range i.Dest {
			if x.Type == IndexRegister {
				regsOf(x.Value+uint32(x.Offset), i.CountWriteRegisters(d), func(r uint32) {
					lastWrite[r] = idx
					readers[r] = readers[r][:0]
				})
			}
		}
		if i.IsSchedulingBarrier() {
			lastBarrier = idx
		}
	}
	// edges only point forward, so a reverse
	// walk sees every successor first
	for idx := len(nodes) - 1; idx >= 0; idx-- {
		h := 0
		for _, e := range nodes[idx].succs {
			w := nodes[e.to].height
			if e.cross {
				w++
			}
			h = max(h, w)
		}
		nodes[idx].height = h + 1
	}
	return nodes
}

// tupleState accumulates the operand
// demands of a tuple under construction.
type tupleState struct {
	reads, writes []uint32
	imms          []uint32
	faus          []FAUValue
	message       bool
	branch        bool
}

func addUnique[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func (t *tupleState) with(i *Instr) tupleState {
	nt := tupleState{
		reads:   slices.Clone(t.reads),
		writes:  slices.Clone(t.writes),
		imms:    slices.Clone(t.imms),
		faus:    slices.Clone(t.faus),
		message: t.message || i.Op.MustMessage(),
		branch:  t.branch || i.Op.IsBranch(),
	}
	for s, x := range i.Src {
		switch x.Type {
		case IndexRegister:
			if !i.ReadsStaging(s) {
				regsOf(x.Value+uint32(x.Offset), i.CountReadRegisters(s), func(r uint32) {
					nt.reads = addUnique(nt.reads, r)
				})
			}
		case IndexConstant:
			// zero is read through a passthrough port
			if x.Value != 0 {
				nt.imms = addUnique(nt.imms, x.Value)
			}
		case IndexFAU:
			nt.faus = addUnique(nt.faus, FAUValue(x.Value))
		}
	}
	for d, x := range i.Dest {
		if x.Type == IndexRegister && !(d == 0 && i.WritesStaging()) {
			regsOf(x.Value+uint32(x.Offset), i.CountWriteRegisters(d), func(r uint32) {
				nt.writes = addUnique(nt.writes, r)
			})
		}
	}
	return nt
}

func (t *tupleState) portsFit() bool {
	return len(t.reads) <= maxTupleReads && len(t.writes) <= maxTupleWrites &&
		len(t.reads)+len(t.writes) <= maxTupleRegs &&
		len(t.imms) <= maxTupleImms && len(t.faus) <= 1 &&
		!(len(t.faus) > 0 && len(t.imms) > 0)
}

// clauseState is a clause under construction.
type clauseState struct {
	index     int
	tuples    []Tuple
	constants []uint64
	message   *Instr
}

// findConstant returns the embedded constant
// holding every immediate in imms, or -1.
func (cl *clauseState) findConstant(imms []uint32) int {
	for k, c := range cl.constants {
		lo, hi := uint32(c), uint32(c>>32)
		switch len(imms) {
		case 1:
			if lo == imms[0] || hi == imms[0] {
				return k
			}
		case 2:
			if (lo == imms[0] && hi == imms[1]) || (lo == imms[1] && hi == imms[0]) {
				return k
			}
		}
	}
	return -1
}

// fits reports whether i can join tuple t of
// clause cl on the given unit, returning the
// updated tuple state.
func (cl *clauseState) fits(t *tupleState, i *Instr, fma bool) (tupleState, bool) {
	if fma && !i.Op.CanFMA() || !fma && !i.Op.CanADD() {
		return tupleState{}, false
	}
	if fma && i.Op.IsBranch() {
		return tupleState{}, false
	}
	if i.Op.MustMessage() && (cl.message != nil || t.message) {
		return tupleState{}, false
	}
	nt := t.with(i)
	if !nt.portsFit() {
		return tupleState{}, false
	}
	// the branch offset occupies the uniform port
	if nt.branch && (len(nt.imms) > 0 || len(nt.faus) > 0) {
		return tupleState{}, false
	}
	nconst := len(cl.constants)
	if len(nt.imms) > 0 && cl.findConstant(nt.imms) < 0 {
		nconst++
	}
	if nt.branch {
		nconst++
	}
	if !quadwordsFit(nconst, len(cl.tuples)+1) {
		return tupleState{}, false
	}
	return nt, true
}

// pickTuple chooses the instructions of the next
// tuple from the ready candidates, which are in
// priority order.
func (cl *clauseState) pickTuple(cands []*schedNode) (fma, add *schedNode, ts tupleState) {
	var empty tupleState
	partner := func(t *tupleState, skip *schedNode, onFMA bool) (*schedNode, tupleState) {
		for _, m := range cands {
			if m == skip {
				continue
			}
			if nt, ok := cl.fits(t, m.instr, onFMA); ok {
				return m, nt
			}
		}
		return nil, tupleState{}
	}
	for _, n := range cands {
		if t, ok := cl.fits(&empty, n.instr, true); ok {
			if m, nt := partner(&t, n, false); m != nil {
				return n, m, nt
			}
			if t2, ok := cl.fits(&empty, n.instr, false); ok {
				if m, nt := partner(&t2, n, true); m != nil {
					return m, n, nt
				}
			}
			return n, nil, t
		}
		if t, ok := cl.fits(&empty, n.instr, false); ok {
			if m, nt := partner(&t, n, true); m != nil {
				return m, n, nt
			}
			return nil, n, t
		}
	}
	return nil, nil, empty
}

// commit appends a tuple built from fma and add.
func (cl *clauseState) commit(fma, add *Instr, ts *tupleState) {
	t := Tuple{FMA: fma, ADD: add}
	if len(ts.imms) > 0 {
		k := cl.findConstant(ts.imms)
		if k < 0 {
			c := uint64(ts.imms[0])
			if len(ts.imms) > 1 {
				c |= uint64(ts.imms[1]) << 32
			}
			cl.constants = append(cl.constants, c)
			k = len(cl.constants) - 1
		}
		t.FAUIdx = FAUImmediate | FAUValue(k)
		t.UseFAU = true
	} else if len(ts.faus) > 0 {
		t.FAUIdx = ts.faus[0]
		t.UseFAU = true
	}
	t.Regs = assignSlots(ts.reads, ts.writes)
	for _, i := range t.Instrs() {
		if i.Op.MustMessage() {
			cl.message = i
		}
	}
	cl.tuples = append(cl.tuples, t)
}

// assignSlots places the registers of a tuple:
// reads in slots 0, 1 and 2, writes in slots 3 and 2.
func assignSlots(reads, writes []uint32) Registers {
	var r Registers
	for k, reg := range reads {
		switch k {
		case 0, 1:
			r.Slot[k] = reg
			r.Enabled[k] = true
		case 2:
			r.Slot[2] = reg
			r.Slot2Read = true
		}
	}
	for _, reg := range writes {
		if !r.Slot3Write {
			r.Slot[3] = reg
			r.Slot3Write = true
		} else {
			r.Slot[2] = reg
			r.Slot2Write = true
		}
	}
	return r
}

// Schedule packs the instructions of every block
// into tuples and clauses. Registers must already
// be allocated.
func Schedule(c *Context) error {
	if !c.regAllocated {
		panic("Schedule: registers are not allocated")
	}
	for _, b := range c.Blocks {
		if err := scheduleBlock(c, b); err != nil {
			return fmt.Errorf("%s: %w", b, err)
		}
	}
	return nil
}

func scheduleBlock(c *Context, b *Block) error {
	if b.Scheduled {
		panic(fmt.Sprintf("%s scheduled twice", b))
	}
	list := b.InstrList()
	nodes := buildDAG(list)
	ready := heap.New(func(x, y *schedNode) bool {
		if x.height != y.height {
			return x.height > y.height
		}
		return x.index < y.index
	})
	for k := range nodes {
		if nodes[k].npreds == 0 {
			ready.Push(&nodes[k])
		}
	}
	remaining := len(nodes)
	release := func(n *schedNode, clause int) {
		n.done = true
		remaining--
		for _, e := range n.succs {
			s := &nodes[e.to]
			if e.cross && s.minClause <= clause {
				s.minClause = clause + 1
			}
			s.npreds--
			if s.npreds == 0 {
				ready.Push(s)
			}
		}
	}

	var clauses []*Clause
	var order []*Instr
	var cands, deferred []*schedNode
	for remaining > 0 {
		cl := &clauseState{index: len(clauses)}
		closed := false
		for !closed && len(cl.tuples) < MaxTuples {
			cands = cands[:0]
			deferred = deferred[:0]
			for _, n := range ready.Drain(nil) {
				if n.minClause <= cl.index {
					cands = append(cands, n)
				} else {
					deferred = append(deferred, n)
				}
			}
			for _, n := range deferred {
				ready.Push(n)
			}
			if len(cands) == 0 {
				break
			}
			if barrier := cands[0]; barrier.instr.IsSchedulingBarrier() {
				if len(cl.tuples) > 0 {
					closed = true
				} else {
					release(barrier, cl.index)
					c.Remove(barrier.instr)
					cands = cands[1:]
				}
				for _, n := range cands {
					ready.Push(n)
				}
				continue
			}
			fma, add, ts := cl.pickTuple(cands)
			if fma == nil && add == nil {
				if len(cl.tuples) == 0 {
					return fmt.Errorf("%w: %s does not fit an empty clause", ErrScheduleFailed, cands[0].instr.Op)
				}
				for _, n := range cands {
					ready.Push(n)
				}
				break
			}
			for _, n := range cands {
				if n != fma && n != add {
					ready.Push(n)
				}
			}
			var fi, ai *Instr
			if fma != nil {
				fi = fma.instr
				release(fma, cl.index)
				order = append(order, fi)
			}
			if add != nil {
				ai = add.instr
				release(add, cl.index)
				order = append(order, ai)
				closed = ai.Op.IsBranch()
			}
			cl.commit(fi, ai, &ts)
		}
		if len(cl.tuples) == 0 {
			if remaining > 0 && ready.Len() == 0 {
				panic(fmt.Sprintf("%s: dependency cycle in scheduler", b))
			}
			continue
		}
		clauses = append(clauses, finishClause(c, b, cl))
	}
	b.reorder(order)
	b.Clauses = clauses
	b.MarkScheduled()
	return nil
}

// finishClause converts a finished clauseState
// into a Clause.
func finishClause(c *Context, b *Block, cl *clauseState) *Clause {
	out := &Clause{
		Tuples:             cl.tuples,
		Constants:          cl.constants,
		Message:            cl.message,
		FTZ:                c.Options.FTZ,
		NextClausePrefetch: true,
		PCRelIdx:           -1,
		block:              b,
	}
	if m := cl.message; m != nil {
		out.MessageType = m.Op.Message()
		switch {
		case m.Op.info().srRead && m.Src[0].IsReg():
			out.StagingRegister = m.Src[0].Value
		case m.WritesStaging() && m.Dest[0].IsReg():
			out.StagingRegister = m.Dest[0].Value
		}
	}
	if out.Branch() != nil {
		out.BranchConstant = true
		out.Constants = append(out.Constants, 0)
		out.PCRelIdx = len(out.Constants) - 1
	}
	return out
}
