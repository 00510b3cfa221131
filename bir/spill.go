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
	"github.com/SnellerInc/bifrost/ints"

	"golang.org/x/exp/slices"
)

// values used beyond the end of a block are
// considered this much further away than any
// use inside the block
const liveOutDistance = 1 << 20

// noSpillValues returns the values defined by
// spill code, which must never be spilled again.
func (c *Context) noSpillValues() ints.Bitset {
	set := ints.NewBitset(int(c.NumValues()))
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if i.NoSpill {
			i.SSADests(func(_ int, x Index) { set.Set(x.Value) })
		}
	}
	for v := range c.spilled {
		set.Set(v)
	}
	return set
}

type spillCandidate struct {
	value uint32
	dist  int
}

// nextUse returns the distance from the point
// after at (or the start of b) to the next read
// of v in b, or a large distance when v is only
// read after b.
func nextUse(b *Block, at *Instr, v uint32) int {
	var it *InstrIter
	if at == nil {
		it = b.Instrs()
	} else if nx := at.Next(); nx != nil {
		it = InstrsFrom(nx)
	} else {
		return liveOutDistance
	}
	dist := 0
	for it.Next() {
		dist++
		if it.Instr().HasArg(SSA(v)) {
			return dist
		}
	}
	return liveOutDistance + dist
}

// chooseSpill picks the value live across the
// point p whose next use is furthest away.
func (c *Context) chooseSpill(p *pressurePoint, widths []uint8, noSpill ints.Bitset) (uint32, bool) {
	q := heap.New(func(x, y spillCandidate) bool {
		if x.dist != y.dist {
			return x.dist > y.dist
		}
		return x.value < y.value
	})
	p.across.Each(func(v uint32) {
		if c.memValues[v] || noSpill.Test(v) || widths[v] == 0 {
			return
		}
		q.Push(spillCandidate{value: v, dist: nextUse(p.block, p.at, v)})
	})
	if q.Len() == 0 {
		return 0, false
	}
	return q.Pop().value, true
}

// spillValue demotes v to the memory class:
// every definition of v is followed by a copy
// to a memory value and every instruction
// reading v reads a fresh copy loaded just
// before it instead.
func (c *Context) spillValue(v uint32, words int) Index {
	m := c.MemTemp()
	c.spilled[v] = true
	for _, b := range c.Blocks {
		for it := b.InstrsSafe(); it.Next(); {
			i := it.Instr()
			if i.HasArg(SSA(v)) {
				t := c.Temp()
				fill := NewBuilder(c, BeforeInstr(i)).MovTo(t, m)
				fill.VecSize = uint8(words)
				fill.NoSpill = true
				i.RewriteUses(SSA(v), t)
			}
			defines := false
			i.SSADests(func(_ int, x Index) { defines = defines || x.Value == v })
			if defines {
				st := NewBuilder(c, AfterInstr(i)).MovTo(m, SSA(v))
				st.VecSize = uint8(words)
				st.NoSpill = true
			}
		}
	}
	c.logf("%s: spilled value %d (%d words) to m%d", c.Name, v, words, m.Value)
	return m
}

// Spill demotes values to thread-local storage until
// no more than budget general-purpose words are live
// at any point. It returns the number of values spilled.
func Spill(c *Context, budget int, tlsBudget uint32) (int, error) {
	if c.ssaForm && c.hasPhis() {
		panic("Spill: shader still contains phis")
	}
	spilled := 0
	for {
		ComputeLivenessSSA(c)
		widths := c.valueWidths()
		peak := c.peakPressure(widths)
		if peak.pressure <= budget {
			break
		}
		v, ok := c.chooseSpill(&peak, widths, c.noSpillValues())
		if !ok {
			return spilled, fmt.Errorf("%w: %d words live in %s with nothing left to spill (budget %d)",
				ErrRegisterPressure, peak.pressure, peak.block, budget)
		}
		c.spillValue(v, int(widths[v]))
		spilled++
	}
	if spilled > 0 {
		_, size := c.assignSlots(c.valueWidths())
		if size > tlsBudget {
			return spilled, fmt.Errorf("%w: %d bytes of thread-local storage needed, %d available",
				ErrSpillSpace, size, tlsBudget)
		}
	}
	return spilled, nil
}

func (c *Context) hasPhis() bool {
	for _, b := range c.Blocks {
		if f := b.First(); f != nil && f.Op == OpPhi {
			return true
		}
	}
	return false
}

type slotInterval struct {
	value      uint32
	start, end int
}

// assignSlots gives every memory class value a slot
// in thread-local storage. Values whose live ranges
// do not overlap share slots. It returns the slot
// byte offsets and the storage size including the
// region below SpillBase. SSA liveness must be current.
func (c *Context) assignSlots(widths []uint8) (map[uint32]uint32, uint32) {
	intervals := make(map[uint32]*slotInterval)
	touch := func(v uint32, pos int) {
		if !c.memValues[v] {
			return
		}
		iv := intervals[v]
		if iv == nil {
			intervals[v] = &slotInterval{value: v, start: pos, end: pos}
			return
		}
		if pos < iv.start {
			iv.start = pos
		}
		if pos > iv.end {
			iv.end = pos
		}
	}
	pos := 0
	for _, b := range c.Blocks {
		b.SSALiveIn.Each(func(v uint32) { touch(v, pos) })
		for it := b.Instrs(); it.Next(); {
			pos++
			i := it.Instr()
			i.SSADests(func(_ int, x Index) { touch(x.Value, pos) })
			i.SSASrcs(func(_ int, x Index) { touch(x.Value, pos) })
		}
		pos++
		b.SSALiveOut.Each(func(v uint32) { touch(v, pos) })
	}
	list := make([]*slotInterval, 0, len(intervals))
	for _, iv := range intervals {
		list = append(list, iv)
	}
	slices.SortFunc(list, func(x, y *slotInterval) bool {
		if x.start != y.start {
			return x.start < y.start
		}
		return x.value < y.value
	})

	var sm spillmap
	sm.reserve(c.SpillBase)
	slots := make(map[uint32]uint32, len(list))
	var active []*slotInterval
	for _, cur := range list {
		keep := active[:0]
		for _, a := range active {
			if a.end < cur.start {
				sm.freeValue(a.value)
			} else {
				keep = append(keep, a)
			}
		}
		active = append(keep, cur)
		slots[cur.value] = uint32(sm.allocValue(int(widths[cur.value]), cur.value))
	}
	return slots, sm.size()
}
