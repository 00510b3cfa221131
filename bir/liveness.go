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
	"math/bits"

	"github.com/SnellerInc/bifrost/ints"
)

// worklist is a queue of blocks with
// membership tracking, seeded in reverse
// order for backward problems.
type worklist struct {
	queue []*Block
	in    []bool
}

func newWorklist(c *Context) *worklist {
	w := &worklist{in: make([]bool, len(c.Blocks))}
	for it := c.ReverseBlocks(); it.Next(); {
		w.push(it.Block())
	}
	return w
}

func (w *worklist) push(b *Block) {
	if !w.in[b.Index] {
		w.in[b.Index] = true
		w.queue = append(w.queue, b)
	}
}

func (w *worklist) pop() *Block {
	b := w.queue[0]
	w.queue = w.queue[1:]
	w.in[b.Index] = false
	return b
}

func (w *worklist) empty() bool { return len(w.queue) == 0 }

// LivenessUpdateSSA updates live, the set of SSA
// values live after i, to the set live before i.
// The sources of a phi are live on the incoming
// edges rather than before the phi, so only its
// destination is considered.
func LivenessUpdateSSA(live ints.Bitset, i *Instr) {
	i.SSADests(func(_ int, x Index) {
		live.Clear(x.Value)
	})
	if i.Op == OpPhi {
		return
	}
	i.SSASrcs(func(_ int, x Index) {
		live.Set(x.Value)
	})
}

// phiSources adds the phi sources of s
// flowing along the edge from b to live.
func phiSources(live ints.Bitset, b, s *Block) {
	var k int = -1
	for it := s.Instrs(); it.Next(); {
		i := it.Instr()
		if i.Op != OpPhi {
			break
		}
		if k < 0 {
			k = s.predIndex(b)
		}
		if i.Src[k].IsSSA() {
			live.Set(i.Src[k].Value)
		}
	}
}

// ComputeLivenessSSA computes per-block SSA
// liveness and marks the last use of every
// SSA value with KillSSA.
func ComputeLivenessSSA(c *Context) {
	n := int(c.NumValues())
	for _, b := range c.Blocks {
		b.SSALiveIn = ints.NewBitset(n)
		b.SSALiveOut = ints.NewBitset(n)
	}
	live := ints.NewBitset(n)
	for w := newWorklist(c); !w.empty(); {
		b := w.pop()
		b.SSALiveOut.Reset()
		for _, s := range b.Succs() {
			b.SSALiveOut.Union(s.SSALiveIn)
			phiSources(b.SSALiveOut, b, s)
		}
		live.CopyFrom(b.SSALiveOut)
		for it := b.InstrsReverse(); it.Next(); {
			LivenessUpdateSSA(live, it.Instr())
		}
		if !live.Equal(b.SSALiveIn) {
			b.SSALiveIn.CopyFrom(live)
			for _, p := range b.Predecessors {
				w.push(p)
			}
		}
	}
	for _, b := range c.Blocks {
		live.CopyFrom(b.SSALiveOut)
		for it := b.InstrsReverse(); it.Next(); {
			i := it.Instr()
			if i.Op != OpPhi {
				for s := range i.Src {
					x := &i.Src[s]
					if !x.IsSSA() {
						continue
					}
					x.KillSSA = !live.Test(x.Value)
					live.Set(x.Value)
				}
			}
			LivenessUpdateSSA(live, i)
		}
	}
}

func wordMask(offset uint8, n int) uint8 {
	return uint8(((1 << n) - 1) << offset)
}

// livenessUpdate updates the per-word masks
// live from after i to before i.
func livenessUpdate(live []uint8, i *Instr) {
	i.SSADests(func(d int, x Index) {
		live[x.Value] &^= wordMask(x.Offset, i.CountWriteRegisters(d))
	})
	if i.Op == OpPhi {
		return
	}
	i.SSASrcs(func(s int, x Index) {
		live[x.Value] |= wordMask(x.Offset, i.CountReadRegisters(s))
	})
}

func orMasks(dst, src []uint8) {
	for k := range src {
		dst[k] |= src[k]
	}
}

func equalMasks(a, b []uint8) bool {
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

// ComputeLiveness computes per-block liveness
// at word granularity: LiveIn[v] has bit k set
// when word k of value v is live.
func ComputeLiveness(c *Context) {
	n := int(c.NumValues())
	for _, b := range c.Blocks {
		b.LiveIn = make([]uint8, n)
		b.LiveOut = make([]uint8, n)
	}
	live := make([]uint8, n)
	for w := newWorklist(c); !w.empty(); {
		b := w.pop()
		for k := range b.LiveOut {
			b.LiveOut[k] = 0
		}
		for _, s := range b.Succs() {
			orMasks(b.LiveOut, s.LiveIn)
			if phi := s.First(); phi != nil && phi.Op == OpPhi {
				k := s.predIndex(b)
				for it := s.Instrs(); it.Next() && it.Instr().Op == OpPhi; {
					x := it.Instr().Src[k]
					if x.IsSSA() {
						b.LiveOut[x.Value] |= wordMask(x.Offset, it.Instr().CountWriteRegisters(0))
					}
				}
			}
		}
		copy(live, b.LiveOut)
		for it := b.InstrsReverse(); it.Next(); {
			livenessUpdate(live, it.Instr())
		}
		if !equalMasks(live, b.LiveIn) {
			copy(b.LiveIn, live)
			for _, p := range b.Predecessors {
				w.push(p)
			}
		}
	}
}

// pressurePoint describes the program point of
// highest general-purpose register demand.
type pressurePoint struct {
	pressure int
	block    *Block
	// at is the instruction the point follows,
	// or nil for the start of block
	at *Instr
	// across holds the values live
	// across the point
	across ints.Bitset
}

// liveWords sums the widths of the
// general-purpose values in set.
func (c *Context) liveWords(set ints.Bitset, widths []uint8) int {
	n := 0
	set.Each(func(v uint32) {
		if !c.memValues[v] {
			n += int(widths[v])
		}
	})
	return n
}

// peakPressure walks every program point and
// returns the one with the highest demand.
// SSA liveness must be up to date.
func (c *Context) peakPressure(widths []uint8) pressurePoint {
	n := int(c.NumValues())
	best := pressurePoint{pressure: -1}
	live := ints.NewBitset(n)
	point := ints.NewBitset(n)
	consider := func(p int, b *Block, at *Instr, across ints.Bitset) {
		if p > best.pressure {
			best.pressure = p
			best.block = b
			best.at = at
			best.across = across.Clone()
		}
	}
	for _, b := range c.Blocks {
		live.CopyFrom(b.SSALiveOut)
		for it := b.InstrsReverse(); it.Next(); {
			i := it.Instr()
			// values live across i are those live
			// after it that i neither reads nor writes
			point.CopyFrom(live)
			i.SSADests(func(_ int, x Index) { point.Set(x.Value) })
			if i.Op.info().earlyClobber {
				i.SSASrcs(func(_ int, x Index) { point.Set(x.Value) })
			}
			p := c.liveWords(point, widths)
			if p > best.pressure {
				across := live.Clone()
				i.SSADests(func(_ int, x Index) { across.Clear(x.Value) })
				i.SSASrcs(func(_ int, x Index) { across.Clear(x.Value) })
				consider(p, b, i, across)
			}
			LivenessUpdateSSA(live, i)
		}
		consider(c.liveWords(b.SSALiveIn, widths), b, nil, b.SSALiveIn)
	}
	if best.pressure < 0 {
		best.pressure = 0
	}
	return best
}

// RegisterDemand returns the maximum number of
// general-purpose words live at any program point.
// It recomputes SSA liveness.
func RegisterDemand(c *Context) int {
	ComputeLivenessSSA(c)
	return c.peakPressure(c.valueWidths()).pressure
}

// PostRALivenessIns updates the register set
// live from after i to before i.
func PostRALivenessIns(live uint64, i *Instr) uint64 {
	return (live &^ i.WriteMask()) | i.ReadMask(false)
}

// PostRALiveness computes register liveness over
// physical registers and sets the Discard hint on
// the last read of each register.
func PostRALiveness(c *Context) {
	for _, b := range c.Blocks {
		b.RegLiveIn, b.RegLiveOut = 0, 0
	}
	for w := newWorklist(c); !w.empty(); {
		b := w.pop()
		b.RegLiveOut = 0
		for _, s := range b.Succs() {
			b.RegLiveOut |= s.RegLiveIn
		}
		live := b.RegLiveOut
		for it := b.InstrsReverse(); it.Next(); {
			live = PostRALivenessIns(live, it.Instr())
		}
		if live != b.RegLiveIn {
			b.RegLiveIn = live
			for _, p := range b.Predecessors {
				w.push(p)
			}
		}
	}
	for _, b := range c.Blocks {
		live := b.RegLiveOut
		for it := b.InstrsReverse(); it.Next(); {
			i := it.Instr()
			after := live &^ i.WriteMask()
			for s := range i.Src {
				x := &i.Src[s]
				if x.Type != IndexRegister {
					continue
				}
				m := regRange(x.Value+uint32(x.Offset), i.CountReadRegisters(s))
				x.Discard = after&m == 0
				after |= m
			}
			live = PostRALivenessIns(live, i)
		}
	}
}

func leadingZeros(mask uint64) int { return bits.LeadingZeros64(mask) }
