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
	"errors"
	"fmt"

	"github.com/SnellerInc/bifrost/ints"

	"golang.org/x/exp/slices"
)

// Allocation maps SSA values to
// registers or spill slots.
type Allocation struct {
	// Reg is the first register of each
	// general-purpose value, or -1
	Reg []int
	// Slot is the byte offset in thread-local
	// storage of each memory class value
	Slot  map[uint32]uint32
	Width []uint8
	// TLSSize is the thread-local storage
	// needed, including SpillBase
	TLSSize uint32
}

// Class returns the register class of value v.
func (a *Allocation) Class(v uint32) RAClass {
	if _, ok := a.Slot[v]; ok {
		return ClassMem
	}
	return ClassGPR
}

// colorError reports a value that could not be
// given registers.
type colorError struct {
	value     uint32
	width     int
	neighbors []uint32
}

func (e *colorError) Error() string {
	return fmt.Sprintf("no %d free registers for value %d", e.width, e.value)
}

func (e *colorError) Unwrap() error { return ErrRegisterPressure }

// interference builds the interference graph of the
// general-purpose values, plus copy hints between the
// sources and destinations of moves.
func (c *Context) interference(widths []uint8) ([]ints.Bitset, []int32) {
	n := int(c.NumValues())
	adj := make([]ints.Bitset, n)
	hint := make([]int32, n)
	for k := range hint {
		hint[k] = -1
	}
	edge := func(x, y uint32) {
		if x == y || c.memValues[x] || c.memValues[y] {
			return
		}
		if adj[x] == nil {
			adj[x] = ints.NewBitset(n)
		}
		if adj[y] == nil {
			adj[y] = ints.NewBitset(n)
		}
		adj[x].Set(y)
		adj[y].Set(x)
	}
	live := ints.NewBitset(n)
	for _, b := range c.Blocks {
		live.CopyFrom(b.SSALiveOut)
		for it := b.InstrsReverse(); it.Next(); {
			i := it.Instr()
			move := uint32(0)
			isMove := i.isMove() && i.Src[0].IsSSA() && i.Dest[0].IsSSA() &&
				!i.Src[0].Memory && !i.Dest[0].Memory
			if isMove {
				move = i.Src[0].Value
				d := i.Dest[0].Value
				hint[d] = int32(move)
				if hint[move] < 0 {
					hint[move] = int32(d)
				}
			}
			i.SSADests(func(_ int, x Index) {
				live.Each(func(v uint32) {
					if !(isMove && v == move) {
						edge(x.Value, v)
					}
				})
				if i.Op.info().earlyClobber {
					i.SSASrcs(func(_ int, s Index) { edge(x.Value, s.Value) })
				}
			})
			LivenessUpdateSSA(live, i)
		}
	}
	return adj, hint
}

// allocOrder returns the general-purpose values
// in order of their first appearance.
func (c *Context) allocOrder() []uint32 {
	seen := ints.NewBitset(int(c.NumValues()))
	var order []uint32
	visit := func(_ int, x Index) {
		if !x.Memory && !seen.Test(x.Value) {
			seen.Set(x.Value)
			order = append(order, x.Value)
		}
	}
	for it := c.AllInstrs(); it.Next(); {
		it.Instr().SSADests(visit)
	}
	for it := c.AllInstrs(); it.Next(); {
		it.Instr().SSASrcs(visit)
	}
	return order
}

// Allocate assigns registers to the general-purpose
// values and thread-local storage slots to the memory
// class values. It does not modify the shader.
func Allocate(c *Context, budget int) (*Allocation, error) {
	if budget <= 0 || budget > MaxRegs {
		panic(fmt.Sprintf("Allocate: invalid register budget %d", budget))
	}
	ComputeLivenessSSA(c)
	widths := c.valueWidths()
	adj, hint := c.interference(widths)
	a := &Allocation{
		Reg:   make([]int, c.NumValues()),
		Width: widths,
	}
	for k := range a.Reg {
		a.Reg[k] = -1
	}
	fits := func(used uint64, r, w int) bool {
		return r >= 0 && r+w <= budget && used&regRange(uint32(r), w) == 0
	}
	for _, v := range c.allocOrder() {
		w := int(widths[v])
		if w == 0 {
			w = 1
		}
		var used uint64
		var neighbors []uint32
		if adj[v] != nil {
			adj[v].Each(func(u uint32) {
				neighbors = append(neighbors, u)
				if a.Reg[u] >= 0 {
					used |= regRange(uint32(a.Reg[u]), int(max(widths[u], 1)))
				}
			})
		}
		r := -1
		if h := hint[v]; h >= 0 && a.Reg[h] >= 0 && fits(used, a.Reg[h], w) {
			r = a.Reg[h]
		}
		for k := 0; r < 0 && k+w <= budget; k++ {
			if fits(used, k, w) {
				r = k
			}
		}
		if r < 0 {
			return nil, &colorError{value: v, width: w, neighbors: neighbors}
		}
		a.Reg[v] = r
	}
	a.Slot, a.TLSSize = c.assignSlots(widths)
	if a.TLSSize > c.Options.TLSBudget && len(a.Slot) > 0 {
		return nil, fmt.Errorf("%w: %d bytes of thread-local storage needed, %d available",
			ErrSpillSpace, a.TLSSize, c.Options.TLSBudget)
	}
	return a, nil
}

// RegisterAllocate lowers the shader out of SSA,
// spills until register demand fits the budget and
// rewrites every SSA operand to a physical register.
// When coloring fails despite the demand fitting,
// it spills further and retries.
func RegisterAllocate(c *Context) error {
	budget := c.Options.budget()
	if c.ssaForm {
		OutOfSSA(c)
	}
	if _, err := Spill(c, budget, c.Options.TLSBudget); err != nil {
		return err
	}
	for {
		a, err := Allocate(c, budget)
		if err == nil {
			c.applyAllocation(a)
			return nil
		}
		var ce *colorError
		if !errors.As(err, &ce) {
			return err
		}
		v, ok := c.recolorSpill(ce)
		if !ok {
			return fmt.Errorf("%w: value %d needs %d registers", ErrRegisterPressure, ce.value, ce.width)
		}
		c.spillValue(v, int(max(c.valueWidths()[v], 1)))
	}
}

// recolorSpill chooses the value to spill after a
// coloring failure: the failing value itself, or
// failing that its widest spillable neighbor.
func (c *Context) recolorSpill(ce *colorError) (uint32, bool) {
	noSpill := c.noSpillValues()
	if !noSpill.Test(ce.value) {
		return ce.value, true
	}
	widths := c.valueWidths()
	var cand []uint32
	for _, v := range ce.neighbors {
		if !noSpill.Test(v) && !c.memValues[v] {
			cand = append(cand, v)
		}
	}
	if len(cand) == 0 {
		return 0, false
	}
	slices.SortFunc(cand, func(x, y uint32) bool {
		if widths[x] != widths[y] {
			return widths[x] > widths[y]
		}
		return x < y
	})
	return cand[0], true
}

// physical returns the register operand for x.
func (a *Allocation) physical(x Index) Index {
	r := a.Reg[x.Value]
	if r < 0 {
		panic(fmt.Sprintf("value %d has no register", x.Value))
	}
	return ReplaceIndex(x, Register(uint32(r)+uint32(x.Offset)))
}

// applyAllocation rewrites the shader to use the
// registers and slots of a: memory copies become
// thread-local loads and stores, SSA operands
// become registers, and the register copies left
// behind are split into words or deleted.
func (c *Context) applyAllocation(a *Allocation) {
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		switch {
		case i.Op == OpMov && i.Dest[0].Memory:
			off, ok := a.Slot[i.Dest[0].Value]
			if !ok {
				panic(fmt.Sprintf("memory value %d has no slot", i.Dest[0].Value))
			}
			st := NewBuilder(c, BeforeInstr(i)).Store(i.Src[0], ImmU32(off), Zero(), i.words(), MemoryMods{Seg: SegTL})
			st.NoSpill = true
			c.Remove(i)
			c.Spills++
			i = st
		case i.Op == OpMov && i.Src[0].Memory:
			off, ok := a.Slot[i.Src[0].Value]
			if !ok {
				panic(fmt.Sprintf("memory value %d has no slot", i.Src[0].Value))
			}
			b := NewBuilder(c, BeforeInstr(i))
			ld := b.Emit(OpLoad, []Index{i.Dest[0]}, []Index{ImmU32(off), Zero()}, MemoryMods{Seg: SegTL})
			ld.VecSize = i.VecSize
			ld.NoSpill = true
			c.Remove(i)
			c.Fills++
			i = ld
		}
		for s := range i.Src {
			if i.Src[s].IsSSA() {
				i.Src[s] = a.physical(i.Src[s])
			}
		}
		for d := range i.Dest {
			if i.Dest[d].IsSSA() {
				i.Dest[d] = a.physical(i.Dest[d])
			}
		}
	}
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		switch i.Op {
		case OpCollect:
			lowerCollect(c, i)
		case OpMov:
			lowerMove(c, i)
		}
	}
	c.regAllocated = true
	c.Info.TLSSize = a.TLSSize
	c.Info.WorkRegCount = workRegCount(c)
}

// lowerCollect replaces a collect with one
// copy per word. The destination never
// overlaps the sources.
func lowerCollect(c *Context, i *Instr) {
	b := NewBuilder(c, BeforeInstr(i))
	base := i.Dest[0].Value + uint32(i.Dest[0].Offset)
	for k, s := range i.Src {
		dst := Register(base + uint32(k))
		if s.IsReg() && WordEquiv(s, dst) && s.Swizzle == SwizzleH01 && !s.Abs && !s.Neg {
			continue
		}
		b.MovTo(dst, s)
	}
	c.Remove(i)
}

// lowerMove splits register copies wider than a
// word and deletes copies of a register to itself.
func lowerMove(c *Context, i *Instr) {
	if i.Dest[0].Type != IndexRegister {
		return
	}
	src, dst := i.Src[0], i.Dest[0]
	n := i.words()
	if src.Type == IndexRegister && i.isMove() && src.Value+uint32(src.Offset) == dst.Value+uint32(dst.Offset) {
		c.Remove(i)
		return
	}
	if n == 1 {
		return
	}
	if src.Type != IndexRegister {
		panic(fmt.Sprintf("%d-word copy from %s", n, src))
	}
	s := src.Value + uint32(src.Offset)
	d := dst.Value + uint32(dst.Offset)
	b := NewBuilder(c, BeforeInstr(i))
	// copy in the direction that never
	// overwrites an unread source word
	for k := 0; k < n; k++ {
		w := uint32(k)
		if d > s {
			w = uint32(n - 1 - k)
		}
		b.MovTo(Register(d+w), ReplaceIndex(src, Register(s+w)))
	}
	c.Remove(i)
}

// workRegCount returns one past the highest
// register referenced by the shader.
func workRegCount(c *Context) int {
	var mask uint64
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		mask |= i.WriteMask() | i.ReadMask(false)
	}
	return MaxRegs - leadingZeros(mask)
}
