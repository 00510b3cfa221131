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
	"testing"

	"golang.org/x/exp/maps"
)

func budgetOptions(n int) Options {
	o := DefaultOptions()
	o.RegisterBudget = n
	return o
}

// overBudget builds a block in which three values
// are live at once while only two are live anywhere
// else, and in which spilling the value read last
// costs exactly one store and one load.
func overBudget(opts Options) *Context {
	c := NewContext("spill", StageCompute, opts)
	b := c.NewBlock()
	bld := NewBuilder(c, AfterBlock(b))
	a := bld.IAdd(ImmU32(1), ImmU32(2))
	x := bld.IAdd(ImmU32(3), ImmU32(4))
	y := bld.IAdd(ImmU32(5), ImmU32(6))
	d := bld.IAdd(x, y)
	e := bld.IAdd(d, a)
	bld.Store(e, ImmU32(0x40), Zero(), 1, MemoryMods{Seg: SegWLS})
	return c
}

func countTL(c *Context, op Op) int {
	n := 0
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if m, ok := i.Payload.(MemoryMods); ok && i.Op == op && m.Seg == SegTL {
			n++
		}
	}
	return n
}

func TestSpillOneOverBudget(t *testing.T) {
	c := overBudget(budgetOptions(2))
	if got := RegisterDemand(c); got != 3 {
		t.Fatalf("demand before spilling = %d, want 3", got)
	}
	n, err := Spill(c, 2, c.Options.TLSBudget)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("spilled %d values, want 1", n)
	}
	if got := RegisterDemand(c); got != 2 {
		t.Fatalf("demand after spilling = %d, want 2", got)
	}

	c = overBudget(budgetOptions(2))
	want := run(c)
	if err := RegisterAllocate(c); err != nil {
		t.Fatal(err)
	}
	if st, ld := countTL(c, OpStore), countTL(c, OpLoad); st != 1 || ld != 1 {
		t.Fatalf("%d spill stores and %d fills, want one of each", st, ld)
	}
	if c.Spills != 1 || c.Fills != 1 {
		t.Errorf("counted %d spills and %d fills", c.Spills, c.Fills)
	}
	if c.Info.WorkRegCount > 2 {
		t.Errorf("work register count %d exceeds the budget", c.Info.WorkRegCount)
	}
	if c.Info.TLSSize == 0 {
		t.Error("no thread-local storage reserved for the spill")
	}
	if got := run(c); !maps.Equal(got, want) {
		t.Errorf("allocated shader stored %v, want %v", got, want)
	}
}

// wideSum builds a block that defines n values
// and then adds them up in reverse order.
func wideSum(n int, opts Options) *Context {
	c := NewContext("sum", StageCompute, opts)
	b := c.NewBlock()
	bld := NewBuilder(c, AfterBlock(b))
	vals := make([]Index, n)
	for k := range vals {
		vals[k] = bld.IMul(ImmU32(uint32(k+1)), ImmU32(uint32(k+3)))
	}
	acc := vals[n-1]
	for k := n - 2; k >= 0; k-- {
		acc = bld.IAdd(acc, vals[k])
	}
	bld.Store(acc, ImmU32(0), Zero(), 1, MemoryMods{Seg: SegWLS})
	return c
}

func TestSpillPressureWithinBudget(t *testing.T) {
	for budget := 3; budget <= 10; budget++ {
		c := wideSum(12, budgetOptions(budget))
		if _, err := Spill(c, budget, c.Options.TLSBudget); err != nil {
			t.Fatalf("budget %d: %s", budget, err)
		}
		if got := RegisterDemand(c); got > budget {
			t.Errorf("budget %d: demand %d after spilling", budget, got)
		}

		c = wideSum(12, budgetOptions(budget))
		want := run(c)
		if err := RegisterAllocate(c); err != nil {
			t.Fatalf("budget %d: %s", budget, err)
		}
		if c.Info.WorkRegCount > budget {
			t.Errorf("budget %d: %d work registers", budget, c.Info.WorkRegCount)
		}
		if got := run(c); !maps.Equal(got, want) {
			t.Errorf("budget %d: stored %v, want %v", budget, got, want)
		}
	}
}

func TestRegisterAllocateRewritesOperands(t *testing.T) {
	c := wideSum(6, DefaultOptions())
	if err := RegisterAllocate(c); err != nil {
		t.Fatal(err)
	}
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		for _, x := range append(append([]Index{}, i.Src...), i.Dest...) {
			if x.IsSSA() {
				t.Fatalf("%s still refers to %s", i.Op, x)
			}
		}
	}
	if c.Spills != 0 || c.Fills != 0 || c.Info.TLSSize != 0 {
		t.Errorf("spilled without pressure: %d/%d, %d bytes", c.Spills, c.Fills, c.Info.TLSSize)
	}
	if !c.regAllocated {
		t.Error("context not marked allocated")
	}
}

// counterLoop sums 0..n-1 in a loop built with phis.
func counterLoop(n uint32, opts Options) *Context {
	c := NewContext("counter", StageCompute, opts)
	b0, b1, b2 := c.NewBlock(), c.NewBlock(), c.NewBlock()
	i, s, i1, s1 := c.Temp(), c.Temp(), c.Temp(), c.Temp()

	bld := NewBuilder(c, AfterBlock(b0))
	i0 := bld.Mov(ImmU32(0))
	s0 := bld.Mov(ImmU32(0))
	b0.AddSuccessor(b1)

	bld = NewBuilder(c, AfterBlock(b1))
	bld.Emit(OpPhi, []Index{i}, []Index{i0, i1}, nil)
	bld.Emit(OpPhi, []Index{s}, []Index{s0, s1}, nil)
	bld.Emit(OpIAdd, []Index{s1}, []Index{s, i}, nil)
	bld.Emit(OpIAdd, []Index{i1}, []Index{i, ImmU32(1)}, nil)
	cond := bld.ICmp(i1, ImmU32(n), CmpLt)
	bld.BranchZ(cond, CmpNe, b1)
	b1.AddSuccessor(b2)

	NewBuilder(c, AfterBlock(b2)).Store(s1, ImmU32(0x10), Zero(), 1, MemoryMods{Seg: SegWLS})
	return c
}

func TestOutOfSSA(t *testing.T) {
	c := counterLoop(5, DefaultOptions())
	if got := run(c); got[0x10] != 10 {
		t.Fatalf("loop computed %d, want 10", got[0x10])
	}
	OutOfSSA(c)
	for it := c.AllInstrs(); it.Next(); {
		if it.Instr().Op == OpPhi {
			t.Fatal("phi left after OutOfSSA")
		}
	}
	if got := run(c); got[0x10] != 10 {
		t.Errorf("after OutOfSSA the loop computed %d", got[0x10])
	}
	if err := RegisterAllocate(c); err != nil {
		t.Fatal(err)
	}
	if got := run(c); got[0x10] != 10 {
		t.Errorf("after allocation the loop computed %d", got[0x10])
	}
}

func TestLoopUnderPressure(t *testing.T) {
	c := counterLoop(7, budgetOptions(3))
	if err := RegisterAllocate(c); err != nil {
		t.Fatal(err)
	}
	if got := run(c); got[0x10] != 21 {
		t.Errorf("loop computed %d, want 21", got[0x10])
	}
}

func TestRegisterPressureError(t *testing.T) {
	c := NewContext("pressure", StageCompute, budgetOptions(1))
	b := c.NewBlock()
	bld := NewBuilder(c, AfterBlock(b))
	x := bld.IAdd(ImmU32(1), ImmU32(2))
	y := bld.IAdd(ImmU32(3), ImmU32(4))
	bld.Store(bld.IAdd(x, y), ImmU32(0), Zero(), 1, MemoryMods{Seg: SegWLS})
	err := RegisterAllocate(c)
	if !errors.Is(err, ErrRegisterPressure) {
		t.Fatalf("got %v, want ErrRegisterPressure", err)
	}
}

func TestSpillSpaceError(t *testing.T) {
	opts := budgetOptions(2)
	opts.TLSBudget = 0
	c := overBudget(opts)
	err := RegisterAllocate(c)
	if !errors.Is(err, ErrSpillSpace) {
		t.Fatalf("got %v, want ErrSpillSpace", err)
	}
}

func TestSpillBase(t *testing.T) {
	opts := budgetOptions(2)
	opts.SpillBase = 64
	c := overBudget(opts)
	if err := RegisterAllocate(c); err != nil {
		t.Fatal(err)
	}
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if m, ok := i.Payload.(MemoryMods); ok && m.Seg == SegTL {
			addr := i.Src[0]
			if i.Op == OpStore {
				addr = i.Src[1]
			}
			if addr.Value < 64 {
				t.Errorf("%s uses TLS offset %d below the spill base", i.Op, addr.Value)
			}
		}
	}
	if c.Info.TLSSize <= 64 {
		t.Errorf("TLS size %d does not cover the spill base", c.Info.TLSSize)
	}
}

func TestCollectLowering(t *testing.T) {
	c := NewContext("collect", StageCompute, DefaultOptions())
	b := c.NewBlock()
	bld := NewBuilder(c, AfterBlock(b))
	x := bld.IAdd(ImmU32(1), ImmU32(2))
	y := bld.IAdd(ImmU32(3), ImmU32(4))
	v := bld.Collect(x, y, x)
	st := bld.Store(v, ImmU32(0x20), Zero(), 3, MemoryMods{Seg: SegWLS})
	want := run(c)
	if want[0x20] != 3 || want[0x24] != 7 || want[0x28] != 3 {
		t.Fatalf("reference run stored %v", want)
	}
	if err := RegisterAllocate(c); err != nil {
		t.Fatal(err)
	}
	for it := c.AllInstrs(); it.Next(); {
		if it.Instr().Op == OpCollect {
			t.Fatal("collect survived allocation")
		}
	}
	if !st.Src[0].IsReg() {
		t.Fatalf("store data is %s", st.Src[0])
	}
	if got := run(c); !maps.Equal(got, want) {
		t.Errorf("stored %v, want %v", got, want)
	}
}
