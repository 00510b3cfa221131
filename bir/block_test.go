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

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", what)
		}
	}()
	fn()
}

func TestSuccessors(t *testing.T) {
	c := NewContext("succ", StageCompute, DefaultOptions())
	a, b, d, e := c.NewBlock(), c.NewBlock(), c.NewBlock(), c.NewBlock()

	if a.NumSuccessors() != 0 {
		t.Fatal("new block has successors")
	}
	a.AddSuccessor(b)
	a.AddSuccessor(b)
	if a.NumSuccessors() != 1 || len(b.Preds()) != 1 || b.Preds()[0] != a {
		t.Fatalf("duplicate edge: %d successors, %d predecessors", a.NumSuccessors(), len(b.Preds()))
	}
	a.AddSuccessor(d)
	if a.NumSuccessors() != 2 || a.Successors[0] != b || a.Successors[1] != d {
		t.Fatal("successor slots filled out of order")
	}
	for _, s := range a.Succs() {
		found := false
		for _, p := range s.Preds() {
			found = found || p == a
		}
		if !found {
			t.Errorf("%s does not list %s as a predecessor", s, a)
		}
	}
	mustPanic(t, "third successor", func() { a.AddSuccessor(e) })

	gap := c.NewBlock()
	gap.Successors[1] = e
	mustPanic(t, "successor gap", func() { gap.NumSuccessors() })
}

func TestUnconditionalJumps(t *testing.T) {
	c := NewContext("jump", StageCompute, DefaultOptions())
	a, b, d := c.NewBlock(), c.NewBlock(), c.NewBlock()
	NewBuilder(c, AfterBlock(a)).Jump(b)
	a.AddSuccessor(d)
	if a.NumSuccessors() != 1 || a.Successors[0] != b {
		t.Fatalf("jump block has successors %v", a.Succs())
	}
	if len(d.Preds()) != 0 {
		t.Fatal("suppressed edge still added a predecessor")
	}
}

func TestIsTerminal(t *testing.T) {
	c := NewContext("term", StageCompute, DefaultOptions())
	empty, chain, full, loopA, loopB := c.NewBlock(), c.NewBlock(), c.NewBlock(), c.NewBlock(), c.NewBlock()
	chain.AddSuccessor(empty)
	NewBuilder(c, AfterBlock(full)).Nop()
	loopA.AddSuccessor(loopB)
	loopB.AddSuccessor(loopA)

	cases := []struct {
		b    *Block
		want bool
	}{
		{nil, true},
		{empty, true},
		{chain, true},
		{full, false},
		{loopA, true},
	}
	for _, tc := range cases {
		if got := IsTerminal(tc.b); got != tc.want {
			t.Errorf("IsTerminal(%v) = %v, want %v", tc.b, got, tc.want)
		}
	}
	chain.AddSuccessor(full)
	if IsTerminal(chain) {
		t.Error("block reaching an instruction is terminal")
	}
}

func TestInstrList(t *testing.T) {
	c := NewContext("list", StageCompute, DefaultOptions())
	b := c.NewBlock()
	bld := NewBuilder(c, AfterBlock(b))
	x := bld.IAdd(ImmU32(1), ImmU32(2))
	last := bld.Emit(OpStore, nil, []Index{x, Zero(), Zero()}, MemoryMods{Seg: SegWLS})
	first := NewBuilder(c, BeforeBlock(b)).Nop()
	mid := NewBuilder(c, BeforeInstr(last)).Nop()

	got := b.InstrList()
	if len(got) != 4 || got[0] != first || got[2] != mid || got[3] != last {
		t.Fatalf("unexpected order %v", got)
	}
	var rev []*Instr
	for it := b.InstrsReverse(); it.Next(); {
		rev = append(rev, it.Instr())
	}
	for k := range rev {
		if rev[k] != got[len(got)-1-k] {
			t.Fatalf("reverse iteration mismatch at %d", k)
		}
	}
	for it := b.InstrsSafe(); it.Next(); {
		if it.Instr().Op == OpNop {
			c.Remove(it.Instr())
		}
	}
	if b.Len() != 2 || b.First().Op != OpIAdd || b.Last() != last {
		t.Fatalf("after removal: %d instructions", b.Len())
	}
	mustPanic(t, "double removal", func() { c.Remove(first) })
}

func TestAfterBlockLogical(t *testing.T) {
	c := NewContext("logical", StageCompute, DefaultOptions())
	a, b := c.NewBlock(), c.NewBlock()
	bld := NewBuilder(c, AfterBlock(a))
	j := bld.Jump(b)
	nop := NewBuilder(c, AfterBlockLogical(a)).Nop()
	if a.Last() != j || j.Prev() != nop {
		t.Fatal("logical end insertion landed after the branch")
	}
}

func TestFindLoops(t *testing.T) {
	c := NewContext("loops", StageCompute, DefaultOptions())
	b0, b1, b2, b3 := c.NewBlock(), c.NewBlock(), c.NewBlock(), c.NewBlock()
	b0.AddSuccessor(b1)
	b1.AddSuccessor(b2)
	b2.AddSuccessor(b1)
	b2.AddSuccessor(b3)
	b3.AddSuccessor(b3)
	c.findLoops()
	if c.LoopCount != 2 || !b1.LoopHeader || !b3.LoopHeader || b2.LoopHeader {
		t.Fatalf("loops = %d, headers %v %v %v", c.LoopCount, b1.LoopHeader, b2.LoopHeader, b3.LoopHeader)
	}
}
