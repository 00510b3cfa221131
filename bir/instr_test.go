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

func TestOpTable(t *testing.T) {
	run := []struct {
		op               Op
		fma, add         bool
		message, effects bool
	}{
		{OpFMA, true, false, false, false},
		{OpFAdd, true, true, false, false},
		{OpIMul, true, false, false, false},
		{OpLoad, false, true, true, false},
		{OpStore, false, true, true, true},
		{OpBarrier, false, true, true, true},
		{OpPhi, false, false, false, false},
	}
	for _, r := range run {
		if r.op.CanFMA() != r.fma || r.op.CanADD() != r.add {
			t.Errorf("%s: units fma=%v add=%v", r.op, r.op.CanFMA(), r.op.CanADD())
		}
		if r.op.MustMessage() != r.message {
			t.Errorf("%s: MustMessage = %v", r.op, r.op.MustMessage())
		}
		if r.op.SideEffects() != r.effects {
			t.Errorf("%s: SideEffects = %v", r.op, r.op.SideEffects())
		}
	}
	for op := Op(0); op < opmax; op++ {
		got, ok := LookupOp(op.String())
		if !ok || got != op {
			t.Errorf("LookupOp(%q) = %s, %v", op.String(), got, ok)
		}
	}
}

func TestSchedulingBarrier(t *testing.T) {
	c := NewContext("nop", StageCompute, DefaultOptions())
	plain := c.NewInstr(OpNop)
	if plain.IsSchedulingBarrier() {
		t.Error("plain NOP is a barrier")
	}
	fence := c.NewInstr(OpNop)
	fence.SetPayload(Barrier{})
	if !fence.IsSchedulingBarrier() {
		t.Error("NOP with barrier payload is not a barrier")
	}
	if c.NewInstr(OpBarrier).IsSchedulingBarrier() {
		t.Error("BARRIER message treated as a scheduling barrier")
	}
}

func TestSetPayloadKind(t *testing.T) {
	c := NewContext("payload", StageCompute, DefaultOptions())
	i := c.NewInstr(OpFAdd)
	i.SetPayload(RoundMods{Clamp: 1})
	i.SetPayload(nil)
	if i.Payload != nil {
		t.Fatal("nil payload not stored")
	}
	mustPanic(t, "memory payload on FADD", func() { i.SetPayload(MemoryMods{Seg: SegTL}) })
	mustPanic(t, "barrier payload on MOV", func() { c.NewInstr(OpMov).SetPayload(Barrier{}) })
}

func TestDropOperands(t *testing.T) {
	c := NewContext("drop", StageCompute, DefaultOptions())
	i := c.NewInstr(OpFMA)
	i.Src[0], i.Src[1], i.Src[2] = SSA(1), SSA(2), SSA(3)
	i.Dest[0] = SSA(4)

	i.DropSrcs(1)
	if len(i.Src) != 1 || i.Src[0] != SSA(1) {
		t.Fatalf("sources after drop: %v", i.Src)
	}
	if !i.srcbuf[1].IsNull() || !i.srcbuf[2].IsNull() {
		t.Error("dropped sources not cleared")
	}
	mustPanic(t, "drop to same length", func() { i.DropSrcs(1) })
	mustPanic(t, "grow sources", func() { i.DropSrcs(2) })

	i.DropDests(0)
	if len(i.Dest) != 0 || !i.destbuf[0].IsNull() {
		t.Fatalf("dests after drop: %v", i.Dest)
	}
	mustPanic(t, "drop empty dests", func() { i.DropDests(0) })
}

func TestReplaceSrc(t *testing.T) {
	c := NewContext("replace", StageCompute, DefaultOptions())
	i := c.NewInstr(OpFAdd)
	i.Src[0] = SSA(1).WithAbs().Negate()
	i.Src[1] = SSA(1).Word(1)

	i.ReplaceSrc(0, SSA(7))
	if s := i.Src[0]; s.Value != 7 || !s.Abs || !s.Neg {
		t.Fatalf("modifiers lost: %s", s)
	}
	if !i.HasArg(SSA(7)) || !i.HasArg(SSA(1)) {
		t.Fatal("HasArg missed a source")
	}
	if !i.RewriteUses(SSA(1), SSA(9)) {
		t.Fatal("RewriteUses found nothing")
	}
	if s := i.Src[1]; s.Value != 9 || s.Offset != 1 {
		t.Fatalf("word offset lost: %s", s)
	}
	if i.HasArg(SSA(1)) {
		t.Fatal("old value still read")
	}
}

func TestRegisterMasks(t *testing.T) {
	c := NewContext("masks", StageCompute, DefaultOptions())
	ld := c.NewInstr(OpLoad)
	ld.VecSize = 4
	ld.Dest[0] = Register(8)
	ld.Src[0], ld.Src[1] = Register(2), Zero()
	if n := ld.CountWriteRegisters(0); n != 4 {
		t.Fatalf("load writes %d registers", n)
	}
	if m := ld.WriteMask(); m != 0xf<<8 {
		t.Fatalf("write mask %#x", m)
	}
	if m := ld.ReadMask(false); m != 1<<2 {
		t.Fatalf("read mask %#x", m)
	}

	st := c.NewInstr(OpStore)
	st.VecSize = 2
	st.Src[0], st.Src[1], st.Src[2] = Register(4), Register(0), Register(1)
	if n := st.CountReadRegisters(0); n != 2 {
		t.Fatalf("staging source reads %d registers", n)
	}
	if n := st.CountReadRegisters(1); n != 1 {
		t.Fatalf("address source reads %d registers", n)
	}
	if m := st.ReadMask(true); m != 0b11<<4 {
		t.Fatalf("staging read mask %#x", m)
	}
	if m := st.ReadMask(false); m != 0b110011 {
		t.Fatalf("read mask %#x", m)
	}
	if st.WriteMask() != 0 {
		t.Fatal("store writes registers")
	}
}
