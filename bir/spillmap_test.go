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

func TestSpillMapBasics(t *testing.T) {
	var m spillmap
	n := 0

	assertSlot := func(got, expected tlsslot) {
		t.Helper()
		if got != expected {
			t.Errorf("expected slot[%d] to be %d, not %d", n, uint32(expected), uint32(got))
		}
		n++
	}

	// Single words are allocated from 0, and the
	// padding up to the allocation unit is reused
	// by the next single word.
	assertSlot(m.allocValue(1, 0), 0)
	assertSlot(m.allocValue(1, 1), 4)
	assertSlot(m.allocValue(2, 2), spillAlignment)
	assertSlot(m.allocValue(4, 3), 2*spillAlignment)

	if !m.hasSlot(1) || m.hasSlot(7) {
		t.Fatal("hasSlot mismatch")
	}

	// Freed slots are reused by the same group only.
	m.freeValue(1)
	assertSlot(m.allocValue(2, 4), 4*spillAlignment)
	assertSlot(m.allocValue(1, 5), 4)

	if size := m.size(); size != 5*spillAlignment {
		t.Errorf("invalid spill size reported: expected %d, got %d", 5*spillAlignment, size)
	}
}

func TestSpillMapWithReservedBase(t *testing.T) {
	var m spillmap
	m.reserve(16)
	if got := m.allocValue(1, 0); got != 16 {
		t.Errorf("first slot after a 16 byte reservation is %d", got)
	}
	if got := m.allocValue(4, 1); got != 24 {
		t.Errorf("4-word slot at %d, want 24", got)
	}
	if size := m.size(); size != 40 {
		t.Errorf("size = %d, want 40", size)
	}

	var empty spillmap
	empty.reserve(12)
	if size := empty.size(); size != 16 {
		t.Errorf("reservation alone: size = %d, want 16 (aligned)", size)
	}
}

func TestSpillMapFreeUnknown(t *testing.T) {
	var m spillmap
	mustPanic(t, "freeing a value without a slot", func() { m.freeValue(3) })
	mustPanic(t, "spilling an 8-word value", func() { m.allocValue(8, 0) })
}

func TestTLSAllocSkipsReserved(t *testing.T) {
	var a tlsalloc
	a.reserveSlot(8, 8)
	a.reserveSlot(32, 8)
	if got := a.allocSlot(8); got != 0 {
		t.Errorf("slot before the reservation = %d", got)
	}
	// does not fit the gap between the two reservations
	if got := a.allocSlot(24); got != 40 {
		t.Errorf("slot = %d, want 40", got)
	}
	mustPanic(t, "overlapping reservation", func() {
		var b tlsalloc
		b.reserveSlot(0, 16)
		b.reserveSlot(8, 16)
	})
}
