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

// tlsslot is a byte offset into thread-local storage
type tlsslot uint32

const invalidslot = tlsslot(0xFFFFFFFF)

// slots are allocated in units of 8 bytes
const spillAlignment = 8

// Groups spilled values of the same slot size
// so that freed slots can be reused.
type slotgroup uint8

const (
	slotGroup1x slotgroup = iota
	slotGroup2x
	slotGroup4x
	slotGroupCount
)

var slotSizeByGroup = [slotGroupCount]uint32{
	slotGroup1x: 4,
	slotGroup2x: 8,
	slotGroup4x: 16,
}

func slotGroupOf(words int) slotgroup {
	switch {
	case words <= 1:
		return slotGroup1x
	case words == 2:
		return slotGroup2x
	case words <= 4:
		return slotGroup4x
	}
	panic(fmt.Sprintf("cannot spill a value of %d words", words))
}

type reservedslot struct {
	offset uint32
	size   uint32
}

// tlsalloc tracks the allocation of
// thread-local storage (low level interface).
type tlsalloc struct {
	offset        uint32         // offset where the next slot will be allocated
	reservedIndex int            // index of the first reserved slot in reservedSlots
	reservedSlots []reservedslot // sorted, non-overlapping reserved regions
}

// reserveSlot marks a region of thread-local storage
// as unavailable for spilling. It is an error if the
// region overlaps a region that was reserved or
// already allocated.
func (s *tlsalloc) reserveSlot(slot tlsslot, size int) {
	offset := int(slot)
	if offset < int(s.offset) {
		panic(fmt.Sprintf("tlsalloc.reserveSlot: slot %d of size %d is before the current offset %d",
			offset, size, s.offset))
	}
	for i, reserved := range s.reservedSlots {
		if int(reserved.offset)+int(reserved.size) <= offset {
			continue
		}
		if int(reserved.offset) >= offset+size {
			s.reservedSlots = append(s.reservedSlots[:i+1], s.reservedSlots[i:]...)
			s.reservedSlots[i] = reservedslot{offset: uint32(offset), size: uint32(size)}
			return
		}
		panic(fmt.Sprintf("tlsalloc.reserveSlot: slot %d of size %d overlaps slot %d of size %d",
			offset, size, reserved.offset, reserved.size))
	}
	s.reservedSlots = append(s.reservedSlots, reservedslot{offset: uint32(offset), size: uint32(size)})
}

// allocSlot allocates size bytes, skipping reserved regions.
func (s *tlsalloc) allocSlot(size int) tlsslot {
	for s.reservedIndex < len(s.reservedSlots) {
		reserved := s.reservedSlots[s.reservedIndex]
		if s.offset > reserved.offset {
			panic(fmt.Sprintf("tlsalloc.allocSlot: offset %d is past the reserved offset %d", s.offset, reserved.offset))
		}
		slot := tlsslot(s.offset)
		remaining := int(reserved.offset - s.offset)
		if remaining > size {
			s.offset += uint32(size)
			return slot
		}
		s.reservedIndex++
		s.offset = reserved.offset + reserved.size
		if remaining == size {
			return slot
		}
	}
	slot := tlsslot(s.offset)
	s.offset += uint32(size)
	return slot
}

// spillmap assigns thread-local storage slots to
// spilled values. Slots of values that are no longer
// live are reused by values of the same slot group.
type spillmap struct {
	allocator tlsalloc
	freeSlots [slotGroupCount][]tlsslot
	idToSlot  []tlsslot
	idToGroup []slotgroup
}

// reserve excludes [0, base) from spilling.
func (s *spillmap) reserve(base uint32) {
	if base > 0 {
		s.allocator.reserveSlot(0, int(base))
	}
}

func (s *spillmap) allocSlot(g slotgroup) tlsslot {
	free := s.freeSlots[g]
	if len(free) > 0 {
		slot := free[len(free)-1]
		s.freeSlots[g] = free[:len(free)-1]
		return slot
	}
	size := slotSizeByGroup[g]
	aligned := ints.AlignUp(size, spillAlignment)
	slot := s.allocator.allocSlot(int(aligned))
	// hand out the alignment padding to later
	// values of the same group
	for extra := aligned - size; extra >= size; extra -= size {
		free = append(free, slot+tlsslot(extra))
	}
	s.freeSlots[g] = free
	return slot
}

func (s *spillmap) freeSlot(g slotgroup, slot tlsslot) {
	s.freeSlots[g] = append(s.freeSlots[g], slot)
}

func (s *spillmap) allocValue(words int, id uint32) tlsslot {
	g := slotGroupOf(words)
	slot := s.allocSlot(g)
	for uint32(len(s.idToSlot)) <= id {
		s.idToSlot = append(s.idToSlot, invalidslot)
		s.idToGroup = append(s.idToGroup, 0)
	}
	s.idToSlot[id] = slot
	s.idToGroup[id] = g
	return slot
}

func (s *spillmap) freeValue(id uint32) {
	slot := s.slotOf(id)
	if slot == invalidslot {
		panic(fmt.Sprintf("spillmap.freeValue: value %d has no slot", id))
	}
	s.freeSlot(s.idToGroup[id], slot)
	s.idToSlot[id] = invalidslot
}

func (s *spillmap) slotOf(id uint32) tlsslot {
	if uint32(len(s.idToSlot)) <= id {
		return invalidslot
	}
	return s.idToSlot[id]
}

func (s *spillmap) hasSlot(id uint32) bool { return s.slotOf(id) != invalidslot }

// size returns the bytes of thread-local storage
// covered by allocated and reserved slots.
func (s *spillmap) size() uint32 {
	offset := s.allocator.offset
	if n := len(s.allocator.reservedSlots); n > 0 {
		last := s.allocator.reservedSlots[n-1]
		if end := last.offset + last.size; offset < end {
			offset = end
		}
	}
	return ints.AlignUp(offset, spillAlignment)
}
