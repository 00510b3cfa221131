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
)

// ScoreboardSlots is the number of
// hardware scoreboard entries.
const ScoreboardSlots = 8

// ScoreboardState records the registers and
// memory traffic of the messages in flight,
// per scoreboard slot.
type ScoreboardState struct {
	// Read holds the staging registers a
	// message has yet to read; Write the
	// registers it has yet to write
	Read, Write [ScoreboardSlots]uint64
	// per-slot flags for outstanding varying
	// fetches, memory reads and memory writes
	Varying, Memory, Store uint8
}

func slotBit(slot uint8) uint8 { return 1 << (slot % ScoreboardSlots) }

// Busy reports whether slot has a message in flight.
func (s *ScoreboardState) Busy(slot uint8) bool {
	slot %= ScoreboardSlots
	return s.Read[slot]|s.Write[slot] != 0 ||
		(s.Varying|s.Memory|s.Store)&slotBit(slot) != 0
}

// Outstanding returns the set of busy slots.
func (s *ScoreboardState) Outstanding() uint8 {
	var out uint8
	for k := uint8(0); k < ScoreboardSlots; k++ {
		if s.Busy(k) {
			out |= slotBit(k)
		}
	}
	return out
}

// clauseAccess summarizes the registers and
// memory touched by a clause.
type clauseAccess struct {
	reads, writes uint64
	message       MessageType
}

func accessOf(c *Clause) clauseAccess {
	var a clauseAccess
	for _, i := range c.Instrs() {
		a.reads |= i.ReadMask(false)
		a.writes |= i.WriteMask()
	}
	a.message = c.MessageType
	return a
}

func (a *clauseAccess) readsMemory() bool {
	return a.message == MessageLoad || a.message == MessageAtomic
}

func (a *clauseAccess) writesMemory() bool {
	return a.message == MessageStore || a.message == MessageAtomic
}

// fragment outputs consume interpolated varyings
func (a *clauseAccess) waitsVarying() bool {
	switch a.message {
	case MessageATest, MessageBlend, MessageZStencil, MessageTile:
		return true
	}
	return false
}

// hazards returns the slots whose outstanding
// messages conflict with a: reads of registers
// still to be written, writes of registers still
// to be read or written, and ordered memory or
// varying traffic. Reads of registers that are
// only read never conflict.
func (s *ScoreboardState) hazards(a *clauseAccess) uint8 {
	var deps uint8
	for k := uint8(0); k < ScoreboardSlots; k++ {
		bit := slotBit(k)
		switch {
		case a.reads&s.Write[k] != 0:
		case a.writes&(s.Write[k]|s.Read[k]) != 0:
		case a.readsMemory() && s.Store&bit != 0:
		case a.writesMemory() && (s.Memory|s.Store)&bit != 0:
		case a.waitsVarying() && s.Varying&bit != 0:
		default:
			continue
		}
		deps |= bit
	}
	return deps
}

// Hazards returns the slots c must wait on.
func (s *ScoreboardState) Hazards(c *Clause) uint8 {
	a := accessOf(c)
	return s.hazards(&a)
}

// Retire marks the slots in deps as completed.
func (s *ScoreboardState) Retire(deps uint8) {
	for k := uint8(0); k < ScoreboardSlots; k++ {
		if deps&slotBit(k) != 0 {
			s.Read[k], s.Write[k] = 0, 0
		}
	}
	s.Varying &^= deps
	s.Memory &^= deps
	s.Store &^= deps
}

// Push records the message of c as in flight in slot.
// Clauses without a message are not tracked.
func (s *ScoreboardState) Push(slot uint8, c *Clause) {
	m := c.Message
	if m == nil {
		return
	}
	slot %= ScoreboardSlots
	bit := slotBit(slot)
	s.Read[slot] = m.ReadMask(true)
	s.Write[slot] = m.WriteMask()
	s.Varying &^= bit
	s.Memory &^= bit
	s.Store &^= bit
	switch c.MessageType {
	case MessageVarying, MessageAttribute, MessageVarTex:
		s.Varying |= bit
	case MessageLoad:
		s.Memory |= bit
	case MessageStore:
		s.Store |= bit
	case MessageAtomic:
		s.Memory |= bit
		s.Store |= bit
	}
}

// Union merges the in-flight state of o into s.
func (s *ScoreboardState) Union(o *ScoreboardState) {
	for k := range s.Read {
		s.Read[k] |= o.Read[k]
		s.Write[k] |= o.Write[k]
	}
	s.Varying |= o.Varying
	s.Memory |= o.Memory
	s.Store |= o.Store
}

// AssignScoreboard gives every message clause a
// scoreboard slot and computes the slots each
// message clause waits on. Slots are handed out
// round-robin; reusing a slot that may still be
// in flight adds a wait on it. The state at the
// start of each block merges the state at the end
// of its predecessors, iterated to a fixed point.
func AssignScoreboard(c *Context) {
	next := 0
	for _, b := range c.Blocks {
		for _, cl := range b.Clauses {
			cl.Dependencies = 0
			cl.FlowControl = FlowNone
			if cl.Message != nil {
				cl.ScoreboardID = uint8(next % ScoreboardSlots)
				next++
			}
		}
		b.ScoreboardIn = ScoreboardState{}
		b.ScoreboardOut = ScoreboardState{}
	}
	drain := make(map[*Clause]bool)
	for changed := true; changed; {
		changed = false
		for _, b := range c.Blocks {
			var st ScoreboardState
			for _, p := range b.Predecessors {
				st.Union(&p.ScoreboardOut)
			}
			b.ScoreboardIn = st
			for _, cl := range b.Clauses {
				a := accessOf(cl)
				deps := st.hazards(&a)
				if cl.Message == nil {
					drain[cl] = deps != 0
					if deps != 0 {
						st = ScoreboardState{}
					}
					continue
				}
				if cl.MessageType == MessageBarrier {
					deps |= st.Outstanding()
				}
				if st.Busy(cl.ScoreboardID) {
					deps |= slotBit(cl.ScoreboardID)
				}
				cl.Dependencies = deps
				st.Retire(deps)
				st.Push(cl.ScoreboardID, cl)
			}
			if st != b.ScoreboardOut {
				b.ScoreboardOut = st
				changed = true
			}
		}
	}
	for _, b := range c.Blocks {
		for _, cl := range b.Clauses {
			switch {
			case cl.Dependencies != 0:
				cl.FlowControl = FlowWait
			case drain[cl]:
				cl.FlowControl = FlowWaitAll
			}
			cl.StagingBarrier = stagingBarrier(cl)
		}
	}
}

// stagingBarrier reports whether the staging
// registers read by the message of c are written
// by an earlier tuple of the same clause.
func stagingBarrier(c *Clause) bool {
	if c.Message == nil {
		return false
	}
	sr := c.Message.ReadMask(true)
	if sr == 0 {
		return false
	}
	var written uint64
	for k := range c.Tuples {
		for _, i := range c.Tuples[k].Instrs() {
			if i == c.Message {
				return written&sr != 0
			}
			written |= i.WriteMask()
		}
	}
	return false
}

// waitCount returns the number of slots c waits on.
func waitCount(c *Clause) int { return bits.OnesCount8(c.Dependencies) }
