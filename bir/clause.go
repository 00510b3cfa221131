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
)

// clause limits
const (
	MaxTuples          = 8
	MaxClauseConstants = 8
	// tuples and embedded constants share
	// the clause's quadword budget
	maxClauseQuadwords = 13
)

// FlowControl is the flow control
// action at the end of a clause.
type FlowControl uint8

const (
	FlowNone FlowControl = iota
	// FlowWait waits on the
	// clause's dependencies
	FlowWait
	// FlowWaitAll drains every outstanding
	// message; used by clauses without a
	// message, which carry no dependencies
	FlowWaitAll
)

func (f FlowControl) String() string {
	switch f {
	case FlowWait:
		return "wait"
	case FlowWaitAll:
		return "wait_all"
	}
	return "none"
}

// Registers is the register block of a tuple.
// Slots 0 and 1 are reads, slot 2 is a read or
// a write and slot 3 is a write.
type Registers struct {
	Slot       [4]uint32
	Enabled    [2]bool
	Slot2Read  bool
	Slot2Write bool
	Slot3Write bool
}

// Tuple is a pair of instructions issued
// together on the FMA and ADD units.
// Either may be nil (a NOP).
type Tuple struct {
	FMA, ADD *Instr
	Regs     Registers
	// FAUIdx is the fast-access uniform read by
	// the tuple; FAUImmediate|k selects embedded
	// constant k of the clause
	FAUIdx FAUValue
	UseFAU bool
}

// Instrs returns the non-nil instructions of t.
func (t *Tuple) Instrs() []*Instr {
	var out []*Instr
	if t.FMA != nil {
		out = append(out, t.FMA)
	}
	if t.ADD != nil {
		out = append(out, t.ADD)
	}
	return out
}

// Clause is a group of tuples executed
// without interruption, plus its constants
// and at most one message.
type Clause struct {
	Tuples []Tuple

	ScoreboardID uint8
	// Dependencies is the set of scoreboard
	// slots waited on before the clause issues
	Dependencies uint8
	FlowControl  FlowControl

	NextClausePrefetch bool
	StagingRegister    uint32
	StagingBarrier     bool

	Constants []uint64
	// PCRelIdx is the constant holding the
	// branch offset when BranchConstant is set
	PCRelIdx       int
	BranchConstant bool

	Message     *Instr
	MessageType MessageType

	// TD terminates helper threads
	// after the clause
	TD  bool
	FTZ bool

	block *Block
}

// Block returns the block containing c.
func (c *Clause) Block() *Block { return c.block }

// Branch returns the branch ending the clause, or nil.
func (c *Clause) Branch() *Instr {
	if len(c.Tuples) == 0 {
		return nil
	}
	last := c.Tuples[len(c.Tuples)-1].ADD
	if last != nil && last.Op.IsBranch() {
		return last
	}
	return nil
}

// Instrs returns the instructions of c in issue order.
func (c *Clause) Instrs() []*Instr {
	var out []*Instr
	for k := range c.Tuples {
		out = append(out, c.Tuples[k].Instrs()...)
	}
	return out
}

func quadwordsFit(constants, tuples int) bool {
	return tuples <= MaxTuples && constants <= MaxClauseConstants &&
		constants <= tuples && constants+tuples <= maxClauseQuadwords
}

// Check verifies the structural limits of c.
func (c *Clause) Check() error {
	n := len(c.Tuples)
	if n == 0 {
		return fmt.Errorf("empty clause")
	}
	if !quadwordsFit(len(c.Constants), n) {
		return fmt.Errorf("%d tuples with %d constants exceed clause limits", n, len(c.Constants))
	}
	messages := 0
	for k := range c.Tuples {
		t := &c.Tuples[k]
		if t.FMA != nil && !t.FMA.Op.CanFMA() {
			return fmt.Errorf("tuple %d: %s cannot issue on FMA", k, t.FMA.Op)
		}
		if t.ADD != nil && !t.ADD.Op.CanADD() {
			return fmt.Errorf("tuple %d: %s cannot issue on ADD", k, t.ADD.Op)
		}
		for _, i := range t.Instrs() {
			if i.Op.MustMessage() {
				messages++
				if i != c.Message {
					return fmt.Errorf("tuple %d: message %s is not the clause message", k, i.Op)
				}
			}
			if i.Op.IsBranch() && (k != n-1 || i != t.ADD) {
				return fmt.Errorf("tuple %d: branch is not last", k)
			}
		}
		if t.UseFAU && t.FAUIdx&FAUImmediate != 0 {
			if slot := int(t.FAUIdx &^ FAUImmediate); slot >= len(c.Constants) || slot == c.PCRelIdx {
				return fmt.Errorf("tuple %d: embedded constant %d out of range", k, slot)
			}
		}
		if t.UseFAU && c.BranchConstant && k == n-1 {
			return fmt.Errorf("tuple %d: constant read alongside the branch offset", k)
		}
		if t.FMA != nil && t.ADD != nil && (dependsOn(t.ADD, t.FMA) || dependsOn(t.FMA, t.ADD)) {
			return fmt.Errorf("tuple %d: dependent instructions share a tuple", k)
		}
	}
	if messages > 1 {
		return fmt.Errorf("%d messages in one clause", messages)
	}
	if c.Message != nil && c.MessageType != c.Message.Op.Message() {
		return fmt.Errorf("message type %s does not match %s", c.MessageType, c.Message.Op)
	}
	if c.BranchConstant && (c.PCRelIdx < 0 || c.PCRelIdx >= len(c.Constants)) {
		return fmt.Errorf("branch constant index %d out of range", c.PCRelIdx)
	}
	return nil
}

// dependsOn reports whether b reads or overwrites
// a register written by a, or overwrites a
// register a reads.
func dependsOn(b, a *Instr) bool {
	aw := a.WriteMask()
	return b.ReadMask(false)&aw != 0 || b.WriteMask()&(aw|a.ReadMask(false)) != 0
}
