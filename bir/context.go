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
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Stage is a shader pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
	StageCompute
)

var stageNames = [...]string{"vertex", "fragment", "compute"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// ParseStage parses a stage name.
func ParseStage(s string) (Stage, error) {
	for i := range stageNames {
		if strings.EqualFold(s, stageNames[i]) {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", ErrInvalid, s)
}

// PushRange is a run of uniform words
// pushed into fast-access uniform storage.
type PushRange struct {
	UBO    uint32
	Offset uint32 // in bytes
	Words  uint32
}

// Stats counts properties of the compiled shader.
type Stats struct {
	Instrs  int
	Tuples  int
	Clauses int
	// Nops counts empty tuple slots
	Nops int
	// Waits counts scoreboard slots waited on
	Waits int
}

// Info is the shader metadata produced by a compile.
type Info struct {
	// WorkRegCount is one past the highest
	// general-purpose register written or read
	WorkRegCount int
	// TLSSize is the thread-local storage in
	// bytes, including spill space
	TLSSize uint32
	// PushOffset is the first fast-access
	// uniform slot used for pushed uniforms
	PushOffset uint32
	Push       []PushRange
	Stats      Stats
}

// Context holds one shader being compiled.
type Context struct {
	Name    string
	Stage   Stage
	Options Options

	Blocks []*Block

	instrs   []*Instr
	ssaAlloc uint32

	// split vector components, by vector SSA value
	allocatedVec map[uint32][]Index
	// SSA values in the spill memory class
	memValues map[uint32]bool
	// values already demoted to memory
	spilled map[uint32]bool
	// pushed uniform words, by ubo<<32|offset
	pushed map[uint64]uint32

	// SpillBase is the byte offset of spill slots in TLS
	SpillBase uint32
	Info      Info

	LoopCount    int
	Spills       int
	Fills        int
	ssaForm      bool
	regAllocated bool
}

// NewContext returns an empty context.
func NewContext(name string, stage Stage, opts Options) *Context {
	return &Context{
		Name:         name,
		Stage:        stage,
		Options:      opts,
		SpillBase:    opts.SpillBase,
		allocatedVec: make(map[uint32][]Index),
		memValues:    make(map[uint32]bool),
		spilled:      make(map[uint32]bool),
		pushed:       make(map[uint64]uint32),
		ssaForm:      true,
	}
}

func (c *Context) logf(f string, args ...any) {
	if c.Options.Logf != nil {
		c.Options.Logf(f, args...)
	}
}

// NewBlock appends a new block to the shader.
func (c *Context) NewBlock() *Block {
	b := &Block{
		Index: len(c.Blocks),
		ctx:   c,
		first: noInstr,
		last:  noInstr,
	}
	c.Blocks = append(c.Blocks, b)
	return b
}

// Entry returns the first block.
func (c *Context) Entry() *Block {
	if len(c.Blocks) == 0 {
		return nil
	}
	return c.Blocks[0]
}

// Temp allocates a new SSA value.
func (c *Context) Temp() Index {
	v := c.ssaAlloc
	c.ssaAlloc++
	return SSA(v)
}

// MemTemp allocates a new SSA value
// in the spill memory class.
func (c *Context) MemTemp() Index {
	x := c.Temp()
	x.Memory = true
	c.memValues[x.Value] = true
	return x
}

// NumValues returns the number of
// SSA values allocated so far.
func (c *Context) NumValues() uint32 { return c.ssaAlloc }

func (c *Context) isMemory(v uint32) bool { return c.memValues[v] }

// NewInstr allocates an instruction that
// is not yet part of any block. Sources and
// destinations are sized from the opcode table
// and initialized to Null.
func (c *Context) NewInstr(op Op) *Instr {
	i := &Instr{
		ID:   InstrID(len(c.instrs)),
		Op:   op,
		prev: noInstr,
		next: noInstr,
	}
	nd, ns := op.NumDests(), op.NumSrcs()
	if nd < 0 {
		nd = 0
	}
	if ns < 0 {
		ns = 0
	}
	i.Dest = i.destbuf[:nd]
	i.Src = i.srcbuf[:ns]
	c.instrs = append(c.instrs, i)
	return i
}

// SetSrcs sets the sources of a variadic instruction.
func (i *Instr) SetSrcs(srcs ...Index) {
	if i.Op.NumSrcs() != variadic {
		panic(fmt.Sprintf("%s: SetSrcs on fixed-arity opcode", i.Op))
	}
	if len(srcs) > maxSrcs {
		panic(fmt.Sprintf("%s: %d sources exceed the limit of %d", i.Op, len(srcs), maxSrcs))
	}
	i.Src = i.srcbuf[:len(srcs)]
	copy(i.Src, srcs)
}

// Instr returns the instruction with handle id.
func (c *Context) Instr(id InstrID) *Instr { return c.instrs[id] }

// Remove unlinks i from its block.
func (c *Context) Remove(i *Instr) {
	if i.block == nil {
		panic(fmt.Sprintf("instruction %d removed twice", i.ID))
	}
	i.block.unlink(i)
}

// Split returns the n scalar components of
// the SSA vector vec. Repeated calls return
// the same components.
func (c *Context) Split(vec Index, n int) []Index {
	if !vec.IsSSA() {
		panic(fmt.Sprintf("Split: %s is not an SSA value", vec))
	}
	if comps, ok := c.allocatedVec[vec.Value]; ok && len(comps) >= n {
		return comps[:n]
	}
	comps := make([]Index, n)
	for k := range comps {
		comps[k] = SSA(vec.Value).Word(k)
	}
	c.allocatedVec[vec.Value] = comps
	return comps
}

// splitValues returns the vectors split so
// far, in ascending order.
func (c *Context) splitValues() []uint32 {
	keys := maps.Keys(c.allocatedVec)
	slices.Sort(keys)
	return keys
}

// PushUniform returns a fast-access uniform index
// for the word at byte offset off of buffer ubo,
// recording the push layout on first use.
func (c *Context) PushUniform(ubo, off uint32) Index {
	key := uint64(ubo)<<32 | uint64(off)
	slot, ok := c.pushed[key]
	if !ok {
		slot = c.Info.PushOffset + uint32(len(c.pushed))
		c.pushed[key] = slot
		c.extendPush(ubo, off)
	}
	return FAU(FAUUniform|FAUValue(slot/2), slot&1 != 0)
}

func (c *Context) extendPush(ubo, off uint32) {
	if n := len(c.Info.Push); n > 0 {
		last := &c.Info.Push[n-1]
		if last.UBO == ubo && last.Offset+4*last.Words == off {
			last.Words++
			return
		}
	}
	c.Info.Push = append(c.Info.Push, PushRange{UBO: ubo, Offset: off, Words: 1})
}

// valueWidths returns the number of
// words of every SSA value.
func (c *Context) valueWidths() []uint8 {
	w := make([]uint8, c.ssaAlloc)
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		i.SSADests(func(d int, x Index) {
			n := uint8(i.CountWriteRegisters(d)) + x.Offset
			if n > w[x.Value] {
				w[x.Value] = n
			}
		})
	}
	return w
}

// findLoops marks loop headers (targets of back
// edges in a depth-first walk from the entry)
// and counts them.
func (c *Context) findLoops() {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]uint8, len(c.Blocks))
	type frame struct {
		b    *Block
		next int
	}
	c.LoopCount = 0
	for _, b := range c.Blocks {
		b.LoopHeader = false
	}
	if len(c.Blocks) == 0 {
		return
	}
	stack := []frame{{b: c.Blocks[0]}}
	state[0] = active
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := top.b.Succs()
		if top.next == len(succs) {
			state[top.b.Index] = done
			stack = stack[:len(stack)-1]
			continue
		}
		s := succs[top.next]
		top.next++
		switch state[s.Index] {
		case unvisited:
			state[s.Index] = active
			stack = append(stack, frame{b: s})
		case active:
			if !s.LoopHeader {
				s.LoopHeader = true
				c.LoopCount++
			}
		}
	}
}
