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

// machine executes the integer subset of the
// instruction set, either on SSA values or on
// registers, so that shaders can be compared
// before and after allocation and scheduling.
type machine struct {
	ssa  map[uint32]uint32
	regs [MaxRegs]uint32
	tls  map[uint32]uint32
	out  map[uint32]uint32
}

func (m *machine) read(x Index) uint32 {
	switch x.Type {
	case IndexConstant:
		return x.Value
	case IndexNormal:
		return m.ssa[x.Value<<3|uint32(x.Offset)]
	case IndexRegister:
		return m.regs[x.Value+uint32(x.Offset)]
	}
	panic(fmt.Sprintf("machine: cannot read %s", x))
}

func (m *machine) write(x Index, v uint32) {
	switch x.Type {
	case IndexNormal:
		m.ssa[x.Value<<3|uint32(x.Offset)] = v
	case IndexRegister:
		m.regs[x.Value+uint32(x.Offset)] = v
	default:
		panic(fmt.Sprintf("machine: cannot write %s", x))
	}
}

func (m *machine) memory(i *Instr) map[uint32]uint32 {
	if mm, ok := i.Payload.(MemoryMods); ok && mm.Seg == SegTL {
		return m.tls
	}
	return m.out
}

// run executes c from its first block and returns the
// words stored outside thread-local storage. Blocks
// fall through to the next block in order.
func run(c *Context) map[uint32]uint32 {
	m := &machine{
		ssa: make(map[uint32]uint32),
		tls: make(map[uint32]uint32),
		out: make(map[uint32]uint32),
	}
	var prev *Block
	b := c.Entry()
	for steps := 0; b != nil; steps++ {
		if steps > 10000 {
			panic("machine: too many blocks executed")
		}
		var next *Block
		if b.Index+1 < len(c.Blocks) && !b.UnconditionalJumps {
			next = c.Blocks[b.Index+1]
		}
		var phis []*Instr
		var vals []uint32
		for it := b.Instrs(); it.Next(); {
			i := it.Instr()
			if i.Op == OpPhi {
				phis = append(phis, i)
				vals = append(vals, m.read(i.Src[b.predIndex(prev)]))
				continue
			}
			for k, p := range phis {
				m.write(p.Dest[0], vals[k])
			}
			phis = phis[:0]
			m.exec(i, &next)
		}
		for k, p := range phis {
			m.write(p.Dest[0], vals[k])
		}
		prev, b = b, next
	}
	return m.out
}

func (m *machine) exec(i *Instr, next **Block) {
	src := func(k int) uint32 { return m.read(i.Src[k]) }
	switch i.Op {
	case OpNop:
	case OpMov:
		for w := 0; w < i.words(); w++ {
			m.write(i.Dest[0].Word(w), m.read(i.Src[0].Word(w)))
		}
	case OpIAdd:
		m.write(i.Dest[0], src(0)+src(1))
	case OpISub:
		m.write(i.Dest[0], src(0)-src(1))
	case OpIMul:
		m.write(i.Dest[0], src(0)*src(1))
	case OpICmp:
		v := uint32(0)
		if i.Payload.(CompareMods).Cmpf.Eval(int64(int32(src(0))), int64(int32(src(1)))) {
			v = 1
		}
		m.write(i.Dest[0], v)
	case OpCollect:
		vals := make([]uint32, len(i.Src))
		for k := range vals {
			vals[k] = src(k)
		}
		for k, v := range vals {
			m.write(i.Dest[0].Word(k), v)
		}
	case OpStore:
		mem := m.memory(i)
		addr := src(1)
		for w := 0; w < i.words(); w++ {
			mem[addr+4*uint32(w)] = m.read(i.Src[0].Word(w))
		}
	case OpLoad:
		mem := m.memory(i)
		addr := src(0)
		for w := 0; w < i.words(); w++ {
			m.write(i.Dest[0].Word(w), mem[addr+4*uint32(w)])
		}
	case OpBranchZ:
		if i.Branch().Cmpf.Eval(int64(int32(src(0))), 0) {
			*next = i.Target()
		}
	case OpJump:
		*next = i.Target()
	default:
		panic(fmt.Sprintf("machine: %s not supported", i.Op))
	}
}
