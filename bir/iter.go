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

// BlockIter iterates over the blocks of a Context:
//
//	for it := ctx.ForwardBlocks(); it.Next(); {
//		b := it.Block()
//	}
type BlockIter struct {
	blocks []*Block
	pos    int
	step   int
	cur    *Block
}

// ForwardBlocks iterates over all blocks in order.
func (c *Context) ForwardBlocks() *BlockIter {
	return &BlockIter{blocks: c.Blocks, pos: -1, step: 1}
}

// ReverseBlocks iterates over all blocks in reverse order.
func (c *Context) ReverseBlocks() *BlockIter {
	return &BlockIter{blocks: c.Blocks, pos: len(c.Blocks), step: -1}
}

// BlocksFrom iterates over the blocks
// starting at b (inclusive).
func (c *Context) BlocksFrom(b *Block) *BlockIter {
	return &BlockIter{blocks: c.Blocks, pos: b.Index - 1, step: 1}
}

func (it *BlockIter) Next() bool {
	it.pos += it.step
	if it.pos < 0 || it.pos >= len(it.blocks) {
		it.cur = nil
		return false
	}
	it.cur = it.blocks[it.pos]
	return true
}

func (it *BlockIter) Block() *Block { return it.cur }

// InstrIter iterates over the instructions of a block.
//
// A plain iterator must not be used after the
// current instruction is removed; the safe
// variants remember the following instruction
// before yielding the current one.
type InstrIter struct {
	ctx     *Context
	start   InstrID
	saved   InstrID
	cur     *Instr
	reverse bool
	safe    bool
	started bool
}

func newInstrIter(b *Block, start InstrID, reverse, safe bool) *InstrIter {
	return &InstrIter{ctx: b.ctx, start: start, reverse: reverse, safe: safe}
}

// Instrs iterates over b in order.
func (b *Block) Instrs() *InstrIter { return newInstrIter(b, b.first, false, false) }

// InstrsReverse iterates over b from the last instruction.
func (b *Block) InstrsReverse() *InstrIter { return newInstrIter(b, b.last, true, false) }

// InstrsSafe is Instrs tolerating removal
// of the current instruction.
func (b *Block) InstrsSafe() *InstrIter { return newInstrIter(b, b.first, false, true) }

// InstrsSafeReverse is InstrsReverse tolerating
// removal of the current instruction.
func (b *Block) InstrsSafeReverse() *InstrIter { return newInstrIter(b, b.last, true, true) }

// InstrsFrom iterates forward starting at i (inclusive).
func InstrsFrom(i *Instr) *InstrIter {
	if i.block == nil {
		panic("InstrsFrom: instruction is not in a block")
	}
	return newInstrIter(i.block, i.ID, false, false)
}

func (it *InstrIter) advance(i *Instr) InstrID {
	if it.reverse {
		return i.prev
	}
	return i.next
}

func (it *InstrIter) Next() bool {
	var id InstrID
	switch {
	case !it.started:
		it.started = true
		id = it.start
	case it.safe:
		id = it.saved
	case it.cur == nil:
		return false
	default:
		id = it.advance(it.cur)
	}
	if id == noInstr {
		it.cur = nil
		return false
	}
	it.cur = it.ctx.instrs[id]
	if it.safe {
		it.saved = it.advance(it.cur)
	}
	return true
}

func (it *InstrIter) Instr() *Instr { return it.cur }

// AllInstrIter iterates over every instruction of a
// Context in block order. Removing the current
// instruction is allowed.
type AllInstrIter struct {
	blocks *BlockIter
	instrs *InstrIter
}

func (c *Context) AllInstrs() *AllInstrIter {
	return &AllInstrIter{blocks: c.ForwardBlocks()}
}

func (it *AllInstrIter) Next() bool {
	for {
		if it.instrs != nil && it.instrs.Next() {
			return true
		}
		if !it.blocks.Next() {
			return false
		}
		it.instrs = it.blocks.Block().InstrsSafe()
	}
}

func (it *AllInstrIter) Instr() *Instr { return it.instrs.Instr() }

func (it *AllInstrIter) Block() *Block { return it.blocks.Block() }
