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

// clauseIndex numbers the clauses of the
// shader in layout order and returns the
// index of the first clause of each block.
// An empty block starts where the next
// non-empty block does.
func clauseIndex(c *Context) (first []int, total int) {
	first = make([]int, len(c.Blocks)+1)
	for k, b := range c.Blocks {
		first[k] = total
		total += len(b.Clauses)
	}
	first[len(c.Blocks)] = total
	return first, total
}

// BlockOffset returns the offset, in clauses,
// from the clause following from to the first
// clause of target.
func BlockOffset(c *Context, from *Clause, target *Block) int {
	first, _ := clauseIndex(c)
	return blockOffset(first, from, target)
}

func blockOffset(first []int, from *Clause, target *Block) int {
	b := from.Block()
	pos := -1
	for k, cl := range b.Clauses {
		if cl == from {
			pos = first[b.Index] + k
			break
		}
	}
	if pos < 0 {
		panic(fmt.Sprintf("clause is not part of %s", b))
	}
	return first[target.Index] - (pos + 1)
}

// addTerminalNops gives every empty terminal
// block targeted by a branch a single NOP
// clause, so that the branch has a clause
// to land on.
func addTerminalNops(c *Context) {
	for _, b := range c.Blocks {
		for _, cl := range b.Clauses {
			br := cl.Branch()
			if br == nil || br.Target() == nil {
				continue
			}
			t := br.Target()
			if len(t.Clauses) > 0 || !IsTerminal(t) {
				continue
			}
			t.NeedsNop = true
			nop := c.NewInstr(OpNop)
			t.pushBack(nop)
			t.Clauses = []*Clause{{
				Tuples:   []Tuple{{ADD: nop}},
				FTZ:      c.Options.FTZ,
				PCRelIdx: -1,
				block:    t,
			}}
		}
	}
}

// Layout finalizes the clause stream of a
// scheduled shader: terminal branch targets get
// a NOP clause, branch offsets are written into
// the branch constants and the prefetch hints
// are cleared where the next clause in memory
// is not the next clause executed.
func Layout(c *Context) {
	addTerminalNops(c)
	first, total := clauseIndex(c)
	n := 0
	for _, b := range c.Blocks {
		if !b.Scheduled && !b.Empty() {
			panic(fmt.Sprintf("Layout: %s is not scheduled", b))
		}
		for _, cl := range b.Clauses {
			n++
			cl.NextClausePrefetch = n < total
			br := cl.Branch()
			if br == nil {
				continue
			}
			if br.Op == OpJump {
				cl.NextClausePrefetch = false
			}
			if cl.BranchConstant && br.Target() != nil {
				off := blockOffset(first, cl, br.Target())
				cl.Constants[cl.PCRelIdx] = uint64(int64(off))
			}
		}
	}
	AnalyzeHelperTerminate(c)
}

func clauseNeedsHelpers(cl *Clause) bool {
	for _, i := range cl.Instrs() {
		if i.needsHelpers() {
			return true
		}
	}
	return false
}

// AnalyzeHelperTerminate marks the clauses of a
// fragment shader after which no instruction
// needs helper lanes, so that the helpers can
// be terminated there.
func AnalyzeHelperTerminate(c *Context) {
	if c.Stage != StageFragment {
		return
	}
	needs := make([]bool, len(c.Blocks))
	for k, b := range c.Blocks {
		for _, cl := range b.Clauses {
			if clauseNeedsHelpers(cl) {
				needs[k] = true
				break
			}
		}
		b.helpersIn, b.helpersOut = false, false
	}
	wl := newWorklist(c)
	for !wl.empty() {
		b := wl.pop()
		out := false
		for _, s := range b.Succs() {
			out = out || s.helpersIn
		}
		in := out || needs[b.Index]
		b.helpersOut = out
		if in != b.helpersIn {
			b.helpersIn = in
			for _, p := range b.Predecessors {
				wl.push(p)
			}
		}
	}
	for _, b := range c.Blocks {
		need := b.helpersOut
		for k := len(b.Clauses) - 1; k >= 0; k-- {
			cl := b.Clauses[k]
			cl.TD = !need
			need = need || clauseNeedsHelpers(cl)
		}
	}
}
