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

// OptCopyProp forwards the sources of plain moves
// into their uses. The moves themselves are left
// for OptDCE.
func OptCopyProp(c *Context) {
	repl := make([]Index, c.NumValues())
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if !i.isMove() || !i.Dest[0].IsSSA() || i.Dest[0].Memory {
			continue
		}
		s := i.Src[0]
		if (s.IsSSA() && !s.Memory) || s.Type == IndexConstant {
			repl[i.Dest[0].Value] = StripHints(s)
		}
	}
	// resolve follows a chain of moves, summing
	// the word offsets of the uses along the way
	resolve := func(x Index) (Index, uint8) {
		var off uint8
		for x.IsSSA() && !repl[x.Value].IsNull() {
			off += x.Offset
			x = repl[x.Value]
		}
		return x, off
	}
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		for s := range i.Src {
			x := i.Src[s]
			if !x.IsSSA() || repl[x.Value].IsNull() {
				continue
			}
			r, off := resolve(x)
			if r.Type == IndexConstant {
				// constants cannot travel through the
				// staging registers, and have no words
				if off != 0 || i.ReadsStaging(s) || i.Op == OpCollect {
					continue
				}
			}
			i.Src[s] = ReplaceIndex(x, r)
			i.Src[s].Offset += off
		}
	}
}

// OptModPropForward folds FABSNEG into the
// float source modifiers of its users.
func OptModPropForward(c *Context) {
	defs := make([]*Instr, c.NumValues())
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if i.Op != OpFAbsNeg || !i.Dest[0].IsSSA() {
			continue
		}
		if m, _ := i.Payload.(RoundMods); m != (RoundMods{}) {
			continue
		}
		if x := i.Src[0]; x.Swizzle != SwizzleH01 || !(x.IsSSA() || x.Type == IndexConstant) {
			continue
		}
		defs[i.Dest[0].Value] = i
	}
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if !i.Op.SupportsFloatMods() {
			continue
		}
		for s := range i.Src {
			use := i.Src[s]
			if !use.IsSSA() || use.Swizzle != SwizzleH01 || defs[use.Value] == nil {
				continue
			}
			x := StripHints(defs[use.Value].Src[0])
			if use.Abs {
				x.Abs = true
				x.Neg = use.Neg
			} else {
				x.Neg = x.Neg != use.Neg
			}
			i.Src[s] = x
		}
	}
}

// removable reports whether i may be deleted
// once its results are unused.
func (i *Instr) removable() bool {
	return len(i.Dest) > 0 && !i.Op.SideEffects() && !i.Op.IsBranch() && i.Op != OpNop
}

// OptDCE deletes instructions whose SSA results
// are never read, iterating until nothing changes.
func OptDCE(c *Context) int {
	total := 0
	for {
		uses := make([]int, c.NumValues())
		for it := c.AllInstrs(); it.Next(); {
			it.Instr().SSASrcs(func(_ int, x Index) { uses[x.Value]++ })
		}
		removed := 0
		for it := c.AllInstrs(); it.Next(); {
			i := it.Instr()
			if !i.removable() {
				continue
			}
			dead := true
			for _, d := range i.Dest {
				if !d.IsNull() && !(d.IsSSA() && uses[d.Value] == 0) {
					dead = false
					break
				}
			}
			if dead {
				c.Remove(i)
				removed++
			}
		}
		if removed == 0 {
			return total
		}
		total += removed
	}
}

// OptDCEPostRA deletes instructions whose
// register results are dead.
func OptDCEPostRA(c *Context) int {
	PostRALiveness(c)
	removed := 0
	for _, b := range c.Blocks {
		live := b.RegLiveOut
		for it := b.InstrsSafeReverse(); it.Next(); {
			i := it.Instr()
			if w := i.WriteMask(); i.removable() && w != 0 && w&live == 0 {
				c.Remove(i)
				removed++
				continue
			}
			live = PostRALivenessIns(live, i)
		}
	}
	return removed
}
