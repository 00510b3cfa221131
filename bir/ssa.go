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

// OutOfSSA replaces every phi with copies.
//
// Each phi d = PHI(s0, s1, ...) gets a fresh
// value u: every predecessor k copies sk into u
// just before its branch and the phi becomes
// d = MOV u. Because u is only read at the top
// of the phi's block, the copies are safe on
// edges leaving a block with two successors and
// phis that read each other need no ordering.
func OutOfSSA(c *Context) {
	for _, b := range c.Blocks {
		for it := b.InstrsSafe(); it.Next(); {
			phi := it.Instr()
			if phi.Op != OpPhi {
				break
			}
			if len(phi.Src) != len(b.Predecessors) {
				panic(fmt.Sprintf("%s: phi has %d sources for %d predecessors",
					b, len(phi.Src), len(b.Predecessors)))
			}
			u := c.Temp()
			for k, p := range b.Predecessors {
				if phi.Src[k].IsNull() {
					continue
				}
				mov := NewBuilder(c, AfterBlockLogical(p)).MovTo(u, phi.Src[k])
				mov.VecSize = phi.VecSize
			}
			mov := NewBuilder(c, BeforeInstr(phi)).MovTo(phi.Dest[0], u)
			mov.VecSize = phi.VecSize
			c.Remove(phi)
		}
	}
	c.ssaForm = false
}
