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
	"golang.org/x/exp/slices"
)

// LowerConstants moves into temporaries the
// constant sources an instruction cannot read
// directly. A tuple reads at most two distinct
// nonzero immediates (one embedded constant) or
// a single uniform, never both. Branches read
// their offset through that port, and staging
// sources must be registers. It returns the
// number of moves inserted.
func LowerConstants(c *Context) int {
	n := 0
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if i.Op.pseudo() {
			continue
		}
		var imms []uint32
		var faus []FAUValue
		for s, x := range i.Src {
			if x.Type != IndexConstant && x.Type != IndexFAU {
				continue
			}
			keep := false
			switch {
			case i.ReadsStaging(s):
			case x.Type == IndexConstant && x.Value == 0:
				keep = true
			case i.Op.IsBranch():
			case x.Type == IndexConstant:
				if len(faus) == 0 && (slices.Contains(imms, x.Value) || len(imms) < maxTupleImms) {
					imms = addUnique(imms, x.Value)
					keep = true
				}
			default:
				v := FAUValue(x.Value)
				if len(imms) == 0 && (len(faus) == 0 || faus[0] == v) {
					faus = addUnique(faus, v)
					keep = true
				}
			}
			if keep {
				continue
			}
			bld := NewBuilder(c, BeforeInstr(i))
			t := bld.Mov(StripIndex(StripHints(x)))
			i.Src[s] = ReplaceIndex(x, t)
			n++
		}
	}
	return n
}
