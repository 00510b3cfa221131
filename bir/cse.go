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
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"
)

const (
	cseK0 = 0x5d1f0c3b9e2a7741
	cseK1 = 0xa03b6e58c4f1d29f
)

func appendIndex(dst []byte, x Index) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, x.Value)
	var flags byte
	if x.Abs {
		flags |= 1
	}
	if x.Neg {
		flags |= 2
	}
	if x.Memory {
		flags |= 4
	}
	return append(dst, byte(x.Type), byte(x.Swizzle), x.Offset, flags)
}

// cseHash hashes everything that determines
// the result of a pure instruction.
func cseHash(tmp []byte, i *Instr) ([]byte, uint64) {
	tmp = append(tmp[:0], byte(i.Op), byte(i.RegFmt), i.VecSize, byte(len(i.Dest)))
	for _, s := range i.Src {
		tmp = appendIndex(tmp, s)
	}
	if i.Payload != nil {
		tmp = fmt.Appendf(tmp, "%T%v", i.Payload, i.Payload)
	}
	return tmp, siphash.Hash(cseK0, cseK1, tmp)
}

func cseEqual(a, b *Instr) bool {
	if a.Op != b.Op || a.RegFmt != b.RegFmt || a.VecSize != b.VecSize ||
		len(a.Src) != len(b.Src) || len(a.Dest) != len(b.Dest) || a.Payload != b.Payload {
		return false
	}
	for k := range a.Src {
		if StripHints(a.Src[k]) != StripHints(b.Src[k]) {
			return false
		}
	}
	return true
}

func cseCandidate(i *Instr) bool {
	if !i.Op.pure() || i.Op == OpCollect {
		return false
	}
	for _, d := range i.Dest {
		if !d.IsSSA() || d.Offset != 0 || d.Memory {
			return false
		}
	}
	return true
}

// OptCSE replaces pure instructions that repeat an
// earlier instruction of the same block with the
// earlier result. It returns the number of
// instructions made redundant; OptDCE deletes them.
func OptCSE(c *Context) int {
	repl := make(map[uint32]Index)
	rewrite := func(i *Instr) {
		for s := range i.Src {
			x := i.Src[s]
			if r, ok := repl[x.Value]; ok && x.IsSSA() {
				off := x.Offset
				i.Src[s] = ReplaceIndex(x, r)
				i.Src[s].Offset += off
			}
		}
	}
	var tmp []byte
	var h uint64
	found := 0
	for _, b := range c.Blocks {
		table := make(map[uint64][]*Instr)
		for it := b.Instrs(); it.Next(); {
			i := it.Instr()
			rewrite(i)
			if !cseCandidate(i) {
				continue
			}
			tmp, h = cseHash(tmp, i)
			var match *Instr
			for _, prev := range table[h] {
				if cseEqual(prev, i) {
					match = prev
					break
				}
			}
			if match == nil {
				table[h] = append(table[h], i)
				continue
			}
			for d := range i.Dest {
				repl[i.Dest[d].Value] = match.Dest[d]
			}
			found++
		}
	}
	// uses reached through back edges
	for it := c.AllInstrs(); it.Next(); {
		rewrite(it.Instr())
	}
	return found
}
