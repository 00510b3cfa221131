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

// validator collects the warnings of one Validate call.
type validator struct {
	c     *Context
	after string
	warn  int
}

func (v *validator) warnf(f string, args ...any) {
	v.warn++
	msg := fmt.Sprintf(f, args...)
	v.c.logf("validate after %s: %s", v.after, msg)
	if v.c.Options.Debug.FatalWarnings {
		panic(fmt.Sprintf("validate after %s: %s", v.after, msg))
	}
}

// Validate checks the structural invariants of c,
// panicking when one is broken, and reports
// suspicious but legal constructs through
// Options.Logf. The warnings are fatal when
// Options.Debug.FatalWarnings is set. It returns
// false if any warning was emitted.
func Validate(c *Context, after string) bool {
	v := &validator{c: c, after: after}
	v.cfg()
	v.instrs()
	if c.ssaForm {
		v.ssa()
	}
	v.clauses()
	return v.warn == 0
}

func (v *validator) cfg() {
	for k, b := range v.c.Blocks {
		if b.Index != k {
			panic(fmt.Sprintf("%s is at position %d", b, k))
		}
		if b.Successors[0] == nil && b.Successors[1] != nil {
			panic(fmt.Sprintf("%s: successor 1 set without successor 0", b))
		}
		for _, s := range b.Succs() {
			found := false
			for _, p := range s.Predecessors {
				found = found || p == b
			}
			if !found {
				panic(fmt.Sprintf("%s -> %s has no matching predecessor edge", b, s))
			}
		}
		for _, p := range b.Predecessors {
			found := false
			for _, s := range p.Succs() {
				found = found || s == b
			}
			if !found {
				panic(fmt.Sprintf("%s lists %s as a predecessor without an edge", b, p))
			}
		}
		if k > 0 && len(b.Predecessors) == 0 && !b.Empty() {
			v.warnf("%s is unreachable", b)
		}
	}
}

func (v *validator) instrs() {
	for _, b := range v.c.Blocks {
		n := 0
		for it := b.Instrs(); it.Next(); {
			i := it.Instr()
			n++
			if i.Block() != b {
				panic(fmt.Sprintf("instruction %d is linked into %s but claims %s", i.ID, b, i.Block()))
			}
			if ns := i.Op.NumSrcs(); ns != variadic && len(i.Src) != ns {
				panic(fmt.Sprintf("%s: %d sources, want %d", i.Op, len(i.Src), ns))
			}
			if nd := i.Op.NumDests(); nd != variadic && len(i.Dest) != nd {
				panic(fmt.Sprintf("%s: %d destinations, want %d", i.Op, len(i.Dest), nd))
			}
			if i.Payload != nil && i.Payload.Kind() != i.Op.PayloadKind() {
				panic(fmt.Sprintf("%s: payload %T does not match", i.Op, i.Payload))
			}
			if i.Op.IsBranch() && i != b.Last() {
				panic(fmt.Sprintf("%s: branch is not the last instruction", b))
			}
			if i.Op == OpPhi && len(i.Src) != len(b.Predecessors) {
				v.warnf("%s: phi with %d sources in a block with %d predecessors", b, len(i.Src), len(b.Predecessors))
			}
			if !i.Op.SupportsFloatMods() && i.Op != OpMov {
				for s := range i.Src {
					if i.Src[s].Abs || i.Src[s].Neg {
						v.warnf("%s: float modifier on source %d", i.Op, s)
					}
				}
			}
			if v.c.regAllocated {
				for _, x := range i.Src {
					if x.IsSSA() {
						panic(fmt.Sprintf("%s: SSA source %s after register allocation", i.Op, x))
					}
				}
				for _, x := range i.Dest {
					if x.IsSSA() {
						panic(fmt.Sprintf("%s: SSA destination %s after register allocation", i.Op, x))
					}
					if x.IsReg() && int(x.Value) >= v.c.Options.budget() {
						v.warnf("%s writes r%d beyond the register budget", i.Op, x.Value)
					}
				}
			}
		}
		if n != b.Len() {
			panic(fmt.Sprintf("%s holds %d instructions but counts %d", b, n, b.Len()))
		}
	}
}

// ssa checks single assignment and
// that every used value is defined.
func (v *validator) ssa() {
	defined := make(map[uint32]*Instr)
	for it := v.c.AllInstrs(); it.Next(); {
		i := it.Instr()
		i.SSADests(func(_ int, x Index) {
			if prev, ok := defined[x.Value]; ok {
				panic(fmt.Sprintf("value %d defined by both %s and %s", x.Value, prev.Op, i.Op))
			}
			defined[x.Value] = i
		})
	}
	for it := v.c.AllInstrs(); it.Next(); {
		i := it.Instr()
		i.SSASrcs(func(s int, x Index) {
			if _, ok := defined[x.Value]; !ok {
				v.warnf("%s: source %d uses undefined value %s", i.Op, s, x)
			}
		})
	}
}

func (v *validator) clauses() {
	for _, b := range v.c.Blocks {
		if !b.Scheduled {
			if len(b.Clauses) > 0 {
				panic(fmt.Sprintf("%s has clauses but is not scheduled", b))
			}
			continue
		}
		n := 0
		for _, cl := range b.Clauses {
			if cl.Block() != b {
				panic(fmt.Sprintf("clause of %s claims %s", b, cl.Block()))
			}
			if err := cl.Check(); err != nil {
				panic(fmt.Sprintf("%s: %s", b, err))
			}
			if cl.Message == nil && cl.Dependencies != 0 {
				panic(fmt.Sprintf("%s: clause without a message has dependencies", b))
			}
			n += len(cl.Instrs())
		}
		if n != b.Len() {
			panic(fmt.Sprintf("%s: clauses hold %d instructions, block holds %d", b, n, b.Len()))
		}
	}
}
