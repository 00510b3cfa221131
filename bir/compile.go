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
	"bytes"
	"fmt"
)

// Program is a compiled shader: the clause
// stream of every block plus the metadata the
// driver needs to run it.
type Program struct {
	Name   string
	Stage  Stage
	Blocks []*Block
	Info   Info

	LoopCount int
	Spills    int
	Fills     int

	ctx *Context
}

// Clauses returns every clause in layout order.
func (p *Program) Clauses() []*Clause {
	var out []*Clause
	for _, b := range p.Blocks {
		out = append(out, b.Clauses...)
	}
	return out
}

// Text returns the debug rendering of p.
func (p *Program) Text() []byte {
	var buf bytes.Buffer
	PrintShader(&buf, p.ctx)
	fmt.Fprintf(&buf, "work_regs:%d tls:%d loops:%d spills:%d fills:%d clauses:%d tuples:%d instrs:%d nops:%d\n",
		p.Info.WorkRegCount, p.Info.TLSSize, p.LoopCount, p.Spills, p.Fills,
		p.Info.Stats.Clauses, p.Info.Stats.Tuples, p.Info.Stats.Instrs, p.Info.Stats.Nops)
	return buf.Bytes()
}

// stage-restricted messages
var stageOnly = map[Op]Stage{
	OpLdVar:   StageFragment,
	OpATest:   StageFragment,
	OpBlend:   StageFragment,
	OpDiscard: StageFragment,
	OpBarrier: StageCompute,
}

// checkInput rejects shaders that Compile
// cannot accept, as opposed to broken
// invariants, which panic.
func checkInput(c *Context) error {
	if len(c.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrInvalid)
	}
	if c.regAllocated || !c.ssaForm {
		return fmt.Errorf("%w: shader was already compiled", ErrInvalid)
	}
	for it := c.AllInstrs(); it.Next(); {
		i := it.Instr()
		if st, ok := stageOnly[i.Op]; ok && st != c.Stage {
			return fmt.Errorf("%w: %s in a %s shader", ErrInvalid, i.Op, c.Stage)
		}
		for _, x := range i.Src {
			if x.IsReg() {
				return fmt.Errorf("%w: %s reads register %s before allocation", ErrInvalid, i.Op, x)
			}
		}
		for _, x := range i.Dest {
			if x.IsReg() {
				return fmt.Errorf("%w: %s writes register %s before allocation", ErrInvalid, i.Op, x)
			}
			if x.Type == IndexConstant || x.Type == IndexFAU || x.Type == IndexPass {
				return fmt.Errorf("%w: %s writes to %s", ErrInvalid, i.Op, x)
			}
		}
	}
	return nil
}

func (c *Context) validate(after string) {
	if c.Options.Debug.Validate {
		Validate(c, after)
	}
}

func (c *Context) computeStats() {
	var s Stats
	for _, b := range c.Blocks {
		for _, cl := range b.Clauses {
			s.Clauses++
			s.Waits += waitCount(cl)
			for k := range cl.Tuples {
				t := &cl.Tuples[k]
				s.Tuples++
				for _, i := range [2]*Instr{t.FMA, t.ADD} {
					if i == nil || i.Op == OpNop {
						s.Nops++
					} else {
						s.Instrs++
					}
				}
			}
		}
	}
	c.Info.Stats = s
}

// Compile runs the backend over c and returns the
// scheduled program. Failures are returned as a
// *CompileError wrapping ErrInvalid, ErrRegisterPressure,
// ErrSpillSpace or ErrScheduleFailed. A context can
// be compiled only once.
func Compile(c *Context) (*Program, error) {
	fail := func(err error) (*Program, error) {
		return nil, &CompileError{Shader: c.Name, Stage: c.Stage, Err: err}
	}
	if err := checkInput(c); err != nil {
		return fail(err)
	}
	c.validate("input")
	if c.Options.Optimize {
		OptCopyProp(c)
		OptModPropForward(c)
		n := OptCSE(c)
		n += OptDCE(c)
		c.logf("%s: optimizations removed %d instructions", c.Name, n)
		c.validate("optimization")
	}
	if n := LowerConstants(c); n > 0 {
		c.logf("%s: moved %d constants into registers", c.Name, n)
	}
	c.findLoops()
	ComputeLivenessSSA(c)
	if err := RegisterAllocate(c); err != nil {
		return fail(err)
	}
	if c.Spills > 0 {
		c.logf("%s: spilled with %d stores and %d loads, %d bytes of TLS", c.Name, c.Spills, c.Fills, c.Info.TLSSize)
	}
	c.validate("register allocation")
	if c.Options.Optimize {
		OptDCEPostRA(c)
	}
	if err := Schedule(c); err != nil {
		return fail(err)
	}
	AssignScoreboard(c)
	Layout(c)
	PostRALiveness(c)
	c.computeStats()
	c.validate("scheduling")
	return &Program{
		Name:      c.Name,
		Stage:     c.Stage,
		Blocks:    c.Blocks,
		Info:      c.Info,
		LoopCount: c.LoopCount,
		Spills:    c.Spills,
		Fills:     c.Fills,
		ctx:       c,
	}, nil
}
