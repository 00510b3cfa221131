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
	"io"
	"strings"
)

// The text produced by the Print functions
// is for debugging only; the format is not
// stable.

func printOperands(w io.Writer, list []Index) {
	for k := range list {
		if k > 0 {
			io.WriteString(w, ", ")
		}
		io.WriteString(w, list[k].String())
	}
}

// PrintInstr writes a single-line rendering of i.
func PrintInstr(w io.Writer, i *Instr) {
	if len(i.Dest) > 0 {
		printOperands(w, i.Dest)
		io.WriteString(w, " = ")
	}
	io.WriteString(w, i.Op.String())
	if i.Payload != nil {
		io.WriteString(w, i.Payload.String())
	}
	if i.VecSize > 1 {
		fmt.Fprintf(w, ".v%d", i.VecSize)
	}
	if len(i.Src) > 0 {
		io.WriteString(w, " ")
		printOperands(w, i.Src)
	}
	if i.NoSpill {
		io.WriteString(w, " no_spill")
	}
	io.WriteString(w, "\n")
}

// PrintSlots writes the register block of a tuple.
func PrintSlots(w io.Writer, r *Registers) {
	var parts []string
	for k := 0; k < 2; k++ {
		if r.Enabled[k] {
			parts = append(parts, fmt.Sprintf("slot%d = r%d", k, r.Slot[k]))
		}
	}
	switch {
	case r.Slot2Read:
		parts = append(parts, fmt.Sprintf("slot2 = r%d", r.Slot[2]))
	case r.Slot2Write:
		parts = append(parts, fmt.Sprintf("slot2 = r%d (write)", r.Slot[2]))
	}
	if r.Slot3Write {
		parts = append(parts, fmt.Sprintf("slot3 = r%d (write)", r.Slot[3]))
	}
	fmt.Fprintf(w, "{%s}\n", strings.Join(parts, ", "))
}

// PrintTuple writes both instructions of t
// and its register block.
func PrintTuple(w io.Writer, t *Tuple, prefix string) {
	io.WriteString(w, prefix)
	PrintSlots(w, &t.Regs)
	for k, i := range [2]*Instr{t.FMA, t.ADD} {
		unit := "*"
		if k == 1 {
			unit = "+"
		}
		io.WriteString(w, prefix)
		io.WriteString(w, unit)
		if i == nil {
			io.WriteString(w, "NOP\n")
			continue
		}
		PrintInstr(w, i)
	}
	if t.UseFAU {
		fmt.Fprintf(w, "%sfau: %s\n", prefix, FAU(t.FAUIdx, false))
	}
}

// PrintClause writes the header, tuples
// and constants of c.
func PrintClause(w io.Writer, c *Clause, prefix string) {
	fmt.Fprintf(w, "%sclause id:%d", prefix, c.ScoreboardID)
	if c.Dependencies != 0 {
		io.WriteString(w, " wait(")
		sep := ""
		for k := 0; k < ScoreboardSlots; k++ {
			if c.Dependencies&(1<<k) != 0 {
				fmt.Fprintf(w, "%s%d", sep, k)
				sep = " "
			}
		}
		io.WriteString(w, ")")
	}
	if c.FlowControl != FlowNone {
		fmt.Fprintf(w, " flow:%s", c.FlowControl)
	}
	if c.Message != nil {
		fmt.Fprintf(w, " message:%s", c.MessageType)
		if c.Message.ReadsStaging(0) || c.Message.WritesStaging() {
			fmt.Fprintf(w, " staging:r%d", c.StagingRegister)
		}
	}
	if c.StagingBarrier {
		io.WriteString(w, " staging_barrier")
	}
	if c.TD {
		io.WriteString(w, " td")
	}
	if c.FTZ {
		io.WriteString(w, " ftz")
	}
	if c.NextClausePrefetch {
		io.WriteString(w, " ncph")
	}
	io.WriteString(w, "\n")
	inner := prefix + "    "
	for k := range c.Tuples {
		PrintTuple(w, &c.Tuples[k], inner)
	}
	for k, v := range c.Constants {
		pcrel := ""
		if c.BranchConstant && k == c.PCRelIdx {
			pcrel = " (pcrel)"
		}
		fmt.Fprintf(w, "%sconst%d = 0x%016x%s\n", inner, k, v, pcrel)
	}
}

// PrintBlock writes b, as clauses once it
// has been scheduled and as an instruction
// list before.
func PrintBlock(w io.Writer, b *Block) {
	fmt.Fprintf(w, "%s", b)
	if b.LoopHeader {
		io.WriteString(w, " loop")
	}
	if preds := b.Preds(); len(preds) > 0 {
		io.WriteString(w, " from")
		for _, p := range preds {
			fmt.Fprintf(w, " %s", p)
		}
	}
	io.WriteString(w, " {\n")
	if b.Scheduled {
		for _, c := range b.Clauses {
			PrintClause(w, c, "    ")
		}
	} else {
		for it := b.Instrs(); it.Next(); {
			io.WriteString(w, "    ")
			PrintInstr(w, it.Instr())
		}
	}
	io.WriteString(w, "}")
	if succs := b.Succs(); len(succs) > 0 {
		io.WriteString(w, " ->")
		for _, s := range succs {
			fmt.Fprintf(w, " %s", s)
		}
	}
	io.WriteString(w, "\n\n")
}

// PrintShader writes every block of c.
func PrintShader(w io.Writer, c *Context) {
	fmt.Fprintf(w, "%s shader %q\n", c.Stage, c.Name)
	for _, b := range c.Blocks {
		PrintBlock(w, b)
	}
}
