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

// Package shaderfile reads shaders described in YAML
// and builds them into compile contexts.
//
// A shader file names its stage, optional compile
// options and a list of blocks. Each block holds a
// list of instructions whose operands are SSA value
// names, immediates or pushed uniforms:
//
//	name: sum
//	stage: compute
//	options:
//	  register_budget: 8
//	blocks:
//	  - name: entry
//	    instrs:
//	      - {op: IADD.i32, dest: [x], src: ["#1", "#2"]}
//	      - {op: STORE.i32, src: [x, "#0x40", "#0"], seg: wls}
//
// Blocks fall through to the next block unless they
// end in a JUMP. A branch adds its edge before the
// fall-through edge, so the predecessors of a block
// (and the sources of its phis) are ordered by the
// position of the predecessor in the file.
package shaderfile

import (
	"fmt"
	"os"

	"github.com/SnellerInc/bifrost/bir"

	"sigs.k8s.io/yaml"
)

// File is the decoded form of a shader file.
type File struct {
	Name    string      `json:"name"`
	Stage   string      `json:"stage"`
	Options bir.Options `json:"options,omitempty"`
	Blocks  []Block     `json:"blocks"`
}

type Block struct {
	Name   string  `json:"name"`
	Instrs []Instr `json:"instrs,omitempty"`
}

// Instr is one instruction. Only the payload
// fields of the opcode's payload kind are used.
type Instr struct {
	Op   string   `json:"op"`
	Dest []string `json:"dest,omitempty"`
	Src  []string `json:"src,omitempty"`
	// Vec is the number of words moved
	// through the staging registers
	Vec int `json:"vec,omitempty"`

	Round   string `json:"round,omitempty"`
	Clamp   string `json:"clamp,omitempty"`
	Cmp     string `json:"cmp,omitempty"`
	Result  string `json:"result,omitempty"`
	Seg     string `json:"seg,omitempty"`
	Offset  int32  `json:"offset,omitempty"`
	Texture uint32 `json:"texture,omitempty"`
	Sampler uint32 `json:"sampler,omitempty"`
	LOD     string `json:"lod,omitempty"`
	Skip    bool   `json:"skip,omitempty"`
	Index   uint32 `json:"index,omitempty"`
	Sample  string `json:"sample,omitempty"`
	Atom    string `json:"atom,omitempty"`
	Not     bool   `json:"not,omitempty"`
	Lane    uint8  `json:"lane,omitempty"`
	Mux     string `json:"mux,omitempty"`
	Target  string `json:"target,omitempty"`
	Barrier bool   `json:"barrier,omitempty"`
}

// Parse decodes a shader file. Unknown fields are
// rejected. Options not named in the file keep
// their bir.DefaultOptions values.
func Parse(src []byte) (*File, error) {
	f := &File{Options: bir.DefaultOptions()}
	if err := yaml.UnmarshalStrict(src, f); err != nil {
		return nil, fmt.Errorf("%w: %s", bir.ErrInvalid, err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("%w: shader has no name", bir.ErrInvalid)
	}
	return f, nil
}

// Load reads and parses the shader file at path.
func Load(path string) (*File, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

type builder struct {
	c      *bir.Context
	blocks map[string]*bir.Block
	values map[string]bir.Index
}

func (b *builder) errorf(blk *Block, n int, f string, args ...any) error {
	return fmt.Errorf("%w: block %q instruction %d: %s", bir.ErrInvalid, blk.Name, n, fmt.Sprintf(f, args...))
}

// Build constructs a compile context holding the
// shader described by f. It reports malformed
// shaders as errors wrapping bir.ErrInvalid.
func (f *File) Build() (*bir.Context, error) {
	stage, err := bir.ParseStage(f.Stage)
	if err != nil {
		return nil, err
	}
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("%w: shader %q has no blocks", bir.ErrInvalid, f.Name)
	}
	b := &builder{
		c:      bir.NewContext(f.Name, stage, f.Options),
		blocks: make(map[string]*bir.Block),
		values: make(map[string]bir.Index),
	}
	for k := range f.Blocks {
		blk := &f.Blocks[k]
		if _, dup := b.blocks[blk.Name]; dup || blk.Name == "" {
			return nil, fmt.Errorf("%w: bad or duplicate block name %q", bir.ErrInvalid, blk.Name)
		}
		b.blocks[blk.Name] = b.c.NewBlock()
	}
	// values may be used before the definition
	// in program order (phis on back edges)
	for k := range f.Blocks {
		blk := &f.Blocks[k]
		for n := range blk.Instrs {
			for _, d := range blk.Instrs[n].Dest {
				if !validName(d) {
					return nil, b.errorf(blk, n, "bad destination %q", d)
				}
				if _, dup := b.values[d]; dup {
					return nil, b.errorf(blk, n, "%s defined twice", d)
				}
				b.values[d] = b.c.Temp()
			}
		}
	}
	for k := range f.Blocks {
		if err := b.block(&f.Blocks[k]); err != nil {
			return nil, err
		}
		cur := b.blocks[f.Blocks[k].Name]
		if k+1 < len(f.Blocks) && !cur.UnconditionalJumps {
			cur.AddSuccessor(b.blocks[f.Blocks[k+1].Name])
		}
	}
	for _, blk := range b.c.Blocks {
		for _, i := range blk.InstrList() {
			if i.Op == bir.OpPhi && len(i.Src) != len(blk.Predecessors) {
				return nil, fmt.Errorf("%w: %s: phi with %d sources in a block with %d predecessors",
					bir.ErrInvalid, blk, len(i.Src), len(blk.Predecessors))
			}
		}
	}
	return b.c, nil
}

func (b *builder) block(blk *Block) error {
	cur := b.blocks[blk.Name]
	bld := bir.NewBuilder(b.c, bir.AfterBlock(cur))
	for n := range blk.Instrs {
		in := &blk.Instrs[n]
		op, ok := bir.LookupOp(in.Op)
		if !ok {
			return b.errorf(blk, n, "unknown opcode %q", in.Op)
		}
		if op.IsBranch() && n != len(blk.Instrs)-1 {
			return b.errorf(blk, n, "%s is not the last instruction", op)
		}
		if want := op.NumSrcs(); want >= 0 && len(in.Src) != want {
			return b.errorf(blk, n, "%s takes %d sources, have %d", op, want, len(in.Src))
		}
		if want := op.NumDests(); len(in.Dest) != want {
			return b.errorf(blk, n, "%s takes %d destinations, have %d", op, want, len(in.Dest))
		}
		if in.Vec < 0 || in.Vec > 8 {
			return b.errorf(blk, n, "vector size %d out of range", in.Vec)
		}
		srcs := make([]bir.Index, len(in.Src))
		for s, text := range in.Src {
			x, err := b.operand(text)
			if err != nil {
				return b.errorf(blk, n, "source %d: %s", s, err)
			}
			srcs[s] = x
		}
		dests := make([]bir.Index, len(in.Dest))
		for d, name := range in.Dest {
			dests[d] = b.values[name]
		}
		p, target, err := b.payload(op, in)
		if err != nil {
			return b.errorf(blk, n, "%s", err)
		}
		i := bld.Emit(op, dests, srcs, p)
		i.VecSize = uint8(in.Vec)
		if target != nil {
			cur.AddSuccessor(target)
			if op == bir.OpJump {
				cur.UnconditionalJumps = true
			}
		}
	}
	return nil
}
