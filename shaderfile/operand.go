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

package shaderfile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/SnellerInc/bifrost/bir"
)

func validName(s string) bool {
	if s == "" {
		return false
	}
	for k, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && k > 0:
		default:
			return false
		}
	}
	return true
}

// operand parses one source operand:
//
//	x       SSA value x
//	x.w2    word 2 of vector value x
//	x.h1    upper half of x, replicated
//	x.b3    byte 3 of x, replicated
//	#12     immediate (also #0x1f and #-3)
//	#1.5f   32-bit float immediate
//	u0[8]   pushed uniform at byte 8 of buffer 0
//	-x |x|  float negate and absolute value
func (b *builder) operand(text string) (bir.Index, error) {
	s := strings.TrimSpace(text)
	neg, abs := false, false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if strings.HasPrefix(s, "|") && strings.HasSuffix(s, "|") && len(s) > 2 {
		abs = true
		s = s[1 : len(s)-1]
	}
	x, err := b.base(s)
	if err != nil {
		return bir.Index{}, err
	}
	if abs {
		x = x.WithAbs()
	}
	if neg {
		x = x.Negate()
	}
	return x, nil
}

func (b *builder) base(s string) (bir.Index, error) {
	switch {
	case strings.HasPrefix(s, "#"):
		return immediate(s[1:])
	case strings.HasPrefix(s, "u") && strings.HasSuffix(s, "]"):
		ubo, off, ok := strings.Cut(s[1:len(s)-1], "[")
		if !ok {
			break
		}
		u, err1 := strconv.ParseUint(ubo, 10, 32)
		o, err2 := strconv.ParseUint(off, 0, 32)
		if err1 != nil || err2 != nil || o%4 != 0 {
			return bir.Index{}, fmt.Errorf("bad uniform %q", s)
		}
		return b.c.PushUniform(uint32(u), uint32(o)), nil
	}
	name, sel, _ := strings.Cut(s, ".")
	x, ok := b.values[name]
	if !ok {
		return bir.Index{}, fmt.Errorf("undefined value %q", name)
	}
	if sel == "" {
		return x, nil
	}
	if len(sel) != 2 {
		return bir.Index{}, fmt.Errorf("bad selector %q", sel)
	}
	n := int(sel[1] - '0')
	switch {
	case sel[0] == 'w' && n >= 0 && n <= 7:
		return x.Word(n), nil
	case sel[0] == 'h' && (n == 0 || n == 1):
		return x.Half(n == 1), nil
	case sel[0] == 'b' && n >= 0 && n <= 3:
		return x.Byte(n), nil
	}
	return bir.Index{}, fmt.Errorf("bad selector %q", sel)
}

func immediate(s string) (bir.Index, error) {
	if f, ok := strings.CutSuffix(s, "f"); ok && !strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return bir.Index{}, fmt.Errorf("bad float immediate %q", s)
		}
		return bir.ImmF32(float32(v)), nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil || v < math.MinInt32 || v > math.MaxUint32 {
		return bir.Index{}, fmt.Errorf("bad immediate %q", s)
	}
	return bir.ImmU32(uint32(v)), nil
}

var (
	rounds  = map[string]bir.Round{"": bir.RoundNearest, "rte": bir.RoundNearest, "rtp": bir.RoundUp, "rtn": bir.RoundDown, "rtz": bir.RoundZero}
	clamps  = map[string]bir.Clamp{"": bir.ClampNone, "clamp_0_1": bir.Clamp01, "clamp_m1_1": bir.ClampM1To1, "clamp_0_inf": bir.Clamp0Inf}
	cmps    = map[string]bir.Cmpf{"": bir.CmpEq, "eq": bir.CmpEq, "gt": bir.CmpGt, "ge": bir.CmpGe, "ne": bir.CmpNe, "lt": bir.CmpLt, "le": bir.CmpLe}
	results = map[string]bir.ResultType{"": bir.ResultI1, "i1": bir.ResultI1, "f1": bir.ResultF1, "m1": bir.ResultM1}
	segs    = map[string]bir.Segment{"": bir.SegNone, "wls": bir.SegWLS, "ubo": bir.SegUBO, "tl": bir.SegTL, "pos": bir.SegPos, "vary": bir.SegVary}
	lods    = map[string]bir.LODMode{"": bir.LODComputed, "computed": bir.LODComputed, "zero": bir.LODZero, "explicit": bir.LODExplicit}
	samples = map[string]bir.SampleMode{"": bir.SampleCenter, "center": bir.SampleCenter, "centroid": bir.SampleCentroid, "sample": bir.SampleSample, "explicit": bir.SampleExplicit}
	atoms   = map[string]bir.AtomOp{"aadd": bir.AtomAdd, "asmin": bir.AtomMin, "asmax": bir.AtomMax, "aand": bir.AtomAnd, "aor": bir.AtomOr, "axor": bir.AtomXor, "axchg": bir.AtomXchg}
	muxes   = map[string]bir.MuxMode{"": bir.MuxIntZero, "int_zero": bir.MuxIntZero, "neg": bir.MuxNeg, "fp_zero": bir.MuxFPZero, "bit": bir.MuxBit}
)

func lookup[T any](table map[string]T, what, s string) (T, error) {
	v, ok := table[s]
	if !ok {
		return v, fmt.Errorf("unknown %s %q", what, s)
	}
	return v, nil
}

// payload builds the payload of op from the fields of in.
// The target of a branch is returned separately.
func (b *builder) payload(op bir.Op, in *Instr) (bir.Payload, *bir.Block, error) {
	var err error
	pick := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	switch op.PayloadKind() {
	case bir.PayloadRound:
		var m bir.RoundMods
		pick(func() (e error) { m.Round, e = lookup(rounds, "rounding mode", in.Round); return })
		pick(func() (e error) { m.Clamp, e = lookup(clamps, "clamp", in.Clamp); return })
		return m, nil, err
	case bir.PayloadCompare:
		var m bir.CompareMods
		pick(func() (e error) { m.Cmpf, e = lookup(cmps, "comparison", in.Cmp); return })
		pick(func() (e error) { m.Result, e = lookup(results, "result type", in.Result); return })
		return m, nil, err
	case bir.PayloadTexture:
		m := bir.TextureMods{Texture: in.Texture, Sampler: in.Sampler, Skip: in.Skip}
		m.LOD, err = lookup(lods, "LOD mode", in.LOD)
		return m, nil, err
	case bir.PayloadVarying:
		m := bir.VaryingMods{Index: in.Index}
		m.Sample, err = lookup(samples, "sample mode", in.Sample)
		return m, nil, err
	case bir.PayloadMemory:
		m := bir.MemoryMods{ByteOffset: in.Offset}
		m.Seg, err = lookup(segs, "segment", in.Seg)
		return m, nil, err
	case bir.PayloadAtomic:
		var m bir.AtomicMods
		pick(func() (e error) { m.Op, e = lookup(atoms, "atomic operation", in.Atom); return })
		pick(func() (e error) { m.Seg, e = lookup(segs, "segment", in.Seg); return })
		return m, nil, err
	case bir.PayloadBranch:
		target, ok := b.blocks[in.Target]
		if !ok {
			return nil, nil, fmt.Errorf("unknown branch target %q", in.Target)
		}
		m := &bir.BranchMods{Target: target}
		m.Cmpf, err = lookup(cmps, "comparison", in.Cmp)
		return m, target, err
	case bir.PayloadShift:
		return bir.ShiftMods{Not: in.Not, Lane: in.Lane}, nil, nil
	case bir.PayloadMux:
		m := bir.MuxMods{}
		m.Mux, err = lookup(muxes, "mux mode", in.Mux)
		return m, nil, err
	case bir.PayloadBarrier:
		if in.Barrier {
			return bir.Barrier{}, nil, nil
		}
	}
	return nil, nil, nil
}
