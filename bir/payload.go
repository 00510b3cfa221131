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
	"strings"
)

// PayloadKind identifies the variant of an
// instruction's opcode-specific payload.
type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadRound
	PayloadCompare
	PayloadTexture
	PayloadVarying
	PayloadMemory
	PayloadAtomic
	PayloadBranch
	PayloadShift
	PayloadMux
	PayloadBarrier
)

// Payload is the opcode-specific part of an
// instruction. The set of implementations is
// closed; each opcode accepts exactly one kind.
type Payload interface {
	Kind() PayloadKind
	String() string
	isPayload()
}

type Round uint8

const (
	RoundNearest Round = iota
	RoundUp
	RoundDown
	RoundZero
)

type Clamp uint8

const (
	ClampNone Clamp = iota
	Clamp01
	ClampM1To1
	Clamp0Inf
)

// RoundMods carries rounding and result clamping.
type RoundMods struct {
	Round Round
	Clamp Clamp
}

type Cmpf uint8

const (
	CmpEq Cmpf = iota
	CmpGt
	CmpGe
	CmpNe
	CmpLt
	CmpLe
)

var cmpfNames = [...]string{"eq", "gt", "ge", "ne", "lt", "le"}

func (c Cmpf) String() string {
	if int(c) < len(cmpfNames) {
		return cmpfNames[c]
	}
	return fmt.Sprintf("cmpf%d", uint8(c))
}

// Eval applies the comparison to a and b.
func (c Cmpf) Eval(a, b int64) bool {
	switch c {
	case CmpEq:
		return a == b
	case CmpGt:
		return a > b
	case CmpGe:
		return a >= b
	case CmpNe:
		return a != b
	case CmpLt:
		return a < b
	case CmpLe:
		return a <= b
	}
	panic(fmt.Sprintf("Cmpf.Eval: invalid condition %d", uint8(c)))
}

type ResultType uint8

const (
	ResultI1 ResultType = iota // 0 or 1
	ResultF1                   // 0.0 or 1.0
	ResultM1                   // 0 or ~0
)

type CompareMods struct {
	Cmpf   Cmpf
	Result ResultType
}

type LODMode uint8

const (
	LODComputed LODMode = iota
	LODZero
	LODExplicit
)

type TextureMods struct {
	Texture, Sampler uint32
	LOD              LODMode
	// Skip disables execution in helper lanes
	Skip bool
}

// needsHelpers reports whether the texture
// operation computes derivatives.
func (t TextureMods) needsHelpers() bool { return t.LOD == LODComputed && !t.Skip }

type SampleMode uint8

const (
	SampleCenter SampleMode = iota
	SampleCentroid
	SampleSample
	SampleExplicit
)

type VaryingMods struct {
	Index  uint32
	Sample SampleMode
}

type Segment uint8

const (
	SegNone Segment = iota
	SegWLS
	SegUBO
	SegTL
	SegPos
	SegVary
)

var segmentNames = [...]string{"", "wls", "ubo", "tl", "pos", "vary"}

type MemoryMods struct {
	Seg        Segment
	ByteOffset int32
}

type AtomOp uint8

const (
	AtomAdd AtomOp = iota
	AtomMin
	AtomMax
	AtomAnd
	AtomOr
	AtomXor
	AtomXchg
)

var atomNames = [...]string{"aadd", "asmin", "asmax", "aand", "aor", "axor", "axchg"}

type AtomicMods struct {
	Op  AtomOp
	Seg Segment
}

// BranchMods holds the target of a branch.
// BRANCHZ is taken when Cmpf(src0, 0) holds.
type BranchMods struct {
	Target *Block
	Cmpf   Cmpf
}

type ShiftMods struct {
	// Not inverts the result
	Not bool
	// Lane selects a byte of the shift amount
	Lane uint8
}

type MuxMode uint8

const (
	MuxIntZero MuxMode = iota
	MuxNeg
	MuxFPZero
	MuxBit
)

type MuxMods struct {
	Mux MuxMode
}

// Barrier marks a NOP as a scheduling barrier:
// nothing is moved across it and the clause
// containing the instructions before it is closed.
type Barrier struct{}

func (RoundMods) Kind() PayloadKind   { return PayloadRound }
func (CompareMods) Kind() PayloadKind { return PayloadCompare }
func (TextureMods) Kind() PayloadKind { return PayloadTexture }
func (VaryingMods) Kind() PayloadKind { return PayloadVarying }
func (MemoryMods) Kind() PayloadKind  { return PayloadMemory }
func (AtomicMods) Kind() PayloadKind  { return PayloadAtomic }
func (*BranchMods) Kind() PayloadKind { return PayloadBranch }
func (ShiftMods) Kind() PayloadKind   { return PayloadShift }
func (MuxMods) Kind() PayloadKind     { return PayloadMux }
func (Barrier) Kind() PayloadKind     { return PayloadBarrier }

func (RoundMods) isPayload()   {}
func (CompareMods) isPayload() {}
func (TextureMods) isPayload() {}
func (VaryingMods) isPayload() {}
func (MemoryMods) isPayload()  {}
func (AtomicMods) isPayload()  {}
func (*BranchMods) isPayload() {}
func (ShiftMods) isPayload()   {}
func (MuxMods) isPayload()     {}
func (Barrier) isPayload()     {}

func (r RoundMods) String() string {
	var parts []string
	switch r.Round {
	case RoundUp:
		parts = append(parts, ".rtp")
	case RoundDown:
		parts = append(parts, ".rtn")
	case RoundZero:
		parts = append(parts, ".rtz")
	}
	switch r.Clamp {
	case Clamp01:
		parts = append(parts, ".clamp_0_1")
	case ClampM1To1:
		parts = append(parts, ".clamp_m1_1")
	case Clamp0Inf:
		parts = append(parts, ".clamp_0_inf")
	}
	return strings.Join(parts, "")
}

func (c CompareMods) String() string {
	s := "." + c.Cmpf.String()
	switch c.Result {
	case ResultF1:
		s += ".f1"
	case ResultM1:
		s += ".m1"
	}
	return s
}

func (t TextureMods) String() string {
	s := fmt.Sprintf(" texture:%d sampler:%d", t.Texture, t.Sampler)
	switch t.LOD {
	case LODZero:
		s += " lod_zero"
	case LODExplicit:
		s += " lod_explicit"
	}
	if t.Skip {
		s += " skip"
	}
	return s
}

func (v VaryingMods) String() string {
	s := fmt.Sprintf(" index:%d", v.Index)
	switch v.Sample {
	case SampleCentroid:
		s += " centroid"
	case SampleSample:
		s += " sample"
	case SampleExplicit:
		s += " explicit"
	}
	return s
}

func (m MemoryMods) String() string {
	s := ""
	if m.Seg != SegNone {
		s = "." + segmentNames[m.Seg]
	}
	if m.ByteOffset != 0 {
		s += fmt.Sprintf(" byte_offset:%d", m.ByteOffset)
	}
	return s
}

func (a AtomicMods) String() string {
	s := "." + atomNames[a.Op]
	if a.Seg != SegNone {
		s += "." + segmentNames[a.Seg]
	}
	return s
}

func (b *BranchMods) String() string {
	s := ""
	if b.Cmpf != CmpEq {
		s = "." + b.Cmpf.String()
	}
	if b.Target != nil {
		s += fmt.Sprintf(" -> block%d", b.Target.Index)
	}
	return s
}

func (s ShiftMods) String() string {
	str := ""
	if s.Not {
		str = ".not_result"
	}
	if s.Lane != 0 {
		str += fmt.Sprintf(".b%d", s.Lane)
	}
	return str
}

func (m MuxMods) String() string {
	switch m.Mux {
	case MuxNeg:
		return ".neg"
	case MuxFPZero:
		return ".fp_zero"
	case MuxBit:
		return ".bit"
	}
	return ".int_zero"
}

func (Barrier) String() string { return " barrier" }
