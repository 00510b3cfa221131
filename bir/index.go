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
	"math"
	"strings"
)

// MaxRegs is the number of general-purpose
// registers in the register file.
const MaxRegs = 64

// IndexType is the kind of value referenced by an Index.
type IndexType uint8

const (
	IndexNull IndexType = iota
	IndexNormal
	IndexRegister
	IndexConstant
	IndexPass
	IndexFAU
)

func (t IndexType) String() string {
	switch t {
	case IndexNull:
		return "null"
	case IndexNormal:
		return "ssa"
	case IndexRegister:
		return "reg"
	case IndexConstant:
		return "imm"
	case IndexPass:
		return "pass"
	case IndexFAU:
		return "fau"
	}
	return fmt.Sprintf("IndexType(%d)", uint8(t))
}

// PackedSrc names a tuple-local source port
// readable through a passthrough index.
type PackedSrc uint32

const (
	SrcPort0 PackedSrc = iota
	SrcPort1
	SrcPort2
	SrcStage
	SrcFAULo
	SrcFAUHi
	SrcPassFMA
	SrcPassADD
)

var packedSrcNames = [...]string{
	SrcPort0:   "port0",
	SrcPort1:   "port1",
	SrcPort2:   "port2",
	SrcStage:   "stage",
	SrcFAULo:   "fau.x",
	SrcFAUHi:   "fau.y",
	SrcPassFMA: "t0",
	SrcPassADD: "t1",
}

// FAUValue selects a fast-access uniform:
// either a special hardware value, a pushed
// uniform (FAUUniform|slot) or an embedded
// constant (FAUImmediate|slot).
type FAUValue uint32

const (
	FAUZero           FAUValue = 0
	FAULaneID         FAUValue = 1
	FAUWarpID         FAUValue = 2
	FAUCoreID         FAUValue = 3
	FAUFBExtent       FAUValue = 4
	FAUAtestParam     FAUValue = 5
	FAUSamplePosArray FAUValue = 6
	FAUBlend0         FAUValue = 8
	// blend descriptors 1 through 7 follow FAUBlend0
	FAUTLSPtr         FAUValue = 16
	FAUWLSPtr         FAUValue = 17
	FAUProgramCounter FAUValue = 18

	FAUUniform   FAUValue = 1 << 7
	FAUImmediate FAUValue = 1 << 8
)

var fauNames = map[FAUValue]string{
	FAUZero:           "zero",
	FAULaneID:         "lane_id",
	FAUWarpID:         "warp_id",
	FAUCoreID:         "core_id",
	FAUFBExtent:       "fb_extent",
	FAUAtestParam:     "atest_param",
	FAUSamplePosArray: "sample_positions",
	FAUTLSPtr:         "tls_ptr",
	FAUWLSPtr:         "wls_ptr",
	FAUProgramCounter: "pc",
}

// RAClass is a register allocation class.
type RAClass uint8

const (
	ClassGPR RAClass = iota
	ClassMem
)

func (c RAClass) String() string {
	if c == ClassMem {
		return "mem"
	}
	return "gpr"
}

// Index is an instruction operand. It is a small
// value type; the zero Index is the null index.
type Index struct {
	Value uint32
	Type  IndexType

	Abs, Neg bool
	// Swizzle applies to the 32-bit word selected by Offset
	Swizzle Swizzle
	// Offset selects a word of a vector value (3 bits)
	Offset uint8

	// Discard is a register cache hint set
	// on the last read of a register
	Discard bool
	// KillSSA is set on the last use of an SSA value
	KillSSA bool
	// Memory places an SSA value in the
	// spill memory class instead of registers
	Memory bool
}

// Null returns the null index, which is also the zero Index.
func Null() Index { return Index{} }

// SSA returns an index referencing SSA value v.
func SSA(v uint32) Index {
	return Index{Value: v, Type: IndexNormal, Swizzle: SwizzleH01}
}

// Register returns an index referencing physical register r.
func Register(r uint32) Index {
	if r >= MaxRegs {
		panic(fmt.Sprintf("bir.Register: register r%d out of range", r))
	}
	return Index{Value: r, Type: IndexRegister, Swizzle: SwizzleH01}
}

func ImmU32(v uint32) Index {
	return Index{Value: v, Type: IndexConstant, Swizzle: SwizzleH01}
}

func ImmF32(f float32) Index { return ImmU32(math.Float32bits(f)) }

// ImmU16 returns a 16-bit immediate replicated
// into both halves of the word.
func ImmU16(v uint16) Index { return ImmU32(uint32(v) | uint32(v)<<16) }

func ImmU8(v uint8) Index { return ImmU32(uint32(v) * 0x01010101) }

// ImmF16 returns f as a replicated half-precision immediate.
func ImmF16(f float32) Index { return ImmU16(f32ToF16(f)) }

// ImmUintN returns v as an immediate of the given
// bit size, replicated to fill 32 bits.
func ImmUintN(v uint32, bits int) Index {
	switch bits {
	case 8:
		return ImmU8(uint8(v))
	case 16:
		return ImmU16(uint16(v))
	case 32:
		return ImmU32(v)
	}
	panic(fmt.Sprintf("ImmUintN: invalid bit size %d", bits))
}

func Zero() Index { return ImmU32(0) }

func NegZero() Index { return Zero().Negate() }

// Passthrough returns an index reading a tuple-local port.
func Passthrough(s PackedSrc) Index {
	return Index{Value: uint32(s), Type: IndexPass, Swizzle: SwizzleH01}
}

// FAU returns an index reading half hi of the
// 64-bit fast-access uniform v.
func FAU(v FAUValue, hi bool) Index {
	off := uint8(0)
	if hi {
		off = 1
	}
	return Index{Value: uint32(v), Type: IndexFAU, Offset: off, Swizzle: SwizzleH01}
}

// Swz16 returns x with the 16-bit swizzle selecting
// half lo for the low lane and hi for the high lane.
func (x Index) Swz16(lo, hi bool) Index {
	s := SwizzleH00
	if lo {
		s = SwizzleH10
	}
	if hi {
		s++
	}
	x.Swizzle = s
	return x
}

// Half replicates one half of x.
func (x Index) Half(upper bool) Index { return x.Swz16(upper, upper) }

// Byte replicates byte b (0..3) of x.
func (x Index) Byte(b int) Index {
	if b < 0 || b > 3 {
		panic(fmt.Sprintf("Index.Byte: byte %d out of range", b))
	}
	x.Swizzle = SwizzleB0000 + Swizzle(b)
	return x
}

// Word selects word w of a vector index.
func (x Index) Word(w int) Index {
	if w < 0 || int(x.Offset)+w > 7 {
		panic(fmt.Sprintf("Index.Word: word %d out of range at offset %d", w, x.Offset))
	}
	x.Offset += uint8(w)
	return x
}

// WithAbs returns x with the absolute value modifier
// set, which also clears negation.
func (x Index) WithAbs() Index {
	x.Abs = true
	x.Neg = false
	return x
}

// Negate toggles the negation modifier.
func (x Index) Negate() Index {
	x.Neg = !x.Neg
	return x
}

func (x Index) WithDiscard() Index {
	x.Discard = true
	return x
}

func (x Index) IsNull() bool { return x.Type == IndexNull }
func (x Index) IsSSA() bool  { return x.Type == IndexNormal }
func (x Index) IsReg() bool  { return x.Type == IndexRegister }

// IsZero reports whether x is the unmodified constant zero.
func (x Index) IsZero() bool {
	return x.Type == IndexConstant && x.Value == 0 && !x.Neg
}

// Equiv reports whether x and y name the same value.
func Equiv(x, y Index) bool {
	return x.Type == y.Type && x.Value == y.Value
}

// WordEquiv is Equiv restricted to the same word of a vector.
func WordEquiv(x, y Index) bool {
	return Equiv(x, y) && x.Offset == y.Offset
}

// ValueEquiv reports whether x and y evaluate
// to the same value. Constants compare by their
// swizzled bits and modifiers; other indices must
// match in every field besides the hint flags.
func ValueEquiv(x, y Index) bool {
	if x.Type == IndexConstant && y.Type == IndexConstant {
		return ApplySwizzle(x.Value, x.Swizzle) == ApplySwizzle(y.Value, y.Swizzle) &&
			x.Abs == y.Abs && x.Neg == y.Neg
	}
	return StripHints(x) == StripHints(y)
}

// StripHints clears the hint flags, which
// do not participate in value identity.
func StripHints(x Index) Index {
	x.Discard = false
	x.KillSSA = false
	return x
}

// ReplaceIndex returns repl carrying the
// modifiers of old. The Discard hint is cleared.
func ReplaceIndex(old, repl Index) Index {
	repl.Abs = old.Abs
	repl.Neg = old.Neg
	repl.Swizzle = old.Swizzle
	repl.Discard = false
	return repl
}

// StripIndex returns x without its modifiers.
func StripIndex(x Index) Index {
	x.Abs = false
	x.Neg = false
	x.Swizzle = SwizzleH01
	return x
}

// ClassOf returns the register class of x.
func ClassOf(x Index) RAClass {
	if x.Memory {
		return ClassMem
	}
	return ClassGPR
}

func (x Index) String() string {
	var sb strings.Builder
	if x.Discard {
		sb.WriteByte('`')
	}
	switch x.Type {
	case IndexNull:
		return "_"
	case IndexNormal:
		if x.Memory {
			fmt.Fprintf(&sb, "m%d", x.Value)
		} else {
			fmt.Fprintf(&sb, "%d", x.Value)
		}
	case IndexRegister:
		fmt.Fprintf(&sb, "r%d", x.Value)
	case IndexConstant:
		fmt.Fprintf(&sb, "#0x%x", x.Value)
	case IndexPass:
		if int(x.Value) < len(packedSrcNames) {
			sb.WriteString(packedSrcNames[x.Value])
		} else {
			fmt.Fprintf(&sb, "pass%d", x.Value)
		}
	case IndexFAU:
		v := FAUValue(x.Value)
		switch {
		case v&FAUImmediate != 0:
			fmt.Fprintf(&sb, "const%d", v&^FAUImmediate)
		case v&FAUUniform != 0:
			fmt.Fprintf(&sb, "u%d", v&^FAUUniform)
		case fauNames[v] != "":
			sb.WriteString(fauNames[v])
		case v >= FAUBlend0 && v < FAUBlend0+8:
			fmt.Fprintf(&sb, "blend_descriptor_%d", v-FAUBlend0)
		default:
			fmt.Fprintf(&sb, "fau%d", v)
		}
		if x.Offset != 0 {
			sb.WriteString(".w1")
		} else {
			sb.WriteString(".w0")
		}
	}
	if x.Offset != 0 && x.Type != IndexFAU {
		fmt.Fprintf(&sb, "[%d]", x.Offset)
	}
	if x.Swizzle != SwizzleH01 {
		sb.WriteByte('.')
		sb.WriteString(x.Swizzle.String())
	}
	if x.Abs {
		sb.WriteString(".abs")
	}
	if x.Neg {
		sb.WriteString(".neg")
	}
	return sb.String()
}

// f32ToF16 converts f to IEEE half precision,
// rounding to nearest even.
func f32ToF16(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int((b >> 23) & 0xff)
	mant := b & 0x7fffff
	switch {
	case exp == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp-127 > 15:
		return sign | 0x7c00
	case exp-127 >= -14:
		e := uint32(exp-127+15) << 10
		m := mant >> 13
		rem := mant & 0x1fff
		v := e | m
		if rem > 0x1000 || (rem == 0x1000 && m&1 != 0) {
			v++
		}
		return sign | uint16(v)
	case exp-127 >= -25:
		mant |= 0x800000
		shift := uint(-(exp - 127) - 14 + 13)
		m := mant >> shift
		rem := mant & (1<<shift - 1)
		half := uint32(1) << (shift - 1)
		if rem > half || (rem == half && m&1 != 0) {
			m++
		}
		return sign | uint16(m)
	}
	return sign
}
