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

// Op is an instruction opcode.
type Op uint8

const (
	OpNop Op = iota
	OpMov
	OpFAdd
	OpFMA
	OpFMax
	OpFMin
	OpFAbsNeg
	OpFRound
	OpFCmp
	OpICmp
	OpIAdd
	OpISub
	OpIMul
	OpLShiftOr
	OpRShiftAnd
	OpCSel
	OpMux
	OpF32ToS32
	OpS32ToF32
	OpCollect
	OpPhi
	OpLoad
	OpStore
	OpLdVar
	OpLdAttr
	OpTexs
	OpTexc
	OpAtomReturn
	OpBarrier
	OpATest
	OpBlend
	OpDiscard
	OpBranchZ
	OpJump

	opmax
)

// MessageType is the kind of message a
// clause sends to a shared functional unit.
type MessageType uint8

const (
	MessageNone MessageType = iota
	MessageVarying
	MessageAttribute
	MessageTex
	MessageVarTex
	MessageLoad
	MessageStore
	MessageAtomic
	MessageBarrier
	MessageBlend
	MessageTile
	MessageZStencil
	MessageATest
)

var messageNames = [...]string{
	MessageNone:      "none",
	MessageVarying:   "varying",
	MessageAttribute: "attribute",
	MessageTex:       "tex",
	MessageVarTex:    "vartex",
	MessageLoad:      "load",
	MessageStore:     "store",
	MessageAtomic:    "atomic",
	MessageBarrier:   "barrier",
	MessageBlend:     "blend",
	MessageTile:      "tile",
	MessageZStencil:  "z_stencil",
	MessageATest:     "atest",
}

func (m MessageType) String() string {
	if int(m) < len(messageNames) {
		return messageNames[m]
	}
	return fmt.Sprintf("MessageType(%d)", uint8(m))
}

// memory reports whether the message
// accesses memory through the load/store unit.
func (m MessageType) memory() bool {
	return m == MessageLoad || m == MessageStore || m == MessageAtomic
}

type unit uint8

const (
	unitFMA unit = 1 << iota
	unitADD
)

const variadic = -1

type opinfo struct {
	text    string
	units   unit
	message MessageType
	payload PayloadKind

	srcs, dests int // or variadic

	// staging register operands live at Src[0]/Dest[0]
	srRead, srWrite bool

	sideEffects bool
	branch      bool
	// accepts abs/neg on its sources
	fmods bool
	// sources must not share registers with the result
	earlyClobber bool
}

var _opinfo = [opmax]opinfo{
	OpNop: {text: "NOP", units: unitFMA | unitADD, payload: PayloadBarrier},
	OpMov: {text: "MOV.i32", units: unitFMA | unitADD, srcs: 1, dests: 1},

	OpFAdd:    {text: "FADD.f32", units: unitFMA | unitADD, srcs: 2, dests: 1, payload: PayloadRound, fmods: true},
	OpFMA:     {text: "FMA.f32", units: unitFMA, srcs: 3, dests: 1, payload: PayloadRound, fmods: true},
	OpFMax:    {text: "FMAX.f32", units: unitFMA | unitADD, srcs: 2, dests: 1, payload: PayloadRound, fmods: true},
	OpFMin:    {text: "FMIN.f32", units: unitFMA | unitADD, srcs: 2, dests: 1, payload: PayloadRound, fmods: true},
	OpFAbsNeg: {text: "FABSNEG.f32", units: unitFMA | unitADD, srcs: 1, dests: 1, payload: PayloadRound, fmods: true},
	OpFRound:  {text: "FROUND.f32", units: unitADD, srcs: 1, dests: 1, payload: PayloadRound, fmods: true},
	OpFCmp:    {text: "FCMP.f32", units: unitFMA | unitADD, srcs: 2, dests: 1, payload: PayloadCompare, fmods: true},
	OpICmp:    {text: "ICMP.i32", units: unitFMA | unitADD, srcs: 2, dests: 1, payload: PayloadCompare},

	OpIAdd:      {text: "IADD.i32", units: unitFMA | unitADD, srcs: 2, dests: 1},
	OpISub:      {text: "ISUB.i32", units: unitFMA | unitADD, srcs: 2, dests: 1},
	OpIMul:      {text: "IMUL.i32", units: unitFMA, srcs: 2, dests: 1},
	OpLShiftOr:  {text: "LSHIFT_OR.i32", units: unitFMA, srcs: 3, dests: 1, payload: PayloadShift},
	OpRShiftAnd: {text: "RSHIFT_AND.i32", units: unitFMA, srcs: 3, dests: 1, payload: PayloadShift},
	OpCSel:      {text: "CSEL.i32", units: unitFMA | unitADD, srcs: 4, dests: 1, payload: PayloadCompare},
	OpMux:       {text: "MUX.i32", units: unitFMA | unitADD, srcs: 3, dests: 1, payload: PayloadMux},
	OpF32ToS32:  {text: "F32_TO_S32", units: unitFMA | unitADD, srcs: 1, dests: 1, payload: PayloadRound},
	OpS32ToF32:  {text: "S32_TO_F32", units: unitFMA | unitADD, srcs: 1, dests: 1, payload: PayloadRound},

	// pseudo-ops, lowered before scheduling
	OpCollect: {text: "COLLECT.i32", srcs: variadic, dests: 1, earlyClobber: true},
	OpPhi:     {text: "PHI", srcs: variadic, dests: 1},

	OpLoad:       {text: "LOAD.i32", units: unitADD, message: MessageLoad, srcs: 2, dests: 1, payload: PayloadMemory, srWrite: true},
	OpStore:      {text: "STORE.i32", units: unitADD, message: MessageStore, srcs: 3, payload: PayloadMemory, srRead: true, sideEffects: true},
	OpLdVar:      {text: "LD_VAR.f32", units: unitADD, message: MessageVarying, srcs: 1, dests: 1, payload: PayloadVarying, srWrite: true},
	OpLdAttr:     {text: "LD_ATTR_IMM", units: unitADD, message: MessageAttribute, srcs: 2, dests: 1, payload: PayloadVarying, srWrite: true},
	OpTexs:       {text: "TEXS_2D.f32", units: unitADD, message: MessageTex, srcs: 2, dests: 1, payload: PayloadTexture, srWrite: true},
	OpTexc:       {text: "TEXC", units: unitADD, message: MessageTex, srcs: 2, dests: 1, payload: PayloadTexture, srRead: true, srWrite: true},
	OpAtomReturn: {text: "ATOM_RETURN.i32", units: unitADD, message: MessageAtomic, srcs: 3, dests: 1, payload: PayloadAtomic, srRead: true, srWrite: true, sideEffects: true},
	OpBarrier:    {text: "BARRIER", units: unitADD, message: MessageBarrier, sideEffects: true},
	OpATest:      {text: "ATEST", units: unitADD, message: MessageATest, srcs: 2, dests: 1, sideEffects: true},
	OpBlend:      {text: "BLEND", units: unitADD, message: MessageBlend, srcs: 2, srRead: true, sideEffects: true},
	OpDiscard:    {text: "DISCARD.f32", units: unitADD, srcs: 2, payload: PayloadCompare, sideEffects: true, fmods: true},

	OpBranchZ: {text: "BRANCHZ.i32", units: unitADD, srcs: 1, payload: PayloadBranch, sideEffects: true, branch: true},
	OpJump:    {text: "JUMP", units: unitADD, payload: PayloadBranch, sideEffects: true, branch: true},
}

func (o Op) info() *opinfo {
	if o >= opmax {
		panic(fmt.Sprintf("invalid opcode %d", uint8(o)))
	}
	return &_opinfo[o]
}

func (o Op) String() string {
	if o >= opmax {
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
	return _opinfo[o].text
}

// LookupOp returns the opcode with the given
// mnemonic, case-sensitively.
func LookupOp(text string) (Op, bool) {
	for i := range _opinfo {
		if _opinfo[i].text == text {
			return Op(i), true
		}
	}
	return 0, false
}

func (o Op) CanFMA() bool { return o.info().units&unitFMA != 0 }
func (o Op) CanADD() bool { return o.info().units&unitADD != 0 }

// MustMessage reports whether o is issued as the
// message of its clause.
func (o Op) MustMessage() bool { return o.info().message != MessageNone }

func (o Op) Message() MessageType { return o.info().message }

func (o Op) SideEffects() bool { return o.info().sideEffects }

func (o Op) IsBranch() bool { return o.info().branch }

func (o Op) PayloadKind() PayloadKind { return o.info().payload }

// NumSrcs returns the fixed source count of o,
// or -1 if o takes a variable number of sources.
func (o Op) NumSrcs() int { return o.info().srcs }

// NumDests is NumSrcs for destinations.
func (o Op) NumDests() int { return o.info().dests }

// SupportsFloatMods reports whether the sources
// of o may carry abs/neg modifiers.
func (o Op) SupportsFloatMods() bool { return o.info().fmods }

func (o Op) pseudo() bool { return o.info().units == 0 }

// pure ops may be deduplicated or deleted
// when their results are unused
func (o Op) pure() bool {
	inf := o.info()
	return !inf.sideEffects && !inf.branch && inf.message == MessageNone &&
		inf.units != 0 && o != OpNop
}
