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

// Swizzle selects or replicates the bytes or
// half-words of a 32-bit quantity.
type Swizzle uint8

const (
	// 16-bit swizzles, ordered sequentially
	SwizzleH00 Swizzle = iota
	SwizzleH01         // identity
	SwizzleH10
	SwizzleH11

	// 8-bit replication swizzles
	SwizzleB0000
	SwizzleB1111
	SwizzleB2222
	SwizzleB3333

	SwizzleB0011
	SwizzleB2233
	SwizzleB1032
	SwizzleB3210

	// only available as 8-bit half swizzles
	SwizzleB0022
	SwizzleB1100
	SwizzleB2200
	SwizzleB3300
	SwizzleB2211
	SwizzleB3311
	SwizzleB1122
	SwizzleB3322
	SwizzleB0033
	SwizzleB1133
	SwizzleB1123

	swizzleCount
)

// 8-bit aliases of the 16-bit swizzles
const (
	SwizzleB0101 = SwizzleH00
	SwizzleB0123 = SwizzleH01
	SwizzleB2301 = SwizzleH10
	SwizzleB2323 = SwizzleH11

	SwizzleH0 = SwizzleH00
	SwizzleH1 = SwizzleH11
	SwizzleB0 = SwizzleB0000
	SwizzleB1 = SwizzleB1111
	SwizzleB2 = SwizzleB2222
	SwizzleB3 = SwizzleB3333
)

// swizzleBytes[s][i] is the source byte
// written to byte i of the result
var swizzleBytes = [swizzleCount][4]uint8{
	SwizzleH00:   {0, 1, 0, 1},
	SwizzleH01:   {0, 1, 2, 3},
	SwizzleH10:   {2, 3, 0, 1},
	SwizzleH11:   {2, 3, 2, 3},
	SwizzleB0000: {0, 0, 0, 0},
	SwizzleB1111: {1, 1, 1, 1},
	SwizzleB2222: {2, 2, 2, 2},
	SwizzleB3333: {3, 3, 3, 3},
	SwizzleB0011: {0, 0, 1, 1},
	SwizzleB2233: {2, 2, 3, 3},
	SwizzleB1032: {1, 0, 3, 2},
	SwizzleB3210: {3, 2, 1, 0},
	SwizzleB0022: {0, 0, 2, 2},
	SwizzleB1100: {1, 1, 0, 0},
	SwizzleB2200: {2, 2, 0, 0},
	SwizzleB3300: {3, 3, 0, 0},
	SwizzleB2211: {2, 2, 1, 1},
	SwizzleB3311: {3, 3, 1, 1},
	SwizzleB1122: {1, 1, 2, 2},
	SwizzleB3322: {3, 3, 2, 2},
	SwizzleB0033: {0, 0, 3, 3},
	SwizzleB1133: {1, 1, 3, 3},
	SwizzleB1123: {1, 1, 2, 3},
}

var swizzleNames = [swizzleCount]string{
	SwizzleH00: "h00", SwizzleH01: "h01", SwizzleH10: "h10", SwizzleH11: "h11",
	SwizzleB0000: "b0000", SwizzleB1111: "b1111", SwizzleB2222: "b2222", SwizzleB3333: "b3333",
	SwizzleB0011: "b0011", SwizzleB2233: "b2233", SwizzleB1032: "b1032", SwizzleB3210: "b3210",
	SwizzleB0022: "b0022", SwizzleB1100: "b1100", SwizzleB2200: "b2200", SwizzleB3300: "b3300",
	SwizzleB2211: "b2211", SwizzleB3311: "b3311", SwizzleB1122: "b1122", SwizzleB3322: "b3322",
	SwizzleB0033: "b0033", SwizzleB1133: "b1133", SwizzleB1123: "b1123",
}

// Valid reports whether s is a known swizzle code.
func (s Swizzle) Valid() bool { return s < swizzleCount }

func (s Swizzle) String() string {
	if !s.Valid() {
		return fmt.Sprintf("swz(%d)", uint8(s))
	}
	return swizzleNames[s]
}

// ApplySwizzle applies swz to a packed i16vec2/i8vec4 value.
// Byte 0 is the least significant byte of value regardless
// of the byte order of the host.
func ApplySwizzle(value uint32, swz Swizzle) uint32 {
	if !swz.Valid() {
		panic(fmt.Sprintf("ApplySwizzle: invalid swizzle %d", uint8(swz)))
	}
	sel := &swizzleBytes[swz]
	var out uint32
	for i := range sel {
		b := (value >> (8 * uint(sel[i]))) & 0xff
		out |= b << (8 * uint(i))
	}
	return out
}
