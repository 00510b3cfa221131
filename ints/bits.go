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

// Package ints provides bit-set and integer
// helpers shared by the compiler passes.
package ints

import (
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// TestBit checks if the k-th bit is set in words
func TestBit[T, K constraints.Integer](words []T, k K) bool {
	w := uintptr(unsafe.Sizeof(words[0]) * 8)
	return words[uintptr(k)/w]&(T(1)<<(uintptr(k)%w)) != 0
}

// SetBit sets the k-th bit in words
func SetBit[T, K constraints.Integer](words []T, k K) {
	w := uintptr(unsafe.Sizeof(words[0]) * 8)
	words[uintptr(k)/w] |= T(1) << (uintptr(k) % w)
}

// ClearBit clears the k-th bit in words
func ClearBit[T, K constraints.Integer](words []T, k K) {
	w := uintptr(unsafe.Sizeof(words[0]) * 8)
	words[uintptr(k)/w] &^= T(1) << (uintptr(k) % w)
}

// AlignUp returns v rounded up to a multiple of alignment.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	return ((v + alignment - 1) / alignment) * alignment
}

// ChunkCount returns the number of chunkSize-bit chunks needed to store n bits
func ChunkCount[T constraints.Unsigned](n, chunkSize T) T {
	return (n + chunkSize - 1) / chunkSize
}

// Bitset is a fixed-capacity set of small
// non-negative integers. The zero value is
// an empty set of capacity zero.
type Bitset []uint64

// NewBitset returns an empty set that can
// hold the integers [0, n).
func NewBitset(n int) Bitset {
	return make(Bitset, ChunkCount(uint(n), 64))
}

// Cap returns the number of integers the set can hold.
func (b Bitset) Cap() int { return len(b) * 64 }

// Test reports whether k is in the set.
func (b Bitset) Test(k uint32) bool { return TestBit(b, k) }

// Set adds k to the set.
func (b Bitset) Set(k uint32) { SetBit(b, k) }

// Clear removes k from the set.
func (b Bitset) Clear(k uint32) { ClearBit(b, k) }

// Reset removes every element.
func (b Bitset) Reset() {
	for i := range b {
		b[i] = 0
	}
}

// Clone returns a copy of b.
func (b Bitset) Clone() Bitset {
	out := make(Bitset, len(b))
	copy(out, b)
	return out
}

// CopyFrom overwrites b with the contents of src.
// Both sets must have the same capacity.
func (b Bitset) CopyFrom(src Bitset) {
	if len(b) != len(src) {
		panic("ints.Bitset.CopyFrom: capacity mismatch")
	}
	copy(b, src)
}

// Union adds every element of src to b
// and reports whether b changed.
func (b Bitset) Union(src Bitset) bool {
	changed := false
	for i := range src {
		n := b[i] | src[i]
		if n != b[i] {
			changed = true
			b[i] = n
		}
	}
	return changed
}

// Difference removes every element of src from b.
func (b Bitset) Difference(src Bitset) {
	for i := range src {
		b[i] &^= src[i]
	}
}

// Equal reports whether a and b hold the same elements.
func (b Bitset) Equal(o Bitset) bool {
	if len(b) != len(o) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

// Count returns the number of elements in the set.
func (b Bitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Empty reports whether the set has no elements.
func (b Bitset) Empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// Each calls fn for every element in ascending order.
func (b Bitset) Each(fn func(k uint32)) {
	for i, w := range b {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(uint32(i*64 + tz))
			w &= w - 1
		}
	}
}
