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

// Package compr wraps the compression codecs
// used to store compiled shaders and frames
// their output so that a stored entry records
// which codec produced it.
package compr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorrupt is returned by Decode for
// frames that cannot be decoded.
var ErrCorrupt = errors.New("compr: corrupt frame")

// Codec is a block compression algorithm.
type Codec interface {
	// Name is the name of the algorithm
	// as accepted by Lookup.
	Name() string
	// Compress appends the compressed
	// contents of src to dst.
	Compress(src, dst []byte) []byte
	// Decompress decompresses src into dst,
	// which must be exactly the size of the
	// decoded data. It is safe to call
	// concurrently.
	Decompress(src, dst []byte) error
}

// codec ids stored in the frame header
const (
	idNone uint8 = iota
	idZstd
	idS2
)

var zstdDecoder *zstd.Decoder

func init() {
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

type none struct{}

func (none) Name() string                    { return "none" }
func (none) Compress(src, dst []byte) []byte { return append(dst, src...) }

func (none) Decompress(src, dst []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %d stored bytes, want %d", ErrCorrupt, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

type zstdCodec struct {
	name string
	enc  *zstd.Encoder
}

func (z *zstdCodec) Name() string { return z.name }

func (z *zstdCodec) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z *zstdCodec) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := zstdDecoder.DecodeAll(src, into)
	if err != nil {
		return err
	}
	return checkOutput(ret, dst)
}

type s2Codec struct{}

func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(src, dst []byte) []byte {
	tail := dst[len(dst):cap(dst)]
	// s2 requires non-overlapping src and dst
	if overlaps(src, tail) {
		tail = nil
	}
	got := s2.Encode(tail, src)
	if len(dst) == 0 {
		return got
	}
	if len(tail) > 0 && len(got) > 0 && &tail[0] == &got[0] {
		return dst[:len(dst)+len(got)]
	}
	return append(dst, got...)
}

func (s2Codec) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := s2.Decode(into, src)
	if err != nil {
		return err
	}
	return checkOutput(ret, dst)
}

// the decoders should neither come up short
// nor have had to realloc the buffer
func checkOutput(ret, dst []byte) error {
	if len(ret) != len(dst) {
		return fmt.Errorf("%w: %d bytes decompressed, want %d", ErrCorrupt, len(ret), len(dst))
	}
	if len(ret) > 0 && &ret[0] != &dst[0] {
		return fmt.Errorf("%w: output buffer realloc'd", ErrCorrupt)
	}
	return nil
}

func newZstd(name string, level zstd.EncoderLevel) Codec {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	return &zstdCodec{name: name, enc: enc}
}

// Lookup returns the codec with the given name:
// "none", "zstd", "zstd-better" or "s2".
func Lookup(name string) (Codec, bool) {
	switch name {
	case "none", "":
		return none{}, true
	case "zstd":
		return newZstd(name, zstd.SpeedDefault), true
	case "zstd-better":
		return newZstd(name, zstd.SpeedBetterCompression), true
	case "s2":
		return s2Codec{}, true
	}
	return nil, false
}

func idOf(c Codec) uint8 {
	switch c.(type) {
	case *zstdCodec:
		return idZstd
	case s2Codec:
		return idS2
	}
	return idNone
}

func byID(id uint8) Codec {
	switch id {
	case idNone:
		return none{}
	case idZstd:
		return &zstdCodec{name: "zstd"}
	case idS2:
		return s2Codec{}
	}
	return nil
}

// maxDecoded bounds the size claimed
// by a frame header
const maxDecoded = 1 << 28

// Encode appends to dst a frame holding
// src compressed with c. Empty input is
// stored uncompressed.
func Encode(c Codec, src, dst []byte) []byte {
	if len(src) == 0 {
		c = none{}
	}
	dst = append(dst, idOf(c))
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	return c.Compress(src, dst)
}

// Decode returns the contents of a frame
// produced by Encode along with the name of
// the codec that compressed it.
func Decode(frame []byte) ([]byte, string, error) {
	if len(frame) < 2 {
		return nil, "", fmt.Errorf("%w: short header", ErrCorrupt)
	}
	c := byID(frame[0])
	if c == nil {
		return nil, "", fmt.Errorf("%w: unknown codec %d", ErrCorrupt, frame[0])
	}
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > maxDecoded {
		return nil, "", fmt.Errorf("%w: bad length", ErrCorrupt)
	}
	out := make([]byte, size)
	if err := c.Decompress(frame[1+n:], out); err != nil {
		return nil, "", err
	}
	return out, c.Name(), nil
}

func overlaps(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	a0 := uintptr(unsafe.Pointer(&a[0]))
	a1 := a0 + uintptr(len(a))
	b0 := uintptr(unsafe.Pointer(&b[0]))
	b1 := b0 + uintptr(len(b))
	return a0 < b1 && b0 < a1
}
