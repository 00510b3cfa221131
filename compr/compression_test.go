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

package compr

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	text := bytes.Repeat([]byte("clause id:0 FADD.f32 r0 = r1, r2\n"), 200)
	for _, name := range []string{"none", "zstd", "zstd-better", "s2"} {
		c, ok := Lookup(name)
		if !ok {
			t.Fatalf("no codec %q", name)
		}
		if c.Name() != name {
			t.Errorf("codec %q reports name %q", name, c.Name())
		}
		for _, src := range [][]byte{text, nil, []byte("x")} {
			frame := Encode(c, src, []byte("prefix"))
			if !bytes.HasPrefix(frame, []byte("prefix")) {
				t.Fatalf("%s: prefix clobbered", name)
			}
			got, used, err := Decode(frame[len("prefix"):])
			if err != nil {
				t.Fatalf("%s: %s", name, err)
			}
			if !bytes.Equal(got, src) {
				t.Errorf("%s: round trip of %d bytes returned %d bytes", name, len(src), len(got))
			}
			want := name
			switch {
			case len(src) == 0:
				want = "none"
			case name == "zstd-better":
				want = "zstd"
			}
			if used != want {
				t.Errorf("%s: frame decoded as %s", name, used)
			}
		}
	}
	if _, ok := Lookup("lz4"); ok {
		t.Error("unknown codec found")
	}
}

func TestDecodeCorrupt(t *testing.T) {
	c, _ := Lookup("s2")
	frame := Encode(c, bytes.Repeat([]byte("abc"), 100), nil)
	tcs := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"unknown codec", append([]byte{9}, frame[1:]...)},
		{"truncated", frame[:len(frame)/2]},
		{"bad length", []byte{0, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
		{"short stored data", []byte{0, 4, 'a'}},
	}
	for _, tc := range tcs {
		if _, _, err := Decode(tc.frame); err == nil {
			t.Errorf("%s: decoded", tc.name)
		}
	}
	_, _, err := Decode([]byte{0, 4, 'a'})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt", err)
	}
}

func TestS2Overlap(t *testing.T) {
	c, _ := Lookup("s2")
	ctl := bytes.Repeat([]byte("foo"), 1000)
	src := append([]byte(nil), ctl...)
	dst := make([]byte, len(src))
	cmp := c.Compress(src[10:], src[:8])
	if err := c.Decompress(cmp[8:], dst[10:]); err != nil {
		t.Fatal(err)
	}
	if string(ctl[10:]) != string(dst[10:]) {
		t.Error("mismatch")
	}
}

func TestOverlaps(t *testing.T) {
	// trivial case
	a := make([]byte, 10)
	b := make([]byte, 20)
	if overlaps(a, b) {
		t.Error("overlaps(a, b) should be false")
	}
	// a and b are adjacent (no overlap)
	a = make([]byte, 10, 30)
	b = a[10:]
	if overlaps(a, b) {
		t.Error("overlaps(a, b) should be false")
	} else if overlaps(b, a) {
		t.Error("overlaps(b, a) should be false")
	}
	// a and b overlap by 5
	b = a[5:]
	if !overlaps(a, b) {
		t.Error("overlaps(a, b) should be true")
	} else if !overlaps(b, a) {
		t.Error("overlaps(b, a) should be true")
	}
	// a and b overlap by 1
	b = a[9:]
	if !overlaps(a, b) {
		t.Error("overlaps(a, b) should be true")
	} else if !overlaps(b, a) {
		t.Error("overlaps(b, a) should be true")
	}
}
