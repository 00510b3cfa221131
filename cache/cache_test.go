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

package cache

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SnellerInc/bifrost/bir"
	"github.com/SnellerInc/bifrost/compr"
)

type testLogger struct {
	lock sync.Mutex
	out  testing.TB
}

func (t *testLogger) Printf(f string, args ...interface{}) {
	t.lock.Lock()
	t.out.Logf(f, args...)
	t.lock.Unlock()
}

func TestKey(t *testing.T) {
	opts := bir.DefaultOptions()
	src := []byte("name: a\nstage: compute\n")
	k := Key(src, &opts)
	if k != Key(src, &opts) {
		t.Fatal("key is not deterministic")
	}
	opts.Logf = t.Logf
	if k != Key(src, &opts) {
		t.Error("key depends on the log hook")
	}
	opts.RegisterBudget = 16
	if k == Key(src, &opts) {
		t.Error("key ignores options")
	}
	opts = bir.DefaultOptions()
	if k == Key([]byte("name: b\nstage: compute\n"), &opts) {
		t.Error("key ignores source")
	}
}

func filler(n *int64, text string) func() ([]byte, error) {
	return func() ([]byte, error) {
		atomic.AddInt64(n, 1)
		time.Sleep(time.Millisecond)
		return []byte(text), nil
	}
}

func TestDoCoalesces(t *testing.T) {
	c := New("", nil, 16)
	var fills int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, _, err := c.Do("key", filler(&fills, "clauses"))
			if err != nil || string(text) != "clauses" {
				t.Errorf("got %q, %v", text, err)
			}
		}()
	}
	wg.Wait()
	if fills != 1 {
		t.Errorf("%d fills for one key", fills)
	}
	if c.Hits() != 15 || c.Misses() != 1 {
		t.Errorf("%d hits, %d misses", c.Hits(), c.Misses())
	}
}

func TestDoError(t *testing.T) {
	c := New("", nil, 4)
	boom := errors.New("boom")
	_, _, err := c.Do("k", func() ([]byte, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	var fills int64
	if _, hit, err := c.Do("k", filler(&fills, "ok")); err != nil || hit || fills != 1 {
		t.Errorf("failed fill was cached: hit %v, %d fills, %v", hit, fills, err)
	}
}

func TestDisk(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"none", "zstd", "s2"} {
		codec, _ := compr.Lookup(name)
		id := "id-" + name
		c := New(dir, codec, 4)
		c.Logger = &testLogger{out: t}
		var fills int64
		if _, hit, err := c.Do(id, filler(&fills, "text "+name)); err != nil || hit {
			t.Fatalf("%s: first request: hit %v, %v", name, hit, err)
		}
		if _, target := c.path(id); fileExists(target + ".tmp") {
			t.Errorf("%s: temporary file left behind", name)
		}
		// a fresh cache reads the entry back
		c = New(dir, codec, 4)
		text, hit, err := c.Do(id, filler(&fills, "wrong"))
		if err != nil || !hit || string(text) != "text "+name {
			t.Errorf("%s: reload: %q, hit %v, %v", name, text, hit, err)
		}
		if fills != 1 {
			t.Errorf("%s: %d fills", name, fills)
		}
	}
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func TestDiskCorrupt(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, nil, 4)
	c.Logger = &testLogger{out: t}
	var fills int64
	if _, _, err := c.Do("abc", filler(&fills, "good")); err != nil {
		t.Fatal(err)
	}
	_, target := c.path("abc")
	buf, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] ^= 0xff
	if err := os.WriteFile(target, buf, 0640); err != nil {
		t.Fatal(err)
	}
	c = New(dir, nil, 4)
	c.Logger = &testLogger{out: t}
	text, hit, err := c.Do("abc", filler(&fills, "refilled"))
	if err != nil || hit || string(text) != "refilled" {
		t.Fatalf("corrupt entry: %q, hit %v, %v", text, hit, err)
	}
	if c.Failures() != 1 {
		t.Errorf("%d failures", c.Failures())
	}
	// the refill replaced the bad entry
	c = New(dir, nil, 4)
	if text, hit, _ := c.Do("abc", filler(&fills, "again")); !hit || string(text) != "refilled" {
		t.Errorf("after refill: %q, hit %v", text, hit)
	}
}

func TestEviction(t *testing.T) {
	c := New("", nil, 4)
	var fills int64
	for i := 0; i < 5; i++ {
		id := fmt.Sprint(i)
		if _, _, err := c.Do(id, filler(&fills, id)); err != nil {
			t.Fatal(err)
		}
		// keep entry 0 recently used
		c.Do("0", filler(&fills, "0"))
	}
	if n := c.Len(); n > 4 {
		t.Fatalf("%d entries with a limit of 4", n)
	}
	before := fills
	if _, hit, _ := c.Do("0", filler(&fills, "0")); !hit {
		t.Error("recently used entry evicted")
	}
	if _, hit, _ := c.Do("1", filler(&fills, "1")); hit {
		t.Error("least recently used entry kept")
	}
	if fills != before+1 {
		t.Errorf("%d fills", fills-before)
	}
}
