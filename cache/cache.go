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

// Package cache stores compiled shaders keyed by
// a hash of their source text and compile options.
// Entries live in memory and, when the cache has
// a directory, in files that outlive the process.
//
// Concurrent requests for the same key are
// coalesced so that each shader is compiled once.
package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/SnellerInc/bifrost/bir"
	"github.com/SnellerInc/bifrost/compr"

	"github.com/dchest/siphash"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"
)

type Logger interface {
	Printf(f string, args ...interface{})
}

// Cache is a compile cache. It is safe
// for use from multiple goroutines.
type Cache struct {
	// Logger, if non-nil, is used
	// to log errors encountered
	// by the cache.
	Logger Logger

	dir   string
	codec compr.Codec
	limit int

	lock     sync.Mutex
	cond     sync.Cond
	inflight map[string]struct{}
	mem      map[string]*entry
	clock    int64

	// statistics; accessed atomically
	hits, misses, failures int64
}

type entry struct {
	text []byte
	used int64
}

// New makes a cache holding at most limit entries
// in memory. If dir is non-empty, entries are also
// written there compressed with codec.
func New(dir string, codec compr.Codec, limit int) *Cache {
	if codec == nil {
		codec, _ = compr.Lookup("none")
	}
	if limit <= 0 {
		limit = 1
	}
	c := &Cache{
		dir:      dir,
		codec:    codec,
		limit:    limit,
		inflight: make(map[string]struct{}),
		mem:      make(map[string]*entry),
	}
	c.cond.L = &c.lock
	return c
}

func (c *Cache) errorf(f string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(f, args...)
	}
}

const (
	k0 = 0x6b8e3a91d2f04c57
	k1 = 0x1f29c8e07a5b3d64
)

// Key returns the cache key of the shader
// with source text src compiled with opts.
func Key(src []byte, opts *bir.Options) string {
	cfg, err := yaml.Marshal(opts)
	if err != nil {
		panic("cache.Key: " + err.Error())
	}
	var buf bytes.Buffer
	buf.Write(binary.AppendUvarint(nil, uint64(len(cfg))))
	buf.Write(cfg)
	buf.Write(src)
	lo, hi := siphash.Hash128(k0, k1, buf.Bytes())
	mem := buf.Bytes()[:0]
	mem = binary.LittleEndian.AppendUint64(mem, lo)
	mem = binary.LittleEndian.AppendUint64(mem, hi)
	return base64.URLEncoding.EncodeToString(mem)
}

// Hits returns the number of requests
// answered from memory or disk.
func (c *Cache) Hits() int64 { return atomic.LoadInt64(&c.hits) }

// Misses returns the number of
// requests that ran a fill.
func (c *Cache) Misses() int64 { return atomic.LoadInt64(&c.misses) }

// Failures returns the number of disk entries
// that could not be read or written.
func (c *Cache) Failures() int64 { return atomic.LoadInt64(&c.failures) }

// Len returns the number of entries in memory.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.mem)
}

// lockID acquires id exclusively, unless it
// is already in memory, in which case its
// text is returned and id is not locked
func (c *Cache) lockID(id string) []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, ok := c.inflight[id]; ok; _, ok = c.inflight[id] {
		c.cond.Wait()
	}
	if e := c.mem[id]; e != nil {
		c.clock++
		e.used = c.clock
		return e.text
	}
	c.inflight[id] = struct{}{}
	return nil
}

// unlockID drops the exclusive lock on id,
// recording text as its contents if non-nil
func (c *Cache) unlockID(id string, text []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	before := len(c.inflight)
	delete(c.inflight, id)
	if len(c.inflight) != before-1 {
		panic("double unlock of id " + id)
	}
	if text != nil {
		c.clock++
		c.mem[id] = &entry{text: text, used: c.clock}
		c.evict()
	}
	c.cond.Broadcast()
}

// evict drops the least recently used
// entries until a quarter of the space
// is free; c.lock must be held
func (c *Cache) evict() {
	if len(c.mem) <= c.limit {
		return
	}
	keep := c.limit - c.limit/4
	ids := make([]string, 0, len(c.mem))
	for id := range c.mem {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) bool {
		return c.mem[a].used < c.mem[b].used
	})
	for _, id := range ids[:len(ids)-keep] {
		delete(c.mem, id)
	}
}

// Do returns the text stored under id, calling fill
// to produce it if it is not cached. Only one fill
// runs per id at a time; concurrent callers wait for
// it and share its result. Failed fills are not
// cached. The returned bool reports a cache hit.
func (c *Cache) Do(id string, fill func() ([]byte, error)) ([]byte, bool, error) {
	if text := c.lockID(id); text != nil {
		atomic.AddInt64(&c.hits, 1)
		return text, true, nil
	}
	if text := c.load(id); text != nil {
		atomic.AddInt64(&c.hits, 1)
		c.unlockID(id, text)
		return text, true, nil
	}
	atomic.AddInt64(&c.misses, 1)
	text, err := fill()
	if err != nil || text == nil {
		c.unlockID(id, nil)
		return nil, false, err
	}
	c.store(id, text)
	c.unlockID(id, text)
	return text, false, nil
}

// path adds 1 level of indirection so that
// a directory listing stays short
func (c *Cache) path(id string) (predir, target string) {
	predir = filepath.Join(c.dir, id[:1])
	return predir, filepath.Join(predir, id[1:])
}

// entries on disk are the blake2b-256 sum
// of a compressed frame followed by the frame
func (c *Cache) load(id string) []byte {
	if c.dir == "" {
		return nil
	}
	_, target := c.path(id)
	buf, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil {
		var text []byte
		text, err = unseal(buf)
		if err == nil {
			return text
		}
		os.Remove(target)
	}
	atomic.AddInt64(&c.failures, 1)
	c.errorf("cache: reading %s: %s", target, err)
	return nil
}

func seal(codec compr.Codec, text []byte) []byte {
	frame := compr.Encode(codec, text, nil)
	sum := blake2b.Sum256(frame)
	return append(sum[:], frame...)
}

func unseal(buf []byte) ([]byte, error) {
	if len(buf) < blake2b.Size256 {
		return nil, fmt.Errorf("entry truncated to %d bytes", len(buf))
	}
	frame := buf[blake2b.Size256:]
	if sum := blake2b.Sum256(frame); !bytes.Equal(sum[:], buf[:blake2b.Size256]) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	text, _, err := compr.Decode(frame)
	return text, err
}

// store writes "ID.tmp" and renames it to
// "ID" once it is complete
func (c *Cache) store(id string, text []byte) {
	if c.dir == "" {
		return
	}
	predir, target := c.path(id)
	buf := seal(c.codec, text)
	err := os.WriteFile(target+".tmp", buf, 0640)
	if errors.Is(err, fs.ErrNotExist) {
		if err = os.MkdirAll(predir, 0750); err == nil {
			err = os.WriteFile(target+".tmp", buf, 0640)
		}
	}
	if err == nil {
		err = os.Rename(target+".tmp", target)
	}
	if err != nil {
		os.Remove(target + ".tmp")
		atomic.AddInt64(&c.failures, 1)
		c.errorf("cache: writing %s: %s", target, err)
	}
}
