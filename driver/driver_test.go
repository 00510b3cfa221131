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

package driver

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/SnellerInc/bifrost/bir"
	"github.com/SnellerInc/bifrost/cache"
)

func readJob(t *testing.T, path string) *Job {
	t.Helper()
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return NewJob(path, src)
}

func TestPoolShared(t *testing.T) {
	var logs bytes.Buffer
	c := cache.New("", nil, 16)
	p := NewPool(4, c, log.New(&logs, "", 0))
	defer p.Close()

	var jobs []*Job
	for i := 0; i < 8; i++ {
		jobs = append(jobs, readJob(t, "../shaderfile/testdata/loop.yaml"))
	}
	results := p.CompileAll(context.Background(), jobs)
	seen := make(map[string]bool)
	for k, r := range results {
		if r.Err != nil {
			t.Fatalf("job %d: %s", k, r.Err)
		}
		if r.Job != jobs[k] || r.Name != "loop" {
			t.Errorf("result %d belongs to %s (%s)", k, r.Job.Path, r.Name)
		}
		if !bytes.Equal(r.Text, results[0].Text) {
			t.Errorf("job %d printed a different program", k)
		}
		seen[r.Job.ID.String()] = true
	}
	if len(seen) != len(jobs) {
		t.Errorf("%d distinct job ids for %d jobs", len(seen), len(jobs))
	}
	if c.Misses() != 1 || c.Hits() != 7 {
		t.Errorf("%d misses, %d hits", c.Misses(), c.Hits())
	}
	if !bytes.Contains(results[0].Text, []byte("loops:1")) {
		t.Errorf("unexpected program text:\n%s", results[0].Text)
	}
}

func TestPoolErrors(t *testing.T) {
	var logs bytes.Buffer
	p := NewPool(2, nil, log.New(&logs, "", 0))
	defer p.Close()
	jobs := []*Job{
		NewJob("bad.yaml", []byte("name: bad\nstage: compute\nblocks: [{name: a, instrs: [{op: FOO}]}]\n")),
		readJob(t, "../shaderfile/testdata/barrier.yaml"),
		NewJob("fragment-barrier.yaml", []byte("name: fb\nstage: fragment\nblocks: [{name: a, instrs: [{op: BARRIER}]}]\n")),
	}
	results := p.CompileAll(context.Background(), jobs)
	if !errors.Is(results[0].Err, bir.ErrInvalid) {
		t.Errorf("bad opcode: %v", results[0].Err)
	}
	if results[1].Err != nil || results[1].Cached {
		t.Errorf("barrier shader: cached %v, %v", results[1].Cached, results[1].Err)
	}
	var ce *bir.CompileError
	if !errors.As(results[2].Err, &ce) || ce.Stage != bir.StageFragment {
		t.Errorf("barrier in fragment shader: %v", results[2].Err)
	}
	if !bytes.Contains(logs.Bytes(), []byte(jobs[0].ID.String())) {
		t.Errorf("failure not logged with the job id:\n%s", logs.String())
	}
}

func TestSubmitCancelled(t *testing.T) {
	p := NewPool(1, nil, nil)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Submit(ctx, NewJob("x", nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	res := p.CompileAll(ctx, []*Job{NewJob("y", nil)})
	if !errors.Is(res[0].Err, context.Canceled) {
		t.Errorf("got %v", res[0].Err)
	}
}

func TestEmptyShader(t *testing.T) {
	p := NewPool(1, nil, nil)
	defer p.Close()
	// parses, but has no blocks to build
	res := p.CompileAll(context.Background(), []*Job{NewJob("empty", []byte("name: e\nstage: compute\n"))})
	if res[0].Err == nil {
		t.Fatal("shader without blocks compiled")
	}
	if res[0].Elapsed <= 0 {
		t.Error("elapsed time not recorded")
	}
}

func TestAdjust(t *testing.T) {
	c := cache.New("", nil, 16)
	p := NewPool(2, c, nil)
	defer p.Close()
	plain := readJob(t, "../shaderfile/testdata/loop.yaml")
	tight := readJob(t, "../shaderfile/testdata/loop.yaml")
	tight.Adjust = func(o *bir.Options) { o.RegisterBudget = 3 }
	res := p.CompileAll(context.Background(), []*Job{plain, tight})
	for _, r := range res {
		if r.Err != nil {
			t.Fatal(r.Err)
		}
	}
	if c.Misses() != 2 {
		t.Errorf("adjusted options shared a cache entry: %d misses", c.Misses())
	}
}
