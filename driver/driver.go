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

// Package driver compiles shader files on
// a pool of worker goroutines, sharing an
// optional compile cache between them.
package driver

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/SnellerInc/bifrost/bir"
	"github.com/SnellerInc/bifrost/cache"
	"github.com/SnellerInc/bifrost/shaderfile"

	"github.com/google/uuid"
)

// Job is a request to compile one shader file.
type Job struct {
	ID uuid.UUID
	// Path is used in messages only
	Path   string
	Source []byte
	// Adjust, if non-nil, is applied to the
	// options read from the shader file
	Adjust func(*bir.Options)
}

// NewJob returns a job with a fresh ID.
func NewJob(path string, src []byte) *Job {
	return &Job{ID: uuid.New(), Path: path, Source: src}
}

// Result is the outcome of a Job.
type Result struct {
	Job  *Job
	Name string
	// Text is the printed program
	Text    []byte
	Cached  bool
	Elapsed time.Duration
	Err     error
}

// Pool runs compile jobs on a fixed
// number of worker goroutines.
type Pool struct {
	Logger *log.Logger
	Cache  *cache.Cache

	queue chan *request
	wg    sync.WaitGroup
}

type request struct {
	job *Job
	out chan<- Result
}

// NewPool starts a pool of n workers, or
// GOMAXPROCS workers if n is not positive.
// Either of c and logger may be nil.
func NewPool(n int, c *cache.Cache, logger *log.Logger) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		Logger: logger,
		Cache:  c,
		queue:  make(chan *request, n),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) logf(f string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(f, args...)
	}
}

// Submit queues j and returns the channel on
// which its result is delivered. It blocks
// while the queue is full; ctx bounds that wait.
func (p *Pool) Submit(ctx context.Context, j *Job) (<-chan Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(chan Result, 1)
	select {
	case p.queue <- &request{job: j, out: out}:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CompileAll compiles every job and returns
// the results in the order of jobs.
func (p *Pool) CompileAll(ctx context.Context, jobs []*Job) []Result {
	chans := make([]<-chan Result, len(jobs))
	results := make([]Result, len(jobs))
	for k, j := range jobs {
		ch, err := p.Submit(ctx, j)
		if err != nil {
			results[k] = Result{Job: j, Err: err}
			continue
		}
		chans[k] = ch
	}
	for k, ch := range chans {
		if ch != nil {
			results[k] = <-ch
		}
	}
	return results
}

// Close waits for queued jobs to finish and
// stops the workers. Further use of the pool
// will cause panics.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.queue {
		req.out <- p.run(req.job)
	}
}

func (p *Pool) run(j *Job) (res Result) {
	start := time.Now()
	res.Job = j
	defer func() {
		res.Elapsed = time.Since(start)
	}()
	f, err := shaderfile.Parse(j.Source)
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", j.Path, err)
		return res
	}
	res.Name = f.Name
	if j.Adjust != nil {
		j.Adjust(&f.Options)
	}
	key := cache.Key(j.Source, &f.Options)
	f.Options.Logf = func(format string, args ...any) {
		p.logf("%s %s: "+format, append([]any{j.ID, f.Name}, args...)...)
	}
	fill := func() ([]byte, error) { return compile(f) }
	if p.Cache == nil {
		res.Text, res.Err = fill()
	} else {
		res.Text, res.Cached, res.Err = p.Cache.Do(key, fill)
	}
	if res.Err != nil {
		p.logf("%s %s: %s", j.ID, j.Path, res.Err)
	}
	return res
}

// compile turns invariant violations into
// errors so that one bad shader does not
// take down the pool
func compile(f *shaderfile.File) (text []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal compiler error in %q: %v\n%s", f.Name, r, debug.Stack())
		}
	}()
	c, err := f.Build()
	if err != nil {
		return nil, err
	}
	prog, err := bir.Compile(c)
	if err != nil {
		return nil, err
	}
	return prog.Text(), nil
}
