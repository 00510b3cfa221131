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

// Command bic compiles YAML shader files and
// prints the scheduled clauses of each.
//
// Usage:
//
//	bic [flags] file.yaml...
//
// A file name of "-" reads a shader from stdin,
// as does running bic without any files.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/SnellerInc/bifrost/bir"
	"github.com/SnellerInc/bifrost/cache"
	"github.com/SnellerInc/bifrost/compr"
	"github.com/SnellerInc/bifrost/driver"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bic", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		workers  = fs.Int("j", 0, "number of parallel compiles (default GOMAXPROCS)")
		cachedir = fs.String("cache", "", "directory for cached compiles")
		codec    = fs.String("codec", "zstd", "compression for cached compiles (none, zstd, zstd-better, s2)")
		budget   = fs.Int("budget", 0, "override the register budget")
		validate = fs.Bool("validate", false, "validate between passes, with fatal warnings")
		quiet    = fs.Bool("q", false, "print only the summary line of each shader")
		verbose  = fs.Bool("v", false, "log compiler diagnostics")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger := log.New(stderr, "", log.Lshortfile)
	var c *cache.Cache
	if *cachedir != "" {
		cc, ok := compr.Lookup(*codec)
		if !ok {
			fmt.Fprintf(stderr, "unknown codec %q\n", *codec)
			return 2
		}
		c = cache.New(*cachedir, cc, 1024)
		c.Logger = logger
	}
	var poolLog *log.Logger
	if *verbose {
		poolLog = logger
	}
	adjust := func(o *bir.Options) {
		if *budget > 0 {
			o.RegisterBudget = *budget
		}
		if *validate {
			o.Debug.Validate = true
			o.Debug.FatalWarnings = true
		}
	}

	args = fs.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}
	var jobs []*driver.Job
	for _, arg := range args {
		var src []byte
		var err error
		if arg == "-" {
			src, err = io.ReadAll(stdin)
		} else {
			src, err = os.ReadFile(arg)
		}
		if err != nil {
			fmt.Fprintf(stderr, "can't read %q: %s\n", arg, err)
			return 1
		}
		j := driver.NewJob(arg, src)
		j.Adjust = adjust
		jobs = append(jobs, j)
	}

	p := driver.NewPool(*workers, c, poolLog)
	results := p.CompileAll(context.Background(), jobs)
	p.Close()

	o := bufio.NewWriter(stdout)
	status := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stderr, "%s: %s\n", r.Job.Path, r.Err)
			status = 1
			continue
		}
		cached := ""
		if r.Cached {
			cached = " (cached)"
		}
		fmt.Fprintf(o, "# %s: shader %s%s in %s\n", r.Job.Path, r.Name, cached, r.Elapsed)
		if *quiet {
			continue
		}
		o.Write(r.Text)
	}
	if err := o.Flush(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return status
}
