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

// Debug controls internal consistency checking.
type Debug struct {
	// Validate checks the shader
	// between compilation passes
	Validate bool `json:"validate,omitempty"`
	// FatalWarnings turns validation
	// warnings into panics
	FatalWarnings bool `json:"fatal_warnings,omitempty"`
}

// Options configures a compile.
type Options struct {
	// RegisterBudget is the number of
	// general-purpose registers available
	RegisterBudget int `json:"register_budget,omitempty"`
	// TLSBudget is the maximum thread-local
	// storage in bytes available for spilling
	TLSBudget uint32 `json:"tls_budget,omitempty"`
	// SpillBase is the first byte of thread-local
	// storage used for spilling; bytes below it
	// belong to the shader
	SpillBase uint32 `json:"spill_base,omitempty"`
	// Optimize enables the optimization passes
	Optimize bool `json:"optimize,omitempty"`
	// FTZ flushes denormals to zero
	FTZ   bool  `json:"ftz,omitempty"`
	Debug Debug `json:"debug,omitempty"`

	// Logf, if non-nil, receives diagnostics
	Logf func(f string, args ...any) `json:"-"`
}

// DefaultOptions returns the options used
// when none are specified.
func DefaultOptions() Options {
	return Options{
		RegisterBudget: MaxRegs,
		TLSBudget:      1 << 16,
		Optimize:       true,
	}
}

func (o *Options) budget() int {
	if o.RegisterBudget <= 0 || o.RegisterBudget > MaxRegs {
		return MaxRegs
	}
	return o.RegisterBudget
}
