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
	"errors"
	"fmt"
)

var (
	// ErrScheduleFailed is returned when an
	// instruction does not fit an empty clause.
	ErrScheduleFailed = errors.New("clause scheduling failed")
	// ErrRegisterPressure is returned when spilling
	// cannot bring register demand within budget.
	ErrRegisterPressure = errors.New("register pressure exceeds budget")
	// ErrSpillSpace is returned when spilled values
	// do not fit in thread-local storage.
	ErrSpillSpace = errors.New("out of spill space")
	// ErrInvalid is returned for malformed input shaders.
	ErrInvalid = errors.New("invalid shader")
)

// CompileError describes a failed compile.
type CompileError struct {
	Shader string
	Stage  Stage
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s shader %q: %s", e.Stage, e.Shader, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
