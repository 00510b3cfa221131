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

// Package bir implements the backend of a shader
// compiler for a dual-issue, clause-based VLIW GPU.
//
// A shader arrives as SSA instructions partitioned
// into basic blocks (see Context, Block and Builder).
// Compile optimizes the graph in place, allocates
// registers (spilling to thread-local storage when
// the register budget is exceeded), packs the result
// into tuples and clauses and annotates each clause
// with scoreboard dependencies. The clause stream and
// the shader metadata in Program are what an encoder
// consumes.
//
// A Context is owned by exactly one compile and is
// not safe for concurrent use; independent contexts
// may be compiled concurrently.
package bir
