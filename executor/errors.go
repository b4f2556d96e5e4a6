// Copyright 2025 GraceDB, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"github.com/pingcap/errors"
)

// Error instances of the hash join executor.
var (
	// ErrMemLimitExceeded is returned when no partition can be spilled to
	// free memory. Terminal for the query.
	ErrMemLimitExceeded = errors.New("memory limit exceeded and no partition can be spilled")

	// ErrRepartitionLimit is returned when a partition still does not fit in
	// memory at the maximum repartitioning depth. Raise the memory quota or
	// use a broadcast join plan.
	ErrRepartitionLimit = errors.New("hash join partition does not fit in memory at max repartition depth")

	// ErrQueryInterrupted is returned when the query is cancelled externally.
	ErrQueryInterrupted = errors.New("query interrupted")
)
