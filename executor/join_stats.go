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
	"fmt"
	"time"
)

// hashJoinRuntimeStats collects the observable counters of one hash join
// execution.
type hashJoinRuntimeStats struct {
	// partitionsCreated is the total number of partitions created.
	partitionsCreated int64
	// spilledPartitions is the number of partitions that have been spilled.
	spilledPartitions int64
	// repartitions is the number of partitions that have been repartitioned.
	repartitions int64
	// maxPartitionLevel is the deepest repartitioning level reached.
	maxPartitionLevel int
	// buildRowsPartitioned / probeRowsPartitioned count routed rows.
	buildRowsPartitioned int64
	probeRowsPartitioned int64
	// largestPartitionPercent is the largest fraction (of the build side)
	// after a partitioning pass, in percent. A value much larger than
	// 100 / fanout indicates skew.
	largestPartitionPercent int64
	// probeCollision counts hash collisions rejected by key equality.
	probeCollision int64
	// buildTableElapse is the total time spent partitioning the build input
	// and constructing hash tables.
	buildTableElapse time.Duration
}

func (s *hashJoinRuntimeStats) onPartitioningPass(rowsPerPartition []int64, total int64) {
	if total <= 0 {
		return
	}
	var largest int64
	for _, n := range rowsPerPartition {
		if n > largest {
			largest = n
		}
	}
	percent := largest * 100 / total
	if percent > s.largestPartitionPercent {
		s.largestPartitionPercent = percent
	}
}

// String implements fmt.Stringer.
func (s *hashJoinRuntimeStats) String() string {
	return fmt.Sprintf("partitions:%v, spilled:%v, repartitions:%v, max_level:%v, "+
		"build_rows:%v, probe_rows:%v, largest_partition_percent:%v, probe_collision:%v, build:%v",
		s.partitionsCreated, s.spilledPartitions, s.repartitions, s.maxPartitionLevel,
		s.buildRowsPartitioned, s.probeRowsPartitioned, s.largestPartitionPercent,
		s.probeCollision, s.buildTableElapse)
}
