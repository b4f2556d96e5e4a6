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

// JoinType is the join variant: inner, left/right/full outer, left/right semi
// or left/right anti.
type JoinType int

const (
	// InnerJoin means inner join.
	InnerJoin JoinType = iota
	// LeftOuterJoin means left outer join.
	LeftOuterJoin
	// RightOuterJoin means right outer join.
	RightOuterJoin
	// FullOuterJoin means full outer join.
	FullOuterJoin
	// LeftSemiJoin means left semi join: emit each probe row that has a match.
	LeftSemiJoin
	// LeftAntiJoin means left anti semi join: emit each probe row without a match.
	LeftAntiJoin
	// RightSemiJoin means right semi join: emit each build row that has a match.
	RightSemiJoin
	// RightAntiJoin means right anti semi join: emit each build row without a match.
	RightAntiJoin
)

// String implements fmt.Stringer interface.
func (tp JoinType) String() string {
	switch tp {
	case InnerJoin:
		return "inner join"
	case LeftOuterJoin:
		return "left outer join"
	case RightOuterJoin:
		return "right outer join"
	case FullOuterJoin:
		return "full outer join"
	case LeftSemiJoin:
		return "left semi join"
	case LeftAntiJoin:
		return "left anti join"
	case RightSemiJoin:
		return "right semi join"
	case RightAntiJoin:
		return "right anti join"
	}
	return "unsupported join type"
}

// needBuildMatchedFlag reports whether the join variant must record which
// build rows have been matched.
func (tp JoinType) needBuildMatchedFlag() bool {
	switch tp {
	case RightOuterJoin, FullOuterJoin, RightSemiJoin, RightAntiJoin:
		return true
	}
	return false
}

// needUnmatchedBuildOutput reports whether the join variant emits build rows
// no probe row matched, after the probe side is drained.
func (tp JoinType) needUnmatchedBuildOutput() bool {
	switch tp {
	case RightOuterJoin, FullOuterJoin, RightAntiJoin:
		return true
	}
	return false
}

// probeStopsAfterFirstMatch reports whether probing a key can stop at the
// first matching build row.
func (tp JoinType) probeStopsAfterFirstMatch() bool {
	return tp == LeftSemiJoin || tp == LeftAntiJoin
}
