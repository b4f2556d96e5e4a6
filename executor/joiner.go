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

	"github.com/gracedb/gracejoin/expression"
	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

var (
	_ joiner = &innerJoiner{}
	_ joiner = &leftOuterJoiner{}
	_ joiner = &rightOuterJoiner{}
	_ joiner = &fullOuterJoiner{}
	_ joiner = &leftSemiJoiner{}
	_ joiner = &leftAntiJoiner{}
	_ joiner = &rightSemiJoiner{}
	_ joiner = &rightAntiJoiner{}
)

// joiner is used to generate join results according to the join type, see
// every implementor for detailed information. The combined row layout is
// probe (left) columns followed by build (right) columns; the non-equi
// conditions are evaluated over that layout.
type joiner interface {
	// tryToMatch checks whether probeRow can be joined with buildRow under
	// the other conditions, writes the join result to chk if the variant
	// emits on match, and reports whether the pair matched.
	// buildFirstMatch is true if no previous probe row matched buildRow; the
	// right semi join uses it to emit each build row exactly once.
	tryToMatch(probeRow, buildRow chunk.Row, buildFirstMatch bool, chk *chunk.Chunk) (bool, error)

	// onMissMatch is called when probeRow is not matched by any build row.
	onMissMatch(probeRow chunk.Row, chk *chunk.Chunk)

	// onUnmatchedBuild is called after the probe side is exhausted for every
	// build row no probe row matched.
	onUnmatchedBuild(buildRow chunk.Row, chk *chunk.Chunk)
}

func newJoiner(joinType JoinType, conditions expression.CNFExprs,
	probeTypes, buildTypes []*types.FieldType) joiner {
	base := baseJoiner{
		conditions:   conditions,
		numProbeCols: len(probeTypes),
	}
	base.shadowChk = chunk.NewChunkWithCapacity(append(append([]*types.FieldType{}, probeTypes...), buildTypes...), 1)
	base.defaultProbeRow = allNullRow(probeTypes)
	base.defaultBuildRow = allNullRow(buildTypes)
	switch joinType {
	case InnerJoin:
		return &innerJoiner{base}
	case LeftOuterJoin:
		return &leftOuterJoiner{base}
	case RightOuterJoin:
		return &rightOuterJoiner{base}
	case FullOuterJoin:
		return &fullOuterJoiner{base}
	case LeftSemiJoin:
		return &leftSemiJoiner{base}
	case LeftAntiJoin:
		return &leftAntiJoiner{base}
	case RightSemiJoin:
		return &rightSemiJoiner{base}
	case RightAntiJoin:
		return &rightAntiJoiner{base}
	}
	panic("unsupported join type in func newJoiner()")
}

func allNullRow(fieldTypes []*types.FieldType) chunk.Row {
	chk := chunk.NewChunkWithCapacity(fieldTypes, 1)
	for i := range fieldTypes {
		chk.AppendNull(i)
	}
	return chk.GetRow(0)
}

type baseJoiner struct {
	conditions   expression.CNFExprs
	shadowChk    *chunk.Chunk
	numProbeCols int

	defaultProbeRow chunk.Row
	defaultBuildRow chunk.Row
}

// makeJoinedRow combines probeRow and buildRow into the scratch chunk for
// condition evaluation and emission.
func (j *baseJoiner) makeJoinedRow(probeRow, buildRow chunk.Row) chunk.Row {
	j.shadowChk.Reset()
	j.shadowChk.AppendPartialRow(0, probeRow)
	j.shadowChk.AppendPartialRow(j.numProbeCols, buildRow)
	return j.shadowChk.GetRow(0)
}

// filterJoinedRow applies the other conditions to the combined row.
func (j *baseJoiner) filterJoinedRow(joinedRow chunk.Row) (bool, error) {
	if len(j.conditions) == 0 {
		return true, nil
	}
	matched, err := j.conditions.EvalBool(joinedRow)
	return matched, errors.Trace(err)
}

// appendProbeWithNullBuild emits probeRow padded with NULL build columns.
func (j *baseJoiner) appendProbeWithNullBuild(probeRow chunk.Row, chk *chunk.Chunk) {
	chk.AppendPartialRow(0, probeRow)
	chk.AppendPartialRow(j.numProbeCols, j.defaultBuildRow)
}

// appendBuildWithNullProbe emits buildRow padded with NULL probe columns.
func (j *baseJoiner) appendBuildWithNullProbe(buildRow chunk.Row, chk *chunk.Chunk) {
	chk.AppendPartialRow(0, j.defaultProbeRow)
	chk.AppendPartialRow(j.numProbeCols, buildRow)
}

type innerJoiner struct {
	baseJoiner
}

func (j *innerJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, chk *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	if err != nil || !matched {
		return false, err
	}
	chk.AppendRow(joinedRow)
	return true, nil
}

func (j *innerJoiner) onMissMatch(_ chunk.Row, _ *chunk.Chunk) {}

func (j *innerJoiner) onUnmatchedBuild(_ chunk.Row, _ *chunk.Chunk) {}

type leftOuterJoiner struct {
	baseJoiner
}

func (j *leftOuterJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, chk *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	if err != nil || !matched {
		return false, err
	}
	chk.AppendRow(joinedRow)
	return true, nil
}

func (j *leftOuterJoiner) onMissMatch(probeRow chunk.Row, chk *chunk.Chunk) {
	j.appendProbeWithNullBuild(probeRow, chk)
}

func (j *leftOuterJoiner) onUnmatchedBuild(_ chunk.Row, _ *chunk.Chunk) {}

type rightOuterJoiner struct {
	baseJoiner
}

func (j *rightOuterJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, chk *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	if err != nil || !matched {
		return false, err
	}
	chk.AppendRow(joinedRow)
	return true, nil
}

func (j *rightOuterJoiner) onMissMatch(_ chunk.Row, _ *chunk.Chunk) {}

func (j *rightOuterJoiner) onUnmatchedBuild(buildRow chunk.Row, chk *chunk.Chunk) {
	j.appendBuildWithNullProbe(buildRow, chk)
}

type fullOuterJoiner struct {
	baseJoiner
}

func (j *fullOuterJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, chk *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	if err != nil || !matched {
		return false, err
	}
	chk.AppendRow(joinedRow)
	return true, nil
}

func (j *fullOuterJoiner) onMissMatch(probeRow chunk.Row, chk *chunk.Chunk) {
	j.appendProbeWithNullBuild(probeRow, chk)
}

func (j *fullOuterJoiner) onUnmatchedBuild(buildRow chunk.Row, chk *chunk.Chunk) {
	j.appendBuildWithNullProbe(buildRow, chk)
}

// leftSemiJoiner emits the probe row once on its first match; the caller
// stops probing the key after that.
type leftSemiJoiner struct {
	baseJoiner
}

func (j *leftSemiJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, chk *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	if err != nil || !matched {
		return false, err
	}
	chk.AppendRow(probeRow)
	return true, nil
}

func (j *leftSemiJoiner) onMissMatch(_ chunk.Row, _ *chunk.Chunk) {}

func (j *leftSemiJoiner) onUnmatchedBuild(_ chunk.Row, _ *chunk.Chunk) {}

// leftAntiJoiner drops matched probe rows and emits unmatched ones.
type leftAntiJoiner struct {
	baseJoiner
}

func (j *leftAntiJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, _ *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	return matched, err
}

func (j *leftAntiJoiner) onMissMatch(probeRow chunk.Row, chk *chunk.Chunk) {
	chk.AppendRow(probeRow)
}

func (j *leftAntiJoiner) onUnmatchedBuild(_ chunk.Row, _ *chunk.Chunk) {}

// rightSemiJoiner emits each matched build row exactly once, on its first
// match; the matched flag in the hash table provides the bookkeeping.
type rightSemiJoiner struct {
	baseJoiner
}

func (j *rightSemiJoiner) tryToMatch(probeRow, buildRow chunk.Row, buildFirstMatch bool, chk *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	if err != nil || !matched {
		return false, err
	}
	if buildFirstMatch {
		chk.AppendRow(buildRow)
	}
	return true, nil
}

func (j *rightSemiJoiner) onMissMatch(_ chunk.Row, _ *chunk.Chunk) {}

func (j *rightSemiJoiner) onUnmatchedBuild(_ chunk.Row, _ *chunk.Chunk) {}

// rightAntiJoiner emits nothing during the probe phase; unmatched build rows
// are flushed after the probe side drains.
type rightAntiJoiner struct {
	baseJoiner
}

func (j *rightAntiJoiner) tryToMatch(probeRow, buildRow chunk.Row, _ bool, _ *chunk.Chunk) (bool, error) {
	joinedRow := j.makeJoinedRow(probeRow, buildRow)
	matched, err := j.filterJoinedRow(joinedRow)
	return matched, err
}

func (j *rightAntiJoiner) onMissMatch(_ chunk.Row, _ *chunk.Chunk) {}

func (j *rightAntiJoiner) onUnmatchedBuild(buildRow chunk.Row, chk *chunk.Chunk) {
	chk.AppendRow(buildRow)
}
