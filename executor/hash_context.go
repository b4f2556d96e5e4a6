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

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
	"github.com/gracedb/gracejoin/util/codec"
)

// hashSeedBase is the seed of the level-0 hash function.
const hashSeedBase uint32 = 0x3f863fd9

// hashContext evaluates equi-join key expressions on build and probe rows and
// produces a 32-bit hash plus a key-equality check. Rehashing for a deeper
// partition level mixes a level-specific salt into the seed so that every
// level produces statistically independent bucket assignments.
type hashContext struct {
	buildTypes []*types.FieldType
	probeTypes []*types.FieldType

	buildKeyColIdx []int
	probeKeyColIdx []int

	// nullEQ controls NULL = NULL matching per equi-predicate.
	nullEQ []bool

	level int
	seed  uint32
	buf   []byte
}

func newHashContext(buildKeys, probeKeys []int, buildTypes, probeTypes []*types.FieldType, nullEQ []bool) *hashContext {
	hc := &hashContext{
		buildTypes:     buildTypes,
		probeTypes:     probeTypes,
		buildKeyColIdx: buildKeys,
		probeKeyColIdx: probeKeys,
		nullEQ:         nullEQ,
	}
	hc.rehashForLevel(0)
	return hc
}

// rehashForLevel reconfigures the hash so that the given level produces a
// hash independent from all shallower levels.
func (hc *hashContext) rehashForLevel(level int) {
	hc.level = level
	hc.seed = hashSeedBase + uint32(level)*0x9e3779b9
}

// hashBuildRow returns the hash of the build-side join key of row and whether
// any key column is NULL.
func (hc *hashContext) hashBuildRow(row chunk.Row) (hash uint32, hasNull bool, err error) {
	hash, hasNull, hc.buf, err = codec.HashChunkRow(row, hc.buildTypes, hc.buildKeyColIdx, hc.seed, hc.buf)
	return hash, hasNull, errors.Trace(err)
}

// hashProbeRow is the probe-side counterpart of hashBuildRow. Equal join keys
// produce identical hashes on both sides.
func (hc *hashContext) hashProbeRow(row chunk.Row) (hash uint32, hasNull bool, err error) {
	hash, hasNull, hc.buf, err = codec.HashChunkRow(row, hc.probeTypes, hc.probeKeyColIdx, hc.seed, hc.buf)
	return hash, hasNull, errors.Trace(err)
}

// equalJoinKeys checks whether the join keys of buildRow and probeRow are
// logically equal under the configured NULL-equality policy.
func (hc *hashContext) equalJoinKeys(buildRow, probeRow chunk.Row) (bool, error) {
	return codec.EqualChunkRow(
		buildRow, hc.buildTypes, hc.buildKeyColIdx,
		probeRow, hc.probeTypes, hc.probeKeyColIdx,
		hc.nullEQ)
}

// anyNullEQ reports whether any equi-predicate matches NULL with NULL. When
// false, a probe row with a NULL key can never match and is short-circuited.
func (hc *hashContext) anyNullEQ() bool {
	for _, eq := range hc.nullEQ {
		if eq {
			return true
		}
	}
	return false
}
