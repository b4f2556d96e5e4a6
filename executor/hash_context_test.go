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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

func newTestHashCtx(nullEQ []bool) *hashContext {
	fields := intStrTypes()
	return newHashContext([]int{0}, []int{0}, fields, fields, nullEQ)
}

func makeKeyRow(fields []*types.FieldType, key int64) chunk.Row {
	chk := chunk.NewChunkWithCapacity(fields, 1)
	chk.AppendInt64(0, key)
	chk.AppendString(1, "v")
	return chk.GetRow(0)
}

func TestHashContextBuildProbeAgree(t *testing.T) {
	hc := newTestHashCtx(nil)
	fields := intStrTypes()
	for key := int64(0); key < 100; key++ {
		bh, _, err := hc.hashBuildRow(makeKeyRow(fields, key))
		require.NoError(t, err)
		ph, _, err := hc.hashProbeRow(makeKeyRow(fields, key))
		require.NoError(t, err)
		require.Equal(t, bh, ph)
	}
}

func TestRehashForLevelChangesAssignment(t *testing.T) {
	hc := newTestHashCtx(nil)
	fields := intStrTypes()

	const n = 4096
	level0 := make([]uint32, n)
	for i := 0; i < n; i++ {
		h, _, err := hc.hashBuildRow(makeKeyRow(fields, int64(i)))
		require.NoError(t, err)
		level0[i] = h
	}

	hc.rehashForLevel(1)
	moved := 0
	for i := 0; i < n; i++ {
		h, _, err := hc.hashBuildRow(makeKeyRow(fields, int64(i)))
		require.NoError(t, err)
		if h != level0[i] {
			moved++
		}
	}
	// A level change must produce a statistically independent hash; nearly
	// every key should move.
	require.Greater(t, moved, n*9/10)

	// Rehashing back restores the original assignment: the hash is a pure
	// function of (level, key).
	hc.rehashForLevel(0)
	for i := 0; i < 100; i++ {
		h, _, err := hc.hashBuildRow(makeKeyRow(fields, int64(i)))
		require.NoError(t, err)
		require.Equal(t, level0[i], h)
	}
}

func TestEqualJoinKeysNullPolicy(t *testing.T) {
	fields := intStrTypes()
	nullRow := func() chunk.Row {
		chk := chunk.NewChunkWithCapacity(fields, 1)
		chk.AppendNull(0)
		chk.AppendString(1, "v")
		return chk.GetRow(0)
	}

	hc := newTestHashCtx(nil)
	eq, err := hc.equalJoinKeys(nullRow(), nullRow())
	require.NoError(t, err)
	require.False(t, eq)
	require.False(t, hc.anyNullEQ())

	hc = newTestHashCtx([]bool{true})
	eq, err = hc.equalJoinKeys(nullRow(), nullRow())
	require.NoError(t, err)
	require.True(t, eq)
	require.True(t, hc.anyNullEQ())

	eq, err = hc.equalJoinKeys(makeKeyRow(fields, 1), makeKeyRow(fields, 1))
	require.NoError(t, err)
	require.True(t, eq)
}
