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

	"github.com/gracedb/gracejoin/util/chunk"
)

func TestHashTablePutAndProbe(t *testing.T) {
	ht := newJoinHashTable(0)
	ht.Put(17, chunk.RowPtr{ChkIdx: 0, RowIdx: 0})
	ht.Put(17, chunk.RowPtr{ChkIdx: 0, RowIdx: 1})
	ht.Put(42, chunk.RowPtr{ChkIdx: 1, RowIdx: 0})
	require.Equal(t, uint64(3), ht.Len())

	var got []chunk.RowPtr
	for e := ht.Probe(17); e != nil; e = e.next {
		if e.hash == 17 {
			got = append(got, e.ptr)
		}
	}
	require.Len(t, got, 2)

	got = got[:0]
	for e := ht.Probe(99); e != nil; e = e.next {
		if e.hash == 99 {
			got = append(got, e.ptr)
		}
	}
	require.Empty(t, got)
}

func TestHashTableResizeKeepsEntries(t *testing.T) {
	ht := newJoinHashTable(0)
	const n = 10000
	for i := 0; i < n; i++ {
		ht.Put(uint32(i), chunk.RowPtr{ChkIdx: uint32(i >> 10), RowIdx: uint32(i & 1023)})
	}
	require.Equal(t, uint64(n), ht.Len())
	// The bucket slice must have doubled past the load factor threshold.
	require.GreaterOrEqual(t, len(ht.buckets)*loadFactorNum/loadFactorDen, n)

	for i := 0; i < n; i++ {
		found := false
		for e := ht.Probe(uint32(i)); e != nil; e = e.next {
			if e.hash == uint32(i) {
				found = true
				break
			}
		}
		require.True(t, found, "hash %d lost after resize", i)
	}
}

func TestHashTableMatchedFlagIteration(t *testing.T) {
	ht := newJoinHashTable(0)
	for i := 0; i < 100; i++ {
		ht.Put(uint32(i), chunk.RowPtr{RowIdx: uint32(i)})
	}
	// Mark the even entries as matched through probing.
	for i := 0; i < 100; i += 2 {
		for e := ht.Probe(uint32(i)); e != nil; e = e.next {
			if e.hash == uint32(i) {
				e.matched = true
			}
		}
	}

	unmatched := 0
	it := newHashTableIter(ht)
	for e := it.Next(); e != nil; e = it.Next() {
		if !e.matched {
			unmatched++
			require.Equal(t, uint32(1), e.ptr.RowIdx%2)
		}
	}
	require.Equal(t, 50, unmatched)
}

func TestHashTableMemoryDelta(t *testing.T) {
	ht := newJoinHashTable(0)
	delta := ht.GetAndCleanMemoryDelta()
	require.Greater(t, delta, int64(0))
	require.Zero(t, ht.GetAndCleanMemoryDelta())

	for i := 0; i < 10000; i++ {
		ht.Put(uint32(i), chunk.RowPtr{})
	}
	require.Greater(t, ht.GetAndCleanMemoryDelta(), int64(0))
}
