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
	"unsafe"

	"github.com/gracedb/gracejoin/util/chunk"
)

const (
	initialEntrySliceLen = 64
	maxEntrySliceLen     = 8192

	initialBucketCount = 64
	// The bucket slice is doubled once length exceeds
	// bucketCount * loadFactorNum / loadFactorDen.
	loadFactorNum = 3
	loadFactorDen = 4
)

// hashTableEntry records one build row in a join hash table. The key is
// implicit: ptr points into the partition's pinned build stream and equality
// is delegated to the hash context. matched is set the first time the entry
// participates in a successful match; it drives the unmatched-build output of
// the right outer join family.
type hashTableEntry struct {
	next    *hashTableEntry
	ptr     chunk.RowPtr
	hash    uint32
	matched bool
}

// entryStore allocates entries in chunked slices to keep GC overhead low.
type entryStore struct {
	slices [][]hashTableEntry
	cursor int
}

func newEntryStore() *entryStore {
	es := new(entryStore)
	es.slices = [][]hashTableEntry{make([]hashTableEntry, initialEntrySliceLen)}
	es.cursor = 0
	return es
}

func (es *entryStore) GetStore() (e *hashTableEntry, memDelta int64) {
	sliceIdx := len(es.slices) - 1
	slice := es.slices[sliceIdx]
	if es.cursor >= cap(slice) {
		size := cap(slice) * 2
		if size >= maxEntrySliceLen {
			size = maxEntrySliceLen
		}
		slice = make([]hashTableEntry, size)
		es.slices = append(es.slices, slice)
		sliceIdx++
		es.cursor = 0
		memDelta = int64(unsafe.Sizeof(hashTableEntry{})) * int64(size)
	}
	e = &es.slices[sliceIdx][es.cursor]
	es.cursor++
	return
}

// joinHashTable is a bucketed hash table over row pointers drawn from a
// pinned build stream. Collisions chain through next pointers; the bucket
// slice doubles when the load factor crosses 3/4. Entries are never moved or
// invalidated while a probe is in progress, only rechained on resize.
type joinHashTable struct {
	buckets    []*hashTableEntry
	entryStore *entryStore
	length     uint64

	// memDelta is the untracked memory usage since the last call to
	// GetAndCleanMemoryDelta.
	memDelta int64
}

func newJoinHashTable(estCount int) *joinHashTable {
	bucketCount := initialBucketCount
	for bucketCount*loadFactorNum/loadFactorDen < estCount {
		bucketCount *= 2
	}
	ht := &joinHashTable{
		buckets:    make([]*hashTableEntry, bucketCount),
		entryStore: newEntryStore(),
	}
	ht.memDelta = int64(bucketCount)*int64(unsafe.Sizeof((*hashTableEntry)(nil))) +
		int64(unsafe.Sizeof(hashTableEntry{}))*initialEntrySliceLen
	return ht
}

// Put inserts a row pointer with its hash value.
func (ht *joinHashTable) Put(hash uint32, ptr chunk.RowPtr) {
	if ht.length >= uint64(len(ht.buckets))*loadFactorNum/loadFactorDen {
		ht.resize()
	}
	e, memDelta := ht.entryStore.GetStore()
	idx := hash & uint32(len(ht.buckets)-1)
	e.ptr = ptr
	e.hash = hash
	e.matched = false
	e.next = ht.buckets[idx]
	ht.buckets[idx] = e
	ht.length++
	ht.memDelta += memDelta
}

func (ht *joinHashTable) resize() {
	newBuckets := make([]*hashTableEntry, len(ht.buckets)*2)
	mask := uint32(len(newBuckets) - 1)
	ht.walk(func(e *hashTableEntry) {
		idx := e.hash & mask
		e.next = newBuckets[idx]
		newBuckets[idx] = e
	})
	ht.memDelta += int64(len(newBuckets)-len(ht.buckets)) * int64(unsafe.Sizeof((*hashTableEntry)(nil)))
	ht.buckets = newBuckets
}

// walk visits every entry in insertion-arena order.
func (ht *joinHashTable) walk(f func(*hashTableEntry)) {
	for sliceIdx, slice := range ht.entryStore.slices {
		limit := len(slice)
		if sliceIdx == len(ht.entryStore.slices)-1 {
			limit = ht.entryStore.cursor
		}
		for i := 0; i < limit; i++ {
			f(&slice[i])
		}
	}
}

// Probe returns the head of the collision chain for hash. Callers must skip
// entries whose hash differs and apply key equality to the rest.
func (ht *joinHashTable) Probe(hash uint32) *hashTableEntry {
	return ht.buckets[hash&uint32(len(ht.buckets)-1)]
}

// Len returns the number of entries.
func (ht *joinHashTable) Len() uint64 {
	return ht.length
}

// GetAndCleanMemoryDelta gets and cleans the memDelta of the table. Memory
// delta is cleared after each fetch.
func (ht *joinHashTable) GetAndCleanMemoryDelta() int64 {
	memDelta := ht.memDelta
	ht.memDelta = 0
	return memDelta
}

// hashTableIter linearly traverses all entries of the table with access to
// the matched flag. Used to flush unmatched build rows after the probe side
// is exhausted.
type hashTableIter struct {
	ht       *joinHashTable
	sliceIdx int
	offset   int
}

func newHashTableIter(ht *joinHashTable) *hashTableIter {
	return &hashTableIter{ht: ht}
}

// Next returns the next entry, or nil when the table is exhausted.
func (it *hashTableIter) Next() *hashTableEntry {
	store := it.ht.entryStore
	for it.sliceIdx < len(store.slices) {
		slice := store.slices[it.sliceIdx]
		limit := len(slice)
		if it.sliceIdx == len(store.slices)-1 {
			limit = store.cursor
		}
		if it.offset < limit {
			e := &slice[it.offset]
			it.offset++
			return e
		}
		it.sliceIdx++
		it.offset = 0
	}
	return nil
}

// estimatedEntrySize is the per-row hash table overhead used when sizing a
// partition before its table is built.
const estimatedEntrySize = int64(unsafe.Sizeof(hashTableEntry{})) + int64(unsafe.Sizeof((*hashTableEntry)(nil)))
