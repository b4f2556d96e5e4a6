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
	"github.com/pingcap/failpoint"

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
	"github.com/gracedb/gracejoin/util/disk"
	"github.com/gracedb/gracejoin/util/memory"
)

// joinContext carries the read-only state partition operations need: the hash
// context, the operator's quota-bearing memory tracker and its disk tracker.
// Partitions hold no pointer back to the executor.
type joinContext struct {
	hashCtx      *hashContext
	memTracker   *memory.Tracker
	diskTracker  *disk.Tracker
	maxChunkSize int
}

// partition is one bucket of a hash-based split of the join input. It owns a
// build row stream, a lazily allocated probe row stream and, while in memory,
// a hash table over the build rows. A partition whose build stream lives on
// disk and has no hash table is spilled.
type partition struct {
	// level is the number of times rows in this partition have been
	// repartitioned. Partitions fed from the children are level 0.
	level int

	buildTypes []*types.FieldType
	probeTypes []*types.FieldType

	buildRows *chunk.RowContainer
	probeRows *chunk.RowContainer

	buildWriteChk *chunk.Chunk
	probeWriteChk *chunk.Chunk

	hashTbl    *joinHashTable
	htMemUsage int64

	closed bool
}

func newPartition(ctx *joinContext, level int, buildTypes, probeTypes []*types.FieldType) *partition {
	p := &partition{
		level:      level,
		buildTypes: buildTypes,
		probeTypes: probeTypes,
		buildRows:  chunk.NewRowContainer(buildTypes, ctx.maxChunkSize),
	}
	p.buildRows.GetMemTracker().AttachTo(ctx.memTracker)
	p.buildRows.GetMemTracker().SetLabel(memory.LabelForBuildSideResult)
	p.buildRows.GetDiskTracker().AttachTo(ctx.diskTracker)
	return p
}

// isSpilled reports whether the build stream of this partition lives on disk.
func (p *partition) isSpilled() bool {
	return p.buildRows.AlreadySpilled()
}

// fullySpilled reports whether both streams live on disk, so spilling this
// partition again cannot release any memory.
func (p *partition) fullySpilled() bool {
	return p.buildRows.AlreadySpilled() && (p.probeRows == nil || p.probeRows.AlreadySpilled())
}

// appendBuild appends a build row to the partition. It returns false without
// appending when flushing the pending write chunk would exceed the memory
// quota; the caller reacts by spilling some partition and retrying.
func (p *partition) appendBuild(ctx *joinContext, row chunk.Row) (ok bool, err error) {
	if p.buildWriteChk == nil {
		p.buildWriteChk = chunk.New(p.buildTypes, ctx.maxChunkSize, ctx.maxChunkSize)
	}
	if p.buildWriteChk.NumRows() >= ctx.maxChunkSize {
		if ok, err = p.flushBuild(ctx); !ok || err != nil {
			return ok, err
		}
	}
	p.buildWriteChk.AppendRow(row)
	return true, nil
}

// appendProbe appends a probe row destined for a spilled partition.
func (p *partition) appendProbe(ctx *joinContext, row chunk.Row) (ok bool, err error) {
	if p.probeRows == nil {
		p.probeRows = chunk.NewRowContainer(p.probeTypes, ctx.maxChunkSize)
		p.probeRows.GetMemTracker().AttachTo(ctx.memTracker)
		p.probeRows.GetMemTracker().SetLabel(memory.LabelForProbeSideResult)
		p.probeRows.GetDiskTracker().AttachTo(ctx.diskTracker)
	}
	if p.probeWriteChk == nil {
		p.probeWriteChk = chunk.New(p.probeTypes, ctx.maxChunkSize, ctx.maxChunkSize)
	}
	if p.probeWriteChk.NumRows() >= ctx.maxChunkSize {
		if ok, err = p.flushProbe(ctx); !ok || err != nil {
			return ok, err
		}
	}
	p.probeWriteChk.AppendRow(row)
	return true, nil
}

func (p *partition) flushBuild(ctx *joinContext) (ok bool, err error) {
	if p.buildWriteChk == nil || p.buildWriteChk.NumRows() == 0 {
		return true, nil
	}
	if !p.buildRows.AlreadySpilled() && ctx.memTracker.WouldExceed(p.buildWriteChk.MemoryUsage()) {
		return false, nil
	}
	if err = p.buildRows.Add(p.buildWriteChk); err != nil {
		return false, errors.Trace(err)
	}
	p.buildWriteChk = chunk.New(p.buildTypes, ctx.maxChunkSize, ctx.maxChunkSize)
	return true, nil
}

func (p *partition) flushProbe(ctx *joinContext) (ok bool, err error) {
	if p.probeWriteChk == nil || p.probeWriteChk.NumRows() == 0 {
		return true, nil
	}
	if !p.probeRows.AlreadySpilled() && ctx.memTracker.WouldExceed(p.probeWriteChk.MemoryUsage()) {
		return false, nil
	}
	if err = p.probeRows.Add(p.probeWriteChk); err != nil {
		return false, errors.Trace(err)
	}
	p.probeWriteChk = chunk.New(p.probeTypes, ctx.maxChunkSize, ctx.maxChunkSize)
	return true, nil
}

// flushProbeForce flushes the pending probe rows before the stream is read
// back. If the flush does not fit in memory the stream is spilled first so
// the write goes through to disk.
func (p *partition) flushProbeForce(ctx *joinContext) error {
	if p.probeRows == nil {
		return nil
	}
	ok, err := p.flushProbe(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err = p.probeRows.SpillToDisk(); err != nil {
		return errors.Trace(err)
	}
	_, err = p.flushProbe(ctx)
	return err
}

// spill unpins both streams of the partition, releasing their memory. The
// hash table, if any, is dropped first.
func (p *partition) spill(ctx *joinContext) error {
	p.releaseHashTable(ctx)
	if p.buildWriteChk != nil && p.buildWriteChk.NumRows() > 0 {
		if err := p.buildRows.Add(p.buildWriteChk); err != nil {
			return errors.Trace(err)
		}
		p.buildWriteChk = nil
	}
	if err := p.buildRows.SpillToDisk(); err != nil {
		return errors.Trace(err)
	}
	if p.probeRows != nil {
		if p.probeWriteChk != nil && p.probeWriteChk.NumRows() > 0 {
			if err := p.probeRows.Add(p.probeWriteChk); err != nil {
				return errors.Trace(err)
			}
			p.probeWriteChk = nil
		}
		if err := p.probeRows.SpillToDisk(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (p *partition) releaseHashTable(ctx *joinContext) {
	if p.hashTbl == nil {
		return
	}
	p.hashTbl = nil
	ctx.memTracker.Consume(-p.htMemUsage)
	p.htMemUsage = 0
}

// pinnedSize returns the bytes of this partition currently resident in
// memory. Used by the spill policy to pick a victim.
func (p *partition) pinnedSize() int64 {
	size := p.buildRows.GetMemTracker().BytesConsumed() + p.htMemUsage
	if p.buildWriteChk != nil {
		size += p.buildWriteChk.MemoryUsage()
	}
	if p.probeRows != nil {
		size += p.probeRows.GetMemTracker().BytesConsumed()
	}
	if p.probeWriteChk != nil {
		size += p.probeWriteChk.MemoryUsage()
	}
	return size
}

// estimatedInMemSize returns the bytes needed to hold all build rows pinned
// plus the hash table over them.
func (p *partition) estimatedInMemSize() int64 {
	var buildBytes int64
	if p.buildRows.AlreadySpilled() {
		buildBytes = p.buildRows.GetDiskTracker().BytesConsumed()
	} else {
		buildBytes = p.buildRows.GetMemTracker().BytesConsumed()
	}
	if p.buildWriteChk != nil {
		buildBytes += p.buildWriteChk.MemoryUsage()
	}
	return buildBytes + int64(p.buildRows.NumRow())*estimatedEntrySize
}

// buildHashTable pins the build stream and constructs the hash table from it.
// Build rows cannot be appended after calling this. If the partition could
// not be built due to memory pressure, built is false and the build stream is
// left spilled.
func (p *partition) buildHashTable(ctx *joinContext) (built bool, err error) {
	if ok, err := p.flushBuild(ctx); err != nil {
		return false, err
	} else if !ok {
		return false, p.spill(ctx)
	}
	failpoint.Inject("buildHashTablePanic", nil)
	if p.buildRows.AlreadySpilled() {
		if ctx.memTracker.WouldExceed(p.estimatedInMemSize()) {
			return false, nil
		}
		if err = p.buildRows.PinForRead(); err != nil {
			return false, errors.Trace(err)
		}
		if ctx.memTracker.CheckExceed() {
			return false, errors.Trace(p.buildRows.SpillToDisk())
		}
	}

	numChunks := p.buildRows.NumChunks()
	ht := newJoinHashTable(p.buildRows.NumRow())
	for chkIdx := 0; chkIdx < numChunks; chkIdx++ {
		chk, err := p.buildRows.GetChunk(chkIdx)
		if err != nil {
			return false, errors.Trace(err)
		}
		numRows := chk.NumRows()
		for rowIdx := 0; rowIdx < numRows; rowIdx++ {
			hash, _, err := ctx.hashCtx.hashBuildRow(chk.GetRow(rowIdx))
			if err != nil {
				return false, errors.Trace(err)
			}
			// Rows with NULL keys are inserted too: they can match under a
			// NULL-equal predicate and the right outer family must see them
			// as unmatched entries otherwise.
			ht.Put(hash, chunk.RowPtr{ChkIdx: uint32(chkIdx), RowIdx: uint32(rowIdx)})
		}
		delta := ht.GetAndCleanMemoryDelta()
		p.htMemUsage += delta
		ctx.memTracker.Consume(delta)
	}
	if ctx.memTracker.CheckExceed() {
		ctx.memTracker.Consume(-p.htMemUsage)
		p.htMemUsage = 0
		return false, errors.Trace(p.buildRows.SpillToDisk())
	}
	p.hashTbl = ht
	return true, nil
}

// close releases the hash table and both streams. A partition is closed
// exactly once; after close it owns nothing.
func (p *partition) close(ctx *joinContext) error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.releaseHashTable(ctx)
	p.buildWriteChk = nil
	p.probeWriteChk = nil
	err := p.buildRows.Close()
	if p.probeRows != nil {
		if err2 := p.probeRows.Close(); err == nil {
			err = err2
		}
	}
	return errors.Trace(err)
}
