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
	"context"
	"sort"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gracedb/gracejoin/config"
	"github.com/gracedb/gracejoin/expression"
	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
	"github.com/gracedb/gracejoin/util/disk"
	"github.com/gracedb/gracejoin/util/logutil"
	"github.com/gracedb/gracejoin/util/memory"
)

var _ Executor = &HashJoinExec{}

// joinState is the state of the partitioned hash join algorithm.
//
// The transition goes from partitioningBuild -> processingProbe ->
// probingSpilledPartition/repartitioning. The last two states switch back and
// forth as many times as spilled partitions need repartitioning.
type joinState int

const (
	// partitioningBuild: consuming the build child's input and splitting it
	// into hashPartitions. No hash tables are maintained yet.
	partitioningBuild joinState = iota

	// processingProbe: consuming the probe child's input. Rows belonging to
	// in-memory partitions are joined; rows belonging to spilled partitions
	// are appended to their probe streams.
	processingProbe

	// probingSpilledPartition: probing a single spilled partition whose hash
	// table fits in memory. Neither side needs to be partitioned again.
	probingSpilledPartition

	// repartitioning: splitting a single spilled partition into
	// hashPartitions with a deeper-level hash.
	repartitioning
)

// String implements fmt.Stringer.
func (s joinState) String() string {
	switch s {
	case partitioningBuild:
		return "PartitioningBuild"
	case processingProbe:
		return "ProcessingProbe"
	case probingSpilledPartition:
		return "ProbingSpilledPartition"
	case repartitioning:
		return "Repartitioning"
	}
	return "Unknown"
}

// HashJoinExec implements the partitioned hash join algorithm, spilling to
// disk as necessary. A spilled partition is one whose build stream lives on
// disk. The operator runs in these distinct phases:
//  1. Consume all build input and partition it. No hash tables are maintained.
//  2. Construct hash tables from as many partitions as possible.
//  3. Consume all the probe rows. Rows belonging to partitions that are
//     spilled are spilled as well.
//  4. Iterate over the spilled partitions: construct the hash table from the
//     spilled build rows and process the spilled probe rows. If the partition
//     is still too big, repeat steps 1-4 using its build and probe streams as
//     input with a deeper-level hash.
type HashJoinExec struct {
	baseExecutor

	probeSideExec Executor
	buildSideExec Executor
	probeKeys     []*expression.Column
	buildKeys     []*expression.Column
	probeTypes    []*types.FieldType
	buildTypes    []*types.FieldType

	// nullEQ controls NULL = NULL matching per equi-predicate.
	nullEQ          []bool
	otherConditions expression.CNFExprs
	joinType        JoinType

	joinCfg config.JoinConfig
	// JoinConf overrides the global join configuration when set. It is a
	// testing hook to lower the fanout or the in-memory table cap.
	JoinConf *config.JoinConfig
	// MemQuota is the bytes limit for this join. <= 0 falls back to the
	// global configuration.
	MemQuota int64

	joinCtx *joinContext
	joiner  joiner
	state   joinState

	// hashPartitions is the current fan-out, only used while partitioning
	// the build and probe inputs.
	hashPartitions []*partition
	// spilledPartitions holds partitions spilled on both sides that still
	// need processing, in FIFO order. Repartitioning appends to it.
	spilledPartitions []*partition
	// inputPartition is the spilled partition currently being consumed as
	// the source of build and probe rows.
	inputPartition *partition
	// outputBuildPartitions holds partitions whose probe side is exhausted
	// but whose unmatched build rows still need to be emitted.
	outputBuildPartitions []*partition

	// Probe cursor. The probe source is either the probe child or the probe
	// stream of inputPartition.
	probeFromChild bool
	childProbeChk  *chunk.Chunk
	probeContainer *chunk.RowContainer
	probeChk       *chunk.Chunk
	probeRowIdx    int
	probeChkIdx    int
	probeDrained   bool

	// Mid-row probe state, kept across Next calls when the output batch
	// fills up in the middle of a collision chain.
	probeSuspended bool
	curProbeRow    chunk.Row
	curHash        uint32
	curEntry       *hashTableEntry
	curHasMatch    bool
	curPartition   *partition

	// unmatchedIter sweeps the hash table of the front output partition.
	unmatchedIter *hashTableIter

	memTracker  *memory.Tracker
	diskTracker *disk.Tracker

	stats    hashJoinRuntimeStats
	prepared bool
	finished atomic.Bool
}

// NewHashJoinExec creates a HashJoinExec. The build side is consumed fully
// before the first row is produced; output rows are the probe (left) columns
// followed by the build (right) columns, or one side only for the semi/anti
// variants.
func NewHashJoinExec(id string, joinType JoinType, buildSideExec, probeSideExec Executor,
	buildKeys, probeKeys []*expression.Column, nullEQ []bool,
	otherConditions expression.CNFExprs, maxChunkSize int) *HashJoinExec {
	buildTypes, probeTypes := retTypes(buildSideExec), retTypes(probeSideExec)
	e := &HashJoinExec{
		baseExecutor:    newBaseExecutor(id, joinRetTypes(joinType, probeTypes, buildTypes), maxChunkSize, buildSideExec, probeSideExec),
		probeSideExec:   probeSideExec,
		buildSideExec:   buildSideExec,
		probeKeys:       probeKeys,
		buildKeys:       buildKeys,
		probeTypes:      probeTypes,
		buildTypes:      buildTypes,
		nullEQ:          nullEQ,
		otherConditions: otherConditions,
		joinType:        joinType,
	}
	return e
}

// joinRetTypes returns the output column types of the join.
func joinRetTypes(joinType JoinType, probeTypes, buildTypes []*types.FieldType) []*types.FieldType {
	switch joinType {
	case LeftSemiJoin, LeftAntiJoin:
		return probeTypes
	case RightSemiJoin, RightAntiJoin:
		return buildTypes
	}
	ret := make([]*types.FieldType, 0, len(probeTypes)+len(buildTypes))
	ret = append(ret, probeTypes...)
	return append(ret, buildTypes...)
}

// Open implements the Executor Open interface.
func (e *HashJoinExec) Open(ctx context.Context) error {
	if err := e.baseExecutor.Open(ctx); err != nil {
		return err
	}

	cfg := config.GetGlobalConfig()
	e.joinCfg = cfg.Join
	if e.JoinConf != nil {
		e.joinCfg = *e.JoinConf
	}
	if e.joinCfg.MaxInMemBuildTables <= 0 {
		e.joinCfg.MaxInMemBuildTables = e.joinCfg.PartitionFanout
	}
	if cfg.TempStoragePath != "" {
		disk.SetTempDir(cfg.TempStoragePath)
	}
	quota := e.MemQuota
	if quota <= 0 {
		quota = cfg.MemQuota
	}

	e.memTracker = memory.NewTracker(memory.LabelForHashJoinExec, quota)
	e.diskTracker = disk.NewTracker(memory.LabelForHashJoinExec, -1)

	hashCtx := newHashContext(
		colIndexes(e.buildKeys), colIndexes(e.probeKeys),
		e.buildTypes, e.probeTypes, e.nullEQ)
	e.joinCtx = &joinContext{
		hashCtx:      hashCtx,
		memTracker:   e.memTracker,
		diskTracker:  e.diskTracker,
		maxChunkSize: e.maxChunkSize,
	}
	e.joiner = newJoiner(e.joinType, e.otherConditions, e.probeTypes, e.buildTypes)

	e.state = partitioningBuild
	e.prepared = false
	e.finished.Store(false)
	e.probeDrained = false
	e.probeSuspended = false
	e.probeFromChild = true
	e.stats = hashJoinRuntimeStats{}
	return nil
}

func colIndexes(cols []*expression.Column) []int {
	idx := make([]int, len(cols))
	for i, col := range cols {
		idx[i] = col.Index
	}
	return idx
}

// Close implements the Executor Close interface.
func (e *HashJoinExec) Close() error {
	e.finished.Store(true)
	if e.joinCtx != nil {
		e.releaseAllPartitions()
		logutil.BgLogger().Debug("hash join closed", zap.String("stats", e.stats.String()))
	}
	return e.baseExecutor.Close()
}

// releaseAllPartitions closes every open partition and drops the probe state.
func (e *HashJoinExec) releaseAllPartitions() {
	for _, p := range e.hashPartitions {
		terrLog(p.close(e.joinCtx))
	}
	for _, p := range e.spilledPartitions {
		terrLog(p.close(e.joinCtx))
	}
	for _, p := range e.outputBuildPartitions {
		terrLog(p.close(e.joinCtx))
	}
	if e.inputPartition != nil {
		terrLog(e.inputPartition.close(e.joinCtx))
	}
	e.hashPartitions = nil
	e.spilledPartitions = nil
	e.outputBuildPartitions = nil
	e.inputPartition = nil
	e.unmatchedIter = nil
	e.probeContainer = nil
	e.probeChk = nil
	e.probeSuspended = false
}

func terrLog(err error) {
	if err != nil {
		logutil.BgLogger().Error("close partition failed", zap.Error(err))
	}
}

func (e *HashJoinExec) updateState(s joinState) {
	logutil.BgLogger().Debug("hash join state transition",
		zap.String("from", e.state.String()), zap.String("to", s.String()))
	e.state = s
}

// Next implements the Executor Next interface.
// The hash join constructs the result following these steps:
// step 1. fetch all the data of the build side and partition it;
// step 2. build hash tables for as many partitions as fit the memory quota;
// step 3. probe the hash tables with the probe side rows, spilling probe rows
// of spilled partitions;
// step 4. drain the spilled partitions one at a time, repartitioning with a
// deeper-level hash when one still does not fit.
func (e *HashJoinExec) Next(ctx context.Context, req *chunk.Chunk) (err error) {
	req.Reset()
	if e.finished.Load() {
		return nil
	}
	if err = e.checkCancelled(ctx); err != nil {
		return err
	}
	if !e.prepared {
		if err = e.fetchAndPartitionBuildSide(ctx); err != nil {
			return err
		}
		if err = e.buildHashTables(); err != nil {
			return err
		}
		e.updateState(processingProbe)
		e.prepared = true
		if e.stats.buildRowsPartitioned == 0 && !e.emptyBuildProducesOutput() {
			e.finished.Store(true)
			return nil
		}
	}

	for !req.IsFull() {
		if !e.probeDrained {
			var eos bool
			eos, err = e.processProbe(ctx, req)
			if err != nil {
				return err
			}
			if eos {
				if err = e.cleanUpHashPartitions(); err != nil {
					return err
				}
				e.probeDrained = true
			}
			continue
		}
		var progressed bool
		progressed, err = e.processSpilledPartitions(ctx, req)
		if err != nil {
			return err
		}
		if !progressed {
			e.finished.Store(true)
			return nil
		}
	}
	return nil
}

func (e *HashJoinExec) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		e.finished.Store(true)
		if e.joinCtx != nil {
			e.releaseAllPartitions()
		}
		return errors.Trace(ErrQueryInterrupted)
	}
	return nil
}

// emptyBuildProducesOutput reports whether the join can produce any row when
// the build side is empty.
func (e *HashJoinExec) emptyBuildProducesOutput() bool {
	switch e.joinType {
	case LeftOuterJoin, FullOuterJoin, LeftAntiJoin:
		return true
	}
	return false
}

// partitionIdx maps a hash to a partition index at the given level by slicing
// a fresh group of partitioning bits out of the high end of the hash.
func (e *HashJoinExec) partitionIdx(hash uint32, level int) int {
	bits := e.joinCfg.NumPartitioningBits()
	shift := 32 - bits - level*bits
	if shift < 0 {
		shift = 0
	}
	return int((hash >> uint(shift)) & uint32(e.joinCfg.PartitionFanout-1))
}

func (e *HashJoinExec) initHashPartitions(level int) {
	e.hashPartitions = make([]*partition, e.joinCfg.PartitionFanout)
	for i := range e.hashPartitions {
		e.hashPartitions[i] = newPartition(e.joinCtx, level, e.buildTypes, e.probeTypes)
	}
	e.stats.partitionsCreated += int64(len(e.hashPartitions))
	if level > e.stats.maxPartitionLevel {
		e.stats.maxPartitionLevel = level
	}
}

// fetchAndPartitionBuildSide runs phase 1 on the build child at level 0.
func (e *HashJoinExec) fetchAndPartitionBuildSide(ctx context.Context) error {
	start := time.Now()
	defer func() { e.stats.buildTableElapse += time.Since(start) }()

	e.initHashPartitions(0)
	rowsPerPartition := make([]int64, len(e.hashPartitions))
	total := int64(0)
	chk := newFirstChunk(e.buildSideExec)
	for {
		if err := e.checkCancelled(ctx); err != nil {
			return err
		}
		if err := Next(ctx, e.buildSideExec, chk); err != nil {
			return errors.Trace(err)
		}
		if chk.NumRows() == 0 {
			break
		}
		numRows := chk.NumRows()
		for i := 0; i < numRows; i++ {
			idx, err := e.routeBuildRow(chk.GetRow(i))
			if err != nil {
				return err
			}
			rowsPerPartition[idx]++
			total++
		}
	}
	if err := e.flushBuildPartitions(); err != nil {
		return err
	}
	e.stats.onPartitioningPass(rowsPerPartition, total)
	return nil
}

// partitionBuildFromContainer runs phase 1 again with the build stream of a
// spilled partition as input, at the given deeper level.
func (e *HashJoinExec) partitionBuildFromContainer(ctx context.Context, src *chunk.RowContainer, level int) error {
	start := time.Now()
	defer func() { e.stats.buildTableElapse += time.Since(start) }()

	e.initHashPartitions(level)
	rowsPerPartition := make([]int64, len(e.hashPartitions))
	total := int64(0)
	numChunks := src.NumChunks()
	for chkIdx := 0; chkIdx < numChunks; chkIdx++ {
		if err := e.checkCancelled(ctx); err != nil {
			return err
		}
		chk, err := src.GetChunk(chkIdx)
		if err != nil {
			return errors.Trace(err)
		}
		numRows := chk.NumRows()
		for i := 0; i < numRows; i++ {
			idx, err := e.routeBuildRow(chk.GetRow(i))
			if err != nil {
				return err
			}
			rowsPerPartition[idx]++
			total++
		}
	}
	if err := e.flushBuildPartitions(); err != nil {
		return err
	}
	e.stats.onPartitioningPass(rowsPerPartition, total)
	return nil
}

// routeBuildRow hashes row, appends it to its partition and returns the
// partition index. Append failures are handled by spilling a victim
// partition and retrying.
func (e *HashJoinExec) routeBuildRow(row chunk.Row) (int, error) {
	hash, _, err := e.joinCtx.hashCtx.hashBuildRow(row)
	if err != nil {
		return 0, err
	}
	idx := e.partitionIdx(hash, e.joinCtx.hashCtx.level)
	p := e.hashPartitions[idx]
	for {
		ok, err := p.appendBuild(e.joinCtx, row)
		if err != nil {
			return 0, err
		}
		if ok {
			break
		}
		if err = e.spillPartitions(); err != nil {
			return 0, err
		}
	}
	e.stats.buildRowsPartitioned++
	return idx, nil
}

func (e *HashJoinExec) flushBuildPartitions() error {
	for _, p := range e.hashPartitions {
		for {
			ok, err := p.flushBuild(e.joinCtx)
			if err != nil {
				return err
			}
			if ok {
				break
			}
			if err = e.spillPartitions(); err != nil {
				return err
			}
		}
	}
	return nil
}

// spillPartitions frees memory by spilling one partition. The victim is the
// partition with the largest pinned footprint among those that still hold
// rows in memory; a partition whose build stream is already spilled but whose
// probe stream is not remains a candidate.
// Partitions whose hash table carries matched flags the join still needs are
// never chosen. Returns ErrMemLimitExceeded when there is no victim left.
func (e *HashJoinExec) spillPartitions() error {
	var victim *partition
	for _, p := range e.hashPartitions {
		if p == nil || p.closed || p.fullySpilled() {
			continue
		}
		if p.hashTbl != nil && e.joinType.needBuildMatchedFlag() {
			continue
		}
		if victim == nil || p.pinnedSize() > victim.pinnedSize() {
			victim = p
		}
	}
	if victim == nil {
		return errors.Trace(ErrMemLimitExceeded)
	}
	failpoint.Inject("spillPartitionPanic", nil)
	logutil.BgLogger().Info("hash join spilling partition",
		zap.Int("level", victim.level),
		zap.Int64("pinnedBytes", victim.pinnedSize()),
		zap.Int64("consumed", e.memTracker.BytesConsumed()),
		zap.Int64("quota", e.memTracker.GetBytesLimit()))
	if err := victim.spill(e.joinCtx); err != nil {
		return err
	}
	e.stats.spilledPartitions++
	return nil
}

// buildHashTables runs phase 2: walks hashPartitions from the smallest
// estimated in-memory size to the largest, constructing hash tables until the
// memory quota or the in-memory table cap is reached. Smallest first
// maximizes the number of partitions probed without spilling.
func (e *HashJoinExec) buildHashTables() error {
	start := time.Now()
	defer func() { e.stats.buildTableElapse += time.Since(start) }()

	order := make([]*partition, len(e.hashPartitions))
	copy(order, e.hashPartitions)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].estimatedInMemSize() < order[j].estimatedInMemSize()
	})

	inMem := 0
	for _, p := range order {
		if inMem >= e.joinCfg.MaxInMemBuildTables {
			if !p.isSpilled() {
				if err := p.spill(e.joinCtx); err != nil {
					return err
				}
				e.stats.spilledPartitions++
			}
			continue
		}
		wasSpilled := p.isSpilled()
		built, err := p.buildHashTable(e.joinCtx)
		if err != nil {
			return err
		}
		if built {
			inMem++
			continue
		}
		if !p.isSpilled() {
			if err := p.spill(e.joinCtx); err != nil {
				return err
			}
		}
		if !wasSpilled {
			e.stats.spilledPartitions++
		}
	}
	return nil
}

// nextProbeChunk advances the probe cursor to the next chunk of the current
// probe source. It returns true when the source is drained.
func (e *HashJoinExec) nextProbeChunk(ctx context.Context) (eos bool, err error) {
	if e.probeFromChild {
		if e.childProbeChk == nil {
			e.childProbeChk = newFirstChunk(e.probeSideExec)
		}
		if err = Next(ctx, e.probeSideExec, e.childProbeChk); err != nil {
			return false, errors.Trace(err)
		}
		if e.childProbeChk.NumRows() == 0 {
			return true, nil
		}
		e.probeChk = e.childProbeChk
		e.probeRowIdx = 0
		return false, nil
	}
	if e.probeContainer == nil || e.probeChkIdx >= e.probeContainer.NumChunks() {
		return true, nil
	}
	e.probeChk, err = e.probeContainer.GetChunk(e.probeChkIdx)
	if err != nil {
		return false, errors.Trace(err)
	}
	e.probeChkIdx++
	e.probeRowIdx = 0
	return false, nil
}

// processProbe runs phase 3 until the output batch fills up or the probe
// source is drained.
func (e *HashJoinExec) processProbe(ctx context.Context, req *chunk.Chunk) (eos bool, err error) {
	for {
		if e.probeSuspended {
			if err = e.continueProbeRow(req); err != nil {
				return false, err
			}
		}
		if req.IsFull() {
			return false, nil
		}
		if e.probeChk == nil || e.probeRowIdx >= e.probeChk.NumRows() {
			eos, err = e.nextProbeChunk(ctx)
			if err != nil {
				return false, err
			}
			if eos {
				e.probeChk = nil
				return true, nil
			}
		}
		row := e.probeChk.GetRow(e.probeRowIdx)
		e.probeRowIdx++
		if err = e.startProbeRow(row, req); err != nil {
			return false, err
		}
	}
}

// startProbeRow routes one probe row: joins it against an in-memory
// partition or appends it to the probe stream of a spilled one.
func (e *HashJoinExec) startProbeRow(row chunk.Row, req *chunk.Chunk) error {
	hashCtx := e.joinCtx.hashCtx
	hash, hasNull, err := hashCtx.hashProbeRow(row)
	if err != nil {
		return err
	}
	e.stats.probeRowsPartitioned++

	var p *partition
	if e.state == probingSpilledPartition {
		p = e.hashPartitions[0]
	} else {
		p = e.hashPartitions[e.partitionIdx(hash, hashCtx.level)]
	}

	// A NULL key can never match unless some predicate is NULL-equal, so the
	// row is a miss no matter where it would land.
	if hasNull && !hashCtx.anyNullEQ() {
		e.joiner.onMissMatch(row, req)
		return nil
	}

	if p.hashTbl == nil {
		for {
			ok, err := p.appendProbe(e.joinCtx, row)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			if err = e.spillPartitions(); err != nil {
				return err
			}
		}
	}

	e.curProbeRow = row
	e.curHash = hash
	e.curEntry = p.hashTbl.Probe(hash)
	e.curHasMatch = false
	e.curPartition = p
	e.probeSuspended = true
	return e.continueProbeRow(req)
}

// continueProbeRow walks the collision chain of the current probe row,
// emitting matches. It pauses with probeSuspended still set when the output
// batch fills up mid-chain.
func (e *HashJoinExec) continueProbeRow(req *chunk.Chunk) error {
	hashCtx := e.joinCtx.hashCtx
	for e.curEntry != nil {
		if req.IsFull() {
			return nil
		}
		ent := e.curEntry
		e.curEntry = ent.next
		if ent.hash != e.curHash {
			continue
		}
		buildRow, err := e.curPartition.buildRows.GetRow(ent.ptr)
		if err != nil {
			return errors.Trace(err)
		}
		eq, err := hashCtx.equalJoinKeys(buildRow, e.curProbeRow)
		if err != nil {
			return err
		}
		if !eq {
			e.stats.probeCollision++
			continue
		}
		matched, err := e.joiner.tryToMatch(e.curProbeRow, buildRow, !ent.matched, req)
		if err != nil {
			return err
		}
		if matched {
			e.curHasMatch = true
			if e.joinType.needBuildMatchedFlag() {
				ent.matched = true
			}
			if e.joinType.probeStopsAfterFirstMatch() {
				e.curEntry = nil
				break
			}
		}
	}
	if !e.curHasMatch {
		e.joiner.onMissMatch(e.curProbeRow, req)
	}
	e.probeSuspended = false
	return nil
}

// cleanUpHashPartitions is called once the current probe source drains.
// In-memory partitions either move to outputBuildPartitions (when the variant
// flushes unmatched build rows) or close; partitions spilled on both sides
// move to spilledPartitions for phase 4.
func (e *HashJoinExec) cleanUpHashPartitions() error {
	if !e.probeFromChild && e.inputPartition != nil {
		// The probe stream of the repartitioned parent is consumed.
		if err := e.inputPartition.close(e.joinCtx); err != nil {
			return err
		}
		e.inputPartition = nil
	}
	for _, p := range e.hashPartitions {
		if p.hashTbl != nil {
			if e.joinType.needUnmatchedBuildOutput() {
				e.outputBuildPartitions = append(e.outputBuildPartitions, p)
			} else if err := p.close(e.joinCtx); err != nil {
				return err
			}
			continue
		}
		pending := int64(0)
		if p.probeWriteChk != nil {
			pending = int64(p.probeWriteChk.NumRows())
		}
		probeRowCnt := pending
		if p.probeRows != nil {
			probeRowCnt += int64(p.probeRows.NumRow())
		}
		needProbeRows := probeRowCnt > 0 && (e.joinType == LeftOuterJoin ||
			e.joinType == FullOuterJoin || e.joinType == LeftAntiJoin)
		if p.buildRows.NumRow() > 0 && (probeRowCnt > 0 || e.joinType.needUnmatchedBuildOutput()) || needProbeRows {
			// Unpin the probe stream so pending partitions hold no memory
			// while phase 4 rebuilds hash tables one at a time.
			if err := p.flushProbeForce(e.joinCtx); err != nil {
				return err
			}
			if p.probeRows != nil {
				if err := p.probeRows.SpillToDisk(); err != nil {
					return err
				}
			}
			e.spilledPartitions = append(e.spilledPartitions, p)
		} else if err := p.close(e.joinCtx); err != nil {
			return err
		}
	}
	e.hashPartitions = nil
	e.probeContainer = nil
	e.probeChkIdx = 0
	return nil
}

// processSpilledPartitions runs phase 4: flush unmatched build rows of
// finished partitions, then pick up the next spilled partition. It reports
// false when there is nothing left to do.
func (e *HashJoinExec) processSpilledPartitions(ctx context.Context, req *chunk.Chunk) (progressed bool, err error) {
	if err = e.checkCancelled(ctx); err != nil {
		return false, err
	}
	if len(e.outputBuildPartitions) > 0 {
		return true, e.outputUnmatchedBuild(req)
	}
	if len(e.spilledPartitions) > 0 {
		return true, e.prepareNextPartition(ctx)
	}
	return false, nil
}

// outputUnmatchedBuild sweeps the hash table of the front output partition
// and emits every entry no probe row matched. The partition closes when its
// table is exhausted.
func (e *HashJoinExec) outputUnmatchedBuild(req *chunk.Chunk) error {
	p := e.outputBuildPartitions[0]
	if e.unmatchedIter == nil {
		e.unmatchedIter = newHashTableIter(p.hashTbl)
	}
	for !req.IsFull() {
		ent := e.unmatchedIter.Next()
		if ent == nil {
			e.unmatchedIter = nil
			e.outputBuildPartitions = e.outputBuildPartitions[1:]
			return p.close(e.joinCtx)
		}
		if ent.matched {
			continue
		}
		buildRow, err := p.buildRows.GetRow(ent.ptr)
		if err != nil {
			return errors.Trace(err)
		}
		e.joiner.onUnmatchedBuild(buildRow, req)
	}
	return nil
}

// prepareNextPartition pops the next spilled partition. If its hash table
// fits in memory it is probed directly; otherwise its build stream is
// repartitioned with a deeper-level hash, which fails with
// ErrRepartitionLimit once the depth cap is reached.
func (e *HashJoinExec) prepareNextPartition(ctx context.Context) error {
	p := e.spilledPartitions[0]
	e.spilledPartitions = e.spilledPartitions[1:]

	e.joinCtx.hashCtx.rehashForLevel(p.level)
	built, err := p.buildHashTable(e.joinCtx)
	if err != nil {
		return err
	}
	if built {
		e.updateState(probingSpilledPartition)
		e.hashPartitions = []*partition{p}
		e.probeContainer = p.probeRows
		e.probeChkIdx = 0
		e.probeChk = nil
		e.probeFromChild = false
		e.probeDrained = false
		e.inputPartition = nil
		return nil
	}

	if p.level+1 > e.joinCfg.MaxPartitionDepth {
		logutil.BgLogger().Warn("hash join partition does not fit at max repartition depth",
			zap.Int("level", p.level),
			zap.Int64("estimatedBytes", p.estimatedInMemSize()),
			zap.Int64("quota", e.memTracker.GetBytesLimit()))
		return errors.Trace(ErrRepartitionLimit)
	}

	e.updateState(repartitioning)
	e.stats.repartitions++
	e.inputPartition = p
	e.joinCtx.hashCtx.rehashForLevel(p.level + 1)
	if err = e.partitionBuildFromContainer(ctx, p.buildRows, p.level+1); err != nil {
		return err
	}
	if err = e.buildHashTables(); err != nil {
		return err
	}
	e.probeContainer = p.probeRows
	e.probeChkIdx = 0
	e.probeChk = nil
	e.probeFromChild = false
	e.probeDrained = false
	return nil
}

// RuntimeStats returns the observable counters of the join, formatted the
// way execution details are reported.
func (e *HashJoinExec) RuntimeStats() string {
	return e.stats.String()
}
