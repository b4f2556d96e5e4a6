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
	"fmt"
	"sort"
	"strconv"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/gracedb/gracejoin/config"
	"github.com/gracedb/gracejoin/expression"
	"github.com/gracedb/gracejoin/mysql"
	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

// mockDataSource returns a fixed set of rows, one chunk at a time.
type mockDataSource struct {
	baseExecutor
	chunks   []*chunk.Chunk
	chunkPtr int
}

func (mds *mockDataSource) Open(context.Context) error {
	mds.chunkPtr = 0
	return nil
}

func (mds *mockDataSource) Next(ctx context.Context, req *chunk.Chunk) error {
	if mds.chunkPtr >= len(mds.chunks) {
		req.Reset()
		return nil
	}
	dataChk := mds.chunks[mds.chunkPtr]
	req.Append(dataChk, 0, dataChk.NumRows())
	mds.chunkPtr++
	return nil
}

func (mds *mockDataSource) Close() error {
	return nil
}

func buildMockDataSource(fieldTypes []*types.FieldType, rows [][]interface{}, chunkSize int) *mockDataSource {
	mds := &mockDataSource{
		baseExecutor: newBaseExecutor("mockDataSource", fieldTypes, chunkSize),
	}
	var chk *chunk.Chunk
	for i, row := range rows {
		if i%chunkSize == 0 {
			chk = chunk.New(fieldTypes, chunkSize, chunkSize)
			mds.chunks = append(mds.chunks, chk)
		}
		for colIdx, val := range row {
			appendValue(chk, colIdx, val)
		}
	}
	return mds
}

func appendValue(chk *chunk.Chunk, colIdx int, val interface{}) {
	switch v := val.(type) {
	case nil:
		chk.AppendNull(colIdx)
	case int:
		chk.AppendInt64(colIdx, int64(v))
	case int64:
		chk.AppendInt64(colIdx, v)
	case float64:
		chk.AppendFloat64(colIdx, v)
	case string:
		chk.AppendString(colIdx, v)
	default:
		panic(fmt.Sprintf("unsupported test value %T", val))
	}
}

func decodeRow(row chunk.Row, fieldTypes []*types.FieldType) string {
	vals := make([]string, 0, len(fieldTypes))
	for i, ft := range fieldTypes {
		if row.IsNull(i) {
			vals = append(vals, "NULL")
			continue
		}
		switch ft.Tp {
		case mysql.TypeLonglong:
			vals = append(vals, strconv.FormatInt(row.GetInt64(i), 10))
		case mysql.TypeDouble:
			vals = append(vals, strconv.FormatFloat(row.GetFloat64(i), 'g', -1, 64))
		default:
			vals = append(vals, row.GetString(i))
		}
	}
	return fmt.Sprint(vals)
}

// collectResult drains the executor and returns the sorted fingerprints of
// every output row.
func collectResult(t *testing.T, ctx context.Context, exec Executor) []string {
	t.Helper()
	require.NoError(t, exec.Open(ctx))
	defer func() { require.NoError(t, exec.Close()) }()
	var result []string
	req := newFirstChunk(exec)
	for {
		require.NoError(t, exec.Next(ctx, req))
		if req.NumRows() == 0 {
			break
		}
		for i := 0; i < req.NumRows(); i++ {
			result = append(result, decodeRow(req.GetRow(i), retTypes(exec)))
		}
	}
	sort.Strings(result)
	return result
}

func intStrTypes() []*types.FieldType {
	return []*types.FieldType{
		types.NewFieldType(mysql.TypeLonglong),
		types.NewFieldType(mysql.TypeVarchar),
	}
}

type joinTestCase struct {
	joinType   JoinType
	buildRows  [][]interface{}
	probeRows  [][]interface{}
	conditions expression.CNFExprs
	nullEQ     []bool
	memQuota   int64
	joinConf   *config.JoinConfig
	chunkSize  int
}

func (tc *joinTestCase) newExec() *HashJoinExec {
	chunkSize := tc.chunkSize
	if chunkSize == 0 {
		chunkSize = 32
	}
	buildTypes, probeTypes := intStrTypes(), intStrTypes()
	buildSide := buildMockDataSource(buildTypes, tc.buildRows, chunkSize)
	probeSide := buildMockDataSource(probeTypes, tc.probeRows, chunkSize)
	buildKeys := []*expression.Column{{Index: 0, RetType: buildTypes[0]}}
	probeKeys := []*expression.Column{{Index: 0, RetType: probeTypes[0]}}
	e := NewHashJoinExec("HashJoin", tc.joinType, buildSide, probeSide,
		buildKeys, probeKeys, tc.nullEQ, tc.conditions, chunkSize)
	e.MemQuota = tc.memQuota
	e.JoinConf = tc.joinConf
	return e
}

func runJoin(t *testing.T, tc *joinTestCase) ([]string, *HashJoinExec) {
	e := tc.newExec()
	result := collectResult(t, context.Background(), e)
	return result, e
}

func TestInnerJoinAllInMemory(t *testing.T) {
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {3, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {4, "y"}, {2, "z"}},
	}
	result, e := runJoin(t, tc)
	require.Equal(t, []string{
		"[2 x 2 b]",
		"[2 z 2 b]",
	}, result)
	require.Zero(t, e.stats.spilledPartitions)
	require.Equal(t, int64(3), e.stats.buildRowsPartitioned)
	require.Equal(t, int64(3), e.stats.probeRowsPartitioned)
}

func TestLeftOuterJoinEmptyBuild(t *testing.T) {
	tc := &joinTestCase{
		joinType:  LeftOuterJoin,
		buildRows: nil,
		probeRows: [][]interface{}{{1, "p"}, {2, "q"}},
	}
	result, _ := runJoin(t, tc)
	require.Equal(t, []string{
		"[1 p NULL NULL]",
		"[2 q NULL NULL]",
	}, result)
}

func TestInnerJoinEmptyBuildShortCircuits(t *testing.T) {
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: nil,
		probeRows: [][]interface{}{{1, "p"}, {2, "q"}},
	}
	result, _ := runJoin(t, tc)
	require.Empty(t, result)
}

func TestRightAntiJoin(t *testing.T) {
	tc := &joinTestCase{
		joinType:  RightAntiJoin,
		buildRows: [][]interface{}{{1, "a"}, {2, "b"}, {3, "c"}, {4, "d"}},
		probeRows: [][]interface{}{{2, "x"}, {4, "y"}},
	}
	result, _ := runJoin(t, tc)
	require.Equal(t, []string{
		"[1 a]",
		"[3 c]",
	}, result)
}

func TestRightSemiJoinEmitsBuildOnce(t *testing.T) {
	tc := &joinTestCase{
		joinType:  RightSemiJoin,
		buildRows: [][]interface{}{{2, "b"}, {2, "bb"}, {3, "c"}},
		probeRows: [][]interface{}{{2, "x"}, {2, "z"}},
	}
	result, _ := runJoin(t, tc)
	// Both build rows with key 2 are emitted, each exactly once even though
	// two probe rows match them.
	require.Equal(t, []string{
		"[2 b]",
		"[2 bb]",
	}, result)
}

func TestFullOuterJoinWithSpill(t *testing.T) {
	const n = 2000
	buildRows := make([][]interface{}, 0, n)
	probeRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{i, "b" + strconv.Itoa(i)})
		probeRows = append(probeRows, []interface{}{i + n/2, "p" + strconv.Itoa(i+n/2)})
	}
	joinConf := &config.JoinConfig{PartitionFanout: 4, MaxPartitionDepth: 4}
	tc := &joinTestCase{
		joinType:  FullOuterJoin,
		buildRows: buildRows,
		probeRows: probeRows,
		memQuota:  32 << 10,
		joinConf:  joinConf,
		chunkSize: 256,
	}
	result, e := runJoin(t, tc)
	require.Len(t, result, 3*n/2)
	matched, probeOnly, buildOnly := 0, 0, 0
	for _, row := range result {
		switch {
		case row[1] == 'N':
			buildOnly++
		default:
			var probeKey int
			_, err := fmt.Sscanf(row, "[%d", &probeKey)
			require.NoError(t, err)
			if probeKey >= n {
				probeOnly++
			} else {
				matched++
			}
		}
	}
	require.Equal(t, n/2, matched)
	require.Equal(t, n/2, probeOnly)
	require.Equal(t, n/2, buildOnly)
	require.GreaterOrEqual(t, e.stats.spilledPartitions, int64(joinConf.PartitionFanout/2))

	// P1: the spilled run emits the same multiset as a non-spilling one.
	ref := &joinTestCase{joinType: FullOuterJoin, buildRows: buildRows, probeRows: probeRows, chunkSize: 256}
	refResult, refExec := runJoin(t, ref)
	require.Zero(t, refExec.stats.spilledPartitions)
	require.Equal(t, refResult, result)
}

func TestRepartitioningMatchesReference(t *testing.T) {
	const n = 20000
	buildRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{i, "v" + strconv.Itoa(i)})
	}
	probeRows := make([][]interface{}, 0, n/10)
	for i := 0; i < n/10; i++ {
		probeRows = append(probeRows, []interface{}{i * 7, "p" + strconv.Itoa(i*7)})
	}
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: buildRows,
		probeRows: probeRows,
		memQuota:  128 << 10,
		joinConf:  &config.JoinConfig{PartitionFanout: 4, MaxPartitionDepth: 4},
		chunkSize: 256,
	}
	result, e := runJoin(t, tc)
	require.GreaterOrEqual(t, e.stats.repartitions, int64(1))
	require.Greater(t, e.stats.maxPartitionLevel, 0)

	ref := &joinTestCase{joinType: InnerJoin, buildRows: buildRows, probeRows: probeRows, chunkSize: 256}
	refResult, _ := runJoin(t, ref)
	require.Equal(t, refResult, result)
}

func TestRepartitionLimitOnExtremeSkew(t *testing.T) {
	// Every build row shares one key, so repartitioning can never shrink the
	// dominant partition and the depth cap must fire.
	const n = 5000
	buildRows := make([][]interface{}, 0, n)
	for i := 0; i < n; i++ {
		buildRows = append(buildRows, []interface{}{7, "v" + strconv.Itoa(i)})
	}
	probeRows := [][]interface{}{{7, "p"}}
	joinConf := &config.JoinConfig{PartitionFanout: 4, MaxPartitionDepth: 4}
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: buildRows,
		probeRows: probeRows,
		memQuota:  64 << 10,
		joinConf:  joinConf,
		chunkSize: 256,
	}
	e := tc.newExec()
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))
	defer func() { require.NoError(t, e.Close()) }()
	req := newFirstChunk(e)
	var err error
	for err == nil {
		err = e.Next(ctx, req)
		if err == nil && req.NumRows() == 0 {
			break
		}
	}
	require.Error(t, err)
	require.True(t, errors.Cause(err) == ErrRepartitionLimit, "got %v", err)
	require.Greater(t, e.stats.largestPartitionPercent, int64(100/joinConf.PartitionFanout))
}

func TestAllJoinTypesConservation(t *testing.T) {
	buildRows := [][]interface{}{
		{1, "a"}, {2, "b"}, {2, "bb"}, {3, "c"}, {5, "e"}, {nil, "nb"},
	}
	probeRows := [][]interface{}{
		{2, "x"}, {2, "y"}, {3, "z"}, {4, "w"}, {nil, "np"},
	}
	joinTypes := []JoinType{
		InnerJoin, LeftOuterJoin, RightOuterJoin, FullOuterJoin,
		LeftSemiJoin, LeftAntiJoin, RightSemiJoin, RightAntiJoin,
	}
	for _, joinType := range joinTypes {
		t.Run(joinType.String(), func(t *testing.T) {
			ref := &joinTestCase{joinType: joinType, buildRows: buildRows, probeRows: probeRows}
			refResult, _ := runJoin(t, ref)

			// A low in-memory table cap forces the spill and drain paths
			// regardless of quota; the output multiset must not change.
			spilled := &joinTestCase{
				joinType:  joinType,
				buildRows: buildRows,
				probeRows: probeRows,
				memQuota:  16 << 10,
				joinConf:  &config.JoinConfig{PartitionFanout: 4, MaxPartitionDepth: 4, MaxInMemBuildTables: 2},
				chunkSize: 2,
			}
			spilledResult, e := runJoin(t, spilled)
			require.Equal(t, refResult, spilledResult)
			require.Greater(t, e.stats.spilledPartitions, int64(0))
		})
	}
}

func TestReplayIdenticalRuns(t *testing.T) {
	buildRows := [][]interface{}{{1, "a"}, {2, "b"}, {2, "bb"}, {3, "c"}}
	probeRows := [][]interface{}{{2, "x"}, {3, "y"}, {9, "z"}}
	tc := func() *joinTestCase {
		return &joinTestCase{
			joinType:  LeftOuterJoin,
			buildRows: buildRows,
			probeRows: probeRows,
			memQuota:  16 << 10,
			joinConf:  &config.JoinConfig{PartitionFanout: 4, MaxPartitionDepth: 4, MaxInMemBuildTables: 1},
			chunkSize: 2,
		}
	}
	result1, e1 := runJoin(t, tc())
	result2, e2 := runJoin(t, tc())
	require.Equal(t, result1, result2)
	// The build duration is wall-clock time; every counter must replay exactly.
	e1.stats.buildTableElapse, e2.stats.buildTableElapse = 0, 0
	require.Equal(t, e1.stats.String(), e2.stats.String())
}

// probeLessThanBuild evaluates probeCol < buildCol over the combined row.
type probeLessThanBuild struct {
	probeIdx int
	buildIdx int
}

func (e *probeLessThanBuild) EvalBool(row chunk.Row) (bool, bool, error) {
	if row.IsNull(e.probeIdx) || row.IsNull(e.buildIdx) {
		return false, true, nil
	}
	return row.GetInt64(e.probeIdx) < row.GetInt64(e.buildIdx), false, nil
}

func TestOtherConditions(t *testing.T) {
	buildTypes, probeTypes := []*types.FieldType{
		types.NewFieldType(mysql.TypeLonglong),
		types.NewFieldType(mysql.TypeLonglong),
	}, []*types.FieldType{
		types.NewFieldType(mysql.TypeLonglong),
		types.NewFieldType(mysql.TypeLonglong),
	}
	buildSide := buildMockDataSource(buildTypes, [][]interface{}{{1, 10}, {1, 20}, {2, 30}}, 32)
	probeSide := buildMockDataSource(probeTypes, [][]interface{}{{1, 15}, {2, 99}}, 32)
	buildKeys := []*expression.Column{{Index: 0, RetType: buildTypes[0]}}
	probeKeys := []*expression.Column{{Index: 0, RetType: probeTypes[0]}}
	// The combined row is probe columns then build columns: probe col1 is
	// index 1, build col1 is index 3.
	conds := expression.CNFExprs{&probeLessThanBuild{probeIdx: 1, buildIdx: 3}}

	e := NewHashJoinExec("HashJoin", LeftOuterJoin, buildSide, probeSide,
		buildKeys, probeKeys, nil, conds, 32)
	result := collectResult(t, context.Background(), e)
	// Probe (1,15) joins build (1,20) only; probe (2,99) has a key match but
	// fails the condition, so it falls back to NULL padding.
	require.Equal(t, []string{
		"[1 15 1 20]",
		"[2 99 NULL NULL]",
	}, result)
}

func TestNullEQMatchesNulls(t *testing.T) {
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{nil, "nb"}, {1, "a"}},
		probeRows: [][]interface{}{{nil, "np"}, {1, "x"}},
		nullEQ:    []bool{true},
	}
	result, _ := runJoin(t, tc)
	require.Equal(t, []string{
		"[1 x 1 a]",
		"[NULL np NULL nb]",
	}, result)
}

func TestCancellationMidProbe(t *testing.T) {
	buildRows := make([][]interface{}, 0, 100)
	probeRows := make([][]interface{}, 0, 100)
	for i := 0; i < 100; i++ {
		buildRows = append(buildRows, []interface{}{i, "b"})
		probeRows = append(probeRows, []interface{}{i, "p"})
	}
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: buildRows,
		probeRows: probeRows,
		chunkSize: 8,
	}
	e := tc.newExec()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Open(ctx))
	req := newFirstChunk(e)
	require.NoError(t, e.Next(ctx, req))
	require.Greater(t, req.NumRows(), 0)

	cancel()
	err := e.Next(ctx, req)
	require.Error(t, err)
	require.True(t, errors.Cause(err) == ErrQueryInterrupted, "got %v", err)
	require.NoError(t, e.Close())
	// A cancelled join must not answer further batches.
	require.NoError(t, e.Next(context.Background(), req))
	require.Zero(t, req.NumRows())
}

func TestStatsString(t *testing.T) {
	tc := &joinTestCase{
		joinType:  InnerJoin,
		buildRows: [][]interface{}{{1, "a"}},
		probeRows: [][]interface{}{{1, "x"}},
	}
	_, e := runJoin(t, tc)
	require.Contains(t, e.RuntimeStats(), "partitions:")
	require.Contains(t, e.RuntimeStats(), "build_rows:1")
}
