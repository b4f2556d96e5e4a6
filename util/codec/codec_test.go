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

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gracedb/gracejoin/mysql"
	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

func testFields() []*types.FieldType {
	return []*types.FieldType{
		types.NewFieldType(mysql.TypeLonglong),
		types.NewFieldType(mysql.TypeVarchar),
	}
}

func makeRow(key int64, val string) chunk.Row {
	chk := chunk.NewChunkWithCapacity(testFields(), 1)
	chk.AppendInt64(0, key)
	chk.AppendString(1, val)
	return chk.GetRow(0)
}

func makeNullKeyRow(val string) chunk.Row {
	chk := chunk.NewChunkWithCapacity(testFields(), 1)
	chk.AppendNull(0)
	chk.AppendString(1, val)
	return chk.GetRow(0)
}

func TestHashChunkRowConsistency(t *testing.T) {
	fields := testFields()
	keyCols := []int{0}
	var buf []byte

	h1, hasNull, buf, err := HashChunkRow(makeRow(42, "a"), fields, keyCols, 1, buf)
	require.NoError(t, err)
	require.False(t, hasNull)
	h2, _, buf, err := HashChunkRow(makeRow(42, "totally different payload"), fields, keyCols, 1, buf)
	require.NoError(t, err)
	// Equal keys must hash equal regardless of the non-key columns.
	require.Equal(t, h1, h2)

	h3, _, buf, err := HashChunkRow(makeRow(43, "a"), fields, keyCols, 1, buf)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)

	// A different seed must produce an independent hash for the same key.
	h4, _, _, err := HashChunkRow(makeRow(42, "a"), fields, keyCols, 2, buf)
	require.NoError(t, err)
	require.NotEqual(t, h1, h4)
}

func TestHashChunkRowNull(t *testing.T) {
	fields := testFields()
	var buf []byte
	_, hasNull, _, err := HashChunkRow(makeNullKeyRow("x"), fields, []int{0}, 1, buf)
	require.NoError(t, err)
	require.True(t, hasNull)
}

func TestHashMultiColumnKeysDoNotAlias(t *testing.T) {
	fields := []*types.FieldType{
		types.NewFieldType(mysql.TypeVarchar),
		types.NewFieldType(mysql.TypeVarchar),
	}
	newRow := func(a, b string) chunk.Row {
		chk := chunk.NewChunkWithCapacity(fields, 1)
		chk.AppendString(0, a)
		chk.AppendString(1, b)
		return chk.GetRow(0)
	}
	var buf []byte
	h1, _, buf, err := HashChunkRow(newRow("ab", "c"), fields, []int{0, 1}, 1, buf)
	require.NoError(t, err)
	h2, _, _, err := HashChunkRow(newRow("a", "bc"), fields, []int{0, 1}, 1, buf)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestEqualChunkRow(t *testing.T) {
	fields := testFields()
	keyCols := []int{0}

	eq, err := EqualChunkRow(makeRow(7, "a"), fields, keyCols, makeRow(7, "b"), fields, keyCols, nil)
	require.NoError(t, err)
	require.True(t, eq)

	eq, err = EqualChunkRow(makeRow(7, "a"), fields, keyCols, makeRow(8, "a"), fields, keyCols, nil)
	require.NoError(t, err)
	require.False(t, eq)

	// NULL = NULL is false by default and true under a NULL-equal predicate.
	eq, err = EqualChunkRow(makeNullKeyRow("a"), fields, keyCols, makeNullKeyRow("b"), fields, keyCols, nil)
	require.NoError(t, err)
	require.False(t, eq)

	eq, err = EqualChunkRow(makeNullKeyRow("a"), fields, keyCols, makeNullKeyRow("b"), fields, keyCols, []bool{true})
	require.NoError(t, err)
	require.True(t, eq)

	eq, err = EqualChunkRow(makeNullKeyRow("a"), fields, keyCols, makeRow(7, "b"), fields, keyCols, []bool{true})
	require.NoError(t, err)
	require.False(t, eq)
}

func TestEqualChunkRowSignedUnsigned(t *testing.T) {
	signed := []*types.FieldType{types.NewFieldType(mysql.TypeLonglong)}
	unsigned := []*types.FieldType{{Tp: mysql.TypeLonglong, Flag: mysql.UnsignedFlag, Flen: types.UnspecifiedLength}}

	negChk := chunk.NewChunkWithCapacity(signed, 1)
	negChk.AppendInt64(0, -1)
	maxChk := chunk.NewChunkWithCapacity(unsigned, 1)
	maxChk.AppendUint64(0, 18446744073709551615)

	// -1 and math.MaxUint64 share a bit pattern but must not compare equal.
	eq, err := EqualChunkRow(negChk.GetRow(0), signed, []int{0}, maxChk.GetRow(0), unsigned, []int{0}, nil)
	require.NoError(t, err)
	require.False(t, eq)
}
