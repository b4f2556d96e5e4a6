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
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pingcap/errors"
	"github.com/twmb/murmur3"

	"github.com/gracedb/gracejoin/mysql"
	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

// First byte in the encoded value which specifies the encoding type.
const (
	nilFlag    byte = 0
	intFlag    byte = 3
	uintFlag   byte = 4
	floatFlag  byte = 5
	bytesFlag  byte = 6
	varintFlag byte = 8
)

// EncodeChunkRow encodes the columns in colIdx of row into buf.
// The encoding is self-delimiting so multiple key columns never alias.
func EncodeChunkRow(buf []byte, row chunk.Row, allTypes []*types.FieldType, colIdx []int) ([]byte, bool, error) {
	hasNull := false
	for _, i := range colIdx {
		if row.IsNull(i) {
			hasNull = true
			buf = append(buf, nilFlag)
			continue
		}
		ft := allTypes[i]
		switch ft.Tp {
		case mysql.TypeTiny, mysql.TypeShort, mysql.TypeInt24, mysql.TypeLong, mysql.TypeLonglong:
			// Signed and unsigned integers share one tag: EqualChunkRow treats
			// equal non-negative values as equal across signedness, so their
			// hashes must agree too.
			if mysql.HasUnsignedFlag(ft.Flag) {
				buf = append(buf, intFlag)
				buf = binary.LittleEndian.AppendUint64(buf, row.GetUint64(i))
			} else {
				buf = append(buf, intFlag)
				buf = binary.LittleEndian.AppendUint64(buf, uint64(row.GetInt64(i)))
			}
		case mysql.TypeFloat:
			buf = append(buf, floatFlag)
			buf = binary.LittleEndian.AppendUint64(buf, floatBits(float64(row.GetFloat32(i))))
		case mysql.TypeDouble:
			buf = append(buf, floatFlag)
			buf = binary.LittleEndian.AppendUint64(buf, floatBits(row.GetFloat64(i)))
		case mysql.TypeVarchar, mysql.TypeVarString, mysql.TypeString, mysql.TypeBlob:
			raw := row.GetBytes(i)
			buf = append(buf, bytesFlag)
			buf = binary.AppendUvarint(buf, uint64(len(raw)))
			buf = append(buf, raw...)
		default:
			return buf, hasNull, errors.Errorf("unsupported column type %d for join key", ft.Tp)
		}
	}
	return buf, hasNull, nil
}

// HashChunkRow hashes the encoded bytes of the columns in colIdx of row with
// the given seed and returns the hash value and whether any key column is NULL.
// buf is reused across calls to avoid allocation.
func HashChunkRow(row chunk.Row, allTypes []*types.FieldType, colIdx []int, seed uint32, buf []byte) (hash uint32, hasNull bool, outBuf []byte, err error) {
	buf = buf[:0]
	buf, hasNull, err = EncodeChunkRow(buf, row, allTypes, colIdx)
	if err != nil {
		return 0, hasNull, buf, errors.Trace(err)
	}
	return murmur3.SeedSum32(seed, buf), hasNull, buf, nil
}

// floatBits normalizes -0.0 to +0.0 so equal floats always hash equal.
func floatBits(f float64) uint64 {
	if f == 0 {
		f = 0
	}
	return math.Float64bits(f)
}

// EqualChunkRow checks if the join keys of row1 and row2 are logically equal.
// nullEQ controls the NULL = NULL result per key column; a nil slice means
// NULL never equals NULL.
func EqualChunkRow(
	row1 chunk.Row, allTypes1 []*types.FieldType, colIdx1 []int,
	row2 chunk.Row, allTypes2 []*types.FieldType, colIdx2 []int,
	nullEQ []bool,
) (bool, error) {
	if len(colIdx1) != len(colIdx2) {
		return false, errors.New("unequal length of join key columns")
	}
	for i := range colIdx1 {
		idx1, idx2 := colIdx1[i], colIdx2[i]
		null1, null2 := row1.IsNull(idx1), row2.IsNull(idx2)
		if null1 || null2 {
			if null1 && null2 && len(nullEQ) > i && nullEQ[i] {
				continue
			}
			return false, nil
		}
		eq, err := equalColumn(row1, allTypes1[idx1], idx1, row2, allTypes2[idx2], idx2)
		if err != nil || !eq {
			return false, errors.Trace(err)
		}
	}
	return true, nil
}

func equalColumn(row1 chunk.Row, ft1 *types.FieldType, idx1 int, row2 chunk.Row, ft2 *types.FieldType, idx2 int) (bool, error) {
	switch ft1.Tp {
	case mysql.TypeTiny, mysql.TypeShort, mysql.TypeInt24, mysql.TypeLong, mysql.TypeLonglong:
		switch ft2.Tp {
		case mysql.TypeTiny, mysql.TypeShort, mysql.TypeInt24, mysql.TypeLong, mysql.TypeLonglong:
		default:
			return false, errors.Errorf("mismatched join key types %d and %d", ft1.Tp, ft2.Tp)
		}
		unsigned1, unsigned2 := mysql.HasUnsignedFlag(ft1.Flag), mysql.HasUnsignedFlag(ft2.Flag)
		v1, v2 := row1.GetInt64(idx1), row2.GetInt64(idx2)
		if unsigned1 != unsigned2 {
			// A negative signed value can never equal an unsigned value.
			if (!unsigned1 && v1 < 0) || (!unsigned2 && v2 < 0) {
				return false, nil
			}
		}
		return v1 == v2, nil
	case mysql.TypeFloat:
		if ft2.Tp != mysql.TypeFloat {
			return false, errors.Errorf("mismatched join key types %d and %d", ft1.Tp, ft2.Tp)
		}
		return row1.GetFloat32(idx1) == row2.GetFloat32(idx2), nil
	case mysql.TypeDouble:
		if ft2.Tp != mysql.TypeDouble {
			return false, errors.Errorf("mismatched join key types %d and %d", ft1.Tp, ft2.Tp)
		}
		return row1.GetFloat64(idx1) == row2.GetFloat64(idx2), nil
	case mysql.TypeVarchar, mysql.TypeVarString, mysql.TypeString, mysql.TypeBlob:
		if !mysql.IsVarLengthType(ft2.Tp) {
			return false, errors.Errorf("mismatched join key types %d and %d", ft1.Tp, ft2.Tp)
		}
		return bytes.Equal(row1.GetBytes(idx1), row2.GetBytes(idx2)), nil
	default:
		return false, errors.Errorf("unsupported column type %d for join key", ft1.Tp)
	}
}
