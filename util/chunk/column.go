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

package chunk

import (
	"encoding/binary"
	"math"

	"github.com/gracedb/gracejoin/mysql"
	"github.com/gracedb/gracejoin/types"
)

// column stores one column of data in Apache Arrow format.
// Fixed length types share elemBuf as the staging area of one element.
// Variable length types use offsets to locate every element in data.
type column struct {
	length     int
	nullCount  int
	nullBitmap []byte // bit 0 is null, 1 is not null
	offsets    []int64
	data       []byte
	elemBuf    []byte
}

func (c *column) isFixed() bool {
	return c.elemBuf != nil
}

func (c *column) reset() {
	c.length = 0
	c.nullCount = 0
	c.nullBitmap = c.nullBitmap[:0]
	if len(c.offsets) > 0 {
		// The first offset is always 0, it makes slicing the data easier, we need to keep it.
		c.offsets = c.offsets[:1]
	}
	c.data = c.data[:0]
}

func (c *column) isNull(rowIdx int) bool {
	nullByte := c.nullBitmap[rowIdx/8]
	return nullByte&(1<<(uint(rowIdx)&7)) == 0
}

func (c *column) appendNullBitmap(notNull bool) {
	idx := c.length >> 3
	if idx >= len(c.nullBitmap) {
		c.nullBitmap = append(c.nullBitmap, 0)
	}
	if notNull {
		pos := uint(c.length) & 7
		c.nullBitmap[idx] |= byte(1 << pos)
	} else {
		c.nullCount++
	}
}

func (c *column) appendNull() {
	c.appendNullBitmap(false)
	if c.isFixed() {
		c.data = append(c.data, c.elemBuf...)
	} else {
		c.offsets = append(c.offsets, c.offsets[c.length])
	}
	c.length++
}

func (c *column) finishAppendFixed() {
	c.data = append(c.data, c.elemBuf...)
	c.appendNullBitmap(true)
	c.length++
}

func (c *column) appendInt64(i int64) {
	binary.LittleEndian.PutUint64(c.elemBuf, uint64(i))
	c.finishAppendFixed()
}

func (c *column) appendUint64(u uint64) {
	binary.LittleEndian.PutUint64(c.elemBuf, u)
	c.finishAppendFixed()
}

func (c *column) appendFloat64(f float64) {
	binary.LittleEndian.PutUint64(c.elemBuf, math.Float64bits(f))
	c.finishAppendFixed()
}

func (c *column) appendFloat32(f float32) {
	binary.LittleEndian.PutUint32(c.elemBuf, math.Float32bits(f))
	c.finishAppendFixed()
}

func (c *column) finishAppendVar() {
	c.appendNullBitmap(true)
	c.offsets = append(c.offsets, int64(len(c.data)))
	c.length++
}

func (c *column) appendString(str string) {
	c.data = append(c.data, str...)
	c.finishAppendVar()
}

func (c *column) appendBytes(b []byte) {
	c.data = append(c.data, b...)
	c.finishAppendVar()
}

// appendRaw appends a raw element (the output of getRaw) to the column.
func (c *column) appendRaw(b []byte) {
	if c.isFixed() {
		copy(c.elemBuf, b)
		c.finishAppendFixed()
		return
	}
	c.appendBytes(b)
}

func (c *column) getRaw(rowIdx int) []byte {
	if c.isFixed() {
		elemLen := len(c.elemBuf)
		return c.data[rowIdx*elemLen : rowIdx*elemLen+elemLen]
	}
	return c.data[c.offsets[rowIdx]:c.offsets[rowIdx+1]]
}

// memoryUsage returns the total heap size of the column.
func (c *column) memoryUsage() int64 {
	return int64(cap(c.data) + cap(c.nullBitmap) + cap(c.offsets)*8 + cap(c.elemBuf))
}

// appendColumn appends rows in [begin, end) of src to c. Both columns must
// have the same element type.
func (c *column) appendColumn(src *column, begin, end int) {
	for i := begin; i < end; i++ {
		if src.isNull(i) {
			c.appendNull()
		} else {
			c.appendRaw(src.getRaw(i))
		}
	}
}

// newFixedLenColumn creates a column with the given element length.
func newFixedLenColumn(elemLen, cap int) *column {
	return &column{
		elemBuf:    make([]byte, elemLen),
		data:       make([]byte, 0, cap*elemLen),
		nullBitmap: make([]byte, 0, cap>>3),
	}
}

// newVarLenColumn creates a variable length column.
func newVarLenColumn(cap int) *column {
	return &column{
		offsets:    make([]int64, 1, cap+1),
		data:       make([]byte, 0, cap*4),
		nullBitmap: make([]byte, 0, cap>>3),
	}
}

// getFixedLen returns the fixed length for the type, or varElemLen if the
// type stores variable-length values.
const varElemLen = -1

func getFixedLen(colType *types.FieldType) int {
	switch colType.Tp {
	case mysql.TypeFloat:
		return 4
	case mysql.TypeTiny, mysql.TypeShort, mysql.TypeInt24, mysql.TypeLong,
		mysql.TypeLonglong, mysql.TypeDouble:
		return 8
	default:
		return varElemLen
	}
}

func newColumn(colType *types.FieldType, cap int) *column {
	if fixedLen := getFixedLen(colType); fixedLen != varElemLen {
		return newFixedLenColumn(fixedLen, cap)
	}
	return newVarLenColumn(cap)
}
