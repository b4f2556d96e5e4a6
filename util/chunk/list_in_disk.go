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
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pingcap/errors"

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/disk"
	"github.com/gracedb/gracejoin/util/memory"
)

const colSizeMetaLen = 4

// ListInDisk represents a slice of chunks stored in temporary disk.
// Rows are written in the following format, one after another:
//
//	row: | col1 size | col1 data | col2 size | col2 data | ... |
//
// Column size is -1 if the column value is null.
type ListInDisk struct {
	fieldTypes []*types.FieldType

	numRowsOfEachChunk []int
	offsetsOfRows      [][]int64 // file offset of every row, per chunk
	totalDataSize      int64
	totalRowNum        int

	dataFile *os.File
	w        *bufio.Writer

	diskTracker *disk.Tracker // track disk usage.
}

// NewListInDisk creates a new ListInDisk with field types.
func NewListInDisk(fieldTypes []*types.FieldType) *ListInDisk {
	return &ListInDisk{
		fieldTypes:  fieldTypes,
		diskTracker: disk.NewTracker(memory.LabelForChunkListInDisk, -1),
	}
}

func (l *ListInDisk) initDiskFile() (err error) {
	err = disk.CheckAndInitTempDir()
	if err != nil {
		return errors.Trace(err)
	}
	l.dataFile, err = os.CreateTemp(disk.TempDir(), "gracejoin_listInDisk")
	if err != nil {
		return errors.Trace(err)
	}
	l.w = bufio.NewWriter(l.dataFile)
	return nil
}

// GetDiskTracker returns the disk tracker of this List.
func (l *ListInDisk) GetDiskTracker() *disk.Tracker {
	return l.diskTracker
}

// Add adds a chunk to the ListInDisk. Caller must make sure the input chk is
// not empty, not used any more and has the same field types.
func (l *ListInDisk) Add(chk *Chunk) (err error) {
	if chk.NumRows() == 0 {
		return errors.New("chunk spilled to disk should have at least 1 row")
	}
	if l.dataFile == nil {
		if err = l.initDiskFile(); err != nil {
			return err
		}
	}

	numRows := chk.NumRows()
	numCols := chk.NumCols()
	offsets := make([]int64, 0, numRows)
	written := int64(0)
	var sizeBuf [colSizeMetaLen]byte
	for i := 0; i < numRows; i++ {
		offsets = append(offsets, l.totalDataSize+written)
		row := chk.GetRow(i)
		for j := 0; j < numCols; j++ {
			if row.IsNull(j) {
				binary.LittleEndian.PutUint32(sizeBuf[:], uint32(0xffffffff))
				if _, err = l.w.Write(sizeBuf[:]); err != nil {
					return errors.Trace(err)
				}
				written += colSizeMetaLen
				continue
			}
			raw := row.GetRaw(j)
			binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(raw)))
			if _, err = l.w.Write(sizeBuf[:]); err != nil {
				return errors.Trace(err)
			}
			if _, err = l.w.Write(raw); err != nil {
				return errors.Trace(err)
			}
			written += colSizeMetaLen + int64(len(raw))
		}
	}
	// Flush so subsequent random reads observe the rows just written.
	if err = l.w.Flush(); err != nil {
		return errors.Trace(err)
	}

	l.offsetsOfRows = append(l.offsetsOfRows, offsets)
	l.numRowsOfEachChunk = append(l.numRowsOfEachChunk, numRows)
	l.totalDataSize += written
	l.totalRowNum += numRows
	l.diskTracker.Consume(written)
	return nil
}

// Len returns the number of rows in ListInDisk.
func (l *ListInDisk) Len() int {
	return l.totalRowNum
}

// NumChunks returns the number of chunks in ListInDisk.
func (l *ListInDisk) NumChunks() int {
	return len(l.numRowsOfEachChunk)
}

// NumRowsOfChunk returns the number of rows of a chunk.
func (l *ListInDisk) NumRowsOfChunk(chkIdx int) int {
	return l.numRowsOfEachChunk[chkIdx]
}

// endOffsetOfRow returns the file offset just past the row at ptr.
func (l *ListInDisk) endOffsetOfRow(chkIdx, rowIdx int) int64 {
	offsets := l.offsetsOfRows[chkIdx]
	if rowIdx+1 < len(offsets) {
		return offsets[rowIdx+1]
	}
	if chkIdx+1 < len(l.offsetsOfRows) {
		return l.offsetsOfRows[chkIdx+1][0]
	}
	return l.totalDataSize
}

// GetChunk gets a Chunk from the ListInDisk by chkIdx.
func (l *ListInDisk) GetChunk(chkIdx int) (*Chunk, error) {
	numRows := l.numRowsOfEachChunk[chkIdx]
	chk := NewChunkWithCapacity(l.fieldTypes, numRows)
	begin := l.offsetsOfRows[chkIdx][0]
	end := l.endOffsetOfRow(chkIdx, numRows-1)
	data := make([]byte, end-begin)
	n, err := l.dataFile.ReadAt(data, begin)
	if err != nil && err != io.EOF {
		return nil, errors.Trace(err)
	}
	if int64(n) != end-begin {
		return nil, errors.New("fail to restore the spilled chunk")
	}
	err = l.deserializeRows(data, chk)
	if err != nil {
		return nil, err
	}
	return chk, nil
}

// GetRow gets a Row from the ListInDisk by RowPtr.
func (l *ListInDisk) GetRow(ptr RowPtr) (Row, error) {
	begin := l.offsetsOfRows[ptr.ChkIdx][ptr.RowIdx]
	end := l.endOffsetOfRow(int(ptr.ChkIdx), int(ptr.RowIdx))
	data := make([]byte, end-begin)
	n, err := l.dataFile.ReadAt(data, begin)
	if err != nil && err != io.EOF {
		return Row{}, errors.Trace(err)
	}
	if int64(n) != end-begin {
		return Row{}, errors.New("fail to restore the spilled row")
	}
	chk := NewChunkWithCapacity(l.fieldTypes, 1)
	err = l.deserializeRows(data, chk)
	if err != nil {
		return Row{}, err
	}
	return chk.GetRow(0), nil
}

func (l *ListInDisk) deserializeRows(data []byte, chk *Chunk) error {
	numCols := len(l.fieldTypes)
	offset := 0
	for offset < len(data) {
		for colIdx := 0; colIdx < numCols; colIdx++ {
			if offset+colSizeMetaLen > len(data) {
				return errors.New("corrupted spill data")
			}
			size := binary.LittleEndian.Uint32(data[offset:])
			offset += colSizeMetaLen
			col := chk.columns[colIdx]
			if size == uint32(0xffffffff) { // The column value is null.
				col.appendNull()
				continue
			}
			if offset+int(size) > len(data) {
				return errors.New("corrupted spill data")
			}
			col.appendRaw(data[offset : offset+int(size)])
			offset += int(size)
		}
	}
	return nil
}

// Close releases the disk resource.
func (l *ListInDisk) Close() error {
	if l.dataFile != nil {
		l.diskTracker.Consume(-l.diskTracker.BytesConsumed())
		name := l.dataFile.Name()
		if err := l.dataFile.Close(); err != nil {
			return errors.Trace(err)
		}
		l.dataFile = nil
		if err := os.Remove(name); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
