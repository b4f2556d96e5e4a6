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
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/disk"
	"github.com/gracedb/gracejoin/util/logutil"
	"github.com/gracedb/gracejoin/util/memory"
)

type rowContainerRecord struct {
	inMemory *List
	inDisk   *ListInDisk
	// spillError stores the error when spilling.
	spillError error
}

// RowContainer provides a place for many rows, so many that we might want to
// spill them into disk.
//
// It models a buffered tuple stream: while in memory ("pinned") rows are
// randomly accessible; once spilled ("unpinned") the rows live in a temp file
// and appends keep working by writing through to disk. PinForRead restores a
// spilled container into memory.
type RowContainer struct {
	records rowContainerRecord

	fieldTypes []*types.FieldType
	chunkSize  int

	memTracker  *memory.Tracker
	diskTracker *disk.Tracker
}

// NewRowContainer creates a new RowContainer in memory.
func NewRowContainer(fieldTypes []*types.FieldType, chunkSize int) *RowContainer {
	li := NewList(fieldTypes, chunkSize)
	rc := &RowContainer{
		records:     rowContainerRecord{inMemory: li},
		fieldTypes:  fieldTypes,
		chunkSize:   chunkSize,
		memTracker:  memory.NewTracker(memory.LabelForRowContainer, -1),
		diskTracker: disk.NewTracker(memory.LabelForRowContainer, -1),
	}
	li.GetMemTracker().AttachTo(rc.GetMemTracker())
	return rc
}

// SpillToDisk spills data to disk. The in-memory rows are moved to a temp
// file and their memory is released. Appends after this write through to disk.
func (c *RowContainer) SpillToDisk() error {
	if c.AlreadySpilled() {
		return nil
	}
	var err error
	memoryUsage := c.memTracker.BytesConsumed()
	n := c.records.inMemory.NumChunks()
	c.records.inDisk = NewListInDisk(c.records.inMemory.FieldTypes())
	c.records.inDisk.diskTracker.AttachTo(c.diskTracker)
	failpoint.Inject("errorDuringSpillToDisk", func(val failpoint.Value) {
		if val.(bool) {
			err = errors.New("injected spill error")
		}
	})
	if err != nil {
		c.records.spillError = err
		return errors.Trace(err)
	}
	for i := 0; i < n; i++ {
		chk := c.records.inMemory.GetChunk(i)
		err = c.records.inDisk.Add(chk)
		if err != nil {
			c.records.spillError = err
			return errors.Trace(err)
		}
	}
	c.records.inMemory.Clear()
	logutil.BgLogger().Info("row container spilled to disk",
		zap.Int64("memoryReleased", memoryUsage),
		zap.Int64("diskUsed", c.diskTracker.BytesConsumed()))
	return nil
}

// PinForRead restores a spilled container back into memory so rows can be
// accessed without disk reads. The temp file is released on success.
// Caller is responsible for checking the memory budget beforehand.
func (c *RowContainer) PinForRead() error {
	if !c.AlreadySpilled() {
		return nil
	}
	if err := c.records.spillError; err != nil {
		return errors.Trace(err)
	}
	n := c.records.inDisk.NumChunks()
	li := NewList(c.fieldTypes, c.chunkSize)
	li.GetMemTracker().AttachTo(c.memTracker)
	for i := 0; i < n; i++ {
		chk, err := c.records.inDisk.GetChunk(i)
		if err != nil {
			li.Clear()
			li.GetMemTracker().Detach()
			return errors.Trace(err)
		}
		li.Add(chk)
	}
	err := c.records.inDisk.Close()
	c.records.inDisk = nil
	c.records.inMemory.GetMemTracker().Detach()
	c.records.inMemory = li
	return errors.Trace(err)
}

// AlreadySpilled indicates that records have spilled out into disk.
func (c *RowContainer) AlreadySpilled() bool {
	return c.records.inDisk != nil
}

// NumRow returns the number of rows in the container.
func (c *RowContainer) NumRow() int {
	if c.AlreadySpilled() {
		return c.records.inDisk.Len()
	}
	return c.records.inMemory.Len()
}

// NumRowsOfChunk returns the number of rows of a chunk.
func (c *RowContainer) NumRowsOfChunk(chkID int) int {
	if c.AlreadySpilled() {
		return c.records.inDisk.NumRowsOfChunk(chkID)
	}
	return c.records.inMemory.NumRowsOfChunk(chkID)
}

// NumChunks returns the number of chunks in the container.
func (c *RowContainer) NumChunks() int {
	if c.AlreadySpilled() {
		return c.records.inDisk.NumChunks()
	}
	return c.records.inMemory.NumChunks()
}

// Add appends a chunk into the RowContainer.
func (c *RowContainer) Add(chk *Chunk) (err error) {
	if c.AlreadySpilled() {
		if err = c.records.spillError; err != nil {
			return errors.Trace(err)
		}
		err = c.records.inDisk.Add(chk)
	} else {
		c.records.inMemory.Add(chk)
	}
	return
}

// GetChunk returns chkIdx th chunk of the records.
// For a spilled container a fresh chunk is restored from disk; for an
// in-memory container the stored chunk is returned and must not be modified.
func (c *RowContainer) GetChunk(chkIdx int) (*Chunk, error) {
	if !c.AlreadySpilled() {
		return c.records.inMemory.GetChunk(chkIdx), nil
	}
	if err := c.records.spillError; err != nil {
		return nil, errors.Trace(err)
	}
	return c.records.inDisk.GetChunk(chkIdx)
}

// GetRow returns the row the ptr pointed to.
func (c *RowContainer) GetRow(ptr RowPtr) (Row, error) {
	if c.AlreadySpilled() {
		if err := c.records.spillError; err != nil {
			return Row{}, errors.Trace(err)
		}
		return c.records.inDisk.GetRow(ptr)
	}
	return c.records.inMemory.GetRow(ptr), nil
}

// GetMemTracker returns the memory tracker in records.
func (c *RowContainer) GetMemTracker() *memory.Tracker {
	return c.memTracker
}

// GetDiskTracker returns the underlying disk usage tracker.
func (c *RowContainer) GetDiskTracker() *disk.Tracker {
	return c.diskTracker
}

// FieldTypes returns the field types of the container.
func (c *RowContainer) FieldTypes() []*types.FieldType {
	return c.fieldTypes
}

// Close closes the RowContainer.
func (c *RowContainer) Close() (err error) {
	if c.AlreadySpilled() {
		err = c.records.inDisk.Close()
		c.records.inDisk = nil
	}
	c.records.inMemory.Clear()
	c.memTracker.Detach()
	return
}
