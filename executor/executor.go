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

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

// Executor is the physical implementation of an algebra operator.
//
// Life cycle of an executor:
//  1. Open: initializes the executor, sets up the resources.
//  2. Next: reads one batch of rows into req. An empty req means end of
//     stream. Next is called until end of stream or an error occurs.
//  3. Close: releases all the resources held by the executor.
type Executor interface {
	base() *baseExecutor
	Open(ctx context.Context) error
	Next(ctx context.Context, req *chunk.Chunk) error
	Close() error
}

type baseExecutor struct {
	id            string
	retFieldTypes []*types.FieldType
	maxChunkSize  int
	children      []Executor
}

func newBaseExecutor(id string, retFieldTypes []*types.FieldType, maxChunkSize int, children ...Executor) baseExecutor {
	return baseExecutor{
		id:            id,
		retFieldTypes: retFieldTypes,
		maxChunkSize:  maxChunkSize,
		children:      children,
	}
}

func (e *baseExecutor) base() *baseExecutor {
	return e
}

// Open initializes children recursively.
func (e *baseExecutor) Open(ctx context.Context) error {
	for _, child := range e.children {
		if err := child.Open(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all executors and release all resources.
func (e *baseExecutor) Close() error {
	var firstErr error
	for _, child := range e.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Next fills multiple rows into a chunk.
func (e *baseExecutor) Next(ctx context.Context, req *chunk.Chunk) error {
	return nil
}

// retTypes returns all output column types.
func retTypes(e Executor) []*types.FieldType {
	return e.base().retFieldTypes
}

// newFirstChunk creates a new chunk to buffer current executor's result.
func newFirstChunk(e Executor) *chunk.Chunk {
	base := e.base()
	return chunk.New(base.retFieldTypes, base.maxChunkSize, base.maxChunkSize)
}

// Next is a wrapper function on e.Next(), it handles some common codes.
func Next(ctx context.Context, e Executor, req *chunk.Chunk) error {
	req.Reset()
	return e.Next(ctx, req)
}
