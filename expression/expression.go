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

package expression

import (
	"github.com/pingcap/errors"

	"github.com/gracedb/gracejoin/types"
	"github.com/gracedb/gracejoin/util/chunk"
)

// Expression represents a boolean scalar expression evaluated over a row.
// The join operator treats evaluation as a black box; implementations are
// supplied by the surrounding engine.
type Expression interface {
	// EvalBool evaluates the expression over row, returning the value and
	// whether the value is NULL.
	EvalBool(row chunk.Row) (val bool, isNull bool, err error)
}

// CNFExprs stands for a CNF expression.
type CNFExprs []Expression

// EvalBool evaluates a CNF expression over row. A NULL conjunct counts as
// false in predicate position.
func (e CNFExprs) EvalBool(row chunk.Row) (bool, error) {
	for _, expr := range e {
		ok, isNull, err := expr.EvalBool(row)
		if err != nil {
			return false, errors.Trace(err)
		}
		if isNull || !ok {
			return false, nil
		}
	}
	return true, nil
}

// Column represents a column reference used as an equi-join key.
type Column struct {
	Index   int
	RetType *types.FieldType
}
