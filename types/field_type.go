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

package types

// UnspecifiedLength is an unspecified length of a field type.
const UnspecifiedLength = -1

// FieldType records field type information.
type FieldType struct {
	Tp   byte
	Flag uint
	Flen int
}

// NewFieldType returns a FieldType with type tp.
func NewFieldType(tp byte) *FieldType {
	return &FieldType{
		Tp:   tp,
		Flen: UnspecifiedLength,
	}
}

// Clone returns a copy of ft.
func (ft *FieldType) Clone() *FieldType {
	ret := *ft
	return &ret
}
