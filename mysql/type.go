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

package mysql

// MySQL type information.
const (
	TypeTiny     byte = 1
	TypeShort    byte = 2
	TypeLong     byte = 3
	TypeFloat    byte = 4
	TypeDouble   byte = 5
	TypeNull     byte = 6
	TypeLonglong byte = 8
	TypeInt24    byte = 9

	TypeVarchar   byte = 15
	TypeVarString byte = 253
	TypeString    byte = 254
	TypeBlob      byte = 252
)

// Flag information.
const (
	// UnsignedFlag indicates the column holds unsigned integers.
	UnsignedFlag uint = 1 << 5
)

// HasUnsignedFlag checks if UnsignedFlag is set.
func HasUnsignedFlag(flag uint) bool {
	return flag&UnsignedFlag > 0
}

// IsVarLengthType returns true if the type stores variable-length values.
func IsVarLengthType(tp byte) bool {
	switch tp {
	case TypeVarchar, TypeVarString, TypeString, TypeBlob:
		return true
	default:
		return false
	}
}
