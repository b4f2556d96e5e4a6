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

package disk

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pingcap/errors"
)

var (
	tempDirMu sync.Mutex
	tempDir   string
)

// SetTempDir sets the directory used for temporary spill files.
// An empty path falls back to the OS temp directory.
func SetTempDir(path string) {
	tempDirMu.Lock()
	defer tempDirMu.Unlock()
	tempDir = path
}

// TempDir returns the directory used for temporary spill files.
func TempDir() string {
	tempDirMu.Lock()
	defer tempDirMu.Unlock()
	if tempDir == "" {
		return filepath.Join(os.TempDir(), "gracejoin_tmp_storage")
	}
	return tempDir
}

// CheckAndInitTempDir checks whether the temp directory is existed.
// If not, initializes the temp directory.
func CheckAndInitTempDir() error {
	dir := TempDir()
	_, err := os.Stat(dir)
	if err != nil && !os.IsExist(err) {
		err = os.MkdirAll(dir, 0750)
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// CleanUp releases the disk resource in the temp directory.
func CleanUp() {
	dir := TempDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.RemoveAll(filepath.Join(dir, entry.Name()))
	}
}
