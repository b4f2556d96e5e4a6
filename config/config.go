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

package config

import (
	"math/bits"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Default configuration values.
const (
	// DefPartitionFanout is the number of partitions created by one
	// partitioning pass. Must be a power of two.
	DefPartitionFanout = 16
	// DefMaxPartitionDepth is the maximum number of repartitioning steps.
	// The maximum build input we can process is roughly
	// MemQuota * (PartitionFanout ^ MaxPartitionDepth) in the absence of skew.
	DefMaxPartitionDepth = 4
	// DefMaxChunkSize is the max number of rows in one chunk.
	DefMaxChunkSize = 1024
	// DefMemQuota is the memory quota for one join, in bytes. 0 means no limit.
	DefMemQuota = 0
)

// Config contains configuration options.
type Config struct {
	// MemQuota is the bytes limit for one join operator. <= 0 means no limit.
	MemQuota int64 `toml:"mem-quota" json:"mem-quota"`
	// OOMUseTmpStorage is loaded and stored with the configuration. The join
	// executor does not read it: it spills to disk whenever its quota requires,
	// whatever this flag says.
	OOMUseTmpStorage bool `toml:"oom-use-tmp-storage" json:"oom-use-tmp-storage"`
	// TempStoragePath is the directory spill files are written to.
	TempStoragePath string `toml:"tmp-storage-path" json:"tmp-storage-path"`
	// MaxChunkSize is the max number of rows in one chunk.
	MaxChunkSize int        `toml:"max-chunk-size" json:"max-chunk-size"`
	Join         JoinConfig `toml:"join" json:"join"`
}

// JoinConfig is the hash join configuration.
type JoinConfig struct {
	// PartitionFanout is the number of partitions created by one
	// partitioning pass. Must be a power of two.
	PartitionFanout int `toml:"partition-fanout" json:"partition-fanout"`
	// MaxPartitionDepth is the maximum number of repartitioning steps before
	// the join gives up on a partition that does not fit in memory.
	MaxPartitionDepth int `toml:"max-partition-depth" json:"max-partition-depth"`
	// MaxInMemBuildTables caps the number of hash tables kept in memory at
	// once. It is a testing hook to force the spilling paths; by default it
	// equals PartitionFanout.
	MaxInMemBuildTables int `toml:"max-in-mem-build-tables" json:"max-in-mem-build-tables"`
}

// NumPartitioningBits returns log2(PartitionFanout): the number of hash bits
// one partitioning pass consumes.
func (c *JoinConfig) NumPartitioningBits() int {
	return bits.TrailingZeros(uint(c.PartitionFanout))
}

func defaultConf() Config {
	return Config{
		MemQuota:         DefMemQuota,
		OOMUseTmpStorage: true,
		TempStoragePath:  filepath.Join(os.TempDir(), "gracejoin_tmp_storage"),
		MaxChunkSize:     DefMaxChunkSize,
		Join: JoinConfig{
			PartitionFanout:     DefPartitionFanout,
			MaxPartitionDepth:   DefMaxPartitionDepth,
			MaxInMemBuildTables: DefPartitionFanout,
		},
	}
}

var globalConf atomic.Value

func init() {
	conf := defaultConf()
	StoreGlobalConfig(&conf)
}

// NewConfig creates a new config instance with default value.
func NewConfig() *Config {
	conf := defaultConf()
	return &conf
}

// GetGlobalConfig returns the global configuration for this server.
// It should store configuration from command line and configuration file.
// Other parts of the system can read the global configuration use this function.
func GetGlobalConfig() *Config {
	return globalConf.Load().(*Config)
}

// StoreGlobalConfig stores a new config to the globalConf.
func StoreGlobalConfig(config *Config) {
	globalConf.Store(config)
}

// Load loads config options from a toml file.
func (c *Config) Load(confFile string) error {
	metaData, err := toml.DecodeFile(confFile, c)
	if err != nil {
		return errors.Trace(err)
	}
	if len(metaData.Undecoded()) > 0 {
		return errors.Errorf("unknown configuration option %v", metaData.Undecoded()[0].String())
	}
	return c.Valid()
}

// Valid checks whether the config is valid.
func (c *Config) Valid() error {
	if c.Join.PartitionFanout <= 0 || c.Join.PartitionFanout&(c.Join.PartitionFanout-1) != 0 {
		return errors.Errorf("join.partition-fanout %d must be a power of two", c.Join.PartitionFanout)
	}
	if c.Join.MaxPartitionDepth < 0 {
		return errors.Errorf("join.max-partition-depth %d must be non-negative", c.Join.MaxPartitionDepth)
	}
	if c.Join.MaxInMemBuildTables <= 0 {
		return errors.Errorf("join.max-in-mem-build-tables %d must be positive", c.Join.MaxInMemBuildTables)
	}
	if c.MaxChunkSize <= 0 {
		return errors.Errorf("max-chunk-size %d must be positive", c.MaxChunkSize)
	}
	return nil
}
