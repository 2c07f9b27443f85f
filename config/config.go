// Package config collects the handful of tunables the core storage
// subsystem needs at construction time. Generalized from the teacher's
// constructor parameters (NewBufferPool(capacity, ...), the MaxKeys /
// MinKeys constants in bplustree/struct.go) into one struct so callers
// (tests, or a future front-end) build it once and thread it through.
//
// Per spec.md §6 ("no environment variables belonging to the core"), this
// package never reads the environment or flags itself — it only holds
// values and validates them.
package config

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"corestore/logging"
)

// Config holds the construction-time parameters of the storage subsystem.
type Config struct {
	// PoolFrames is the number of frames the buffer pool holds resident.
	PoolFrames int

	// HashBucketCapacity is B, the per-bucket slot capacity of the
	// extendible hash table backing the buffer pool's page table.
	HashBucketCapacity int

	// LogLevel is one of logrus's level names ("debug", "info", "warn",
	// "error"); empty means "info".
	LogLevel string
}

// DefaultConfig returns a modestly sized pool of 64 frames (larger than
// the teacher's demo, which wires NewBufferPool(10)), a bucket capacity of
// 4, and the "info" log level.
func DefaultConfig() Config {
	return Config{
		PoolFrames:         64,
		HashBucketCapacity: 4,
		LogLevel:           "info",
	}
}

// Validate rejects configurations that would make the pool or hash table
// meaningless.
func (c Config) Validate() error {
	if c.PoolFrames <= 0 {
		return errors.Errorf("config: PoolFrames must be positive, got %d", c.PoolFrames)
	}
	if c.HashBucketCapacity <= 0 {
		return errors.Errorf("config: HashBucketCapacity must be positive, got %d", c.HashBucketCapacity)
	}
	return nil
}

// Apply pushes the config's log level into the shared logger.
func (c Config) Apply() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logging.SetLevel(level)
}
