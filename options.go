// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"time"

	"github.com/nudb-go/nudb/internal/bulkio"
	"github.com/nudb-go/nudb/internal/nudbhash"
)

const (
	// DefaultArenaAllocSize is the pending-set size (in bytes of key+
	// value payload) that triggers a background commit.
	DefaultArenaAllocSize = 16 * 1024 * 1024
	// DefaultCommitInterval is how often the flush thread wakes up to
	// check for pending work even absent a size trigger.
	DefaultCommitInterval = 500 * time.Millisecond
	// DefaultLoadFactor is the target ratio of entries to bucket
	// capacity used when sizing buckets (as a percentage, 1-100).
	DefaultLoadFactor = 50
	// MinBlockSize and MaxBlockSize bound block_size per spec I1.
	MinBlockSize = 512
	MaxBlockSize = 65536
)

// Options configures an open or created Store. Every operation that
// takes Options replaces zero-valued fields with their defaults, so
// the zero value is usable; DefaultOptions returns the defaults
// explicitly and differs from the zero value only in its Logger.
type Options struct {
	// ArenaAllocSize is the pending-set byte threshold that triggers a
	// background commit (spec §4.5 step 5).
	ArenaAllocSize int
	// CommitInterval is the flush thread's polling period.
	CommitInterval time.Duration
	// BulkBufferSize is the buffer size used by the commit pipeline's
	// bulk writer (spec §4.4). Defaults to bulkio.DefaultBufferSize.
	BulkBufferSize int
	// NewHasher overrides the default farm-hash-backed Hasher. Tests
	// exercise the store with a synthetic hasher via this seam.
	NewHasher nudbhash.NewHasherFunc
	// Logger receives diagnostic messages (commit failures).
	// DefaultOptions sets a standard-library-backed logger with debug
	// output disabled; a nil Logger discards all messages.
	Logger Logger
}

// DefaultOptions returns an Options with every field set to its
// default value.
func DefaultOptions() Options {
	return Options{
		ArenaAllocSize: DefaultArenaAllocSize,
		CommitInterval: DefaultCommitInterval,
		BulkBufferSize: bulkio.DefaultBufferSize,
		NewHasher:      nudbhash.Default,
		Logger:         NewStdLogger(false),
	}
}

func (o *Options) setDefaults() {
	if o.ArenaAllocSize <= 0 {
		o.ArenaAllocSize = DefaultArenaAllocSize
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = DefaultCommitInterval
	}
	if o.BulkBufferSize <= 0 {
		o.BulkBufferSize = bulkio.DefaultBufferSize
	}
	if o.NewHasher == nil {
		o.NewHasher = nudbhash.Default
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
}
