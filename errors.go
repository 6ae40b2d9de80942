// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"errors"
	"fmt"

	"github.com/nudb-go/nudb/internal/xfile"
)

// Kind categorizes the errors NuDB operations can fail with (spec §7).
type Kind int

const (
	KindNone Kind = iota
	KindShortRead
	KindShortWrite
	KindIO
	KindKeyExists
	KindKeyNotFound
	KindKeySizeMismatch
	KindKeySizeInvalid
	KindBlockSizeInvalid
	KindLoadFactorInvalid
	KindNotDataFile
	KindNotKeyFile
	KindNotLogFile
	KindHashMismatch
	KindUIDMismatch
	KindAppNumMismatch
	KindInvalidRecordSize
	KindInvalidSpillSize
	KindInvalidBucketCount
	KindRecoverNeeded
	KindNoKeyFile
	KindStoreClosed
	KindAlreadyOpen
)

func (k Kind) String() string {
	switch k {
	case KindShortRead:
		return "short_read"
	case KindShortWrite:
		return "short_write"
	case KindIO:
		return "io"
	case KindKeyExists:
		return "key_exists"
	case KindKeyNotFound:
		return "key_not_found"
	case KindKeySizeMismatch:
		return "key_size_mismatch"
	case KindKeySizeInvalid:
		return "key_size_invalid"
	case KindBlockSizeInvalid:
		return "block_size_invalid"
	case KindLoadFactorInvalid:
		return "load_factor_invalid"
	case KindNotDataFile:
		return "not_data_file"
	case KindNotKeyFile:
		return "not_key_file"
	case KindNotLogFile:
		return "not_log_file"
	case KindHashMismatch:
		return "hash_mismatch"
	case KindUIDMismatch:
		return "uid_mismatch"
	case KindAppNumMismatch:
		return "appnum_mismatch"
	case KindInvalidRecordSize:
		return "invalid_record_size"
	case KindInvalidSpillSize:
		return "invalid_spill_size"
	case KindInvalidBucketCount:
		return "invalid_bucket_count"
	case KindRecoverNeeded:
		return "log_file_exists/recover_needed"
	case KindNoKeyFile:
		return "no_key_file"
	case KindStoreClosed:
		return "store_closed"
	case KindAlreadyOpen:
		return "already_open"
	default:
		return "unknown"
	}
}

// Error is returned by every exported NuDB operation that fails. It
// follows the shape of os.PathError/net.OpError: an operation name, a
// Kind a caller can switch on, and the underlying cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nudb: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("nudb: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// wrapFileErr translates an internal/xfile error into a *Error with an
// equivalent Kind, preserving the cause.
func wrapFileErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var xerr *xfile.Error
	if !errors.As(err, &xerr) {
		return newError(op, KindIO, err)
	}
	switch xerr.Kind {
	case xfile.KindShortRead:
		return newError(op, KindShortRead, err)
	case xfile.KindShortWrite:
		return newError(op, KindShortWrite, err)
	default:
		return newError(op, KindIO, err)
	}
}
