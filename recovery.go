// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"io"

	"github.com/nudb-go/nudb/internal/bulkio"
	"github.com/nudb-go/nudb/internal/format"
	"github.com/nudb-go/nudb/internal/xfile"
)

// Recover repairs a database left in an inconsistent state by a crash
// mid-commit (spec §4.7). It replays the write-ahead log's bucket
// before-images back into the key file, then truncates the key and
// data files to the sizes they had before the interrupted commit
// began. It is a no-op, returning nil, if no log file is present.
//
// Recover must be called with the database closed; Open refuses to
// proceed while a log file exists (KindRecoverNeeded).
func Recover(datPath, keyPath, logPath string, opts Options) error {
	opts.setDefaults()

	if !xfile.Exists(logPath) {
		return nil
	}

	logFile, err := xfile.Open(xfile.ModeScan, logPath)
	if err != nil {
		return wrapFileErr("recover", err)
	}

	var lhBuf [format.LogHeaderSize]byte
	if err := logFile.ReadAt(0, lhBuf[:]); err != nil {
		_ = logFile.Close()
		return wrapFileErr("recover", err)
	}
	lh, uerr := format.UnmarshalLogHeader(lhBuf[:])
	if uerr != nil {
		_ = logFile.Close()
		return newError("recover", KindNotLogFile, uerr)
	}

	key, err := xfile.Open(xfile.ModeWrite, keyPath)
	if err != nil {
		_ = logFile.Close()
		return wrapFileErr("recover", err)
	}

	var khBuf [format.KeyHeaderFixedSize]byte
	if err := key.ReadAt(0, khBuf[:]); err != nil {
		_ = logFile.Close()
		_ = key.Close()
		return wrapFileErr("recover", err)
	}
	kh, uerr := format.UnmarshalKeyHeader(khBuf[:])
	if uerr != nil {
		_ = logFile.Close()
		_ = key.Close()
		return newError("recover", KindNotKeyFile, uerr)
	}

	if lh.UID != kh.UID {
		_ = logFile.Close()
		_ = key.Close()
		return newError("recover", KindUIDMismatch, nil)
	}
	if lh.AppNum != kh.AppNum {
		_ = logFile.Close()
		_ = key.Close()
		return newError("recover", KindAppNumMismatch, nil)
	}
	if lh.KeySize != kh.KeySize {
		_ = logFile.Close()
		_ = key.Close()
		return newError("recover", KindKeySizeMismatch, nil)
	}

	blockSize := int(kh.BlockSize)
	recSize := format.LogRecordHeaderSize + blockSize

	reader, rerr := bulkio.NewReader(logFile, format.LogHeaderSize, opts.BulkBufferSize)
	if rerr != nil {
		_ = logFile.Close()
		_ = key.Close()
		return wrapFileErr("recover", rerr)
	}

	for {
		rec, rerr := reader.Read(recSize)
		if rerr == io.EOF {
			break
		}
		if rerr == io.ErrUnexpectedEOF {
			_ = logFile.Close()
			_ = key.Close()
			return newError("recover", KindShortRead, rerr)
		}
		if rerr != nil {
			_ = logFile.Close()
			_ = key.Close()
			return wrapFileErr("recover", rerr)
		}
		idx := format.LogRecordIndex(rec)
		offset := int64(idx+1) * int64(blockSize)
		if werr := key.WriteAt(offset, rec[format.LogRecordHeaderSize:]); werr != nil {
			_ = logFile.Close()
			_ = key.Close()
			return wrapFileErr("recover", werr)
		}
	}

	if err := key.Sync(); err != nil {
		_ = logFile.Close()
		_ = key.Close()
		return wrapFileErr("recover", err)
	}
	if err := key.Truncate(int64(lh.KeyFileSize)); err != nil {
		_ = logFile.Close()
		_ = key.Close()
		return wrapFileErr("recover", err)
	}
	if err := key.Sync(); err != nil {
		_ = logFile.Close()
		_ = key.Close()
		return wrapFileErr("recover", err)
	}
	if err := key.Close(); err != nil {
		_ = logFile.Close()
		return wrapFileErr("recover", err)
	}

	dat, err := xfile.Open(xfile.ModeAppend, datPath)
	if err != nil {
		_ = logFile.Close()
		return wrapFileErr("recover", err)
	}
	if err := dat.Truncate(int64(lh.DatFileSize)); err != nil {
		_ = logFile.Close()
		_ = dat.Close()
		return wrapFileErr("recover", err)
	}
	if err := dat.Sync(); err != nil {
		_ = logFile.Close()
		_ = dat.Close()
		return wrapFileErr("recover", err)
	}
	if err := dat.Close(); err != nil {
		_ = logFile.Close()
		return wrapFileErr("recover", err)
	}

	if err := logFile.Close(); err != nil {
		return wrapFileErr("recover", err)
	}
	if err := xfile.Erase(logPath); err != nil {
		return wrapFileErr("recover", err)
	}

	return nil
}
