// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"github.com/nudb-go/nudb/internal/format"
	"github.com/nudb-go/nudb/internal/xfile"
)

// VisitedRecord is one record surfaced by Visit: either a live data
// record (Key/Value populated) or a spill record archiving a bucket
// page (Block populated).
type VisitedRecord struct {
	Spill  bool
	Offset int64
	Key    []byte
	Value  []byte
	Block  []byte
}

// Visit performs a raw forward scan of a data file's record stream,
// handing every data and spill record to fn in append order (spec §6's
// visit tool). Unlike Verify, it does not touch the key file or check
// reachability -- it is a dump of exactly what the data file holds.
func Visit(datPath string, opts Options, fn func(VisitedRecord) error) error {
	opts.setDefaults()

	dat, err := xfile.Open(xfile.ModeScan, datPath)
	if err != nil {
		return wrapFileErr("visit", err)
	}
	defer dat.Close()

	var dhBuf [format.DataHeaderSize]byte
	if err := dat.ReadAt(0, dhBuf[:]); err != nil {
		return wrapFileErr("visit", err)
	}
	dh, uerr := format.UnmarshalDataHeader(dhBuf[:])
	if uerr != nil {
		return newError("visit", KindNotDataFile, uerr)
	}

	datSize, err := dat.Size()
	if err != nil {
		return wrapFileErr("visit", err)
	}

	return scanDataFile(dat, datSize, int(dh.KeySize), opts.BulkBufferSize, func(r scannedRecord) error {
		if r.kind == recordSpill {
			return fn(VisitedRecord{Spill: true, Offset: r.offset, Block: r.block})
		}
		return fn(VisitedRecord{Offset: r.offset, Key: r.key, Value: r.value})
	})
}
