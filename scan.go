// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"github.com/nudb-go/nudb/internal/bulkio"
	"github.com/nudb-go/nudb/internal/format"
	"github.com/nudb-go/nudb/internal/varint"
	"github.com/nudb-go/nudb/internal/xfile"
)

type recordKind int

const (
	recordData recordKind = iota
	recordSpill
)

// scannedRecord is one record surfaced by scanDataFile: either a live
// data record (key/value populated) or a spill record (block
// populated with the bucket page it archived).
type scannedRecord struct {
	kind   recordKind
	offset int64
	key    []byte
	value  []byte
	block  []byte
}

// scanDataFile performs a single forward pass over a data file's
// records, in append order, starting just past the file header and
// stopping at datSize, so records appended while the scan runs (such
// as Rekey's spill records) are not visited.
// Data records and spill records share one append-only stream (spec
// §4.3), so a linear scan must decode each record's leading size
// field to know how far to advance: a non-zero size introduces a data
// record, a zero size introduces a spill record. Rekey and verify's
// slow mode both drive this same walk.
func scanDataFile(dat *xfile.File, datSize int64, keySize int, bufSize int, visit func(scannedRecord) error) error {
	r, err := bulkio.NewReader(dat, format.DataHeaderSize, bufSize)
	if err != nil {
		return wrapFileErr("scan", err)
	}

	for r.Remaining() > 0 && r.Offset() < datSize {
		offset := r.Offset()

		hdr, err := r.Read(format.DataRecordHeaderSize)
		if err != nil {
			return wrapFileErr("scan", err)
		}
		size := format.DataRecordSize(hdr)

		if size == 0 {
			bb, err := r.Read(2)
			if err != nil {
				return wrapFileErr("scan", err)
			}
			blockBytes := int(varint.Uint16(bb))
			block, err := r.Read(blockBytes)
			if err != nil {
				return wrapFileErr("scan", err)
			}
			rec := scannedRecord{kind: recordSpill, offset: offset, block: append([]byte(nil), block...)}
			if err := visit(rec); err != nil {
				return err
			}
			continue
		}

		keyBuf, err := r.Read(keySize)
		if err != nil {
			return wrapFileErr("scan", err)
		}
		keyCopy := append([]byte(nil), keyBuf...)

		valBuf, err := r.Read(int(size))
		if err != nil {
			return wrapFileErr("scan", err)
		}
		valCopy := append([]byte(nil), valBuf...)

		rec := scannedRecord{kind: recordData, offset: offset, key: keyCopy, value: valCopy}
		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}
