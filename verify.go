// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/bucket"
	"github.com/nudb-go/nudb/internal/format"
	"github.com/nudb-go/nudb/internal/nudbhash"
	"github.com/nudb-go/nudb/internal/xfile"
)

// VerifyMode selects how thoroughly Verify checks a database.
type VerifyMode int

const (
	// VerifySlow performs a full linear scan of the data file and, for
	// every live record found, walks the key file's bucket chain to
	// confirm the record is actually reachable by lookup. This catches
	// index corruption a fast scan cannot, at the cost of reading the
	// entire data file.
	VerifySlow VerifyMode = iota
	// VerifyFast walks only the key file's bucket pages (following
	// spill chains into the data file as needed) without scanning the
	// data file for every record. Every bucket entry already carries
	// the value size, so it reports the same key count, value bytes,
	// and value-size histogram as VerifySlow; it only omits the
	// average-fetch-length figure, which requires re-deriving each
	// record's hash from the data file.
	VerifyFast
)

// Report summarizes a database's contents and index health.
type Report struct {
	KeyCount         uint64
	ValueBytes       uint64
	SpillCount       uint64
	SpillBytes       uint64
	KeyFileSize      int64
	DatFileSize      int64
	OverheadBytes    int64
	AverageFetchLen  float64
	ActualLoadFactor float64
	// ValueSizeHistogram maps floor(log2(value_size)) to the count of
	// values whose size falls in that bucket.
	ValueSizeHistogram map[int]uint64
}

// Verify inspects a database's data and key files and reports on their
// contents (spec §4.9). It never modifies either file.
func Verify(datPath, keyPath string, mode VerifyMode, opts Options) (Report, error) {
	opts.setDefaults()
	var rep Report
	rep.ValueSizeHistogram = make(map[int]uint64)

	if !xfile.Exists(keyPath) {
		return rep, newError("verify", KindNoKeyFile, nil)
	}

	dat, err := xfile.Open(xfile.ModeScan, datPath)
	if err != nil {
		return rep, wrapFileErr("verify", err)
	}
	defer dat.Close()

	var dhBuf [format.DataHeaderSize]byte
	if err := dat.ReadAt(0, dhBuf[:]); err != nil {
		return rep, wrapFileErr("verify", err)
	}
	dh, uerr := format.UnmarshalDataHeader(dhBuf[:])
	if uerr != nil {
		return rep, newError("verify", KindNotDataFile, uerr)
	}

	key, err := xfile.Open(xfile.ModeRead, keyPath)
	if err != nil {
		return rep, wrapFileErr("verify", err)
	}
	defer key.Close()

	var khBuf [format.KeyHeaderFixedSize]byte
	if err := key.ReadAt(0, khBuf[:]); err != nil {
		return rep, wrapFileErr("verify", err)
	}
	kh, uerr := format.UnmarshalKeyHeader(khBuf[:])
	if uerr != nil {
		return rep, newError("verify", KindNotKeyFile, uerr)
	}

	if kh.UID != dh.UID {
		return rep, newError("verify", KindUIDMismatch, nil)
	}
	if kh.KeySize != dh.KeySize {
		return rep, newError("verify", KindKeySizeMismatch, nil)
	}

	datSize, err := dat.Size()
	if err != nil {
		return rep, wrapFileErr("verify", err)
	}
	keySize, err := key.Size()
	if err != nil {
		return rep, wrapFileErr("verify", err)
	}
	rep.DatFileSize = datSize
	rep.KeyFileSize = keySize

	blockSize := int(kh.BlockSize)
	capacity := bucket.Capacity(blockSize)

	if mode == VerifySlow {
		if err := verifySlow(dat, key, dh, kh, datSize, opts, &rep); err != nil {
			return rep, err
		}
	} else {
		if err := verifyFast(dat, key, kh, &rep); err != nil {
			return rep, err
		}
	}

	rep.OverheadBytes = rep.KeyFileSize + int64(rep.SpillCount)*format.SpillRecordHeaderSize
	denom := float64(kh.Buckets) * float64(capacity)
	if denom > 0 {
		rep.ActualLoadFactor = float64(rep.KeyCount) / denom
	}

	return rep, nil
}

func histogramBucket(size uint64) int {
	if size == 0 {
		return 0
	}
	return bits.Len64(size) - 1
}

// verifySlow scans the data file for every live record, tallies size
// statistics, and cross-checks each one is reachable from its bucket
// chain in the key file.
func verifySlow(dat, key *xfile.File, dh format.DataHeader, kh format.KeyHeader, datSize int64, opts Options, rep *Report) error {
	keySize := int(dh.KeySize)
	blockSize := int(kh.BlockSize)

	var totalProbes uint64

	err := scanDataFile(dat, datSize, keySize, opts.BulkBufferSize, func(r scannedRecord) error {
		switch r.kind {
		case recordSpill:
			rep.SpillCount++
			rep.SpillBytes += uint64(format.SpillRecordHeaderSize + len(r.block))
			return nil
		case recordData:
			rep.KeyCount++
			rep.ValueBytes += uint64(len(r.value))
			rep.ValueSizeHistogram[histogramBucket(uint64(len(r.value)))]++

			probes, found, err := verifyLocate(dat, key, kh, blockSize, opts.NewHasher, r)
			if err != nil {
				return err
			}
			if !found {
				return newError("verify", KindInvalidRecordSize, errors.Errorf("record at offset %d not reachable from its bucket chain", r.offset))
			}
			totalProbes += uint64(probes)
			return nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	if rep.KeyCount > 0 {
		rep.AverageFetchLen = float64(totalProbes) / float64(rep.KeyCount)
	}
	return nil
}

// verifyLocate walks the bucket chain for r's key the same way Store's
// online fetch path does, confirming that the exact (offset, size)
// pair the data scan just produced appears in the index.
func verifyLocate(dat, key *xfile.File, kh format.KeyHeader, blockSize int, newHasher nudbhash.NewHasherFunc, r scannedRecord) (probes int, found bool, err error) {
	h := nudbhash.HashKey(newHasher, kh.Salt, r.key)
	n := format.BucketIndex(h, kh.Modulus, kh.Buckets)
	offset := int64(n+1) * int64(blockSize)

	buf := make([]byte, blockSize)
	if err := key.ReadAt(offset, buf); err != nil {
		return probes, false, wrapFileErr("verify", err)
	}
	v := bucket.New(buf)

	for {
		probes++
		if err := v.Load(); err != nil {
			return probes, false, newError("verify", KindInvalidBucketCount, err)
		}
		idx := v.Find(h)
		for i := idx; i < v.Count(); i++ {
			e := v.Entry(i)
			if e.Hash != h {
				break
			}
			if e.Offset == uint64(r.offset) && e.Size == uint64(len(r.value)) {
				return probes, true, nil
			}
		}
		spill := v.Spill()
		if spill == 0 {
			return probes, false, nil
		}
		var hdr [format.SpillRecordHeaderSize]byte
		if err := dat.ReadAt(int64(spill), hdr[:]); err != nil {
			return probes, false, wrapFileErr("verify", err)
		}
		if !format.IsSpillMarker(hdr[:6]) {
			return probes, false, newError("verify", KindInvalidSpillSize, nil)
		}
		blockBytes := format.SpillRecordBlockBytes(hdr[:])
		spillBuf := make([]byte, blockBytes)
		if err := dat.ReadAt(int64(spill)+format.SpillRecordHeaderSize, spillBuf); err != nil {
			return probes, false, wrapFileErr("verify", err)
		}
		v = bucket.New(spillBuf)
	}
}

// verifyFast walks the key file's bucket pages directly (following
// spill chains for overflow) without touching the data file for every
// record, trading thoroughness for speed.
func verifyFast(dat, key *xfile.File, kh format.KeyHeader, rep *Report) error {
	blockSize := int(kh.BlockSize)
	buf := make([]byte, blockSize)

	for n := uint64(0); n < kh.Buckets; n++ {
		offset := int64(n+1) * int64(blockSize)
		if err := key.ReadAt(offset, buf); err != nil {
			return wrapFileErr("verify", err)
		}
		v := bucket.New(buf)
		if err := v.Load(); err != nil {
			return newError("verify", KindInvalidBucketCount, err)
		}
		for i := 0; i < v.Count(); i++ {
			e := v.Entry(i)
			rep.KeyCount++
			rep.ValueBytes += e.Size
			rep.ValueSizeHistogram[histogramBucket(e.Size)]++
		}

		spill := v.Spill()
		for spill != 0 {
			rep.SpillCount++
			var hdr [format.SpillRecordHeaderSize]byte
			if err := dat.ReadAt(int64(spill), hdr[:]); err != nil {
				return wrapFileErr("verify", err)
			}
			if !format.IsSpillMarker(hdr[:6]) {
				return newError("verify", KindInvalidSpillSize, nil)
			}
			blockBytes := format.SpillRecordBlockBytes(hdr[:])
			rep.SpillBytes += uint64(format.SpillRecordHeaderSize) + uint64(blockBytes)
			spillBuf := make([]byte, blockBytes)
			if err := dat.ReadAt(int64(spill)+format.SpillRecordHeaderSize, spillBuf); err != nil {
				return wrapFileErr("verify", err)
			}
			sv := bucket.New(spillBuf)
			if err := sv.Load(); err != nil {
				return newError("verify", KindInvalidSpillSize, err)
			}
			for i := 0; i < sv.Count(); i++ {
				e := sv.Entry(i)
				rep.KeyCount++
				rep.ValueBytes += e.Size
				rep.ValueSizeHistogram[histogramBucket(e.Size)]++
			}
			spill = sv.Spill()
		}
	}
	return nil
}
