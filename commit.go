// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/bucket"
	"github.com/nudb-go/nudb/internal/bulkio"
	"github.com/nudb-go/nudb/internal/format"
	"github.com/nudb-go/nudb/internal/nudbhash"
	"github.com/nudb-go/nudb/internal/xfile"
)

// flushLoop is the background commit thread spawned by Open. It wakes
// whenever the pending set crosses ArenaAllocSize, whenever Close or
// Flush asks for it, or on a CommitInterval timer, and swaps the
// pending set into p1 to commit it (spec §4.5).
func (s *Store) flushLoop() {
	defer s.wg.Done()

	tickerDone := make(chan struct{})
	go func() {
		t := time.NewTicker(s.opts.CommitInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-tickerDone:
				return
			}
		}
	}()
	defer close(tickerDone)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for !s.wantCommit && len(s.p0) == 0 && !s.closing {
			s.cond.Wait()
		}

		if len(s.p0) > 0 {
			s.wantCommit = false
			pending := s.p0
			committingArena := s.activeArena

			s.p0 = make(map[string]*pendingEntry)
			s.p1 = pending
			if committingArena == s.arenaA {
				s.activeArena = s.arenaB
			} else {
				s.activeArena = s.arenaA
			}

			s.mu.Unlock()
			err := s.commit(pending)
			s.mu.Lock()

			if err != nil {
				s.err = err
				s.opts.Logger.Errorf("nudb: commit failed: %v", err)
			} else {
				committingArena.Release()
				s.p1 = make(map[string]*pendingEntry)
			}
			s.cond.Broadcast()
		}

		if s.closing && len(s.p0) == 0 {
			return
		}
	}
}

type commitItem struct {
	bucketIdx uint64
	hash      uint64
	key       []byte
	value     []byte
}

// commit runs one full write-ahead-log-protected commit of pending
// against the key and data files, per spec §4.5.
func (s *Store) commit(pending map[string]*pendingEntry) error {
	if len(pending) == 0 {
		return nil
	}

	items := make([]commitItem, 0, len(pending))
	for _, e := range pending {
		h := nudbhash.HashKey(s.opts.NewHasher, s.salt, e.key)
		n := format.BucketIndex(h, s.modulus, s.buckets)
		items = append(items, commitItem{bucketIdx: n, hash: h, key: e.key, value: e.value})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].bucketIdx != items[j].bucketIdx {
			return items[i].bucketIdx < items[j].bucketIdx
		}
		return items[i].hash < items[j].hash
	})

	datSizeBefore, err := s.dat.Size()
	if err != nil {
		return wrapFileErr("commit", err)
	}
	keySizeBefore, err := s.key.Size()
	if err != nil {
		return wrapFileErr("commit", err)
	}

	logFile, err := xfile.Create(xfile.ModeAppend, s.logPath)
	if err != nil {
		return wrapFileErr("commit", err)
	}

	lh := format.LogHeader{
		Version: format.FormatVersion, UID: s.uid, AppNum: s.appnum,
		KeySize: uint16(s.keySize), Salt: s.salt, Pepper: s.pepper,
		KeyFileSize: uint64(keySizeBefore), DatFileSize: uint64(datSizeBefore),
	}
	if err := logFile.WriteAt(0, lh.Marshal()); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}
	if err := logFile.Sync(); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}

	logWriter := bulkio.NewWriter(logFile, format.LogHeaderSize, s.opts.BulkBufferSize)
	dataWriter := bulkio.NewWriter(s.dat, datSizeBefore, s.opts.BulkBufferSize)

	// commitBucket only logs the before-image and computes the updated
	// page; the actual key-file overwrite is deferred until after the
	// log is flushed and synced below, so the on-disk log always has a
	// before-image for any bucket a crash might catch mid-overwrite.
	pages := make([]keyPageWrite, 0, len(items))
	i := 0
	for i < len(items) {
		j := i
		for j < len(items) && items[j].bucketIdx == items[i].bucketIdx {
			j++
		}
		page, err := s.commitBucket(logWriter, dataWriter, items[i].bucketIdx, items[i:j])
		if err != nil {
			_ = logFile.Close()
			_ = xfile.Erase(s.logPath)
			return err
		}
		pages = append(pages, page)
		i = j
	}

	if err := logWriter.Flush(); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}
	if err := logFile.Sync(); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}

	if err := dataWriter.Flush(); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}
	if err := s.dat.Sync(); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}

	for _, page := range pages {
		if err := s.key.WriteAt(page.offset, page.buf); err != nil {
			_ = logFile.Close()
			_ = xfile.Erase(s.logPath)
			return wrapFileErr("commit", err)
		}
	}
	if err := s.key.Sync(); err != nil {
		_ = logFile.Close()
		_ = xfile.Erase(s.logPath)
		return wrapFileErr("commit", err)
	}

	if err := logFile.Close(); err != nil {
		return wrapFileErr("commit", err)
	}
	if err := xfile.Erase(s.logPath); err != nil {
		return wrapFileErr("commit", err)
	}

	return nil
}

// keyPageWrite is a bucket page computed by commitBucket, held in
// memory until the log covering it has been flushed and synced.
type keyPageWrite struct {
	offset int64
	buf    []byte
}

// commitBucket writes the before-image of bucket n to the log and
// applies every item destined for n (spilling full pages as needed),
// returning the resulting page for the caller to write back to the key
// file once the log is durable. It must not touch the key file itself:
// doing so before the log is synced would let the OS write back the
// overwritten page with no before-image on disk to recover it from.
func (s *Store) commitBucket(logWriter, dataWriter *bulkio.Writer, n uint64, group []commitItem) (keyPageWrite, error) {
	offset := int64(n+1) * int64(s.blockSize)

	before := make([]byte, s.blockSize)
	if err := s.key.ReadAt(offset, before); err != nil {
		return keyPageWrite{}, wrapFileErr("commit", err)
	}

	logRec, _, err := logWriter.Reserve(format.LogRecordHeaderSize + s.blockSize)
	if err != nil {
		return keyPageWrite{}, errors.Wrap(err, "commit: log reserve")
	}
	format.PutLogRecordIndex(logRec, n)
	copy(logRec[format.LogRecordHeaderSize:], before)

	buf := make([]byte, s.blockSize)
	copy(buf, before)
	view := bucket.New(buf)
	if err := view.Load(); err != nil {
		return keyPageWrite{}, newError("commit", KindInvalidBucketCount, err)
	}

	for _, it := range group {
		recSize := format.DataRecordHeaderSize + s.keySize + len(it.value)
		var recOff int64
		if recSize <= s.opts.BulkBufferSize {
			rbuf, off, rerr := dataWriter.Reserve(recSize)
			if rerr != nil {
				return keyPageWrite{}, errors.Wrap(rerr, "commit: data reserve")
			}
			format.PutDataRecordHeader(rbuf, uint64(len(it.value)))
			copy(rbuf[format.DataRecordHeaderSize:], it.key)
			copy(rbuf[format.DataRecordHeaderSize+s.keySize:], it.value)
			recOff = off
		} else {
			rec := make([]byte, recSize)
			format.PutDataRecordHeader(rec, uint64(len(it.value)))
			copy(rec[format.DataRecordHeaderSize:], it.key)
			copy(rec[format.DataRecordHeaderSize+s.keySize:], it.value)
			off, werr := dataWriter.WriteDirect(rec)
			if werr != nil {
				return keyPageWrite{}, errors.Wrap(werr, "commit: data write direct")
			}
			recOff = off
		}

		entry := bucket.Entry{Hash: it.hash, Offset: uint64(recOff), Size: uint64(len(it.value))}
		if ierr := view.Insert(entry); ierr != nil {
			if ierr != bucket.ErrFull {
				return keyPageWrite{}, errors.Wrap(ierr, "commit: bucket insert")
			}
			spillOff, serr := writeSpillRecord(dataWriter, view, s.opts.BulkBufferSize)
			if serr != nil {
				return keyPageWrite{}, serr
			}
			buf = make([]byte, s.blockSize)
			view = bucket.New(buf)
			view.InitEmpty()
			view.SetSpill(spillOff)
			if ierr := view.Insert(entry); ierr != nil {
				return keyPageWrite{}, errors.Wrap(ierr, "commit: bucket insert after spill")
			}
		}
	}

	return keyPageWrite{offset: offset, buf: buf}, nil
}

// writeSpillRecord appends a full bucket page as a spill record to the
// data file via dataWriter and returns its offset. Shared by the
// commit pipeline and Rekey, both of which build bucket pages
// in-memory and need to archive one when it fills up.
func writeSpillRecord(dataWriter *bulkio.Writer, v *bucket.View, bulkBufferSize int) (uint64, error) {
	payload := v.Bytes()
	total := format.SpillRecordHeaderSize + len(payload)

	if total <= bulkBufferSize {
		buf, off, err := dataWriter.Reserve(total)
		if err != nil {
			return 0, errors.Wrap(err, "commit: spill reserve")
		}
		format.PutSpillRecordHeader(buf, uint16(len(payload)))
		copy(buf[format.SpillRecordHeaderSize:], payload)
		return uint64(off), nil
	}

	rec := make([]byte, total)
	format.PutSpillRecordHeader(rec, uint16(len(payload)))
	copy(rec[format.SpillRecordHeaderSize:], payload)
	off, err := dataWriter.WriteDirect(rec)
	if err != nil {
		return 0, errors.Wrap(err, "commit: spill write direct")
	}
	return uint64(off), nil
}
