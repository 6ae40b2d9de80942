// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package nudb implements the NuDB storage engine: an append-only,
// insert-only, on-disk key/value store for very large, write-once
// datasets. Keys are fixed-width; values are variable-length. Lookup
// is by exact key only -- there is no delete, update, or range query.
package nudb

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/arena"
	"github.com/nudb-go/nudb/internal/bucket"
	"github.com/nudb-go/nudb/internal/format"
	"github.com/nudb-go/nudb/internal/nudbhash"
	"github.com/nudb-go/nudb/internal/xfile"
)

// Store is the facade over a NuDB database's three files.
type Store struct {
	datPath, keyPath, logPath string

	dat *xfile.File
	key *xfile.File

	uid, appnum uint64
	keySize     int
	blockSize   int
	buckets     uint64
	modulus     uint64
	salt        uint64
	pepper      uint64

	opts Options

	mu   sync.Mutex
	cond *sync.Cond
	p0   map[string]*pendingEntry
	p1   map[string]*pendingEntry

	// arenaA and arenaB take turns backing the active pending set (p0).
	// While one is being committed (as p1) the other absorbs new
	// inserts; a committed arena is Release()'d and becomes the next
	// active one, so its chunks are recycled rather than reallocated
	// every round.
	arenaA, arenaB *arena.Arena
	activeArena    *arena.Arena

	wantCommit bool
	closing    bool
	closed     bool
	err        error

	wg sync.WaitGroup
}

type pendingEntry struct {
	key   []byte
	value []byte
}

func randomUint64() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Create initializes the three files of a new, empty database. It
// leaves the log file absent (steady state). Per spec §4.6, buckets
// starts at the minimum of 1 -- callers with a known item count should
// follow Create with Rekey to size the key file properly before the
// first bulk load.
func Create(datPath, keyPath, logPath string, appnum, salt uint64, keySize, blockSize int, loadFactor int, opts Options) (err error) {
	opts.setDefaults()

	if keySize < 1 || keySize > 65535 {
		return newError("create", KindKeySizeInvalid, errors.Errorf("key_size %d out of range", keySize))
	}
	if blockSize < MinBlockSize || blockSize > MaxBlockSize || blockSize&(blockSize-1) != 0 {
		return newError("create", KindBlockSizeInvalid, errors.Errorf("block_size %d must be a power of two in [%d, %d]", blockSize, MinBlockSize, MaxBlockSize))
	}
	if bucket.Capacity(blockSize) < 1 {
		return newError("create", KindBlockSizeInvalid, errors.New("block_size too small to hold a single bucket entry"))
	}
	if loadFactor <= 0 || loadFactor > 100 {
		return newError("create", KindLoadFactorInvalid, errors.Errorf("load_factor %d out of range", loadFactor))
	}

	uid, err := randomUint64()
	if err != nil {
		return newError("create", KindIO, err)
	}
	pepper := nudbhash.Pepper(opts.NewHasher, salt)

	dat, err := xfile.Create(xfile.ModeAppend, datPath)
	if err != nil {
		return wrapFileErr("create", err)
	}
	defer func() {
		if err != nil {
			_ = dat.Close()
			_ = xfile.Erase(datPath)
		}
	}()

	dh := format.DataHeader{Version: format.FormatVersion, UID: uid, AppNum: appnum, KeySize: uint16(keySize)}
	if werr := dat.WriteAt(0, dh.Marshal()); werr != nil {
		return wrapFileErr("create", werr)
	}
	if werr := dat.Sync(); werr != nil {
		return wrapFileErr("create", werr)
	}
	if cerr := dat.Close(); cerr != nil {
		return wrapFileErr("create", cerr)
	}

	const initialBuckets = uint64(1)
	modulus := format.NextPow2(initialBuckets)

	key, err := xfile.Create(xfile.ModeWrite, keyPath)
	if err != nil {
		return wrapFileErr("create", err)
	}
	defer func() {
		if err != nil {
			_ = key.Close()
			_ = xfile.Erase(keyPath)
		}
	}()

	kh := format.KeyHeader{
		Version: format.FormatVersion, UID: uid, AppNum: appnum,
		Salt: salt, Pepper: pepper, BlockSize: uint16(blockSize),
		KeySize: uint16(keySize), LoadFactor: uint16(loadFactor),
		Buckets: initialBuckets, Modulus: modulus,
	}
	if werr := key.WriteAt(0, kh.Marshal()); werr != nil {
		return wrapFileErr("create", werr)
	}
	emptyBucket := make([]byte, blockSize)
	if werr := key.WriteAt(int64(blockSize), emptyBucket); werr != nil {
		return wrapFileErr("create", werr)
	}
	if werr := key.Sync(); werr != nil {
		return wrapFileErr("create", werr)
	}
	if cerr := key.Close(); cerr != nil {
		return wrapFileErr("create", cerr)
	}

	return nil
}

// Open opens an existing database, spawning the background commit
// (flush) thread. If a log file is present, Open fails with
// KindRecoverNeeded -- the caller must run Recover before Open will
// succeed.
func Open(datPath, keyPath, logPath string, opts Options) (*Store, error) {
	opts.setDefaults()

	if xfile.Exists(logPath) {
		return nil, newError("open", KindRecoverNeeded, errors.New("log file present, run Recover first"))
	}

	dat, err := xfile.Open(xfile.ModeAppend, datPath)
	if err != nil {
		return nil, wrapFileErr("open", err)
	}
	closeOnErr := []*xfile.File{dat}
	defer func() {
		if err != nil {
			for _, f := range closeOnErr {
				_ = f.Close()
			}
		}
	}()

	var dhBuf [format.DataHeaderSize]byte
	if rerr := dat.ReadAt(0, dhBuf[:]); rerr != nil {
		err = wrapFileErr("open", rerr)
		return nil, err
	}
	dh, uerr := format.UnmarshalDataHeader(dhBuf[:])
	if uerr != nil {
		err = newError("open", KindNotDataFile, uerr)
		return nil, err
	}

	key, kerr := xfile.Open(xfile.ModeWrite, keyPath)
	if kerr != nil {
		err = wrapFileErr("open", kerr)
		return nil, err
	}
	closeOnErr = append(closeOnErr, key)

	var kh64 [format.KeyHeaderFixedSize]byte
	if rerr := key.ReadAt(0, kh64[:]); rerr != nil {
		err = wrapFileErr("open", rerr)
		return nil, err
	}
	kh, uerr := format.UnmarshalKeyHeader(kh64[:])
	if uerr != nil {
		err = newError("open", KindNotKeyFile, uerr)
		return nil, err
	}

	if kh.UID != dh.UID {
		err = newError("open", KindUIDMismatch, errors.Errorf("key uid %d != data uid %d", kh.UID, dh.UID))
		return nil, err
	}
	if kh.AppNum != dh.AppNum {
		err = newError("open", KindAppNumMismatch, errors.Errorf("key appnum %d != data appnum %d", kh.AppNum, dh.AppNum))
		return nil, err
	}
	if kh.KeySize != dh.KeySize {
		err = newError("open", KindKeySizeMismatch, errors.Errorf("key key_size %d != data key_size %d", kh.KeySize, dh.KeySize))
		return nil, err
	}
	expectedPepper := nudbhash.Pepper(opts.NewHasher, kh.Salt)
	if expectedPepper != kh.Pepper {
		err = newError("open", KindHashMismatch, errors.New("pepper mismatch: hasher differs from the one used at create time"))
		return nil, err
	}

	s := &Store{
		datPath: datPath, keyPath: keyPath, logPath: logPath,
		dat: dat, key: key,
		uid: dh.UID, appnum: dh.AppNum, keySize: int(dh.KeySize),
		blockSize: int(kh.BlockSize), buckets: kh.Buckets, modulus: kh.Modulus,
		salt: kh.Salt, pepper: kh.Pepper,
		opts: opts,
		p0:   make(map[string]*pendingEntry),
		p1:   make(map[string]*pendingEntry),
	}
	s.cond = sync.NewCond(&s.mu)
	s.arenaA = arena.New(opts.ArenaAllocSize / 4)
	s.arenaB = arena.New(opts.ArenaAllocSize / 4)
	s.activeArena = s.arenaA

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

// Close triggers a final commit, waits for the flush thread to exit,
// and closes the underlying files.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.closed = true
	flushErr := s.err
	s.mu.Unlock()

	var errs []error
	if cerr := s.dat.Close(); cerr != nil {
		errs = append(errs, cerr)
	}
	if cerr := s.key.Close(); cerr != nil {
		errs = append(errs, cerr)
	}
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	if len(errs) > 0 {
		return newError("close", KindIO, errs[0])
	}
	return nil
}

// Insert adds a new key/value pair. It fails with KindKeyExists if the
// key is already present, either pending or persisted.
func (s *Store) Insert(key, value []byte) error {
	if len(key) != s.keySize {
		return newError("insert", KindKeySizeMismatch, errors.Errorf("key length %d != key_size %d", len(key), s.keySize))
	}
	if len(value) == 0 || uint64(len(value)) > format.MaxValueSize {
		return newError("insert", KindInvalidRecordSize, errors.Errorf("value length %d out of range", len(value)))
	}

	h := nudbhash.HashKey(s.opts.NewHasher, s.salt, key)

	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return newError("insert", KindStoreClosed, nil)
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return newError("insert", KindIO, err)
	}
	if s.pendingHasLocked(key) {
		s.mu.Unlock()
		return newError("insert", KindKeyExists, nil)
	}
	s.mu.Unlock()

	_, err := s.fetchOnDisk(h, key)
	if err == nil {
		return newError("insert", KindKeyExists, nil)
	}
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != KindKeyNotFound {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.closing {
		return newError("insert", KindStoreClosed, nil)
	}
	if s.err != nil {
		return newError("insert", KindIO, s.err)
	}
	if s.pendingHasLocked(key) {
		return newError("insert", KindKeyExists, nil)
	}

	kCopy := s.activeArena.Alloc(key)
	vCopy := s.activeArena.Alloc(value)
	s.p0[string(kCopy)] = &pendingEntry{key: kCopy, value: vCopy}

	if s.activeArena.Used() >= s.opts.ArenaAllocSize {
		s.wantCommit = true
		s.cond.Broadcast()
	}
	return nil
}

func (s *Store) pendingHasLocked(key []byte) bool {
	sk := string(key)
	if _, ok := s.p1[sk]; ok {
		return true
	}
	if _, ok := s.p0[sk]; ok {
		return true
	}
	return false
}

// Fetch looks up key, returning its value. It fails with
// KindKeyNotFound if the key was never inserted.
func (s *Store) Fetch(key []byte) ([]byte, error) {
	if len(key) != s.keySize {
		return nil, newError("fetch", KindKeySizeMismatch, errors.Errorf("key length %d != key_size %d", len(key), s.keySize))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, newError("fetch", KindStoreClosed, nil)
	}
	sk := string(key)
	if e, ok := s.p1[sk]; ok {
		v := append([]byte(nil), e.value...)
		s.mu.Unlock()
		return v, nil
	}
	if e, ok := s.p0[sk]; ok {
		v := append([]byte(nil), e.value...)
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	h := nudbhash.HashKey(s.opts.NewHasher, s.salt, key)
	return s.fetchOnDisk(h, key)
}

// Flush blocks until every currently-pending insert has been
// committed to disk.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newError("flush", KindStoreClosed, nil)
	}
	if len(s.p0) == 0 && len(s.p1) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.wantCommit = true
	s.cond.Broadcast()
	for (len(s.p0) > 0 || len(s.p1) > 0) && s.err == nil && !s.closed {
		s.cond.Wait()
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return newError("flush", KindIO, err)
	}
	return nil
}

// fetchOnDisk walks the on-disk bucket chain for hash h looking for
// key. It never touches p0/p1 and is lock-free against writers: the
// data file is append-only, so any offset ever published stays valid,
// and bucket blocks are read with a self-consistency check that
// tolerates observing an in-progress in-place update (spec §5).
func (s *Store) fetchOnDisk(h uint64, key []byte) ([]byte, error) {
	n := format.BucketIndex(h, s.modulus, s.buckets)
	offset := int64(n+1) * int64(s.blockSize)

	buf := make([]byte, s.blockSize)
	if err := s.readKeyBlock(offset, buf); err != nil {
		return nil, err
	}
	v := bucket.New(buf)

	for {
		idx := v.Find(h)
		for i := idx; i < v.Count(); i++ {
			e := v.Entry(i)
			if e.Hash != h {
				break
			}
			val, ok, err := s.readRecordIfKeyMatches(e, key)
			if err != nil {
				return nil, err
			}
			if ok {
				return val, nil
			}
		}

		spill := v.Spill()
		if spill == 0 {
			return nil, newError("fetch", KindKeyNotFound, nil)
		}

		var hdr [format.SpillRecordHeaderSize]byte
		if err := s.dat.ReadAt(int64(spill), hdr[:]); err != nil {
			return nil, wrapFileErr("fetch", err)
		}
		if !format.IsSpillMarker(hdr[:6]) {
			return nil, newError("fetch", KindInvalidSpillSize, errors.New("spill pointer does not reference a spill record"))
		}
		blockBytes := format.SpillRecordBlockBytes(hdr[:])
		spillBuf := make([]byte, blockBytes)
		if err := s.dat.ReadAt(int64(spill)+format.SpillRecordHeaderSize, spillBuf); err != nil {
			return nil, wrapFileErr("fetch", err)
		}
		v = bucket.New(spillBuf)
		if err := v.Load(); err != nil {
			return nil, newError("fetch", KindInvalidSpillSize, err)
		}
	}
}

// readKeyBlock reads a bucket block from the key file, retrying a
// handful of times if the self-consistency check fails -- the
// documented response to observing a torn in-place bucket update
// (spec §5, §9).
func (s *Store) readKeyBlock(offset int64, buf []byte) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := s.key.ReadAt(offset, buf); err != nil {
			return wrapFileErr("fetch", err)
		}
		v := bucket.New(buf)
		if err := v.Load(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return newError("fetch", KindIO, lastErr)
}

func (s *Store) readRecordIfKeyMatches(e bucket.Entry, key []byte) ([]byte, bool, error) {
	hdrSize := format.DataRecordHeaderSize
	buf := make([]byte, hdrSize+s.keySize)
	if err := s.dat.ReadAt(int64(e.Offset), buf); err != nil {
		return nil, false, wrapFileErr("fetch", err)
	}
	valSize := format.DataRecordSize(buf)
	if valSize != e.Size {
		return nil, false, newError("fetch", KindInvalidRecordSize, errors.Errorf("record at %d declares size %d, index says %d", e.Offset, valSize, e.Size))
	}
	recKey := buf[hdrSize:]
	if !bytes.Equal(recKey, key) {
		return nil, false, nil
	}
	val := make([]byte, valSize)
	if err := s.dat.ReadAt(int64(e.Offset)+int64(hdrSize)+int64(s.keySize), val); err != nil {
		return nil, false, wrapFileErr("fetch", err)
	}
	return val, true, nil
}
