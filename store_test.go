// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nudb-go/nudb/internal/nudbhash"
	"github.com/nudb-go/nudb/internal/xfile"
)

type testPaths struct {
	dat, key, log string
}

func newTestPaths(t *testing.T) testPaths {
	dir := t.TempDir()
	return testPaths{
		dat: filepath.Join(dir, "db.dat"),
		key: filepath.Join(dir, "db.key"),
		log: filepath.Join(dir, "db.log"),
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ArenaAllocSize = 1 // commit after essentially every insert
	opts.Logger = nopLogger{}
	return opts
}

func keyOf(n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return b[:]
}

func mustCreate(t *testing.T, p testPaths, blockSize, loadFactor int, opts Options) {
	t.Helper()
	require.NoError(t, Create(p.dat, p.key, p.log, 7, 42, 4, blockSize, loadFactor, opts))
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()

	err := Create(p.dat, p.key, p.log, 1, 1, 0, 512, 50, opts)
	require.Error(t, err)
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindKeySizeInvalid, nerr.Kind)

	err = Create(p.dat, p.key, p.log, 1, 1, 4, 100, 50, opts)
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindBlockSizeInvalid, nerr.Kind)

	err = Create(p.dat, p.key, p.log, 1, 1, 4, 512, 0, opts)
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindLoadFactorInvalid, nerr.Kind)
}

func TestCreateOpenClose(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	require.True(t, xfile.Exists(p.dat))
	require.True(t, xfile.Exists(p.key))
	require.False(t, xfile.Exists(p.log))

	s, err := Open(p.dat, p.key, p.log, opts)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	// closing twice is a no-op
	require.NoError(t, s.Close())
}

func TestOpenRequiresRecoverIfLogPresent(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	f, err := xfile.Create(xfile.ModeAppend, p.log)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(p.dat, p.key, p.log, opts)
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindRecoverNeeded, nerr.Kind)
}

func TestInsertFetchRoundTrip(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	s, err := Open(p.dat, p.key, p.log, opts)
	require.NoError(t, err)
	defer s.Close()

	want := map[uint32]string{
		1: "one", 2: "two", 3: "three", 4: "four",
	}
	for n, v := range want {
		require.NoError(t, s.Insert(keyOf(n), []byte(v)))
	}
	require.NoError(t, s.Flush())

	for n, v := range want {
		got, err := s.Fetch(keyOf(n))
		require.NoError(t, err)
		require.Equal(t, v, string(got))
	}

	// an insert not yet flushed is still visible via the pending set.
	require.NoError(t, s.Insert(keyOf(5), []byte("five")))
	got, err := s.Fetch(keyOf(5))
	require.NoError(t, err)
	require.Equal(t, "five", string(got))
}

func TestInsertDuplicateKey(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	s, err := Open(p.dat, p.key, p.log, opts)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert(keyOf(1), []byte("a")))

	err = s.Insert(keyOf(1), []byte("b"))
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindKeyExists, nerr.Kind)

	require.NoError(t, s.Flush())

	err = s.Insert(keyOf(1), []byte("c"))
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindKeyExists, nerr.Kind)
}

func TestFetchUnknownKey(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	s, err := Open(p.dat, p.key, p.log, opts)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Fetch(keyOf(999))
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindKeyNotFound, nerr.Kind)
}

func TestInsertValidatesKeyAndValueSize(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	s, err := Open(p.dat, p.key, p.log, opts)
	require.NoError(t, err)
	defer s.Close()

	err = s.Insert([]byte{1, 2, 3}, []byte("x"))
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindKeySizeMismatch, nerr.Kind)

	err = s.Insert(keyOf(1), nil)
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindInvalidRecordSize, nerr.Kind)
}

// TestSpillChain drives enough inserts into a single-bucket table (as
// Create always starts with buckets=1) to overflow the minimum block
// size several times over, exercising bucket spill and multi-level
// spill-chain traversal on both insert and fetch.
func TestSpillChain(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, MinBlockSize, 50, opts)

	s, err := Open(p.dat, p.key, p.log, opts)
	require.NoError(t, err)
	defer s.Close()

	const n = 200
	for i := uint32(0); i < n; i++ {
		v := make([]byte, 8)
		binary.LittleEndian.PutUint32(v, i)
		require.NoError(t, s.Insert(keyOf(i), v))
	}
	require.NoError(t, s.Flush())

	for i := uint32(0); i < n; i++ {
		got, err := s.Fetch(keyOf(i))
		require.NoError(t, err)
		require.EqualValues(t, i, binary.LittleEndian.Uint32(got))
	}
}

func TestOpenDetectsHasherMismatch(t *testing.T) {
	p := newTestPaths(t)
	opts := testOptions()
	mustCreate(t, p, 512, 50, opts)

	altOpts := opts
	altOpts.NewHasher = func(seed0, seed1 uint64) nudbhash.Hasher {
		return nudbhash.Default(seed1, seed0)
	}

	_, err := Open(p.dat, p.key, p.log, altOpts)
	var nerr *Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, KindHashMismatch, nerr.Kind)
}
