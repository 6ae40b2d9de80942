// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package xfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateOpenErase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")

	f, err := Create(ModeWrite, path)
	require.NoError(t, err)

	_, err = Create(ModeWrite, path)
	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, KindAlreadyExists, xerr.Kind)

	require.NoError(t, f.WriteAt(0, []byte("hello world")))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	f2, err := Open(ModeRead, path)
	require.NoError(t, err)
	buf := make([]byte, 5)
	require.NoError(t, f2.ReadAt(0, buf))
	require.Equal(t, "hello", string(buf))
	require.NoError(t, f2.Close())

	require.NoError(t, Erase(path))
	require.False(t, Exists(path))

	_, err = Open(ModeRead, path)
	require.Error(t, err)
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, KindNotFound, xerr.Kind)
}

func TestShortRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := Create(ModeWrite, path)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt(0, []byte("hi")))

	buf := make([]byte, 10)
	err = f.ReadAt(0, buf)
	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, KindShortRead, xerr.Kind)
}

func TestSizeAndTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.dat")
	f, err := Create(ModeWrite, path)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt(0, make([]byte, 100)))
	sz, err := f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 100, sz)

	require.NoError(t, f.Truncate(10))
	sz, err = f.Size()
	require.NoError(t, err)
	require.EqualValues(t, 10, sz)
}
