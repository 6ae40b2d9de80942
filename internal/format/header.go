// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package format implements NuDB's on-disk layout: the three file
// headers, data and spill record framing, and the hashed-bucket index
// function. Every layout here is fixed by the wire format in spec §6
// and must not change without breaking on-disk compatibility.
package format

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/nudb-go/nudb/internal/varint"
)

const (
	// FormatVersion is the on-disk version stamped into all three
	// headers.
	FormatVersion = uint16(2)

	dataMagic = "nudb.dat"
	keyMagic  = "nudb.key"
	logMagic  = "nudb.log"

	// DataHeaderSize is the fixed, padded size of the data file header.
	DataHeaderSize = 64
	// KeyHeaderFixedSize is the number of meaningful bytes in the key
	// file header before the reserved padding out to BlockSize.
	KeyHeaderFixedSize = 64
	// LogHeaderSize is the fixed size of the log file header.
	LogHeaderSize = 60
)

// ErrBadMagic is wrapped into a more specific error (NotDataFile,
// NotKeyFile, NotLogFile) by callers that know which file they meant
// to read.
var ErrBadMagic = errors.New("bad magic number")

// DataHeader is the header anchored at offset 0 of the data file.
type DataHeader struct {
	Version uint16
	UID     uint64
	AppNum  uint64
	KeySize uint16
}

// Marshal encodes h into a DataHeaderSize-byte buffer.
func (h DataHeader) Marshal() []byte {
	buf := make([]byte, DataHeaderSize)
	copy(buf[0:8], dataMagic)
	varint.PutUint16(buf[8:10], h.Version)
	varint.PutUint64(buf[10:18], h.UID)
	varint.PutUint64(buf[18:26], h.AppNum)
	varint.PutUint16(buf[26:28], h.KeySize)
	return buf
}

// UnmarshalDataHeader decodes a DataHeader from buf, which must be at
// least DataHeaderSize bytes.
func UnmarshalDataHeader(buf []byte) (DataHeader, error) {
	var h DataHeader
	if len(buf) < DataHeaderSize {
		return h, errors.New("data header: buffer too short")
	}
	if !bytes.Equal(buf[0:8], []byte(dataMagic)) {
		return h, errors.Wrap(ErrBadMagic, "not a nudb data file")
	}
	h.Version = varint.Uint16(buf[8:10])
	h.UID = varint.Uint64(buf[10:18])
	h.AppNum = varint.Uint64(buf[18:26])
	h.KeySize = varint.Uint16(buf[26:28])
	return h, nil
}

// KeyHeader is the header anchored at offset 0 of the key file,
// occupying the first BlockSize bytes.
type KeyHeader struct {
	Version     uint16
	UID         uint64
	AppNum      uint64
	Salt        uint64
	Pepper      uint64
	BlockSize   uint16
	KeySize     uint16
	LoadFactor  uint16
	Buckets     uint64
	Modulus     uint64
}

// Marshal encodes h into a BlockSize-byte buffer, zero-padded past the
// fixed fields.
func (h KeyHeader) Marshal() []byte {
	buf := make([]byte, h.BlockSize)
	copy(buf[0:8], keyMagic)
	varint.PutUint16(buf[8:10], h.Version)
	varint.PutUint64(buf[10:18], h.UID)
	varint.PutUint64(buf[18:26], h.AppNum)
	varint.PutUint64(buf[26:34], h.Salt)
	varint.PutUint64(buf[34:42], h.Pepper)
	varint.PutUint16(buf[42:44], h.BlockSize)
	varint.PutUint16(buf[44:46], h.KeySize)
	varint.PutUint16(buf[46:48], h.LoadFactor)
	varint.PutUint64(buf[48:56], h.Buckets)
	varint.PutUint64(buf[56:64], h.Modulus)
	return buf
}

// UnmarshalKeyHeader decodes a KeyHeader from buf, which must be at
// least KeyHeaderFixedSize bytes.
func UnmarshalKeyHeader(buf []byte) (KeyHeader, error) {
	var h KeyHeader
	if len(buf) < KeyHeaderFixedSize {
		return h, errors.New("key header: buffer too short")
	}
	if !bytes.Equal(buf[0:8], []byte(keyMagic)) {
		return h, errors.Wrap(ErrBadMagic, "not a nudb key file")
	}
	h.Version = varint.Uint16(buf[8:10])
	h.UID = varint.Uint64(buf[10:18])
	h.AppNum = varint.Uint64(buf[18:26])
	h.Salt = varint.Uint64(buf[26:34])
	h.Pepper = varint.Uint64(buf[34:42])
	h.BlockSize = varint.Uint16(buf[42:44])
	h.KeySize = varint.Uint16(buf[44:46])
	h.LoadFactor = varint.Uint16(buf[46:48])
	h.Buckets = varint.Uint64(buf[48:56])
	h.Modulus = varint.Uint64(buf[56:64])
	return h, nil
}

// LogHeader is the header at offset 0 of a commit's write-ahead log.
type LogHeader struct {
	Version     uint16
	UID         uint64
	AppNum      uint64
	KeySize     uint16
	Salt        uint64
	Pepper      uint64
	KeyFileSize uint64
	DatFileSize uint64
}

// Marshal encodes h into a LogHeaderSize-byte buffer.
func (h LogHeader) Marshal() []byte {
	buf := make([]byte, LogHeaderSize)
	copy(buf[0:8], logMagic)
	varint.PutUint16(buf[8:10], h.Version)
	varint.PutUint64(buf[10:18], h.UID)
	varint.PutUint64(buf[18:26], h.AppNum)
	varint.PutUint16(buf[26:28], h.KeySize)
	varint.PutUint64(buf[28:36], h.Salt)
	varint.PutUint64(buf[36:44], h.Pepper)
	varint.PutUint64(buf[44:52], h.KeyFileSize)
	varint.PutUint64(buf[52:60], h.DatFileSize)
	return buf
}

// UnmarshalLogHeader decodes a LogHeader from buf, which must be at
// least LogHeaderSize bytes.
func UnmarshalLogHeader(buf []byte) (LogHeader, error) {
	var h LogHeader
	if len(buf) < LogHeaderSize {
		return h, errors.New("log header: buffer too short")
	}
	if !bytes.Equal(buf[0:8], []byte(logMagic)) {
		return h, errors.Wrap(ErrBadMagic, "not a nudb log file")
	}
	h.Version = varint.Uint16(buf[8:10])
	h.UID = varint.Uint64(buf[10:18])
	h.AppNum = varint.Uint64(buf[18:26])
	h.KeySize = varint.Uint16(buf[26:28])
	h.Salt = varint.Uint64(buf[28:36])
	h.Pepper = varint.Uint64(buf[36:44])
	h.KeyFileSize = varint.Uint64(buf[44:52])
	h.DatFileSize = varint.Uint64(buf[52:60])
	return h, nil
}

// BucketIndex computes the bucket index of a key hash h, per spec
// §4.2: n = h mod modulus; if n >= buckets, n mod buckets.
func BucketIndex(h, modulus, buckets uint64) uint64 {
	n := h % modulus
	if n >= buckets {
		n %= buckets
	}
	return n
}

// NextPow2 returns the smallest power of two that is >= n, n >= 1.
func NextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
