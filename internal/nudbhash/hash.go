// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package nudbhash implements the Hasher trait NuDB is parameterized
// over, and the salt/pepper derivation used to bind a hasher's identity
// to a database's files.
//
// The trait mirrors the source's xxhasher: default-constructible,
// seedable with one or two unsigned seeds, streaming updates, and a
// finalize step that yields a single 64-bit digest.
package nudbhash

import "github.com/dgryski/go-farm"

// Hasher is the capability NuDB requires of a hash function: seedable
// with two 64-bit seeds, streaming writes, and a 64-bit digest.
type Hasher interface {
	// Write feeds more bytes into the hash state. It never returns an
	// error, matching hash.Hash's Write contract.
	Write(p []byte) (int, error)
	// Sum64 finalizes and returns the digest. It does not reset state.
	Sum64() uint64
}

// NewHasherFunc constructs a Hasher seeded with seed0 and seed1.
type NewHasherFunc func(seed0, seed1 uint64) Hasher

// Default is the Hasher constructor NuDB uses unless an
// Options.NewHasher override is supplied. It is backed by farmhash, which natively
// accepts two 64-bit seeds -- an exact match for the trait's shape.
func Default(seed0, seed1 uint64) Hasher {
	return &farmHasher{seed0: seed0, seed1: seed1}
}

// farmHasher buffers written bytes and computes the digest on Sum64.
// farmhash has no incremental/streaming API, but NuDB only ever hashes
// bounded, fixed-width keys, so buffering is cheap and keeps the
// Hasher interface a subset of hash.Hash64's (Write and Sum64).
type farmHasher struct {
	seed0, seed1 uint64
	buf          []byte
}

func (h *farmHasher) Write(p []byte) (int, error) {
	h.buf = append(h.buf, p...)
	return len(p), nil
}

func (h *farmHasher) Sum64() uint64 {
	return farm.Hash64WithSeeds(h.buf, h.seed0, h.seed1)
}

// HashKey returns the digest of key using the given Hasher constructor
// and salt, mirroring how NuDB computes h = hash(key, salt) in the
// insert and fetch paths.
func HashKey(newHasher NewHasherFunc, salt uint64, key []byte) uint64 {
	h := newHasher(salt, 0)
	_, _ = h.Write(key)
	return h.Sum64()
}

// Pepper derives the pepper stored in the key and log file headers:
// pepper = hash(salt-as-8-bytes, seed=salt). It detects a mismatch
// between the hasher a database was created with and the hasher a
// later `Open` call is configured with.
func Pepper(newHasher NewHasherFunc, salt uint64) uint64 {
	var saltBytes [8]byte
	saltBytes[0] = byte(salt)
	saltBytes[1] = byte(salt >> 8)
	saltBytes[2] = byte(salt >> 16)
	saltBytes[3] = byte(salt >> 24)
	saltBytes[4] = byte(salt >> 32)
	saltBytes[5] = byte(salt >> 40)
	saltBytes[6] = byte(salt >> 48)
	saltBytes[7] = byte(salt >> 56)

	h := newHasher(salt, 0)
	_, _ = h.Write(saltBytes[:])
	return h.Sum64()
}
