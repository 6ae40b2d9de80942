// Copyright 2024 The NuDB Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudbhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashKeyDeterministic(t *testing.T) {
	k := []byte("some-fixed-width-key")
	h1 := HashKey(Default, 42, k)
	h2 := HashKey(Default, 42, k)
	require.Equal(t, h1, h2)
}

func TestHashKeyDiffersWithSalt(t *testing.T) {
	k := []byte("some-fixed-width-key")
	h1 := HashKey(Default, 1, k)
	h2 := HashKey(Default, 2, k)
	require.NotEqual(t, h1, h2)
}

func TestPepperDeterministic(t *testing.T) {
	require.Equal(t, Pepper(Default, 7), Pepper(Default, 7))
	require.NotEqual(t, Pepper(Default, 7), Pepper(Default, 8))
}
