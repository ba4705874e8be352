// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/descwallet/internal/zero"
	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 31, 32, 33, 64, 1000} {
		b := bytes.Repeat([]byte{0xa5}, n)
		zero.Bytes(b)
		require.Equal(t, make([]byte, n), b, "length %d", n)
	}

	// A nil slice is allowed.
	zero.Bytes(nil)
}
