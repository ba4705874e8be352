// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import "errors"

var (
	// ErrInvalidChangeSet is returned when a change-set cannot be decoded
	// or does not describe a consistent wallet.
	ErrInvalidChangeSet = errors.New("invalid change-set")

	// ErrInconsistentUpdate is returned when a sync update does not fit
	// the current wallet state. The wallet is left unchanged.
	ErrInconsistentUpdate = errors.New("inconsistent update")

	// ErrReorgBeyondHorizon is returned when an update would invalidate
	// more blocks than the configured reorg horizon. The wallet is left
	// unchanged.
	ErrReorgBeyondHorizon = errors.New("reorg beyond horizon")

	// ErrDescriptorsSame is returned when the external and internal
	// keychains are given the same descriptor.
	ErrDescriptorsSame = errors.New("external and internal descriptors " +
		"are the same")
)
