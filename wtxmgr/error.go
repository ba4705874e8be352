/*
 * Copyright (c) 2014 Conformal Systems LLC <info@conformal.com>
 *
 * Permission to use, copy, modify, and distribute this software for any
 * purpose with or without fee is hereby granted, provided that the above
 * copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES
 * WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR
 * ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES
 * WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN
 * ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF
 * OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package wtxmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific TxGraphError.
const (
	// ErrTxNotFound indicates that the requested transaction is not known
	// to the graph.
	ErrTxNotFound ErrorCode = iota

	// ErrOrphanAnchor indicates an anchor for a transaction that is
	// neither in the graph nor supplied alongside the anchor.
	ErrOrphanAnchor

	// ErrOrphanSeenAt indicates a last-seen timestamp for a transaction
	// that is neither in the graph nor supplied alongside it.
	ErrOrphanSeenAt

	// ErrInvalidChangeSet indicates a ChangeSet whose entries are
	// inconsistent with each other, such as a transaction stored under
	// the wrong txid.
	ErrInvalidChangeSet
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrTxNotFound:       "ErrTxNotFound",
	ErrOrphanAnchor:     "ErrOrphanAnchor",
	ErrOrphanSeenAt:     "ErrOrphanSeenAt",
	ErrInvalidChangeSet: "ErrInvalidChangeSet",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// TxGraphError provides a single type for errors that can happen during
// transaction graph operation.
type TxGraphError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxGraphError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e TxGraphError) Unwrap() error {
	return e.Err
}

// txGraphError creates a TxGraphError given a set of arguments.
func txGraphError(c ErrorCode, desc string, err error) TxGraphError {
	return TxGraphError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is a TxGraphError with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e TxGraphError
	return errors.As(err, &e) && e.ErrorCode == code
}
