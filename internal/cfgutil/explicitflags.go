// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import "github.com/btcsuite/descwallet/netparams"

// ExplicitNetwork is a network value implementing the flags.Marshaler and
// flags.Unmarshaler interfaces so it may be used as a config struct field.
// It records whether the value was explicitly set by the flags package.
// This is useful when a stored wallet already names its network: a default
// must not override it, while an explicit flag that disagrees is an error.
type ExplicitNetwork struct {
	Value         netparams.Network
	explicitlySet bool
}

// NewExplicitNetwork creates a network flag with the provided default
// value.
func NewExplicitNetwork(defaultValue netparams.Network) *ExplicitNetwork {
	return &ExplicitNetwork{Value: defaultValue}
}

// ExplicitlySet returns whether the flag was explicitly set through the
// flags.Unmarshaler interface.
func (e *ExplicitNetwork) ExplicitlySet() bool { return e.explicitlySet }

// MarshalFlag implements the flags.Marshaler interface.
func (e *ExplicitNetwork) MarshalFlag() (string, error) {
	return e.Value.MarshalFlag()
}

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (e *ExplicitNetwork) UnmarshalFlag(value string) error {
	if err := e.Value.UnmarshalFlag(value); err != nil {
		return err
	}
	e.explicitlySet = true
	return nil
}
