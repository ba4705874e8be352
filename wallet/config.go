// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// TrustPredicate decides whether unconfirmed outputs paying to a wallet
// script count as trusted pending.
type TrustPredicate func(k waddrmgr.KeychainKind, index uint32) bool

// TrustInternal trusts outputs of the internal keychain, which only the
// wallet itself pays to.
func TrustInternal(k waddrmgr.KeychainKind, _ uint32) bool {
	return k == waddrmgr.Internal
}

// Config holds the tunables of a wallet.
type Config struct {
	// Lookahead is the number of scripts derived past the last revealed
	// index of each keychain.
	Lookahead uint32

	// CoinbaseMaturity is the number of confirmations a coinbase output
	// needs before it is spendable. None uses the network's value.
	CoinbaseMaturity fn.Option[uint32]

	// ReorgHorizon is the number of blocks an update may invalidate
	// before it is rejected with ErrReorgBeyondHorizon. None disables the
	// check.
	ReorgHorizon fn.Option[uint32]

	// AllowDeepReorg applies updates beyond the reorg horizon anyway. The
	// horizon is still checked and reported in the log.
	AllowDeepReorg bool

	// Clock provides the sighting time for ApplyUpdate.
	Clock clock.Clock

	// Trust decides which unconfirmed outputs count as trusted.
	Trust TrustPredicate
}

// DefaultConfig returns the default wallet configuration.
func DefaultConfig() *Config {
	return &Config{
		Lookahead: waddrmgr.DefaultLookahead,
		Clock:     clock.NewDefaultClock(),
		Trust:     TrustInternal,
	}
}

// Option modifies a wallet Config.
type Option func(*Config)

// WithLookahead sets the keychain lookahead.
func WithLookahead(lookahead uint32) Option {
	return func(c *Config) {
		c.Lookahead = lookahead
	}
}

// WithCoinbaseMaturity overrides the network's coinbase maturity.
func WithCoinbaseMaturity(confirmations uint32) Option {
	return func(c *Config) {
		c.CoinbaseMaturity = fn.Some(confirmations)
	}
}

// WithReorgHorizon rejects updates that invalidate more than depth blocks.
func WithReorgHorizon(depth uint32) Option {
	return func(c *Config) {
		c.ReorgHorizon = fn.Some(depth)
	}
}

// AllowDeepReorg applies updates beyond the reorg horizon.
func AllowDeepReorg() Option {
	return func(c *Config) {
		c.AllowDeepReorg = true
	}
}

// WithClock sets the clock used for sighting times.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithTrustPredicate sets the predicate deciding trusted pending outputs.
func WithTrustPredicate(trust TrustPredicate) Option {
	return func(c *Config) {
		c.Trust = trust
	}
}

func newConfig(opts []Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Trust == nil {
		cfg.Trust = TrustInternal
	}
	return cfg
}
