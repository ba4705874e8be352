// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/persist/kvdb"
	"github.com/btcsuite/descwallet/persist/sqldb"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wallet"
)

var (
	// errNoWallet is returned when a command needs a wallet and the
	// database holds none.
	errNoWallet = errors.New("no wallet in database, run create first")

	// errUnknownCommand is returned for an unknown positional argument.
	errUnknownCommand = errors.New("unknown command")

	// errNetworkMismatch is returned when --network disagrees with the
	// network of the stored wallet.
	errNetworkMismatch = errors.New("network does not match wallet")
)

// command is a sub-command selected by the first positional argument.
type command struct {
	name  string
	usage string

	// create is set for the command that makes a new wallet instead of
	// loading the stored one.
	create bool

	run func(out io.Writer, cfg *config, w *wallet.Wallet) error
}

var commands = []command{
	{
		name:   "create",
		usage:  "Create a wallet from --descriptor and --changedescriptor",
		create: true,
		run:    showDescriptors,
	},
	{
		name:  "address",
		usage: "Reveal the next external address",
		run:   revealAddress,
	},
	{
		name:  "unused",
		usage: "List revealed external addresses without history",
		run:   listUnused,
	},
	{
		name:  "balance",
		usage: "Show the wallet balance",
		run:   showBalance,
	},
	{
		name:  "unspent",
		usage: "List unspent outputs worth at least --dustlimit",
		run:   listUnspent,
	},
	{
		name:  "descriptor",
		usage: "Show the public descriptors",
		run:   showDescriptors,
	},
	{
		name:  "checkpoint",
		usage: "Show the latest checkpoint",
		run:   showCheckpoint,
	},
}

// commandUsage returns the usage line of the positional argument.
func commandUsage() string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.name)
	}

	return "{" + strings.Join(names, "|") + "}"
}

// lookupCommand returns the command called name.
func lookupCommand(name string) (command, error) {
	for _, c := range commands {
		if c.name == name {
			return c, nil
		}
	}

	return command{}, fmt.Errorf("%w %q, expected %v", errUnknownCommand,
		name, commandUsage())
}

// openStore opens the store selected by the configuration.
func openStore(cfg *config) (persist.Store, error) {
	switch cfg.DBBackend {
	case backendBdb:
		return kvdb.Open(cfg.DBDir, cfg.DBTimeout)

	case backendSQLite:
		dsn := "file:" + filepath.Join(cfg.DBDir, defaultSQLiteFilename) +
			"?mode=rwc"
		return sqldb.Open(sqldb.SQLite.String(), dsn)

	case backendPostgres:
		return sqldb.Open(sqldb.Postgres.String(), cfg.PostgresDSN)

	default:
		return nil, fmt.Errorf("unknown database backend %q",
			cfg.DBBackend)
	}
}

// runCommand runs the command called name against the wallet held by store
// and persists whatever the command changed.
func runCommand(ctx context.Context, out io.Writer, cfg *config,
	store persist.Store, name string) error {

	cmd, err := lookupCommand(name)
	if err != nil {
		return err
	}

	opts := []wallet.Option{wallet.WithLookahead(cfg.Lookahead)}

	var w *wallet.Wallet
	if cmd.create {
		w, err = persist.Create(ctx, store, func() (*wallet.Wallet, error) {
			return wallet.Create(cfg.Descriptor, cfg.ChangeDescriptor,
				cfg.Network.Value, opts...)
		})
		if err != nil {
			return err
		}
	} else {
		loaded, err := persist.Load(ctx, store, opts...)
		if err != nil {
			return err
		}
		if loaded.IsNone() {
			return errNoWallet
		}
		w = loaded.UnsafeFromSome()

		if cfg.Network.ExplicitlySet() && cfg.Network.Value != w.Network() {
			return fmt.Errorf("%w: --network %v, wallet %v",
				errNetworkMismatch, cfg.Network.Value, w.Network())
		}
	}

	if err := cmd.run(out, cfg, w); err != nil {
		return err
	}

	return persist.Flush(ctx, store, w)
}

func formatAmount(cfg *config, amt btcutil.Amount) (string, error) {
	return btcunit.FormatAmount(amt, cfg.Unit.Denomination)
}

func revealAddress(out io.Writer, _ *config, w *wallet.Wallet) error {
	info, err := w.RevealNextAddress(waddrmgr.External)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%d\t%v\n", info.Index, info.Address)
	return err
}

func listUnused(out io.Writer, _ *config, w *wallet.Wallet) error {
	for _, info := range w.ListUnusedAddresses(waddrmgr.External) {
		_, err := fmt.Fprintf(out, "%d\t%v\n", info.Index, info.Address)
		if err != nil {
			return err
		}
	}

	return nil
}

func showBalance(out io.Writer, cfg *config, w *wallet.Wallet) error {
	bal := w.Balance()

	rows := []struct {
		name string
		amt  btcutil.Amount
	}{
		{"confirmed", bal.Confirmed},
		{"trusted_pending", bal.TrustedPending},
		{"untrusted_pending", bal.UntrustedPending},
		{"immature", bal.Immature},
		{"total", bal.Total()},
	}
	for _, row := range rows {
		s, err := formatAmount(cfg, row.amt)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\n", row.name, s); err != nil {
			return err
		}
	}

	return nil
}

func listUnspent(out io.Writer, cfg *config, w *wallet.Wallet) error {
	for utxo := range w.ListUnspent() {
		amt := btcutil.Amount(utxo.TxOut.Value)
		if amt < cfg.DustLimit.Amount {
			continue
		}

		s, err := formatAmount(cfg, amt)
		if err != nil {
			return err
		}

		height := "unconfirmed"
		utxo.Position.Height().WhenSome(func(h uint32) {
			height = fmt.Sprintf("%d", h)
		})

		_, err = fmt.Fprintf(out, "%v\t%s\t%v/%d\t%s\n", utxo.OutPoint,
			s, utxo.Keychain, utxo.DerivationIndex, height)
		if err != nil {
			return err
		}
	}

	return nil
}

func showDescriptors(out io.Writer, _ *config, w *wallet.Wallet) error {
	for _, k := range waddrmgr.Keychains {
		desc, err := w.PublicDescriptor(k)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "%v\t%s\n", k, desc); err != nil {
			return err
		}
	}

	return nil
}

func showCheckpoint(out io.Writer, _ *config, w *wallet.Wallet) error {
	id := w.LatestCheckpoint().BlockID()

	_, err := fmt.Fprintf(out, "%d\t%v\n", id.Height, id.Hash)
	return err
}
