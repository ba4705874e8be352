package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

const (
	testXpub = "[c258d2e4/84h/1h/0h]tpubDDYkZojQFQjht8Tm4jsS3iuEmKjTiEGjG" +
		"6KnuFNKKJb5A6ZUCUZKdvLdSDWofKi4ToRCwb9poe1XdqfUnP4jaJjCB2Zwv1" +
		"1ZLgSbnZSNecE"

	testExternal = "wpkh(" + testXpub + "/0/*)"
	testInternal = "wpkh(" + testXpub + "/1/*)"
)

func testConfig(t *testing.T, backend string) *config {
	t.Helper()

	cfg := defaultConfig()
	cfg.DBDir = t.TempDir()
	cfg.DBBackend = backend
	cfg.Descriptor = testExternal
	cfg.ChangeDescriptor = testInternal
	cfg.Network = cfgutil.NewExplicitNetwork(netparams.Regtest)
	cfg.Unit = cfgutil.NewDenominationFlag(btcunit.Satoshi)

	return &cfg
}

// run opens the configured store, runs one command and closes the store
// again, the way the command line does.
func run(t *testing.T, cfg *config, name string) (string, error) {
	t.Helper()

	store, err := openStore(cfg)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	var out bytes.Buffer
	err = runCommand(context.Background(), &out, cfg, store, name)

	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

// TestCommands runs every command against a persisted wallet for each
// local backend.
func TestCommands(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{backendBdb, backendSQLite} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t, backend)

			_, err := run(t, cfg, "balance")
			require.ErrorIs(t, err, errNoWallet)

			out, err := run(t, cfg, "create")
			require.NoError(t, err)
			require.Len(t, lines(out), 2)
			require.Contains(t, out, "/0/*)#")

			_, err = run(t, cfg, "create")
			require.Error(t, err)

			// Revealed addresses are persisted between runs.
			first, err := run(t, cfg, "address")
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(first, "0\tbcrt1"))

			second, err := run(t, cfg, "address")
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(second, "1\tbcrt1"))

			out, err = run(t, cfg, "unused")
			require.NoError(t, err)
			require.Equal(t, []string{
				strings.TrimSpace(first), strings.TrimSpace(second),
			}, lines(out))

			out, err = run(t, cfg, "balance")
			require.NoError(t, err)
			require.Contains(t, out, "total\t0 satoshi")

			out, err = run(t, cfg, "unspent")
			require.NoError(t, err)
			require.Empty(t, out)

			out, err = run(t, cfg, "checkpoint")
			require.NoError(t, err)
			require.Equal(t, "0\t"+netparams.Regtest.MustParams().
				GenesisHash.String(), strings.TrimSpace(out))

			out, err = run(t, cfg, "descriptor")
			require.NoError(t, err)
			require.Contains(t, out, "/1/*)#")
		})
	}
}

// TestCommandErrors checks the errors reported before a command runs.
func TestCommandErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, backendBdb)
	_, err := run(t, cfg, "create")
	require.NoError(t, err)

	_, err = run(t, cfg, "sweep")
	require.ErrorIs(t, err, errUnknownCommand)

	require.NoError(t, cfg.Network.UnmarshalFlag("signet"))
	_, err = run(t, cfg, "balance")
	require.ErrorIs(t, err, errNetworkMismatch)

	// A default network does not override the stored one.
	cfg.Network = cfgutil.NewExplicitNetwork(netparams.Bitcoin)
	_, err = run(t, cfg, "balance")
	require.NoError(t, err)

	bad := testConfig(t, "leveldb")
	_, err = openStore(bad)
	require.Error(t, err)
}

// TestParseDebugLevels checks the debug level syntax.
func TestParseDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("info"))
	require.NoError(t, parseAndSetDebugLevels("WLLT=debug,PRST=warn"))
	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("XXXX=debug"))
	require.Error(t, parseAndSetDebugLevels("WLLT"))
	require.Error(t, parseAndSetDebugLevels("WLLT=debug=info"))
	require.NoError(t, parseAndSetDebugLevels("off"))
}
