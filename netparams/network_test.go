package netparams

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestTestnet4Genesis verifies the testnet4 genesis block against the hash
// published by block explorers.
func TestTestnet4Genesis(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043",
		testNet4GenesisBlock.BlockHash().String())
	require.Equal(t,
		"7aa0a7ae1e223414cb807e40cd57e667b718e42aaf9306db9102fe28912b7b4e",
		testNet4GenesisBlock.Header.MerkleRoot.String())
	require.Equal(t, *TestNet4ChainParams.GenesisHash,
		testNet4GenesisBlock.BlockHash())

	require.Equal(t, []chaincfg.DNSSeed{
		{Host: "seed.testnet4.bitcoin.sprovoost.nl", HasFiltering: true},
		{Host: "seed.testnet4.wiz.biz", HasFiltering: true},
	}, TestNet4ChainParams.DNSSeeds)
}

// TestNetworkParams checks the mapping between networks, names and chain
// parameters.
func TestNetworkParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		net    Network
		params *chaincfg.Params
		alias  string
	}{
		{"bitcoin", Bitcoin, &chaincfg.MainNetParams, "mainnet"},
		{"testnet", Testnet, &chaincfg.TestNet3Params, "testnet3"},
		{"testnet4", Testnet4, &TestNet4ChainParams, "TESTNET4"},
		{"signet", Signet, &chaincfg.SigNetParams, "signet"},
		{"regtest", Regtest, &chaincfg.RegressionNetParams, "regression"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, test.name, test.net.String())

			params, err := test.net.Params()
			require.NoError(t, err)
			require.Same(t, test.params, params)

			net, err := ParseNetwork(test.alias)
			require.NoError(t, err)
			require.Equal(t, test.net, net)

			var flagNet Network
			require.NoError(t, flagNet.UnmarshalFlag(test.name))
			require.Equal(t, test.net, flagNet)

			s, err := flagNet.MarshalFlag()
			require.NoError(t, err)
			require.Equal(t, test.name, s)
		})
	}
}

// TestUnknownNetwork ensures unknown networks are rejected.
func TestUnknownNetwork(t *testing.T) {
	t.Parallel()

	_, err := ParseNetwork("litecoin")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = Network(42).Params()
	require.ErrorIs(t, err, ErrUnknownNetwork)
	require.False(t, Network(42).IsValid())
	require.Panics(t, func() { Network(42).MustParams() })
}
