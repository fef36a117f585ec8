package chainenc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultfrost/custody/internal/chainenc"
)

type fakeEncoder struct {
	address string
}

func (f fakeEncoder) Encode(chain chainenc.Chain, publicKey []byte) (string, error) {
	return f.address, nil
}

func TestChainCurveMapping(t *testing.T) {
	cases := map[chainenc.Chain]string{
		chainenc.ChainBitcoinTaproot: "schnorr-secp256k1",
		chainenc.ChainEthereum:      "ecdsa-secp256k1",
		chainenc.ChainGeneric:       "ed25519",
	}
	for chain, want := range cases {
		curve, err := chain.Curve()
		require.NoError(t, err)
		assert.Equal(t, want, curve)
	}

	_, err := chainenc.Chain("unknown-chain").Curve()
	assert.Error(t, err)
}

func TestRegistryDispatchesToRegisteredEncoder(t *testing.T) {
	r := chainenc.NewRegistry()
	r.Register(chainenc.ChainBitcoinTaproot, fakeEncoder{address: "bc1p..."})

	addr, err := r.Encode(chainenc.ChainBitcoinTaproot, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "bc1p...", addr)
}

func TestRegistryErrorsForUnregisteredChain(t *testing.T) {
	r := chainenc.NewRegistry()
	_, err := r.Encode(chainenc.ChainEthereum, []byte{0x01})
	assert.Error(t, err)
}
