package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaultfrost/custody/internal/errs"
	"github.com/vaultfrost/custody/pkg/curvetag"
)

func TestSigningAggregator_HappyPathAllHealthy(t *testing.T) {
	fleet := newFakeFleet(t, 3, 2)
	fleet.runDKG(t, curvetag.SchnorrSecp256k1, "pp-1")

	agg := NewSigningAggregator(fleet.aggregatorConfig(), time.Second)
	sig, err := agg.SignMessage(context.Background(), string(curvetag.SchnorrSecp256k1), "pp-1", []byte("hello world"))
	require.NoError(t, err)
	require.Len(t, sig, 64, "BIP-340 Schnorr signatures are 64 bytes")
}

// One member of the initially-selected quorum (the last by index, which
// the alternate-retry rule swaps out first) fails round2; the aggregator
// must retry once with the next healthy spare and still produce a
// signature.
func TestSigningAggregator_OneAlternateRetryOnNodeFailure(t *testing.T) {
	fleet := newFakeFleet(t, 3, 2)
	fleet.runDKG(t, curvetag.SchnorrSecp256k1, "pp-retry")
	fleet.nodes[1].failRound2 = true

	agg := NewSigningAggregator(fleet.aggregatorConfig(), time.Second)
	sig, err := agg.SignMessage(context.Background(), string(curvetag.SchnorrSecp256k1), "pp-retry", []byte("retry me"))
	require.NoError(t, err)
	require.Len(t, sig, 64)
}

// When the alternate retry also fails (no further spare nodes remain),
// SignMessage surfaces a Quorum-class error rather than retrying forever.
func TestSigningAggregator_RetryExhaustedIsQuorumError(t *testing.T) {
	fleet := newFakeFleet(t, 3, 2)
	fleet.runDKG(t, curvetag.SchnorrSecp256k1, "pp-exhausted")
	fleet.nodes[1].failRound2 = true
	fleet.nodes[2].failRound2 = true

	agg := NewSigningAggregator(fleet.aggregatorConfig(), time.Second)
	_, err := agg.SignMessage(context.Background(), string(curvetag.SchnorrSecp256k1), "pp-exhausted", []byte("no spares left"))
	require.Error(t, err)
	require.Equal(t, errs.Quorum, errs.KindOf(err))
}

// Fewer healthy nodes than the configured threshold must fail fast with a
// Quorum-class error, without attempting any round at all.
func TestSigningAggregator_QuorumUnavailableWhenNotEnoughHealthyNodes(t *testing.T) {
	fleet := newFakeFleet(t, 3, 2)
	fleet.runDKG(t, curvetag.SchnorrSecp256k1, "pp-unhealthy")
	fleet.nodes[1].down = true
	fleet.nodes[2].down = true

	agg := NewSigningAggregator(fleet.aggregatorConfig(), time.Second)
	_, err := agg.SignMessage(context.Background(), string(curvetag.SchnorrSecp256k1), "pp-unhealthy", []byte("nobody home"))
	require.Error(t, err)
	require.Equal(t, errs.Quorum, errs.KindOf(err))
}
