package polynomial_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultfrost/custody/pkg/curve"
	"github.com/vaultfrost/custody/pkg/party"
	"github.com/vaultfrost/custody/pkg/polynomial"
)

func TestLagrangeSumsToOne(t *testing.T) {
	group := curve.Secp256k1{}
	ids := party.Roster(10)

	coefsFull := polynomial.Lagrange(group, ids)
	coefsShort := polynomial.Lagrange(group, ids[:len(ids)-1])

	sumFull := new(big.Int)
	for _, c := range coefsFull {
		sumFull = curve.ScalarAdd(sumFull, c, group.Order())
	}
	sumShort := new(big.Int)
	for _, c := range coefsShort {
		sumShort = curve.ScalarAdd(sumShort, c, group.Order())
	}

	assert.Equal(t, 0, sumFull.Cmp(big.NewInt(1)))
	assert.Equal(t, 0, sumShort.Cmp(big.NewInt(1)))
}

func TestEvaluateAndCommitmentsAgree(t *testing.T) {
	group := curve.Secp256k1{}
	secret := big.NewInt(12345)
	poly := polynomial.New(group, 3, secret, nil)

	x := big.NewInt(7)
	fx := poly.Evaluate(x)
	expected := group.ScalarBaseMult(fx)

	commitments := poly.Commitments()
	actual := polynomial.EvaluateCommitments(group, commitments, x)

	assert.True(t, expected.Equal(actual))
}

func TestConstantIsSecret(t *testing.T) {
	group := curve.Secp256k1{}
	secret := big.NewInt(999)
	poly := polynomial.New(group, 2, secret, nil)
	assert.Equal(t, 0, poly.Constant().Cmp(secret))
	assert.True(t, group.ScalarBaseMult(poly.Evaluate(big.NewInt(0))).Equal(group.ScalarBaseMult(secret)))
}
