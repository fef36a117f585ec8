// Package polynomial implements the Shamir secret-sharing polynomial and
// Lagrange coefficient arithmetic shared by DKG and FROST signing across
// all three curve groups, generalizing the reference implementation's
// curve-specific polynomial/Lagrange helpers into one implementation over
// the curve.Group abstraction.
package polynomial

import (
	"crypto/rand"
	"math/big"

	"github.com/vaultfrost/custody/pkg/curve"
	"github.com/vaultfrost/custody/pkg/party"
)

// Polynomial is a secret-sharing polynomial of the form
// f(x) = a0 + a1*x + ... + a_t*x^t, with coefficients reduced mod the
// group order. a0 is the shared secret.
type Polynomial struct {
	group        curve.Group
	coefficients []*big.Int
}

// New builds a degree-(threshold-1) polynomial with a0 fixed to secret and
// the remaining coefficients drawn from rng (the deterministic DKG
// randomness source for reproducible key generation).
func New(group curve.Group, threshold int, secret *big.Int, rng func([]byte) *big.Int) *Polynomial {
	coeffs := make([]*big.Int, threshold)
	coeffs[0] = curve.ScalarMod(secret, group.Order())
	for i := 1; i < threshold; i++ {
		buf := make([]byte, 64)
		_, _ = rand.Read(buf)
		if rng != nil {
			coeffs[i] = rng(buf)
		} else {
			coeffs[i] = group.RandomScalar(buf)
		}
	}
	return &Polynomial{group: group, coefficients: coeffs}
}

// FromCoefficients reconstructs a polynomial from its raw coefficients,
// used to round-trip the DKG secret state across a node's round1/round2/
// round3 calls without re-deriving it from the randomness source.
func FromCoefficients(group curve.Group, coefficients []*big.Int) *Polynomial {
	return &Polynomial{group: group, coefficients: coefficients}
}

// Coefficients returns the raw coefficient list, a0 first.
func (p *Polynomial) Coefficients() []*big.Int {
	return p.coefficients
}

// Constant returns the polynomial's constant term, the shared secret.
func (p *Polynomial) Constant() *big.Int {
	return new(big.Int).Set(p.coefficients[0])
}

// Threshold returns the minimum number of shares (degree+1) needed to
// reconstruct the secret.
func (p *Polynomial) Threshold() int {
	return len(p.coefficients)
}

// Evaluate computes f(x) mod the group order, using Horner's method.
func (p *Polynomial) Evaluate(x *big.Int) *big.Int {
	order := p.group.Order()
	result := new(big.Int)
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		result = curve.ScalarMul(result, x, order)
		result = curve.ScalarAdd(result, p.coefficients[i], order)
	}
	return result
}

// Commitments returns the public commitment to each coefficient, c_i = a_i*G,
// broadcast during DKG round 1 so peers can verify their received shares
// without learning the polynomial itself.
func (p *Polynomial) Commitments() []curve.Point {
	out := make([]curve.Point, len(p.coefficients))
	for i, c := range p.coefficients {
		out[i] = p.group.ScalarBaseMult(c)
	}
	return out
}

// EvaluateCommitments recomputes the public value f(x)*G directly from a
// peer's broadcast commitments, used to verify a received share against
// the sender's round-1 commitment set without the sender's coefficients.
func EvaluateCommitments(group curve.Group, commitments []curve.Point, x *big.Int) curve.Point {
	order := group.Order()
	result := group.Identity()
	xPow := big.NewInt(1)
	for _, c := range commitments {
		result = result.Add(c.Mul(xPow))
		xPow = curve.ScalarMul(xPow, x, order)
	}
	return result
}

// Lagrange computes the Lagrange interpolation coefficients at x=0 for the
// given participant set, one coefficient per id, such that
// sum(coef[id] * f(id.Scalar())) == f(0) for any degree-(len(ids)-1)
// polynomial. This is the combination step both DKG finalize (recovering
// the group verifying key) and FROST signature-share aggregation rely on.
func Lagrange(group curve.Group, ids party.IDSlice) map[party.ID]*big.Int {
	order := group.Order()
	out := make(map[party.ID]*big.Int, len(ids))
	for _, i := range ids {
		xi := new(big.Int).SetUint64(i.Scalar())
		num := big.NewInt(1)
		den := big.NewInt(1)
		for _, j := range ids {
			if i == j {
				continue
			}
			xj := new(big.Int).SetUint64(j.Scalar())
			num = curve.ScalarMul(num, xj, order)
			diff := curve.ScalarMod(new(big.Int).Sub(xj, xi), order)
			den = curve.ScalarMul(den, diff, order)
		}
		coef := curve.ScalarMul(num, curve.ScalarInverse(den, order), order)
		out[i] = coef
	}
	return out
}
