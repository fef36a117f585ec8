// Package curve provides the uniform scalar/point arithmetic that the three
// FROST ciphersuites are built on: secp256k1 (shared by the Schnorr/BIP-340
// and ECDSA variants) and Ed25519. It plays the same role as luxfi/threshold's
// pkg/math/curve: a Curve interface parties and polynomials are generic over,
// so that the DKG and signing state machines never need to know which group
// they are running in.
package curve

import "math/big"

// Point is an element of a curve's group. Implementations wrap the
// underlying library's native point type (decred's secp256k1.JacobianPoint
// or filippo.io/edwards25519.Point).
type Point interface {
	Add(Point) Point
	Mul(k *big.Int) Point
	Equal(Point) bool
	IsIdentity() bool
	Bytes() []byte
}

// Group is a cryptographic group with a distinguished generator, used as
// the basis for Shamir secret sharing and FROST signing.
type Group interface {
	Name() string
	// Order is the prime order of the group (the modulus scalars live in).
	Order() *big.Int
	// ScalarBaseMult returns k*G.
	ScalarBaseMult(k *big.Int) Point
	// Identity returns the group's identity element.
	Identity() Point
	// PointFromBytes decodes a point in the group's canonical encoding.
	PointFromBytes(b []byte) (Point, error)
	// RandomScalar reduces 64 bytes of uniform randomness into [0, order).
	RandomScalar(uniform []byte) *big.Int
}

// ScalarMod reduces an arbitrary big.Int into [0, order).
func ScalarMod(x *big.Int, order *big.Int) *big.Int {
	r := new(big.Int).Mod(x, order)
	if r.Sign() < 0 {
		r.Add(r, order)
	}
	return r
}

// ScalarAdd returns (a+b) mod order.
func ScalarAdd(a, b, order *big.Int) *big.Int {
	return ScalarMod(new(big.Int).Add(a, b), order)
}

// ScalarMul returns (a*b) mod order.
func ScalarMul(a, b, order *big.Int) *big.Int {
	return ScalarMod(new(big.Int).Mul(a, b), order)
}

// ScalarInverse returns a^-1 mod order.
func ScalarInverse(a, order *big.Int) *big.Int {
	return new(big.Int).ModInverse(a, order)
}
