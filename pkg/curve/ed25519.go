package curve

import (
	"math/big"

	"filippo.io/edwards25519"
)

// ed25519Order is the prime order L of the edwards25519 subgroup.
var ed25519Order, _ = new(big.Int).SetString(
	"1000000000000000000000000000000014def9dea2f79cd65812631a5cf5d3ed", 16)

// Ed25519 is the group used by the eddsa-ed25519 ciphersuite. Scalar and
// point arithmetic is delegated to filippo.io/edwards25519, the same
// constant-time field/group implementation used across the example pack's
// ristretto255 and ed25519 threshold schemes.
type Ed25519 struct{}

var _ Group = Ed25519{}

func (Ed25519) Name() string    { return "ed25519" }
func (Ed25519) Order() *big.Int { return new(big.Int).Set(ed25519Order) }
func (Ed25519) Identity() Point { return &ed25519Point{p: edwards25519.NewIdentityPoint()} }

func (Ed25519) ScalarBaseMult(k *big.Int) Point {
	s := scalarToEd25519(k)
	p := edwards25519.NewIdentityPoint().ScalarBaseMult(s)
	return &ed25519Point{p: p}
}

// RandomScalar reduces 64 bytes of uniform randomness via the wide-reduction
// constructor so that the result is unbiased mod L, mirroring RFC 8032's
// clamping-free scalar derivation used for FROST nonces and secret shares.
func (Ed25519) RandomScalar(uniform []byte) *big.Int {
	buf := make([]byte, 64)
	copy(buf, uniform)
	s, err := edwards25519.NewScalar().SetUniformBytes(buf)
	if err != nil {
		panic("curve: SetUniformBytes rejected a 64-byte input: " + err.Error())
	}
	le := s.Bytes()
	return new(big.Int).SetBytes(reverse(le))
}

func (Ed25519) PointFromBytes(b []byte) (Point, error) {
	p, err := edwards25519.NewIdentityPoint().SetBytes(b)
	if err != nil {
		return nil, err
	}
	return &ed25519Point{p: p}, nil
}

func scalarToEd25519(k *big.Int) *edwards25519.Scalar {
	reduced := ScalarMod(k, ed25519Order)
	be := make([]byte, 32)
	reduced.FillBytes(be)
	le := reverse(be)
	s, err := edwards25519.NewScalar().SetCanonicalBytes(le)
	if err != nil {
		// SetCanonicalBytes rejects non-reduced input; reduced is already
		// < L by construction above, so this should never trigger. Fall
		// back to the wide reduction to stay total rather than panic.
		wide := make([]byte, 64)
		copy(wide, le)
		s, _ = edwards25519.NewScalar().SetUniformBytes(wide)
	}
	return s
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

type ed25519Point struct {
	p *edwards25519.Point
}

func (p *ed25519Point) IsIdentity() bool {
	return p.p.Equal(edwards25519.NewIdentityPoint()) == 1
}

func (p *ed25519Point) Add(other Point) Point {
	o, ok := other.(*ed25519Point)
	if !ok {
		panic("curve: mismatched point types in Add")
	}
	result := edwards25519.NewIdentityPoint().Add(p.p, o.p)
	return &ed25519Point{p: result}
}

func (p *ed25519Point) Mul(k *big.Int) Point {
	s := scalarToEd25519(k)
	result := edwards25519.NewIdentityPoint().ScalarMult(s, p.p)
	return &ed25519Point{p: result}
}

func (p *ed25519Point) Equal(other Point) bool {
	o, ok := other.(*ed25519Point)
	if !ok {
		return false
	}
	return p.p.Equal(o.p) == 1
}

// Bytes returns the canonical 32-byte little-endian compressed encoding.
func (p *ed25519Point) Bytes() []byte {
	return p.p.Bytes()
}
