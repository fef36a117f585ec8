package curve

import (
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// secp256k1Order is the prime order of the secp256k1 group, shared by the
// Schnorr/BIP-340 and ECDSA ciphersuites.
var secp256k1Order, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

// Secp256k1 is the group used by the schnorr-secp256k1 and ecdsa-secp256k1
// ciphersuites. Point arithmetic is delegated to decred's constant-time-free
// (NonConst) Jacobian routines, which is the same approach taken by
// dcrd/btcd-derived threshold signature libraries such as luxfi/threshold.
type Secp256k1 struct{}

var _ Group = Secp256k1{}

func (Secp256k1) Name() string        { return "secp256k1" }
func (Secp256k1) Order() *big.Int     { return new(big.Int).Set(secp256k1Order) }
func (Secp256k1) Identity() Point     { return &secp256k1Point{} }

func (Secp256k1) ScalarBaseMult(k *big.Int) Point {
	s := scalarToModN(k)
	var result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &result)
	return &secp256k1Point{j: result}
}

func (Secp256k1) RandomScalar(uniform []byte) *big.Int {
	var s secp256k1.ModNScalar
	s.SetByteSlice(uniform[:32])
	b := s.Bytes()
	return new(big.Int).SetBytes(b[:])
}

func (Secp256k1) PointFromBytes(b []byte) (Point, error) {
	if len(b) == 1 && b[0] == 0x00 {
		return &secp256k1Point{}, nil
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	var j secp256k1.JacobianPoint
	pub.AsJacobian(&j)
	return &secp256k1Point{j: j}, nil
}

func scalarToModN(k *big.Int) secp256k1.ModNScalar {
	reduced := ScalarMod(k, secp256k1Order)
	buf := make([]byte, 32)
	reduced.FillBytes(buf)
	var s secp256k1.ModNScalar
	s.SetByteSlice(buf)
	return s
}

type secp256k1Point struct {
	j secp256k1.JacobianPoint
}

func (p *secp256k1Point) IsIdentity() bool {
	return p.j.Z.IsZero()
}

func (p *secp256k1Point) Add(other Point) Point {
	o, ok := other.(*secp256k1Point)
	if !ok {
		panic("curve: mismatched point types in Add")
	}
	var result secp256k1.JacobianPoint
	secp256k1.AddNonConst(&p.j, &o.j, &result)
	return &secp256k1Point{j: result}
}

func (p *secp256k1Point) Mul(k *big.Int) Point {
	s := scalarToModN(k)
	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s, &p.j, &result)
	return &secp256k1Point{j: result}
}

func (p *secp256k1Point) Equal(other Point) bool {
	o, ok := other.(*secp256k1Point)
	if !ok {
		return false
	}
	if p.IsIdentity() || o.IsIdentity() {
		return p.IsIdentity() == o.IsIdentity()
	}
	pa, oa := p.j, o.j
	pa.ToAffine()
	oa.ToAffine()
	return pa.X.Equals(&oa.X) && pa.Y.Equals(&oa.Y)
}

// Bytes returns the 33-byte SEC1 compressed encoding, or a single zero byte
// for the identity (which has no affine representation).
func (p *secp256k1Point) Bytes() []byte {
	if p.IsIdentity() {
		return []byte{0x00}
	}
	affine := p.j
	affine.ToAffine()
	pub := secp256k1.NewPublicKey(&affine.X, &affine.Y)
	return pub.SerializeCompressed()
}

// XOnlyBytes returns the 32-byte x-coordinate used by BIP-340 Schnorr keys
// and signatures, after normalizing the point to even Y as required by the
// taproot convention.
func (p *secp256k1Point) XOnlyBytes() ([]byte, bool, error) {
	if p.IsIdentity() {
		return nil, false, errors.New("curve: identity has no x-only encoding")
	}
	affine := p.j
	affine.ToAffine()
	wasOdd := affine.Y.IsOdd()
	buf := affine.X.Bytes()
	return buf[:], wasOdd, nil
}

// Negate returns -P, used to normalize a Schnorr public key to even Y.
func (p *secp256k1Point) Negate() *secp256k1Point {
	affine := p.j
	affine.ToAffine()
	affine.Y.Negate(1).Normalize()
	affine.Z.SetInt(1)
	return &secp256k1Point{j: affine}
}

// AsSecp256k1 is a narrowing helper for the ciphersuites that need access to
// the BIP-340 specific encoding beyond the generic curve.Point interface.
func AsSecp256k1(p Point) (*secp256k1Point, bool) {
	sp, ok := p.(*secp256k1Point)
	return sp, ok
}
