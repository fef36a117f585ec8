// Package schnorr implements the schnorr-secp256k1 ciphersuite: BIP-340
// compatible 64-byte Taproot key-path signatures produced by M-of-N FROST
// signing, generalizing the reference library's protocols/frost/sign
// round1/round2 structure (hedged nonce derivation via blake3, binding
// factors over the broadcast commitment set) onto this module's
// curve.Group abstraction.
package schnorr

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/curve"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/hash"
	"github.com/vaultfrost/custody/pkg/party"
	"github.com/vaultfrost/custody/pkg/polynomial"
)

// Suite implements ciphersuite.Suite for BIP-340 Schnorr over secp256k1.
type Suite struct{}

var _ ciphersuite.Suite = Suite{}

func (Suite) Tag() string       { return string(curvetag.SchnorrSecp256k1) }
func (Suite) Group() curve.Group { return curve.Secp256k1{} }

type dkgSecretState struct {
	poly *polynomial.Polynomial
}

// wireSecretState is the cbor-serializable projection of dkgSecretState;
// coefficients are fixed-width big-endian scalars so the encoding is
// bit-exact regardless of the in-memory big.Int representation.
type wireSecretState struct {
	Coefficients [][]byte `cbor:"1,keyasint"`
}

func encodeSecretState(s *dkgSecretState) ([]byte, error) {
	coeffs := s.poly.Coefficients()
	wire := wireSecretState{Coefficients: make([][]byte, len(coeffs))}
	for i, c := range coeffs {
		buf := make([]byte, 32)
		c.FillBytes(buf)
		wire.Coefficients[i] = buf
	}
	return cbor.Marshal(wire)
}

func decodeSecretState(group curve.Group, data []byte) (*dkgSecretState, error) {
	var wire wireSecretState
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("schnorr: decoding dkg secret state: %w", err)
	}
	coeffs := make([]*big.Int, len(wire.Coefficients))
	for i, b := range wire.Coefficients {
		coeffs[i] = new(big.Int).SetBytes(b)
	}
	return &dkgSecretState{poly: polynomial.FromCoefficients(group, coeffs)}, nil
}

func taggedHash(tag string, msgs ...[]byte) []byte {
	tagHash := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, m := range msgs {
		h.Write(m)
	}
	return h.Sum(nil)
}

func (s Suite) DKGPart1(id party.ID, threshold, maxSigners int, rng func([]byte) *big.Int) ([]byte, ciphersuite.DKGRound1Package, error) {
	group := s.Group()
	seedBuf := make([]byte, 64)
	secret := rng(seedBuf)
	poly := polynomial.New(group, threshold, secret, rng)

	commitments := poly.Commitments()
	commitmentBytes := make([][]byte, len(commitments))
	for i, c := range commitments {
		commitmentBytes[i] = c.Bytes()
	}

	// Schnorr proof of knowledge of the constant term, binding the
	// commitment set to this node's identity so a replayed commitment
	// from another run can't be substituted in.
	k := rng(seedBuf)
	R := group.ScalarBaseMult(k)
	challenge := curve.ScalarMod(
		new(big.Int).SetBytes(taggedHash("vaultfrost/dkg-pok", []byte(id.String()), R.Bytes(), commitments[0].Bytes())),
		group.Order(),
	)
	mu := curve.ScalarAdd(k, curve.ScalarMul(challenge, poly.Constant(), group.Order()), group.Order())

	buf := make([]byte, 32)
	mu.FillBytes(buf)

	state := &dkgSecretState{poly: poly}
	encoded, err := encodeSecretState(state)
	if err != nil {
		return nil, ciphersuite.DKGRound1Package{}, err
	}

	return encoded, ciphersuite.DKGRound1Package{
		From:          id,
		Commitments:   commitmentBytes,
		PoKCommitment: R.Bytes(),
		PoKResponse:   buf,
	}, nil
}

func (s Suite) DKGPart2(id party.ID, secretState []byte, received map[party.ID]ciphersuite.DKGRound1Package) ([]byte, []ciphersuite.DKGRound2Package, error) {
	group := s.Group()
	state, err := decodeSecretState(group, secretState)
	if err != nil {
		return nil, nil, err
	}

	for peerID, pkg := range received {
		if peerID == id {
			continue
		}
		if len(pkg.Commitments) == 0 {
			return nil, nil, fmt.Errorf("schnorr: dkg round1 from %s has no commitments", peerID)
		}
		constantCommit, err := group.PointFromBytes(pkg.Commitments[0])
		if err != nil {
			return nil, nil, fmt.Errorf("schnorr: bad commitment from %s: %w", peerID, err)
		}
		if constantCommit.IsIdentity() {
			return nil, nil, fmt.Errorf("schnorr: identity constant-term commitment from %s", peerID)
		}
		R, err := group.PointFromBytes(pkg.PoKCommitment)
		if err != nil {
			return nil, nil, fmt.Errorf("schnorr: bad PoK commitment from %s: %w", peerID, err)
		}
		mu := new(big.Int).SetBytes(pkg.PoKResponse)
		challenge := curve.ScalarMod(
			new(big.Int).SetBytes(taggedHash("vaultfrost/dkg-pok", []byte(peerID.String()), pkg.PoKCommitment, pkg.Commitments[0])),
			group.Order(),
		)
		lhs := group.ScalarBaseMult(mu)
		rhs := R.Add(constantCommit.Mul(challenge))
		if !lhs.Equal(rhs) {
			return nil, nil, fmt.Errorf("schnorr: invalid proof of knowledge from %s", peerID)
		}
	}

	var out []ciphersuite.DKGRound2Package
	for peerID, peerPkg := range received {
		if peerID == id {
			continue
		}
		share := state.poly.Evaluate(new(big.Int).SetUint64(peerID.Scalar()))
		buf := make([]byte, 32)
		share.FillBytes(buf)

		peerConstant, err := group.PointFromBytes(peerPkg.Commitments[0])
		if err != nil {
			return nil, nil, fmt.Errorf("schnorr: bad commitment from %s: %w", peerID, err)
		}
		nonce, ct, err := ciphersuite.SealPairwise(group, state.poly.Constant(), peerConstant, buf)
		if err != nil {
			return nil, nil, fmt.Errorf("schnorr: sealing share for %s: %w", peerID, err)
		}
		out = append(out, ciphersuite.DKGRound2Package{
			From:       id,
			To:         peerID,
			Nonce:      nonce,
			Ciphertext: ct,
		})
	}

	return secretState, out, nil
}

func (s Suite) DKGPart3(id party.ID, secretState []byte, round1 map[party.ID]ciphersuite.DKGRound1Package, round2 map[party.ID]ciphersuite.DKGRound2Package) (ciphersuite.KeyPackage, ciphersuite.PubkeyPackage, error) {
	group := s.Group()
	state, err := decodeSecretState(group, secretState)
	if err != nil {
		return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, err
	}

	selfX := new(big.Int).SetUint64(id.Scalar())
	secretShare := state.poly.Evaluate(selfX)
	for peerID, pkg := range round2 {
		if peerID == id {
			continue
		}
		peerConstant, err := group.PointFromBytes(round1[peerID].Commitments[0])
		if err != nil {
			return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, fmt.Errorf("schnorr: bad commitment from %s: %w", peerID, err)
		}
		plaintext, err := ciphersuite.OpenPairwise(group, state.poly.Constant(), peerConstant, pkg.Nonce, pkg.Ciphertext)
		if err != nil {
			return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, fmt.Errorf("schnorr: unsealing share from %s: %w", peerID, err)
		}
		contribution := new(big.Int).SetBytes(plaintext)
		commits := round1[peerID].Commitments
		pts := make([]curve.Point, len(commits))
		for i, c := range commits {
			pts[i], err = group.PointFromBytes(c)
			if err != nil {
				return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, fmt.Errorf("schnorr: bad commitment from %s: %w", peerID, err)
			}
		}
		expected := polynomial.EvaluateCommitments(group, pts, selfX)
		if !group.ScalarBaseMult(contribution).Equal(expected) {
			return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, fmt.Errorf("schnorr: share from %s does not match its commitments", peerID)
		}
		secretShare = curve.ScalarAdd(secretShare, contribution, group.Order())
	}

	ids := make(party.IDSlice, 0, len(round1))
	for pid := range round1 {
		ids = append(ids, pid)
	}
	ids = ids.Sorted()

	groupPubkey := group.Identity()
	verificationShares := make(map[uint32][]byte, len(ids))
	for _, pid := range ids {
		pts := make([]curve.Point, len(round1[pid].Commitments))
		for i, c := range round1[pid].Commitments {
			pts[i], err = group.PointFromBytes(c)
			if err != nil {
				return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, err
			}
		}
		groupPubkey = groupPubkey.Add(pts[0])
	}
	for _, pid := range ids {
		x := new(big.Int).SetUint64(pid.Scalar())
		share := group.Identity()
		for _, other := range ids {
			pts := make([]curve.Point, len(round1[other].Commitments))
			for i, c := range round1[other].Commitments {
				pts[i], err = group.PointFromBytes(c)
				if err != nil {
					return ciphersuite.KeyPackage{}, ciphersuite.PubkeyPackage{}, err
				}
			}
			share = share.Add(polynomial.EvaluateCommitments(group, pts, x))
		}
		verificationShares[uint32(pid)] = share.Bytes()
	}

	secretBuf := make([]byte, 32)
	secretShare.FillBytes(secretBuf)

	key := ciphersuite.KeyPackage{
		Curve:              curvetag.SchnorrSecp256k1,
		ID:                 id,
		Threshold:          state.poly.Threshold(),
		MaxSigners:         len(ids),
		SecretShare:        secretBuf,
		GroupPublicKey:     groupPubkey.Bytes(),
		VerificationShares: verificationShares,
	}
	pub := ciphersuite.PubkeyPackage{
		Curve:              curvetag.SchnorrSecp256k1,
		Threshold:          key.Threshold,
		MaxSigners:         key.MaxSigners,
		GroupPublicKey:     key.GroupPublicKey,
		VerificationShares: verificationShares,
	}
	return key, pub, nil
}

func (s Suite) SignRound1(_ ciphersuite.KeyPackage, _ party.IDSlice, rng func([]byte) *big.Int) (ciphersuite.Nonces, ciphersuite.SigningCommitment, error) {
	group := s.Group()
	buf := make([]byte, 64)
	d := rng(buf)
	e := rng(buf)
	D := group.ScalarBaseMult(d)
	E := group.ScalarBaseMult(e)
	return ciphersuite.Nonces{D: d, E: e}, ciphersuite.SigningCommitment{D: D.Bytes(), E: E.Bytes()}, nil
}

func bindingFactor(group curve.Group, id party.ID, message []byte, commitments []ciphersuite.SigningCommitment) *big.Int {
	sorted := append([]ciphersuite.SigningCommitment(nil), commitments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	var transcript []byte
	for _, c := range sorted {
		transcript = append(transcript, byte(c.ID))
		transcript = append(transcript, c.D...)
		transcript = append(transcript, c.E...)
	}
	digest := hash.BytesWithDomain("vaultfrost/frost-binding-factor", []byte(id.String()), message, transcript)
	return curve.ScalarMod(new(big.Int).SetBytes(digest), group.Order())
}

func groupCommitment(group curve.Group, message []byte, commitments []ciphersuite.SigningCommitment) (curve.Point, map[party.ID]*big.Int, error) {
	R := group.Identity()
	rhos := make(map[party.ID]*big.Int, len(commitments))
	for _, c := range commitments {
		D, err := group.PointFromBytes(c.D)
		if err != nil {
			return nil, nil, err
		}
		E, err := group.PointFromBytes(c.E)
		if err != nil {
			return nil, nil, err
		}
		rho := bindingFactor(group, c.ID, message, commitments)
		rhos[c.ID] = rho
		R = R.Add(D.Add(E.Mul(rho)))
	}
	return R, rhos, nil
}

func (s Suite) SignRound2(key ciphersuite.KeyPackage, nonces ciphersuite.Nonces, message []byte, commitments []ciphersuite.SigningCommitment) (ciphersuite.SignatureShare, error) {
	group := s.Group()

	R, rhos, err := groupCommitment(group, message, commitments)
	if err != nil {
		return ciphersuite.SignatureShare{}, err
	}
	Y, err := group.PointFromBytes(key.GroupPublicKey)
	if err != nil {
		return ciphersuite.SignatureShare{}, err
	}

	Rsp, ok := curve.AsSecp256k1(R)
	if !ok {
		return ciphersuite.SignatureShare{}, errors.New("schnorr: unexpected point type for R")
	}
	Ysp, ok := curve.AsSecp256k1(Y)
	if !ok {
		return ciphersuite.SignatureShare{}, errors.New("schnorr: unexpected point type for Y")
	}

	Rx, Rodd, err := Rsp.XOnlyBytes()
	if err != nil {
		return ciphersuite.SignatureShare{}, err
	}
	Yx, Yodd, err := Ysp.XOnlyBytes()
	if err != nil {
		return ciphersuite.SignatureShare{}, err
	}

	cR := big.NewInt(1)
	if Rodd {
		cR = curve.ScalarMod(big.NewInt(-1), group.Order())
	}
	cY := big.NewInt(1)
	if Yodd {
		cY = curve.ScalarMod(big.NewInt(-1), group.Order())
	}

	challenge := curve.ScalarMod(new(big.Int).SetBytes(taggedHash("BIP0340/challenge", Rx, Yx, message)), group.Order())

	ids := make(party.IDSlice, 0, len(commitments))
	for _, c := range commitments {
		ids = append(ids, c.ID)
	}
	lambdas := polynomial.Lagrange(group, ids.Sorted())
	lambda := lambdas[key.ID]
	if lambda == nil {
		return ciphersuite.SignatureShare{}, fmt.Errorf("schnorr: id %s not part of signing commitment set", key.ID)
	}

	rho := rhos[key.ID]
	if rho == nil {
		return ciphersuite.SignatureShare{}, fmt.Errorf("schnorr: missing binding factor for %s", key.ID)
	}

	secret := new(big.Int).SetBytes(key.SecretShare)

	z := curve.ScalarMul(nonces.D, cR, group.Order())
	z = curve.ScalarAdd(z, curve.ScalarMul(curve.ScalarMul(rho, nonces.E, group.Order()), cR, group.Order()), group.Order())
	z = curve.ScalarAdd(z, curve.ScalarMul(curve.ScalarMul(curve.ScalarMul(challenge, lambda, group.Order()), secret, group.Order()), cY, group.Order()), group.Order())

	buf := make([]byte, 32)
	z.FillBytes(buf)
	return ciphersuite.SignatureShare{ID: key.ID, Share: buf}, nil
}

func (s Suite) Aggregate(pub ciphersuite.PubkeyPackage, message []byte, commitments []ciphersuite.SigningCommitment, shares []ciphersuite.SignatureShare) ([]byte, error) {
	group := s.Group()
	R, _, err := groupCommitment(group, message, commitments)
	if err != nil {
		return nil, err
	}
	Rsp, ok := curve.AsSecp256k1(R)
	if !ok {
		return nil, errors.New("schnorr: unexpected point type for R")
	}
	Rx, _, err := Rsp.XOnlyBytes()
	if err != nil {
		return nil, err
	}

	z := new(big.Int)
	for _, sh := range shares {
		z = curve.ScalarAdd(z, new(big.Int).SetBytes(sh.Share), group.Order())
	}

	zBuf := make([]byte, 32)
	z.FillBytes(zBuf)

	sig := make([]byte, 64)
	copy(sig[:32], Rx)
	copy(sig[32:], zBuf)

	if !s.Verify(pub, message, sig) {
		return nil, errors.New("schnorr: aggregated signature failed verification")
	}
	return sig, nil
}

func (s Suite) Verify(pub ciphersuite.PubkeyPackage, message, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	group := s.Group()
	Y, err := group.PointFromBytes(pub.GroupPublicKey)
	if err != nil {
		return false
	}
	Ysp, ok := curve.AsSecp256k1(Y)
	if !ok {
		return false
	}
	Yx, Yodd, err := Ysp.XOnlyBytes()
	if err != nil {
		return false
	}
	YEven := Ysp
	if Yodd {
		YEven = Ysp.Negate()
	}

	Rx := signature[:32]
	z := new(big.Int).SetBytes(signature[32:])

	challenge := curve.ScalarMod(new(big.Int).SetBytes(taggedHash("BIP0340/challenge", Rx, Yx, message)), group.Order())

	// Recompute R' = z*G - c*Y and check its x-coordinate matches Rx and
	// that it has even Y, per BIP-340 verification.
	zG := group.ScalarBaseMult(z)
	cY := YEven.Mul(challenge)
	cYsp, _ := curve.AsSecp256k1(cY)
	RPrime := zG.Add(cYsp.Negate())
	RPsp, ok := curve.AsSecp256k1(RPrime)
	if !ok || RPsp.IsIdentity() {
		return false
	}
	rpx, rpOdd, err := RPsp.XOnlyBytes()
	if err != nil || rpOdd {
		return false
	}
	if len(rpx) != len(Rx) {
		return false
	}
	for i := range rpx {
		if rpx[i] != Rx[i] {
			return false
		}
	}
	return true
}
