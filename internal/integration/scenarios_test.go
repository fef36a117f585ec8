package integration

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vaultfrost/custody/pkg/ciphersuite/eddsa"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/party"
)

// These specs exercise the six literal seed scenarios end to end, against
// in-process nodes rather than over HTTP: DKG and FROST signing for all
// three ciphersuites, DKG determinism after a simulated store wipe,
// quorum loss, and nonce-handle replay rejection.

var _ = Describe("threshold custody deployment", func() {
	const (
		n = 3
		m = 2
	)

	var (
		helloHash = sha256.Sum256([]byte("hello"))
		zeroMsg   = make([]byte, 32)
	)

	It("produces a valid Schnorr signature for a happy-path quorum", func() {
		d := newDeployment(n, m)
		passphrase := "550e8400-e29b-41d4-a716-446655440000"

		_, err := d.runDKG(curvetag.SchnorrSecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())

		quorum := party.IDSlice{0, 1}
		sig, err := d.sign(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], quorum)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig).To(HaveLen(64))

		pub := d.byID(0).pubkeys[curvetag.SchnorrSecp256k1]
		Expect(suiteFor(curvetag.SchnorrSecp256k1).Verify(pub, helloHash[:], sig)).To(BeTrue())
	})

	It("produces a valid ECDSA signature for a happy-path quorum", func() {
		d := newDeployment(n, m)
		passphrase := "550e8400-e29b-41d4-a716-446655440000"

		_, err := d.runDKG(curvetag.ECDSASecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())

		quorum := party.IDSlice{0, 1}
		sig, err := d.sign(curvetag.ECDSASecp256k1, passphrase, helloHash[:], quorum)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig).To(HaveLen(65))

		pub := d.byID(0).pubkeys[curvetag.ECDSASecp256k1]
		Expect(suiteFor(curvetag.ECDSASecp256k1).Verify(pub, helloHash[:], sig)).To(BeTrue())
	})

	It("produces a valid Ed25519 signature verifiable by the standard library", func() {
		d := newDeployment(n, m)
		passphrase := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

		_, err := d.runDKG(curvetag.Ed25519, passphrase)
		Expect(err).NotTo(HaveOccurred())

		quorum := party.IDSlice{0, 1}
		sig, err := d.sign(curvetag.Ed25519, passphrase, zeroMsg, quorum)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig).To(HaveLen(64))

		pub := d.byID(0).pubkeys[curvetag.Ed25519]
		Expect(suiteFor(curvetag.Ed25519).Verify(pub, zeroMsg, sig)).To(BeTrue())

		// Independent verification, deliberately bypassing this module's
		// own eddsa.Suite.Verify: raw stdlib crypto/ed25519 against the
		// group public key and signature bytes.
		Expect(ed25519.Verify(ed25519.PublicKey(pub.GroupPublicKey), zeroMsg, sig)).To(BeTrue())
		_ = eddsa.Suite{} // referenced for the package-qualified type check above
	})

	It("reproduces byte-identical DKG output after a simulated store wipe", func() {
		passphrase := "X"

		d1 := newDeployment(n, m)
		pub1, err := d1.runDKG(curvetag.SchnorrSecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())
		snapshot := make(map[party.ID][]byte, n)
		for _, nd := range d1.nodes {
			snapshot[nd.id] = nd.keys[curvetag.SchnorrSecp256k1].SecretShare
		}

		// A fresh deployment with the same per-node HSM root secrets
		// stands in for "wipe the stores, keep the hardware, re-run DKG".
		d2 := newDeployment(n, m)
		pub2, err := d2.runDKG(curvetag.SchnorrSecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())

		Expect(pub2).To(Equal(pub1))
		for _, nd := range d2.nodes {
			Expect(nd.keys[curvetag.SchnorrSecp256k1].SecretShare).To(Equal(snapshot[nd.id]))
		}
	})

	It("signs with a reduced quorum and fails once below threshold", func() {
		d := newDeployment(n, m)
		passphrase := "550e8400-e29b-41d4-a716-446655440000"
		_, err := d.runDKG(curvetag.SchnorrSecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())

		// Node 2 "offline": sign with nodes 0 and 1 only, still at threshold.
		sig, err := d.sign(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], party.IDSlice{0, 1})
		Expect(err).NotTo(HaveOccurred())
		pub := d.byID(0).pubkeys[curvetag.SchnorrSecp256k1]
		Expect(suiteFor(curvetag.SchnorrSecp256k1).Verify(pub, helloHash[:], sig)).To(BeTrue())

		// Node 1 "offline" too: only node 0 remains, below the M=2
		// threshold. The ciphersuite round2/aggregate stage itself already
		// refuses to reconstruct a valid signature from too few shares;
		// the signing aggregator is what surfaces this as QuorumUnavailable
		// over HTTP (internal/aggregator), not exercised at this layer.
		_, err = d.sign(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], party.IDSlice{0})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a replayed nonce handle for the same message and for a different message", func() {
		d := newDeployment(n, m)
		passphrase := "550e8400-e29b-41d4-a716-446655440000"
		_, err := d.runDKG(curvetag.SchnorrSecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())

		quorum := party.IDSlice{0, 1}
		handles, commitments, err := d.signRound1(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], quorum)
		Expect(err).NotTo(HaveOccurred())

		_, err = d.signRound2(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], 0, handles[0], commitments)
		Expect(err).NotTo(HaveOccurred())

		// Re-send the same handle for the same (passphrase, message): rejected.
		_, err = d.signRound2(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], 0, handles[0], commitments)
		Expect(err).To(HaveOccurred())

		otherMessage := []byte("a different message entirely")
		// Re-send for a different message: rejected on message binding,
		// independent of the single-use check above.
		_, err = d.signRound2(curvetag.SchnorrSecp256k1, passphrase, otherMessage, 1, handles[1], commitments)
		Expect(err).To(HaveOccurred())
	})

	It("keeps the commitment set stable and hex-encodable for logging", func() {
		d := newDeployment(n, m)
		passphrase := "550e8400-e29b-41d4-a716-446655440000"
		_, err := d.runDKG(curvetag.SchnorrSecp256k1, passphrase)
		Expect(err).NotTo(HaveOccurred())

		_, commitments, err := d.signRound1(curvetag.SchnorrSecp256k1, passphrase, helloHash[:], party.IDSlice{0, 1})
		Expect(err).NotTo(HaveOccurred())
		for _, c := range commitments {
			Expect(hex.EncodeToString(c.D)).NotTo(BeEmpty())
		}
	})
})
