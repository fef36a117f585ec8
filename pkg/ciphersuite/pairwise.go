package ciphersuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/vaultfrost/custody/pkg/curve"
)

// SealPairwise encrypts a DKG round-2 share under a key derived from an
// ECDH-shaped pairing between the sender's own secret scalar and the
// recipient's public point: sharedPoint = mySecret * peerPublic. Because
// DKG round 1 only ever broadcasts public commitments, both ends of a
// pair can derive the same shared point from material they already
// exchanged (the sender's own secret coefficient and the peer's
// broadcast commitment to the corresponding coefficient), without any
// additional key-exchange round. This grounds the DKG's personalized
// encrypted packages in ordinary group arithmetic rather than a
// separate PKI.
func SealPairwise(group curve.Group, mySecret *big.Int, peerPublic curve.Point, plaintext []byte) (nonce, ciphertext []byte, err error) {
	key := pairwiseKey(group, mySecret, peerPublic)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// OpenPairwise reverses SealPairwise from the recipient's side: it derives
// the identical shared point using its own secret and the sender's public
// commitment.
func OpenPairwise(group curve.Group, mySecret *big.Int, peerPublic curve.Point, nonce, ciphertext []byte) ([]byte, error) {
	key := pairwiseKey(group, mySecret, peerPublic)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func pairwiseKey(group curve.Group, mySecret *big.Int, peerPublic curve.Point) []byte {
	shared := peerPublic.Mul(mySecret)
	digest := sha256.Sum256(append([]byte("vaultfrost/dkg-pairwise"), shared.Bytes()...))
	return digest[:]
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ciphersuite: aes key setup: %w", err)
	}
	return cipher.NewGCM(block)
}
