// Package chainenc is the external-collaborator boundary for chain
// address encoding: Bech32m/Taproot, Keccak-20, and Base58 encoders are
// deliberately out of scope for this service. This package defines only
// the edge the address aggregator calls through to hand the public key
// to an external chain encoder and get back the resulting address.
package chainenc

import "fmt"

// Chain identifies which external encoder the aggregator should invoke
// for a given DKG/signing request.
type Chain string

const (
	ChainBitcoinTaproot Chain = "bitcoin-taproot"
	ChainEthereum       Chain = "ethereum"
	ChainGeneric        Chain = "generic-ed25519"
)

// Curve maps a chain identifier to the ciphersuite it signs with.
func (c Chain) Curve() (string, error) {
	switch c {
	case ChainBitcoinTaproot:
		return "schnorr-secp256k1", nil
	case ChainEthereum:
		return "ecdsa-secp256k1", nil
	case ChainGeneric:
		return "ed25519", nil
	default:
		return "", fmt.Errorf("chainenc: unknown chain %q", c)
	}
}

// Encoder is the external collaborator interface: given a raw group
// public key, produce a chain-native address string. Real
// implementations (Bech32m/Taproot, Keccak-20, Base58) live outside this
// module's scope; this package only defines the call shape the address
// aggregator depends on.
type Encoder interface {
	Encode(chain Chain, publicKey []byte) (address string, err error)
}

// Registry dispatches to a per-chain Encoder, letting the aggregator
// stay agnostic to which concrete address-encoding scheme is wired in.
type Registry struct {
	encoders map[Chain]Encoder
}

func NewRegistry() *Registry {
	return &Registry{encoders: make(map[Chain]Encoder)}
}

func (r *Registry) Register(chain Chain, enc Encoder) {
	r.encoders[chain] = enc
}

func (r *Registry) Encode(chain Chain, publicKey []byte) (string, error) {
	enc, ok := r.encoders[chain]
	if !ok {
		return "", fmt.Errorf("chainenc: no encoder registered for chain %q", chain)
	}
	return enc.Encode(chain, publicKey)
}
