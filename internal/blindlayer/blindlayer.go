// Package blindlayer derives blinded identifiers from a client id and
// a client-held blinding factor, and encrypts/decrypts payloads under
// a KEM-derived symmetric key. The core never stores blinding
// factors; only the client needs to remember them to re-derive a
// blinded id or decrypt a retrieved payload.
//
// Ported from original_source/dsm_storage_node/src/encryption/blind_encryption.rs
// onto the Go crypto kit (internal/cryptokit).
package blindlayer

import (
	"encoding/base64"

	"github.com/aegismesh/sentrynode/internal/cryptokit"
	"github.com/aegismesh/sentrynode/internal/storetypes"
)

// BlindingFactorSize is the length in bytes of a client-generated blinding factor.
const BlindingFactorSize = 32

// GenerateBlindingFactor returns a fresh CSPRNG blinding factor for a client to hold.
func GenerateBlindingFactor() ([]byte, error) {
	return cryptokit.RandomBytes(BlindingFactorSize)
}

// GenerateBlindedID derives B = base64(H(client_id || blinding_factor)).
func GenerateBlindedID(clientID string, blindingFactor []byte) string {
	hash := cryptokit.Hash([]byte(clientID), blindingFactor)
	return base64.StdEncoding.EncodeToString(hash[:])
}

// Encrypt performs the KEM-derived blind encryption pipeline: encapsulate
// against the recipient's public key, derive a symmetric key from the
// shared secret and the blinding factor, then seal the payload.
// The returned ciphertext is [ephemeral public key || nonce || AEAD ciphertext].
func Encrypt(data []byte, recipientPublic [32]byte, blindingFactor []byte) ([]byte, error) {
	sharedSecret, ephemeralPublic, err := cryptokit.Encapsulate(recipientPublic)
	if err != nil {
		return nil, err
	}
	key := cryptokit.DeriveEncryptionKey(sharedSecret, blindingFactor)
	sealed, err := cryptokit.Encrypt(data, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(ephemeralPublic)+len(sealed))
	out = append(out, ephemeralPublic[:]...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt: split off the ephemeral public key,
// decapsulate against the recipient's private key, re-derive the
// symmetric key, and open the AEAD ciphertext.
func Decrypt(encrypted []byte, recipient *cryptokit.KEMKeyPair, blindingFactor []byte) ([]byte, error) {
	if len(encrypted) <= 32 {
		return nil, storetypes.New(storetypes.KindCrypto, "blinded ciphertext too short")
	}
	var ephemeralPublic [32]byte
	copy(ephemeralPublic[:], encrypted[:32])
	sealed := encrypted[32:]

	sharedSecret, err := recipient.Decapsulate(ephemeralPublic)
	if err != nil {
		return nil, err
	}
	key := cryptokit.DeriveEncryptionKey(sharedSecret, blindingFactor)
	return cryptokit.Decrypt(sealed, key)
}

// ProofHash computes proof_hash = H(blinded_id || payload).
func ProofHash(blindedID string, payload []byte) [32]byte {
	return cryptokit.Hash([]byte(blindedID), payload)
}

// VerifyProofHash reports whether proof matches H(blinded_id || payload).
func VerifyProofHash(blindedID string, payload []byte, proof [32]byte) bool {
	return ProofHash(blindedID, payload) == proof
}
