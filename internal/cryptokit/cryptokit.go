// Package cryptokit provides the node's cryptographic primitives:
// canonical content hashing, CSPRNG entropy, a KEM-derived symmetric
// key exchange, and authenticated encryption.
//
// The post-quantum primitive selection is left open: any authenticated
// encryption suite offering IND-CCA2 and any hash-based signature
// scheme of comparable security may be substituted. No ML-KEM or
// hash-based signature library appears anywhere in the retrieved
// example pack, so this kit substitutes X25519 for the KEM step and
// Ed25519 for signatures, both from golang.org/x/crypto /
// crypto/ed25519, keeping the same encapsulate/derive/AEAD pipeline
// shape as the original mlkem1024-based implementation.
package cryptokit

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"

	"github.com/aegismesh/sentrynode/internal/storetypes"
)

// HashSize is the width in bytes of the canonical content hash.
const HashSize = 32

// Hash computes the canonical content hash H over the concatenation
// of every part, in order. This is the single hash function used for
// proof hashes, policy content addressing, and assignment hashing
// throughout the node.
func Hash(parts ...[]byte) [HashSize]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [HashSize]byte
	h.Sum(out[:0])
	return out
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "csprng read failed", err)
	}
	return b, nil
}

// KEMKeyPair is an X25519 key pair standing in for a
// quantum-resistant KEM.
type KEMKeyPair struct {
	Public  [32]byte
	private [32]byte
}

// GenerateKEMKeyPair produces a fresh KEM key pair.
func GenerateKEMKeyPair() (*KEMKeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "key generation failed", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "derive public key failed", err)
	}
	kp := &KEMKeyPair{private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Encapsulate derives a shared secret against a peer's public key,
// returning the shared secret and the ephemeral public key that the
// peer must see to decapsulate (the "ciphertext" of a real KEM).
func Encapsulate(peerPublic [32]byte) (sharedSecret []byte, ephemeralPublic [32]byte, err error) {
	ephemeral, kerr := GenerateKEMKeyPair()
	if kerr != nil {
		return nil, ephemeralPublic, kerr
	}
	secret, xerr := curve25519.X25519(ephemeral.private[:], peerPublic[:])
	if xerr != nil {
		return nil, ephemeralPublic, storetypes.Wrap(storetypes.KindCrypto, "encapsulate failed", xerr)
	}
	return secret, ephemeral.Public, nil
}

// Decapsulate recovers the shared secret given the recipient's
// private key and the ephemeral public key produced by Encapsulate.
func (kp *KEMKeyPair) Decapsulate(ephemeralPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.private[:], ephemeralPublic[:])
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "decapsulate failed", err)
	}
	return secret, nil
}

// DeriveEncryptionKey derives a symmetric key from a KEM shared secret
// and a client-held blinding factor: k = H(shared_secret || blinding_factor).
func DeriveEncryptionKey(sharedSecret, blindingFactor []byte) [32]byte {
	return Hash(sharedSecret, blindingFactor)
}

// Encrypt authenticates and encrypts data under key using
// ChaCha20-Poly1305, prepending a freshly sampled 96-bit nonce to the
// ciphertext.
func Encrypt(data []byte, key [32]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "init aead failed", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "nonce generation failed", err)
	}
	ciphertext := aead.Seal(nil, nonce, data, nil)
	return append(nonce, ciphertext...), nil
}

// Decrypt verifies and decrypts data produced by Encrypt. Auth-tag
// mismatch surfaces as a KindCrypto error.
func Decrypt(encrypted []byte, key [32]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "init aead failed", err)
	}
	if len(encrypted) <= aead.NonceSize() {
		return nil, storetypes.New(storetypes.KindCrypto, "ciphertext too short")
	}
	nonce, ciphertext := encrypted[:aead.NonceSize()], encrypted[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "auth tag mismatch", err)
	}
	return plaintext, nil
}

// SignatureKeyPair is an Ed25519 key pair standing in for a
// hash-based signature scheme.
type SignatureKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSignatureKeyPair produces a fresh signing key pair.
func GenerateSignatureKeyPair() (*SignatureKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindCrypto, "signature keygen failed", err)
	}
	return &SignatureKeyPair{Public: pub, Private: priv}, nil
}

// Sign produces a detached signature over message.
func (kp *SignatureKeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// Verify checks a detached signature against a public key.
func Verify(public ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(public, message, signature) {
		return storetypes.New(storetypes.KindCrypto, "signature verification failed")
	}
	return nil
}
