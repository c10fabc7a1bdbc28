package blindlayer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegismesh/sentrynode/internal/cryptokit"
)

func TestBlindedIDIsDeterministicPerFactor(t *testing.T) {
	factor, err := GenerateBlindingFactor()
	require.NoError(t, err)

	id1 := GenerateBlindedID("client-a", factor)
	id2 := GenerateBlindedID("client-a", factor)
	require.Equal(t, id1, id2)

	otherFactor, err := GenerateBlindingFactor()
	require.NoError(t, err)
	id3 := GenerateBlindedID("client-a", otherFactor)
	require.NotEqual(t, id1, id3)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	recipient, err := cryptokit.GenerateKEMKeyPair()
	require.NoError(t, err)

	factor, err := GenerateBlindingFactor()
	require.NoError(t, err)

	plaintext := []byte("blinded state payload")
	ciphertext, err := Encrypt(plaintext, recipient.Public, factor)
	require.NoError(t, err)

	recovered, err := Decrypt(ciphertext, recipient, factor)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestDecryptFailsOnAuthTagMismatch(t *testing.T) {
	recipient, err := cryptokit.GenerateKEMKeyPair()
	require.NoError(t, err)
	factor, err := GenerateBlindingFactor()
	require.NoError(t, err)

	ciphertext, err := Encrypt([]byte("payload"), recipient.Public, factor)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = Decrypt(ciphertext, recipient, factor)
	require.Error(t, err)
}

// TestProofHashRoundTrip checks that for all (id, payload),
// verify(id, payload, proof_hash(id, payload)) = true, and any other pair
// fails verification.
func TestProofHashRoundTrip(t *testing.T) {
	proof := ProofHash("x", []byte("hello"))
	require.True(t, VerifyProofHash("x", []byte("hello"), proof))
	require.False(t, VerifyProofHash("x", []byte("goodbye"), proof))
	require.False(t, VerifyProofHash("y", []byte("hello"), proof))
}
