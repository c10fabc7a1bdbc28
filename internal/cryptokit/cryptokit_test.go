package cryptokit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := Hash([]byte("shared-secret"), []byte("blinding-factor"))
	plaintext := []byte("hello distributed world")

	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	recovered, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	key := Hash([]byte("k"))
	ciphertext, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Decrypt(tampered, key)
	require.Error(t, err)
}

func TestKEMEncapsulateDecapsulateAgree(t *testing.T) {
	recipient, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	secret, ephemeralPublic, err := Encapsulate(recipient.Public)
	require.NoError(t, err)

	recovered, err := recipient.Decapsulate(ephemeralPublic)
	require.NoError(t, err)
	require.Equal(t, secret, recovered)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateSignatureKeyPair()
	require.NoError(t, err)

	msg := []byte("blinded-entry-digest")
	sig := kp.Sign(msg)
	require.NoError(t, Verify(kp.Public, msg, sig))

	sig[0] ^= 0xFF
	require.Error(t, Verify(kp.Public, msg, sig))
}

func TestHashIsDeterministicAndSensitiveToInput(t *testing.T) {
	a := Hash([]byte("x"), []byte("hello"))
	b := Hash([]byte("x"), []byte("hello"))
	c := Hash([]byte("x"), []byte("hellp"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
