package cryptobox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := New("super-secret-key")
	require.NoError(t, err)

	ciphertext, err := box.Encrypt("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", ciphertext)

	plaintext, err := box.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plaintext)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	box, err := New("key-one")
	require.NoError(t, err)
	ciphertext, err := box.Encrypt("payload")
	require.NoError(t, err)

	other, err := New("key-two")
	require.NoError(t, err)
	_, err = other.Decrypt(ciphertext)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	box, err := New("k")
	require.NoError(t, err)
	_, err = box.Decrypt("not-base64!!")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}
