package cryptoutils

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	secret := []byte("the group secret")
	ciphertext, err := EncryptToPubkey(crypto.CompressPubkey(&priv.PublicKey), secret)
	require.NoError(t, err)
	assert.NotEqual(t, secret, ciphertext)

	plaintext, err := DecryptWithKey(priv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, secret, plaintext)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	recipient, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	ciphertext, err := EncryptToPubkey(crypto.CompressPubkey(&recipient.PublicKey), []byte("S"))
	require.NoError(t, err)

	_, err = DecryptWithKey(other, ciphertext)
	assert.Error(t, err, "only the recipient's private key can decrypt")
}

func TestEncryptMalformedPubkey(t *testing.T) {
	_, err := EncryptToPubkey([]byte{0x04, 0x01, 0x02}, []byte("S"))
	assert.ErrorIs(t, err, ErrMalformedPubkey)

	_, err = EncryptToPubkey(nil, []byte("S"))
	assert.ErrorIs(t, err, ErrMalformedPubkey)
}

func TestEncryptFreshEphemeralKeys(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pubkey := crypto.CompressPubkey(&priv.PublicKey)

	first, err := EncryptToPubkey(pubkey, []byte("S"))
	require.NoError(t, err)
	second, err := EncryptToPubkey(pubkey, []byte("S"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each encryption uses a fresh ephemeral key")
}
