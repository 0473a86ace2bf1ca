// Package cryptoutils provides the asymmetric encryption used to propagate
// the group secret: ECIES over secp256k1, addressed by a member's compressed
// public key as published in the registry.
package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// ErrMalformedPubkey is returned when a recipient's registered public key
// cannot be parsed as a compressed secp256k1 point.
var ErrMalformedPubkey = errors.New("malformed recipient public key")

// EncryptToPubkey encrypts data to the holder of the given compressed
// secp256k1 public key using ECIES. A fresh ephemeral key is generated per
// call; only the recipient's private key can decrypt the result.
func EncryptToPubkey(compressedPubkey, data []byte) ([]byte, error) {
	pub, err := crypto.DecompressPubkey(compressedPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPubkey, err)
	}

	ciphertext, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), data, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ecies encryption failed: %w", err)
	}
	return ciphertext, nil
}

// DecryptWithKey decrypts a payload produced by EncryptToPubkey with the
// recipient's private key.
func DecryptWithKey(priv *ecdsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := ecies.ImportECDSA(priv).Decrypt(ciphertext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ecies decryption failed: %w", err)
	}
	return plaintext, nil
}
