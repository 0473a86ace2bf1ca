// Package identity assembles the agent's registration proof from dstack key
// material: it computes the derived public key, recovers the app public key
// from the first chain link, signs the protocol registration message, and
// derives the code and member identifiers used by the GroupAuth contract.
//
// The package is a proof producer, not a proof verifier: chain validity is
// checked by the contract on registration. The recovered app pubkey and KMS
// signer are only surfaced for manual cross-checks.
package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/groupauth-agent/interfaces"
)

// RegisterMessage is the fixed protocol constant every member signs to prove
// control of its derived key at registration.
const RegisterMessage = "groupauth-register"

// DefaultPurpose is the key derivation context used for GroupAuth identities.
const DefaultPurpose = "ethereum"

// DefaultKeyPath is the dstack derivation path for the agent's identity key.
const DefaultKeyPath = "/groupauth"

// Identity is the agent's derived on-chain identity. The private key never
// leaves process memory.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
	Pubkey     []byte // compressed secp256k1
	Address    common.Address
	AppID      interfaces.AppID
	CodeID     interfaces.CodeID
	MemberID   interfaces.MemberID
	Purpose    string
}

// New constructs an identity from a derived 32-byte private scalar and the
// app instance identifier.
func New(key [32]byte, appID interfaces.AppID, purpose string) (*Identity, error) {
	priv, err := crypto.ToECDSA(key[:])
	if err != nil {
		return nil, fmt.Errorf("invalid derived key: %w", err)
	}

	pubkey := crypto.CompressPubkey(&priv.PublicKey)
	return &Identity{
		PrivateKey: priv,
		Pubkey:     pubkey,
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		AppID:      appID,
		CodeID:     interfaces.NewCodeIDFromAppID(appID),
		MemberID:   ComputeMemberID(pubkey),
		Purpose:    purpose,
	}, nil
}

// ComputeMemberID derives the registry's member identifier for a compressed
// public key. Deterministic: the same key always collides to the same id,
// which is what makes registration and onboarding idempotent.
func ComputeMemberID(compressedPubkey []byte) interfaces.MemberID {
	var id interfaces.MemberID
	copy(id[:], crypto.Keccak256(compressedPubkey))
	return id
}

// BuildProof assembles the registration proof for this identity from the two
// chain links returned by the dstack KMS. Both signatures are forwarded
// unmodified; the app pubkey is recovered from the first link so the contract
// can verify the chain against its KMS root.
func (id *Identity) BuildProof(material interfaces.KeyMaterial) (interfaces.AttestationProof, error) {
	appPubkey, err := RecoverAppPubkey(id.Purpose, id.Pubkey, material.AppSignature)
	if err != nil {
		return interfaces.AttestationProof{}, fmt.Errorf("could not recover app pubkey from chain link 0: %w", err)
	}

	messageHash := crypto.Keccak256Hash([]byte(RegisterMessage))

	// EIP-191 personal-message signing over the 32-byte message hash.
	ethHash := accounts.TextHash(messageHash.Bytes())
	messageSig, err := crypto.Sign(ethHash, id.PrivateKey)
	if err != nil {
		return interfaces.AttestationProof{}, fmt.Errorf("could not sign registration message: %w", err)
	}

	return interfaces.AttestationProof{
		MessageHash:      messageHash,
		MessageSignature: messageSig,
		AppSignature:     material.AppSignature,
		KmsSignature:     material.KmsSignature,
		DerivedPubkey:    id.Pubkey,
		AppPubkey:        appPubkey,
		Purpose:          id.Purpose,
	}, nil
}

// RecoverAppPubkey recovers the compressed app public key from the first
// chain link, a recovery signature over keccak("<purpose>:<hex pubkey>").
func RecoverAppPubkey(purpose string, derivedPubkey, appSignature []byte) ([]byte, error) {
	msg := fmt.Sprintf("%s:%s", purpose, hex.EncodeToString(derivedPubkey))
	msgHash := crypto.Keccak256([]byte(msg))

	pub, err := crypto.SigToPub(msgHash, normalizeV(appSignature))
	if err != nil {
		return nil, err
	}
	return crypto.CompressPubkey(pub), nil
}

// RecoverKMSSigner recovers the address that produced the second chain link,
// a signature over "dstack-kms-issued:" || appId || appPubkey. Callers log it
// next to the contract's expected KMS root; a mismatch is not rejected here.
func RecoverKMSSigner(appID interfaces.AppID, appPubkey, kmsSignature []byte) (common.Address, error) {
	msg := append([]byte("dstack-kms-issued:"), appID[:]...)
	msg = append(msg, appPubkey...)
	msgHash := crypto.Keccak256(msg)

	pub, err := crypto.SigToPub(msgHash, normalizeV(kmsSignature))
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalizeV maps a 27/28 recovery id to the 0/1 form SigToPub expects.
func normalizeV(sig []byte) []byte {
	if len(sig) != 65 || sig[64] < 27 {
		return sig
	}

	out := make([]byte, 65)
	copy(out, sig)
	out[64] -= 27
	return out
}
