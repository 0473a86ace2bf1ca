package identity

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/groupauth-agent/interfaces"
)

func testAppID(t *testing.T) interfaces.AppID {
	t.Helper()
	appID, err := interfaces.NewAppIDFromHex("0x00112233445566778899aabbccddeeff00112233")
	require.NoError(t, err)
	return appID
}

func TestComputeMemberIDDeterministic(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pubkey := crypto.CompressPubkey(&priv.PublicKey)

	first := ComputeMemberID(pubkey)
	second := ComputeMemberID(pubkey)
	assert.Equal(t, first, second, "member id must be stable for a fixed pubkey")

	var expected interfaces.MemberID
	copy(expected[:], crypto.Keccak256(pubkey))
	assert.Equal(t, expected, first)
}

func TestNewIdentity(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	var key [32]byte
	copy(key[:], crypto.FromECDSA(priv))

	id, err := New(key, testAppID(t), DefaultPurpose)
	require.NoError(t, err)

	assert.Equal(t, crypto.PubkeyToAddress(priv.PublicKey), id.Address)
	assert.Equal(t, crypto.CompressPubkey(&priv.PublicKey), id.Pubkey)
	assert.Equal(t, ComputeMemberID(id.Pubkey), id.MemberID)

	// Code id is the 20-byte app id zero-extended to 32 bytes.
	appID := testAppID(t)
	assert.Equal(t, appID[:], id.CodeID[:20])
	assert.Equal(t, make([]byte, 12), id.CodeID[20:])
}

func TestNewIdentityRejectsZeroKey(t *testing.T) {
	_, err := New([32]byte{}, testAppID(t), DefaultPurpose)
	assert.Error(t, err)
}

func TestBuildProof(t *testing.T) {
	derivedPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	appPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	kmsPriv, err := crypto.GenerateKey()
	require.NoError(t, err)

	var key [32]byte
	copy(key[:], crypto.FromECDSA(derivedPriv))

	id, err := New(key, testAppID(t), DefaultPurpose)
	require.NoError(t, err)

	// First chain link signs "<purpose>:<hex derived pubkey>".
	appMsg := fmt.Sprintf("%s:%s", DefaultPurpose, hex.EncodeToString(id.Pubkey))
	appSig, err := crypto.Sign(crypto.Keccak256([]byte(appMsg)), appPriv)
	require.NoError(t, err)

	// Second chain link signs "dstack-kms-issued:" || appId || appPubkey.
	appPubkey := crypto.CompressPubkey(&appPriv.PublicKey)
	appID := testAppID(t)
	kmsMsg := append([]byte("dstack-kms-issued:"), appID[:]...)
	kmsMsg = append(kmsMsg, appPubkey...)
	kmsSig, err := crypto.Sign(crypto.Keccak256(kmsMsg), kmsPriv)
	require.NoError(t, err)

	proof, err := id.BuildProof(interfaces.KeyMaterial{
		Key:          key,
		AppSignature: appSig,
		KmsSignature: kmsSig,
	})
	require.NoError(t, err)

	assert.Equal(t, [32]byte(crypto.Keccak256Hash([]byte(RegisterMessage))), proof.MessageHash)
	assert.Equal(t, id.Pubkey, proof.DerivedPubkey)
	assert.Equal(t, appPubkey, proof.AppPubkey, "recovered app pubkey must match the chain link signer")
	assert.Equal(t, appSig, proof.AppSignature)
	assert.Equal(t, kmsSig, proof.KmsSignature)
	assert.Equal(t, DefaultPurpose, proof.Purpose)

	// The message signature is an EIP-191 personal signature over the hash.
	recovered, err := crypto.SigToPub(accounts.TextHash(proof.MessageHash[:]), proof.MessageSignature)
	require.NoError(t, err)
	assert.Equal(t, id.Pubkey, crypto.CompressPubkey(recovered))

	// The KMS signer cross-check recovers the second link's key.
	signer, err := RecoverKMSSigner(appID, proof.AppPubkey, kmsSig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(kmsPriv.PublicKey), signer)
}

func TestBuildProofMalformedAppSignature(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	var key [32]byte
	copy(key[:], crypto.FromECDSA(priv))

	id, err := New(key, testAppID(t), DefaultPurpose)
	require.NoError(t, err)

	_, err = id.BuildProof(interfaces.KeyMaterial{
		Key:          key,
		AppSignature: []byte{0x01, 0x02, 0x03},
		KmsSignature: make([]byte, 65),
	})
	assert.Error(t, err, "unrecoverable app signature must fail proof assembly")
}

func TestRecoverAppPubkeyLegacyRecoveryID(t *testing.T) {
	derivedPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	appPriv, err := crypto.GenerateKey()
	require.NoError(t, err)

	derivedPubkey := crypto.CompressPubkey(&derivedPriv.PublicKey)
	appMsg := fmt.Sprintf("%s:%s", DefaultPurpose, hex.EncodeToString(derivedPubkey))
	sig, err := crypto.Sign(crypto.Keccak256([]byte(appMsg)), appPriv)
	require.NoError(t, err)

	// Some signers emit v as 27/28 instead of 0/1.
	legacy := make([]byte, 65)
	copy(legacy, sig)
	legacy[64] += 27

	recovered, err := RecoverAppPubkey(DefaultPurpose, derivedPubkey, legacy)
	require.NoError(t, err)
	assert.Equal(t, crypto.CompressPubkey(&appPriv.PublicKey), recovered)
}
