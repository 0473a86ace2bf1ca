// Package interfaces defines the core interfaces and types for the GroupAuth
// agent. It provides the contract between different components without
// implementation details.
package interfaces

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// MemberID is the registry's primary key for a member: the keccak256 hash of
// the member's compressed secp256k1 public key.
type MemberID [32]byte

// NewMemberIDFromBytes creates a member id from a raw 32-byte slice.
func NewMemberIDFromBytes(b []byte) (MemberID, error) {
	if len(b) != 32 {
		return MemberID{}, errors.New("invalid member id length: must be 32 bytes")
	}

	var id MemberID
	copy(id[:], b)
	return id, nil
}

// NewMemberIDFromHex creates a member id from a hex string, with or without a
// 0x prefix.
func NewMemberIDFromHex(s string) (MemberID, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 64 {
		return MemberID{}, errors.New("invalid member id length: hex string must be 64 characters")
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return MemberID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewMemberIDFromBytes(b)
}

// String returns the 0x-prefixed hex representation of the member id.
func (id MemberID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte member id.
func (id MemberID) Bytes() []byte {
	return id[:]
}

// CodeID identifies the exact code measurement that produced an identity. For
// dstack registrations it is the 20-byte app id right-padded with zeros.
type CodeID [32]byte

// NewCodeIDFromAppID derives a code id by zero-extending a 20-byte app id.
func NewCodeIDFromAppID(appID AppID) CodeID {
	var code CodeID
	copy(code[:20], appID[:])
	return code
}

// String returns the 0x-prefixed hex representation of the code id.
func (c CodeID) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

// AppID is the dstack application instance identifier.
type AppID [20]byte

// NewAppIDFromHex parses an app id from a hex string, with or without a 0x
// prefix.
func NewAppIDFromHex(s string) (AppID, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 40 {
		return AppID{}, errors.New("invalid app id length: hex string must be 40 characters")
	}

	b, err := hex.DecodeString(clean)
	if err != nil {
		return AppID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id AppID
	copy(id[:], b)
	return id, nil
}

// String returns the 0x-prefixed hex representation of the app id.
func (id AppID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// AttestationProof is the registration proof submitted to the GroupAuth
// contract. It carries the two-link signature chain from the dstack KMS
// together with the identity material. Constructed once per agent lifetime
// and immutable thereafter; the agent forwards the chain signatures without
// interpreting them.
type AttestationProof struct {
	MessageHash      [32]byte
	MessageSignature []byte
	AppSignature     []byte
	KmsSignature     []byte
	DerivedPubkey    []byte
	AppPubkey        []byte
	Purpose          string
}

// MembershipRecord is the ledger-resident record for a registered member,
// read-only from the agent's perspective.
type MembershipRecord struct {
	CodeID       CodeID
	Pubkey       []byte
	RegisteredAt *big.Int
}

// MemberRegisteredEvent is a registration event observed on the ledger.
// Events are ordered by (BlockNumber, LogIndex).
type MemberRegisteredEvent struct {
	MemberID    MemberID
	CodeID      CodeID
	Pubkey      []byte
	BlockNumber uint64
	LogIndex    uint
}

// OnboardingMessage is one entry of a member's onboarding inbox: the sender
// and the payload encrypted to the recipient's public key.
type OnboardingMessage struct {
	FromMember       MemberID
	EncryptedPayload []byte
}

// MembershipRegistry is the agent's view of the on-chain GroupAuth contract.
type MembershipRegistry interface {
	IsMember(ctx context.Context, id MemberID) (bool, error)
	GetMember(ctx context.Context, id MemberID) (MembershipRecord, error)
	GetOnboarding(ctx context.Context, id MemberID) ([]OnboardingMessage, error)
	Register(ctx context.Context, codeID CodeID, proof AttestationProof) (MemberID, error)
	Onboard(ctx context.Context, from, to MemberID, encryptedPayload []byte) (*types.Receipt, error)
	PollEvents(ctx context.Context, fromBlock, toBlock uint64) ([]MemberRegisteredEvent, error)
	CurrentBlock(ctx context.Context) (uint64, error)
}

// KeyMaterial is the result of a dstack key derivation: a 32-byte private
// scalar plus the two-link signature chain proving its provenance.
type KeyMaterial struct {
	Key          [32]byte
	AppSignature []byte
	KmsSignature []byte
}

// KeyProvider derives attested keys for this agent instance. Implemented by
// the dstack guest client.
type KeyProvider interface {
	AppInfo(ctx context.Context) (AppID, error)
	DeriveKey(ctx context.Context, path, purpose string) (KeyMaterial, error)
}
