// Package registry provides the agent's client for the on-chain GroupAuth
// membership contract: registration, onboarding transactions with bounded
// finality waits, membership reads, and registration event polling.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/groupauth-agent/bindings/groupauth"
	"github.com/ruteri/groupauth-agent/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted without first
// setting transaction options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

// ErrRegistrationRejected is returned when a mined registerDstack transaction
// is reverted by the contract: unknown code id, invalid signature chain, or a
// signature mismatch. Fatal to agent startup. Submit-side failures such as
// RPC connectivity are wrapped plainly and never carry this sentinel.
var ErrRegistrationRejected = errors.New("registration rejected by registry")

// ErrTransactionReverted is returned when an onboarding transaction is mined
// but rejected by the contract. Submit-side failures are wrapped plainly.
var ErrTransactionReverted = errors.New("transaction reverted")

// ErrTransactionTimeout is returned when a transaction is not confirmed
// within the client's wait budget.
var ErrTransactionTimeout = errors.New("transaction not confirmed within wait budget")

// DefaultWaitTimeout bounds how long the client waits for a transaction to be
// mined before giving up and letting the caller retry.
const DefaultWaitTimeout = 2 * time.Minute

// GroupAuthClient implements interfaces.MembershipRegistry against a GroupAuth
// contract deployed on an Ethereum-compatible chain.
type GroupAuthClient struct {
	contract *groupauth.GroupAuth
	client   bind.ContractBackend
	backend  bind.DeployBackend
	address  common.Address
	auth     *bind.TransactOpts

	waitTimeout time.Duration
}

// NewGroupAuthClient creates a new client for the GroupAuth contract at the
// specified address. It requires a ContractBackend for reading from the
// blockchain and a DeployBackend for waiting on transactions.
func NewGroupAuthClient(client bind.ContractBackend, backend bind.DeployBackend, address common.Address) (*GroupAuthClient, error) {
	contract, err := groupauth.NewGroupAuth(address, client)
	if err != nil {
		return nil, err
	}

	return &GroupAuthClient{
		contract:    contract,
		client:      client,
		backend:     backend,
		address:     address,
		waitTimeout: DefaultWaitTimeout,
	}, nil
}

// SetTransactOpts sets the transaction options required for functions that
// modify state. This must be called before Register or Onboard.
func (c *GroupAuthClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

// SetWaitTimeout overrides the default transaction wait budget.
func (c *GroupAuthClient) SetWaitTimeout(d time.Duration) {
	c.waitTimeout = d
}

// IsMember reports whether a member id is registered. Pure read.
func (c *GroupAuthClient) IsMember(ctx context.Context, id interfaces.MemberID) (bool, error) {
	return c.contract.IsMember(&bind.CallOpts{Context: ctx}, id)
}

// GetMember retrieves the membership record for a registered member.
func (c *GroupAuthClient) GetMember(ctx context.Context, id interfaces.MemberID) (interfaces.MembershipRecord, error) {
	member, err := c.contract.GetMember(&bind.CallOpts{Context: ctx}, id)
	if err != nil {
		return interfaces.MembershipRecord{}, err
	}

	return interfaces.MembershipRecord{
		CodeID:       member.CodeId,
		Pubkey:       member.Pubkey,
		RegisteredAt: member.RegisteredAt,
	}, nil
}

// GetOnboarding retrieves a member's onboarding inbox: every payload that has
// been encrypted to its public key so far.
func (c *GroupAuthClient) GetOnboarding(ctx context.Context, id interfaces.MemberID) ([]interfaces.OnboardingMessage, error) {
	msgs, err := c.contract.GetOnboarding(&bind.CallOpts{Context: ctx}, id)
	if err != nil {
		return nil, err
	}

	out := make([]interfaces.OnboardingMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, interfaces.OnboardingMessage{
			FromMember:       m.FromMember,
			EncryptedPayload: m.EncryptedPayload,
		})
	}
	return out, nil
}

// Register submits a registerDstack transaction and waits for it to be mined.
// A revert maps to ErrRegistrationRejected. Callers must check IsMember
// first; registering the same identity twice is a protocol error this client
// does not deduplicate.
func (c *GroupAuthClient) Register(ctx context.Context, codeID interfaces.CodeID, proof interfaces.AttestationProof) (interfaces.MemberID, error) {
	if c.auth == nil {
		return interfaces.MemberID{}, ErrNoTransactOpts
	}

	tx, err := c.contract.RegisterDstack(c.txOpts(ctx), codeID, groupauth.GroupAuthDstackProof{
		MessageHash:             proof.MessageHash,
		MessageSignature:        proof.MessageSignature,
		AppSignature:            proof.AppSignature,
		KmsSignature:            proof.KmsSignature,
		DerivedCompressedPubkey: proof.DerivedPubkey,
		AppCompressedPubkey:     proof.AppPubkey,
		Purpose:                 proof.Purpose,
	})
	if err != nil {
		return interfaces.MemberID{}, fmt.Errorf("could not submit registration: %w", err)
	}

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return interfaces.MemberID{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return interfaces.MemberID{}, fmt.Errorf("%w: tx %s, gas used %d", ErrRegistrationRejected, tx.Hash(), receipt.GasUsed)
	}

	memberID := memberIDFromPubkey(proof.DerivedPubkey)
	return memberID, nil
}

// Onboard submits an onboard transaction carrying the encrypted payload for a
// new member and blocks until it reaches finality or the wait budget is
// exhausted.
func (c *GroupAuthClient) Onboard(ctx context.Context, from, to interfaces.MemberID, encryptedPayload []byte) (*types.Receipt, error) {
	if c.auth == nil {
		return nil, ErrNoTransactOpts
	}

	tx, err := c.contract.Onboard(c.txOpts(ctx), from, to, encryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("could not submit onboarding: %w", err)
	}

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s, gas used %d", ErrTransactionReverted, tx.Hash(), receipt.GasUsed)
	}
	return receipt, nil
}

// AddAllowedCode submits an addAllowedCode governance transaction. Only used
// by the admin CLI; the contract restricts the call to its governance key.
func (c *GroupAuthClient) AddAllowedCode(ctx context.Context, codeID interfaces.CodeID) (*types.Receipt, error) {
	if c.auth == nil {
		return nil, ErrNoTransactOpts
	}

	tx, err := c.contract.AddAllowedCode(c.txOpts(ctx), codeID)
	if err != nil {
		return nil, fmt.Errorf("could not submit allowed-code update: %w", err)
	}

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrTransactionReverted, tx.Hash())
	}
	return receipt, nil
}

// PollEvents returns the MemberRegistered events observed in the inclusive
// block range [fromBlock, toBlock], ordered by block number and log index.
// An inverted range returns no events and no error.
func (c *GroupAuthClient) PollEvents(ctx context.Context, fromBlock, toBlock uint64) ([]interfaces.MemberRegisteredEvent, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	iter, err := c.contract.FilterMemberRegistered(&bind.FilterOpts{
		Start:   fromBlock,
		End:     &toBlock,
		Context: ctx,
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("could not filter registration events: %w", err)
	}
	defer iter.Close()

	var events []interfaces.MemberRegisteredEvent
	for iter.Next() {
		events = append(events, interfaces.MemberRegisteredEvent{
			MemberID:    iter.Event.MemberId,
			CodeID:      iter.Event.CodeId,
			Pubkey:      iter.Event.Pubkey,
			BlockNumber: iter.Event.Raw.BlockNumber,
			LogIndex:    iter.Event.Raw.Index,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("could not read registration events: %w", err)
	}

	SortEvents(events)
	return events, nil
}

// CurrentBlock returns the current chain head number.
func (c *GroupAuthClient) CurrentBlock(ctx context.Context) (uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not read chain head: %w", err)
	}
	return header.Number.Uint64(), nil
}

// SortEvents orders events by ascending block number, then ascending log
// index within a block. Registry order.
func SortEvents(events []interfaces.MemberRegisteredEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

// memberIDFromPubkey mirrors the contract's member id derivation:
// keccak256 of the compressed public key.
func memberIDFromPubkey(pubkey []byte) interfaces.MemberID {
	var id interfaces.MemberID
	copy(id[:], crypto.Keccak256(pubkey))
	return id
}

func (c *GroupAuthClient) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.auth
	opts.Context = ctx
	return &opts
}

func (c *GroupAuthClient) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: tx %s", ErrTransactionTimeout, tx.Hash())
		}
		return nil, fmt.Errorf("could not wait for tx %s: %w", tx.Hash(), err)
	}
	return receipt, nil
}
