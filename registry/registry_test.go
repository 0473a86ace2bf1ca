package registry

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/groupauth-agent/interfaces"
)

// failingBackend errors on every backend call, standing in for a broken RPC
// connection during transaction submission.
type failingBackend struct {
	err error
}

func (f *failingBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, f.err
}

func (f *failingBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, f.err
}

func (f *failingBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, f.err
}

func (f *failingBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, f.err
}

func (f *failingBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, f.err
}

func (f *failingBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return nil, f.err
}

func (f *failingBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return nil, f.err
}

func (f *failingBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 0, f.err
}

func (f *failingBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return f.err
}

func (f *failingBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, f.err
}

func (f *failingBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, f.err
}

func (f *failingBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, f.err
}

func TestPollEventsInvertedRange(t *testing.T) {
	client, err := NewGroupAuthClient(nil, nil, common.Address{})
	require.NoError(t, err)

	// An inverted range must not touch the backend and must not error.
	events, err := client.PollEvents(context.Background(), 101, 100)
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func TestSortEventsRegistryOrder(t *testing.T) {
	events := []interfaces.MemberRegisteredEvent{
		{MemberID: interfaces.MemberID{0x03}, BlockNumber: 101, LogIndex: 0},
		{MemberID: interfaces.MemberID{0x02}, BlockNumber: 100, LogIndex: 5},
		{MemberID: interfaces.MemberID{0x01}, BlockNumber: 100, LogIndex: 2},
	}

	SortEvents(events)

	assert.Equal(t, interfaces.MemberID{0x01}, events[0].MemberID)
	assert.Equal(t, interfaces.MemberID{0x02}, events[1].MemberID)
	assert.Equal(t, interfaces.MemberID{0x03}, events[2].MemberID)
}

func TestMemberIDFromPubkey(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pubkey := crypto.CompressPubkey(&priv.PublicKey)

	id := memberIDFromPubkey(pubkey)

	var expected interfaces.MemberID
	copy(expected[:], crypto.Keccak256(pubkey))
	assert.Equal(t, expected, id)
	assert.Equal(t, id, memberIDFromPubkey(pubkey), "derivation is deterministic")
}

func TestTransactRequiresOpts(t *testing.T) {
	client, err := NewGroupAuthClient(nil, nil, common.Address{})
	require.NoError(t, err)

	_, err = client.Register(context.Background(), interfaces.CodeID{}, interfaces.AttestationProof{})
	assert.ErrorIs(t, err, ErrNoTransactOpts)

	_, err = client.Onboard(context.Background(), interfaces.MemberID{}, interfaces.MemberID{}, nil)
	assert.ErrorIs(t, err, ErrNoTransactOpts)

	_, err = client.AddAllowedCode(context.Background(), interfaces.CodeID{})
	assert.ErrorIs(t, err, ErrNoTransactOpts)
}

func TestSubmitFailureIsNotARevert(t *testing.T) {
	errSubmit := errors.New("rpc: connection refused")
	backend := &failingBackend{err: errSubmit}

	client, err := NewGroupAuthClient(backend, backend, common.Address{})
	require.NoError(t, err)
	client.SetTransactOpts(&bind.TransactOpts{
		From:     common.Address{0x01},
		Nonce:    big.NewInt(1),
		GasPrice: big.NewInt(1),
		GasLimit: 100_000,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			return tx, nil
		},
	})

	// A failure to reach the chain is a transport error, not a contract
	// decision: the revert sentinels stay reserved for mined receipts.
	_, err = client.Register(context.Background(), interfaces.CodeID{}, interfaces.AttestationProof{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errSubmit)
	assert.NotErrorIs(t, err, ErrRegistrationRejected)

	_, err = client.Onboard(context.Background(), interfaces.MemberID{}, interfaces.MemberID{}, []byte("payload"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errSubmit)
	assert.NotErrorIs(t, err, ErrTransactionReverted)

	_, err = client.AddAllowedCode(context.Background(), interfaces.CodeID{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errSubmit)
	assert.NotErrorIs(t, err, ErrTransactionReverted)
}
