// Package groupauth contains a hand-maintained binding for the GroupAuth
// membership contract. The binding follows the abigen conventions (metadata,
// typed call/transact wrappers, event iterator) but only covers the entry
// points the agent and the admin CLI use.
package groupauth

import (
	"errors"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// GroupAuthDstackProof mirrors the contract's dstack registration proof tuple.
type GroupAuthDstackProof struct {
	MessageHash             [32]byte
	MessageSignature        []byte
	AppSignature            []byte
	KmsSignature            []byte
	DerivedCompressedPubkey []byte
	AppCompressedPubkey     []byte
	Purpose                 string
}

// GroupAuthMember mirrors the contract's member record.
type GroupAuthMember struct {
	CodeId       [32]byte
	Pubkey       []byte
	RegisteredAt *big.Int
}

// GroupAuthOnboardingMessage mirrors one entry of the onboarding inbox.
type GroupAuthOnboardingMessage struct {
	FromMember       [32]byte
	EncryptedPayload []byte
}

// GroupAuthMetaData contains all meta data concerning the GroupAuth contract.
var GroupAuthMetaData = &bind.MetaData{
	ABI: `[
  {"inputs":[{"name":"codeId","type":"bytes32"}],"name":"addAllowedCode","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"codeId","type":"bytes32"},{"components":[{"name":"messageHash","type":"bytes32"},{"name":"messageSignature","type":"bytes"},{"name":"appSignature","type":"bytes"},{"name":"kmsSignature","type":"bytes"},{"name":"derivedCompressedPubkey","type":"bytes"},{"name":"appCompressedPubkey","type":"bytes"},{"name":"purpose","type":"string"}],"name":"dstackProof","type":"tuple"}],"name":"registerDstack","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"fromMemberId","type":"bytes32"},{"name":"toMemberId","type":"bytes32"},{"name":"encryptedPayload","type":"bytes"}],"name":"onboard","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"memberId","type":"bytes32"}],"name":"isMember","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"memberId","type":"bytes32"}],"name":"getMember","outputs":[{"name":"codeId","type":"bytes32"},{"name":"pubkey","type":"bytes"},{"name":"registeredAt","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"memberId","type":"bytes32"}],"name":"getOnboarding","outputs":[{"components":[{"name":"fromMember","type":"bytes32"},{"name":"encryptedPayload","type":"bytes"}],"name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"memberId","type":"bytes32"},{"indexed":true,"name":"codeId","type":"bytes32"},{"indexed":false,"name":"pubkey","type":"bytes"}],"name":"MemberRegistered","type":"event"}
]`,
}

// GroupAuthABI is the input ABI used to generate the binding from.
var GroupAuthABI = GroupAuthMetaData.ABI

// GroupAuth is a Go binding around the GroupAuth contract.
type GroupAuth struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

// NewGroupAuth creates a new instance of GroupAuth, bound to a specific
// deployed contract.
func NewGroupAuth(address common.Address, backend bind.ContractBackend) (*GroupAuth, error) {
	parsed, err := abi.JSON(strings.NewReader(GroupAuthABI))
	if err != nil {
		return nil, err
	}

	return &GroupAuth{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the contract address the binding is bound to.
func (ga *GroupAuth) Address() common.Address {
	return ga.address
}

// IsMember is a free data retrieval call binding the contract method isMember.
func (ga *GroupAuth) IsMember(opts *bind.CallOpts, memberId [32]byte) (bool, error) {
	var out []interface{}
	err := ga.contract.Call(opts, &out, "isMember", memberId)
	if err != nil {
		return false, err
	}

	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GetMember is a free data retrieval call binding the contract method getMember.
func (ga *GroupAuth) GetMember(opts *bind.CallOpts, memberId [32]byte) (GroupAuthMember, error) {
	var out []interface{}
	err := ga.contract.Call(opts, &out, "getMember", memberId)
	if err != nil {
		return GroupAuthMember{}, err
	}

	return GroupAuthMember{
		CodeId:       *abi.ConvertType(out[0], new([32]byte)).(*[32]byte),
		Pubkey:       *abi.ConvertType(out[1], new([]byte)).(*[]byte),
		RegisteredAt: *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
	}, nil
}

// GetOnboarding is a free data retrieval call binding the contract method getOnboarding.
func (ga *GroupAuth) GetOnboarding(opts *bind.CallOpts, memberId [32]byte) ([]GroupAuthOnboardingMessage, error) {
	var out []interface{}
	err := ga.contract.Call(opts, &out, "getOnboarding", memberId)
	if err != nil {
		return nil, err
	}

	return *abi.ConvertType(out[0], new([]GroupAuthOnboardingMessage)).(*[]GroupAuthOnboardingMessage), nil
}

// RegisterDstack is a paid mutator transaction binding the contract method registerDstack.
func (ga *GroupAuth) RegisterDstack(opts *bind.TransactOpts, codeId [32]byte, dstackProof GroupAuthDstackProof) (*types.Transaction, error) {
	return ga.contract.Transact(opts, "registerDstack", codeId, dstackProof)
}

// Onboard is a paid mutator transaction binding the contract method onboard.
func (ga *GroupAuth) Onboard(opts *bind.TransactOpts, fromMemberId, toMemberId [32]byte, encryptedPayload []byte) (*types.Transaction, error) {
	return ga.contract.Transact(opts, "onboard", fromMemberId, toMemberId, encryptedPayload)
}

// AddAllowedCode is a paid mutator transaction binding the contract method addAllowedCode.
func (ga *GroupAuth) AddAllowedCode(opts *bind.TransactOpts, codeId [32]byte) (*types.Transaction, error) {
	return ga.contract.Transact(opts, "addAllowedCode", codeId)
}

// GroupAuthMemberRegistered represents a MemberRegistered event raised by the
// GroupAuth contract.
type GroupAuthMemberRegistered struct {
	MemberId [32]byte
	CodeId   [32]byte
	Pubkey   []byte
	Raw      types.Log
}

// GroupAuthMemberRegisteredIterator is returned from FilterMemberRegistered
// and is used to iterate over the raw logs and unpacked data for
// MemberRegistered events raised by the GroupAuth contract.
type GroupAuthMemberRegisteredIterator struct {
	Event *GroupAuthMemberRegistered

	contract *bind.BoundContract
	event    string

	logs chan types.Log
	sub  ethereum.Subscription
	done bool
	fail error
}

// Next advances the iterator to the subsequent event, returning whether there
// are any more events found.
func (it *GroupAuthMemberRegisteredIterator) Next() bool {
	if it.fail != nil {
		return false
	}

	if it.done {
		select {
		case log := <-it.logs:
			it.Event = new(GroupAuthMemberRegistered)
			if err := it.contract.UnpackLog(it.Event, it.event, log); err != nil {
				it.fail = err
				return false
			}
			it.Event.Raw = log
			return true

		default:
			return false
		}
	}

	select {
	case log := <-it.logs:
		it.Event = new(GroupAuthMemberRegistered)
		if err := it.contract.UnpackLog(it.Event, it.event, log); err != nil {
			it.fail = err
			return false
		}
		it.Event.Raw = log
		return true

	case err := <-it.sub.Err():
		it.done = true
		it.fail = err
		return it.Next()
	}
}

// Error returns any retrieval or parsing error occurred during filtering.
func (it *GroupAuthMemberRegisteredIterator) Error() error {
	return it.fail
}

// Close terminates the iteration process, releasing any pending underlying
// resources.
func (it *GroupAuthMemberRegisteredIterator) Close() error {
	it.sub.Unsubscribe()
	return nil
}

// FilterMemberRegistered retrieves MemberRegistered events from a block range,
// optionally filtered by the indexed memberId and codeId topics.
func (ga *GroupAuth) FilterMemberRegistered(opts *bind.FilterOpts, memberId [][32]byte, codeId [][32]byte) (*GroupAuthMemberRegisteredIterator, error) {
	var memberIdRule []interface{}
	for _, id := range memberId {
		memberIdRule = append(memberIdRule, id)
	}
	var codeIdRule []interface{}
	for _, id := range codeId {
		codeIdRule = append(codeIdRule, id)
	}

	logs, sub, err := ga.contract.FilterLogs(opts, "MemberRegistered", memberIdRule, codeIdRule)
	if err != nil {
		return nil, err
	}

	return &GroupAuthMemberRegisteredIterator{
		contract: ga.contract,
		event:    "MemberRegistered",
		logs:     logs,
		sub:      sub,
	}, nil
}

// ParseMemberRegistered is a log parse operation binding the contract event
// MemberRegistered.
func (ga *GroupAuth) ParseMemberRegistered(log types.Log) (*GroupAuthMemberRegistered, error) {
	if len(log.Topics) == 0 {
		return nil, errors.New("event signature missing")
	}

	evt := new(GroupAuthMemberRegistered)
	if err := ga.contract.UnpackLog(evt, "MemberRegistered", log); err != nil {
		return nil, err
	}
	evt.Raw = log
	return evt, nil
}

// PackMemberRegisteredData ABI-encodes the non-indexed fields of a
// MemberRegistered event. Used by tests to construct synthetic logs.
func (ga *GroupAuth) PackMemberRegisteredData(pubkey []byte) ([]byte, error) {
	return ga.abi.Events["MemberRegistered"].Inputs.NonIndexed().Pack(pubkey)
}

// MemberRegisteredTopic returns the event signature topic for MemberRegistered.
func (ga *GroupAuth) MemberRegisteredTopic() common.Hash {
	return ga.abi.Events["MemberRegistered"].ID
}
