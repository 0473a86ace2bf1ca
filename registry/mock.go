package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/ruteri/groupauth-agent/interfaces"
)

// MockRegistry mocks the interfaces.MembershipRegistry interface.
type MockRegistry struct {
	mock.Mock
}

// IsMember mocks the IsMember method.
func (m *MockRegistry) IsMember(ctx context.Context, id interfaces.MemberID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// GetMember mocks the GetMember method.
func (m *MockRegistry) GetMember(ctx context.Context, id interfaces.MemberID) (interfaces.MembershipRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(interfaces.MembershipRecord), args.Error(1)
}

// GetOnboarding mocks the GetOnboarding method.
func (m *MockRegistry) GetOnboarding(ctx context.Context, id interfaces.MemberID) ([]interfaces.OnboardingMessage, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]interfaces.OnboardingMessage), args.Error(1)
}

// Register mocks the Register method.
func (m *MockRegistry) Register(ctx context.Context, codeID interfaces.CodeID, proof interfaces.AttestationProof) (interfaces.MemberID, error) {
	args := m.Called(ctx, codeID, proof)
	return args.Get(0).(interfaces.MemberID), args.Error(1)
}

// Onboard mocks the Onboard method.
func (m *MockRegistry) Onboard(ctx context.Context, from, to interfaces.MemberID, encryptedPayload []byte) (*types.Receipt, error) {
	args := m.Called(ctx, from, to, encryptedPayload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

// PollEvents mocks the PollEvents method.
func (m *MockRegistry) PollEvents(ctx context.Context, fromBlock, toBlock uint64) ([]interfaces.MemberRegisteredEvent, error) {
	args := m.Called(ctx, fromBlock, toBlock)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.MemberRegisteredEvent), args.Error(1)
}

// CurrentBlock mocks the CurrentBlock method.
func (m *MockRegistry) CurrentBlock(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}
