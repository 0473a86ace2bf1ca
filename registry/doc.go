// Package registry implements the agent's view of the on-chain GroupAuth
// membership contract.
//
// The GroupAuthClient wraps the contract binding with the semantics the agent
// needs: registration and onboarding transactions block until the transaction
// is mined or a bounded wait budget runs out, reads are plain contract calls,
// and event polling returns MemberRegistered events in registry order
// (ascending block number, then ascending log index). An inverted poll range
// is not an error; it simply yields no events, which lets the watcher call it
// unconditionally.
//
// Failure taxonomy:
//
//   - ErrRegistrationRejected: the contract reverted registerDstack. Fatal to
//     startup, never retried.
//   - ErrTransactionReverted: an onboarding transaction was mined but
//     rejected. The watcher retries it by not advancing its watermark.
//   - ErrTransactionTimeout: the transaction was not confirmed within the
//     wait budget. Also retried via the watermark.
//
// MockRegistry provides a testify-based mock of the MembershipRegistry
// interface for tests in other packages.
package registry
