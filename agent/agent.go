// Package agent wires the GroupAuth agent together: identity derivation from
// the dstack guest KMS, proof assembly, idempotent on-chain registration, and
// the onboarding watcher. All initialization failure modes are returned as
// errors from New; there are no network side effects at package init.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ruteri/groupauth-agent/dstack"
	"github.com/ruteri/groupauth-agent/identity"
	"github.com/ruteri/groupauth-agent/interfaces"
	"github.com/ruteri/groupauth-agent/metrics"
	"github.com/ruteri/groupauth-agent/registry"
	"github.com/ruteri/groupauth-agent/watcher"
)

// Config collects everything the agent needs, loaded once at startup and
// immutable thereafter.
type Config struct {
	RPCAddr        string
	ContractAddr   common.Address
	DstackEndpoint string
	KeyPath        string
	Purpose        string
	Secret         []byte
	PollInterval   time.Duration
	WaitTimeout    time.Duration
	Log            *slog.Logger
	Metrics        *metrics.Metrics
}

// Agent is a fully constructed GroupAuth agent: registered identity plus the
// onboarding watcher.
type Agent struct {
	Identity *identity.Identity
	Registry *registry.GroupAuthClient
	Watcher  *watcher.Watcher

	log *slog.Logger
}

// New derives the agent's identity, registers it on the GroupAuth contract if
// needed, and returns the agent ready to run. Any failure here is fatal to
// startup: an agent without a valid registered identity cannot participate.
func New(ctx context.Context, cfg Config) (*Agent, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	log.Info("Connecting to dstack guest agent", "endpoint", cfg.DstackEndpoint)
	provider := dstack.NewClient(cfg.DstackEndpoint)

	id, proof, err := Bootstrap(ctx, provider, cfg.KeyPath, cfg.Purpose, log)
	if err != nil {
		return nil, err
	}

	log.Info("Connecting to RPC", "address", cfg.RPCAddr)
	ethClient, err := ethclient.Dial(cfg.RPCAddr)
	if err != nil {
		return nil, fmt.Errorf("could not dial RPC: %w", err)
	}

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(id.PrivateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("could not create transactor: %w", err)
	}

	reg, err := registry.NewGroupAuthClient(ethClient, ethClient, cfg.ContractAddr)
	if err != nil {
		return nil, fmt.Errorf("could not create registry client: %w", err)
	}
	reg.SetTransactOpts(auth)
	if cfg.WaitTimeout > 0 {
		reg.SetWaitTimeout(cfg.WaitTimeout)
	}

	if err := EnsureRegistered(ctx, reg, id, proof, log); err != nil {
		return nil, err
	}

	w := watcher.New(watcher.Config{
		Registry:     reg,
		Self:         id.MemberID,
		SelfAddress:  id.Address.Hex(),
		AppID:        id.AppID,
		Secret:       cfg.Secret,
		PollInterval: cfg.PollInterval,
		Log:          log,
		Metrics:      cfg.Metrics,
	})

	return &Agent{
		Identity: id,
		Registry: reg,
		Watcher:  w,
		log:      log,
	}, nil
}

// Bootstrap derives the agent identity from the key provider and assembles
// the registration proof. It runs strictly before any ledger interaction, so
// a malformed signature chain aborts startup without touching the chain.
func Bootstrap(ctx context.Context, provider interfaces.KeyProvider, keyPath, purpose string, log *slog.Logger) (*identity.Identity, interfaces.AttestationProof, error) {
	appID, err := provider.AppInfo(ctx)
	if err != nil {
		return nil, interfaces.AttestationProof{}, fmt.Errorf("could not read app info: %w", err)
	}
	log.Info("App instance identified", "appId", appID)

	material, err := provider.DeriveKey(ctx, keyPath, purpose)
	if err != nil {
		return nil, interfaces.AttestationProof{}, fmt.Errorf("could not derive identity key: %w", err)
	}

	id, err := identity.New(material.Key, appID, purpose)
	if err != nil {
		return nil, interfaces.AttestationProof{}, err
	}
	log.Info("Identity derived", "address", id.Address, "memberId", id.MemberID)

	proof, err := id.BuildProof(material)
	if err != nil {
		return nil, interfaces.AttestationProof{}, err
	}

	// Manual cross-check material only: chain validity is enforced by the
	// contract, not here.
	if signer, err := identity.RecoverKMSSigner(appID, proof.AppPubkey, material.KmsSignature); err != nil {
		log.Warn("Could not recover KMS signer from chain link 1", "err", err)
	} else {
		log.Info("Signature chain assembled",
			"kmsSigner", signer,
			"appPubkey", fmt.Sprintf("%x", proof.AppPubkey),
			"derivedPubkey", fmt.Sprintf("%x", proof.DerivedPubkey),
			"codeId", id.CodeID)
	}

	return id, proof, nil
}

// EnsureRegistered registers the identity on the contract unless it is
// already a member. Checking membership first keeps the startup sequence
// idempotent: a restarted agent never submits a second registration.
func EnsureRegistered(ctx context.Context, reg interfaces.MembershipRegistry, id *identity.Identity, proof interfaces.AttestationProof, log *slog.Logger) error {
	member, err := reg.IsMember(ctx, id.MemberID)
	if err != nil {
		return fmt.Errorf("could not check membership: %w", err)
	}
	if member {
		log.Info("Already registered", "memberId", id.MemberID)
		return nil
	}

	log.Info("Registering on GroupAuth", "memberId", id.MemberID, "codeId", id.CodeID)
	memberID, err := reg.Register(ctx, id.CodeID, proof)
	if err != nil {
		return err
	}

	log.Info("Registered", "memberId", memberID)
	return nil
}

// Run starts the onboarding loop and blocks until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	return a.Watcher.Run(ctx)
}
