// Package watcher implements the agent's steady-state control loop. It polls
// the registry for newly registered members, deduplicates against members it
// has already onboarded, encrypts the group secret to each newcomer's public
// key and submits the onboarding transaction.
//
// Delivery semantics: at-least-once per member. The watermark only advances
// past a block once every event in it has been processed or explicitly
// classified as self or duplicate; a failed transaction rolls the watermark
// back to the last fully processed block so the event is re-scanned on the
// next tick, and a member skipped for a malformed key pins the watermark
// below its block so it is re-scanned until the key parses. The dedup set
// turns the retries into exactly one successful onboarding per peer.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/ruteri/groupauth-agent/cryptoutils"
	"github.com/ruteri/groupauth-agent/interfaces"
	"github.com/ruteri/groupauth-agent/metrics"
)

// DefaultPollInterval matches the target chain's block cadence.
const DefaultPollInterval = 12 * time.Second

// State is the watcher's mutable state, owned exclusively by the watcher
// task. It is passed explicitly through each tick so the transition function
// can be unit tested without process-global fixtures.
type State struct {
	// LastSeenBlock is the highest block fully processed by the loop.
	LastSeenBlock uint64

	// Onboarded is the set of member ids this agent has successfully
	// onboarded. Grows monotonically, never persisted across restarts.
	Onboarded map[interfaces.MemberID]struct{}
}

// NewState creates the initial watcher state anchored at the given chain head.
func NewState(head uint64) *State {
	return &State{
		LastSeenBlock: head,
		Onboarded:     make(map[interfaces.MemberID]struct{}),
	}
}

// Status is an immutable snapshot published after each tick. The HTTP
// reporter only ever reads the latest snapshot, never the live state.
type Status struct {
	Status         string `json:"status"`
	MemberID       string `json:"memberId"`
	Address        string `json:"address"`
	AppID          string `json:"app_id"`
	OnboardedCount int    `json:"onboarded_count"`
	LastSeenBlock  uint64 `json:"last_seen_block"`
}

// Config collects the watcher's collaborators and parameters.
type Config struct {
	Registry interfaces.MembershipRegistry

	// Self identifies this agent; events carrying it are never onboarded.
	Self        interfaces.MemberID
	SelfAddress string
	AppID       interfaces.AppID

	// Secret is the shared group secret propagated to new members.
	Secret []byte

	PollInterval time.Duration
	Log          *slog.Logger
	Metrics      *metrics.Metrics
}

// Watcher runs the onboarding loop. Single-threaded and cooperative: one poll
// tick is fully processed before the next begins.
type Watcher struct {
	registry interfaces.MembershipRegistry
	self     interfaces.MemberID
	selfAddr string
	appID    interfaces.AppID
	secret   []byte
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	status atomic.Pointer[Status]
}

// New creates a watcher from the given configuration.
func New(cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	w := &Watcher{
		registry: cfg.Registry,
		self:     cfg.Self,
		selfAddr: cfg.SelfAddress,
		appID:    cfg.AppID,
		secret:   cfg.Secret,
		interval: cfg.PollInterval,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}
	w.status.Store(&Status{
		Status:   "starting",
		MemberID: cfg.Self.String(),
		Address:  cfg.SelfAddress,
		AppID:    cfg.AppID.String(),
	})
	return w
}

// Status returns the latest published snapshot.
func (w *Watcher) Status() *Status {
	return w.status.Load()
}

// Run executes the watch loop until the context is cancelled. The initial
// watermark is the chain head at startup: registrations that happened while
// the agent was down are not replayed.
func (w *Watcher) Run(ctx context.Context) error {
	head, err := w.registry.CurrentBlock(ctx)
	if err != nil {
		return err
	}

	st := NewState(head)
	w.log.Info("Watching for member registrations", "fromBlock", head, "interval", w.interval)
	w.publish(st)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Watcher stopped", "lastSeenBlock", st.LastSeenBlock, "onboarded", len(st.Onboarded))
			return ctx.Err()
		case <-ticker.C:
			if err := w.Tick(ctx, st); err != nil {
				// Individual failures never crash the loop; the watermark
				// ensures the failed range is re-scanned next tick.
				w.log.Warn("Poll tick failed", "err", err, "lastSeenBlock", st.LastSeenBlock)
			}
			w.publish(st)
		}
	}
}

// Tick runs a single poll transition against the given state. The watermark
// advances to the polled head only if every event in the range was onboarded
// or classified as self or duplicate; otherwise it stops just before the
// first block still holding unfinished work.
func (w *Watcher) Tick(ctx context.Context, st *State) error {
	if w.metrics != nil {
		w.metrics.PollTicks.Inc()
	}

	current, err := w.registry.CurrentBlock(ctx)
	if err != nil {
		w.countPollFailure()
		return err
	}
	if current <= st.LastSeenBlock {
		return nil
	}

	events, err := w.registry.PollEvents(ctx, st.LastSeenBlock+1, current)
	if err != nil {
		w.countPollFailure()
		return err
	}

	// First block holding a member skipped for a malformed key, 0 if none.
	// The watermark stops short of it so the member is re-scanned every
	// tick until the key parses; the dedup set keeps the re-scans from
	// re-sending to members onboarded later in the range.
	var lowestSkipped uint64

	for _, evt := range events {
		if evt.MemberID == w.self {
			continue
		}
		if _, done := st.Onboarded[evt.MemberID]; done {
			continue
		}

		skipped, err := w.onboardMember(ctx, st, evt)
		if err != nil {
			// Roll the watermark back to the last block fully processed so
			// this event is retried; everything before it stays settled.
			target := evt.BlockNumber
			if lowestSkipped > 0 && lowestSkipped < target {
				target = lowestSkipped
			}
			if target > 0 && target-1 > st.LastSeenBlock {
				st.LastSeenBlock = target - 1
			}
			return err
		}
		if skipped && (lowestSkipped == 0 || evt.BlockNumber < lowestSkipped) {
			lowestSkipped = evt.BlockNumber
		}
	}

	next := current
	if lowestSkipped > 0 && lowestSkipped-1 < next {
		next = lowestSkipped - 1
	}
	if next > st.LastSeenBlock {
		st.LastSeenBlock = next
	}
	return nil
}

// onboardMember encrypts the group secret to a newly registered member and
// submits the onboarding transaction. A malformed recipient key reports a
// skip instead of an error: the member never enters the dedup set and never
// blocks the rest of the range, and the caller keeps its block in scan range
// so the member is onboarded once the registered key parses.
func (w *Watcher) onboardMember(ctx context.Context, st *State, evt interfaces.MemberRegisteredEvent) (skipped bool, err error) {
	w.log.Info("New member registered", "memberId", evt.MemberID, "block", evt.BlockNumber)

	record, err := w.registry.GetMember(ctx, evt.MemberID)
	if err != nil {
		return false, err
	}

	payload, err := cryptoutils.EncryptToPubkey(record.Pubkey, w.secret)
	if err != nil {
		if errors.Is(err, cryptoutils.ErrMalformedPubkey) {
			w.log.Error("Skipping member with malformed pubkey", "memberId", evt.MemberID, "err", err)
			if w.metrics != nil {
				w.metrics.EncryptionFailures.Inc()
			}
			return true, nil
		}
		return false, err
	}

	receipt, err := w.registry.Onboard(ctx, w.self, evt.MemberID, payload)
	if err != nil {
		if w.metrics != nil {
			w.metrics.OnboardFailures.Inc()
		}
		return false, err
	}

	st.Onboarded[evt.MemberID] = struct{}{}
	if w.metrics != nil {
		w.metrics.OnboardSubmitted.Inc()
	}
	w.log.Info("Onboarded member", "memberId", evt.MemberID, "tx", receipt.TxHash)
	return false, nil
}

func (w *Watcher) publish(st *State) {
	w.status.Store(&Status{
		Status:         "ok",
		MemberID:       w.self.String(),
		Address:        w.selfAddr,
		AppID:          w.appID.String(),
		OnboardedCount: len(st.Onboarded),
		LastSeenBlock:  st.LastSeenBlock,
	})

	if w.metrics != nil {
		w.metrics.OnboardedMembers.Set(float64(len(st.Onboarded)))
		w.metrics.LastSeenBlock.Set(float64(st.LastSeenBlock))
	}
}

func (w *Watcher) countPollFailure() {
	if w.metrics != nil {
		w.metrics.PollFailures.Inc()
	}
}
