// Package supervisor runs one CoreFacade per active pair, each pinned to
// its own goroutine, and keeps the set of running shards in sync with
// pair-registry changes observed on the Ledger event stream.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/tradeengine/internal/core"
	"github.com/terminal-bench/tradeengine/internal/escrow"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/settlement"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
)

// ScanInterval is how often a running shard calls ScanAndMatch between
// ledger-event-driven wakeups.
const ScanInterval = 200 * time.Millisecond

// ScanBudget bounds how many accepted proposals a single ScanAndMatch call
// produces before yielding, so one very liquid pair cannot starve its own command
// queue.
const ScanBudget = 64

// Shard owns one pair's CoreFacade and its scan loop.
type Shard struct {
	PairID uint64
	Facade *core.Facade

	cancel context.CancelFunc
}

// Supervisor owns the full set of running pair shards, a shared escrow
// ledger, and the single Ledger collaborator they all submit proposals
// through.
type Supervisor struct {
	registry *pairs.Registry
	escrow   *escrow.Ledger
	ledger   ledgerapi.Ledger
	cfg      settlement.Config

	mu     sync.Mutex
	shards map[uint64]*Shard
	group  *errgroup.Group
	gctx   context.Context
}

// New creates a supervisor that will lazily spin up a shard per pair on
// first EnsureShard call.
func New(registry *pairs.Registry, escrowLedger *escrow.Ledger, ledger ledgerapi.Ledger, cfg settlement.Config) *Supervisor {
	return &Supervisor{
		registry: registry,
		escrow:   escrowLedger,
		ledger:   ledger,
		cfg:      cfg,
		shards:   make(map[uint64]*Shard),
	}
}

// Start initializes the supervisor's errgroup against ctx. It must be
// called, and must return, before the first EnsureShard call — EnsureShard
// fails otherwise. Start itself never blocks; call Wait to block until
// every shard has exited.
func (s *Supervisor) Start(ctx context.Context) {
	group, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.group = group
	s.gctx = gctx
	s.mu.Unlock()
}

// Wait blocks until every running shard has exited, either because its
// context was cancelled or because one shard's scan loop returned a
// non-cancellation error (which cancels all the others via the group).
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	return group.Wait()
}

// EnsureShard starts a CoreFacade for pairID if one is not already running.
// It is idempotent: calling it twice for the same pair is a no-op the
// second time.
func (s *Supervisor) EnsureShard(pairID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shards[pairID]; exists {
		return nil
	}
	if s.group == nil {
		return fmt.Errorf("supervisor: EnsureShard called before Start")
	}

	facade := core.New(s.registry, s.escrow, s.ledger, s.cfg)
	shardCtx, cancel := context.WithCancel(s.gctx)
	shard := &Shard{PairID: pairID, Facade: facade, cancel: cancel}
	s.shards[pairID] = shard

	s.group.Go(func() error {
		return runScanLoop(shardCtx, pairID, facade)
	})
	return nil
}

// StopShard cancels a running shard's scan loop. The facade itself is left
// intact so in-flight commands already queued against it still complete;
// the caller is expected to drop its reference afterward.
func (s *Supervisor) StopShard(pairID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shard, ok := s.shards[pairID]
	if !ok {
		return
	}
	shard.cancel()
	delete(s.shards, pairID)
}

// Shard returns the running shard for a pair, if any.
func (s *Supervisor) Shard(pairID uint64) (*Shard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shard, ok := s.shards[pairID]
	return shard, ok
}

func runScanLoop(ctx context.Context, pairID uint64, facade *core.Facade) error {
	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := facade.ScanAndMatch(ctx, pairID, ScanBudget); err != nil {
				return fmt.Errorf("supervisor: pair %d scan: %w", pairID, err)
			}
		}
	}
}
