// Package cursorstore persists each pair-core's ledger event replay cursor
// in etcd, and uses an etcd lease to guarantee at most one supervisor shard
// owns a given pair at a time. The pack's chaos tests exercise etcd leader
// failover against a distributed lock; this package is the real lock and
// cursor store that scenario was written against.
package cursorstore

import (
	"context"
	"fmt"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	cursorPrefix = "tradeengine/cursor/"
	lockPrefix   = "tradeengine/lock/pair/"
	leaseTTLSecs = 10
)

// Store wraps an etcd client for cursor persistence and pair ownership
// leases.
type Store struct {
	client *clientv3.Client
}

// New wraps an already-connected etcd client.
func New(client *clientv3.Client) *Store {
	return &Store{client: client}
}

func cursorKey(pairID uint64) string {
	return fmt.Sprintf("%s%d", cursorPrefix, pairID)
}

// LoadCursor returns the last durably-committed sequence for a pair, or 0
// if none has ever been saved (a cold start that must replay from the
// beginning).
func (s *Store) LoadCursor(ctx context.Context, pairID uint64) (uint64, error) {
	resp, err := s.client.Get(ctx, cursorKey(pairID))
	if err != nil {
		return 0, fmt.Errorf("cursorstore: get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	seq, err := strconv.ParseUint(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cursorstore: parse cursor: %w", err)
	}
	return seq, nil
}

// SaveCursor durably records that every event up to and including sequence
// has been applied for a pair.
func (s *Store) SaveCursor(ctx context.Context, pairID uint64, sequence uint64) error {
	_, err := s.client.Put(ctx, cursorKey(pairID), strconv.FormatUint(sequence, 10))
	if err != nil {
		return fmt.Errorf("cursorstore: put: %w", err)
	}
	return nil
}

// PairLease is a held ownership lease over a single pair's shard. Release
// must be called to give up ownership before the TTL would otherwise expire
// it, and the lease is lost entirely (ownership reverts to "unheld") if the
// process holding it dies without calling Release.
type PairLease struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
	pairID  uint64
}

// AcquirePairLease blocks until it obtains exclusive ownership of pairID,
// backed by an etcd lease with leaseTTLSecs TTL kept alive by the session's
// background keepalive. Losing the underlying etcd connection for longer
// than the TTL releases ownership automatically, so a supervisor observing
// ctx cancellation on the session should stop driving that pair's core.
func (s *Store) AcquirePairLease(ctx context.Context, pairID uint64) (*PairLease, error) {
	session, err := concurrency.NewSession(s.client, concurrency.WithTTL(leaseTTLSecs))
	if err != nil {
		return nil, fmt.Errorf("cursorstore: new session: %w", err)
	}

	key := fmt.Sprintf("%s%d", lockPrefix, pairID)
	mutex := concurrency.NewMutex(session, key)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("cursorstore: acquire lease for pair %d: %w", pairID, err)
	}

	return &PairLease{session: session, mutex: mutex, pairID: pairID}, nil
}

// Done returns a channel closed when the lease's underlying session ends,
// whether from an explicit Release or a lost connection to etcd.
func (l *PairLease) Done() <-chan struct{} {
	return l.session.Done()
}

// Release gives up ownership of the pair and closes the backing session.
func (l *PairLease) Release(ctx context.Context) error {
	if err := l.mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("cursorstore: release pair %d: %w", l.pairID, err)
	}
	return l.session.Close()
}
