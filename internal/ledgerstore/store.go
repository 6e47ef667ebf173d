// Package ledgerstore is the durable audit trail behind the reference
// Ledger collaborator: every proposal the core submits and every ack/nack
// and upstream event it produces is appended here so a settlement history
// survives a restart of the collaborator process itself. It never talks to
// the matching core directly; internal/ledgerreference is the only caller.
package ledgerstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
	"github.com/terminal-bench/tradeengine/pkg/money"
)

// Store persists settlement proposals, their outcomes, and the raw
// sequenced event log behind a Postgres connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and verifies the connection is live.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ledgerstore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-opened database handle, for tests against sqlmock or
// an already-configured pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SettlementStatus tracks a proposal's row through acknowledgement.
type SettlementStatus string

const (
	StatusProposed SettlementStatus = "proposed"
	StatusAcked    SettlementStatus = "acked"
	StatusNacked   SettlementStatus = "nacked"
)

// SettlementRecord is a row in the settlement audit trail. PriceDecimal is
// a human-readable rendering of ExecPrice kept purely for audit queries and
// dashboards; ExecPrice (basis points) remains the value of record.
type SettlementRecord struct {
	BuyID        string
	SellID       string
	PairID       uint64
	FillQty      uint64
	ExecPrice    uint64
	PriceDecimal decimal.Decimal
	QuoteAmount  uint64
	MatcherFee   uint64
	Status       SettlementStatus
	Reason       string
	ProposedAt   time.Time
	ResolvedAt   *time.Time
}

func execPriceDecimal(bps uint64) decimal.Decimal {
	return decimal.New(int64(bps), 0).Div(decimal.New(int64(money.BasisPointDivisor), 0))
}

// RecordProposal inserts a new proposed-settlement row. (buy_id, sell_id,
// proposed_at) is the natural key: a retried proposal for the same pair of
// orders after a prior nack gets its own row rather than overwriting one.
func (s *Store) RecordProposal(ctx context.Context, p ledgerapi.SettlementProposal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlements
			(buy_id, sell_id, pair_id, fill_qty, exec_price, price_decimal, quote_amount, matcher_fee, status, proposed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.BuyID, p.SellID, p.PairID, p.FillQty, p.ExecPrice, execPriceDecimal(p.ExecPrice),
		p.QuoteAmount, p.MatcherFee, StatusProposed, p.ProposedAt,
	)
	if err != nil {
		return fmt.Errorf("ledgerstore: record proposal: %w", err)
	}
	return nil
}

// RecordResolution marks the most recent proposed row for (buyID, sellID) as
// acked or nacked.
func (s *Store) RecordResolution(ctx context.Context, buyID, sellID string, result ledgerapi.AckResult, reason string) error {
	status := StatusNacked
	if result == ledgerapi.Ack {
		status = StatusAcked
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET status = $1, reason = $2, resolved_at = $3
		 WHERE id = (
		 	SELECT id FROM settlements
		 	WHERE buy_id = $4 AND sell_id = $5 AND status = $6
		 	ORDER BY proposed_at DESC LIMIT 1
		 )`,
		status, reason, time.Now(), buyID, sellID, StatusProposed,
	)
	if err != nil {
		return fmt.Errorf("ledgerstore: record resolution: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("ledgerstore: no pending proposal for %s/%s", buyID, sellID)
	}
	return nil
}

// History returns the most recent settlement rows for a pair, newest first.
func (s *Store) History(ctx context.Context, pairID uint64, limit int) ([]SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT buy_id, sell_id, pair_id, fill_qty, exec_price, price_decimal, quote_amount, matcher_fee,
		        status, reason, proposed_at, resolved_at
		 FROM settlements WHERE pair_id = $1 ORDER BY proposed_at DESC LIMIT $2`,
		pairID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: history: %w", err)
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		var rec SettlementRecord
		var reason sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rec.BuyID, &rec.SellID, &rec.PairID, &rec.FillQty, &rec.ExecPrice, &rec.PriceDecimal,
			&rec.QuoteAmount, &rec.MatcherFee, &rec.Status, &reason, &rec.ProposedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("ledgerstore: scan: %w", err)
		}
		rec.Reason = reason.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			rec.ResolvedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendEvent appends a raw sequenced event to the durable log behind
// EventStream. The insert is idempotent on sequence: replaying the same
// sequence twice (a crash between publish and ack, say) is a no-op rather
// than a duplicate row or an error.
func (s *Store) AppendEvent(ctx context.Context, sequence uint64, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_events (sequence, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sequence) DO NOTHING`,
		sequence, eventType, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("ledgerstore: append event: %w", err)
	}
	return nil
}

// EventsSince returns every event recorded strictly after fromSequence, in
// sequence order, so a restarted publisher can replay its durable log to
// rebuild the JetStream subject from scratch.
func (s *Store) EventsSince(ctx context.Context, fromSequence uint64) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, event_type, payload FROM ledger_events
		 WHERE sequence > $1 ORDER BY sequence ASC`,
		fromSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: events since: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.Sequence, &ev.EventType, &ev.Payload); err != nil {
			return nil, fmt.Errorf("ledgerstore: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// StoredEvent is one row of the durable event log.
type StoredEvent struct {
	Sequence  uint64
	EventType string
	Payload   []byte
}
