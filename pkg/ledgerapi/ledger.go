// Package ledgerapi defines the thin capability interface the matching core
// requires from its Ledger collaborator, plus the tagged event variants the
// collaborator streams to the core. The core never parses raw wire payloads
// itself — any JSON/string parsing lives in an adapter that implements
// Ledger and produces these already-typed events.
package ledgerapi

import (
	"context"
	"time"
)

// Side mirrors the order side used throughout the matching core.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SettlementProposal is the artifact the core hands to the Ledger
// collaborator for on-chain settlement. Amounts are in the core's native
// integer units: basis points for exec_price, base-token smallest units for
// fill_qty and base_amount, quote-currency units for quote_amount and
// matcher_fee.
type SettlementProposal struct {
	BuyID       string
	SellID      string
	PairID      uint64
	FillQty     uint64
	ExecPrice   uint64
	BaseAmount  uint64
	QuoteAmount uint64
	MatcherFee  uint64
	ProposedAt  time.Time
}

// AckResult is the Ledger collaborator's response to a submitted proposal.
type AckResult int

const (
	// Ack means the settlement was accepted and will be broadcast.
	Ack AckResult = iota
	// Nack means the settlement was rejected; Reason explains why.
	Nack
)

// SubmitResult is returned (synchronously, from the core's perspective) by
// submit_proposal — the collaborator is expected to resolve its own
// asynchronous signing/broadcast work before replying.
type SubmitResult struct {
	Result AckResult
	Reason string
}

// EventKind tags the variant carried by a LedgerEvent.
type EventKind int

const (
	EventPairRegistered EventKind = iota
	EventPairDeactivated
	EventPairReactivated
	EventOrderObserved
	EventOrderCancelledOnChain
	EventSettlementCommitted
	EventSettlementRejected
	EventEscrowSync
)

// LedgerEvent is a tagged union over the collaborator's event stream
// variants. Exactly one of the typed fields is populated, selected by Kind.
// Sequence is the monotonic cursor position used to make replay idempotent
// (same (Kind, Sequence) observed twice must be a no-op for the core).
type LedgerEvent struct {
	Kind     EventKind
	Sequence uint64

	PairRegistered         *PairRegisteredData
	PairDeactivated        *PairDeactivatedData
	PairReactivated        *PairReactivatedData
	OrderObserved          *OrderObservedData
	OrderCancelledOnChain  *OrderCancelledOnChainData
	SettlementCommitted    *SettlementCommittedData
	SettlementRejected     *SettlementRejectedData
	EscrowSync             *EscrowSyncData
}

type PairRegisteredData struct {
	PairID        uint64
	BaseTokenID   uint64
	QuoteTokenID  uint64
	TickSize      uint64
	MaxTickRange  uint64
}

type PairDeactivatedData struct {
	PairID uint64
}

type PairReactivatedData struct {
	PairID uint64
}

type OrderObservedData struct {
	OrderID      string
	Owner        string
	PairID       uint64
	Side         Side
	TickLower    uint64
	TickUpper    uint64
	LimitPrice   uint64
	Quantity     uint64
	EscrowAmount uint64
	CreatedAt    int64
}

type OrderCancelledOnChainData struct {
	OrderID string
}

type SettlementCommittedData struct {
	BuyID       string
	SellID      string
	FillQty     uint64
	ExecPrice   uint64
	BlockHeight uint64
}

type SettlementRejectedData struct {
	BuyID  string
	SellID string
	Reason string
}

type EscrowSyncData struct {
	Owner            string
	TokenID          uint64
	ExternalCommitted uint64
}

// Ledger is the single external collaborator the matching core depends on.
// Implementations live outside the core (internal/ledgeradapter in this
// repo's reference implementation) and are responsible for everything the
// core itself must not do: proof verification, wallet signing, broadcast,
// and durable event storage.
type Ledger interface {
	// SubmitProposal hands a speculative settlement to the collaborator.
	// At most one proposal may be in flight for a given (BuyID, SellID)
	// pair at any time.
	SubmitProposal(ctx context.Context, proposal SettlementProposal) (SubmitResult, error)

	// EventStream delivers ledger events starting after fromSequence,
	// blocking/streaming until ctx is cancelled. Implementations must
	// replay from fromSequence on every call so restarts are safe.
	EventStream(ctx context.Context, fromSequence uint64) (<-chan LedgerEvent, <-chan error)
}
