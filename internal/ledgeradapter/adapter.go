// Package ledgeradapter implements ledgerapi.Ledger over a NATS JetStream
// connection. It is the only place on the matching core's side that touches
// raw wire payloads: SubmitProposal marshals/unmarshals JSON across a
// request-reply round trip, and EventStream decodes a durable event
// envelope into already-typed ledgerapi.LedgerEvent values before handing
// them to the core.
package ledgeradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/terminal-bench/tradeengine/pkg/decimal"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
	"github.com/terminal-bench/tradeengine/pkg/messaging"
)

const (
	subjectProposals = "settlement.proposals"
	subjectEvents     = "ledger.events"
)

// Event type tags carried in the envelope's Type field.
const (
	eventTypePairRegistered        = "ledger.pair_registered"
	eventTypePairDeactivated       = "ledger.pair_deactivated"
	eventTypePairReactivated       = "ledger.pair_reactivated"
	eventTypeOrderObserved         = "ledger.order_observed"
	eventTypeOrderCancelledOnChain = "ledger.order_cancelled_on_chain"
	eventTypeSettlementCommitted   = "ledger.settlement_committed"
	eventTypeSettlementRejected    = "ledger.settlement_rejected"
	eventTypeEscrowSync            = "ledger.escrow_sync"
)

// defaultSubmitTimeout bounds SubmitProposal when ctx carries no deadline.
const defaultSubmitTimeout = 30 * time.Second

// Adapter is the reference Ledger collaborator implementation.
type Adapter struct {
	client *messaging.Client
}

// New wraps an already-connected messaging client.
func New(client *messaging.Client) *Adapter {
	return &Adapter{client: client}
}

// proposalWire is the over-the-wire settlement proposal. ExecPrice carries
// the authoritative basis-point integer the core computed; PriceDecimal is
// a derived human-readable rendering for the collaborator's own audit trail
// and is never read back by the core.
type proposalWire struct {
	BuyID        string        `json:"buy_id"`
	SellID       string        `json:"sell_id"`
	PairID       uint64        `json:"pair_id"`
	FillQty      uint64        `json:"fill_qty"`
	ExecPrice    uint64        `json:"exec_price"`
	PriceDecimal decimal.Price `json:"price_decimal"`
	BaseAmount   uint64        `json:"base_amount"`
	QuoteAmount  uint64        `json:"quote_amount"`
	MatcherFee   uint64        `json:"matcher_fee"`
	ProposedAt   time.Time     `json:"proposed_at"`
}

type ackWire struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// SubmitProposal hands the proposal to the ledger service via NATS
// request-reply and blocks for an ack/nack, bounded by ctx's deadline (or
// defaultSubmitTimeout if ctx carries none).
func (a *Adapter) SubmitProposal(ctx context.Context, proposal ledgerapi.SettlementProposal) (ledgerapi.SubmitResult, error) {
	wire := proposalWire{
		BuyID:        proposal.BuyID,
		SellID:       proposal.SellID,
		PairID:       proposal.PairID,
		FillQty:      proposal.FillQty,
		ExecPrice:    proposal.ExecPrice,
		PriceDecimal: decimal.NewPriceFromBasisPoints(proposal.ExecPrice),
		BaseAmount:   proposal.BaseAmount,
		QuoteAmount:  proposal.QuoteAmount,
		MatcherFee:   proposal.MatcherFee,
		ProposedAt:   proposal.ProposedAt,
	}

	timeout := defaultSubmitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}

	msg, err := a.client.Request(ctx, subjectProposals, wire, timeout)
	if err != nil {
		return ledgerapi.SubmitResult{}, fmt.Errorf("ledgeradapter: submit proposal: %w", err)
	}

	var ack ackWire
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return ledgerapi.SubmitResult{}, fmt.Errorf("ledgeradapter: decode ack: %w", err)
	}

	result := ledgerapi.Nack
	if ack.Result == "ack" {
		result = ledgerapi.Ack
	}
	return ledgerapi.SubmitResult{Result: result, Reason: ack.Reason}, nil
}

// envelope is the durable event wrapper: Type selects the decoder, Data is
// the type-specific payload, and Sequence is the monotonic cursor position
// the core uses to make replay idempotent.
type envelope struct {
	Type     string          `json:"type"`
	Sequence uint64          `json:"sequence"`
	Data     json.RawMessage `json:"data"`
}

// EventStream subscribes to the durable ledger event subject and decodes
// each envelope into a ledgerapi.LedgerEvent, skipping anything at or
// before fromSequence so callers can resume safely after a restart.
func (a *Adapter) EventStream(ctx context.Context, fromSequence uint64) (<-chan ledgerapi.LedgerEvent, <-chan error) {
	events := make(chan ledgerapi.LedgerEvent, 64)
	errs := make(chan error, 1)

	durable := fmt.Sprintf("core-%s", uuid.NewString())
	handler := func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			trySend(errs, fmt.Errorf("ledgeradapter: decode envelope: %w", err))
			return
		}
		if env.Sequence <= fromSequence {
			return
		}

		ev, err := decode(env)
		if err != nil {
			trySend(errs, err)
			return
		}

		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	if err := a.client.JetStreamSubscribe(subjectEvents, handler, nats.DeliverAll(), nats.Durable(durable), nats.ManualAck()); err != nil {
		errs <- fmt.Errorf("ledgeradapter: subscribe: %w", err)
		close(events)
		return events, errs
	}

	go func() {
		<-ctx.Done()
		_ = a.client.Unsubscribe("js:" + subjectEvents)
		close(events)
	}()

	return events, errs
}

func trySend(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

func decode(env envelope) (ledgerapi.LedgerEvent, error) {
	out := ledgerapi.LedgerEvent{Sequence: env.Sequence}

	switch env.Type {
	case eventTypePairRegistered:
		var d ledgerapi.PairRegisteredData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventPairRegistered
		out.PairRegistered = &d

	case eventTypePairDeactivated:
		var d ledgerapi.PairDeactivatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventPairDeactivated
		out.PairDeactivated = &d

	case eventTypePairReactivated:
		var d ledgerapi.PairReactivatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventPairReactivated
		out.PairReactivated = &d

	case eventTypeOrderObserved:
		var d ledgerapi.OrderObservedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventOrderObserved
		out.OrderObserved = &d

	case eventTypeOrderCancelledOnChain:
		var d ledgerapi.OrderCancelledOnChainData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventOrderCancelledOnChain
		out.OrderCancelledOnChain = &d

	case eventTypeSettlementCommitted:
		var d ledgerapi.SettlementCommittedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventSettlementCommitted
		out.SettlementCommitted = &d

	case eventTypeSettlementRejected:
		var d ledgerapi.SettlementRejectedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventSettlementRejected
		out.SettlementRejected = &d

	case eventTypeEscrowSync:
		var d ledgerapi.EscrowSyncData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return out, err
		}
		out.Kind = ledgerapi.EventEscrowSync
		out.EscrowSync = &d

	default:
		return out, fmt.Errorf("ledgeradapter: unknown event type %q", env.Type)
	}

	return out, nil
}
