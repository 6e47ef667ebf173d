// Package ledgerreference is a minimal demo implementation of the other
// side of the Ledger collaborator boundary: it answers settlement
// proposals over NATS request-reply and republishes them as a durable
// ledger event stream, backed by internal/ledgerstore for crash recovery.
// It never verifies proofs or touches a real chain — those are explicitly
// out of scope; it exists so internal/ledgeradapter and cmd/matching have
// a real counterpart to run against in the demo and integration tests.
package ledgerreference

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/tradeengine/internal/ledgerstore"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
	"github.com/terminal-bench/tradeengine/pkg/messaging"
)

const (
	subjectProposals = "settlement.proposals"
	subjectEvents     = "ledger.events"

	eventTypeSettlementCommitted = "ledger.settlement_committed"
)

type proposalWire struct {
	BuyID       string    `json:"buy_id"`
	SellID      string    `json:"sell_id"`
	PairID      uint64    `json:"pair_id"`
	FillQty     uint64    `json:"fill_qty"`
	ExecPrice   uint64    `json:"exec_price"`
	BaseAmount  uint64    `json:"base_amount"`
	QuoteAmount uint64    `json:"quote_amount"`
	MatcherFee  uint64    `json:"matcher_fee"`
	ProposedAt  time.Time `json:"proposed_at"`
}

type ackWire struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

type settlementCommittedData struct {
	BuyID       string `json:"BuyID"`
	SellID      string `json:"SellID"`
	FillQty     uint64 `json:"FillQty"`
	ExecPrice   uint64 `json:"ExecPrice"`
	BlockHeight uint64 `json:"BlockHeight"`
}

type envelope struct {
	Type     string          `json:"type"`
	Sequence uint64          `json:"sequence"`
	Data     json.RawMessage `json:"data"`
}

// Service is the reference collaborator's runtime state.
type Service struct {
	client *messaging.Client
	store  *ledgerstore.Store
	seq    uint64
}

// New wires a reference collaborator over an already-connected NATS client
// and an opened Postgres audit store.
func New(client *messaging.Client, store *ledgerstore.Store) *Service {
	return &Service{client: client, store: store}
}

// Start subscribes the request-reply responder for settlement proposals.
// It runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.client.Subscribe(subjectProposals, s.handleProposal); err != nil {
		return fmt.Errorf("ledgerreference: subscribe: %w", err)
	}
	<-ctx.Done()
	return nil
}

// handleProposal accepts every structurally valid proposal: real proof
// verification and broadcast are explicitly out of scope for this demo
// collaborator. It records the proposal, acks it, and republishes the
// acceptance as a durable, sequenced ledger event.
func (s *Service) handleProposal(msg *nats.Msg) {
	ctx := context.Background()

	var wire proposalWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		s.reply(msg, ackWire{Result: "nack", Reason: "malformed proposal"})
		return
	}

	proposal := toProposal(wire)
	if err := s.store.RecordProposal(ctx, proposal); err != nil {
		log.Printf("ledgerreference: record proposal: %v", err)
		s.reply(msg, ackWire{Result: "nack", Reason: "audit write failed"})
		return
	}

	if err := s.store.RecordResolution(ctx, wire.BuyID, wire.SellID, ledgerapi.Ack, ""); err != nil {
		log.Printf("ledgerreference: record resolution: %v", err)
	}

	s.reply(msg, ackWire{Result: "ack"})
	s.publishCommitted(ctx, wire)
}

func (s *Service) reply(msg *nats.Msg, ack ackWire) {
	payload, err := json.Marshal(ack)
	if err != nil {
		log.Printf("ledgerreference: marshal ack: %v", err)
		return
	}
	if err := msg.Respond(payload); err != nil {
		log.Printf("ledgerreference: respond: %v", err)
	}
}

func (s *Service) publishCommitted(ctx context.Context, wire proposalWire) {
	data := settlementCommittedData{
		BuyID:     wire.BuyID,
		SellID:    wire.SellID,
		FillQty:   wire.FillQty,
		ExecPrice: wire.ExecPrice,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("ledgerreference: marshal event data: %v", err)
		return
	}

	sequence := atomic.AddUint64(&s.seq, 1)
	env := envelope{Type: eventTypeSettlementCommitted, Sequence: sequence, Data: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("ledgerreference: marshal envelope: %v", err)
		return
	}

	if err := s.store.AppendEvent(ctx, sequence, eventTypeSettlementCommitted, payload); err != nil {
		log.Printf("ledgerreference: append event: %v", err)
	}
	if _, err := s.client.PublishAsync(ctx, subjectEvents, env); err != nil {
		log.Printf("ledgerreference: publish event: %v", err)
	}
}

func toProposal(w proposalWire) ledgerapi.SettlementProposal {
	return ledgerapi.SettlementProposal{
		BuyID:       w.BuyID,
		SellID:      w.SellID,
		PairID:      w.PairID,
		FillQty:     w.FillQty,
		ExecPrice:   w.ExecPrice,
		BaseAmount:  w.BaseAmount,
		QuoteAmount: w.QuoteAmount,
		MatcherFee:  w.MatcherFee,
		ProposedAt:  w.ProposedAt,
	}
}
