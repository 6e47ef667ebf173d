package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terminal-bench/tradeengine/internal/escrow"
	"github.com/terminal-bench/tradeengine/internal/ledgeradapter"
	"github.com/terminal-bench/tradeengine/internal/opsserver"
	"github.com/terminal-bench/tradeengine/internal/pairs"
	"github.com/terminal-bench/tradeengine/internal/settlement"
	"github.com/terminal-bench/tradeengine/internal/supervisor"
	"github.com/terminal-bench/tradeengine/pkg/ledgerapi"
	"github.com/terminal-bench/tradeengine/pkg/messaging"
)

type Config struct {
	NATSUrl string
	OpsAddr string
}

func loadConfig() *Config {
	return &Config{
		NATSUrl: getEnv("NATS_URL", "nats://localhost:4222"),
		OpsAddr: ":" + getEnv("PORT", "8003"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	cfg := loadConfig()

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "matching-engine",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	registry := pairs.New()
	escrowLedger := escrow.New()
	ledger := ledgeradapter.New(msgClient)

	sup := supervisor.New(registry, escrowLedger, ledger, settlement.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(ctx)
	go replayLedgerEvents(ctx, registry, ledger, sup)

	runErrs := make(chan error, 1)
	go func() {
		runErrs <- sup.Wait()
	}()

	opsSrv := opsserver.New(sup, opsserver.DefaultConfig(cfg.OpsAddr))
	go func() {
		if err := opsSrv.Run(); err != nil {
			log.Printf("ops server stopped: %v", err)
		}
	}()

	log.Printf("Matching engine started, ops surface on %s", cfg.OpsAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down matching engine...")
	case err := <-runErrs:
		if err != nil {
			log.Printf("supervisor exited: %v", err)
		}
	}

	cancel()
	log.Println("Matching engine stopped")
}

// replayLedgerEvents feeds the PairRegistry from the Ledger collaborator's
// event stream and spins up a shard the first time a pair is registered.
// Per-pair ApplyLedgerEvent replay (order/settlement reconciliation) is left
// to each shard's own facade once cmd/matching wires per-pair subscriptions;
// this loop covers the registry-level bootstrap every shard depends on.
func replayLedgerEvents(ctx context.Context, registry *pairs.Registry, ledger ledgerapi.Ledger, sup *supervisor.Supervisor) {
	events, errs := ledger.EventStream(ctx, 0)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				continue
			}
			log.Printf("ledger event stream error: %v", err)
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case ledgerapi.EventPairRegistered:
				d := ev.PairRegistered
				if err := registry.Upsert(d.PairID, d.BaseTokenID, d.QuoteTokenID, d.TickSize, d.MaxTickRange); err != nil {
					log.Printf("pair upsert failed: %v", err)
					continue
				}
				if err := sup.EnsureShard(d.PairID); err != nil {
					log.Printf("ensure shard for pair %d failed: %v", d.PairID, err)
				}
			case ledgerapi.EventPairDeactivated:
				_ = registry.SetActive(ev.PairDeactivated.PairID, false)
			case ledgerapi.EventPairReactivated:
				_ = registry.SetActive(ev.PairReactivated.PairID, true)
			}
		}
	}
}
