// Command ledger is a runnable demonstration of the storage engine: it
// opens a Store over the in-memory repository, registers a tenant,
// appends a handful of account events, and reconstructs the resulting
// balance through a reducer — the same shape as a real projection would
// use, minus the HTTP surface around it.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/config"
	"github.com/eventengine/eventengine/repository/memrepo"
	st "github.com/eventengine/eventengine/store"
	"github.com/eventengine/eventengine/tenant"
)

// accountState is the opaque state balanceReducer folds events into. The
// engine never inspects it; only this demo and its reducer know its shape.
type accountState struct {
	Owner   string  `json:"owner"`
	Balance float64 `json:"balance"`
}

func balanceReducer(prior []byte, e engine.Event) ([]byte, error) {
	var s accountState
	if len(prior) > 0 {
		if err := jsonUnmarshal(prior, &s); err != nil {
			return nil, err
		}
	}
	payload, ok := e.Payload.(map[string]any)
	if !ok {
		return jsonMarshal(s)
	}
	switch e.Type {
	case "account.opened":
		if owner, ok := payload["owner"].(string); ok {
			s.Owner = owner
		}
		if initial, ok := payload["initial"].(float64); ok {
			s.Balance = initial
		}
	case "account.deposited":
		if amount, ok := payload["amount"].(float64); ok {
			s.Balance += amount
		}
	case "account.withdrawn":
		if amount, ok := payload["amount"].(float64); ok {
			s.Balance -= amount
		}
	}
	return jsonMarshal(s)
}

func main() {
	ctx := context.Background()

	dir := "./data/ledger-demo"
	cfg := config.Default(dir)
	repo := memrepo.New(cfg.PartitionCount)

	store, err := st.New(cfg, repo, st.WithReducer(balanceReducer))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	// memrepo holds no state across a restart; replay whatever the WAL
	// still has from a prior run before accepting new ingest traffic.
	if rs, err := store.Recover(ctx); err != nil {
		log.Fatalf("recover: %v", err)
	} else if rs.Replayed > 0 {
		fmt.Printf("recovered %d event(s) from the write-ahead log\n", rs.Replayed)
	}

	tenantID, err := engine.NewTenantId("acme")
	if err != nil {
		log.Fatal(err)
	}
	t := tenant.New(tenantID, "Acme Corp", tenant.Quotas{})
	if err := store.Tenants().Create(ctx, t); err != nil {
		log.Fatalf("create tenant: %v", err)
	}

	accountID, err := engine.NewEntityId("account-" + time.Now().UTC().Format("150405"))
	if err != nil {
		log.Fatal(err)
	}

	opened, err := engine.NewEventType("account.opened")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := store.Ingest(ctx, accountID, tenantID, opened,
		map[string]any{"owner": "Taro", "initial": 1000.0}, nil, nil); err != nil {
		log.Fatalf("ingest open: %v", err)
	}

	deposited, err := engine.NewEventType("account.deposited")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := store.Ingest(ctx, accountID, tenantID, deposited,
		map[string]any{"amount": 500.0}, nil, nil); err != nil {
		log.Fatalf("ingest deposit: %v", err)
	}

	withdrawn, err := engine.NewEventType("account.withdrawn")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := store.Ingest(ctx, accountID, tenantID, withdrawn,
		map[string]any{"amount": 200.0}, nil, nil); err != nil {
		log.Fatalf("ingest withdraw: %v", err)
	}

	state, version, err := store.ReconstructState(ctx, accountID, time.Now().UTC())
	if err != nil {
		log.Fatalf("reconstruct: %v", err)
	}

	var final accountState
	if err := jsonUnmarshal(state, &final); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("account %s at version %d: owner=%s balance=%.2f\n", accountID, version, final.Owner, final.Balance)
}
