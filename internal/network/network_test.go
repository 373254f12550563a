package network

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/ingest"
	"github.com/opensource-finance/kite/internal/repository"
)

func newTestBuilder(t *testing.T) (*Builder, *repository.Store, *ingest.Ingestor) {
	t.Helper()
	store, err := repository.New(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kite-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chain := audit.NewChain(store)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := ingest.New(store, chain, config.IngestConfig{DefaultCurrency: "USD", MaxRejectReasons: 10}, logger)
	return NewBuilder(store, chain, logger), store, ing
}

func rawRecord(ref, ts, counterparty string) domain.RawRecord {
	return domain.RawRecord{
		AccountRef:   ref,
		Timestamp:    ts,
		Amount:       "100.00",
		Currency:     "USD",
		Counterparty: counterparty,
		Direction:    "out",
	}
}

func TestBuild(t *testing.T) {
	b, store, ing := newTestBuilder(t)
	ctx := context.Background()
	rc := domain.NewRunContext("", "tester", "cfg", "2025.08", "kite-test")

	if _, err := ing.IngestBatch(ctx, []domain.RawRecord{
		rawRecord("ACC-001", "2025-01-15T10:00:00Z", "Acme Corp"),
		rawRecord("ACC-001", "2025-01-15T11:00:00Z", "acme corp"),
		rawRecord("ACC-001", "2025-01-15T12:00:00Z", "Globex"),
		rawRecord("ACC-002", "2025-01-15T13:00:00Z", "Acme Corp"),
	}, rc); err != nil {
		t.Fatal(err)
	}

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	written, err := b.Build(ctx, since, rc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// 3 account edges (acc1->acme, acc1->globex, acc2->acme) plus
	// 3 customer edges, one customer per account ref.
	if written != 6 {
		t.Errorf("written = %d, want 6", written)
	}

	t.Run("ring signal sees shared counterparty", func(t *testing.T) {
		acct, err := store.ResolveAccountTx(ctx, mustTx(t, store), "ACC-001", "", "", 10)
		if err != nil {
			t.Fatal(err)
		}
		sig, err := store.AccountRingSignal(ctx, acct.ID, since)
		if err != nil {
			t.Fatalf("AccountRingSignal failed: %v", err)
		}
		if sig.Degree != 1 {
			t.Errorf("Degree = %d, want 1", sig.Degree)
		}
		if len(sig.LinkedAccounts) != 1 {
			t.Errorf("LinkedAccounts = %v, want one linked account", sig.LinkedAccounts)
		}
		if len(sig.SharedCounterparties) != 1 || sig.SharedCounterparties[0] != "acme corp" {
			t.Errorf("SharedCounterparties = %v", sig.SharedCounterparties)
		}
	})

	t.Run("rebuild is idempotent", func(t *testing.T) {
		again, err := b.Build(ctx, since, rc)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if again != written {
			t.Errorf("second build wrote %d, want %d", again, written)
		}
		n, err := store.CountEdges(ctx)
		if err != nil || n != 6 {
			t.Errorf("CountEdges = %d, %v; want 6", n, err)
		}
	})

	t.Run("audit entry per build", func(t *testing.T) {
		entries, err := store.AuditEntriesByCorrelation(ctx, rc.CorrelationID)
		if err != nil {
			t.Fatal(err)
		}
		builds := 0
		for _, e := range entries {
			if e.Action == domain.ActionNetworkBuild {
				builds++
				if e.Details["edges_written"] != 6.0 {
					t.Errorf("details = %v", e.Details)
				}
			}
		}
		if builds != 2 {
			t.Errorf("build entries = %d, want 2", builds)
		}
	})
}

// mustTx hands the store itself to Tx-suffixed helpers outside any
// transaction; reads do not need one.
func mustTx(t *testing.T, s *repository.Store) repository.DBTX {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}
