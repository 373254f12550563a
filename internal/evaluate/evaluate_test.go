package evaluate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/bus"
	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/ingest"
	"github.com/opensource-finance/kite/internal/repository"
	"github.com/opensource-finance/kite/internal/rules"
	"github.com/opensource-finance/kite/internal/scoring"
)

var testParams = scoring.Params{MaxScore: 100, LowThreshold: 33, MediumThreshold: 66}

func testRules() config.RulesConfig {
	return config.RulesConfig{
		HighValue:        config.HighValueConfig{Enabled: true, ThresholdAmount: 10000},
		RapidVelocity:    config.RapidVelocityConfig{Enabled: true, MinTransactions: 5, WindowMinutes: 15},
		GeoMismatch:      config.GeoMismatchConfig{Enabled: true, MaxCountries: 2, WindowMinutes: 60},
		Structuring:      config.StructuringConfig{Enabled: true, ThresholdAmount: 9500, MinTransactions: 3, WindowMinutes: 60},
		SanctionsKeyword: config.SanctionsKeywordConfig{Enabled: true, Keywords: []string{"blocked"}, ListVersion: "t1"},
		HighRiskCountry:  config.HighRiskCountryConfig{Enabled: true, Countries: []string{"IR"}, ListVersion: "t1"},
		NetworkRing:      config.NetworkRingConfig{Enabled: true, MinSharedCounterparties: 2, MinLinkedAccounts: 2, LookbackDays: 30, Severity: "high", ScoreDelta: 40},
	}
}

type testEnv struct {
	store *repository.Store
	chain *audit.Chain
	ing   *ingest.Ingestor
	bus   *bus.ChannelBus
}

func newTestEnv(t *testing.T) *testEnv {
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
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	return &testEnv{
		store: store,
		chain: chain,
		ing:   ingest.New(store, chain, config.IngestConfig{DefaultCurrency: "USD", MaxRejectReasons: 10}, logger),
		bus:   b,
	}
}

// evaluator builds a fresh rule set and evaluator, like a new process
// invocation over the same database.
func (e *testEnv) evaluator(t *testing.T, chunkSize int) *Evaluator {
	t.Helper()
	set, err := rules.BuildSet(testRules(), e.store, e.store)
	if err != nil {
		t.Fatalf("BuildSet failed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ev := New(e.store, e.chain, set, testParams, e.bus, logger)
	ev.ChunkSize = chunkSize
	return ev
}

func rec(ref, ts, amount, counterparty string) domain.RawRecord {
	return domain.RawRecord{
		AccountRef:   ref,
		Timestamp:    ts,
		Amount:       amount,
		Currency:     "USD",
		Counterparty: counterparty,
		Country:      "GB",
		Direction:    "out",
	}
}

func fixture() []domain.RawRecord {
	records := []domain.RawRecord{
		rec("ACC-A", "2025-02-01T10:00:00Z", "15000.00", "Acme Corp"),
		rec("ACC-A", "2025-02-01T14:00:00Z", "15000.00", "Acme Corp"),
		rec("ACC-B", "2025-02-01T09:00:00Z", "200.00", "blocked partners ltd"),
	}
	// Five rapid transactions on ACC-C within ten minutes.
	for i := 0; i < 5; i++ {
		ts := time.Date(2025, 2, 1, 11, 2*i, 0, 0, time.UTC).Format(time.RFC3339)
		records = append(records, rec("ACC-C", ts, "100.00", "Globex"))
	}
	return records
}

func ingestFixture(t *testing.T, e *testEnv, rc domain.RunContext) {
	t.Helper()
	if _, err := e.ing.IngestBatch(context.Background(), fixture(), rc); err != nil {
		t.Fatalf("IngestBatch failed: %v", err)
	}
}

// alertKey identifies an alert independent of database ids.
type alertKey struct {
	fingerprint string
	ruleID      string
}

func collectAlerts(t *testing.T, e *testEnv, correlationID string) map[alertKey]bool {
	t.Helper()
	ctx := context.Background()
	alerts, err := e.store.ListAlerts(ctx, domain.AlertFilter{CorrelationID: correlationID})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	keys := make(map[alertKey]bool, len(alerts))
	for _, a := range alerts {
		tx, err := e.store.GetTransaction(ctx, a.TransactionID)
		if err != nil {
			t.Fatal(err)
		}
		k := alertKey{tx.ExternalID, a.RuleID}
		if keys[k] {
			t.Errorf("duplicate alert for %+v", k)
		}
		keys[k] = true
	}
	return keys
}

func collectScores(t *testing.T, e *testEnv) map[string]float64 {
	t.Helper()
	ctx := context.Background()
	subs, err := e.store.TransactionsAfter(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	scores := make(map[string]float64, len(subs))
	for _, s := range subs {
		if s.RiskScore == nil {
			t.Fatalf("transaction %d has no risk score", s.ID)
		}
		scores[s.ExternalID] = *s.RiskScore
	}
	return scores
}

func TestRunEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	rc := domain.NewRunContext("run-e2e", "tester", "cfg-1", "2025.08", "kite-test")
	ingestFixture(t, e, rc)

	alertCh, cancel, err := e.bus.Subscribe(domain.SubjectAlertCreated)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	summary, err := e.evaluator(t, 0).Run(ctx, rc, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 8 {
		t.Errorf("Processed = %d, want 8", summary.Processed)
	}

	t.Run("high value alerts for both large transactions", func(t *testing.T) {
		alerts, err := e.store.ListAlerts(ctx, domain.AlertFilter{CorrelationID: rc.CorrelationID, RuleID: rules.RuleHighValue})
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) != 2 {
			t.Fatalf("high_value alerts = %d, want 2", len(alerts))
		}
		a := alerts[0]
		if a.Severity != domain.SeverityHigh || a.Score != 25 {
			t.Errorf("alert = %+v", a)
		}
		if a.ConfigHash != "cfg-1" || a.CorrelationID != rc.CorrelationID || a.RuleHash == "" {
			t.Errorf("provenance missing: %+v", a)
		}
	})

	t.Run("sanctions keyword fires", func(t *testing.T) {
		alerts, _ := e.store.ListAlerts(ctx, domain.AlertFilter{RuleID: rules.RuleSanctionsKeyword})
		if len(alerts) != 1 {
			t.Errorf("sanctions alerts = %d, want 1", len(alerts))
		}
	})

	t.Run("velocity fires on fifth transaction in window", func(t *testing.T) {
		alerts, _ := e.store.ListAlerts(ctx, domain.AlertFilter{RuleID: rules.RuleRapidVelocity})
		if len(alerts) != 1 {
			t.Errorf("rapid_velocity alerts = %d, want 1", len(alerts))
		}
	})

	t.Run("risk scores written back", func(t *testing.T) {
		scores := collectScores(t, e)
		// Large transactions: base 10 + high_value 25 = 35.
		for fp, score := range scores {
			if score < 0 || score > 100 {
				t.Errorf("score %v out of range for %s", score, fp)
			}
		}
	})

	t.Run("completion entry written and chain intact", func(t *testing.T) {
		done, err := e.store.RunCompleted(ctx, rc.CorrelationID)
		if err != nil || !done {
			t.Errorf("RunCompleted = %v, %v", done, err)
		}
		if _, err := e.chain.Verify(ctx); err != nil {
			t.Errorf("Verify failed: %v", err)
		}
	})

	t.Run("alerts published on the bus", func(t *testing.T) {
		received := 0
		for received < summary.AlertsCreated {
			select {
			case <-alertCh:
				received++
			case <-time.After(time.Second):
				t.Fatalf("received %d events, want %d", received, summary.AlertsCreated)
			}
		}
	})
}

func TestChunkSizeInvariance(t *testing.T) {
	run := func(chunkSize int) (map[alertKey]bool, map[string]float64) {
		e := newTestEnv(t)
		rc := domain.NewRunContext("run-ci", "tester", "cfg-1", "2025.08", "kite-test")
		ingestFixture(t, e, rc)
		if _, err := e.evaluator(t, chunkSize).Run(context.Background(), rc, false); err != nil {
			t.Fatalf("Run(chunk=%d) failed: %v", chunkSize, err)
		}
		return collectAlerts(t, e, rc.CorrelationID), collectScores(t, e)
	}

	wholeAlerts, wholeScores := run(0)
	chunkedAlerts, chunkedScores := run(1)

	if len(wholeAlerts) == 0 {
		t.Fatal("fixture produced no alerts")
	}
	if len(wholeAlerts) != len(chunkedAlerts) {
		t.Fatalf("alert counts differ: %d vs %d", len(wholeAlerts), len(chunkedAlerts))
	}
	for k := range wholeAlerts {
		if !chunkedAlerts[k] {
			t.Errorf("alert %+v missing from chunked run", k)
		}
	}
	for fp, score := range wholeScores {
		if chunkedScores[fp] != score {
			t.Errorf("score for %s: %v vs %v", fp, score, chunkedScores[fp])
		}
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("interrupted run resumes to the same result", func(t *testing.T) {
		// Reference: uninterrupted run over the same fixture.
		ref := newTestEnv(t)
		refRC := domain.NewRunContext("run-ref", "tester", "cfg-1", "2025.08", "kite-test")
		ingestFixture(t, ref, refRC)
		refSummary, err := ref.evaluator(t, 2).Run(ctx, refRC, false)
		if err != nil {
			t.Fatal(err)
		}

		e := newTestEnv(t)
		rc := domain.NewRunContext("run-resume", "tester", "cfg-1", "2025.08", "kite-test")
		ingestFixture(t, e, rc)

		ev := e.evaluator(t, 2)
		ev.MaxChunks = 2
		partial, err := ev.Run(ctx, rc, false)
		if err != nil {
			t.Fatalf("interrupted Run failed: %v", err)
		}
		if partial.ChunksProcessed != 2 {
			t.Fatalf("ChunksProcessed = %d, want 2", partial.ChunksProcessed)
		}
		if done, _ := e.store.RunCompleted(ctx, rc.CorrelationID); done {
			t.Fatal("interrupted run must not be completed")
		}

		resumed, err := e.evaluator(t, 2).Run(ctx, rc, true)
		if err != nil {
			t.Fatalf("resumed Run failed: %v", err)
		}
		if resumed.Processed != refSummary.Processed {
			t.Errorf("total processed = %d, want %d", resumed.Processed, refSummary.Processed)
		}

		refAlerts := collectAlerts(t, ref, refRC.CorrelationID)
		gotAlerts := collectAlerts(t, e, rc.CorrelationID)
		if len(refAlerts) != len(gotAlerts) {
			t.Fatalf("alert counts differ: %d vs %d", len(refAlerts), len(gotAlerts))
		}
		for k := range refAlerts {
			if !gotAlerts[k] {
				t.Errorf("alert %+v missing after resume", k)
			}
		}

		refScores := collectScores(t, ref)
		gotScores := collectScores(t, e)
		for fp, score := range refScores {
			if gotScores[fp] != score {
				t.Errorf("score for %s: %v vs %v", fp, score, gotScores[fp])
			}
		}

		if done, _ := e.store.RunCompleted(ctx, rc.CorrelationID); !done {
			t.Error("resumed run did not complete")
		}
		if _, err := e.chain.Verify(ctx); err != nil {
			t.Errorf("chain broken after resume: %v", err)
		}
	})

	t.Run("resume without checkpoint fails", func(t *testing.T) {
		e := newTestEnv(t)
		rc := domain.NewRunContext("run-none", "tester", "cfg-1", "2025.08", "kite-test")
		_, err := e.evaluator(t, 1).Run(ctx, rc, true)
		if !errors.Is(err, domain.ErrCheckpointConflict) {
			t.Errorf("err = %v, want ErrCheckpointConflict", err)
		}
	})

	t.Run("resume of completed run fails", func(t *testing.T) {
		e := newTestEnv(t)
		rc := domain.NewRunContext("run-done", "tester", "cfg-1", "2025.08", "kite-test")
		ingestFixture(t, e, rc)
		if _, err := e.evaluator(t, 2).Run(ctx, rc, false); err != nil {
			t.Fatal(err)
		}
		_, err := e.evaluator(t, 2).Run(ctx, rc, true)
		if !errors.Is(err, domain.ErrCheckpointConflict) {
			t.Errorf("err = %v, want ErrCheckpointConflict", err)
		}
	})

	t.Run("resume under different config fails", func(t *testing.T) {
		e := newTestEnv(t)
		rc := domain.NewRunContext("run-cfg", "tester", "cfg-1", "2025.08", "kite-test")
		ingestFixture(t, e, rc)

		ev := e.evaluator(t, 2)
		ev.MaxChunks = 1
		if _, err := ev.Run(ctx, rc, false); err != nil {
			t.Fatal(err)
		}

		rc2 := domain.NewRunContext("run-cfg", "tester", "cfg-2", "2025.08", "kite-test")
		_, err := e.evaluator(t, 2).Run(ctx, rc2, true)
		if !errors.Is(err, domain.ErrCheckpointConflict) {
			t.Errorf("err = %v, want ErrCheckpointConflict", err)
		}
	})
}

func TestCheckpointDetails(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	rc := domain.NewRunContext("run-cp", "tester", "cfg-1", "2025.08", "kite-test")
	ingestFixture(t, e, rc)

	if _, err := e.evaluator(t, 3).Run(ctx, rc, false); err != nil {
		t.Fatal(err)
	}

	entries, err := e.store.AuditEntriesByCorrelation(ctx, rc.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}

	var chunkIndexes []int
	for _, entry := range entries {
		if entry.Action != domain.ActionEvaluateChunk {
			continue
		}
		chunkIndexes = append(chunkIndexes, int(entry.Details["chunk_index"].(float64)))
		if entry.Details["last_processed_id"].(float64) <= 0 {
			t.Errorf("checkpoint without last_processed_id: %v", entry.Details)
		}
		if entry.Details["config_hash"] != "cfg-1" {
			t.Errorf("checkpoint without config hash: %v", entry.Details)
		}
	}
	// 8 transactions at chunk size 3: chunks 0, 1, 2.
	want := []int{0, 1, 2}
	if !sort.IntsAreSorted(chunkIndexes) || len(chunkIndexes) != len(want) {
		t.Fatalf("chunk indexes = %v, want %v", chunkIndexes, want)
	}
}
