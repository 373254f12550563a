// Package reproduce exports everything tied to one run into a
// self-contained JSON bundle: audit entries, alerts, the transactions
// they reference, network edges and the configuration fingerprints in
// effect. The export itself is audited under its own correlation id.
package reproduce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
)

// Bundle is the exported snapshot of one run.
type Bundle struct {
	Metadata     Metadata              `json:"metadata"`
	Config       ConfigInfo            `json:"config"`
	AuditLog     []*domain.AuditEntry  `json:"auditLog"`
	Alerts       []*domain.Alert       `json:"alerts"`
	Transactions []*domain.Transaction `json:"transactions"`
	Network      Network               `json:"network"`
}

// Metadata identifies the bundle.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

// ConfigInfo records every configuration fingerprint observed in the
// run's artifacts plus the currently resolved configuration.
type ConfigInfo struct {
	ConfigHashes   []string       `json:"configHashes"`
	RulesVersions  []string       `json:"rulesVersions"`
	EngineVersions []string       `json:"engineVersions"`
	Resolved       *config.Config `json:"resolved,omitempty"`
}

// Network holds the run's relationship edges.
type Network struct {
	EdgeCount int                        `json:"edgeCount"`
	Edges     []*domain.RelationshipEdge `json:"edges"`
}

// Builder assembles and exports bundles.
type Builder struct {
	store  *repository.Store
	chain  *audit.Chain
	cfg    *config.Config
	logger *slog.Logger
}

// NewBuilder creates a bundle builder. cfg may be nil when no resolved
// configuration should be embedded.
func NewBuilder(store *repository.Store, chain *audit.Chain, cfg *config.Config, logger *slog.Logger) *Builder {
	return &Builder{store: store, chain: chain, cfg: cfg, logger: logger}
}

// Build collects all artifacts of the given run.
func (b *Builder) Build(ctx context.Context, correlationID string) (*Bundle, error) {
	bundle := &Bundle{
		Metadata: Metadata{
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
		},
	}

	hashes := map[string]bool{}
	rulesVersions := map[string]bool{}
	engineVersions := map[string]bool{}

	entries, err := b.store.AuditEntriesByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	bundle.AuditLog = entries
	for _, e := range entries {
		if ch, ok := e.Details["config_hash"].(string); ok && ch != "" {
			hashes[ch] = true
		}
	}

	alerts, err := b.store.ListAlerts(ctx, domain.AlertFilter{CorrelationID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	// ListAlerts returns newest first; bundles keep insertion order.
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	bundle.Alerts = alerts

	txnIDs := make([]int64, 0, len(alerts))
	seen := map[int64]bool{}
	for _, a := range alerts {
		if a.ConfigHash != "" {
			hashes[a.ConfigHash] = true
		}
		if a.RulesVersion != "" {
			rulesVersions[a.RulesVersion] = true
		}
		if a.EngineVersion != "" {
			engineVersions[a.EngineVersion] = true
		}
		if !seen[a.TransactionID] {
			seen[a.TransactionID] = true
			txnIDs = append(txnIDs, a.TransactionID)
		}
	}

	txns, err := b.store.TransactionsByIDs(ctx, txnIDs)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	bundle.Transactions = txns

	edges, err := b.store.EdgesByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	bundle.Network = Network{EdgeCount: len(edges), Edges: edges}

	bundle.Config = ConfigInfo{
		ConfigHashes:   sortedKeys(hashes),
		RulesVersions:  sortedKeys(rulesVersions),
		EngineVersions: sortedKeys(engineVersions),
		Resolved:       b.cfg,
	}
	return bundle, nil
}

// Export builds the bundle for targetID, writes it to outPath as
// indented JSON and appends a reproduce_run audit entry under rc's own
// correlation id. Returns the absolute output path.
func (b *Builder) Export(ctx context.Context, targetID, outPath string, rc domain.RunContext) (string, error) {
	bundle, err := b.Build(ctx, targetID)
	if err != nil {
		return "", err
	}

	if outPath == "" {
		outPath = fmt.Sprintf("reproduce_%s.json", targetID)
	}
	abs, err := filepath.Abs(outPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}

	tx, err := b.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	entry := &domain.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Action:        domain.ActionReproduceRun,
		EntityType:    "run",
		EntityID:      targetID,
		Actor:         rc.Actor,
		Details: map[string]any{
			"target_correlation_id": targetID,
			"output_path":           abs,
		},
	}
	if err := b.chain.Append(ctx, tx, entry); err != nil {
		return "", fmt.Errorf("append reproduce entry: %w", err)
	}

	b.logger.Info("bundle exported",
		"target_correlation_id", targetID,
		"output_path", abs,
		"alerts", len(bundle.Alerts),
		"audit_entries", len(bundle.AuditLog),
	)
	return abs, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
