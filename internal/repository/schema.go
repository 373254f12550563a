package repository

import "fmt"

// Schema definitions for the kite store.
// Compatible with both SQLite and PostgreSQL; the only divergence is the
// auto-increment primary key column, injected per driver.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id %s,
    name TEXT NOT NULL UNIQUE,
    country TEXT NOT NULL DEFAULT '',
    base_risk REAL NOT NULL DEFAULT 10,
    created_at TIMESTAMP NOT NULL
);
`

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id %s,
    customer_id BIGINT NOT NULL,
    account_ref TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id %s,
    account_id BIGINT NOT NULL,
    external_id TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    counterparty TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL DEFAULT '',
    direction TEXT NOT NULL DEFAULT '',
    config_hash TEXT NOT NULL DEFAULT '',
    rules_version TEXT NOT NULL DEFAULT '',
    engine_version TEXT NOT NULL DEFAULT '',
    risk_score REAL,
    UNIQUE (account_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, ts);
CREATE INDEX IF NOT EXISTS idx_transactions_counterparty ON transactions(counterparty);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id %s,
    transaction_id BIGINT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_hash TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL,
    evidence TEXT NOT NULL DEFAULT '{}',
    config_hash TEXT NOT NULL DEFAULT '',
    rules_version TEXT NOT NULL DEFAULT '',
    engine_version TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    disposition TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_correlation ON alerts(correlation_id);
CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
`

// audit_log timestamps are stored as pre-formatted TEXT. Rows are hashed
// over their serialized form, so the stored value must round-trip
// byte-for-byte regardless of driver. prev_hash is UNIQUE: two entries
// naming the same predecessor would be a forked chain, and the
// constraint keeps a fork from ever durably committing.
const schemaAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id %s,
    correlation_id TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT '',
    entity_id TEXT NOT NULL DEFAULT '',
    ts TEXT NOT NULL,
    actor TEXT NOT NULL,
    details TEXT NOT NULL DEFAULT '{}',
    prev_hash TEXT NOT NULL UNIQUE,
    row_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_log(correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(correlation_id, action);
`

const schemaRelationshipEdges = `
CREATE TABLE IF NOT EXISTS relationship_edges (
    id %s,
    src_type TEXT NOT NULL,
    src_id BIGINT NOT NULL,
    dst_type TEXT NOT NULL,
    dst_key TEXT NOT NULL,
    first_seen_at TIMESTAMP NOT NULL,
    last_seen_at TIMESTAMP NOT NULL,
    txn_count BIGINT NOT NULL DEFAULT 0,
    correlation_id TEXT NOT NULL DEFAULT '',
    UNIQUE (src_type, src_id, dst_type, dst_key)
);

CREATE INDEX IF NOT EXISTS idx_edges_dst ON relationship_edges(dst_type, dst_key);
`

func pkColumn(driver string) string {
	if driver == "postgres" {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// AllSchemas returns all schema statements for the given driver, in
// dependency order.
func AllSchemas(driver string) []string {
	pk := pkColumn(driver)
	templates := []string{
		schemaCustomers,
		schemaAccounts,
		schemaTransactions,
		schemaAlerts,
		schemaAuditLog,
		schemaRelationshipEdges,
	}
	out := make([]string, len(templates))
	for i, tmpl := range templates {
		out[i] = fmt.Sprintf(tmpl, pk)
	}
	return out
}
