// Package repository provides data persistence over database/sql.
// Works with both SQLite and PostgreSQL drivers.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kite/internal/config"
	"github.com/opensource-finance/kite/internal/domain"
)

// DBTX is the querying surface shared by *sql.DB and *sql.Tx. Methods
// suffixed Tx take it so a caller can compose several writes into one
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the single persistence type for customers, accounts,
// transactions, alerts, the audit log and relationship edges.
type Store struct {
	db     *sql.DB
	driver string
}

// CounterpartyStat is the per-(account, counterparty) aggregate the
// relationship-edge builder derives edges from.
type CounterpartyStat struct {
	AccountID    int64
	CustomerID   int64
	Counterparty string
	FirstSeen    time.Time
	LastSeen     time.Time
	TxnCount     int64
}

// New opens a store based on configuration and runs migrations.
func New(cfg config.DatabaseConfig) (*Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	s := &Store{db: db, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, schema := range AllSchemas(s.driver) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Begin starts a database transaction.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// insertID runs an INSERT and returns the generated primary key,
// bridging the LastInsertId/RETURNING divergence between drivers.
func (s *Store) insertID(ctx context.Context, q DBTX, query string, args ...any) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := q.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- customers and accounts ---

// ResolveAccountTx finds the account for ref, creating the customer and
// account rows on first sight. Customer attributes are only set at
// creation; later rows for the same ref never rewrite them.
func (s *Store) ResolveAccountTx(ctx context.Context, q DBTX, ref, customerName, customerCountry string, baseRisk float64) (*domain.Account, error) {
	var acct domain.Account
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT id, customer_id, account_ref, created_at
		FROM accounts WHERE account_ref = ?
	`), ref).Scan(&acct.ID, &acct.CustomerID, &acct.AccountRef, &acct.CreatedAt)
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()

	var customerID int64
	err = q.QueryRowContext(ctx, s.rebind(`SELECT id FROM customers WHERE name = ?`), customerName).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		customerID, err = s.insertID(ctx, q, `
			INSERT INTO customers (name, country, base_risk, created_at)
			VALUES (`+s.rebind("?, ?, ?, ?")+`)`,
			customerName, customerCountry, baseRisk, now)
	}
	if err != nil {
		return nil, err
	}

	acct.CustomerID = customerID
	acct.AccountRef = ref
	acct.CreatedAt = now
	acct.ID, err = s.insertID(ctx, q, `
		INSERT INTO accounts (customer_id, account_ref, created_at)
		VALUES (`+s.rebind("?, ?, ?")+`)`,
		customerID, ref, now)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetCustomer retrieves a customer by id.
func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, country, base_risk, created_at FROM customers WHERE id = ?
	`), id).Scan(&c.ID, &c.Name, &c.Country, &c.BaseRisk, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// --- transactions ---

const txColumns = `id, account_id, external_id, ts, amount, currency, counterparty,
	country, channel, direction, config_hash, rules_version, engine_version, risk_score`

func scanTransaction(scan func(dest ...any) error, tx *domain.Transaction) error {
	var score sql.NullFloat64
	if err := scan(
		&tx.ID, &tx.AccountID, &tx.ExternalID, &tx.Timestamp,
		&tx.Amount, &tx.Currency, &tx.Counterparty,
		&tx.Country, &tx.Channel, &tx.Direction,
		&tx.ConfigHash, &tx.RulesVersion, &tx.EngineVersion, &score,
	); err != nil {
		return err
	}
	if score.Valid {
		v := score.Float64
		tx.RiskScore = &v
	}
	tx.Timestamp = tx.Timestamp.UTC()
	return nil
}

// TransactionExistsTx reports whether the account already holds a
// transaction with the given content fingerprint.
func (s *Store) TransactionExistsTx(ctx context.Context, q DBTX, accountID int64, externalID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT 1 FROM transactions WHERE account_id = ? AND external_id = ?
	`), accountID, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertTransactionTx stores a transaction and fills in its id.
func (s *Store) InsertTransactionTx(ctx context.Context, q DBTX, tx *domain.Transaction) error {
	id, err := s.insertID(ctx, q, `
		INSERT INTO transactions (
			account_id, external_id, ts, amount, currency, counterparty,
			country, channel, direction, config_hash, rules_version, engine_version
		) VALUES (`+s.rebind("?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?")+`)`,
		tx.AccountID, tx.ExternalID, tx.Timestamp.UTC(), tx.Amount, tx.Currency, tx.Counterparty,
		tx.Country, tx.Channel, tx.Direction, tx.ConfigHash, tx.RulesVersion, tx.EngineVersion,
	)
	if err != nil {
		return err
	}
	tx.ID = id
	return nil
}

// GetTransaction retrieves a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	var tx domain.Transaction
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+txColumns+` FROM transactions WHERE id = ?
	`), id)
	err := scanTransaction(row.Scan, &tx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransactionsAfter returns transactions with id strictly greater than
// afterID in ascending id order, joined with owner attributes. A limit
// of 0 or less means no limit.
func (s *Store) TransactionsAfter(ctx context.Context, afterID int64, limit int) ([]*domain.TransactionSubject, error) {
	query := `
		SELECT t.id, t.account_id, t.external_id, t.ts, t.amount, t.currency, t.counterparty,
			   t.country, t.channel, t.direction, t.config_hash, t.rules_version, t.engine_version, t.risk_score,
			   a.customer_id, c.base_risk, c.country
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		JOIN customers c ON c.id = a.customer_id
		WHERE t.id > ?
		ORDER BY t.id`
	args := []any{afterID}
	if limit > 0 {
		query += `
		LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []*domain.TransactionSubject
	for rows.Next() {
		var sub domain.TransactionSubject
		var score sql.NullFloat64
		if err := rows.Scan(
			&sub.ID, &sub.AccountID, &sub.ExternalID, &sub.Timestamp,
			&sub.Amount, &sub.Currency, &sub.Counterparty,
			&sub.Country, &sub.Channel, &sub.Direction,
			&sub.ConfigHash, &sub.RulesVersion, &sub.EngineVersion, &score,
			&sub.CustomerID, &sub.CustomerBase, &sub.CustomerCountry,
		); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			sub.RiskScore = &v
		}
		sub.Timestamp = sub.Timestamp.UTC()
		subjects = append(subjects, &sub)
	}
	return subjects, rows.Err()
}

// TransactionsByIDs retrieves the given transactions in ascending id order.
func (s *Store) TransactionsByIDs(ctx context.Context, ids []int64) ([]*domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+txColumns+` FROM transactions WHERE id IN (`+placeholders+`) ORDER BY id
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := scanTransaction(rows.Scan, &tx); err != nil {
			return nil, err
		}
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// CountTransactions returns the total number of stored transactions.
func (s *Store) CountTransactions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// CountAccountTransactionsInWindow counts the account's transactions
// with ts in [from, to], both ends inclusive.
func (s *Store) CountAccountTransactionsInWindow(ctx context.Context, accountID int64, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM transactions
		WHERE account_id = ? AND ts >= ? AND ts <= ?
	`), accountID, from.UTC(), to.UTC()).Scan(&n)
	return n, err
}

// CountAccountAmountRange counts the account's transactions in the
// window with amount in [minAmount, maxAmount).
func (s *Store) CountAccountAmountRange(ctx context.Context, accountID int64, minAmount, maxAmount float64, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM transactions
		WHERE account_id = ? AND amount >= ? AND amount < ? AND ts >= ? AND ts <= ?
	`), accountID, minAmount, maxAmount, from.UTC(), to.UTC()).Scan(&n)
	return n, err
}

// DistinctCustomerCountries returns the distinct non-empty transaction
// countries seen across all of the customer's accounts in the window,
// sorted for deterministic evidence.
func (s *Store) DistinctCustomerCountries(ctx context.Context, customerID int64, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT DISTINCT t.country
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.customer_id = ? AND t.country <> '' AND t.ts >= ? AND t.ts <= ?
	`), customerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		countries = append(countries, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(countries)
	return countries, nil
}

// UpdateRiskScoreTx writes the transaction's computed risk score.
func (s *Store) UpdateRiskScoreTx(ctx context.Context, q DBTX, txID int64, score float64) error {
	_, err := q.ExecContext(ctx, s.rebind(`
		UPDATE transactions SET risk_score = ? WHERE id = ?
	`), score, txID)
	return err
}

// --- alerts ---

const alertColumns = `id, transaction_id, rule_id, rule_hash, severity, score, reason, evidence,
	config_hash, rules_version, engine_version, correlation_id, status, disposition, created_at, updated_at`

func scanAlert(scan func(dest ...any) error, a *domain.Alert) error {
	var evidence string
	var updatedAt sql.NullTime
	if err := scan(
		&a.ID, &a.TransactionID, &a.RuleID, &a.RuleHash, &a.Severity, &a.Score, &a.Reason, &evidence,
		&a.ConfigHash, &a.RulesVersion, &a.EngineVersion, &a.CorrelationID,
		&a.Status, &a.Disposition, &a.CreatedAt, &updatedAt,
	); err != nil {
		return err
	}
	if evidence != "" {
		json.Unmarshal([]byte(evidence), &a.Evidence)
	}
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		a.UpdatedAt = &t
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return nil
}

// InsertAlertTx stores an alert and fills in its id.
func (s *Store) InsertAlertTx(ctx context.Context, q DBTX, a *domain.Alert) error {
	evidence, _ := json.Marshal(a.Evidence)

	id, err := s.insertID(ctx, q, `
		INSERT INTO alerts (
			transaction_id, rule_id, rule_hash, severity, score, reason, evidence,
			config_hash, rules_version, engine_version, correlation_id, status, disposition, created_at
		) VALUES (`+s.rebind("?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?")+`)`,
		a.TransactionID, a.RuleID, a.RuleHash, a.Severity, a.Score, a.Reason, string(evidence),
		a.ConfigHash, a.RulesVersion, a.EngineVersion, a.CorrelationID, a.Status, a.Disposition, a.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*domain.Alert, error) {
	var a domain.Alert
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+alertColumns+` FROM alerts WHERE id = ?
	`), id)
	err := scanAlert(row.Scan, &a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1 = 1`
	var args []any

	if f.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, f.CorrelationID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, f.Severity)
	}
	if f.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, f.RuleID)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := scanAlert(rows.Scan, &a); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// UpdateAlertTx writes an alert's status, disposition and updated_at.
// Everything else on an alert is immutable after insert.
func (s *Store) UpdateAlertTx(ctx context.Context, q DBTX, a *domain.Alert) error {
	res, err := q.ExecContext(ctx, s.rebind(`
		UPDATE alerts SET status = ?, disposition = ?, updated_at = ? WHERE id = ?
	`), a.Status, a.Disposition, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AccountsWithRuleAlert returns the distinct accounts that already have
// an alert from the given rule within the given run.
func (s *Store) AccountsWithRuleAlert(ctx context.Context, correlationID, ruleID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT DISTINCT t.account_id
		FROM alerts al
		JOIN transactions t ON t.id = al.transaction_id
		WHERE al.correlation_id = ? AND al.rule_id = ?
	`), correlationID, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- audit log ---

const auditColumns = `id, correlation_id, action, entity_type, entity_id, ts, actor, details, prev_hash, row_hash`

func scanAuditEntry(scan func(dest ...any) error, e *domain.AuditEntry) error {
	var ts string
	if err := scan(
		&e.ID, &e.CorrelationID, &e.Action, &e.EntityType, &e.EntityID,
		&ts, &e.Actor, &e.DetailsRaw, &e.PrevHash, &e.RowHash,
	); err != nil {
		return err
	}
	t, err := time.Parse(domain.AuditTimeLayout, ts)
	if err != nil {
		return fmt.Errorf("malformed audit timestamp %q: %w", ts, err)
	}
	e.Timestamp = t
	if e.DetailsRaw != "" {
		json.Unmarshal([]byte(e.DetailsRaw), &e.Details)
	}
	return nil
}

// auditChainLockID keys the advisory lock serializing audit appends
// across Postgres sessions.
const auditChainLockID = 730162

// LockAuditTailTx serializes audit-log appends across processes. On
// Postgres (READ COMMITTED, so two transactions would otherwise both
// read the same tail) it takes a transaction-scoped advisory lock that
// is held until commit. SQLite writers already exclude each other at
// the file level.
func (s *Store) LockAuditTailTx(ctx context.Context, q DBTX) error {
	if s.driver != "postgres" {
		return nil
	}
	_, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(auditChainLockID))
	return err
}

// LastRowHashTx returns the row hash of the most recent audit entry, or
// "" when the log is empty.
func (s *Store) LastRowHashTx(ctx context.Context, q DBTX) (string, error) {
	var hash string
	err := q.QueryRowContext(ctx, `
		SELECT row_hash FROM audit_log ORDER BY id DESC LIMIT 1
	`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// InsertAuditEntryTx appends one audit entry and fills in its id. The
// timestamp is stored pre-formatted and DetailsRaw is stored verbatim;
// both participate in the row hash, so the stored bytes are exactly the
// hashed bytes.
func (s *Store) InsertAuditEntryTx(ctx context.Context, q DBTX, e *domain.AuditEntry) error {
	id, err := s.insertID(ctx, q, `
		INSERT INTO audit_log (
			correlation_id, action, entity_type, entity_id, ts, actor, details, prev_hash, row_hash
		) VALUES (`+s.rebind("?, ?, ?, ?, ?, ?, ?, ?, ?")+`)`,
		e.CorrelationID, e.Action, e.EntityType, e.EntityID,
		e.Timestamp.UTC().Format(domain.AuditTimeLayout), e.Actor,
		e.DetailsRaw, e.PrevHash, e.RowHash,
	)
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// AuditEntries returns audit entries in insertion order. A limit of 0
// or less means all entries.
func (s *Store) AuditEntries(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := scanAuditEntry(rows.Scan, &e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// AuditEntriesByCorrelation returns one run's audit entries in
// insertion order.
func (s *Store) AuditEntriesByCorrelation(ctx context.Context, correlationID string) ([]*domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+auditColumns+` FROM audit_log WHERE correlation_id = ? ORDER BY id
	`), correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := scanAuditEntry(rows.Scan, &e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// LastCheckpointEntry returns the most recent chunk checkpoint for the
// run, or domain.ErrNotFound when the run has none.
func (s *Store) LastCheckpointEntry(ctx context.Context, correlationID string) (*domain.AuditEntry, error) {
	var e domain.AuditEntry
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+auditColumns+` FROM audit_log
		WHERE correlation_id = ? AND action = ?
		ORDER BY id DESC LIMIT 1
	`), correlationID, domain.ActionEvaluateChunk)
	err := scanAuditEntry(row.Scan, &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RunCompleted reports whether the run has already written its
// completion entry.
func (s *Store) RunCompleted(ctx context.Context, correlationID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT 1 FROM audit_log WHERE correlation_id = ? AND action = ? LIMIT 1
	`), correlationID, domain.ActionRunCompleted).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// --- relationship edges ---

// UpsertEdgeTx writes one adjacency edge, replacing aggregates on
// conflict. The edge builder recomputes from full history, so replace
// semantics keep rebuilds deterministic.
func (s *Store) UpsertEdgeTx(ctx context.Context, q DBTX, e *domain.RelationshipEdge) error {
	_, err := q.ExecContext(ctx, s.rebind(`
		INSERT INTO relationship_edges (
			src_type, src_id, dst_type, dst_key, first_seen_at, last_seen_at, txn_count, correlation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (src_type, src_id, dst_type, dst_key) DO UPDATE SET
			first_seen_at = excluded.first_seen_at,
			last_seen_at = excluded.last_seen_at,
			txn_count = excluded.txn_count,
			correlation_id = excluded.correlation_id
	`), e.SrcType, e.SrcID, e.DstType, e.DstKey,
		e.FirstSeenAt.UTC(), e.LastSeenAt.UTC(), e.TxnCount, e.CorrelationID)
	return err
}

// CountEdges returns the number of stored relationship edges.
func (s *Store) CountEdges(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationship_edges`).Scan(&n)
	return n, err
}

// EdgesByCorrelation returns the edges last written by the given build
// run, in insertion order.
func (s *Store) EdgesByCorrelation(ctx context.Context, correlationID string) ([]*domain.RelationshipEdge, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, src_type, src_id, dst_type, dst_key, first_seen_at, last_seen_at, txn_count, correlation_id
		FROM relationship_edges WHERE correlation_id = ? ORDER BY id
	`), correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*domain.RelationshipEdge
	for rows.Next() {
		var e domain.RelationshipEdge
		if err := rows.Scan(&e.ID, &e.SrcType, &e.SrcID, &e.DstType, &e.DstKey,
			&e.FirstSeenAt, &e.LastSeenAt, &e.TxnCount, &e.CorrelationID); err != nil {
			return nil, err
		}
		e.FirstSeenAt = e.FirstSeenAt.UTC()
		e.LastSeenAt = e.LastSeenAt.UTC()
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// CounterpartyAggregates computes per-(account, counterparty) stats
// from transactions at or after since. Counterparties are matched on
// their trimmed lower-case form.
func (s *Store) CounterpartyAggregates(ctx context.Context, since time.Time) ([]*CounterpartyStat, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT t.account_id, a.customer_id, t.counterparty, t.ts
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.counterparty <> '' AND t.ts >= ?
		ORDER BY t.id
	`), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct {
		accountID int64
		cp        string
	}
	agg := map[key]*CounterpartyStat{}
	var order []key
	for rows.Next() {
		var accountID, customerID int64
		var cp string
		var ts time.Time
		if err := rows.Scan(&accountID, &customerID, &cp, &ts); err != nil {
			return nil, err
		}
		ts = ts.UTC()
		k := key{accountID, strings.ToLower(strings.TrimSpace(cp))}
		st, ok := agg[k]
		if !ok {
			st = &CounterpartyStat{
				AccountID:    accountID,
				CustomerID:   customerID,
				Counterparty: k.cp,
				FirstSeen:    ts,
				LastSeen:     ts,
			}
			agg[k] = st
			order = append(order, k)
		}
		if ts.Before(st.FirstSeen) {
			st.FirstSeen = ts
		}
		if ts.After(st.LastSeen) {
			st.LastSeen = ts
		}
		st.TxnCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]*CounterpartyStat, 0, len(order))
	for _, k := range order {
		stats = append(stats, agg[k])
	}
	return stats, nil
}

// AccountRingSignal computes the counterparty overlap between the given
// account and every other account, from edges active at or after since.
// Any account sharing at least one counterparty is linked; the shared
// set is the union of counterparties shared with any linked account,
// and degree is the number of linked accounts.
func (s *Store) AccountRingSignal(ctx context.Context, accountID int64, since time.Time) (*domain.RingSignal, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT e2.src_id, e2.dst_key
		FROM relationship_edges e1
		JOIN relationship_edges e2
			ON e2.dst_type = e1.dst_type AND e2.dst_key = e1.dst_key
			AND e2.src_type = e1.src_type AND e2.src_id <> e1.src_id
		WHERE e1.src_type = ? AND e1.src_id = ?
			AND e1.last_seen_at >= ? AND e2.last_seen_at >= ?
	`), domain.EdgeSrcAccount, accountID, since.UTC(), since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perAccount := map[int64]map[string]bool{}
	for rows.Next() {
		var otherID int64
		var key string
		if err := rows.Scan(&otherID, &key); err != nil {
			return nil, err
		}
		if perAccount[otherID] == nil {
			perAccount[otherID] = map[string]bool{}
		}
		perAccount[otherID][key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sig := &domain.RingSignal{}
	shared := map[string]bool{}
	for otherID, keys := range perAccount {
		sig.LinkedAccounts = append(sig.LinkedAccounts, otherID)
		for k := range keys {
			shared[k] = true
		}
	}
	for k := range shared {
		sig.SharedCounterparties = append(sig.SharedCounterparties, k)
	}
	sort.Slice(sig.LinkedAccounts, func(i, j int) bool { return sig.LinkedAccounts[i] < sig.LinkedAccounts[j] })
	sort.Strings(sig.SharedCounterparties)
	sig.OverlapCount = len(sig.SharedCounterparties)
	sig.Degree = len(sig.LinkedAccounts)
	return sig, nil
}
