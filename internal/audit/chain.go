// Package audit maintains the hash-chained, append-only audit log.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
)

// GenesisHash is the prev_hash of the first entry in an empty log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Chain appends hash-linked audit entries. The tail read, the insert
// and the caller's commit form one critical section under a mutex, so
// prev_hash always names the latest durable row even when ingestion
// and evaluation write concurrently. Across processes the store takes
// a driver-level lock inside the transaction.
type Chain struct {
	store *repository.Store

	mu  sync.Mutex
	now func() time.Time
}

// NewChain creates a chain over the given store.
func NewChain(store *repository.Store) *Chain {
	return &Chain{store: store, now: time.Now}
}

// Tx is the open transaction Append finishes: the entry must land in
// the same commit as the caller's other writes, and that commit must
// happen before any other appender reads the tail.
type Tx interface {
	repository.DBTX
	Commit() error
}

// Append hashes and inserts one entry as the last write of tx, then
// commits it. The entry's timestamp, serialized details, prev_hash and
// row_hash are filled in. Releasing the mutex before the commit would
// let a concurrent append read the pre-commit tail and fork the chain,
// so the commit stays inside the critical section. On failure the
// caller's rollback discards the entry and the chain is unaffected.
func (c *Chain) Append(ctx context.Context, tx Tx, e *domain.AuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	if e.Actor == "" {
		e.Actor = domain.DefaultActor
	}
	e.DetailsRaw = serializeDetails(e.Details)

	if err := c.store.LockAuditTailTx(ctx, tx); err != nil {
		return err
	}
	prev, err := c.store.LastRowHashTx(ctx, tx)
	if err != nil {
		return err
	}
	if prev == "" {
		prev = GenesisHash
	}

	e.PrevHash = prev
	e.RowHash = rowHash(prev, canonicalString(e))

	if err := c.store.InsertAuditEntryTx(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// Verify walks the full log in insertion order, recomputing every link
// from the stored bytes. Returns the number of verified entries, or a
// *domain.ChainError naming the first divergence. Tampering is
// reported, never repaired.
func (c *Chain) Verify(ctx context.Context) (int, error) {
	entries, err := c.store.AuditEntries(ctx, 0)
	if err != nil {
		return 0, err
	}

	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return i, &domain.ChainError{Index: i, EntryID: e.ID, Reason: "prev_hash does not match preceding row"}
		}
		if got := rowHash(prev, canonicalString(e)); got != e.RowHash {
			return i, &domain.ChainError{Index: i, EntryID: e.ID, Reason: "row_hash does not match entry content"}
		}
		prev = e.RowHash
	}
	return len(entries), nil
}

// canonicalString is the exact byte sequence hashed for one entry.
// Field order and the timestamp layout are fixed; DetailsRaw is used as
// stored so verification is independent of decoder behavior.
func canonicalString(e *domain.AuditEntry) string {
	return strings.Join([]string{
		e.CorrelationID,
		e.Action,
		e.EntityType,
		e.EntityID,
		e.Timestamp.UTC().Format(domain.AuditTimeLayout),
		e.Actor,
		e.DetailsRaw,
	}, "|")
}

func rowHash(prevHash, canonical string) string {
	sum := sha256.Sum256([]byte(prevHash + canonical))
	return hex.EncodeToString(sum[:])
}

// serializeDetails renders details with sorted keys. encoding/json
// sorts map keys, which keeps the serialization stable.
func serializeDetails(details map[string]any) string {
	if len(details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "{}"
	}
	return string(b)
}
