// Package alerts implements the analyst-facing alert workflow: listing,
// lookup and dispositioning. Dispositions never delete alerts; every
// update leaves an audit entry recording the transition.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kite/internal/audit"
	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/repository"
)

// Service manages alert state transitions.
type Service struct {
	store  *repository.Store
	chain  *audit.Chain
	logger *slog.Logger
}

// NewService creates an alert service.
func NewService(store *repository.Store, chain *audit.Chain, logger *slog.Logger) *Service {
	return &Service{store: store, chain: chain, logger: logger}
}

// List returns alerts matching the filter, newest first.
func (s *Service) List(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListAlerts(ctx, f)
}

// Get returns one alert by id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// UpdateDisposition sets an alert's status and disposition. The update
// and its audit entry commit in one transaction, so the alert table and
// the chain cannot disagree about what the analyst decided.
func (s *Service) UpdateDisposition(ctx context.Context, id int64, status, disposition string, rc domain.RunContext) (*domain.Alert, error) {
	if !domain.ValidAlertStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	if !domain.ValidDisposition(disposition) {
		return nil, fmt.Errorf("invalid disposition %q", disposition)
	}

	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus, oldDisposition := alert.Status, alert.Disposition
	now := time.Now().UTC()
	alert.Status = status
	alert.Disposition = disposition
	alert.UpdatedAt = &now

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.store.UpdateAlertTx(ctx, tx, alert); err != nil {
		return nil, err
	}

	entry := &domain.AuditEntry{
		CorrelationID: rc.CorrelationID,
		Action:        domain.ActionDispositionUpdate,
		EntityType:    "alert",
		EntityID:      fmt.Sprintf("%d", id),
		Actor:         rc.Actor,
		Details: map[string]any{
			"old_status":      oldStatus,
			"new_status":      status,
			"old_disposition": oldDisposition,
			"new_disposition": disposition,
		},
	}
	if err := s.chain.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append disposition entry: %w", err)
	}

	s.logger.Info("alert dispositioned",
		"alert_id", id,
		"status", status,
		"disposition", disposition,
		"actor", rc.Actor,
	)
	return alert, nil
}
