package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
)

// AuditRecord is one immutable audit trail entry.
type AuditRecord struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  string
	NextState  string
	Reason     string
	Metadata   map[string]any
}

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single audit record inside the caller's transaction, so a
// failed write aborts the movement it describes.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, rec AuditRecord) error {
	var metadata []byte
	if len(rec.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: rec.EntityType,
		EntityID:   repository.ToPgUUID(rec.EntityID),
		ActorID:    repository.NullableUUID(rec.ActorID),
		Action:     rec.Action,
		PrevState:  textParam(rec.PrevState),
		NextState:  textParam(rec.NextState),
		Reason:     textParam(rec.Reason),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Trail returns the audit entries recorded for one entity, oldest first.
func (s *AuditService) Trail(ctx context.Context, entityType string, entityID uuid.UUID) ([]repository.AuditLog, error) {
	rows, err := s.store.Queries().ListAuditLogForEntity(ctx, entityType, repository.ToPgUUID(entityID))
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return rows, nil
}
