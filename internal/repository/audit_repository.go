package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// AuditRepository appends and reads immutable audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. Entries are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO audit_log
		    (id, request_id, entity_type, entity_id,
		     action, performed_by,
		     request_status_before, request_status_after,
		     metadata)
		VALUES ($1, $2, $3, $4,
		        $5, $6,
		        $7, $8,
		        $9)
		RETURNING performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.PerformedBy,
		entry.RequestStatusBefore,
		entry.RequestStatusAfter,
		metadataJSON,
	).Scan(&entry.PerformedAt)
}

// ListByRequest returns a request's audit trail oldest-first.
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, request_id, entity_type, entity_id,
		       action, performed_by, performed_at,
		       request_status_before, request_status_after,
		       metadata
		FROM audit_log
		WHERE request_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *AuditRepository) scanEntry(sc rowScanner) (*domain.AuditEntry, error) {
	entry := &domain.AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.RequestStatusBefore,
		&entry.RequestStatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
