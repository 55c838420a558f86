package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-acq-requests/internal/domain"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/errors"
)

// DocumentRepository handles package document rows. Documents are never
// deleted.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	id, request_id, template_id, document_type, title, status,
	required_before_gate, is_required, was_required, applicability,
	assigned_to, completed_at, notes, created_at, updated_at`

// ListByRequest returns a request's documents in creation order.
func (r *DocumentRepository) ListByRequest(ctx context.Context, requestID string) ([]*domain.PackageDocument, error) {
	query := `SELECT` + documentColumns + `
		FROM package_documents
		WHERE request_id = $1
		ORDER BY created_at ASC, template_id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list package documents")
	}
	defer rows.Close()

	var docs []*domain.PackageDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan package document")
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetForUpdate retrieves and locks one document.
func (r *DocumentRepository) GetForUpdate(ctx context.Context, id string) (*domain.PackageDocument, error) {
	query := `SELECT` + documentColumns + `
		FROM package_documents
		WHERE id = $1
		FOR UPDATE
	`

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("package_document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get package document")
	}
	return d, nil
}

// Save inserts documents without an ID and updates the rest.
func (r *DocumentRepository) Save(ctx context.Context, docs []*domain.PackageDocument) error {
	insert := `
		INSERT INTO package_documents
		    (id, request_id, template_id, document_type, title, status,
		     required_before_gate, is_required, was_required, applicability,
		     assigned_to, completed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13)
		RETURNING created_at, updated_at
	`
	update := `
		UPDATE package_documents
		SET status               = $2,
		    required_before_gate = $3,
		    is_required          = $4,
		    was_required         = $5,
		    applicability        = $6,
		    assigned_to          = $7,
		    completed_at         = $8,
		    notes                = $9,
		    updated_at           = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
			err := r.db.QueryRow(ctx, insert,
				d.ID, d.RequestID, d.TemplateID, d.DocumentType, d.Title, d.Status,
				d.RequiredBeforeGate, d.IsRequired, d.WasRequired, d.Applicability,
				d.AssignedTo, d.CompletedAt, d.Notes,
			).Scan(&d.CreatedAt, &d.UpdatedAt)
			if err != nil {
				d.ID = ""
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create package document")
			}
			continue
		}

		err := r.db.QueryRow(ctx, update,
			d.ID, d.Status, d.RequiredBeforeGate, d.IsRequired, d.WasRequired,
			d.Applicability, d.AssignedTo, d.CompletedAt, d.Notes,
		).Scan(&d.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.NotFound("package_document", d.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update package document")
		}
	}
	return nil
}

func scanDocument(row rowScanner) (*domain.PackageDocument, error) {
	d := &domain.PackageDocument{}
	err := row.Scan(
		&d.ID,
		&d.RequestID,
		&d.TemplateID,
		&d.DocumentType,
		&d.Title,
		&d.Status,
		&d.RequiredBeforeGate,
		&d.IsRequired,
		&d.WasRequired,
		&d.Applicability,
		&d.AssignedTo,
		&d.CompletedAt,
		&d.Notes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
