package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists documents, their extracted-data versions and the jobs
// queued for them.
type Repository interface {
	Insert(ctx context.Context, d *Document) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Document, error)
	List(ctx context.Context, f ListFilter) ([]Document, int, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	Transition(ctx context.Context, orgID, id uuid.UUID, to Status, reason string) (*Document, error)
	SaveVersion(ctx context.Context, documentID uuid.UUID, source VersionSource, data json.RawMessage, userID *uuid.UUID) (*Version, error)
	// CompleteProcessing moves the document to processed and stores data as
	// an extraction version, both or neither.
	CompleteProcessing(ctx context.Context, orgID, id uuid.UUID, data json.RawMessage) (*Version, error)
	LatestVersion(ctx context.Context, documentID uuid.UUID) (*Version, error)
	ListVersions(ctx context.Context, documentID uuid.UUID) ([]Version, error)
	RecordJob(ctx context.Context, jobID string, documentID uuid.UUID, queue string) (*JobRecord, error)
	ListJobs(ctx context.Context, orgID, documentID uuid.UUID) ([]JobRecord, error)
	GetJob(ctx context.Context, orgID uuid.UUID, jobID string) (*JobRecord, error)
}

// querier is the part of pgxpool.Pool and pgx.Tx the statements need.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository is the Postgres Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const documentColumns = `id, org_id, uploaded_by_user_id, name, object_key, content_type, size_bytes,
	sha256, document_type, status, processing_error, processing_started_at, processed_at,
	created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var uploader uuid.NullUUID
	if err := row.Scan(
		&d.ID, &d.OrgID, &uploader, &d.Name, &d.ObjectKey, &d.ContentType, &d.SizeBytes,
		&d.SHA256, &d.DocumentType, &d.Status, &d.ProcessingError, &d.ProcessingStartedAt, &d.ProcessedAt,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if uploader.Valid {
		id := uploader.UUID
		d.UploadedByUserID = &id
	}
	return &d, nil
}

func (r *PGRepository) Insert(ctx context.Context, d *Document) error {
	var uploader uuid.NullUUID
	if d.UploadedByUserID != nil {
		uploader = uuid.NullUUID{UUID: *d.UploadedByUserID, Valid: true}
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO documents (id, org_id, uploaded_by_user_id, name, object_key, content_type, size_bytes, sha256, document_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, d.ID, d.OrgID, uploader, d.Name, d.ObjectKey, d.ContentType, d.SizeBytes, d.SHA256, d.DocumentType, string(d.Status),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, orgID, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE org_id = $1 AND id = $2
	`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

func (r *PGRepository) List(ctx context.Context, f ListFilter) ([]Document, int, error) {
	f = f.Normalize()

	where := []string{"org_id = $1"}
	args := []any{f.OrgID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if f.DocumentType != "" {
		args = append(args, f.DocumentType)
		where = append(where, "document_type = $"+strconv.Itoa(len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE `+clause+`
		ORDER BY created_at DESC, id
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, total, nil
}

func (r *PGRepository) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Transition moves a document to status to, but only from a status that
// CanTransition allows. reason is stored as processing_error for failures.
func (r *PGRepository) Transition(ctx context.Context, orgID, id uuid.UUID, to Status, reason string) (*Document, error) {
	d, err := transition(ctx, r.pool, orgID, id, to, reason)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, orgID, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return d, err
}

// transition updates the status when the current one may move to to. It
// returns pgx.ErrNoRows when no row matched.
func transition(ctx context.Context, q querier, orgID, id uuid.UUID, to Status, reason string) (*Document, error) {
	var processingError *string
	if to == StatusProcessingFailed {
		processingError = &reason
	}

	d, err := scanDocument(q.QueryRow(ctx, `
		UPDATE documents
		SET status = $3,
		    processing_error = $4,
		    processing_started_at = CASE WHEN $3 = 'processing' THEN NOW() ELSE processing_started_at END,
		    processed_at = CASE WHEN $3 = 'processed' THEN NOW() ELSE NULL END,
		    updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND status = ANY($5)
		RETURNING `+documentColumns,
		orgID, id, string(to), processingError, sourcesOf(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update document status: %w", err)
	}
	return d, nil
}

const versionColumns = `id, document_id, version, source, extracted_data, created_by_user_id, created_at`

func scanVersion(row pgx.Row) (*Version, error) {
	var v Version
	var createdBy uuid.NullUUID
	if err := row.Scan(&v.ID, &v.DocumentID, &v.Version, &v.Source, &v.ExtractedData, &createdBy, &v.CreatedAt); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		id := createdBy.UUID
		v.CreatedByUserID = &id
	}
	return &v, nil
}

// SaveVersion appends the next version of a document's extracted data. The
// document row is locked so concurrent saves number sequentially.
func (r *PGRepository) SaveVersion(ctx context.Context, documentID uuid.UUID, source VersionSource, data json.RawMessage, userID *uuid.UUID) (*Version, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}

	v, err := insertVersion(ctx, tx, documentID, source, data, userID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE documents SET updated_at = NOW() WHERE id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("failed to touch document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit document version: %w", err)
	}
	return v, nil
}

// CompleteProcessing runs the status change first; its UPDATE locks the row
// for the version insert that follows in the same transaction.
func (r *PGRepository) CompleteProcessing(ctx context.Context, orgID, id uuid.UUID, data json.RawMessage) (*Version, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := transition(ctx, tx, orgID, id, StatusProcessed, ""); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM documents WHERE org_id = $1 AND id = $2)
		`, orgID, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to look up document: %w", err)
		}
		if !exists {
			return nil, ErrDocumentNotFound
		}
		return nil, ErrInvalidTransition
	}

	v, err := insertVersion(ctx, tx, id, SourceExtraction, data, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit processing result: %w", err)
	}
	return v, nil
}

func insertVersion(ctx context.Context, q querier, documentID uuid.UUID, source VersionSource, data json.RawMessage, userID *uuid.UUID) (*Version, error) {
	var createdBy uuid.NullUUID
	if userID != nil {
		createdBy = uuid.NullUUID{UUID: *userID, Valid: true}
	}

	v, err := scanVersion(q.QueryRow(ctx, `
		INSERT INTO document_versions (document_id, version, source, extracted_data, created_by_user_id)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		FROM document_versions
		WHERE document_id = $1
		RETURNING `+versionColumns,
		documentID, string(source), []byte(data), createdBy))
	if err != nil {
		return nil, fmt.Errorf("failed to insert document version: %w", err)
	}
	return v, nil
}

func (r *PGRepository) LatestVersion(ctx context.Context, documentID uuid.UUID) (*Version, error) {
	v, err := scanVersion(r.pool.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotProcessed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document version: %w", err)
	}
	return v, nil
}

func (r *PGRepository) ListVersions(ctx context.Context, documentID uuid.UUID) ([]Version, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+versionColumns+`
		FROM document_versions
		WHERE document_id = $1
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document versions: %w", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document version: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (r *PGRepository) RecordJob(ctx context.Context, jobID string, documentID uuid.UUID, queue string) (*JobRecord, error) {
	rec := JobRecord{JobID: jobID, DocumentID: documentID, Queue: queue}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO document_jobs (job_id, document_id, queue)
		VALUES ($1, $2, $3)
		RETURNING created_at, (SELECT org_id FROM documents WHERE id = $2)
	`, jobID, documentID, queue).Scan(&rec.CreatedAt, &rec.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to record job: %w", err)
	}
	return &rec, nil
}

func (r *PGRepository) ListJobs(ctx context.Context, orgID, documentID uuid.UUID) ([]JobRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT j.job_id, j.document_id, d.org_id, j.queue, j.created_at
		FROM document_jobs j
		JOIN documents d ON d.id = j.document_id
		WHERE d.org_id = $1 AND j.document_id = $2
		ORDER BY j.created_at DESC
	`, orgID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRecord{}
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.JobID, &j.DocumentID, &j.OrgID, &j.Queue, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJob returns a job only when its document belongs to orgID.
func (r *PGRepository) GetJob(ctx context.Context, orgID uuid.UUID, jobID string) (*JobRecord, error) {
	var j JobRecord
	err := r.pool.QueryRow(ctx, `
		SELECT j.job_id, j.document_id, d.org_id, j.queue, j.created_at
		FROM document_jobs j
		JOIN documents d ON d.id = j.document_id
		WHERE d.org_id = $1 AND j.job_id = $2
	`, orgID, jobID).Scan(&j.JobID, &j.DocumentID, &j.OrgID, &j.Queue, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}
