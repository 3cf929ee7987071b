package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// DocumentRepository handles document persistence
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, dataset_id, filename, file_type, file_size, status, training_mode,
	chunk_size, chunk_count, error, created_at, updated_at`

// Create creates a new document record
func (r *DocumentRepository) Create(doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = domain.DocumentStatusPending
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.DatasetID, doc.Filename, doc.FileType, doc.FileSize, doc.Status,
		string(doc.TrainingMode), doc.ChunkSize, doc.ChunkCount, doc.Error,
		doc.CreatedAt, doc.UpdatedAt)

	return err
}

// Get retrieves a document by ID
func (r *DocumentRepository) Get(id string) (*domain.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ListByDataset retrieves a page of documents of a dataset and the total count
func (r *DocumentRepository) ListByDataset(datasetID string, page, pageSize int) ([]*domain.Document, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	var total int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE dataset_id = ?`, datasetID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(`
		SELECT `+documentColumns+` FROM documents
		WHERE dataset_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, datasetID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}

	return docs, total, rows.Err()
}

// UpdateStatus records the processing outcome of a document
func (r *DocumentRepository) UpdateStatus(id, status string, chunkCount int, errMsg string) error {
	result, err := r.db.Exec(`
		UPDATE documents SET status = ?, chunk_count = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, status, chunkCount, errMsg, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, "document", id)
}

// Delete deletes a document record
func (r *DocumentRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(result, "document", id)
}

// Count returns the number of documents
func (r *DocumentRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	doc := &domain.Document{}
	var mode string

	if err := row.Scan(&doc.ID, &doc.DatasetID, &doc.Filename, &doc.FileType, &doc.FileSize,
		&doc.Status, &mode, &doc.ChunkSize, &doc.ChunkCount, &doc.Error,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.TrainingMode = domain.TrainingMode(mode)
	return doc, nil
}
