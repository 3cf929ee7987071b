package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// DatasetRepository handles dataset persistence
type DatasetRepository struct {
	db *DB
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

const datasetColumns = `id, name, intro, vector_model, agent_model, document_count, created_at, updated_at`

// Create creates a new dataset
func (r *DatasetRepository) Create(ds *domain.Dataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	vectorJSON, _ := json.Marshal(ds.VectorModel)
	agentJSON, _ := json.Marshal(ds.AgentModel)

	_, err := r.db.Exec(`
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ds.ID, ds.Name, ds.Intro, string(vectorJSON), string(agentJSON),
		ds.DocumentCount, ds.CreatedAt, ds.UpdatedAt)

	return err
}

// Get retrieves a dataset by ID
func (r *DatasetRepository) Get(id string) (*domain.Dataset, error) {
	ds, err := scanDataset(r.db.QueryRow(`SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ds, err
}

// List retrieves all datasets
func (r *DatasetRepository) List() ([]*domain.Dataset, error) {
	rows, err := r.db.Query(`SELECT ` + datasetColumns + ` FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []*domain.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}

	return datasets, rows.Err()
}

// Update updates a dataset
func (r *DatasetRepository) Update(ds *domain.Dataset) error {
	ds.UpdatedAt = time.Now()
	vectorJSON, _ := json.Marshal(ds.VectorModel)
	agentJSON, _ := json.Marshal(ds.AgentModel)

	result, err := r.db.Exec(`
		UPDATE datasets SET name = ?, intro = ?, vector_model = ?, agent_model = ?, updated_at = ?
		WHERE id = ?
	`, ds.Name, ds.Intro, string(vectorJSON), string(agentJSON), ds.UpdatedAt, ds.ID)
	if err != nil {
		return err
	}

	return expectAffected(result, "dataset", ds.ID)
}

// Delete deletes a dataset and its document records
func (r *DatasetRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(result, "dataset", id)
}

// IncrementDocumentCount adjusts the document count by delta
func (r *DatasetRepository) IncrementDocumentCount(id string, delta int) error {
	_, err := r.db.Exec(`
		UPDATE datasets SET document_count = MAX(document_count + ?, 0), updated_at = ?
		WHERE id = ?
	`, delta, time.Now(), id)
	return err
}

// Count returns the number of datasets
func (r *DatasetRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM datasets`).Scan(&n)
	return n, err
}

func scanDataset(row rowScanner) (*domain.Dataset, error) {
	ds := &domain.Dataset{}
	var vectorJSON, agentJSON string

	if err := row.Scan(&ds.ID, &ds.Name, &ds.Intro, &vectorJSON, &agentJSON,
		&ds.DocumentCount, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(vectorJSON), &ds.VectorModel)
	json.Unmarshal([]byte(agentJSON), &ds.AgentModel)
	return ds, nil
}
