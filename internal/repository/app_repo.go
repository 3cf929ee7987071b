package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// AppRepository handles app persistence
type AppRepository struct {
	db *DB
}

// NewAppRepository creates a new app repository
func NewAppRepository(db *DB) *AppRepository {
	return &AppRepository{db: db}
}

const appColumns = `id, name, intro, model, dataset_ids, chat_config, created_at, updated_at`

// Create creates a new app
func (r *AppRepository) Create(app *domain.App) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	now := time.Now()
	app.CreatedAt = now
	app.UpdatedAt = now

	datasetIDsJSON, _ := json.Marshal(nonNil(app.DatasetIDs))
	chatConfigJSON, _ := json.Marshal(app.ChatConfig)

	_, err := r.db.Exec(`
		INSERT INTO apps (`+appColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, app.ID, app.Name, app.Intro, app.Model, string(datasetIDsJSON),
		string(chatConfigJSON), app.CreatedAt, app.UpdatedAt)

	return err
}

// Get retrieves an app by ID
func (r *AppRepository) Get(id string) (*domain.App, error) {
	app, err := scanApp(r.db.QueryRow(`SELECT `+appColumns+` FROM apps WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return app, err
}

// List retrieves all apps
func (r *AppRepository) List() ([]*domain.App, error) {
	rows, err := r.db.Query(`SELECT ` + appColumns + ` FROM apps ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*domain.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}

// Update updates an app
func (r *AppRepository) Update(app *domain.App) error {
	app.UpdatedAt = time.Now()
	datasetIDsJSON, _ := json.Marshal(nonNil(app.DatasetIDs))
	chatConfigJSON, _ := json.Marshal(app.ChatConfig)

	result, err := r.db.Exec(`
		UPDATE apps SET name = ?, intro = ?, model = ?, dataset_ids = ?, chat_config = ?, updated_at = ?
		WHERE id = ?
	`, app.Name, app.Intro, app.Model, string(datasetIDsJSON),
		string(chatConfigJSON), app.UpdatedAt, app.ID)
	if err != nil {
		return err
	}

	return expectAffected(result, "app", app.ID)
}

// Delete deletes an app together with its chats
func (r *AppRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM apps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(result, "app", id)
}

// Count returns the number of apps
func (r *AppRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM apps`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*domain.App, error) {
	app := &domain.App{}
	var datasetIDsJSON string
	var chatConfigJSON sql.NullString

	if err := row.Scan(&app.ID, &app.Name, &app.Intro, &app.Model, &datasetIDsJSON,
		&chatConfigJSON, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(datasetIDsJSON), &app.DatasetIDs)
	app.ChatConfig = domain.DefaultChatConfig()
	if chatConfigJSON.Valid {
		json.Unmarshal([]byte(chatConfigJSON.String), &app.ChatConfig)
	}
	return app, nil
}

// expectAffected turns an update that touched no row into ErrNotFound
func expectAffected(result sql.Result, kind, id string) error {
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
