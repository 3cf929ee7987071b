package repository

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// ChatRepository handles chat and chat item persistence
type ChatRepository struct {
	db *DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *DB) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatColumns = `chat_id, app_id, title, custom_title, top, variables, source, update_time, created_at`

// SaveChat inserts a chat or, when it exists, refreshes its update time and variables.
// Title, custom title and pin state of an existing chat are left alone.
func (r *ChatRepository) SaveChat(chat *domain.Chat) error {
	now := time.Now()
	if chat.UpdateTime.IsZero() {
		chat.UpdateTime = now
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.Source == "" {
		chat.Source = domain.ChatSourceOnline
	}

	var variablesJSON any
	if chat.Variables != nil {
		b, _ := json.Marshal(chat.Variables)
		variablesJSON = string(b)
	}

	_, err := r.db.Exec(`
		INSERT INTO chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			update_time = excluded.update_time,
			variables = COALESCE(excluded.variables, chats.variables)
	`, chat.ChatID, chat.AppID, chat.Title, chat.CustomTitle, chat.Top,
		variablesJSON, chat.Source, chat.UpdateTime, chat.CreatedAt)

	return err
}

// GetChat retrieves a chat by ID
func (r *ChatRepository) GetChat(chatID string) (*domain.Chat, error) {
	chat, err := scanChat(r.db.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE chat_id = ?`, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return chat, err
}

// ListChats retrieves the chats of an app, pinned first then most recent
func (r *ChatRepository) ListChats(appID string, limit int) ([]*domain.Chat, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(`
		SELECT `+chatColumns+` FROM chats
		WHERE app_id = ?
		ORDER BY top DESC, update_time DESC
		LIMIT ?
	`, appID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// UpdateChat applies the fields set on the request to the chat
func (r *ChatRepository) UpdateChat(req *domain.UpdateHistoryRequest) error {
	var sets []string
	var args []any

	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
	}
	if req.CustomTitle != nil {
		sets = append(sets, "custom_title = ?")
		args = append(args, *req.CustomTitle)
	}
	if req.Top != nil {
		sets = append(sets, "top = ?")
		args = append(args, *req.Top)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, req.ChatID, req.AppID)
	result, err := r.db.Exec(`UPDATE chats SET `+strings.Join(sets, ", ")+
		` WHERE chat_id = ? AND app_id = ?`, args...)
	if err != nil {
		return err
	}

	return expectAffected(result, "chat", req.ChatID)
}

// DeleteChat deletes a chat and its items
func (r *ChatRepository) DeleteChat(appID, chatID string) error {
	result, err := r.db.Exec(`DELETE FROM chats WHERE chat_id = ? AND app_id = ?`, chatID, appID)
	if err != nil {
		return err
	}
	return expectAffected(result, "chat", chatID)
}

// DeleteChatsByApp deletes every chat of an app and returns how many were removed
func (r *ChatRepository) DeleteChatsByApp(appID string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM chats WHERE app_id = ?`, appID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateItem appends a message to a chat
func (r *ChatRepository) CreateItem(chatID, appID string, msg *domain.Message, responseData json.RawMessage) error {
	if msg.DataID == "" {
		msg.DataID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	valueJSON, err := json.Marshal(msg.Value)
	if err != nil {
		return err
	}
	var rd any
	if len(responseData) > 0 {
		rd = string(responseData)
	}

	_, err = r.db.Exec(`
		INSERT INTO chat_items (data_id, chat_id, app_id, role, value, response_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.DataID, chatID, appID, string(msg.Role), string(valueJSON), rd, msg.CreatedAt)

	return err
}

// ListItems retrieves the last limit messages of a chat in chronological order.
// A limit of zero or less returns all of them.
func (r *ChatRepository) ListItems(chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}

	// rowid keeps insertion order when created_at ties
	rows, err := r.db.Query(`
		SELECT data_id, role, value, created_at FROM (
			SELECT rowid, data_id, role, value, created_at FROM chat_items
			WHERE chat_id = ?
			ORDER BY rowid DESC
			LIMIT ?
		) ORDER BY rowid ASC
	`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role, valueJSON string
		if err := rows.Scan(&msg.DataID, &role, &valueJSON, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = domain.ChatRole(role)
		if err := json.Unmarshal([]byte(valueJSON), &msg.Value); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CountChats returns the number of chats
func (r *ChatRepository) CountChats() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	chat := &domain.Chat{}
	var variablesJSON sql.NullString

	if err := row.Scan(&chat.ChatID, &chat.AppID, &chat.Title, &chat.CustomTitle, &chat.Top,
		&variablesJSON, &chat.Source, &chat.UpdateTime, &chat.CreatedAt); err != nil {
		return nil, err
	}

	if variablesJSON.Valid {
		json.Unmarshal([]byte(variablesJSON.String), &chat.Variables)
	}
	return chat, nil
}
