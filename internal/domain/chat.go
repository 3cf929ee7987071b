package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChatRole is the author of a message
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ValueType tags a ValueItem variant
type ValueType string

const (
	ValueText ValueType = "text"
	ValueFile ValueType = "file"
	ValueTool ValueType = "tool"
)

// TextValue is the payload of a text item
type TextValue struct {
	Content string `json:"content"`
}

// FileValue is the payload of a file item
type FileValue struct {
	Kind string `json:"type"` // image, file
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// ToolCall is one tool invocation recorded on an assistant message
type ToolCall struct {
	ID           string `json:"id"`
	ToolName     string `json:"tool_name"`
	ToolAvatar   string `json:"tool_avatar,omitempty"`
	FunctionName string `json:"function_name"`
	Params       string `json:"params,omitempty"`
	Response     string `json:"response,omitempty"`
}

// ValueItem is a tagged variant; exactly the field named by Type is set.
type ValueItem struct {
	Type  ValueType  `json:"type"`
	Text  *TextValue `json:"text,omitempty"`
	File  *FileValue `json:"file,omitempty"`
	Tools []ToolCall `json:"tools,omitempty"`
}

// TextItem builds a text ValueItem
func TextItem(content string) ValueItem {
	return ValueItem{Type: ValueText, Text: &TextValue{Content: content}}
}

// FileItem builds a file ValueItem
func FileItem(kind, name, url string) ValueItem {
	return ValueItem{Type: ValueFile, File: &FileValue{Kind: kind, Name: name, URL: url}}
}

// Message represents a chat message
type Message struct {
	DataID    string      `json:"data_id,omitempty"`
	Role      ChatRole    `json:"role"`
	Value     []ValueItem `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewTextMessage creates a message holding a single text item
func NewTextMessage(role ChatRole, content string) Message {
	return Message{Role: role, Value: []ValueItem{TextItem(content)}}
}

// Text joins the content of all text items with newlines.
func (m Message) Text() string {
	var parts []string
	for _, item := range m.Value {
		if item.Type == ValueText && item.Text != nil {
			parts = append(parts, item.Text.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Files collects the file items in order.
func (m Message) Files() []FileValue {
	var files []FileValue
	for _, item := range m.Value {
		if item.Type == ValueFile && item.File != nil {
			files = append(files, *item.File)
		}
	}
	return files
}

var permittedValues = map[ChatRole]map[ValueType]bool{
	RoleSystem:    {ValueText: true, ValueFile: true},
	RoleUser:      {ValueText: true, ValueFile: true},
	RoleAssistant: {ValueText: true, ValueTool: true},
}

// Validate checks that the value sequence is non-empty and every item is a
// variant permitted for the message role with its payload present.
func (m Message) Validate() error {
	allowed, ok := permittedValues[m.Role]
	if !ok {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, m.Role)
	}
	if len(m.Value) == 0 {
		return fmt.Errorf("%w: %s message has no value", ErrInvalidRequest, m.Role)
	}
	for i, item := range m.Value {
		if !allowed[item.Type] {
			return fmt.Errorf("%w: %s message cannot carry %q item", ErrInvalidRequest, m.Role, item.Type)
		}
		switch {
		case item.Type == ValueText && item.Text == nil,
			item.Type == ValueFile && (item.File == nil || item.File.URL == ""),
			item.Type == ValueTool && len(item.Tools) == 0:
			return fmt.Errorf("%w: value item %d has no %s payload", ErrInvalidRequest, i, item.Type)
		}
	}
	return nil
}

// HistorySummary is one entry of the conversation list
type HistorySummary struct {
	ChatID      string    `json:"chat_id"`
	AppID       string    `json:"app_id"`
	UpdateTime  time.Time `json:"update_time"`
	Title       string    `json:"title"`
	CustomTitle string    `json:"custom_title,omitempty"`
	Top         bool      `json:"top"`
}

// DisplayTitle prefers the user supplied title
func (h HistorySummary) DisplayTitle() string {
	if h.CustomTitle != "" {
		return h.CustomTitle
	}
	return h.Title
}

// Chat is the persisted conversation record
type Chat struct {
	ChatID      string         `json:"chat_id"`
	AppID       string         `json:"app_id"`
	Title       string         `json:"title"`
	CustomTitle string         `json:"custom_title,omitempty"`
	Top         bool           `json:"top"`
	Variables   map[string]any `json:"variables,omitempty"`
	Source      string         `json:"source"`
	UpdateTime  time.Time      `json:"update_time"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Summary projects the record onto a history list entry
func (c *Chat) Summary() HistorySummary {
	return HistorySummary{
		ChatID:      c.ChatID,
		AppID:       c.AppID,
		UpdateTime:  c.UpdateTime,
		Title:       c.Title,
		CustomTitle: c.CustomTitle,
		Top:         c.Top,
	}
}

// Chat sources
const (
	ChatSourceOnline = "online"
	ChatSourceAPI    = "api"
)

// CompletionRequest is the body of a streamed completion
type CompletionRequest struct {
	AppID     string         `json:"app_id" binding:"required"`
	ChatID    string         `json:"chat_id" binding:"required"`
	Messages  []Message      `json:"messages" binding:"required"`
	Variables map[string]any `json:"variables,omitempty"`
}

// AppInfo is the part of an app shown in a chat view
type AppInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Intro       string `json:"intro,omitempty"`
	WelcomeText string `json:"welcome_text,omitempty"`
}

// InitChatResponse seeds a chat view
type InitChatResponse struct {
	ChatID    string         `json:"chat_id"`
	AppID     string         `json:"app_id"`
	Title     string         `json:"title"`
	Variables map[string]any `json:"variables,omitempty"`
	App       AppInfo        `json:"app"`
	History   []Message      `json:"history"`
}

// UpdateHistoryRequest is the request to change a history entry
type UpdateHistoryRequest struct {
	AppID       string  `json:"app_id" binding:"required"`
	ChatID      string  `json:"chat_id" binding:"required"`
	Title       *string `json:"title,omitempty"`
	CustomTitle *string `json:"custom_title,omitempty"`
	Top         *bool   `json:"top,omitempty"`
}

// Stream event names written on the completions SSE stream
const (
	EventAnswer       = "answer"
	EventResponseData = "responseData"
	EventError        = "error"
	EventDone         = "done"
)

// StreamChunk represents a chunk in SSE stream
type StreamChunk struct {
	Type    string          `json:"type"` // answer, responseData, error, done
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AnswerPayload is the data of an answer event
type AnswerPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Message string `json:"message"`
}

// Quote represents a citation from a dataset
type Quote struct {
	DatasetID  string  `json:"dataset_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// Usage reports token usage of a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ResponseData is the side data sent once at the end of a completion
type ResponseData struct {
	Model    string        `json:"model"`
	Quotes   []Quote       `json:"quotes,omitempty"`
	Usage    *Usage        `json:"usage,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Stats represents system statistics
type Stats struct {
	TotalApps      int `json:"total_apps"`
	TotalDatasets  int `json:"total_datasets"`
	TotalDocuments int `json:"total_documents"`
	TotalChats     int `json:"total_chats"`
}
