package domain

import "time"

// App is a chat application bound to a set of datasets
type App struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Intro      string     `json:"intro,omitempty"`
	Model      string     `json:"model"`
	DatasetIDs []string   `json:"dataset_ids"`
	ChatConfig ChatConfig `json:"chat_config"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ChatConfig holds the conversation settings of an app
type ChatConfig struct {
	WelcomeText  string  `json:"welcome_text"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxHistories int     `json:"max_histories"`
	SearchLimit  int     `json:"search_limit"`
}

// CreateAppRequest is the request to create an app
type CreateAppRequest struct {
	Name       string      `json:"name" binding:"required"`
	Intro      string      `json:"intro,omitempty"`
	Model      string      `json:"model,omitempty"`
	DatasetIDs []string    `json:"dataset_ids"`
	ChatConfig *ChatConfig `json:"chat_config,omitempty"`
}

// UpdateAppRequest is the request to update an app
type UpdateAppRequest struct {
	Name       string      `json:"name,omitempty"`
	Intro      string      `json:"intro,omitempty"`
	Model      string      `json:"model,omitempty"`
	DatasetIDs []string    `json:"dataset_ids,omitempty"`
	ChatConfig *ChatConfig `json:"chat_config,omitempty"`
}

// DefaultChatConfig returns default chat configuration
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		WelcomeText:  "Hi! How can I help you?",
		Temperature:  0.7,
		MaxHistories: 6,
		SearchLimit:  5,
	}
}
