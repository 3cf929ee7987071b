package domain

import "time"

// Dataset represents a knowledge base
type Dataset struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Intro         string      `json:"intro,omitempty"`
	VectorModel   VectorModel `json:"vector_model"`
	AgentModel    AgentModel  `json:"agent_model"`
	DocumentCount int         `json:"document_count"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// VectorModel describes the embedding model of a dataset
type VectorModel struct {
	Model            string  `json:"model" mapstructure:"model" yaml:"model"`
	DefaultToken     int     `json:"default_token" mapstructure:"default_token" yaml:"default_token"`
	MaxToken         int     `json:"max_token" mapstructure:"max_token" yaml:"max_token"`
	CharsPointsPrice float64 `json:"chars_points_price" mapstructure:"chars_points_price" yaml:"chars_points_price"`
}

// AgentModel describes the language model used for qa generation
type AgentModel struct {
	Model            string  `json:"model" mapstructure:"model" yaml:"model"`
	MaxContext       int     `json:"max_context" mapstructure:"max_context" yaml:"max_context"`
	CharsPointsPrice float64 `json:"chars_points_price" mapstructure:"chars_points_price" yaml:"chars_points_price"`
}

// Limits returns the model limits the chunk policy is resolved against
func (d *Dataset) Limits() ModelLimits {
	return ModelLimits{
		DefaultEmbeddingTokens: d.VectorModel.DefaultToken,
		MaxEmbeddingTokens:     d.VectorModel.MaxToken,
		EmbeddingPrice:         d.VectorModel.CharsPointsPrice,
		AgentMaxContext:        d.AgentModel.MaxContext,
		AgentPrice:             d.AgentModel.CharsPointsPrice,
	}
}

// CreateDatasetRequest is the request to create a dataset
type CreateDatasetRequest struct {
	Name        string       `json:"name" binding:"required"`
	Intro       string       `json:"intro,omitempty"`
	VectorModel *VectorModel `json:"vector_model,omitempty"`
	AgentModel  *AgentModel  `json:"agent_model,omitempty"`
}

// UpdateDatasetRequest is the request to update a dataset
type UpdateDatasetRequest struct {
	Name        string       `json:"name,omitempty"`
	Intro       string       `json:"intro,omitempty"`
	VectorModel *VectorModel `json:"vector_model,omitempty"`
	AgentModel  *AgentModel  `json:"agent_model,omitempty"`
}
