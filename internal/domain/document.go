package domain

import "time"

// Document status constants
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Chunk metadata keys stored with every ingested chunk
const (
	MetadataKeyDatasetID    = "dataset_id"
	MetadataKeyDocumentID   = "document_id"
	MetadataKeyFilename     = "filename"
	MetadataKeyChunkIndex   = "chunk_index"
	MetadataKeyTrainingMode = "training_mode"
	MetadataKeyChunkSize    = "chunk_size"
	MetadataKeyQAPrompt     = "qa_prompt"
)

// Document represents an imported file
type Document struct {
	ID           string       `json:"id"`
	DatasetID    string       `json:"dataset_id"`
	Filename     string       `json:"filename"`
	FileType     string       `json:"file_type"`
	FileSize     int64        `json:"file_size"`
	Status       string       `json:"status"`
	TrainingMode TrainingMode `json:"training_mode"`
	ChunkSize    int          `json:"chunk_size"`
	ChunkCount   int          `json:"chunk_count"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ImportParams are the user choices of an import
type ImportParams struct {
	Mode      TrainingMode `form:"mode" json:"mode"`
	ChunkSize *int         `form:"chunk_size" json:"chunk_size,omitempty"`
	QAPrompt  string       `form:"qa_prompt" json:"qa_prompt,omitempty"`
}

// PreviewRequest asks for the chunks of a text without ingesting it
type PreviewRequest struct {
	Text string `json:"text" binding:"required"`
	ImportParams
}

// PreviewResponse is the resolved policy and chunk sequence of a preview
type PreviewResponse struct {
	Policy        ChunkPolicy `json:"policy"`
	Chunks        []Chunk     `json:"chunks"`
	EstimatePrice float64     `json:"estimate_price"`
}

// DocumentListResponse is the response for listing documents
type DocumentListResponse struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
}
