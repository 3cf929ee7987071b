package domain

// TrainingMode selects how imported text is prepared for indexing
type TrainingMode string

const (
	TrainingModeAuto  TrainingMode = "auto"
	TrainingModeChunk TrainingMode = "chunk"
	TrainingModeQA    TrainingMode = "qa"
)

// ParseTrainingMode accepts the wire names plus "fixedChunk" for chunk mode.
func ParseTrainingMode(s string) (TrainingMode, error) {
	switch s {
	case string(TrainingModeAuto):
		return TrainingModeAuto, nil
	case string(TrainingModeChunk), "fixedChunk":
		return TrainingModeChunk, nil
	case string(TrainingModeQA):
		return TrainingModeQA, nil
	}
	return "", &InvalidModeError{Mode: s}
}

// ModelLimits carries the model figures a chunk policy depends on. Zero means unknown.
type ModelLimits struct {
	DefaultEmbeddingTokens int
	MaxEmbeddingTokens     int
	EmbeddingPrice         float64
	AgentMaxContext        int
	AgentPrice             float64
}

// ChunkPolicy is the resolved chunking configuration for one import
type ChunkPolicy struct {
	Mode         TrainingMode `json:"mode"`
	ChunkSize    int          `json:"chunk_size"`
	OverlapRatio float64      `json:"overlap_ratio"`
	MinChunkSize int          `json:"min_chunk_size"`
	MaxChunkSize int          `json:"max_chunk_size"`
	// PricePerUnit is in points per 1000 characters
	PricePerUnit      float64 `json:"price_per_unit"`
	ChunkSizeEditable bool    `json:"chunk_size_editable"`
	NeedsPrompt       bool    `json:"needs_prompt"`
	QAPrompt          string  `json:"qa_prompt,omitempty"`
}

// Estimate returns the display price for importing chars characters.
func (p ChunkPolicy) Estimate(chars int) float64 {
	return float64(chars) / 1000 * p.PricePerUnit
}

// Chunk is one window of split text
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}
