// Package chunk resolves chunking policies for dataset imports and splits
// text into overlapping windows.
package chunk

import (
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

const (
	autoFallbackSize = 1024
	autoMinSize      = 100
	autoMaxSize      = 2048

	chunkFallbackSize = 512
	chunkMinSize      = 100
	chunkFallbackMax  = 512

	qaContextFactor = 0.55
	qaFallbackSize  = 6000
	qaMinSize       = 3000
	qaMaxSize       = 8000

	embeddingOverlapRatio = 0.2
)

// DefaultQAPrompt is the instruction given to the agent model when a qa import
// turns chunks into question/answer pairs.
const DefaultQAPrompt = `Study the text between <Context></Context> and write up to 50 questions a reader might ask about it, each with a complete answer taken from the text.
Answers may use markdown but must not invent facts that are not in the text.`

// Overrides holds user choices that refine a policy.
type Overrides struct {
	// ChunkSize is honoured in chunk mode only.
	ChunkSize *int
	QAPrompt  string
}

// Resolve computes the chunk policy for mode against limits.
func Resolve(mode domain.TrainingMode, limits domain.ModelLimits, overrides *Overrides) (domain.ChunkPolicy, error) {
	if overrides == nil {
		overrides = &Overrides{}
	}

	switch mode {
	case domain.TrainingModeAuto:
		size := orDefault(2*limits.DefaultEmbeddingTokens, autoFallbackSize)
		return domain.ChunkPolicy{
			Mode:         mode,
			ChunkSize:    clamp(size, autoMinSize, autoMaxSize),
			OverlapRatio: embeddingOverlapRatio,
			MinChunkSize: autoMinSize,
			MaxChunkSize: autoMaxSize,
			PricePerUnit: limits.AgentPrice,
		}, nil

	case domain.TrainingModeChunk:
		maxSize := max(orDefault(limits.MaxEmbeddingTokens, chunkFallbackMax), chunkMinSize)
		size := orDefault(limits.DefaultEmbeddingTokens, chunkFallbackSize)
		if overrides.ChunkSize != nil {
			size = *overrides.ChunkSize
		}
		return domain.ChunkPolicy{
			Mode:              mode,
			ChunkSize:         clamp(size, chunkMinSize, maxSize),
			OverlapRatio:      embeddingOverlapRatio,
			MinChunkSize:      chunkMinSize,
			MaxChunkSize:      maxSize,
			PricePerUnit:      limits.EmbeddingPrice,
			ChunkSizeEditable: true,
		}, nil

	case domain.TrainingModeQA:
		size := orDefault(int(qaContextFactor*float64(limits.AgentMaxContext)), qaFallbackSize)
		prompt := overrides.QAPrompt
		if prompt == "" {
			prompt = DefaultQAPrompt
		}
		return domain.ChunkPolicy{
			Mode:         mode,
			ChunkSize:    clamp(size, qaMinSize, qaMaxSize),
			OverlapRatio: 0,
			MinChunkSize: qaMinSize,
			MaxChunkSize: qaMaxSize,
			PricePerUnit: limits.AgentPrice,
			NeedsPrompt:  true,
			QAPrompt:     prompt,
		}, nil
	}

	return domain.ChunkPolicy{}, &domain.InvalidModeError{Mode: string(mode)}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
