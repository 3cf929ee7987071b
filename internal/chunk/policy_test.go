package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestResolveAuto(t *testing.T) {
	p, err := Resolve(domain.TrainingModeAuto, domain.ModelLimits{DefaultEmbeddingTokens: 512, AgentPrice: 1.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1024, p.ChunkSize)
	assert.Equal(t, 0.2, p.OverlapRatio)
	assert.Equal(t, 100, p.MinChunkSize)
	assert.Equal(t, 2048, p.MaxChunkSize)
	assert.Equal(t, 1.5, p.PricePerUnit)
	assert.False(t, p.ChunkSizeEditable)

	p, err = Resolve(domain.TrainingModeAuto, domain.ModelLimits{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1024, p.ChunkSize, "fallback when default size unknown")

	p, err = Resolve(domain.TrainingModeAuto, domain.ModelLimits{DefaultEmbeddingTokens: 1536}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2048, p.ChunkSize, "clamped to max")
}

func TestResolveAutoIgnoresChunkSizeOverride(t *testing.T) {
	p, err := Resolve(domain.TrainingModeAuto, domain.ModelLimits{DefaultEmbeddingTokens: 512}, &Overrides{ChunkSize: intPtr(300)})
	require.NoError(t, err)
	assert.Equal(t, 1024, p.ChunkSize)
}

func TestResolveChunk(t *testing.T) {
	limits := domain.ModelLimits{DefaultEmbeddingTokens: 512, MaxEmbeddingTokens: 3000, EmbeddingPrice: 0.2, AgentPrice: 9}

	p, err := Resolve(domain.TrainingModeChunk, limits, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, p.ChunkSize)
	assert.Equal(t, 3000, p.MaxChunkSize)
	assert.Equal(t, 0.2, p.PricePerUnit, "vector model price")
	assert.True(t, p.ChunkSizeEditable)

	p, err = Resolve(domain.TrainingModeChunk, limits, &Overrides{ChunkSize: intPtr(800)})
	require.NoError(t, err)
	assert.Equal(t, 800, p.ChunkSize)

	p, err = Resolve(domain.TrainingModeChunk, limits, &Overrides{ChunkSize: intPtr(99999)})
	require.NoError(t, err)
	assert.Equal(t, 3000, p.ChunkSize, "override clamped, not dropped")

	p, err = Resolve(domain.TrainingModeChunk, limits, &Overrides{ChunkSize: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, 100, p.ChunkSize)

	p, err = Resolve(domain.TrainingModeChunk, domain.ModelLimits{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, p.ChunkSize)
	assert.Equal(t, 512, p.MaxChunkSize)
}

func TestResolveQA(t *testing.T) {
	p, err := Resolve(domain.TrainingModeQA, domain.ModelLimits{AgentMaxContext: 10000, AgentPrice: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5500, p.ChunkSize)
	assert.Zero(t, p.OverlapRatio)
	assert.Equal(t, 3000, p.MinChunkSize)
	assert.Equal(t, 8000, p.MaxChunkSize)
	assert.True(t, p.NeedsPrompt)
	assert.Equal(t, DefaultQAPrompt, p.QAPrompt)

	p, err = Resolve(domain.TrainingModeQA, domain.ModelLimits{}, &Overrides{QAPrompt: "custom"})
	require.NoError(t, err)
	assert.Equal(t, 6000, p.ChunkSize)
	assert.Equal(t, "custom", p.QAPrompt)

	p, err = Resolve(domain.TrainingModeQA, domain.ModelLimits{AgentMaxContext: 128000}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8000, p.ChunkSize)
}

func TestResolveInvalidMode(t *testing.T) {
	_, err := Resolve("summary", domain.ModelLimits{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMode)
}

func TestResolveBoundsHoldForAllModes(t *testing.T) {
	limitSets := []domain.ModelLimits{
		{},
		{DefaultEmbeddingTokens: 1, MaxEmbeddingTokens: 1, AgentMaxContext: 1},
		{DefaultEmbeddingTokens: 512, MaxEmbeddingTokens: 3000, AgentMaxContext: 16000},
		{DefaultEmbeddingTokens: 8192, MaxEmbeddingTokens: 8192, AgentMaxContext: 1 << 20},
	}
	overlaps := map[domain.TrainingMode]float64{
		domain.TrainingModeAuto:  0.2,
		domain.TrainingModeChunk: 0.2,
		domain.TrainingModeQA:    0,
	}

	for mode, overlap := range overlaps {
		for _, limits := range limitSets {
			p, err := Resolve(mode, limits, nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, p.MinChunkSize, p.ChunkSize, "%s %+v", mode, limits)
			assert.LessOrEqual(t, p.ChunkSize, p.MaxChunkSize, "%s %+v", mode, limits)
			assert.Equal(t, overlap, p.OverlapRatio)

			again, err := Resolve(mode, limits, nil)
			require.NoError(t, err)
			assert.Equal(t, p, again)
		}
	}
}

func TestPolicyEstimate(t *testing.T) {
	p := domain.ChunkPolicy{PricePerUnit: 2}
	assert.InDelta(t, 5.0, p.Estimate(2500), 1e-9)
}
