// Package vectorstore keeps the chunks of imported documents, one chromem-go
// collection per dataset.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Store wraps a chromem-go database
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// New creates (or opens) a persistent store in dir
func New(dir string, compress bool, embedFn chromem.EmbeddingFunc) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &Store{db: db, embedFn: embedFn}, nil
}

// NewInMemory creates a store that is not persisted
func NewInMemory(embedFn chromem.EmbeddingFunc) *Store {
	return &Store{db: chromem.NewDB(), embedFn: embedFn}
}

// NewOpenAIEmbedding returns an embedding function for an OpenAI compatible endpoint
func NewOpenAIEmbedding(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)
}

// ChunkMeta describes where a batch of chunks comes from
type ChunkMeta struct {
	DatasetID  string
	DocumentID string
	Filename   string
	Policy     domain.ChunkPolicy
}

func collectionName(datasetID string) string {
	return "dataset_" + datasetID
}

func (s *Store) collection(datasetID string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection(collectionName(datasetID), nil, s.embedFn)
}

// AddChunks embeds and stores the chunks of one document. Each chunk carries
// the training mode metadata it was produced under.
func (s *Store) AddChunks(ctx context.Context, meta ChunkMeta, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(meta.DatasetID)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		md := map[string]string{
			domain.MetadataKeyDatasetID:    meta.DatasetID,
			domain.MetadataKeyDocumentID:   meta.DocumentID,
			domain.MetadataKeyFilename:     meta.Filename,
			domain.MetadataKeyChunkIndex:   strconv.Itoa(c.Index),
			domain.MetadataKeyTrainingMode: string(meta.Policy.Mode),
			domain.MetadataKeyChunkSize:    strconv.Itoa(meta.Policy.ChunkSize),
		}
		if meta.Policy.NeedsPrompt {
			md[domain.MetadataKeyQAPrompt] = meta.Policy.QAPrompt
		}
		docs = append(docs, chromem.Document{
			ID:       fmt.Sprintf("%s-%d", meta.DocumentID, c.Index),
			Content:  c.Text,
			Metadata: md,
		})
	}

	return col.AddDocuments(ctx, docs, runtime.NumCPU())
}

// Search returns the best matching chunks across datasets, highest score first
func (s *Store) Search(ctx context.Context, datasetIDs []string, query string, limit int) ([]domain.Quote, error) {
	if limit <= 0 || query == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var quotes []domain.Quote
	for _, id := range datasetIDs {
		col := s.db.GetCollection(collectionName(id), s.embedFn)
		if col == nil {
			continue
		}
		n := min(limit, col.Count())
		if n == 0 {
			continue
		}

		results, err := col.Query(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query dataset %s: %w", id, err)
		}
		for _, r := range results {
			index, _ := strconv.Atoi(r.Metadata[domain.MetadataKeyChunkIndex])
			quotes = append(quotes, domain.Quote{
				DatasetID:  id,
				DocumentID: r.Metadata[domain.MetadataKeyDocumentID],
				Filename:   r.Metadata[domain.MetadataKeyFilename],
				ChunkIndex: index,
				Content:    r.Content,
				Score:      float64(r.Similarity),
			})
		}
	}

	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Score > quotes[j].Score })
	if len(quotes) > limit {
		quotes = quotes[:limit]
	}
	return quotes, nil
}

// DeleteDocument removes every chunk of a document
func (s *Store) DeleteDocument(ctx context.Context, datasetID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName(datasetID), s.embedFn)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, map[string]string{domain.MetadataKeyDocumentID: documentID}, nil)
}

// DeleteDataset drops the collection of a dataset
func (s *Store) DeleteDataset(datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.DeleteCollection(collectionName(datasetID))
}

// Count returns the number of chunks stored for a dataset
func (s *Store) Count(datasetID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(datasetID), s.embedFn)
	if col == nil {
		return 0
	}
	return col.Count()
}
