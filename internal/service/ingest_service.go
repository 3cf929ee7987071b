package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yezidelongshao/fastGPTProject/internal/chunk"
	"github.com/yezidelongshao/fastGPTProject/internal/config"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/repository"
	"github.com/yezidelongshao/fastGPTProject/internal/vectorstore"
)

// ChunkSink receives the chunk sequences produced by imports
type ChunkSink interface {
	AddChunks(ctx context.Context, meta vectorstore.ChunkMeta, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, datasetID, documentID string) error
}

// IngestService imports files into datasets
type IngestService struct {
	datasetRepo  *repository.DatasetRepository
	documentRepo *repository.DocumentRepository
	sink         ChunkSink
	cfg          *config.Config
	logger       *zap.Logger

	// tracks background ingestion
	wg sync.WaitGroup
}

// NewIngestService creates a new ingest service
func NewIngestService(
	datasetRepo *repository.DatasetRepository,
	documentRepo *repository.DocumentRepository,
	sink ChunkSink,
	cfg *config.Config,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		datasetRepo:  datasetRepo,
		documentRepo: documentRepo,
		sink:         sink,
		cfg:          cfg,
		logger:       logger.Named("ingest"),
	}
}

func (s *IngestService) dataset(id string) (*domain.Dataset, error) {
	ds, err := s.datasetRepo.Get(id)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("dataset %s: %w", id, domain.ErrNotFound)
	}
	return ds, nil
}

// policy resolves the chunk policy of an import against the dataset models
func policy(ds *domain.Dataset, params domain.ImportParams) (domain.ChunkPolicy, error) {
	mode := params.Mode
	if mode == "" {
		mode = domain.TrainingModeChunk
	}
	mode, err := domain.ParseTrainingMode(string(mode))
	if err != nil {
		return domain.ChunkPolicy{}, err
	}
	return chunk.Resolve(mode, ds.Limits(), &chunk.Overrides{
		ChunkSize: params.ChunkSize,
		QAPrompt:  params.QAPrompt,
	})
}

// ImportFiles uploads a batch of files concurrently. Documents are returned in
// the order of files; the first failure cancels the files not yet started.
// On failure the documents already imported are still returned with the
// error, since they keep ingesting.
func (s *IngestService) ImportFiles(
	ctx context.Context,
	datasetID string,
	files []*multipart.FileHeader,
	params domain.ImportParams,
) ([]*domain.Document, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", domain.ErrInvalidRequest)
	}
	if limit := s.cfg.Import.MaxFiles; limit > 0 && len(files) > limit {
		return nil, fmt.Errorf("%w: %d files exceeds the limit of %d", domain.ErrInvalidRequest, len(files), limit)
	}

	docs := make([]*domain.Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Import.Concurrency, 1))

	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := s.UploadDocument(gctx, datasetID, file, params)
			if err != nil {
				return fmt.Errorf("%s: %w", file.Filename, err)
			}
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		imported := docs[:0]
		for _, doc := range docs {
			if doc != nil {
				imported = append(imported, doc)
			}
		}
		return imported, err
	}
	return docs, nil
}

// UploadDocument stores a file and queues it for chunking
func (s *IngestService) UploadDocument(
	ctx context.Context,
	datasetID string,
	file *multipart.FileHeader,
	params domain.ImportParams,
) (*domain.Document, error) {
	ds, err := s.dataset(datasetID)
	if err != nil {
		return nil, err
	}

	// Detect file type
	fileType := DetectFileType(file.Filename)
	if !IsSupported(fileType) {
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrInvalidRequest, fileType)
	}
	if limit := s.cfg.Import.MaxFileSize; limit > 0 && file.Size > limit {
		return nil, fmt.Errorf("%w: file is larger than %d bytes", domain.ErrInvalidRequest, limit)
	}

	pol, err := policy(ds, params)
	if err != nil {
		return nil, err
	}

	// Create storage directory
	storageDir := filepath.Join(s.cfg.Storage.Documents, datasetID)
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	docID := uuid.New().String()
	storagePath := filepath.Join(storageDir, docID+filepath.Ext(file.Filename))
	if err := saveUpload(file, storagePath); err != nil {
		return nil, err
	}

	document := &domain.Document{
		ID:           docID,
		DatasetID:    datasetID,
		Filename:     file.Filename,
		FileType:     fileType,
		FileSize:     file.Size,
		Status:       domain.DocumentStatusPending,
		TrainingMode: pol.Mode,
		ChunkSize:    pol.ChunkSize,
	}
	if err := s.documentRepo.Create(document); err != nil {
		os.Remove(storagePath)
		return nil, err
	}
	if err := s.datasetRepo.IncrementDocumentCount(datasetID, 1); err != nil {
		return nil, err
	}

	// Chunking outlives the request
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ingestDocument(context.WithoutCancel(ctx), document, pol, storagePath)
	}()

	return document, nil
}

func saveUpload(file *multipart.FileHeader, path string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create storage file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

// ingestDocument splits a stored file and hands the chunks to the sink
func (s *IngestService) ingestDocument(ctx context.Context, document *domain.Document, pol domain.ChunkPolicy, storagePath string) {
	log := s.logger.With(zap.String("document_id", document.ID), zap.String("mode", string(pol.Mode)))

	if err := s.documentRepo.UpdateStatus(document.ID, domain.DocumentStatusProcessing, 0, ""); err != nil {
		log.Error("failed to mark document processing", zap.Error(err))
		return
	}

	chunks, err := s.chunkFile(document.FileType, pol, storagePath)
	if err == nil {
		err = s.sink.AddChunks(ctx, vectorstore.ChunkMeta{
			DatasetID:  document.DatasetID,
			DocumentID: document.ID,
			Filename:   document.Filename,
			Policy:     pol,
		}, chunks)
	}

	if err != nil {
		log.Warn("ingestion failed", zap.Error(err))
		if err := s.documentRepo.UpdateStatus(document.ID, domain.DocumentStatusFailed, 0, err.Error()); err != nil {
			log.Error("failed to record ingestion failure", zap.Error(err))
		}
		return
	}

	if err := s.documentRepo.UpdateStatus(document.ID, domain.DocumentStatusCompleted, len(chunks), ""); err != nil {
		log.Error("failed to mark document completed", zap.Error(err))
		return
	}
	log.Info("document ingested", zap.Int("chunks", len(chunks)), zap.Int("chunk_size", pol.ChunkSize))
}

func (s *IngestService) chunkFile(fileType string, pol domain.ChunkPolicy, path string) ([]domain.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, err := ExtractText(fileType, f)
	if err != nil {
		return nil, err
	}
	return chunk.SplitAtBoundaries(text, pol.ChunkSize, pol.OverlapRatio)
}

// Wait blocks until background ingestion has finished
func (s *IngestService) Wait() {
	s.wg.Wait()
}

// PreviewChunks resolves the policy for a dataset and splits the text without ingesting it
func (s *IngestService) PreviewChunks(ctx context.Context, datasetID string, req *domain.PreviewRequest) (*domain.PreviewResponse, error) {
	ds, err := s.dataset(datasetID)
	if err != nil {
		return nil, err
	}
	pol, err := policy(ds, req.ImportParams)
	if err != nil {
		return nil, err
	}

	text, err := ExtractText(FileTypeTXT, strings.NewReader(req.Text))
	if err != nil {
		return nil, err
	}
	chunks, err := chunk.SplitAtBoundaries(text, pol.ChunkSize, pol.OverlapRatio)
	if err != nil {
		return nil, err
	}

	return &domain.PreviewResponse{
		Policy:        pol,
		Chunks:        chunks,
		EstimatePrice: pol.Estimate(len([]rune(text))),
	}, nil
}

// GetDocument retrieves a document record
func (s *IngestService) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.documentRepo.Get(id)
}

// ListDocuments lists the documents of a dataset
func (s *IngestService) ListDocuments(ctx context.Context, datasetID string, page, pageSize int) (*domain.DocumentListResponse, error) {
	docs, total, err := s.documentRepo.ListByDataset(datasetID, page, pageSize)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	return &domain.DocumentListResponse{
		Documents: docs,
		Total:     total,
		Page:      max(page, 1),
		PageSize:  pageSize,
	}, nil
}

// DeleteDocument deletes a document, its chunks and its stored file
func (s *IngestService) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.documentRepo.Get(id)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}

	if err := s.sink.DeleteDocument(ctx, doc.DatasetID, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.documentRepo.Delete(id); err != nil {
		return err
	}

	path := filepath.Join(s.cfg.Storage.Documents, doc.DatasetID, doc.ID+filepath.Ext(doc.Filename))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stored file", zap.String("path", path), zap.Error(err))
	}

	return s.datasetRepo.IncrementDocumentCount(doc.DatasetID, -1)
}
