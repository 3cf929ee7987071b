package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/config"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/repository"
)

// DatasetDropper removes the chunks of a whole dataset
type DatasetDropper interface {
	DeleteDataset(datasetID string) error
}

// AdminService handles admin operations
type AdminService struct {
	appRepo      *repository.AppRepository
	datasetRepo  *repository.DatasetRepository
	documentRepo *repository.DocumentRepository
	chatRepo     *repository.ChatRepository
	chunks       DatasetDropper
	cfg          *config.Config
	logger       *zap.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(
	appRepo *repository.AppRepository,
	datasetRepo *repository.DatasetRepository,
	documentRepo *repository.DocumentRepository,
	chatRepo *repository.ChatRepository,
	chunks DatasetDropper,
	cfg *config.Config,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		appRepo:      appRepo,
		datasetRepo:  datasetRepo,
		documentRepo: documentRepo,
		chatRepo:     chatRepo,
		chunks:       chunks,
		cfg:          cfg,
		logger:       logger.Named("admin"),
	}
}

// Dataset operations

func (s *AdminService) CreateDataset(ctx context.Context, req *domain.CreateDatasetRequest) (*domain.Dataset, error) {
	ds := &domain.Dataset{
		Name:        req.Name,
		Intro:       req.Intro,
		VectorModel: s.cfg.Dataset.VectorModel,
		AgentModel:  s.cfg.Dataset.AgentModel,
	}
	if req.VectorModel != nil {
		ds.VectorModel = *req.VectorModel
	}
	if req.AgentModel != nil {
		ds.AgentModel = *req.AgentModel
	}

	if err := s.datasetRepo.Create(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *AdminService) GetDataset(ctx context.Context, id string) (*domain.Dataset, error) {
	return s.datasetRepo.Get(id)
}

func (s *AdminService) ListDatasets(ctx context.Context) ([]*domain.Dataset, error) {
	return s.datasetRepo.List()
}

func (s *AdminService) UpdateDataset(ctx context.Context, id string, req *domain.UpdateDatasetRequest) (*domain.Dataset, error) {
	ds, err := s.datasetRepo.Get(id)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != "" {
		ds.Name = req.Name
	}
	if req.Intro != "" {
		ds.Intro = req.Intro
	}
	if req.VectorModel != nil {
		ds.VectorModel = *req.VectorModel
	}
	if req.AgentModel != nil {
		ds.AgentModel = *req.AgentModel
	}

	if err := s.datasetRepo.Update(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// DeleteDataset deletes a dataset, its document records and its chunks
func (s *AdminService) DeleteDataset(ctx context.Context, id string) error {
	if err := s.datasetRepo.Delete(id); err != nil {
		return err
	}
	if err := s.chunks.DeleteDataset(id); err != nil {
		s.logger.Warn("failed to drop dataset chunks", zap.String("dataset_id", id), zap.Error(err))
	}
	return nil
}

// App operations

func (s *AdminService) CreateApp(ctx context.Context, req *domain.CreateAppRequest) (*domain.App, error) {
	if err := s.checkDatasets(req.DatasetIDs); err != nil {
		return nil, err
	}

	app := &domain.App{
		Name:       req.Name,
		Intro:      req.Intro,
		Model:      req.Model,
		DatasetIDs: req.DatasetIDs,
		ChatConfig: domain.DefaultChatConfig(),
	}
	if app.Model == "" {
		app.Model = s.cfg.LLM.LLMModel
	}
	if req.ChatConfig != nil {
		app.ChatConfig = *req.ChatConfig
	}

	if err := s.appRepo.Create(app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *AdminService) GetApp(ctx context.Context, id string) (*domain.App, error) {
	return s.appRepo.Get(id)
}

func (s *AdminService) ListApps(ctx context.Context) ([]*domain.App, error) {
	return s.appRepo.List()
}

func (s *AdminService) UpdateApp(ctx context.Context, id string, req *domain.UpdateAppRequest) (*domain.App, error) {
	app, err := s.appRepo.Get(id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != "" {
		app.Name = req.Name
	}
	if req.Intro != "" {
		app.Intro = req.Intro
	}
	if req.Model != "" {
		app.Model = req.Model
	}
	if req.DatasetIDs != nil {
		if err := s.checkDatasets(req.DatasetIDs); err != nil {
			return nil, err
		}
		app.DatasetIDs = req.DatasetIDs
	}
	if req.ChatConfig != nil {
		app.ChatConfig = *req.ChatConfig
	}

	if err := s.appRepo.Update(app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *AdminService) DeleteApp(ctx context.Context, id string) error {
	return s.appRepo.Delete(id)
}

func (s *AdminService) checkDatasets(ids []string) error {
	for _, id := range ids {
		ds, err := s.datasetRepo.Get(id)
		if err != nil {
			return err
		}
		if ds == nil {
			return fmt.Errorf("%w: unknown dataset %s", domain.ErrInvalidRequest, id)
		}
	}
	return nil
}

// Stats

func (s *AdminService) GetStats(ctx context.Context) (*domain.Stats, error) {
	apps, err := s.appRepo.Count()
	if err != nil {
		return nil, err
	}
	datasets, err := s.datasetRepo.Count()
	if err != nil {
		return nil, err
	}
	documents, err := s.documentRepo.Count()
	if err != nil {
		return nil, err
	}
	chats, err := s.chatRepo.CountChats()
	if err != nil {
		return nil, err
	}

	return &domain.Stats{
		TotalApps:      apps,
		TotalDatasets:  datasets,
		TotalDocuments: documents,
		TotalChats:     chats,
	}, nil
}
