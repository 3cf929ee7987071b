package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/api"
	"github.com/yezidelongshao/fastGPTProject/internal/llm"
	"github.com/yezidelongshao/fastGPTProject/internal/repository"
	"github.com/yezidelongshao/fastGPTProject/internal/service"
	"github.com/yezidelongshao/fastGPTProject/internal/vectorstore"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		return err
	}
	defer db.Close()

	// Initialize repositories
	appRepo := repository.NewAppRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	chatRepo := repository.NewChatRepository(db)

	// Chunk store, embedded through the configured endpoint
	embed := vectorstore.NewOpenAIEmbedding(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.EmbeddingModel)
	vectors, err := vectorstore.New(cfg.Vector.Dir, cfg.Vector.Compress, embed)
	if err != nil {
		logger.Error("Failed to open vector store", zap.Error(err))
		return err
	}

	var generator llm.Generator
	if cfg.LLM.Enabled() {
		generator = llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.LLMModel,
			&http.Client{Timeout: cfg.LLM.Timeout}, logger.Named("llm"))
	} else {
		logger.Warn("No language model configured, answers will be a notice")
	}

	// Initialize services
	adminService := service.NewAdminService(appRepo, datasetRepo, documentRepo, chatRepo, vectors, cfg, logger)
	ingestService := service.NewIngestService(datasetRepo, documentRepo, vectors, cfg, logger)
	chatService := service.NewChatService(cfg, appRepo, chatRepo, vectors, generator, logger)

	requestsPerHour := 0
	if cfg.RateLimit.Enabled {
		requestsPerHour = cfg.RateLimit.RequestsPerHour
	}

	// Setup router
	router := api.SetupRouter(adminService, ingestService, chatService, api.RouterConfig{
		APIKey:          cfg.Admin.APIKey,
		AllowOrigins:    cfg.Server.AllowOrigins,
		RequestsPerHour: requestsPerHour,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting FastGPT server",
			zap.String("address", cfg.Address()),
			zap.String("base_url", cfg.Server.BaseURL),
			zap.Bool("llm", generator != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("Failed to start server", zap.Error(err))
		return err
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	// Let running imports record their final status
	ingestService.Wait()

	logger.Info("Server exited")
	return nil
}
