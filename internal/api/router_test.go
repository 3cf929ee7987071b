package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/config"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/repository"
	"github.com/yezidelongshao/fastGPTProject/internal/service"
	"github.com/yezidelongshao/fastGPTProject/internal/stream"
	"github.com/yezidelongshao/fastGPTProject/internal/vectorstore"
)

const testKey = "secret"

func flatEmbedding(_ context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text)%7) + 1}, nil
}

type testServer struct {
	router *gin.Engine
	ingest *service.IngestService
}

func newTestServer(t *testing.T, requestsPerHour int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := repository.NewDB(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Storage.Documents = filepath.Join(dir, "documents")
	cfg.Chat.DefaultTitle = domain.DefaultChatTitle
	cfg.Chat.TitleWidth = domain.DefaultTitleWidth
	cfg.Import.MaxFiles = 10
	cfg.Import.Concurrency = 2
	cfg.Dataset.VectorModel = domain.VectorModel{Model: "embed", DefaultToken: 512, MaxToken: 3000}
	cfg.Dataset.AgentModel = domain.AgentModel{Model: "llm", MaxContext: 16000}

	apps := repository.NewAppRepository(db)
	datasets := repository.NewDatasetRepository(db)
	documents := repository.NewDocumentRepository(db)
	chats := repository.NewChatRepository(db)
	vectors := vectorstore.NewInMemory(flatEmbedding)
	logger := zap.NewNop()

	ingest := service.NewIngestService(datasets, documents, vectors, cfg, logger)
	t.Cleanup(ingest.Wait)

	return &testServer{
		router: SetupRouter(
			service.NewAdminService(apps, datasets, documents, chats, vectors, cfg, logger),
			ingest,
			service.NewChatService(cfg, apps, chats, vectors, nil, logger),
			RouterConfig{APIKey: testKey, AllowOrigins: []string{"*"}, RequestsPerHour: requestsPerHour},
		),
		ingest: ingest,
	}
}

// streamRecorder adds the close notification gin's Stream needs
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	s.router.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) createApp(t *testing.T) *domain.App {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/admin/datasets", domain.CreateDatasetRequest{Name: "kb"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ds := decode[domain.Dataset](t, w)

	w = s.do(t, http.MethodPost, "/api/admin/apps", domain.CreateAppRequest{Name: "bot", DatasetIDs: []string{ds.ID}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	app := decode[domain.App](t, w)
	return &app
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t, 0)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodOptions, ChatPrefix+"/completions", nil)
	req.Header.Set("Origin", "http://example.com")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestChatRoutes(t *testing.T) {
	s := newTestServer(t, 0)
	app := s.createApp(t)

	w := s.do(t, http.MethodGet, ChatPrefix+"/init?app_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, ChatPrefix+"/init", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, ChatPrefix+"/init?app_id="+app.ID+"&chat_id=fresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	init := decode[domain.InitChatResponse](t, w)
	assert.Equal(t, domain.DefaultChatTitle, init.Title)
	assert.Equal(t, domain.DefaultChatConfig().WelcomeText, init.App.WelcomeText)

	// completions stream decodes with the client event source
	w = s.do(t, http.MethodPost, stream.CompletionsPath, domain.CompletionRequest{
		AppID:    app.ID,
		ChatID:   "c1",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "hello there")},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	src := stream.NewEventSource(io.NopCloser(w.Body))
	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.EventFragment, ev.Kind)
	assert.Equal(t, service.NoModelNotice, ev.Text)
	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.EventTerminal, ev.Kind)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)

	w = s.do(t, http.MethodGet, ChatPrefix+"/histories?app_id="+app.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	histories := decode[struct {
		Histories []domain.HistorySummary `json:"histories"`
	}](t, w)
	require.Len(t, histories.Histories, 1)
	assert.Equal(t, "hello there", histories.Histories[0].Title)

	top := true
	w = s.do(t, http.MethodPut, ChatPrefix+"/history", domain.UpdateHistoryRequest{AppID: app.ID, ChatID: "c1", Top: &top})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPut, ChatPrefix+"/history", domain.UpdateHistoryRequest{AppID: app.ID, ChatID: "nope", Top: &top})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, ChatPrefix+"/history?app_id="+app.ID+"&chat_id=c1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, ChatPrefix+"/histories?app_id="+app.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCompletionsRejectsBadInput(t *testing.T) {
	s := newTestServer(t, 0)
	app := s.createApp(t)

	w := s.do(t, http.MethodPost, stream.CompletionsPath, domain.CompletionRequest{
		AppID:    app.ID,
		ChatID:   "c",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleAssistant, "no question")},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, stream.CompletionsPath, domain.CompletionRequest{
		AppID:    "missing",
		ChatID:   "c",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompletionsRateLimited(t *testing.T) {
	s := newTestServer(t, 1)
	app := s.createApp(t)
	req := domain.CompletionRequest{
		AppID:    app.ID,
		ChatID:   "c",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")},
	}

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, stream.CompletionsPath, req).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, stream.CompletionsPath, req).Code)
	// other routes are not limited
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, ChatPrefix+"/histories?app_id="+app.ID, nil).Code)
}

func TestAdminImportAndPreview(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(t, http.MethodPost, "/api/admin/datasets", domain.CreateDatasetRequest{Name: "kb"})
	require.Equal(t, http.StatusCreated, w.Code)
	ds := decode[domain.Dataset](t, w)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("mode", "qa"))
	part, err := mw.CreateFormFile("files", "notes.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Notes\n\nSome text."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/datasets/"+ds.ID+"/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	imported := decode[struct {
		Documents []domain.Document `json:"documents"`
	}](t, rec)
	require.Len(t, imported.Documents, 1)
	assert.Equal(t, domain.TrainingModeQA, imported.Documents[0].TrainingMode)
	assert.Equal(t, 8000, imported.Documents[0].ChunkSize)

	w = s.do(t, http.MethodPost, "/api/admin/datasets/"+ds.ID+"/preview", map[string]any{"text": "abc", "mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/datasets/"+ds.ID+"/preview", map[string]any{"text": "abc", "mode": "auto"})
	require.Equal(t, http.StatusOK, w.Code)
	preview := decode[domain.PreviewResponse](t, w)
	assert.Equal(t, 1024, preview.Policy.ChunkSize)
	assert.Len(t, preview.Chunks, 1)

	s.ingest.Wait()
	w = s.do(t, http.MethodGet, "/api/admin/documents/"+imported.Documents[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DocumentStatusCompleted, decode[domain.Document](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[domain.Stats](t, w).TotalDocuments)
}
