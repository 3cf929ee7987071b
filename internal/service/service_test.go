package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/config"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/llm"
	"github.com/yezidelongshao/fastGPTProject/internal/repository"
	"github.com/yezidelongshao/fastGPTProject/internal/vectorstore"
)

type fixture struct {
	cfg       *config.Config
	apps      *repository.AppRepository
	datasets  *repository.DatasetRepository
	documents *repository.DocumentRepository
	chats     *repository.ChatRepository
	vectors   *vectorstore.Store
}

func wordEmbedding(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	return []float32{
		float32(strings.Count(lower, "refund")) + 0.01,
		float32(strings.Count(lower, "shipping")) + 0.01,
	}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := repository.NewDB(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Storage.Documents = filepath.Join(dir, "documents")
	cfg.Chat.DefaultTitle = domain.DefaultChatTitle
	cfg.Chat.TitleWidth = domain.DefaultTitleWidth
	cfg.Chat.SearchLimit = 3
	cfg.Import.MaxFiles = 2
	cfg.Import.MaxFileSize = 1 << 20
	cfg.Import.Concurrency = 2
	cfg.Dataset.VectorModel = domain.VectorModel{Model: "embed", DefaultToken: 200, MaxToken: 1000, CharsPointsPrice: 1}
	cfg.Dataset.AgentModel = domain.AgentModel{Model: "llm", MaxContext: 8000, CharsPointsPrice: 2}

	return &fixture{
		cfg:       cfg,
		apps:      repository.NewAppRepository(db),
		datasets:  repository.NewDatasetRepository(db),
		documents: repository.NewDocumentRepository(db),
		chats:     repository.NewChatRepository(db),
		vectors:   vectorstore.NewInMemory(wordEmbedding),
	}
}

func (f *fixture) admin() *AdminService {
	return NewAdminService(f.apps, f.datasets, f.documents, f.chats, f.vectors, f.cfg, zap.NewNop())
}

func (f *fixture) ingest() *IngestService {
	return NewIngestService(f.datasets, f.documents, f.vectors, f.cfg, zap.NewNop())
}

func (f *fixture) chat(gen llm.Generator) *ChatService {
	return NewChatService(f.cfg, f.apps, f.chats, f.vectors, gen, zap.NewNop())
}

func fileHeader(t *testing.T, name, content string) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("files", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["files"][0]
}

type fakeGenerator struct {
	deltas []string
	err    error
	seen   *llm.CompletionRequest
}

func (g *fakeGenerator) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	g.seen = req
	if g.err != nil {
		return nil, g.err
	}
	ch := make(chan llm.StreamEvent, len(g.deltas)+1)
	for _, d := range g.deltas {
		ch <- llm.StreamEvent{Type: llm.EventDelta, Delta: d}
	}
	ch <- llm.StreamEvent{Type: llm.EventDone, Model: "fake", Usage: &domain.Usage{CompletionTokens: len(g.deltas)}}
	close(ch)
	return ch, nil
}

func drain(ch <-chan domain.StreamChunk) []domain.StreamChunk {
	var out []domain.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestAdminServiceAppsAndStats(t *testing.T) {
	f := newFixture(t)
	admin := f.admin()
	ctx := context.Background()

	ds, err := admin.CreateDataset(ctx, &domain.CreateDatasetRequest{Name: "kb"})
	require.NoError(t, err)
	assert.Equal(t, 200, ds.VectorModel.DefaultToken)

	_, err = admin.CreateApp(ctx, &domain.CreateAppRequest{Name: "bot", DatasetIDs: []string{"missing"}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	app, err := admin.CreateApp(ctx, &domain.CreateAppRequest{Name: "bot", DatasetIDs: []string{ds.ID}})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultChatConfig(), app.ChatConfig)

	updated, err := admin.UpdateApp(ctx, app.ID, &domain.UpdateAppRequest{Intro: "helps"})
	require.NoError(t, err)
	assert.Equal(t, "helps", updated.Intro)

	_, err = admin.UpdateApp(ctx, "missing", &domain.UpdateAppRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stats, err := admin.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalApps)
	assert.Equal(t, 1, stats.TotalDatasets)

	require.NoError(t, admin.DeleteDataset(ctx, ds.ID))
	assert.ErrorIs(t, admin.DeleteDataset(ctx, ds.ID), domain.ErrNotFound)
}

func TestIngestServiceImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds, err := f.admin().CreateDataset(ctx, &domain.CreateDatasetRequest{Name: "kb"})
	require.NoError(t, err)
	ingest := f.ingest()

	text := strings.Repeat("Refunds are issued within 14 days. ", 20)
	docs, err := ingest.ImportFiles(ctx, ds.ID, []*multipart.FileHeader{
		fileHeader(t, "refunds.txt", text),
		fileHeader(t, "page.html", "<html><body><p>Shipping takes a week.</p><script>x()</script></body></html>"),
	}, domain.ImportParams{Mode: "fixedChunk"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "refunds.txt", docs[0].Filename)
	assert.Equal(t, domain.TrainingModeChunk, docs[0].TrainingMode)
	assert.Equal(t, 200, docs[0].ChunkSize)

	ingest.Wait()

	stored, err := ingest.GetDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, stored.Status)
	assert.Greater(t, stored.ChunkCount, 1)
	assert.Equal(t, stored.ChunkCount+1, f.vectors.Count(ds.ID))

	got, err := f.datasets.Get(ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.DocumentCount)

	list, err := ingest.ListDocuments(ctx, ds.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	require.NoError(t, ingest.DeleteDocument(ctx, docs[0].ID))
	assert.Equal(t, 1, f.vectors.Count(ds.ID))
	assert.ErrorIs(t, ingest.DeleteDocument(ctx, docs[0].ID), domain.ErrNotFound)
}

func TestIngestServiceRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds, err := f.admin().CreateDataset(ctx, &domain.CreateDatasetRequest{Name: "kb"})
	require.NoError(t, err)
	ingest := f.ingest()

	_, err = ingest.UploadDocument(ctx, ds.ID, fileHeader(t, "a.pdf", "x"), domain.ImportParams{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = ingest.UploadDocument(ctx, ds.ID, fileHeader(t, "a.txt", "x"), domain.ImportParams{Mode: "summary"})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)

	_, err = ingest.UploadDocument(ctx, "missing", fileHeader(t, "a.txt", "x"), domain.ImportParams{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	three := []*multipart.FileHeader{fileHeader(t, "a.txt", "x"), fileHeader(t, "b.txt", "x"), fileHeader(t, "c.txt", "x")}
	_, err = ingest.ImportFiles(ctx, ds.ID, three, domain.ImportParams{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestIngestServiceImportKeepsImportedOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds, err := f.admin().CreateDataset(ctx, &domain.CreateDatasetRequest{Name: "kb"})
	require.NoError(t, err)
	f.cfg.Import.Concurrency = 1
	ingest := f.ingest()

	docs, err := ingest.ImportFiles(ctx, ds.ID, []*multipart.FileHeader{
		fileHeader(t, "refunds.txt", "Refunds are issued within 14 days."),
		fileHeader(t, "tool.exe", "x"),
	}, domain.ImportParams{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "tool.exe")
	require.Len(t, docs, 1)
	assert.Equal(t, "refunds.txt", docs[0].Filename)

	ingest.Wait()
	stored, err := ingest.GetDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, stored.Status)
}

func TestIngestServicePreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ds, err := f.admin().CreateDataset(ctx, &domain.CreateDatasetRequest{Name: "kb"})
	require.NoError(t, err)

	size := 5000
	resp, err := f.ingest().PreviewChunks(ctx, ds.ID, &domain.PreviewRequest{
		Text:         strings.Repeat("a", 2000),
		ImportParams: domain.ImportParams{Mode: domain.TrainingModeChunk, ChunkSize: &size},
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, resp.Policy.ChunkSize, "clamped to the vector model max")
	assert.True(t, resp.Policy.ChunkSizeEditable)
	assert.Len(t, resp.Chunks, 3)
	assert.InDelta(t, 2.0, resp.EstimatePrice, 1e-9)

	resp, err = f.ingest().PreviewChunks(ctx, ds.ID, &domain.PreviewRequest{
		Text:         "short",
		ImportParams: domain.ImportParams{Mode: domain.TrainingModeQA},
	})
	require.NoError(t, err)
	assert.True(t, resp.Policy.NeedsPrompt)
	assert.Equal(t, 4400, resp.Policy.ChunkSize)
}

func TestExtractTextHTML(t *testing.T) {
	text, err := ExtractText(FileTypeHTML, strings.NewReader(
		"<html><head><style>p{}</style></head><body><h1>Title</h1><p>One &amp; two</p></body></html>"))
	require.NoError(t, err)
	assert.Equal(t, "Title \n\nOne & two", text)
	assert.Equal(t, "md", DetectFileType("README.MD"))
	assert.False(t, IsSupported(DetectFileType("scan.pdf")))
}

func setupApp(t *testing.T, f *fixture) *domain.App {
	t.Helper()
	ctx := context.Background()
	ds, err := f.admin().CreateDataset(ctx, &domain.CreateDatasetRequest{Name: "kb"})
	require.NoError(t, err)
	require.NoError(t, f.vectors.AddChunks(ctx, vectorstore.ChunkMeta{DatasetID: ds.ID, DocumentID: "d"}, []domain.Chunk{
		{Index: 0, Text: "Refund policy: 14 days"},
		{Index: 1, Text: "Shipping policy: one week"},
	}))
	app, err := f.admin().CreateApp(ctx, &domain.CreateAppRequest{Name: "bot", Model: "m", DatasetIDs: []string{ds.ID}})
	require.NoError(t, err)
	return app
}

func TestChatServiceCompletions(t *testing.T) {
	f := newFixture(t)
	app := setupApp(t, f)
	gen := &fakeGenerator{deltas: []string{"Within ", "14 days."}}
	svc := f.chat(gen)
	ctx := context.Background()

	question := domain.NewTextMessage(domain.RoleUser, "How do refunds   work?")
	ch, err := svc.Completions(ctx, &domain.CompletionRequest{
		AppID:    app.ID,
		ChatID:   "c1",
		Messages: []domain.Message{question},
	})
	require.NoError(t, err)

	chunks := drain(ch)
	require.Len(t, chunks, 4)
	assert.Equal(t, domain.EventAnswer, chunks[0].Type)
	assert.Equal(t, "14 days.", chunks[1].Content)
	assert.Equal(t, domain.EventResponseData, chunks[2].Type)
	assert.Equal(t, domain.EventDone, chunks[3].Type)

	var rd domain.ResponseData
	require.NoError(t, json.Unmarshal(chunks[2].Data, &rd))
	assert.Equal(t, "fake", rd.Model)
	require.NotEmpty(t, rd.Quotes)
	assert.Contains(t, rd.Quotes[0].Content, "Refund")

	require.NotEmpty(t, gen.seen.Messages)
	assert.Equal(t, "system", gen.seen.Messages[0].Role)
	assert.Contains(t, gen.seen.Messages[0].Content, "Refund policy")

	init, err := svc.InitChat(ctx, app.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "How do refunds work?", init.Title)
	require.Len(t, init.History, 2)
	assert.Equal(t, "Within 14 days.", init.History[1].Text())

	// A second exchange keeps the title and sends the stored history
	drain(must(svc.Completions(ctx, &domain.CompletionRequest{
		AppID:    app.ID,
		ChatID:   "c1",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "And shipping?")},
	})))
	items, err := f.chats.ListItems("c1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Len(t, gen.seen.Messages, 4)

	histories, err := svc.ListHistories(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, "How do refunds work?", histories[0].Title)
}

func TestChatServiceErrors(t *testing.T) {
	f := newFixture(t)
	app := setupApp(t, f)
	ctx := context.Background()
	msg := []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")}

	_, err := f.chat(nil).InitChat(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.chat(nil).Completions(ctx, &domain.CompletionRequest{AppID: app.ID, ChatID: "c", Messages: []domain.Message{{Role: domain.RoleUser}}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	// chat c belongs to app; asking for it under another app is forbidden
	drain(must(f.chat(nil).Completions(ctx, &domain.CompletionRequest{AppID: app.ID, ChatID: "c", Messages: msg})))
	other, err := f.admin().CreateApp(ctx, &domain.CreateAppRequest{Name: "other"})
	require.NoError(t, err)
	_, err = f.chat(nil).InitChat(ctx, other.ID, "c")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	gen := &fakeGenerator{err: errors.New("model offline")}
	chunks := drain(must(f.chat(gen).Completions(ctx, &domain.CompletionRequest{AppID: app.ID, ChatID: "d", Messages: msg})))
	require.Len(t, chunks, 1)
	assert.Equal(t, domain.EventError, chunks[0].Type)
	assert.Equal(t, "model offline", chunks[0].Content)
}

func TestChatServiceSavesPartialAnswerWhenClientLeaves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"model\":\"m1\",\"choices\":[{\"delta\":{\"content\":\"Within \"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newFixture(t)
	app := setupApp(t, f)
	svc := f.chat(llm.NewOpenAIClient(srv.URL, "", "m", nil, nil))

	for i := range 10 {
		chatID := fmt.Sprintf("left-%d", i)
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := svc.Completions(ctx, &domain.CompletionRequest{
			AppID:    app.ID,
			ChatID:   chatID,
			Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")},
		})
		require.NoError(t, err)

		first := <-ch
		assert.Equal(t, domain.EventAnswer, first.Type)
		cancel()
		for c := range ch {
			assert.NotEqual(t, domain.EventError, c.Type)
		}

		stored, err := f.chats.GetChat(chatID)
		require.NoError(t, err)
		require.NotNil(t, stored, "chat %s was not saved", chatID)
		items, err := f.chats.ListItems(chatID, 0)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "Within ", items[1].Text())
	}
}

func TestChatServiceWithoutModel(t *testing.T) {
	f := newFixture(t)
	app := setupApp(t, f)
	chunks := drain(must(f.chat(nil).Completions(context.Background(), &domain.CompletionRequest{
		AppID:    app.ID,
		ChatID:   "n",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")},
	})))
	require.NotEmpty(t, chunks)
	assert.Equal(t, NoModelNotice, chunks[0].Content)
	assert.Equal(t, domain.EventDone, chunks[len(chunks)-1].Type)
}

func TestChatServiceHistoryOps(t *testing.T) {
	f := newFixture(t)
	app := setupApp(t, f)
	svc := f.chat(nil)
	ctx := context.Background()
	msg := []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")}
	for _, id := range []string{"a", "b"} {
		drain(must(svc.Completions(ctx, &domain.CompletionRequest{AppID: app.ID, ChatID: id, Messages: msg})))
	}

	custom := "Renamed"
	require.NoError(t, svc.UpdateHistory(ctx, &domain.UpdateHistoryRequest{AppID: app.ID, ChatID: "a", CustomTitle: &custom}))
	init, err := svc.InitChat(ctx, app.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", init.Title)

	require.NoError(t, svc.DeleteHistory(ctx, app.ID, "a"))
	assert.ErrorIs(t, svc.DeleteHistory(ctx, app.ID, "a"), domain.ErrNotFound)

	require.NoError(t, svc.ClearHistories(ctx, app.ID))
	histories, err := svc.ListHistories(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, histories)
}

func must(ch <-chan domain.StreamChunk, err error) <-chan domain.StreamChunk {
	if err != nil {
		panic(err)
	}
	return ch
}
