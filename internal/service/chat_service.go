package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/config"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/llm"
	"github.com/yezidelongshao/fastGPTProject/internal/repository"
)

// NoModelNotice is streamed as the answer when no language model is configured
const NoModelNotice = "No language model is configured on this server."

// QuoteSearcher finds dataset chunks relevant to a question
type QuoteSearcher interface {
	Search(ctx context.Context, datasetIDs []string, query string, limit int) ([]domain.Quote, error)
}

// ChatService serves conversations: init, histories and streamed completions
type ChatService struct {
	cfg       *config.Config
	appRepo   *repository.AppRepository
	chatRepo  *repository.ChatRepository
	searcher  QuoteSearcher
	generator llm.Generator
	logger    *zap.Logger
}

// NewChatService creates a new chat service. generator and searcher may be nil.
func NewChatService(
	cfg *config.Config,
	appRepo *repository.AppRepository,
	chatRepo *repository.ChatRepository,
	searcher QuoteSearcher,
	generator llm.Generator,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		cfg:       cfg,
		appRepo:   appRepo,
		chatRepo:  chatRepo,
		searcher:  searcher,
		generator: generator,
		logger:    logger.Named("chat"),
	}
}

func (s *ChatService) app(appID string) (*domain.App, error) {
	app, err := s.appRepo.Get(appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, fmt.Errorf("app %s: %w", appID, domain.ErrNotFound)
	}
	return app, nil
}

// chat returns the stored chat, nil when it does not exist yet, or
// ErrForbidden when it belongs to another app.
func (s *ChatService) chat(appID, chatID string) (*domain.Chat, error) {
	if chatID == "" {
		return nil, nil
	}
	chat, err := s.chatRepo.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if chat != nil && chat.AppID != appID {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrForbidden)
	}
	return chat, nil
}

// InitChat returns what a chat view needs to show a conversation
func (s *ChatService) InitChat(ctx context.Context, appID, chatID string) (*domain.InitChatResponse, error) {
	app, err := s.app(appID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chat(appID, chatID)
	if err != nil {
		return nil, err
	}

	resp := &domain.InitChatResponse{
		ChatID: chatID,
		AppID:  appID,
		Title:  s.cfg.Chat.DefaultTitle,
		App: domain.AppInfo{
			ID:          app.ID,
			Name:        app.Name,
			Intro:       app.Intro,
			WelcomeText: app.ChatConfig.WelcomeText,
		},
		History: []domain.Message{},
	}
	if chat == nil {
		return resp, nil
	}

	resp.Title = chat.Summary().DisplayTitle()
	resp.Variables = chat.Variables
	items, err := s.chatRepo.ListItems(chatID, 0)
	if err != nil {
		return nil, err
	}
	if items != nil {
		resp.History = items
	}
	return resp, nil
}

// ListHistories lists the conversations of an app, pinned first
func (s *ChatService) ListHistories(ctx context.Context, appID string) ([]domain.HistorySummary, error) {
	chats, err := s.chatRepo.ListChats(appID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistorySummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.Summary())
	}
	return out, nil
}

// UpdateHistory changes the title, custom title or pin state of a conversation
func (s *ChatService) UpdateHistory(ctx context.Context, req *domain.UpdateHistoryRequest) error {
	return s.chatRepo.UpdateChat(req)
}

// DeleteHistory deletes one conversation
func (s *ChatService) DeleteHistory(ctx context.Context, appID, chatID string) error {
	return s.chatRepo.DeleteChat(appID, chatID)
}

// ClearHistories deletes every conversation of an app
func (s *ChatService) ClearHistories(ctx context.Context, appID string) error {
	n, err := s.chatRepo.DeleteChatsByApp(appID)
	if err != nil {
		return err
	}
	s.logger.Info("histories cleared", zap.String("app_id", appID), zap.Int64("count", n))
	return nil
}

// Completions streams the answer to the last user message of req. The
// channel ends with a done chunk, or an error chunk when generation fails.
// The exchange is stored once the answer is complete or the caller goes away.
func (s *ChatService) Completions(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamChunk, error) {
	question, err := validateCompletion(req)
	if err != nil {
		return nil, err
	}
	app, err := s.app(req.AppID)
	if err != nil {
		return nil, err
	}
	existing, err := s.chat(req.AppID, req.ChatID)
	if err != nil {
		return nil, err
	}

	history, err := s.chatRepo.ListItems(req.ChatID, app.ChatConfig.MaxHistories)
	if err != nil {
		return nil, err
	}
	quotes := s.searchQuotes(ctx, app, question.Text())

	ch := make(chan domain.StreamChunk, 16)
	go func() {
		defer close(ch)
		s.stream(ctx, ch, app, existing, req, question, history, quotes)
	}()
	return ch, nil
}

func validateCompletion(req *domain.CompletionRequest) (*domain.Message, error) {
	if req.AppID == "" || req.ChatID == "" {
		return nil, fmt.Errorf("%w: app_id and chat_id are required", domain.ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages", domain.ErrInvalidRequest)
	}
	for _, m := range req.Messages {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			return &req.Messages[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no user message", domain.ErrInvalidRequest)
}

func (s *ChatService) searchQuotes(ctx context.Context, app *domain.App, query string) []domain.Quote {
	if s.searcher == nil || len(app.DatasetIDs) == 0 {
		return nil
	}
	limit := app.ChatConfig.SearchLimit
	if limit <= 0 {
		limit = s.cfg.Chat.SearchLimit
	}
	quotes, err := s.searcher.Search(ctx, app.DatasetIDs, query, limit)
	if err != nil {
		s.logger.Warn("dataset search failed", zap.String("app_id", app.ID), zap.Error(err))
		return nil
	}
	return quotes
}

func (s *ChatService) prompt(app *domain.App, history []domain.Message, question *domain.Message, quotes []domain.Quote) []llm.Message {
	var system strings.Builder
	system.WriteString(app.ChatConfig.SystemPrompt)
	if len(quotes) > 0 {
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		system.WriteString("Use the following knowledge to answer. Say so if it does not contain the answer.\n<Quotes>\n")
		for _, q := range quotes {
			system.WriteString(q.Content)
			system.WriteString("\n------\n")
		}
		system.WriteString("</Quotes>")
	}

	var messages []llm.Message
	if system.Len() > 0 {
		messages = append(messages, llm.Message{Role: string(domain.RoleSystem), Content: system.String()})
	}
	messages = append(messages, llm.FromChat(history)...)
	messages = append(messages, llm.FromChat([]domain.Message{*question})...)
	return messages
}

func (s *ChatService) stream(
	ctx context.Context,
	ch chan<- domain.StreamChunk,
	app *domain.App,
	existing *domain.Chat,
	req *domain.CompletionRequest,
	question *domain.Message,
	history []domain.Message,
	quotes []domain.Quote,
) {
	start := time.Now()
	log := s.logger.With(zap.String("app_id", app.ID), zap.String("chat_id", req.ChatID))

	emit := func(c domain.StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var answer strings.Builder
	rd := domain.ResponseData{Model: app.Model, Quotes: quotes}

	if s.generator == nil {
		answer.WriteString(NoModelNotice)
		emit(domain.StreamChunk{Type: domain.EventAnswer, Content: NoModelNotice})
	} else {
		events, err := s.generator.Stream(ctx, &llm.CompletionRequest{
			Model:       app.Model,
			Messages:    s.prompt(app, history, question, quotes),
			Temperature: app.ChatConfig.Temperature,
		})
		if err != nil {
			log.Error("completion failed", zap.Error(err))
			emit(domain.StreamChunk{Type: domain.EventError, Content: err.Error()})
			return
		}

	loop:
		for ev := range events {
			switch ev.Type {
			case llm.EventDelta:
				answer.WriteString(ev.Delta)
				if !emit(domain.StreamChunk{Type: domain.EventAnswer, Content: ev.Delta}) {
					break loop
				}
			case llm.EventDone:
				if ev.Model != "" {
					rd.Model = ev.Model
				}
				rd.Usage = ev.Usage
			case llm.EventError:
				if ctx.Err() != nil {
					// the client left; keep what was answered so far
					break loop
				}
				log.Error("completion stream failed", zap.Error(ev.Err))
				emit(domain.StreamChunk{Type: domain.EventError, Content: ev.Err.Error()})
				return
			}
		}
	}

	rd.Duration = time.Since(start)
	data, _ := json.Marshal(rd)

	// Store what was produced even when the client has gone away
	if answer.Len() > 0 {
		if err := s.save(existing, req, question, answer.String(), data); err != nil {
			log.Error("failed to save chat", zap.Error(err))
		}
	}
	if ctx.Err() != nil {
		log.Info("client left before the answer completed", zap.Int("answer_len", answer.Len()))
		return
	}

	emit(domain.StreamChunk{Type: domain.EventResponseData, Data: data})
	emit(domain.StreamChunk{Type: domain.EventDone})
	log.Debug("completion streamed", zap.Duration("duration", rd.Duration), zap.Int("quotes", len(quotes)))
}

func (s *ChatService) save(
	existing *domain.Chat,
	req *domain.CompletionRequest,
	question *domain.Message,
	answer string,
	responseData json.RawMessage,
) error {
	chat := &domain.Chat{
		ChatID:     req.ChatID,
		AppID:      req.AppID,
		Variables:  req.Variables,
		Source:     domain.ChatSourceOnline,
		UpdateTime: time.Now(),
	}
	if existing == nil {
		chat.Title = domain.ChatTitle(question, s.cfg.Chat.DefaultTitle, s.cfg.Chat.TitleWidth)
	}
	if err := s.chatRepo.SaveChat(chat); err != nil {
		return err
	}

	userMsg := domain.Message{Role: domain.RoleUser, Value: question.Value}
	if err := s.chatRepo.CreateItem(req.ChatID, req.AppID, &userMsg, nil); err != nil {
		return err
	}
	aiMsg := domain.NewTextMessage(domain.RoleAssistant, answer)
	return s.chatRepo.CreateItem(req.ChatID, req.AppID, &aiMsg, responseData)
}
