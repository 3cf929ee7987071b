package chat

import (
	"context"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/stream"
)

// Collector runs one streamed exchange
type Collector interface {
	Run(ctx context.Context, req *domain.CompletionRequest, onIncrement func(string)) (*stream.Result, error)
}

// Histories is the conversation list the controller reconciles into
type Histories interface {
	Push(item domain.HistorySummary) error
	Update(chatID string, fn func(*domain.HistorySummary)) bool
	Remove(chatID string) bool
	ClearApp(appID string) int
	Replace(appID string, items []domain.HistorySummary)
}

// Persistence is the server holding chat records
type Persistence interface {
	InitChat(ctx context.Context, appID, chatID string) (*domain.InitChatResponse, error)
	ListHistories(ctx context.Context, appID string) ([]domain.HistorySummary, error)
	UpdateHistory(ctx context.Context, req *domain.UpdateHistoryRequest) error
	DeleteHistory(ctx context.Context, appID, chatID string) error
	ClearHistories(ctx context.Context, appID string) error
}

// Navigator applies view navigation requested by the controller
type Navigator interface {
	// ReplaceChat points the current view at chatID in place; an empty
	// chatID means a fresh conversation.
	ReplaceChat(appID, chatID string)
	// RedirectToAppList leaves the chat view for the app listing.
	RedirectToAppList()
}

// LastUsedStore remembers the app and chat a user last opened
type LastUsedStore interface {
	SetLastUsed(appID, chatID string)
	ClearLastUsed()
}

// Notifier reports errors to the user
type Notifier interface {
	NotifyError(title string, err error)
}

type nopView struct{}

func (nopView) ReplaceChat(string, string) {}
func (nopView) RedirectToAppList() {}
func (nopView) SetLastUsed(string, string) {}
func (nopView) ClearLastUsed() {}
func (nopView) NotifyError(string, error) {}
