// Package chat implements the client side of a conversation: sending a
// message, streaming the reply and reconciling the result into the history
// list.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Cancellation causes passed to Cancel
var (
	// ErrNavigation means the user left the chat view mid-stream
	ErrNavigation = errors.New("navigation")
	// ErrStopped means the user stopped the reply
	ErrStopped = errors.New("stopped by user")
)

// promptWindow is how many trailing messages are sent with each request
const promptWindow = 2

// State is the state of the controller's current or last send
type State string

const (
	StateIdle        State = "idle"
	StateSending     State = "sending"
	StateStreaming   State = "streaming"
	StateReconciling State = "reconciling"
	StateSettled     State = "settled"
	StateAborted     State = "aborted"
	StateFailed      State = "failed"
)

// Options configures a Controller. Navigator, LastUsed and Notifier are optional.
type Options struct {
	AppID        string
	ChatID       string
	DefaultTitle string
	TitleWidth   int

	Collector   Collector
	Histories   Histories
	Persistence Persistence
	Navigator   Navigator
	LastUsed    LastUsedStore
	Notifier    Notifier
	Logger      *zap.Logger
}

// SendRequest is one user turn
type SendRequest struct {
	// Messages is the whole conversation ending with the new user message.
	Messages  []domain.Message
	Variables map[string]any
	// OnIncrement receives reply fragments in arrival order.
	OnIncrement func(fragment string)
}

// SendResult is the outcome of a send that did not fail
type SendResult struct {
	ChatID            string
	FinalText         string
	SideData          json.RawMessage
	IsNewConversation bool
	Aborted           bool
}

// LoadError is returned by Load. Terminal errors have already redirected the
// view; others leave it in place.
type LoadError struct {
	Terminal bool
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load chat: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// session is the durable view of the open conversation
type session struct {
	chatID    string
	title     string
	variables map[string]any
	messages  []domain.Message
	app       domain.AppInfo
	// skipReload is the chat id this controller navigated to itself after
	// creating it; the load that navigation triggers is served locally.
	skipReload string
}

// exchange is the live draft of one send
type exchange struct {
	state  State
	appID  string
	chatID string
	isNew  bool
	cancel context.CancelCauseFunc
	draft  strings.Builder
}

// Controller owns one chat view. At most one send is live at a time.
type Controller struct {
	defaultTitle string
	titleWidth   int

	collector Collector
	histories Histories
	persist   Persistence
	nav       Navigator
	lastUsed  LastUsedStore
	notify    Notifier
	logger    *zap.Logger

	newID func() string
	now   func() time.Time

	mu        sync.Mutex
	appID     string
	session   session
	live      *exchange
	lastState State
}

// NewController creates a new Controller
func NewController(opts Options) *Controller {
	c := &Controller{
		defaultTitle: opts.DefaultTitle,
		titleWidth:   opts.TitleWidth,
		collector:    opts.Collector,
		histories:    opts.Histories,
		persist:      opts.Persistence,
		nav:          opts.Navigator,
		lastUsed:     opts.LastUsed,
		notify:       opts.Notifier,
		logger:       opts.Logger,
		newID:        NewConversationID,
		now:          time.Now,
		appID:        opts.AppID,
		session:      session{chatID: opts.ChatID},
		lastState:    StateIdle,
	}
	if c.defaultTitle == "" {
		c.defaultTitle = domain.DefaultChatTitle
	}
	if c.nav == nil {
		c.nav = nopView{}
	}
	if c.lastUsed == nil {
		c.lastUsed = nopView{}
	}
	if c.notify == nil {
		c.notify = nopView{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Send streams a reply to the last message of req.Messages and reconciles
// the history list. A transport failure returns the error and leaves the
// history untouched. Cancel aborts the reply; the partial text is then
// reconciled like a complete one.
func (c *Controller) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: no message to send", domain.ErrInvalidRequest)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.RoleUser {
		return nil, fmt.Errorf("%w: last message must be from the user", domain.ErrInvalidRequest)
	}
	if err := last.Validate(); err != nil {
		return nil, err
	}

	ex, exCtx, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}

	compReq := &domain.CompletionRequest{
		AppID:     ex.appID,
		ChatID:    ex.chatID,
		Messages:  promptMessages(req.Messages),
		Variables: req.Variables,
	}

	res, err := c.collector.Run(exCtx, compReq, func(fragment string) {
		c.mu.Lock()
		ex.state = StateStreaming
		ex.draft.WriteString(fragment)
		c.mu.Unlock()
		if req.OnIncrement != nil {
			req.OnIncrement(fragment)
		}
	})
	if err != nil {
		c.finish(ex, StateFailed)
		c.logger.Warn("Chat exchange failed",
			zap.String("app_id", ex.appID),
			zap.String("chat_id", ex.chatID),
			zap.Error(err))
		return nil, err
	}

	c.setState(ex, StateReconciling)
	title := domain.ChatTitle(domain.FirstUserMessage(req.Messages), c.defaultTitle, c.titleWidth)
	now := c.now()

	navigate := false
	if ex.isNew {
		err := c.histories.Push(domain.HistorySummary{
			ChatID:     ex.chatID,
			AppID:      ex.appID,
			UpdateTime: now,
			Title:      title,
		})
		if err != nil {
			c.finish(ex, StateFailed)
			c.logger.Error("Generated chat id already in history", zap.String("chat_id", ex.chatID), zap.Error(err))
			return nil, err
		}
		navigate = !errors.Is(res.AbortCause, ErrNavigation)
	} else {
		found := c.histories.Update(ex.chatID, func(h *domain.HistorySummary) {
			h.UpdateTime = now
			h.Title = title
		})
		if !found {
			c.logger.Debug("No history entry to refresh", zap.String("chat_id", ex.chatID))
		}
	}

	// Merge the live draft into the durable conversation
	reply := domain.Message{
		Role:      domain.RoleAssistant,
		Value:     []domain.ValueItem{domain.TextItem(res.Text)},
		CreatedAt: now,
	}
	final := StateSettled
	if res.Aborted() {
		final = StateAborted
	}
	c.mu.Lock()
	// Leave may have come after the collector returned
	if errors.Is(context.Cause(exCtx), ErrNavigation) {
		navigate = false
	}
	c.session.chatID = ex.chatID
	c.session.title = title
	c.session.messages = append(slices.Clone(req.Messages), reply)
	if req.Variables != nil {
		c.session.variables = req.Variables
	}
	if navigate {
		c.session.skipReload = ex.chatID
	}
	c.settleLocked(ex, final)
	c.mu.Unlock()
	ex.cancel(nil)

	if navigate {
		c.nav.ReplaceChat(ex.appID, ex.chatID)
	}

	return &SendResult{
		ChatID:            ex.chatID,
		FinalText:         res.Text,
		SideData:          res.SideData,
		IsNewConversation: ex.isNew,
		Aborted:           res.Aborted(),
	}, nil
}

func (c *Controller) begin(ctx context.Context) (*exchange, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil {
		return nil, nil, domain.ErrConversationBusy
	}

	exCtx, cancel := context.WithCancelCause(ctx)
	ex := &exchange{
		state:  StateSending,
		appID:  c.appID,
		chatID: c.session.chatID,
		cancel: cancel,
	}
	if ex.chatID == "" {
		ex.chatID = c.newID()
		ex.isNew = true
	}
	c.session.skipReload = ""
	c.live = ex
	c.lastState = StateSending
	return ex, exCtx, nil
}

func (c *Controller) setState(ex *exchange, state State) {
	c.mu.Lock()
	ex.state = state
	c.lastState = state
	c.mu.Unlock()
}

func (c *Controller) finish(ex *exchange, state State) {
	ex.cancel(nil)
	c.mu.Lock()
	c.settleLocked(ex, state)
	c.mu.Unlock()
}

func (c *Controller) settleLocked(ex *exchange, state State) {
	ex.state = state
	c.lastState = state
	c.live = nil
}

func promptMessages(messages []domain.Message) []domain.Message {
	if len(messages) <= promptWindow {
		return slices.Clone(messages)
	}
	return slices.Clone(messages[len(messages)-promptWindow:])
}

// Cancel aborts the live send with reason. It is a no-op when idle.
func (c *Controller) Cancel(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil {
		c.live.cancel(reason)
	}
}

// Stop aborts the live reply at the user's request.
func (c *Controller) Stop() { c.Cancel(ErrStopped) }

// Leave aborts the live reply because the view is going away. A new chat is
// still recorded but the view is not navigated to it.
func (c *Controller) Leave() { c.Cancel(ErrNavigation) }

// Load opens chatID of appID, seeding the conversation from the server. An
// empty chatID opens a fresh conversation.
func (c *Controller) Load(ctx context.Context, appID, chatID string) error {
	c.mu.Lock()
	if c.live != nil {
		c.mu.Unlock()
		return domain.ErrConversationBusy
	}
	skip := chatID != "" && chatID == c.session.skipReload && appID == c.appID
	c.session.skipReload = ""
	c.mu.Unlock()

	c.lastUsed.SetLastUsed(appID, chatID)
	if skip {
		c.logger.Debug("Chat already loaded", zap.String("chat_id", chatID))
		return nil
	}

	res, err := c.persist.InitChat(ctx, appID, chatID)
	if err != nil {
		return c.loadFailed(appID, chatID, err)
	}

	c.mu.Lock()
	c.appID = appID
	c.session = session{
		chatID:    chatID,
		title:     res.Title,
		variables: res.Variables,
		messages:  res.History,
		app:       res.App,
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) loadFailed(appID, chatID string, err error) error {
	terminal := errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden)

	c.lastUsed.ClearLastUsed()
	c.notify.NotifyError("Failed to load chat", err)
	c.logger.Warn("Failed to load chat",
		zap.String("app_id", appID),
		zap.String("chat_id", chatID),
		zap.Bool("terminal", terminal),
		zap.Error(err))

	if terminal {
		c.nav.RedirectToAppList()
	}
	return &LoadError{Terminal: terminal, Err: err}
}

// LoadHistories replaces the app's entries in the history list with the
// server's.
func (c *Controller) LoadHistories(ctx context.Context) error {
	appID := c.AppID()
	items, err := c.persist.ListHistories(ctx, appID)
	if err != nil {
		return fmt.Errorf("list histories: %w", err)
	}
	c.histories.Replace(appID, items)
	return nil
}

// DeleteHistoryEntry deletes a conversation. Deleting the open conversation
// resets the view to a fresh one.
func (c *Controller) DeleteHistoryEntry(ctx context.Context, chatID string) error {
	appID, err := c.idleApp(chatID)
	if err != nil {
		return err
	}
	if err := c.persist.DeleteHistory(ctx, appID, chatID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	c.histories.Remove(chatID)

	c.mu.Lock()
	current := c.session.chatID == chatID
	if current {
		c.session = session{app: c.session.app}
	}
	c.mu.Unlock()

	if current {
		c.nav.ReplaceChat(appID, "")
	}
	return nil
}

// SetPinned pins or unpins a conversation.
func (c *Controller) SetPinned(ctx context.Context, chatID string, pinned bool) error {
	appID := c.AppID()
	err := c.persist.UpdateHistory(ctx, &domain.UpdateHistoryRequest{AppID: appID, ChatID: chatID, Top: &pinned})
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	c.histories.Update(chatID, func(h *domain.HistorySummary) { h.Top = pinned })
	return nil
}

// SetCustomTitle sets the user title of a conversation; empty clears it.
func (c *Controller) SetCustomTitle(ctx context.Context, chatID, title string) error {
	appID := c.AppID()
	err := c.persist.UpdateHistory(ctx, &domain.UpdateHistoryRequest{AppID: appID, ChatID: chatID, CustomTitle: &title})
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	c.histories.Update(chatID, func(h *domain.HistorySummary) { h.CustomTitle = title })
	return nil
}

// ClearHistories deletes every conversation of the current app and resets
// the view to a fresh conversation.
func (c *Controller) ClearHistories(ctx context.Context) error {
	appID, err := c.idleApp("")
	if err != nil {
		return err
	}
	if err := c.persist.ClearHistories(ctx, appID); err != nil {
		return fmt.Errorf("clear histories: %w", err)
	}
	c.histories.ClearApp(appID)

	c.mu.Lock()
	c.session = session{app: c.session.app}
	c.mu.Unlock()

	c.nav.ReplaceChat(appID, "")
	return nil
}

// Reset starts a fresh conversation in the current app.
func (c *Controller) Reset() error {
	appID, err := c.idleApp("")
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = session{app: c.session.app}
	c.mu.Unlock()
	c.nav.ReplaceChat(appID, "")
	return nil
}

// idleApp returns the current app id, failing when a live send touches
// chatID (any chat when chatID is empty).
func (c *Controller) idleApp(chatID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil && (chatID == "" || c.live.chatID == chatID) {
		return "", domain.ErrConversationBusy
	}
	return c.appID, nil
}

// AppID returns the app of the view.
func (c *Controller) AppID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appID
}

// ChatID returns the open conversation id, empty for a fresh conversation.
func (c *Controller) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.chatID
}

// Title returns the title of the open conversation.
func (c *Controller) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.title == "" {
		return c.defaultTitle
	}
	return c.session.title
}

// App returns the app info from the last load.
func (c *Controller) App() domain.AppInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.app
}

// Messages returns a copy of the durable conversation.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.session.messages)
}

// Variables returns the conversation variables.
func (c *Controller) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.variables
}

// Draft returns the reply streamed so far by the live send.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return ""
	}
	return c.live.draft.String()
}

// State returns the state of the live send, or of the last one when idle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil {
		return c.live.state
	}
	return c.lastState
}
