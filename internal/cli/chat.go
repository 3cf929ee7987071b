package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/chat"
	"github.com/yezidelongshao/fastGPTProject/internal/client"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/history"
	"github.com/yezidelongshao/fastGPTProject/internal/stream"
)

const chatHelp = `Commands:
  /new                 start a fresh conversation
  /history             list conversations of this app
  /open <chat_id>      open a conversation
  /pin <chat_id>       pin a conversation (/unpin to undo)
  /title <chat_id> <t> set a custom title; empty clears it
  /delete <chat_id>    delete a conversation
  /clear               delete every conversation of this app
  /quit                leave
Ctrl+C while a reply streams stops it.`

func newChatCmd() *cobra.Command {
	var appID, chatID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an app of a FastGPT server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), appID, chatID)
		},
	}

	cmd.Flags().StringVar(&appID, "app", "", "app id (default: last used)")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id to reopen")
	return cmd
}

type chatSession struct {
	ctrl      *chat.Controller
	histories *history.Store
	view      *terminalView
	line      *liner.State
	out       io.Writer
	messages  []domain.Message
}

func runChat(ctx context.Context, appID, chatID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	state := newStateFile(cfg.Client.StatePath, logger)
	if appID == "" {
		last, err := state.Load()
		if err != nil {
			logger.Warn("Failed to read last used chat", zap.Error(err))
		}
		appID = last.AppID
		if chatID == "" {
			chatID = last.ChatID
		}
	}
	if appID == "" {
		return errors.New("no app given, use --app")
	}

	out := os.Stdout
	view := newTerminalView(out)
	histories := history.NewStore()
	transport := stream.NewHTTPTransport(cfg.Client.BaseURL, cfg.Client.APIKey, nil)

	s := &chatSession{
		histories: histories,
		view:      view,
		out:       out,
		ctrl: chat.NewController(chat.Options{
			AppID:        appID,
			DefaultTitle: cfg.Chat.DefaultTitle,
			TitleWidth:   cfg.Chat.TitleWidth,
			Collector:    stream.NewCollector(transport, logger.Named("stream")),
			Histories:    histories,
			Persistence:  client.New(cfg.Client.BaseURL, cfg.Client.APIKey, cfg.Client.Timeout),
			Navigator:    view,
			LastUsed:     state,
			Notifier:     view,
			Logger:       logger.Named("chat"),
		}),
	}

	if err := s.ctrl.Load(ctx, appID, chatID); err != nil {
		return err
	}
	if err := s.ctrl.LoadHistories(ctx); err != nil {
		view.NotifyError("Failed to list conversations", err)
	}
	s.messages = s.ctrl.Messages()

	app := s.ctrl.App()
	fmt.Fprintf(out, "%s  (/help for commands)\n", app.Name)
	if len(s.messages) == 0 && app.WelcomeText != "" {
		fmt.Fprintln(out, app.WelcomeText)
	}
	printMessages(out, s.messages)

	// Ctrl+C during a reply stops it; at the prompt liner aborts the line
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		for range sig {
			s.ctrl.Stop()
		}
	}()

	s.line = liner.NewLiner()
	defer s.line.Close()
	s.line.SetCtrlCAborts(true)
	historyFile := filepath.Join(filepath.Dir(cfg.Client.StatePath), "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		s.line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			s.line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := s.line.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		s.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := s.command(ctx, input)
			if err != nil {
				view.NotifyError("Command failed", err)
			}
			if quit {
				return nil
			}
		} else {
			s.send(ctx, input)
		}

		if err := s.navigate(ctx); err != nil {
			return err
		}
		if view.leftApp() {
			fmt.Fprintln(out, "The app is no longer available.")
			return nil
		}
	}
}

func (s *chatSession) send(ctx context.Context, text string) {
	msgs := append(slices.Clip(s.messages), domain.NewTextMessage(domain.RoleUser, text))

	fmt.Fprint(s.out, "ai> ")
	res, err := s.ctrl.Send(ctx, chat.SendRequest{
		Messages:    msgs,
		OnIncrement: func(fragment string) { fmt.Fprint(s.out, fragment) },
	})
	fmt.Fprintln(s.out)
	if err != nil {
		s.view.NotifyError("Reply failed", err)
		return
	}
	if res.Aborted {
		fmt.Fprintln(s.out, "(stopped)")
	}
	s.messages = s.ctrl.Messages()
}

// navigate applies a chat switch requested by the controller
func (s *chatSession) navigate(ctx context.Context) error {
	chatID, ok := s.view.takeNavigation()
	if !ok {
		return nil
	}
	// load failures were already reported through the view
	err := s.ctrl.Load(ctx, s.ctrl.AppID(), chatID)
	var loadErr *chat.LoadError
	if err != nil && !errors.As(err, &loadErr) {
		return err
	}
	s.messages = s.ctrl.Messages()
	return nil
}

func (s *chatSession) command(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	arg := func(i int) (string, error) {
		if len(fields) <= i {
			return "", fmt.Errorf("%s needs a chat id", fields[0])
		}
		return fields[i], nil
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(s.out, chatHelp)

	case "/new":
		if err := s.ctrl.Reset(); err != nil {
			return false, err
		}

	case "/history":
		if err := s.ctrl.LoadHistories(ctx); err != nil {
			return false, err
		}
		printHistories(s.out, s.histories.Sorted(s.ctrl.AppID()), s.ctrl.ChatID())

	case "/open":
		chatID, err := arg(1)
		if err != nil {
			return false, err
		}
		if err := s.ctrl.Load(ctx, s.ctrl.AppID(), chatID); err != nil {
			var loadErr *chat.LoadError
			if errors.As(err, &loadErr) {
				return false, nil
			}
			return false, err
		}
		s.messages = s.ctrl.Messages()
		fmt.Fprintf(s.out, "-- %s --\n", s.ctrl.Title())
		printMessages(s.out, s.messages)

	case "/pin", "/unpin":
		chatID, err := arg(1)
		if err != nil {
			return false, err
		}
		return false, s.ctrl.SetPinned(ctx, chatID, fields[0] == "/pin")

	case "/title":
		chatID, err := arg(1)
		if err != nil {
			return false, err
		}
		return false, s.ctrl.SetCustomTitle(ctx, chatID, strings.Join(fields[2:], " "))

	case "/delete":
		chatID, err := arg(1)
		if err != nil {
			return false, err
		}
		return false, s.ctrl.DeleteHistoryEntry(ctx, chatID)

	case "/clear":
		return false, s.ctrl.ClearHistories(ctx)

	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}
