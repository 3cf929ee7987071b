package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

const titleColumn = 32

// terminalView receives navigation and errors from the controller. The REPL
// applies pending navigation between prompts.
type terminalView struct {
	mu         sync.Mutex
	out        io.Writer
	pending    *string
	redirected bool
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out}
}

func (v *terminalView) ReplaceChat(appID, chatID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = &chatID
}

func (v *terminalView) RedirectToAppList() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.redirected = true
}

func (v *terminalView) NotifyError(title string, err error) {
	fmt.Fprintf(v.out, "! %s: %v\n", title, err)
}

// takeNavigation returns the chat id the view was pointed at since the last call
func (v *terminalView) takeNavigation() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending == nil {
		return "", false
	}
	chatID := *v.pending
	v.pending = nil
	return chatID, true
}

func (v *terminalView) leftApp() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.redirected
}

// printHistories writes one aligned line per conversation
func printHistories(w io.Writer, items []domain.HistorySummary, current string) {
	if len(items) == 0 {
		fmt.Fprintln(w, "  (no conversations)")
		return
	}
	for _, h := range items {
		marker := " "
		if h.ChatID == current {
			marker = "*"
		}
		pin := " "
		if h.Top {
			pin = "^"
		}
		title := runewidth.Truncate(h.DisplayTitle(), titleColumn, "...")
		fmt.Fprintf(w, "%s%s %s  %s  %s\n",
			marker, pin, h.ChatID,
			runewidth.FillRight(title, titleColumn),
			h.UpdateTime.Local().Format(time.DateTime))
	}
}

func printMessages(w io.Writer, messages []domain.Message) {
	for _, m := range messages {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		fmt.Fprintf(w, "%s> %s\n", m.Role, text)
	}
}
