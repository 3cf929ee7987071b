package domain

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// DefaultChatTitle is used when a message has nothing to build a title from.
const DefaultChatTitle = "New Chat"

// DefaultTitleWidth is the display width of a derived title, 20 wide characters.
const DefaultTitleWidth = 40

// ChatTitle derives a conversation title from msg: its text content with
// whitespace collapsed, or else the name of its first named file, truncated
// to maxWidth display columns. fallback is returned when msg has neither.
func ChatTitle(msg *Message, fallback string, maxWidth int) string {
	if msg == nil {
		return fallback
	}
	if maxWidth <= 0 {
		maxWidth = DefaultTitleWidth
	}

	title := strings.Join(strings.Fields(msg.Text()), " ")
	if title == "" {
		for _, f := range msg.Files() {
			if name := strings.TrimSpace(f.Name); name != "" {
				title = name
				break
			}
		}
	}
	if title == "" {
		return fallback
	}
	return runewidth.Truncate(title, maxWidth, "")
}

// FirstUserMessage returns the first user message in messages, or nil.
func FirstUserMessage(messages []Message) *Message {
	for i := range messages {
		if messages[i].Role == RoleUser {
			return &messages[i]
		}
	}
	return nil
}
