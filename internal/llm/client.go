// Package llm streams chat completions from an OpenAI compatible endpoint.
package llm

import (
	"context"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Message is one prompt message sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a generation request
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
}

// EventType tags a StreamEvent
type EventType int

const (
	EventDelta EventType = iota
	EventDone
	EventError
)

// StreamEvent is one item of a generation stream. The channel carrying them is
// closed after an EventDone or EventError.
type StreamEvent struct {
	Type  EventType
	Delta string
	Model string
	Usage *domain.Usage
	Err   error
}

// Generator produces streamed completions
type Generator interface {
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}

// FromChat converts conversation messages into prompt messages, keeping
// their text content only.
func FromChat(messages []domain.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		out = append(out, Message{Role: string(m.Role), Content: text})
	}
	return out
}
