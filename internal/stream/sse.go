package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// CompletionsPath is the server route that streams completions
const CompletionsPath = "/api/core/chat/completions"

const maxEventSize = 4 << 20

// HTTPTransport opens exchanges as SSE responses from a completions endpoint
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTransport creates a new HTTPTransport. A nil client uses a client
// without an overall timeout, since streams are long lived.
func NewHTTPTransport(baseURL, apiKey string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Open posts req and returns a Source over the event stream.
func (t *HTTPTransport) Open(ctx context.Context, req *domain.CompletionRequest) (Source, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal completion request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+CompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create completion request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send completion request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf("completion request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return NewEventSource(resp.Body), nil
}

// EventSource decodes a server-sent event stream into Events
type EventSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// NewEventSource reads SSE frames from body
func NewEventSource(body io.ReadCloser) *EventSource {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &EventSource{body: body, scanner: scanner}
}

// Next returns the next answer or responseData event. An error event from
// the server is returned as an error; a done event ends the stream.
func (s *EventSource) Next() (Event, error) {
	var name string
	var data strings.Builder

	dispatch := func() (Event, bool, error) {
		defer func() {
			name = ""
			data.Reset()
		}()
		if data.Len() == 0 && name == "" {
			return Event{}, false, nil
		}
		return decodeEvent(name, data.String())
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			ev, ok, err := dispatch()
			if err != nil || ok {
				return ev, err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, errors.Wrap(err, "read event stream")
	}

	// final frame without trailing blank line
	if ev, ok, err := dispatch(); err != nil || ok {
		return ev, err
	}
	return Event{}, io.EOF
}

// Close releases the response body
func (s *EventSource) Close() error {
	return s.body.Close()
}

func decodeEvent(name, data string) (Event, bool, error) {
	if data == "[DONE]" {
		return Event{}, false, io.EOF
	}

	switch name {
	case domain.EventAnswer, "", "message":
		var payload domain.AnswerPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Event{}, false, errors.Wrap(err, "decode answer event")
		}
		return Event{Kind: EventFragment, Text: payload.Text}, true, nil

	case domain.EventResponseData:
		if !json.Valid([]byte(data)) {
			return Event{}, false, errors.New("decode responseData event: invalid json")
		}
		return Event{Kind: EventTerminal, SideData: json.RawMessage(data)}, true, nil

	case domain.EventError:
		var payload domain.ErrorPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Message == "" {
			return Event{}, false, errors.Errorf("server error: %s", data)
		}
		return Event{}, false, errors.Errorf("server error: %s", payload.Message)

	case domain.EventDone:
		return Event{}, false, io.EOF
	}

	// unknown events are skipped
	return Event{}, false, nil
}
