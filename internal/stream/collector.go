// Package stream drives a streamed completion exchange: fragments are
// applied in arrival order and one terminal side-data payload closes it.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// State is the lifecycle state of one exchange
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

// EventKind distinguishes fragments from the terminal payload
type EventKind int

const (
	EventFragment EventKind = iota + 1
	EventTerminal
)

// Event is one decoded item of a stream
type Event struct {
	Kind     EventKind
	Text     string
	SideData json.RawMessage
}

// Source yields the events of one open exchange. Next returns io.EOF when the
// stream ends. Close releases the underlying connection and must unblock a
// pending Next.
type Source interface {
	Next() (Event, error)
	Close() error
}

// Transport opens exchanges
type Transport interface {
	Open(ctx context.Context, req *domain.CompletionRequest) (Source, error)
}

// Result is how an exchange ended when it did not fail
type Result struct {
	Text     string
	SideData json.RawMessage
	State    State
	// AbortCause is the cancellation cause when State is StateAborted
	AbortCause error
}

// Aborted reports whether the exchange was cancelled before its terminal payload.
func (r *Result) Aborted() bool { return r.State == StateAborted }

// Collector runs exchanges over a Transport
type Collector struct {
	transport Transport
	logger    *zap.Logger
}

// NewCollector creates a new Collector
func NewCollector(transport Transport, logger *zap.Logger) *Collector {
	return &Collector{transport: transport, logger: logger}
}

type exchange struct {
	state    State
	text     strings.Builder
	sideData json.RawMessage
}

type sourceItem struct {
	event Event
	err   error
}

// Run sends req once and blocks until the exchange terminates. onIncrement is
// called synchronously for each fragment in arrival order.
//
// Cancelling ctx stops the exchange: no fragment is applied after the
// cancellation is observed, the source is closed, and Run returns the text
// accumulated so far with StateAborted. When the cancellation cause is a
// network error or deadline, Run fails with *domain.TransportError instead.
func (c *Collector) Run(ctx context.Context, req *domain.CompletionRequest, onIncrement func(string)) (*Result, error) {
	ex := &exchange{state: StatePending}
	start := time.Now()

	if ctx.Err() != nil {
		return c.settleCancelled(ctx, ex)
	}

	src, err := c.transport.Open(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return c.settleCancelled(ctx, ex)
		}
		ex.state = StateFailed
		c.logger.Warn("Failed to open stream", zap.String("chat_id", req.ChatID), zap.Error(err))
		return nil, &domain.TransportError{Op: "open", Err: err}
	}
	ex.state = StateStreaming

	items := make(chan sourceItem)
	done := make(chan struct{})
	go pump(src, items, done)
	defer func() {
		close(done)
		if err := src.Close(); err != nil {
			c.logger.Debug("Failed to close stream", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return c.settleCancelled(ctx, ex)

		case item := <-items:
			// acknowledged cancellation wins over anything still in flight
			if ctx.Err() != nil {
				return c.settleCancelled(ctx, ex)
			}

			if item.err != nil {
				if errors.Is(item.err, io.EOF) {
					ex.state = StateCompleted
					c.logger.Warn("Stream ended without response data", zap.String("chat_id", req.ChatID))
					return ex.result(), nil
				}
				ex.state = StateFailed
				return nil, &domain.TransportError{Op: "read", Err: item.err}
			}

			switch item.event.Kind {
			case EventFragment:
				ex.text.WriteString(item.event.Text)
				if onIncrement != nil {
					onIncrement(item.event.Text)
				}
			case EventTerminal:
				ex.sideData = item.event.SideData
				ex.state = StateCompleted
				c.logger.Debug("Stream completed",
					zap.String("chat_id", req.ChatID),
					zap.Int("chars", ex.text.Len()),
					zap.Duration("duration", time.Since(start)))
				return ex.result(), nil
			}
		}
	}
}

func (c *Collector) settleCancelled(ctx context.Context, ex *exchange) (*Result, error) {
	cause := context.Cause(ctx)
	if IsHardFailure(cause) {
		ex.state = StateFailed
		return nil, &domain.TransportError{Op: "stream", Err: cause}
	}
	ex.state = StateAborted
	res := ex.result()
	res.AbortCause = cause
	return res, nil
}

func (ex *exchange) result() *Result {
	return &Result{Text: ex.text.String(), SideData: ex.sideData, State: ex.state}
}

// IsHardFailure reports whether a cancellation cause is a network failure
// or timeout rather than a deliberate stop.
func IsHardFailure(cause error) bool {
	if cause == nil {
		return false
	}
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, domain.ErrTransport) {
		return true
	}
	var netErr net.Error
	return errors.As(cause, &netErr)
}

func pump(src Source, out chan<- sourceItem, done <-chan struct{}) {
	for {
		ev, err := src.Next()
		select {
		case out <- sourceItem{event: ev, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}
