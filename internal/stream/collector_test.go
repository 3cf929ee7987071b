package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// --- Fakes ---

type fakeSource struct {
	events    chan Event
	readErr   error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSource(events ...Event) *fakeSource {
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	return &fakeSource{events: ch, closed: make(chan struct{})}
}

func (s *fakeSource) Next() (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			if s.readErr != nil {
				return Event{}, s.readErr
			}
			return Event{}, io.EOF
		}
		return ev, nil
	case <-s.closed:
		return Event{}, errors.New("source closed")
	}
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	src     *fakeSource
	openErr error
	opened  int
	lastReq *domain.CompletionRequest
}

func (t *fakeTransport) Open(_ context.Context, req *domain.CompletionRequest) (Source, error) {
	t.opened++
	t.lastReq = req
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.src, nil
}

func fragment(text string) Event { return Event{Kind: EventFragment, Text: text} }

func terminal(data string) Event { return Event{Kind: EventTerminal, SideData: json.RawMessage(data)} }

func testRequest() *domain.CompletionRequest {
	return &domain.CompletionRequest{
		AppID:    "app",
		ChatID:   "chat",
		Messages: []domain.Message{domain.NewTextMessage(domain.RoleUser, "hi")},
	}
}

// --- Tests ---

func TestRunAppliesFragmentsInOrder(t *testing.T) {
	src := newFakeSource(fragment("Hel"), fragment("lo, "), fragment("world"), terminal(`{"meta":1}`))
	tr := &fakeTransport{src: src}
	c := NewCollector(tr, zap.NewNop())

	var got []string
	res, err := c.Run(context.Background(), testRequest(), func(f string) { got = append(got, f) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo, ", "world"}, got)
	assert.Equal(t, "Hello, world", res.Text)
	assert.JSONEq(t, `{"meta":1}`, string(res.SideData))
	assert.Equal(t, StateCompleted, res.State)
	assert.False(t, res.Aborted())
	assert.Equal(t, 1, tr.opened)
	assert.True(t, src.isClosed(), "transport released after terminal payload")
}

func TestRunCancelStopsApplyingFragments(t *testing.T) {
	stop := errors.New("stopped by user")
	src := newFakeSource(fragment("Hel"), fragment("lo"), terminal(`{}`))
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	var got []string
	res, err := NewCollector(&fakeTransport{src: src}, zap.NewNop()).Run(ctx, testRequest(), func(f string) {
		got = append(got, f)
		cancel(stop)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel"}, got)
	assert.Equal(t, "Hel", res.Text)
	assert.True(t, res.Aborted())
	assert.ErrorIs(t, res.AbortCause, stop)
	assert.Nil(t, res.SideData)
	assert.True(t, src.isClosed())
}

func TestRunCancelWithNetworkCauseFails(t *testing.T) {
	src := newFakeSource(fragment("partial"))
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	netErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	res, err := NewCollector(&fakeTransport{src: src}, zap.NewNop()).Run(ctx, testRequest(), func(string) {
		cancel(netErr)
	})

	assert.Nil(t, res)
	require.Error(t, err)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.True(t, src.isClosed())
}

func TestRunDeadlineIsTransportError(t *testing.T) {
	src := newFakeSource(fragment("slow"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewCollector(&fakeTransport{src: src}, zap.NewNop()).Run(ctx, testRequest(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunOpenFailure(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("dial tcp: connection refused")}
	_, err := NewCollector(tr, zap.NewNop()).Run(context.Background(), testRequest(), nil)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestRunReadFailure(t *testing.T) {
	src := newFakeSource(fragment("a"))
	src.readErr = errors.New("unexpected EOF")
	close(src.events)

	var got []string
	_, err := NewCollector(&fakeTransport{src: src}, zap.NewNop()).Run(context.Background(), testRequest(), func(f string) {
		got = append(got, f)
	})
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, []string{"a"}, got)
}

func TestRunEndWithoutTerminal(t *testing.T) {
	src := newFakeSource(fragment("only text"))
	close(src.events)

	res, err := NewCollector(&fakeTransport{src: src}, zap.NewNop()).Run(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "only text", res.Text)
	assert.Nil(t, res.SideData)
	assert.Equal(t, StateCompleted, res.State)
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &fakeTransport{src: newFakeSource()}

	res, err := NewCollector(tr, zap.NewNop()).Run(ctx, testRequest(), nil)
	require.NoError(t, err)
	assert.True(t, res.Aborted())
	assert.ErrorIs(t, res.AbortCause, context.Canceled)
	assert.Zero(t, tr.opened)
}

func TestIsHardFailure(t *testing.T) {
	assert.False(t, IsHardFailure(nil))
	assert.False(t, IsHardFailure(context.Canceled))
	assert.False(t, IsHardFailure(errors.New("navigation")))
	assert.True(t, IsHardFailure(context.DeadlineExceeded))
	assert.True(t, IsHardFailure(&domain.TransportError{Op: "read"}))
	assert.True(t, IsHardFailure(&net.DNSError{Err: "no such host", Name: "x"}))
}
