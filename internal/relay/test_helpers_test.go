package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/store"
)

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// fakeHandle records enqueued payloads; it can simulate a full queue.
type fakeHandle struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
	reason string
}

func (h *fakeHandle) Enqueue(payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return false
	}
	h.frames = append(h.frames, payload)
	return true
}

func (h *fakeHandle) Close(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.reason = reason
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) received() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.frames))
	copy(out, h.frames)
	return out
}

func (h *fakeHandle) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	frames := h.received()
	if len(frames) == 0 {
		t.Fatalf("expected at least one frame")
	}
	var decoded map[string]any
	if err := json.Unmarshal(frames[len(frames)-1], &decoded); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return decoded
}

// fakeChatStore is an in-memory ChatStore with a switchable failure mode.
type fakeChatStore struct {
	mu       sync.Mutex
	messages []*store.ChatMessage
	nextID   int64
	failWith error
}

func (s *fakeChatStore) AppendMessage(_ context.Context, userPK int64, message string, isFromAdmin bool) (*store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.nextID++
	msg := &store.ChatMessage{
		ID:          s.nextID,
		UserPK:      userPK,
		Message:     message,
		IsFromAdmin: isFromAdmin,
		CreatedAt:   time.Now(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeChatStore) ListMessagesByUser(_ context.Context, userPK int64) ([]*store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.ChatMessage
	for _, msg := range s.messages {
		if msg.UserPK == userPK {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeChatStore) ListConversations(context.Context) ([]*store.Conversation, error) {
	return nil, nil
}

func (s *fakeChatStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeChatStore) last(t *testing.T) *store.ChatMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		t.Fatalf("expected a persisted message")
	}
	return s.messages[len(s.messages)-1]
}

// fakeResolver resolves roles from a static table.
type fakeResolver struct {
	admins map[int64]bool // id -> isAdmin; absent id does not exist
	err    error
}

func (r *fakeResolver) ResolveRole(_ context.Context, userPK int64) (Identity, error) {
	if r.err != nil {
		return Identity{}, r.err
	}
	isAdmin, ok := r.admins[userPK]
	if !ok {
		return Identity{}, nil
	}
	return Identity{Exists: true, IsAdmin: isAdmin}, nil
}

// scriptWire is an in-memory Wire fed by tests.
type scriptWire struct {
	in chan []byte

	mu     sync.Mutex
	writes [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptWire() *scriptWire {
	return &scriptWire{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (w *scriptWire) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-w.in:
		if !ok {
			return nil, io.EOF
		}
		return payload, nil
	case <-w.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *scriptWire) WriteFrame(_ context.Context, payload []byte) error {
	select {
	case <-w.closed:
		return errors.New("wire closed")
	default:
	}
	w.mu.Lock()
	w.writes = append(w.writes, payload)
	w.mu.Unlock()
	return nil
}

func (w *scriptWire) Close(string) {
	w.closeOnce.Do(func() { close(w.closed) })
}

func (w *scriptWire) send(t *testing.T, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	w.in <- payload
}

func (w *scriptWire) sendRaw(payload string) {
	w.in <- []byte(payload)
}

func (w *scriptWire) written() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.writes))
	copy(out, w.writes)
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}
