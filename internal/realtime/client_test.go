package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victormasson21/voice-agent/internal/record"
)

type fakeServer struct {
	srv      *httptest.Server
	received chan map[string]any
	ready    chan struct{}
	respond  func(f *fakeServer, msg map[string]any)

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeServer(t *testing.T, respond func(f *fakeServer, msg map[string]any)) *fakeServer {
	t.Helper()
	f := &fakeServer{
		received: make(chan map[string]any, 64),
		ready:    make(chan struct{}),
		respond:  respond,
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.ready)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			f.received <- msg
			if f.respond != nil {
				f.respond(f, msg)
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) write(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.WriteJSON(v)
}

func (f *fakeServer) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func (f *fakeServer) next(t *testing.T, typ string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.received:
			if msg["type"] == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %q message received", typ)
			return nil
		}
	}
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	c, err := New(Config{URL: f.url(), APIKey: "test-key", ReplyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func replyDone(status string) func(f *fakeServer, msg map[string]any) {
	return func(f *fakeServer, msg map[string]any) {
		if msg["type"] != "response.create" {
			return
		}
		resp, _ := msg["response"].(map[string]any)
		meta, _ := resp["metadata"].(map[string]any)
		f.write(map[string]any{
			"type": "response.done",
			"response": map[string]any{
				"status":   status,
				"metadata": meta,
			},
		})
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestStartConfiguresSession(t *testing.T) {
	f := newFakeServer(t, nil)
	c := newTestClient(t, f)

	err := c.Start(context.Background(), SessionConfig{
		Instructions: "be brief",
		Tools: []Tool{{
			Name:        "end_call",
			Description: "End the call",
			Handler:     func(context.Context, map[string]any) (string, error) { return "ok", nil },
		}},
	})
	require.NoError(t, err)

	msg := f.next(t, "session.update")
	session := msg["session"].(map[string]any)
	assert.Equal(t, "be brief", session["instructions"])
	assert.Equal(t, DefaultVoice, session["voice"])
	tools := session["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "end_call", tools[0].(map[string]any)["name"])

	assert.ErrorIs(t, c.Start(context.Background(), SessionConfig{}), ErrAlreadyStarted)
}

func TestGenerateReplyWaitsForMatchingResponse(t *testing.T) {
	f := newFakeServer(t, replyDone("completed"))
	c := newTestClient(t, f)
	require.NoError(t, c.Start(context.Background(), SessionConfig{}))

	require.NoError(t, c.GenerateReply(context.Background(), "say hello"))

	msg := f.next(t, "response.create")
	resp := msg["response"].(map[string]any)
	assert.Equal(t, "say hello", resp["instructions"])
}

func TestGenerateReplyReportsFailedResponse(t *testing.T) {
	f := newFakeServer(t, replyDone("failed"))
	c := newTestClient(t, f)
	require.NoError(t, c.Start(context.Background(), SessionConfig{}))

	err := c.GenerateReply(context.Background(), "say hello")
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "failed", re.Status)
}

func TestGenerateReplyTimesOut(t *testing.T) {
	f := newFakeServer(t, nil)
	c, err := New(Config{URL: f.url(), APIKey: "test-key", ReplyTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(context.Background(), SessionConfig{}))

	assert.ErrorIs(t, c.GenerateReply(context.Background(), "hi"), ErrReplyTimeout)
}

func TestGenerateReplyBeforeStart(t *testing.T) {
	c, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.GenerateReply(context.Background(), "hi"), ErrNotConnected)
}

func TestHistoryFollowsItemCreationOrder(t *testing.T) {
	f := newFakeServer(t, nil)
	c := newTestClient(t, f)
	require.NoError(t, c.Start(context.Background(), SessionConfig{}))
	<-f.ready

	f.write(map[string]any{"type": "conversation.item.created", "item": map[string]any{"id": "a", "type": "message", "role": "assistant"}})
	f.write(map[string]any{"type": "conversation.item.created", "item": map[string]any{"id": "u", "type": "message", "role": "user"}})
	f.write(map[string]any{"type": "conversation.item.created", "item": map[string]any{"id": "b", "type": "message", "role": "assistant"}})
	f.write(map[string]any{"type": "response.audio_transcript.done", "item_id": "a", "transcript": "Hello there."})
	f.write(map[string]any{"type": "response.audio_transcript.done", "item_id": "b", "transcript": "Glad to hear it."})
	f.write(map[string]any{"type": "conversation.item.input_audio_transcription.completed", "item_id": "u", "transcript": "I'm fine."})

	want := []record.Turn{
		{Role: record.RoleAssistant, Content: "Hello there."},
		{Role: record.RoleUser, Content: "I'm fine."},
		{Role: record.RoleAssistant, Content: "Glad to hear it."},
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, c.History())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToolCallSubmitsResult(t *testing.T) {
	f := newFakeServer(t, nil)
	c := newTestClient(t, f)

	var gotNote atomic.Value
	require.NoError(t, c.Start(context.Background(), SessionConfig{
		Tools: []Tool{{
			Name: "save_note",
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				gotNote.Store(args["note"])
				return "Saved note.", nil
			},
		}},
	}))
	<-f.ready

	f.write(map[string]any{
		"type":      "response.function_call_arguments.done",
		"name":      "save_note",
		"call_id":   "call-1",
		"arguments": `{"note":"buy milk"}`,
	})

	msg := f.next(t, "conversation.item.create")
	item := msg["item"].(map[string]any)
	assert.Equal(t, "function_call_output", item["type"])
	assert.Equal(t, "call-1", item["call_id"])
	assert.Equal(t, "Saved note.", item["output"])
	f.next(t, "response.create")
	assert.Equal(t, "buy milk", gotNote.Load())
}

func TestCloseIsIdempotentAndNotifiesOnce(t *testing.T) {
	f := newFakeServer(t, nil)
	c := newTestClient(t, f)

	var calls atomic.Int32
	c.OnClose(func() { calls.Add(1) })
	require.NoError(t, c.Start(context.Background(), SessionConfig{}))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	<-c.Done()
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, c.GenerateReply(context.Background(), "hi"), ErrNotConnected)
}

func TestRemoteCloseNotifies(t *testing.T) {
	f := newFakeServer(t, nil)
	c := newTestClient(t, f)

	closed := make(chan struct{})
	c.OnClose(func() { close(closed) })
	require.NoError(t, c.Start(context.Background(), SessionConfig{}))
	<-f.ready

	f.closeConn()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback not invoked")
	}
}
