package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victormasson21/voice-agent/internal/record"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-realtime-mini"
	DefaultVoice = "alloy"

	toolTimeout = 30 * time.Second
)

// Config holds connection settings shared by every session.
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	DialTimeout  time.Duration
	ReplyTimeout time.Duration
	Logger       *slog.Logger
}

// Tool is a function the model may call during the conversation.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// SessionConfig configures one realtime session.
type SessionConfig struct {
	Instructions string
	Voice        string
	Tools        []Tool
}

// Client is a single OpenAI Realtime session over a websocket.
type Client struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	tools    map[string]Tool
	onClose  []func()
	pending  map[string]chan error
	started  bool
	writeMu  sync.Mutex
	replyMu  sync.Mutex
	history  *transcript
	done     chan struct{}
	doneOnce sync.Once

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// New validates cfg and returns an unstarted client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "realtime"),
		tools:   map[string]Tool{},
		pending: map[string]chan error{},
		history: newTranscript(),
		done:    make(chan struct{}),
	}, nil
}

// Start dials the realtime endpoint and configures the session.
func (c *Client) Start(ctx context.Context, sc SessionConfig) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	for _, t := range sc.Tools {
		c.tools[t.Name] = t
	}
	c.mu.Unlock()

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime dial (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	voice := sc.Voice
	if voice == "" {
		voice = c.cfg.Voice
	}
	if err := c.send(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        sc.Instructions,
			"voice":               voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{"type": "server_vad"},
			"tools":          toolSpecs(sc.Tools),
			"tool_choice":    "auto",
		},
	}); err != nil {
		c.Close()
		return fmt.Errorf("configure session: %w", err)
	}

	c.log.Info("realtime session started", "model", c.cfg.Model, "voice", voice, "tools", len(sc.Tools))
	return nil
}

func toolSpecs(tools []Tool) []map[string]any {
	specs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}
	return specs
}

// GenerateReply asks the model to speak now, steered by instructions, and
// waits until that response finishes.
func (c *Client) GenerateReply(ctx context.Context, instructions string) error {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()

	id := uuid.NewString()
	ch := make(chan error, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err := c.send(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"instructions": instructions,
			"metadata":     map[string]string{"request_id": id},
		},
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return ErrReplyTimeout
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the transcribed turns so far.
func (c *Client) History() []record.Turn {
	return c.history.snapshot()
}

// OnClose registers fn to run once when the session ends, locally or remotely.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// Done is closed when the session has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the session. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		conn.Close()
	}
	c.finish()
	return nil
}

func (c *Client) finish() {
	first := false
	c.doneOnce.Do(func() {
		close(c.done)
		first = true
	})
	if !first {
		return
	}

	c.mu.RLock()
	fns := append([]func(){}, c.onClose...)
	c.mu.RUnlock()
	c.log.Info("realtime session closed",
		"sent", c.messagesSent.Load(),
		"received", c.messagesReceived.Load(),
	)
	// Callbacks may call Close again; finish is already settled.
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) send(msg any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("realtime send: %w", err)
	}
	c.messagesSent.Add(1)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.finish()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("connection closed by peer")
				return
			}
			select {
			case <-c.done:
			default:
				c.log.Debug("read ended", "error", err)
			}
			return
		}
		c.messagesReceived.Add(1)

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("failed to parse event", "error", err)
			continue
		}
		c.handleEvent(ev)
	}
}

type serverEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	Name       string `json:"name"`
	CallID     string `json:"call_id"`
	Arguments  string `json:"arguments"`
	Item       *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Role string `json:"role"`
	} `json:"item"`
	Response *struct {
		ID            string            `json:"id"`
		Status        string            `json:"status"`
		Metadata      map[string]string `json:"metadata"`
		StatusDetails *struct {
			Reason string `json:"reason"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"status_details"`
	} `json:"response"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) handleEvent(ev serverEvent) {
	switch ev.Type {
	case "session.created", "session.updated":
		c.log.Debug(ev.Type)

	case "conversation.item.created":
		if ev.Item != nil && ev.Item.Type == "message" {
			c.history.reserve(ev.Item.ID, roleOf(ev.Item.Role))
		}

	case "conversation.item.input_audio_transcription.completed":
		c.history.fill(ev.ItemID, record.RoleUser, ev.Transcript)

	case "response.audio_transcript.done":
		c.history.fill(ev.ItemID, record.RoleAssistant, ev.Transcript)

	case "response.text.done":
		c.history.fill(ev.ItemID, record.RoleAssistant, ev.Text)

	case "response.function_call_arguments.done":
		go c.runTool(ev.Name, ev.CallID, ev.Arguments)

	case "response.done":
		c.resolveReply(ev)

	case "error":
		if ev.Error == nil {
			return
		}
		err := &APIError{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message}
		c.log.Warn("realtime error event", "error", err)
		c.failPending(err)
	}
}

func roleOf(s string) record.Role {
	if s == string(record.RoleUser) {
		return record.RoleUser
	}
	return record.RoleAssistant
}

func (c *Client) resolveReply(ev serverEvent) {
	if ev.Response == nil {
		return
	}
	id := ev.Response.Metadata["request_id"]
	if id == "" {
		return
	}
	c.mu.RLock()
	ch, ok := c.pending[id]
	c.mu.RUnlock()
	if !ok {
		return
	}

	var err error
	switch ev.Response.Status {
	case "failed", "cancelled":
		re := &ReplyError{Status: ev.Response.Status}
		if d := ev.Response.StatusDetails; d != nil {
			re.Reason = d.Reason
			if d.Error != nil && d.Error.Message != "" {
				re.Reason = d.Error.Message
			}
		}
		err = re
	}
	select {
	case ch <- err:
	default:
	}
}

func (c *Client) failPending(err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.pending {
		select {
		case ch <- err:
		default:
		}
	}
}

func (c *Client) runTool(name, callID, rawArgs string) {
	c.mu.RLock()
	tool, ok := c.tools[name]
	c.mu.RUnlock()

	log := c.log.With("tool", name, "call_id", callID)
	log.Info("tool call received")

	var output string
	if !ok {
		output = fmt.Sprintf("unknown tool %q", name)
		log.Warn("unknown tool")
	} else {
		args := map[string]any{}
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				log.Warn("bad tool arguments", "error", err)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
		result, err := tool.Handler(ctx, args)
		cancel()
		output = result
		if err != nil {
			log.Warn("tool failed", "error", err)
			output = "error: " + err.Error()
		}
	}

	if err := c.submitToolResult(callID, output); err != nil {
		log.Debug("tool result not delivered", "error", err)
	}
}

func (c *Client) submitToolResult(callID, output string) error {
	err := c.send(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
	if err != nil {
		return err
	}
	return c.send(map[string]string{"type": "response.create"})
}
