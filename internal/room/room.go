package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
)

// ErrClosed indicates the room connection was already released.
var ErrClosed = errors.New("room: closed")

// Config holds the LiveKit credentials used to join rooms as the agent.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	Identity  string
}

// Enabled reports whether enough settings are present to join a room.
func (c Config) Enabled() bool {
	return c.URL != "" && c.APIKey != "" && c.APISecret != ""
}

// Room is the agent's connection to one LiveKit room, used as the data
// side channel between the agent and the client.
type Room struct {
	name string
	log  *slog.Logger

	mu           sync.RWMutex
	lk           *lksdk.Room
	handlers     map[string][]func([]byte)
	onDisconnect []func()
	closeOnce    sync.Once
}

func newRoom(name string, log *slog.Logger) *Room {
	return &Room{
		name:     name,
		log:      log.With("component", "room", "room", name),
		handlers: map[string][]func([]byte){},
	}
}

// Join connects to roomName as the agent participant.
func Join(cfg Config, roomName string, log *slog.Logger) (*Room, error) {
	if log == nil {
		log = slog.Default()
	}
	r := newRoom(roomName, log)

	callback := &lksdk.RoomCallback{
		OnDisconnected: func() {
			r.log.Info("room disconnected")
			r.emitDisconnect()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				pkt, ok := data.(*lksdk.UserDataPacket)
				if !ok {
					return
				}
				r.dispatch(pkt.Topic, pkt.Payload)
			},
		},
	}

	lk, err := lksdk.ConnectToRoom(cfg.URL, lksdk.ConnectInfo{
		APIKey:              cfg.APIKey,
		APISecret:           cfg.APISecret,
		RoomName:            roomName,
		ParticipantIdentity: cfg.Identity,
		ParticipantName:     cfg.Identity,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", roomName, err)
	}

	r.mu.Lock()
	r.lk = lk
	r.mu.Unlock()
	r.log.Info("joined room", "identity", cfg.Identity)
	return r, nil
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Publish sends payload reliably to every participant under topic.
func (r *Room) Publish(_ context.Context, topic string, payload []byte) error {
	r.mu.RLock()
	lk := r.lk
	r.mu.RUnlock()
	if lk == nil {
		return ErrClosed
	}
	err := lk.LocalParticipant.PublishData(payload,
		lksdk.WithDataPublishTopic(topic),
		lksdk.WithDataPublishReliable(true),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// OnData registers fn for data packets received on topic.
func (r *Room) OnData(topic string, fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], fn)
}

// OnDisconnect registers fn to run when the room connection drops.
func (r *Room) OnDisconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

func (r *Room) dispatch(topic string, payload []byte) {
	r.mu.RLock()
	fns := append([]func([]byte){}, r.handlers[topic]...)
	r.mu.RUnlock()
	if len(fns) == 0 {
		r.log.Debug("unhandled data packet", "topic", topic)
		return
	}
	for _, fn := range fns {
		fn(payload)
	}
}

func (r *Room) emitDisconnect() {
	r.mu.RLock()
	fns := append([]func(){}, r.onDisconnect...)
	r.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Close leaves the room. Safe to call more than once.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		lk := r.lk
		r.lk = nil
		r.mu.Unlock()
		if lk != nil {
			lk.Disconnect()
			r.log.Info("left room")
		}
	})
	return nil
}
