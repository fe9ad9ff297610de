package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/victormasson21/voice-agent/internal/record"
)

// Publisher sends topic-tagged messages to the client side channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Signals delivers client messages received on a topic.
type Signals interface {
	OnData(topic string, fn func(payload []byte))
}

// Publishers fans a message out to every publisher.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalSet registers a handler with every source.
type SignalSet []Signals

func (ss SignalSet) OnData(topic string, fn func([]byte)) {
	for _, s := range ss {
		s.OnData(topic, fn)
	}
}

type statusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type resultMessage struct {
	Type string        `json:"type"`
	Data record.Record `json:"data"`
}

func statusPayload(status string) []byte {
	b, _ := json.Marshal(statusMessage{Type: "status", Status: status})
	return b
}

func resultPayload(rec record.Record) ([]byte, error) {
	return json.Marshal(resultMessage{Type: rec.Kind(), Data: rec})
}
