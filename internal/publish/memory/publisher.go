// Package memory provides an in-process publisher for tests and local runs.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Message is one published payload.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Message

	// Err, when set, is returned by every Publish.
	Err error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the message and returns a sequence id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return strconv.Itoa(len(p.messages)), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}
