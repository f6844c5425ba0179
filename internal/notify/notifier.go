package notify

import (
	"context"
	"sync"

	"signal_bot/pkg/logger"
)

type Audience int

const (
	AllSubscribers Audience = iota
	OperatorOnly
)

func (a Audience) String() string {
	if a == OperatorOnly {
		return "operator"
	}
	return "subscribers"
}

type Notifier interface {
	Notify(ctx context.Context, audience Audience, msg string) error
}

// Log writes notifications to the service log. Used when no chat sink is configured.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (Log) Notify(_ context.Context, audience Audience, msg string) error {
	logger.Info("notify[%s]: %s", audience, msg)
	return nil
}

// Message is one delivered notification.
type Message struct {
	Audience Audience
	Text     string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(_ context.Context, audience Audience, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Audience: audience, Text: msg})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
