package testutil

import (
	"context"
	"sync"

	"notifywatch/pkg/delivery"
)

// RecordingSink is a delivery.Sink that keeps every message it is given.
type RecordingSink struct {
	Err error

	mu       sync.Mutex
	messages []delivery.Message
}

func (s *RecordingSink) Name() string { return "recording" }

func (s *RecordingSink) Deliver(_ context.Context, msg delivery.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.Err
}

// Messages returns a copy of the delivered messages.
func (s *RecordingSink) Messages() []delivery.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]delivery.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Texts returns the text of each delivered message.
func (s *RecordingSink) Texts() []string {
	msgs := s.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
