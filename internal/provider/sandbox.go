package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-memory provider that accepts every message without
// touching the network. Used for dry runs and tests. Failures can be
// injected per phone or simulated randomly.
type Sandbox struct {
	logger *slog.Logger

	mu        sync.Mutex
	sent      []SandboxMessage
	failWith  map[string]error // phone -> injected error
	errorRate float64          // 0.0 to 1.0 random transient failures
}

// SandboxMessage is one message accepted by the sandbox
type SandboxMessage struct {
	AccountID string
	Message
	Ref string
}

func NewSandbox(logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sandbox{
		logger:   logger,
		failWith: make(map[string]error),
	}
}

// FailPhone makes every send to phone return the given error
func (s *Sandbox) FailPhone(phone string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith[phone] = err
}

// ClearPhone removes an injected failure
func (s *Sandbox) ClearPhone(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failWith, phone)
}

// SetErrorRate enables random transient failures with the given probability
func (s *Sandbox) SetErrorRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorRate = rate
}

// Send implements Provider
func (s *Sandbox) Send(ctx context.Context, accountID string, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, Transient("ctx", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failWith[msg.To]; ok {
		s.logger.Debug("sandbox injected failure", "to", msg.To, "error", err)
		return Receipt{}, err
	}
	if s.errorRate > 0 && rand.Float64() < s.errorRate {
		s.logger.Debug("sandbox simulated failure", "to", msg.To)
		return Receipt{}, Transient("simulated", errors.New("simulated transient failure"))
	}

	ref := "sandbox-" + uuid.New().String()
	s.sent = append(s.sent, SandboxMessage{AccountID: accountID, Message: msg, Ref: ref})
	s.logger.Debug("sandbox accepted message", "to", msg.To, "ref", ref)
	return Receipt{Ref: ref}, nil
}

// Sent returns a copy of all accepted messages in send order
func (s *Sandbox) Sent() []SandboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SandboxMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// Reset clears accepted messages and injected failures
func (s *Sandbox) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.failWith = make(map[string]error)
	s.errorRate = 0
}
