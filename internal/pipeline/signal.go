package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hotsignals/hotsignals/internal/models"
)

// Signaler is how a stage reports completion of one task envelope. Each
// token is consumed exactly once: the second signal on a token is an error,
// which keeps redelivered envelopes from resolving a workflow twice.
type Signaler interface {
	SignalSuccess(ctx context.Context, token string, output *models.ContentItem) error
	SignalFailure(ctx context.Context, token string, category, message string) error
}

// TaskResult is what the orchestrator receives back for one token.
type TaskResult struct {
	Output   *models.ContentItem
	Failed   bool
	Category string
	Message  string
}

// TokenWaiter issues completion tokens and delivers results to whoever
// holds the matching channel. It is the in-process stand-in for a workflow
// service's task-token callback.
type TokenWaiter struct {
	mu      sync.Mutex
	pending map[string]chan TaskResult
}

// NewTokenWaiter creates an empty waiter.
func NewTokenWaiter() *TokenWaiter {
	return &TokenWaiter{pending: make(map[string]chan TaskResult)}
}

// NewToken mints a token and the channel its result will arrive on. The
// channel is buffered so a stage never blocks on signaling.
func (w *TokenWaiter) NewToken() (string, <-chan TaskResult) {
	token := uuid.NewString()
	ch := make(chan TaskResult, 1)

	w.mu.Lock()
	w.pending[token] = ch
	w.mu.Unlock()

	return token, ch
}

// SignalSuccess resolves a token with the stage's output.
func (w *TokenWaiter) SignalSuccess(ctx context.Context, token string, output *models.ContentItem) error {
	return w.resolve(token, TaskResult{Output: output})
}

// SignalFailure resolves a token with an error category and message.
func (w *TokenWaiter) SignalFailure(ctx context.Context, token string, category, message string) error {
	return w.resolve(token, TaskResult{Failed: true, Category: category, Message: message})
}

func (w *TokenWaiter) resolve(token string, result TaskResult) error {
	w.mu.Lock()
	ch, ok := w.pending[token]
	if ok {
		delete(w.pending, token)
	}
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown or already completed token %s", token)
	}

	ch <- result
	return nil
}

// Abandon drops a pending token without resolving it, used when the
// orchestrator gives up on a workflow (context cancelled).
func (w *TokenWaiter) Abandon(token string) {
	w.mu.Lock()
	delete(w.pending, token)
	w.mu.Unlock()
}
