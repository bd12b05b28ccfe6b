package ai

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the conversational AI the relay talks to. Conversation handles
// are opaque to callers.
type Backend interface {
	// CreateConversation opens a new conversation and returns its handle.
	CreateConversation(ctx context.Context) (string, error)
	// Advance adds a user utterance to the conversation and blocks until the
	// backend has produced a reply or the run ended without one.
	Advance(ctx context.Context, handle, text string) (string, error)
}

var (
	ErrNotConfigured = errors.New("ai: backend not configured")
	ErrRunTimeout    = errors.New("ai: run did not finish in time")
	ErrEmptyReply    = errors.New("ai: run completed without a text reply")
)

// RunFailedError means the run reached a terminal status other than completed.
type RunFailedError struct {
	RunID  string
	Status string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("ai: run %s ended with status %q", e.RunID, e.Status)
}

// IsRunFailure reports whether err comes from a run that ended badly, as
// opposed to the backend being unreachable or misconfigured.
func IsRunFailure(err error) bool {
	var rf *RunFailedError
	return errors.As(err, &rf) || errors.Is(err, ErrRunTimeout) || errors.Is(err, ErrEmptyReply)
}

// Unavailable stands in for the backend when credentials are missing.
type Unavailable struct{}

func (Unavailable) CreateConversation(context.Context) (string, error) {
	return "", ErrNotConfigured
}

func (Unavailable) Advance(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
