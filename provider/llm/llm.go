// Package llm is the contract shared by the completion providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/omegarag/models"
)

var (
	// ErrNotConfigured means the provider has no credential. It is reported before any I/O.
	ErrNotConfigured = errors.New("completion provider credential is not configured")
	// ErrInvalidConversation means the message list does not end with the live user question.
	ErrInvalidConversation = errors.New("conversation must end with a user message")
	// ErrEmptyCompletion means the provider answered without any text content.
	ErrEmptyCompletion = errors.New("completion contained no text")
)

// APIError is a non-success answer from the provider's HTTP API.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API returned status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.Status, e.Message)
}

type Message struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Request is one chat completion: a system prompt and the ordered conversation.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
}

// Completer synthesizes an answer from a conversation.
type Completer interface {
	// Ready reports ErrNotConfigured when the provider cannot be called at all.
	Ready() error
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

// ValidateMessages checks that the last message is the user's question.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != models.RoleUser {
		return ErrInvalidConversation
	}
	return nil
}
