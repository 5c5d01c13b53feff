package testutil

import (
	"context"
	"testing"

	"github.com/hupe1980/agentrelay/core"
)

// SessionBuilder seeds a SessionStore with fluent chaining for tests.
// Example:
//
//	NewSessionBuilder("s1").User("hi").Assistant("hello").Seed(t, store)
type SessionBuilder struct {
	id           string
	userID       string
	turns        []core.Turn
	conversation *core.ConversationState
}

// NewSessionBuilder creates a builder for the session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, userID: core.DefaultUserID}
}

// UserID sets the owning user (chainable).
func (b *SessionBuilder) UserID(userID string) *SessionBuilder {
	b.userID = userID
	return b
}

// User appends a user turn (chainable).
func (b *SessionBuilder) User(content string) *SessionBuilder {
	b.turns = append(b.turns, core.NewTurn(core.RoleUser, content))
	return b
}

// Assistant appends an assistant turn (chainable).
func (b *SessionBuilder) Assistant(content string) *SessionBuilder {
	b.turns = append(b.turns, core.NewTurn(core.RoleAssistant, content))
	return b
}

// Conversation sets the pending conversation state (chainable).
func (b *SessionBuilder) Conversation(state *core.ConversationState) *SessionBuilder {
	b.conversation = state.Clone()
	return b
}

// Seed writes the session into store and returns the stored copy.
func (b *SessionBuilder) Seed(t testing.TB, store core.SessionStore) *core.Session {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Ensure(ctx, b.id, b.userID); err != nil {
		t.Fatalf("ensure session %s: %v", b.id, err)
	}
	for _, turn := range b.turns {
		if err := store.AppendTurn(ctx, b.id, turn); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
	if b.conversation != nil {
		if err := store.SetConversationState(ctx, b.id, b.conversation); err != nil {
			t.Fatalf("set conversation: %v", err)
		}
	}

	s, err := store.Get(ctx, b.id)
	if err != nil {
		t.Fatalf("get session %s: %v", b.id, err)
	}
	return s
}
