package core

import (
	"context"
	"time"
)

// Role identifies the author of a Turn.
type Role string

const (
	// RoleUser marks turns authored by the requesting user.
	RoleUser Role = "user"
	// RoleAssistant marks turns produced by the system.
	RoleAssistant Role = "assistant"
)

// DefaultUserID is used when a request carries no user id.
const DefaultUserID = "default"

// Turn is one message recorded in a session history.
type Turn struct {
	Role      Role      `json:"role" cbor:"role"`
	Content   string    `json:"content" cbor:"content"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// ConversationStage is the non-idle stage of a multi-turn conversation.
type ConversationStage string

const (
	// StageCollectingInfo gathers the required fields one question at a time.
	StageCollectingInfo ConversationStage = "collecting_info"
	// StageConfirmation awaits a yes/no on the collected summary.
	StageConfirmation ConversationStage = "confirmation"
)

// ConversationState is the per-session state of the clarification flow.
// A nil state means the session is idle.
type ConversationState struct {
	Stage           ConversationStage `json:"stage" cbor:"stage"`
	OriginalRequest string            `json:"original_request" cbor:"original_request"`
	RequiredInfo    []string          `json:"required_info" cbor:"required_info"`
	CollectedInfo   map[string]string `json:"collected_info" cbor:"collected_info"`
	CurrentQuestion string            `json:"current_question,omitempty" cbor:"current_question,omitempty"`
	// TaskIDs lists the tasks that took part in the flow, originating task first.
	TaskIDs []string `json:"task_ids" cbor:"task_ids"`
}

// Clone returns a deep copy; nil stays nil.
func (c *ConversationState) Clone() *ConversationState {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RequiredInfo = append([]string(nil), c.RequiredInfo...)
	cp.TaskIDs = append([]string(nil), c.TaskIDs...)
	cp.CollectedInfo = make(map[string]string, len(c.CollectedInfo))
	for k, v := range c.CollectedInfo {
		cp.CollectedInfo[k] = v
	}
	return &cp
}

// OwnedBy reports whether taskID took part in the conversation.
func (c *ConversationState) OwnedBy(taskID string) bool {
	if c == nil {
		return false
	}
	for _, id := range c.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Session is a conversation context that may span multiple tasks.
//
// Contract:
//   - History preserves insertion order
//   - Stores return deep copies so callers cannot mutate stored state
//   - Conversation is nil while the session is idle
type Session struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	History      []Turn             `json:"history"`
	Conversation *ConversationState `json:"conversation_state,omitempty"`
}

// NewSession creates an empty session.
func NewSession(id, userID string) *Session {
	if userID == "" {
		userID = DefaultUserID
	}
	now := time.Now().UTC()
	return &Session{ID: id, UserID: userID, CreatedAt: now, LastActivity: now, History: []Turn{}}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.History = make([]Turn, len(s.History))
	copy(c.History, s.History)
	c.Conversation = s.Conversation.Clone()
	return &c
}

// Recent returns the last limit turns oldest first. limit <= 0 returns all.
func (s *Session) Recent(limit int) []Turn {
	start := 0
	if limit > 0 && len(s.History) > limit {
		start = len(s.History) - limit
	}
	res := make([]Turn, len(s.History)-start)
	copy(res, s.History[start:])
	return res
}

// SessionStatus summarises whether a session is waiting on the user.
type SessionStatus string

const (
	// SessionActive is an idle session ready for new requests.
	SessionActive SessionStatus = "active"
	// SessionAwaitingInput is a session in the middle of a clarification flow.
	SessionAwaitingInput SessionStatus = "awaiting_input"
)

// SessionSummary is a compact, inspection friendly view of a Session.
type SessionSummary struct {
	ID             string        `json:"id" yaml:"id"`
	UserID         string        `json:"user_id" yaml:"user_id"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	LastActivity   time.Time     `json:"last_activity" yaml:"last_activity"`
	TurnCount      int           `json:"turn_count" yaml:"turn_count"`
	UserTurns      int           `json:"user_turns" yaml:"user_turns"`
	AssistantTurns int           `json:"assistant_turns" yaml:"assistant_turns"`
	Stage          string        `json:"stage" yaml:"stage"`
	Status         SessionStatus `json:"status" yaml:"status"`
}

// Summary derives a SessionSummary.
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		ID:           s.ID,
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		TurnCount:    len(s.History),
		Stage:        "idle",
		Status:       SessionActive,
	}
	for _, t := range s.History {
		switch t.Role {
		case RoleUser:
			sum.UserTurns++
		case RoleAssistant:
			sum.AssistantTurns++
		}
	}
	if s.Conversation != nil {
		sum.Stage = string(s.Conversation.Stage)
		sum.Status = SessionAwaitingInput
	}
	return sum
}

// SessionStore keeps conversation history and multi-turn state per session.
// Writes to one session are serialized; independent sessions never contend.
type SessionStore interface {
	// Ensure returns the session, creating it when absent.
	Ensure(ctx context.Context, sessionID, userID string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	// AppendTurn records a turn, lazily creating the session.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error
	// RecentContext returns the most recent limit turns oldest first.
	RecentContext(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	ConversationState(ctx context.Context, sessionID string) (*ConversationState, error)
	// SetConversationState stores state; nil returns the session to idle.
	SetConversationState(ctx context.Context, sessionID string, state *ConversationState) error
	Delete(ctx context.Context, sessionID string) error
	// Clear drops history and conversation state but keeps the session.
	Clear(ctx context.Context, sessionID string) error
}
