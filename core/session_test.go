package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession_RecentAndClone(t *testing.T) {
	s := NewSession("s1", "")
	assert.Equal(t, DefaultUserID, s.UserID)

	for _, c := range []string{"one", "two", "three"} {
		s.History = append(s.History, NewTurn(RoleUser, c))
	}

	recent := s.Recent(2)
	assert.Equal(t, []string{"two", "three"}, contents(recent))
	assert.Len(t, s.Recent(0), 3)
	assert.Len(t, s.Recent(10), 3)

	recent[0].Content = "changed"
	assert.Equal(t, "two", s.History[1].Content, "Recent returns a copy")

	s.Conversation = &ConversationState{Stage: StageCollectingInfo, CollectedInfo: map[string]string{"topic": "go"}, TaskIDs: []string{"t1"}}
	clone := s.Clone()
	clone.History[0].Content = "mutated"
	clone.Conversation.CollectedInfo["topic"] = "rust"
	clone.Conversation.TaskIDs[0] = "t9"

	assert.Equal(t, "one", s.History[0].Content)
	assert.Equal(t, "go", s.Conversation.CollectedInfo["topic"])
	assert.Equal(t, "t1", s.Conversation.TaskIDs[0])
}

func TestSession_Summary(t *testing.T) {
	s := NewSession("s1", "alice")
	s.History = append(s.History, NewTurn(RoleUser, "help"), NewTurn(RoleAssistant, "what topic?"), NewTurn(RoleUser, "go"))

	sum := s.Summary()
	assert.Equal(t, 3, sum.TurnCount)
	assert.Equal(t, 2, sum.UserTurns)
	assert.Equal(t, 1, sum.AssistantTurns)
	assert.Equal(t, "idle", sum.Stage)
	assert.Equal(t, SessionActive, sum.Status)

	s.Conversation = &ConversationState{Stage: StageConfirmation}
	sum = s.Summary()
	assert.Equal(t, "confirmation", sum.Stage)
	assert.Equal(t, SessionAwaitingInput, sum.Status)
}

func TestConversationState_OwnedBy(t *testing.T) {
	var none *ConversationState
	assert.False(t, none.OwnedBy("t1"))
	assert.Nil(t, none.Clone())

	cs := &ConversationState{TaskIDs: []string{"t1", "t2"}}
	assert.True(t, cs.OwnedBy("t2"))
	assert.False(t, cs.OwnedBy("t3"))
}

func contents(turns []Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}
