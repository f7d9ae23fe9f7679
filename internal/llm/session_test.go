package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()
	require.Zero(t, s.ActiveSessions())

	s.Append("t1", Message{Role: RoleUser, Content: "hello"})
	s.Append("t1", Message{Role: RoleAssistant, Content: "hi"})
	s.Append("t2", Message{Role: RoleUser, Content: "other thread"})

	require.Equal(t, 2, s.ActiveSessions())
	require.Len(t, s.History("t1"), 2)
	require.Len(t, s.History("t2"), 1)
	require.Empty(t, s.History("missing"))

	s.Clear("t1")
	require.Equal(t, 1, s.ActiveSessions())
	require.Empty(t, s.History("t1"))
}

func TestSessionHistoryIsCopy(t *testing.T) {
	s := NewSessionStore()
	s.Append("t1", Message{Role: RoleUser, Content: "original"})

	history := s.History("t1")
	history[0].Content = "mutated"

	require.Equal(t, "original", s.History("t1")[0].Content)
}
