package engine

import (
	"fmt"

	"github.com/talgya/townsfolk/internal/agents"
)

// Conversation is an active exchange between two agents.
type Conversation struct {
	A, B    *agents.Agent
	Started uint64
}

// ConversationSnapshot is the read-only view of a conversation.
type ConversationSnapshot struct {
	A       agents.AgentID `json:"a"`
	B       agents.AgentID `json:"b"`
	Started uint64         `json:"started"`
}

// stepSocial pairs available agents. Each searching agent takes the first
// eligible partner in registration order.
func (s *Simulation) stepSocial() {
	if s.params.Social.Range <= 0 {
		return
	}
	for _, a := range s.agents {
		if !a.Available() {
			continue
		}
		for _, b := range s.agents {
			if !a.CanTalkWith(b) {
				continue
			}
			if agents.BeginTalk(a, b) {
				s.startConversation(a, b)
			}
			break
		}
	}
}

func (s *Simulation) startConversation(a, b *agents.Agent) {
	s.conversations = append(s.conversations, &Conversation{A: a, B: b, Started: s.lastTick})
	s.emit(Event{
		Tick:        s.lastTick,
		Category:    CategorySocial,
		Agent:       a.ID,
		Description: fmt.Sprintf("%s started talking with %s", a.Name, b.Name),
	})
	if s.dialogue != nil {
		s.dialogue.TalkStarted(a.Snapshot(), b.Snapshot())
	}
}

func (s *Simulation) endConversation(a, b *agents.Agent) {
	for i, c := range s.conversations {
		if (c.A == a && c.B == b) || (c.A == b && c.B == a) {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			if s.dialogue != nil && a != nil && b != nil {
				s.dialogue.TalkEnded(c.A.Snapshot(), c.B.Snapshot())
			}
			return
		}
	}
}

// Conversations returns the active conversations.
func (s *Simulation) Conversations() []ConversationSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConversationSnapshot, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, ConversationSnapshot{A: c.A.ID, B: c.B.ID, Started: c.Started})
	}
	return out
}
