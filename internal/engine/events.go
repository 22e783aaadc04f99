package engine

import (
	"fmt"

	"github.com/talgya/townsfolk/internal/agents"
)

// Event categories.
const (
	CategoryLifecycle = "lifecycle"
	CategoryState     = "state"
	CategoryAdmission = "admission"
	CategoryReject    = "reject"
	CategoryRelease   = "release"
	CategorySocial    = "social"
	CategoryPlacement = "placement"
	CategoryResource  = "resource"
)

const maxRecentEvents = 1000

// Event is a notable occurrence in the simulation.
type Event struct {
	Tick        uint64            `json:"tick" db:"tick"`
	Category    string            `json:"category" db:"category"`
	Agent       agents.AgentID    `json:"agent,omitempty" db:"agent_id"`
	Resource    agents.ResourceID `json:"resource,omitempty" db:"resource_id"`
	Description string            `json:"description" db:"description"`
}

// eventFromNote converts an agent or resource note into an event.
func eventFromNote(tick uint64, n agents.Note) (Event, bool) {
	ev := Event{Tick: tick}
	if n.Agent != nil {
		ev.Agent = n.Agent.ID
	}
	if n.Resource != nil {
		ev.Resource = n.Resource.ID
	}
	switch n.Kind {
	case agents.NoteState:
		ev.Category = CategoryState
		ev.Description = fmt.Sprintf("%s: %s -> %s", n.Agent.Name, n.From, n.To)
	case agents.NoteAdmitted:
		ev.Category = CategoryAdmission
		ev.Description = fmt.Sprintf("%s joined the queue at %s", n.Agent.Name, n.Resource.Name())
	case agents.NotePromoted:
		ev.Category = CategoryAdmission
		ev.Description = fmt.Sprintf("%s started using %s", n.Agent.Name, n.Resource.Name())
	case agents.NoteRejected:
		ev.Category = CategoryReject
		ev.Description = fmt.Sprintf("%s was turned away from %s", n.Agent.Name, n.Resource.Name())
	case agents.NoteReleased:
		ev.Category = CategoryRelease
		ev.Description = fmt.Sprintf("%s left %s", n.Agent.Name, n.Resource.Name())
	case agents.NoteWithdrawn:
		ev.Category = CategoryRelease
		ev.Description = fmt.Sprintf("%s gave up their place at %s", n.Agent.Name, n.Resource.Name())
	case agents.NotePlacement:
		ev.Category = CategoryPlacement
		ev.Description = fmt.Sprintf("%s could not be placed on the walkable surface", n.Agent.Name)
	case agents.NoteRespawned:
		ev.Category = CategoryResource
		ev.Description = fmt.Sprintf("%s is available again", n.Resource.Name())
	case agents.NoteTalkEnded:
		ev.Category = CategorySocial
		if n.Partner != nil {
			ev.Description = fmt.Sprintf("%s and %s finished talking", n.Agent.Name, n.Partner.Name)
		} else {
			ev.Description = fmt.Sprintf("%s stopped talking", n.Agent.Name)
		}
	default:
		return Event{}, false
	}
	return ev, true
}
