// Hourly narration: turns the last sim-hour of events into a short chronicle entry.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/townsfolk/internal/engine"
)

const narrationSystem = `You are the chronicler of a small tavern town. Summarize the hour's comings and goings
in 2-3 sentences of plain, warm prose. Do not list every event and do not mention the simulation.`

// maxNarratedEvents caps how much of the hour goes into the prompt.
const maxNarratedEvents = 40

// Narrate summarizes events that happened by simTime.
// Only social, admission and lifecycle events are included.
func Narrate(ctx context.Context, client *Client, simTime string, events []engine.Event) (string, error) {
	if !client.Enabled() {
		return "", ErrDisabled
	}
	var b strings.Builder
	n := 0
	for _, e := range events {
		switch e.Category {
		case engine.CategorySocial, engine.CategoryAdmission, engine.CategoryLifecycle:
		default:
			continue
		}
		fmt.Fprintf(&b, "- %s\n", e.Description)
		if n++; n == maxNarratedEvents {
			break
		}
	}
	if n == 0 {
		return "", nil
	}
	prompt := fmt.Sprintf("It is %s. This past hour:\n%s", simTime, b.String())
	return client.Complete(ctx, narrationSystem, prompt, 200)
}
