package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/talgya/townsfolk/internal/agents"
)

const greetingSystem = `You write single lines of dialogue for townsfolk in a small medieval tavern town.
Reply with one short spoken greeting, under 20 words, with no quotes, stage directions or narration.`

type pairKey struct {
	lo, hi agents.AgentID
}

func keyFor(a, b agents.AgentID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Dialogue asks the model for a greeting whenever two agents start talking.
// Lines are generated off the simulation goroutine and cached per pair; the
// simulation never waits for or reads them.
type Dialogue struct {
	client  *Client
	cache   *lru.Cache[pairKey, string]
	ctx     context.Context
	timeout time.Duration
	wg      sync.WaitGroup

	// OnLine is called with every delivered greeting. Defaults to logging.
	OnLine func(a, b agents.Snapshot, line string)
}

// NewDialogue creates a dialogue adapter. Requests are cancelled with ctx.
func NewDialogue(ctx context.Context, client *Client, cacheSize int) (*Dialogue, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[pairKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("greeting cache: %w", err)
	}
	return &Dialogue{
		client:  client,
		cache:   cache,
		ctx:     ctx,
		timeout: 15 * time.Second,
		OnLine: func(a, b agents.Snapshot, line string) {
			slog.Info("greeting", "speaker", a.Name, "listener", b.Name, "line", line)
		},
	}, nil
}

// TalkStarted generates or recalls a greeting from a to b.
func (d *Dialogue) TalkStarted(a, b agents.Snapshot) {
	key := keyFor(a.ID, b.ID)
	if line, ok := d.cache.Get(key); ok {
		d.OnLine(a, b, line)
		return
	}
	if !d.client.Enabled() {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()

		line, err := d.client.Complete(ctx, greetingSystem, greetingPrompt(a, b), 60)
		if err != nil {
			slog.Debug("greeting skipped", "speaker", a.ID, "listener", b.ID, "error", err)
			return
		}
		d.cache.Add(key, line)
		d.OnLine(a, b, line)
	}()
}

// TalkEnded is a no-op; greetings are only generated when a talk starts.
func (d *Dialogue) TalkEnded(a, b agents.Snapshot) {}

// Wait blocks until in-flight requests finish.
func (d *Dialogue) Wait() {
	d.wg.Wait()
}

// Cached reports whether a greeting is cached for the pair.
func (d *Dialogue) Cached(a, b agents.AgentID) bool {
	return d.cache.Contains(keyFor(a, b))
}

func greetingPrompt(a, b agents.Snapshot) string {
	mood := "rested"
	switch {
	case a.NeedRatio < 0.3:
		mood = "exhausted"
	case a.NeedRatio < 0.6:
		mood = "a little tired"
	}
	trade := ""
	if a.Trading {
		trade = fmt.Sprintf(" %s is a trader and may mention wares.", a.Name)
	}
	return fmt.Sprintf("%s, feeling %s, greets %s in passing.%s", a.Name, mood, b.Name, trade)
}
