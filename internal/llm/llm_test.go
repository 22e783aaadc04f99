package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
)

type fakeAPI struct {
	calls   atomic.Int32
	prompts []string
	mu      sync.Mutex
}

func (f *fakeAPI) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "test-key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Messages[0].Content)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"text":"  Well met, friend.\n"}],"usage":{"input_tokens":12,"output_tokens":5}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientDisabledWithoutKey(t *testing.T) {
	c := NewClient(Options{})
	if c.Enabled() {
		t.Fatalf("expected nil client to be disabled")
	}
	if _, err := c.Complete(context.Background(), "", "hi", 10); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestCompleteAndRateLimit(t *testing.T) {
	api := &fakeAPI{}
	srv := api.serve(t)
	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL + "/", RequestsPerMinute: 1})

	got, err := c.Complete(context.Background(), "system", "hello", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Well met, friend." {
		t.Fatalf("expected trimmed text, got %q", got)
	}
	if _, err := c.Complete(context.Background(), "system", "again", 20); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if api.calls.Load() != 1 {
		t.Fatalf("expected one API call, got %d", api.calls.Load())
	}
}

func TestCompleteSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), "", "hi", 10); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected API error with status, got %v", err)
	}
}

func TestDialogueCachesPerPair(t *testing.T) {
	api := &fakeAPI{}
	srv := api.serve(t)
	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	d, err := NewDialogue(context.Background(), c, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var mu sync.Mutex
	var lines []string
	d.OnLine = func(a, b agents.Snapshot, line string) {
		mu.Lock()
		lines = append(lines, a.Name+": "+line)
		mu.Unlock()
	}

	bram := agents.Snapshot{ID: 1, Name: "Bram", NeedRatio: 0.2, Trading: true}
	iris := agents.Snapshot{ID: 2, Name: "Iris", NeedRatio: 0.9}
	d.TalkStarted(bram, iris)
	d.Wait()
	if !d.Cached(2, 1) {
		t.Fatalf("expected the pair cached in either order")
	}
	d.TalkStarted(iris, bram)
	d.TalkEnded(iris, bram)
	d.Wait()

	if api.calls.Load() != 1 {
		t.Fatalf("expected one API call for a repeated pair, got %d", api.calls.Load())
	}
	if len(lines) != 2 || lines[1] != "Iris: Well met, friend." {
		t.Fatalf("expected the cached line reused, got %v", lines)
	}
	if !strings.Contains(api.prompts[0], "exhausted") || !strings.Contains(api.prompts[0], "trader") {
		t.Fatalf("expected the prompt to describe the speaker, got %q", api.prompts[0])
	}
}

func TestDialogueWithoutClientIsSilent(t *testing.T) {
	d, err := NewDialogue(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	called := false
	d.OnLine = func(agents.Snapshot, agents.Snapshot, string) { called = true }
	d.TalkStarted(agents.Snapshot{ID: 1}, agents.Snapshot{ID: 2})
	d.Wait()
	if called {
		t.Fatalf("expected no greeting without a client")
	}
}

func TestNarrateFiltersEvents(t *testing.T) {
	api := &fakeAPI{}
	srv := api.serve(t)
	c := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})

	out, err := Narrate(context.Background(), c, "Day 1, 9:00", []engine.Event{
		{Category: engine.CategoryState, Description: "Bram moved"},
	})
	if err != nil || out != "" || api.calls.Load() != 0 {
		t.Fatalf("expected no call for an uneventful hour, got %q %v", out, err)
	}

	out, err = Narrate(context.Background(), c, "Day 1, 10:00", []engine.Event{
		{Category: engine.CategoryState, Description: "Bram moved"},
		{Category: engine.CategorySocial, Description: "Bram started talking with Iris"},
	})
	if err != nil || out == "" {
		t.Fatalf("expected narration, got %q %v", out, err)
	}
	if strings.Contains(api.prompts[0], "Bram moved") || !strings.Contains(api.prompts[0], "talking with Iris") {
		t.Fatalf("expected only social events in the prompt, got %q", api.prompts[0])
	}
}
