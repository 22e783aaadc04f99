package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
	"github.com/talgya/townsfolk/internal/world"
)

func newTestServer(t *testing.T, adminKey string) (*Server, *agents.Agent) {
	t.Helper()
	zones := []world.Zone{{ID: 1, Min: world.Vec2{}, Max: world.Vec2{X: 20, Y: 20}}}
	nav := world.NewNavigator(nil, zones, 1)
	sim, err := engine.NewSimulation(engine.Options{
		Params:      agents.DefaultParams(),
		TickSeconds: 1,
		Area:        nav,
		Loco:        nav,
		Stepper:     nav,
		Clock:       engine.NewSimClock(8, 1440),
	})
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	if _, err := sim.RegisterResource(agents.ResourceSpec{
		Name:       "stool",
		Category:   agents.CategorySeating,
		Position:   world.Vec2{X: 10, Y: 10},
		QueueLimit: 2,
		Duration:   5,
	}); err != nil {
		t.Fatalf("register resource: %v", err)
	}
	a := sim.Register(agents.Spec{Name: "Bram Voss", Zone: 1}, world.Vec2{X: 4, Y: 4})
	sim.Step(1)

	s := &Server{Sim: sim, Eng: engine.NewEngine(time.Millisecond)}
	if adminKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash key: %v", err)
		}
		s.AdminKeyHash = string(hash)
	}
	return s, a
}

func do(t *testing.T, h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAndListings(t *testing.T) {
	s, a := newTestServer(t, "")
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/status", "", "")
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["tick"] != float64(1) || status["agents"] != float64(1) || status["resources"] != float64(1) {
		t.Fatalf("unexpected status %v", status)
	}
	if _, ok := status["sim_time"]; !ok {
		t.Fatalf("expected sim_time in status")
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agents", "", "")
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if len(list) != 1 || list[0]["name"] != "Bram Voss" || list[0]["state"] != "roaming" {
		t.Fatalf("unexpected agents %v", list)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agents?state=sleeping", "", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty filtered list, got %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/agent/"+itoa(a.ID), "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Bram Voss") {
		t.Fatalf("expected agent detail, got %d %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, h, http.MethodGet, "/api/v1/agent/999", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/api/v1/agent/abc", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/resource/1", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"category": "seating"`) {
		t.Fatalf("expected resource detail, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/events?category=lifecycle", "", "")
	var events []engine.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Agent != a.ID {
		t.Fatalf("expected one lifecycle event, got %+v", events)
	}
	if rec = do(t, h, http.MethodGet, "/api/v1/events?source=journal", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected journal source to be unavailable, got %d", rec.Code)
	}
}

func TestAdminEndpointsRequireKey(t *testing.T) {
	s, a := newTestServer(t, "open-sesame")
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "", `{"speed":4}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "wrong", `{"speed":4}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "open-sesame", `{"speed":4}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if s.Eng.Speed() != 4 {
		t.Fatalf("expected speed 4, got %v", s.Eng.Speed())
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", "open-sesame", `{"speed":-1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative speed, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/speed", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected public GET, got %d", rec.Code)
	}

	path := "/api/v1/despawn/" + itoa(a.ID)
	if rec := do(t, h, http.MethodPost, path, "open-sesame", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected despawn, got %d", rec.Code)
	}
	if _, ok := s.Sim.Agent(a.ID); ok {
		t.Fatalf("expected agent removed")
	}
	if rec := do(t, h, http.MethodPost, path, "open-sesame", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for second despawn, got %d", rec.Code)
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	s, _ := newTestServer(t, "")
	if rec := do(t, s.Handler(), http.MethodPost, "/api/v1/speed", "anything", `{"speed":2}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("expected burst of two")
	}
	if rl.Allow("a") {
		t.Fatalf("expected third request limited")
	}
	if got := rl.RetryAfter("a"); got != 1 {
		t.Fatalf("expected retry after 1s, got %d", got)
	}
	if !rl.Allow("b") {
		t.Fatalf("expected other clients unaffected")
	}
	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatalf("expected a token after refill")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := RateLimitMiddleware(rl, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}
	if clientIP(req) != "10.0.0.1" {
		t.Fatalf("expected first forwarded address, got %q", clientIP(req))
	}
}

func itoa(id agents.AgentID) string {
	b, _ := json.Marshal(uint64(id))
	return string(b)
}
