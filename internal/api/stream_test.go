package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
	"github.com/talgya/townsfolk/internal/world"
)

func testFrame(tick uint64) engine.Frame {
	return engine.Frame{
		Tick:      tick,
		TimeOfDay: 12.5,
		Agents: []engine.AgentFrame{{
			ID:       3,
			State:    agents.StateSitting,
			Flags:    agents.Flags{Sitting: true},
			Position: world.Vec2{X: 1, Y: 2},
		}},
	}
}

func dialStream(t *testing.T, srv *httptest.Server, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	before := hub.Clients()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return conn
}

func TestHubBroadcastsJSONAndProto(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	jsonConn := dialStream(t, srv, hub, "")
	protoConn := dialStream(t, srv, hub, "format=proto")
	if hub.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Clients())
	}

	hub.Present(testFrame(7))

	jsonConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := jsonConn.ReadMessage()
	if err != nil {
		t.Fatalf("read json frame: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected a text message, got %d", kind)
	}
	var got engine.Frame
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.Tick != 7 || len(got.Agents) != 1 || !got.Agents[0].Flags.Sitting {
		t.Fatalf("unexpected frame %+v", got)
	}

	protoConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err = protoConn.ReadMessage()
	if err != nil {
		t.Fatalf("read proto frame: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected a binary message, got %d", kind)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode proto frame: %v", err)
	}
	if st.Fields["tick"].GetNumberValue() != 7 {
		t.Fatalf("expected tick 7, got %v", st.Fields["tick"])
	}
	list := st.Fields["agents"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().Fields["state"].GetStringValue() != "sitting" {
		t.Fatalf("expected one sitting agent, got %v", list)
	}
}

func TestHubRejectsUnknownFormat(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.ServeWS(rec, httptest.NewRequest("GET", "/?format=xml", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPresentWithoutClientsIsDropped(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 10; i++ {
		hub.Present(testFrame(uint64(i)))
	}
	if len(hub.frames) != 0 {
		t.Fatalf("expected no queued frames without clients, got %d", len(hub.frames))
	}
}
