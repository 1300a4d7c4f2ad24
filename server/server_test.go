package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/observability"
)

type fakeEngine struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeEngine) rounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeEngine) Run(_ context.Context, msg string) (*engine.Output, error) {
	if strings.TrimSpace(msg) == "" {
		return nil, engine.ErrEmptyMessage
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	return &engine.Output{
		TurnID:   "turn_1",
		Text:     "echo: " + msg,
		Context:  []memory.Turn{{ID: "old", User: "u", Bot: "b"}},
		Degraded: msg == "degrade",
	}, nil
}

type fakeMemory struct {
	turns      []memory.Turn
	stats      memory.RebuildStats
	rebuildErr error
	available  bool
}

func (f *fakeMemory) History(context.Context) ([]memory.Turn, error) { return f.turns, nil }
func (f *fakeMemory) Rebuild(context.Context) (memory.RebuildStats, error) {
	return f.stats, f.rebuildErr
}
func (f *fakeMemory) IndexAvailable() bool { return f.available }

func newTestServer(t *testing.T, mem Memory) (*httptest.Server, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	ts := httptest.NewServer(New(eng, mem).Router())
	t.Cleanup(ts.Close)
	return ts, eng
}

func TestChat(t *testing.T) {
	ts, eng := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", strings.NewReader(`{"message":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.TurnID != "turn_1" || body.Reply != "echo: hello" {
		t.Errorf("unexpected body: %+v", body)
	}
	if len(body.Context) != 1 || body.Context[0].ID != "old" {
		t.Errorf("context = %+v", body.Context)
	}
	if eng.rounds() != 1 {
		t.Errorf("expected one round, got %d", eng.rounds())
	}
}

func TestChat_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for name, payload := range map[string]string{
		"empty body":    "",
		"invalid json":  "{",
		"blank message": `{"message":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/chat", "application/json", strings.NewReader(payload))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	mem := &fakeMemory{turns: []memory.Turn{{ID: "t1", User: "a", Bot: "b"}, {ID: "t2", User: "c", Bot: "d"}}}
	ts, _ := newTestServer(t, mem)

	resp, err := http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Turns []memory.Turn `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Turns) != 2 || body.Turns[1].ID != "t2" {
		t.Errorf("turns = %+v", body.Turns)
	}
}

func TestHistory_NoMemory(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestReindex(t *testing.T) {
	mem := &fakeMemory{stats: memory.RebuildStats{Scanned: 3, Indexed: 1, AlreadyIndexed: 2}, available: true}
	ts, _ := newTestServer(t, mem)

	resp, err := http.Post(ts.URL+"/v1/reindex", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats memory.RebuildStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats != mem.stats {
		t.Errorf("stats = %+v, want %+v", stats, mem.stats)
	}
}

func TestReindex_IndexUnavailable(t *testing.T) {
	mem := &fakeMemory{rebuildErr: memory.ErrIndexUnavailable}
	ts, _ := newTestServer(t, mem)

	resp, err := http.Post(ts.URL+"/v1/reindex", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &fakeMemory{available: true})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["index_available"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg, "nim")
	metrics.ObserveRetrieved(2)

	ts := httptest.NewServer(New(&fakeEngine{}, nil, WithGatherer(reg)).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(data, []byte("nim_retrieved_turns")) {
		t.Errorf("metrics output missing nim_retrieved_turns:\n%s", data)
	}
}

func TestWebSocket(t *testing.T) {
	ts, eng := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{"first", "degrade"} {
		if err := conn.WriteJSON(chatRequest{Message: msg}); err != nil {
			t.Fatal(err)
		}
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatal(err)
		}
		if frame.Reply != "echo: "+msg || frame.TurnID != "turn_1" {
			t.Errorf("frame = %+v", frame)
		}
		if frame.Degraded != (msg == "degrade") {
			t.Errorf("degraded = %v for %q", frame.Degraded, msg)
		}
	}

	if err := conn.WriteJSON(chatRequest{Message: ""}); err != nil {
		t.Fatal(err)
	}
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(frame.Error, engine.ErrEmptyMessage.Error()) {
		t.Errorf("expected empty message error, got %+v", frame)
	}

	if eng.rounds() != 2 {
		t.Errorf("expected 2 rounds, got %d", eng.rounds())
	}
}

func TestWebSocket_InvalidFrame(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(frame.Error, "invalid message") {
		t.Errorf("frame = %+v", frame)
	}
}
