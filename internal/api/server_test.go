package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/llm"
	"github.com/lumen-home/lumen/internal/voice"
)

type fakeChat struct {
	reply string
	err   error
}

func (f *fakeChat) SubmitText(ctx context.Context, conversationID, utterance string) (*command.TurnResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &command.TurnResult{
		ID:       "turn-1",
		Reply:    f.reply,
		Language: "en",
		Results: []command.ExecutionResult{
			{Intent: command.Intent{Domain: "smarthome", Action: "turn_off"}, Status: command.StatusSuccess},
		},
	}, nil
}

func (f *fakeChat) SubmitTextStream(ctx context.Context, conversationID, utterance string, onChunk llm.ChunkFunc) (*command.TurnResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	onChunk("chunk one ")
	onChunk("chunk two")
	return f.SubmitText(ctx, conversationID, utterance)
}

type fakeVoice struct{ status voice.Status }

func (f *fakeVoice) Status() voice.Status { return f.status }

func testServer(chatCtl Chat, voiceStatus VoiceStatus) *httptest.Server {
	s := NewServer("127.0.0.1", 0, chatCtl, voiceStatus, nil)
	return httptest.NewServer(s.Handler())
}

func TestHandleTurn(t *testing.T) {
	srv := testServer(&fakeChat{reply: "The light is **off**."}, nil)
	defer srv.Close()

	body := `{"conversation_id":"c1","text":"lights off"}`
	resp, err := http.Post(srv.URL+"/v1/turn", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Reply != "The light is **off**." {
		t.Errorf("Reply = %q", got.Reply)
	}
	if !strings.Contains(got.ReplyHTML, "<strong>off</strong>") {
		t.Errorf("ReplyHTML = %q, want rendered markdown", got.ReplyHTML)
	}
	if len(got.Results) != 1 {
		t.Errorf("Results = %+v", got.Results)
	}
}

func TestHandleTurnValidation(t *testing.T) {
	srv := testServer(&fakeChat{reply: "x"}, nil)
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"conversation_id":"c1","text":""}`},
		{"bad json", `{not json`},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/v1/turn", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("%s: POST: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
	}
}

func TestHandleTurnStreamSSE(t *testing.T) {
	srv := testServer(&fakeChat{reply: "done"}, nil)
	defer srv.Close()

	body := `{"conversation_id":"c1","text":"hello"}`
	resp, err := http.Post(srv.URL+"/v1/turn?stream=1", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}

	want := []string{"chunk", "chunk", "result"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events = %v, want %v", events, want)
			break
		}
	}
}

func TestHandleVoiceStatus(t *testing.T) {
	status := voice.Status{State: voice.StateListening, Turns: 3, Since: time.Now()}
	srv := testServer(&fakeChat{reply: "x"}, &fakeVoice{status: status})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/voice/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["turns"] != float64(3) {
		t.Errorf("turns = %v", got["turns"])
	}
}

func TestHandleVoiceStatusDisabled(t *testing.T) {
	srv := testServer(&fakeChat{reply: "x"}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/voice/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when voice disabled", resp.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(&fakeChat{reply: "x"}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatWebSocket(t *testing.T) {
	srv := testServer(&fakeChat{reply: "hi from ws"}, nil)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsInbound{ConversationID: "c1", Text: "hello", Stream: true}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	for {
		var out wsOutbound
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatalf("read: %v", err)
		}
		types = append(types, out.Type)
		if out.Type == "result" {
			if out.Result == nil || out.Result.Reply != "hi from ws" {
				t.Errorf("result = %+v", out.Result)
			}
			break
		}
		if out.Type == "error" {
			t.Fatalf("unexpected error frame: %+v", out)
		}
	}

	if fmt.Sprint(types) != fmt.Sprint([]string{"chunk", "chunk", "result"}) {
		t.Errorf("frame order = %v", types)
	}
}

func TestChatWebSocketEmptyText(t *testing.T) {
	srv := testServer(&fakeChat{reply: "x"}, nil)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsInbound{Text: ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out wsOutbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Type != "error" {
		t.Errorf("type = %q, want error", out.Type)
	}
}

func TestRenderHTMLFailureSafe(t *testing.T) {
	s := NewServer("", 0, &fakeChat{}, nil, nil)
	if got := s.renderHTML("plain text"); !strings.Contains(got, "plain text") {
		t.Errorf("renderHTML = %q", got)
	}
}
