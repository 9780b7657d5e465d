package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is LAN-local; browsers on other origins may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a turn submission over the socket.
type wsInbound struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Stream         bool   `json:"stream,omitempty"`
}

// wsOutbound frames everything the server sends: chunk, result, or
// error.
type wsOutbound struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Result *turnResponse `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleChatWS runs a chat conversation over one WebSocket. Messages
// are processed sequentially in arrival order; streaming turns
// interleave chunk frames before the result frame.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	// Gorilla allows one concurrent writer; chunk callbacks and frame
	// sends share this lock.
	var writeMu sync.Mutex
	send := func(msg wsOutbound) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
				s.logger.Debug("websocket read", "error", err)
			}
			return
		}
		if in.Text == "" {
			_ = send(wsOutbound{Type: "error", Error: "text is required"})
			continue
		}
		if in.ConversationID == "" {
			in.ConversationID = "ws-" + r.RemoteAddr
		}

		var result *turnResponse
		var turnErr error
		if in.Stream {
			res, err := s.chat.SubmitTextStream(r.Context(), in.ConversationID, in.Text, func(chunk string) {
				_ = send(wsOutbound{Type: "chunk", Text: chunk})
			})
			if err == nil {
				tr := s.toResponse(res)
				result = &tr
			}
			turnErr = err
		} else {
			res, err := s.chat.SubmitText(r.Context(), in.ConversationID, in.Text)
			if err == nil {
				tr := s.toResponse(res)
				result = &tr
			}
			turnErr = err
		}

		if turnErr != nil {
			_ = send(wsOutbound{Type: "error", Error: turnErr.Error()})
			continue
		}
		if err := send(wsOutbound{Type: "result", Result: result}); err != nil {
			return
		}
	}
}
