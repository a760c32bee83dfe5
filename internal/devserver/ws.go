package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
}

// streamConversation accepts binary audio chunks until an end frame, then
// answers with a transcript pair and a reply audio frame.
func (h *Handlers) streamConversation(c echo.Context) error {
	conv, ok := h.lookup(c.QueryParam("conversation_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "conversation not found"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var turnBytes int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		switch msgType {
		case websocket.BinaryMessage:
			turnBytes += len(data)
		case websocket.TextMessage:
			var f wsFrame
			if err := json.Unmarshal(data, &f); err != nil || f.Type != "end" {
				continue
			}
			if err := h.answerTurn(conn, conv, turnBytes); err != nil {
				return nil
			}
			turnBytes = 0
		}
	}
}

func (h *Handlers) answerTurn(conn *websocket.Conn, conv *conversationRecord, turnBytes int) error {
	h.mu.Lock()
	conv.turns++
	turn := conv.turns
	userText := fmt.Sprintf("(turn %d, %d bytes)", turn, turnBytes)
	reply := fmt.Sprintf("This is canned reply number %d.", turn)
	now := time.Now().UTC()
	conv.Items = append(conv.Items,
		transcriptItem{Speaker: "user", Text: userText, Timestamp: now},
		transcriptItem{Speaker: "agent", Text: reply, Timestamp: now},
	)
	h.mu.Unlock()

	frames := []wsFrame{
		{Type: "transcript", Speaker: "user", Text: userText},
		{Type: "transcript", Speaker: "agent", Text: reply},
		{Type: "audio", URL: fmt.Sprintf("/audio/%s-%d.wav", conv.ID, turn)},
		{Type: "end"},
	}
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return err
		}
	}
	return nil
}
