package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Streaming event types, mirroring the backend's control frames.
type EventType string

const (
	EventTranscript EventType = "transcript"
	EventAudio      EventType = "audio"
	EventEnd        EventType = "end"
)

// Event is one inbound streaming frame. Control frames carry Speaker/Text or
// URL; raw binary frames arrive as EventAudio with Audio set.
type Event struct {
	Type    EventType
	Speaker string
	Text    string
	URL     string
	Audio   []byte
}

type wireFrame struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Socket is the streaming transport: fire-and-forget chunk sends while open,
// inbound events delivered in backend order, and a single Disconnected
// notification if the connection drops.
type Socket struct {
	conn           *websocket.Conn
	conversationID string

	events       chan Event
	disconnected chan error
	closeCh      chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex
}

// DialSocket opens the streaming channel for an already-created conversation.
func DialSocket(ctx context.Context, endpoint, conversationID string) (*Socket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, netErr(err)
	}
	q := u.Query()
	q.Set("conversation_id", conversationID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &Error{Code: CodeNetwork, Message: err.Error(), HTTPStatus: resp.StatusCode}
		}
		return nil, netErr(err)
	}

	s := &Socket{
		conn:           conn,
		conversationID: conversationID,
		events:         make(chan Event, 100),
		disconnected:   make(chan error, 1),
		closeCh:        make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// ConversationID returns the conversation this socket is bound to.
func (s *Socket) ConversationID() string { return s.conversationID }

// Send ships one binary audio chunk. It fails closed with StaleConversation
// when the id does not match the bound conversation or the socket is no
// longer open.
func (s *Socket) Send(conversationID string, chunk []byte) error {
	if err := s.checkOpen(conversationID); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return netErr(err)
	}
	return nil
}

// EndTurn signals the end of the current user utterance.
func (s *Socket) EndTurn(conversationID string) error {
	if err := s.checkOpen(conversationID); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(wireFrame{Type: string(EventEnd)}); err != nil {
		return netErr(err)
	}
	return nil
}

// Events delivers inbound events in the order the backend emitted them. The
// channel closes when the socket closes or drops.
func (s *Socket) Events() <-chan Event { return s.events }

// Disconnected delivers at most one error when the socket drops without a
// local Close.
func (s *Socket) Disconnected() <-chan error { return s.disconnected }

// Close tears down the socket. Safe to call multiple times.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

func (s *Socket) checkOpen(conversationID string) error {
	select {
	case <-s.closeCh:
		return &Error{Code: CodeStaleConversation, Message: "socket closed for conversation " + s.conversationID}
	default:
	}
	if conversationID != s.conversationID {
		return &Error{Code: CodeStaleConversation, Message: "conversation " + conversationID + " is not the open conversation"}
	}
	return nil
}

func (s *Socket) readLoop() {
	defer close(s.events)
	defer close(s.disconnected)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
				// Local close, not a drop.
			default:
				s.closeOnce.Do(func() { close(s.closeCh); _ = s.conn.Close() })
				s.disconnected <- &Error{Code: CodeDisconnected, Message: err.Error()}
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var f wireFrame
			if err := json.Unmarshal(data, &f); err != nil {
				log.Printf("transport: malformed frame dropped: %v", err)
				continue
			}
			ev := Event{Type: EventType(f.Type), Speaker: f.Speaker, Text: f.Text, URL: f.URL}
			s.deliver(ev)
		case websocket.BinaryMessage:
			buf := make([]byte, len(data))
			copy(buf, data)
			s.deliver(Event{Type: EventAudio, Audio: buf})
		}
	}
}

func (s *Socket) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closeCh:
	}
}
