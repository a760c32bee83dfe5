package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Conversation mirrors the backend's conversation resource.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// AudioResponse is the backend's reply to one user turn.
type AudioResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	AudioURL string `json:"audio_url"`
	// UserText carries the recognized user utterance when the backend
	// includes it; older backends omit it.
	UserText string `json:"user_text,omitempty"`
}

// TranscriptItem is one row of the backend-side transcript.
type TranscriptItem struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Client is the turn-based transport: one request per completed user turn.
// After StartConversation the client is bound to that conversation id and
// rejects calls for any other id with StaleConversation.
type Client struct {
	BaseURL string
	AgentID string
	HTTP    *http.Client

	mu    sync.Mutex
	bound string
}

// NewClient builds a turn-based client. timeout bounds every request
// including SendAudio; zero means no limit.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// StartConversation creates a new conversation and binds the client to it.
func (c *Client) StartConversation(ctx context.Context) (*Conversation, error) {
	body := []byte("{}")
	if c.AgentID != "" {
		body, _ = json.Marshal(map[string]string{"agent_id": c.AgentID})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/conversations", bytes.NewReader(body))
	if err != nil {
		return nil, netErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	var conv Conversation
	if err := c.do(req, &conv); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bound = conv.ConversationID
	c.mu.Unlock()
	return &conv, nil
}

// SendAudio uploads one completed user turn as a multipart audio payload and
// returns the agent's reply.
func (c *Client) SendAudio(ctx context.Context, conversationID string, clip []byte) (*AudioResponse, error) {
	if err := c.checkBound(conversationID); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "turn.webm")
	if err != nil {
		return nil, netErr(err)
	}
	if _, err := part.Write(clip); err != nil {
		return nil, netErr(err)
	}
	if err := mw.Close(); err != nil {
		return nil, netErr(err)
	}

	url := fmt.Sprintf("%s/conversations/%s/audio", c.BaseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, netErr(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp AudioResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConversation fetches the conversation's current status.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := c.checkBound(conversationID); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/conversations/"+conversationID, nil)
	if err != nil {
		return nil, netErr(err)
	}
	var conv Conversation
	if err := c.do(req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetTranscript fetches the backend's ordered transcript.
func (c *Client) GetTranscript(ctx context.Context, conversationID string) ([]TranscriptItem, error) {
	if err := c.checkBound(conversationID); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/conversations/"+conversationID+"/transcript", nil)
	if err != nil {
		return nil, netErr(err)
	}
	var items []TranscriptItem
	if err := c.do(req, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Close unbinds the client. Late responses for the old conversation are
// rejected as stale from here on.
func (c *Client) Close() {
	c.mu.Lock()
	c.bound = ""
	c.mu.Unlock()
}

// Bound returns the currently open conversation id, if any.
func (c *Client) Bound() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

func (c *Client) checkBound(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound == "" || c.bound != conversationID {
		return &Error{Code: CodeStaleConversation, Message: "conversation " + conversationID + " is not the open conversation"}
	}
	return nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return netErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Code: CodeServer, Message: strings.TrimSpace(string(b)), HTTPStatus: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return netErr(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func netErr(err error) error {
	return &Error{Code: CodeNetwork, Message: err.Error()}
}
