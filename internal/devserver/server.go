// Package devserver is a self-contained backend for local development: it
// implements the conversation REST API and the streaming socket with canned
// replies, so the client can be exercised without the real service.
package devserver

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// New creates a configured Echo server instance with all routes registered.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	h := NewHandlers()
	h.Register(e)
	return e
}

type conversationRecord struct {
	ID        string           `json:"conversation_id"`
	Status    string           `json:"status"`
	StartTime time.Time        `json:"start_time"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	AgentID   string           `json:"agent_id,omitempty"`
	Items     []transcriptItem `json:"-"`
	turns     int
}

type transcriptItem struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Handlers struct {
	mu    sync.Mutex
	convs map[string]*conversationRecord
}

func NewHandlers() *Handlers {
	return &Handlers{convs: make(map[string]*conversationRecord)}
}

func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/conversations", h.createConversation)
	e.POST("/conversations/:id/audio", h.postAudio)
	e.GET("/conversations/:id", h.getConversation)
	e.GET("/conversations/:id/transcript", h.getTranscript)
	e.GET("/audio/:name", h.getAudio)
	e.GET("/ws/conversation", h.streamConversation)
}

func (h *Handlers) createConversation(c echo.Context) error {
	var body struct {
		AgentID string `json:"agent_id"`
	}
	// The body is optional; a bare POST opens a default conversation.
	_ = c.Bind(&body)

	conv := &conversationRecord{
		ID:        uuid.NewString(),
		Status:    "started",
		StartTime: time.Now().UTC(),
		AgentID:   body.AgentID,
	}
	h.mu.Lock()
	h.convs[conv.ID] = conv
	h.mu.Unlock()
	return c.JSON(http.StatusCreated, conv)
}

func (h *Handlers) postAudio(c echo.Context) error {
	conv, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "conversation not found"})
	}

	file, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "missing audio field"})
	}
	f, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "unreadable audio field"})
	}
	defer f.Close()
	clip, err := io.ReadAll(f)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "unreadable audio field"})
	}

	h.mu.Lock()
	conv.turns++
	turn := conv.turns
	userText := fmt.Sprintf("(turn %d, %d bytes)", turn, len(clip))
	reply := fmt.Sprintf("This is canned reply number %d.", turn)
	now := time.Now().UTC()
	conv.Items = append(conv.Items,
		transcriptItem{Speaker: "user", Text: userText, Timestamp: now},
		transcriptItem{Speaker: "agent", Text: reply, Timestamp: now},
	)
	h.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{
		"status":    "processing",
		"message":   reply,
		"audio_url": fmt.Sprintf("/audio/%s-%d.wav", conv.ID, turn),
		"user_text": userText,
	})
}

func (h *Handlers) getConversation(c echo.Context) error {
	conv, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "conversation not found"})
	}
	h.mu.Lock()
	out := *conv
	h.mu.Unlock()
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) getTranscript(c echo.Context) error {
	conv, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "conversation not found"})
	}
	h.mu.Lock()
	items := make([]transcriptItem, len(conv.Items))
	copy(items, conv.Items)
	h.mu.Unlock()
	return c.JSON(http.StatusOK, items)
}

func (h *Handlers) getAudio(c echo.Context) error {
	// Every reply sounds the same in development; the name only has to
	// exist so clients can round-trip the URL.
	return c.Blob(http.StatusOK, "audio/wav", synthWAV(600*time.Millisecond, 440))
}

func (h *Handlers) lookup(id string) (*conversationRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conv, ok := h.convs[id]
	return conv, ok
}
