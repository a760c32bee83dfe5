package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Conversation{
			ConversationID: "c1",
			Status:         "started",
			StartTime:      time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("POST /conversations/c1/audio", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, "missing audio part", http.StatusBadRequest)
			return
		}
		f.Close()
		_ = json.NewEncoder(w).Encode(AudioResponse{
			Status:   "processing",
			Message:  "Hello!",
			AudioURL: "/audio/c1.mp3",
			UserText: "hi there",
		})
	})
	mux.HandleFunc("GET /conversations/c1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Conversation{ConversationID: "c1", Status: "processing"})
	})
	mux.HandleFunc("GET /conversations/c1/transcript", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]TranscriptItem{
			{Speaker: "user", Text: "hi there"},
			{Speaker: "agent", Text: "Hello!"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_TurnRoundTrip(t *testing.T) {
	srv := newBackend(t)
	c := NewClient(srv.URL+"/", 5*time.Second) // trailing slash tolerated
	ctx := context.Background()

	conv, err := c.StartConversation(ctx)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if conv.ConversationID != "c1" || conv.Status != "started" {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if c.Bound() != "c1" {
		t.Fatalf("client not bound to c1")
	}

	resp, err := c.SendAudio(ctx, "c1", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if resp.Message != "Hello!" || resp.AudioURL != "/audio/c1.mp3" {
		t.Fatalf("unexpected audio response %+v", resp)
	}

	items, err := c.GetTranscript(ctx, "c1")
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if len(items) != 2 || items[0].Speaker != "user" {
		t.Fatalf("unexpected transcript %+v", items)
	}
}

func TestClient_StaleConversation(t *testing.T) {
	srv := newBackend(t)
	c := NewClient(srv.URL, time.Second)
	if _, err := c.StartConversation(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.SendAudio(context.Background(), "other", nil); !IsStale(err) {
		t.Fatalf("expected StaleConversation, got %v", err)
	}
	c.Close()
	if _, err := c.SendAudio(context.Background(), "c1", nil); !IsStale(err) {
		t.Fatalf("expected StaleConversation after Close, got %v", err)
	}
}

func TestClient_ServerErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)
	_, err := c.StartConversation(context.Background())
	e, ok := AsError(err)
	if !ok || e.Code != CodeServer || e.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("expected ServerError 502, got %v", err)
	}
	if !Recoverable(err) {
		t.Fatalf("server error should be recoverable")
	}
}

func TestClient_TimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, 20*time.Millisecond)
	_, err := c.StartConversation(context.Background())
	e, ok := AsError(err)
	if !ok || e.Code != CodeNetwork {
		t.Fatalf("expected NetworkError on timeout, got %v", err)
	}
}
