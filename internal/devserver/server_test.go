package devserver

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sauhard74/voice-interaction-plat/internal/transport"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New())
	t.Cleanup(srv.Close)
	return srv
}

func TestConversationLifecycle(t *testing.T) {
	srv := newTestServer(t)
	client := transport.NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	conv, err := client.StartConversation(ctx)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if conv.ConversationID == "" || conv.Status != "started" {
		t.Fatalf("conversation = %+v", conv)
	}

	resp, err := client.SendAudio(ctx, conv.ConversationID, []byte("fake webm bytes"))
	if err != nil {
		t.Fatalf("send audio: %v", err)
	}
	if resp.Status != "processing" || resp.Message == "" || resp.AudioURL == "" || resp.UserText == "" {
		t.Fatalf("audio response = %+v", resp)
	}

	items, err := client.GetTranscript(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if len(items) != 2 || items[0].Speaker != "user" || items[1].Speaker != "agent" {
		t.Fatalf("transcript = %+v", items)
	}

	got, err := client.GetConversation(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.ConversationID != conv.ConversationID {
		t.Fatalf("conversation id mismatch: %q vs %q", got.ConversationID, conv.ConversationID)
	}

	// The reply audio is fetchable and decodes as WAV.
	audioResp, err := http.Get(srv.URL + resp.AudioURL)
	if err != nil {
		t.Fatalf("fetch audio: %v", err)
	}
	defer audioResp.Body.Close()
	if ct := audioResp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("audio content type = %q", ct)
	}
}

func TestUnknownConversationIs404(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/conversations/no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamingTurnEcho(t *testing.T) {
	srv := newTestServer(t)
	client := transport.NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	conv, err := client.StartConversation(ctx)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversation"
	sock, err := transport.DialSocket(ctx, wsURL, conv.ConversationID)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	defer sock.Close()

	if err := sock.Send(conv.ConversationID, []byte("chunk-a")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sock.Send(conv.ConversationID, []byte("chunk-b")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sock.EndTurn(conv.ConversationID); err != nil {
		t.Fatalf("end turn: %v", err)
	}

	var types []transport.EventType
	deadline := time.After(3 * time.Second)
	for len(types) < 4 {
		select {
		case ev, ok := <-sock.Events():
			if !ok {
				t.Fatalf("socket closed after %v", types)
			}
			types = append(types, ev.Type)
			if ev.Type == transport.EventAudio && ev.URL == "" {
				t.Fatal("audio event without url")
			}
		case <-deadline:
			t.Fatalf("timed out after %v", types)
		}
	}
	want := []transport.EventType{transport.EventTranscript, transport.EventTranscript, transport.EventAudio, transport.EventEnd}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event order = %v, want %v", types, want)
		}
	}
}

func TestSynthWAVHeader(t *testing.T) {
	b := synthWAV(100*time.Millisecond, 440)
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[36:40]) != "data" {
		t.Fatal("malformed RIFF header")
	}
	dataLen := binary.LittleEndian.Uint32(b[40:44])
	if int(dataLen) != len(b)-44 {
		t.Fatalf("data length %d does not match body %d", dataLen, len(b)-44)
	}
	if rate := binary.LittleEndian.Uint32(b[24:28]); rate != synthRate {
		t.Fatalf("sample rate = %d", rate)
	}
}
