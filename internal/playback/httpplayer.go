package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const speakerRate = beep.SampleRate(44100)

var speakerOnce sync.Once

func initSpeaker() error {
	var err error
	speakerOnce.Do(func() {
		err = speaker.Init(speakerRate, speakerRate.N(100*time.Millisecond))
	})
	return err
}

// HTTPPlayer fetches an item's audio reference (or uses its inline payload),
// decodes it and plays it on the default output device.
type HTTPPlayer struct {
	Client *http.Client
}

func NewHTTPPlayer() *HTTPPlayer {
	return &HTTPPlayer{Client: &http.Client{Timeout: 0}}
}

func (p *HTTPPlayer) Play(ctx context.Context, item Item) error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("playback: speaker init: %w", err)
	}

	body, mime, err := p.fetch(ctx, item)
	if err != nil {
		return err
	}
	defer body.Close()

	streamer, format, err := decode(body, mime)
	if err != nil {
		return fmt.Errorf("playback: decode: %w", err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != speakerRate {
		s = beep.Resample(4, format.SampleRate, speakerRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return nil
	}
}

func (p *HTTPPlayer) fetch(ctx context.Context, item Item) (io.ReadCloser, string, error) {
	if len(item.Data) > 0 {
		return io.NopCloser(bytes.NewReader(item.Data)), item.MIME, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("playback: bad audio url: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("playback: fetch %s: %w", item.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("playback: fetch %s: status %d", item.URL, resp.StatusCode)
	}
	mime := item.MIME
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	if mime == "" {
		mime = guessMIME(item.URL)
	}
	return resp.Body, mime, nil
}

func decode(rc io.ReadCloser, mime string) (beep.StreamSeekCloser, beep.Format, error) {
	if strings.Contains(mime, "mpeg") || strings.Contains(mime, "mp3") {
		return mp3.Decode(rc)
	}
	return wav.Decode(rc)
}

func guessMIME(url string) string {
	switch {
	case strings.HasSuffix(url, ".mp3"):
		return "audio/mpeg"
	default:
		return "audio/wav"
	}
}
