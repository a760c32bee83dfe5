package capture

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicSource captures 16-bit little-endian mono PCM from the default input
// device via PortAudio.
type MicSource struct {
	SampleRate int // default 16000
	FrameMs    int // buffer duration per Read, default 20ms
}

func (m *MicSource) Open() (Stream, error) {
	rate := m.SampleRate
	if rate == 0 {
		rate = 16000
	}
	frameMs := m.FrameMs
	if frameMs == 0 {
		frameMs = 20
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	frames := rate * frameMs / 1000
	buf := make([]int16, frames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), frames, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyPortAudioErr(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, classifyPortAudioErr(err)
	}
	return &micStream{stream: stream, buf: buf}, nil
}

func classifyPortAudioErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

type micStream struct {
	stream *portaudio.Stream
	buf    []int16

	mu     sync.Mutex
	closed bool
}

func (s *micStream) Read() ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, io.EOF
		}
		return nil, err
	}

	out := make([]byte, len(s.buf)*2)
	for i, v := range s.buf {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out, nil
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stream.Stop()
	err := s.stream.Close()
	_ = portaudio.Terminate()
	return err
}
