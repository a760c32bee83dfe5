package capture

import (
	"errors"
	"io"
	"log"
	"sync"
)

// Capture failure modes surfaced to the session layer.
var (
	ErrPermissionDenied  = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")
	ErrAlreadyCapturing  = errors.New("capture: already capturing")
	ErrNotCapturing      = errors.New("capture: not capturing")
)

// Chunk is one captured audio buffer. Seq preserves capture order for
// chunk-oriented transports; whole-clip transports concatenate and ignore it.
type Chunk struct {
	Data []byte
	Seq  int
}

// Source opens the physical input device.
type Source interface {
	Open() (Stream, error)
}

// Stream is an open device handle. Read blocks until the next buffer is
// available and returns io.EOF once the stream has been closed. Close
// releases the device and is safe to call more than once.
type Stream interface {
	Read() ([]byte, error)
	Close() error
}

// Engine owns the microphone for the duration of one capture. Begin opens the
// device and starts producing chunks; End closes the device, after which any
// buffered-but-unsent chunks are still delivered before the channel closes.
type Engine struct {
	src Source

	mu        sync.Mutex
	stream    Stream
	capturing bool
	seq       int
	done      chan struct{}
}

func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// Begin acquires the device and returns the chunk sequence. It fails with
// ErrAlreadyCapturing if a capture is in progress, and with the source's
// open error (ErrPermissionDenied, ErrDeviceUnavailable) otherwise.
func (e *Engine) Begin() (<-chan Chunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capturing {
		return nil, ErrAlreadyCapturing
	}
	stream, err := e.src.Open()
	if err != nil {
		return nil, err
	}
	out := make(chan Chunk, 256)
	done := make(chan struct{})
	e.stream = stream
	e.capturing = true
	e.seq = 0
	e.done = done
	go e.pump(stream, out, done)
	return out, nil
}

// pump reads device buffers until the stream reports EOF (or a read error)
// and always releases the device before closing the chunk channel.
func (e *Engine) pump(stream Stream, out chan<- Chunk, done chan struct{}) {
	defer func() {
		_ = stream.Close()
		close(out)
		close(done)
	}()
	for {
		buf, err := stream.Read()
		if len(buf) > 0 {
			e.mu.Lock()
			seq := e.seq
			e.seq++
			e.mu.Unlock()
			out <- Chunk{Data: buf, Seq: seq}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("capture: read error: %v", err)
			}
			return
		}
	}
}

// End closes the device and finalizes the chunk sequence. The consumer must
// keep draining the channel returned by Begin until it closes; chunks read
// before the close are flushed, not dropped.
func (e *Engine) End() error {
	e.mu.Lock()
	if !e.capturing {
		e.mu.Unlock()
		return ErrNotCapturing
	}
	stream := e.stream
	done := e.done
	e.capturing = false
	e.stream = nil
	e.mu.Unlock()

	err := stream.Close()
	<-done
	return err
}

// Capturing reports whether a capture is in progress.
func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capturing
}
