package capture

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeStream yields queued buffers then blocks until closed.
type fakeStream struct {
	mu     sync.Mutex
	queued [][]byte
	closed bool
	wake   chan struct{}
	closes int
}

func newFakeStream(bufs ...[]byte) *fakeStream {
	return &fakeStream{queued: bufs, wake: make(chan struct{}, 1)}
}

func (f *fakeStream) Read() ([]byte, error) {
	for {
		f.mu.Lock()
		if len(f.queued) > 0 {
			buf := f.queued[0]
			f.queued = f.queued[1:]
			f.mu.Unlock()
			return buf, nil
		}
		if f.closed {
			f.mu.Unlock()
			return nil, io.EOF
		}
		f.mu.Unlock()
		select {
		case <-f.wake:
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closes++
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

type fakeSource struct {
	stream  *fakeStream
	openErr error
	opens   int
}

func (f *fakeSource) Open() (Stream, error) {
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func TestEngine_BeginTwiceFails(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	eng := NewEngine(src)
	ch, err := eng.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := eng.Begin(); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
	if err := eng.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	for range ch {
	}
}

func TestEngine_OpenErrorPropagates(t *testing.T) {
	src := &fakeSource{openErr: ErrPermissionDenied}
	eng := NewEngine(src)
	if _, err := eng.Begin(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if eng.Capturing() {
		t.Fatalf("engine must not be capturing after failed open")
	}
}

func TestEngine_EndFlushesBufferedChunks(t *testing.T) {
	src := &fakeSource{stream: newFakeStream([]byte{1}, []byte{2}, []byte{3})}
	eng := NewEngine(src)
	ch, err := eng.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	// End before draining; the three buffered chunks must still arrive.
	if err := eng.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 flushed chunks, got %d", len(got))
	}
	for i, c := range got {
		if c.Seq != i {
			t.Fatalf("chunk %d has seq %d", i, c.Seq)
		}
	}
}

func TestEngine_DeviceReleasedOnEnd(t *testing.T) {
	st := newFakeStream()
	src := &fakeSource{stream: st}
	eng := NewEngine(src)
	ch, err := eng.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := eng.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	for range ch {
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closes == 0 {
		t.Fatalf("expected device to be released")
	}
}

func TestEngine_EndWithoutBegin(t *testing.T) {
	eng := NewEngine(&fakeSource{stream: newFakeStream()})
	if err := eng.End(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing, got %v", err)
	}
}

func TestEngine_ReusableAfterEnd(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	eng := NewEngine(src)
	ch, err := eng.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = eng.End()
	for range ch {
	}
	src.stream = newFakeStream()
	ch2, err := eng.Begin()
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	_ = eng.End()
	for range ch2 {
	}
	if src.opens != 2 {
		t.Fatalf("expected two opens, got %d", src.opens)
	}
}
