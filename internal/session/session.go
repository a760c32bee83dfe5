package session

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/Sauhard74/voice-interaction-plat/internal/capture"
	"github.com/Sauhard74/voice-interaction-plat/internal/playback"
	"github.com/Sauhard74/voice-interaction-plat/internal/transcript"
	"github.com/Sauhard74/voice-interaction-plat/internal/transport"
)

const fallbackUserText = "(voice message)"

// Session drives one conversation end to end: capture in, transport out,
// events back, playback and transcript updates on a single serialized
// timeline. All state transitions happen on the internal loop goroutine,
// so callbacks never observe a half-applied transition.
type Session struct {
	cfg Config
	cb  Callbacks

	rec     *transcript.Reconciler
	arbiter *playback.Arbiter

	ops  chan func()
	quit chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned fields. Touched only from run().
	state       State
	conv        *transport.Conversation
	pendingSlot transcript.SlotID
	turnEpoch   uint64
	turnCount   int
	redialed    bool
	failReason  error

	// muted is read by the chunk pump goroutine.
	muted sync.Mutex
	isMut bool

	// Guarded fields: state/conversation mirrors for accessors, plus the
	// live socket, which the chunk pump reads concurrently.
	mu       sync.Mutex
	stream   StreamTransport
	curState State
	curConv  transport.Conversation
	haveConv bool
}

// New builds a session. Start must be called before any turn.
func New(cfg Config, cb Callbacks) *Session {
	if cfg.Placeholder == "" {
		cfg.Placeholder = "[User speaking...]"
	}
	if cfg.ResolveAudioURL == nil {
		cfg.ResolveAudioURL = func(ref string) string { return ref }
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		cb:     cb,
		rec:    transcript.NewReconciler(),
		ops:    make(chan func(), 32),
		quit:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
	s.rec.OnChange(func(entries []transcript.Entry) {
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(entries)
		}
	})
	s.arbiter = playback.NewArbiter(cfg.Player, playback.Events{
		OnEnd: func(playback.Item) {
			s.post(func() { s.playbackEnded(nil) })
		},
		OnError: func(_ playback.Item, err error) {
			s.post(func() { s.playbackEnded(err) })
		},
	})
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			// Drain whatever is already queued so posters are not
			// stuck, then stop.
			for {
				select {
				case fn := <-s.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post schedules fn on the loop. After the session ends the op is dropped.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.ops <- func() { reply <- fn() }:
	case <-s.quit:
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.quit:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// State reports the current call state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curState
}

// ConversationID returns the open conversation's id, or "" before Start.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveConv {
		return ""
	}
	return s.curConv.ConversationID
}

// Conversation returns a copy of the conversation record, if one is open.
func (s *Session) Conversation() (transport.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curConv, s.haveConv
}

// Transcript returns a snapshot of the transcript entries.
func (s *Session) Transcript() []transcript.Entry {
	return s.rec.Entries()
}

// FetchBackendTranscript returns the backend's stored transcript for the
// open conversation. Useful when the caller wants the authoritative record
// rather than the locally reconciled one.
func (s *Session) FetchBackendTranscript(ctx context.Context) ([]transport.TranscriptItem, error) {
	id := s.ConversationID()
	if id == "" {
		return nil, ErrNotArmed
	}
	return s.cfg.Turn.GetTranscript(ctx, id)
}

// FailReason reports why the session failed, if it did.
func (s *Session) FailReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason
}

// Start creates the conversation on the backend and, in streaming mode,
// dials the socket. It blocks until the session is armed or failed.
func (s *Session) Start(ctx context.Context) error {
	res := make(chan error, 1)
	if err := s.do(func() error { return s.startOp(ctx, res) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-s.quit:
		select {
		case err := <-res:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

func (s *Session) startOp(ctx context.Context, res chan<- error) error {
	if s.state != StateIdle || s.conv != nil {
		return ErrBadState
	}
	s.setState(StateAwaitingResponse)
	go func() {
		conv, err := s.cfg.Turn.StartConversation(ctx)
		var stream StreamTransport
		if err == nil && s.cfg.Mode == ModeStreaming {
			stream, err = s.cfg.DialStream(ctx, conv.ConversationID)
		}
		s.post(func() {
			if err != nil {
				s.fail(KindConversation, err)
				res <- err
				return
			}
			s.conv = conv
			s.syncConv()
			if stream != nil {
				s.attachStream(stream)
			}
			s.setState(StateIdle)
			res <- nil
		})
	}()
	return nil
}

// attachStream stores the socket and starts its event pumps. Loop-only,
// but the field itself is guarded because the chunk pump reads it.
func (s *Session) attachStream(stream StreamTransport) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
	go func() {
		for ev := range stream.Events() {
			ev := ev
			s.post(func() { s.streamEvent(ev) })
		}
	}()
	go func() {
		if err, ok := <-stream.Disconnected(); ok {
			s.post(func() { s.socketDropped(err) })
		}
	}()
}

// BeginTurn opens the microphone and an optimistic transcript row.
func (s *Session) BeginTurn() error {
	return s.do(func() error {
		if s.state.Terminal() {
			return ErrSessionClosed
		}
		if s.conv == nil {
			return ErrNotArmed
		}
		if s.state != StateIdle {
			return ErrBadState
		}
		if s.pendingSlot != "" {
			// A leaked pending row from an earlier failure. Drop it
			// rather than wedge the turn.
			log.Printf("session: discarding stale pending row %s", s.pendingSlot)
			if err := s.rec.Discard(s.pendingSlot); err != nil {
				log.Printf("session: discard pending row: %v", err)
			}
			s.pendingSlot = ""
		}
		slot, err := s.rec.AppendPending(transcript.SpeakerUser, s.cfg.Placeholder)
		if err != nil {
			return err
		}
		ch, err := s.cfg.Capture.Begin()
		if err != nil {
			if derr := s.rec.Discard(slot); derr != nil {
				log.Printf("session: discard pending row: %v", derr)
			}
			s.notice(Notice{Kind: KindCapture, Err: err})
			return err
		}
		s.pendingSlot = slot
		s.turnEpoch++
		s.setMuted(false)
		s.setState(StateCapturing)
		go s.pumpChunks(s.turnEpoch, s.conv.ConversationID, ch)
		return nil
	})
}

// pumpChunks forwards capture output for one turn. In streaming mode each
// chunk goes straight to the socket; in turn-based mode the clip accumulates
// until the channel closes.
func (s *Session) pumpChunks(epoch uint64, convID string, ch <-chan capture.Chunk) {
	var clip []byte
	for c := range ch {
		if s.getMuted() {
			continue
		}
		if s.cfg.Mode == ModeStreaming {
			if err := s.curStream().Send(convID, c.Data); err != nil {
				if !transport.IsStale(err) {
					log.Printf("session: dropping chunk %d: %v", c.Seq, err)
				}
			}
			continue
		}
		clip = append(clip, c.Data...)
	}
	s.post(func() { s.captureDone(epoch, convID, clip) })
}

// EndTurn closes the microphone and hands the turn to the backend.
func (s *Session) EndTurn() error {
	return s.do(func() error {
		if s.state.Terminal() {
			return ErrSessionClosed
		}
		if s.state != StateCapturing && s.state != StateMuted {
			return ErrBadState
		}
		s.setState(StateAwaitingResponse)
		// End flushes the device; the pump posts captureDone once it
		// has drained the tail of the chunk channel.
		if err := s.cfg.Capture.End(); err != nil {
			log.Printf("session: capture end: %v", err)
		}
		return nil
	})
}

// captureDone runs after the turn's pump has flushed. Loop-only. Guarded by
/// the turn epoch, not the state: a barge-in event may have moved the state
// past AwaitingResponse while the pump drained, and the backend still needs
// the turn terminator.
func (s *Session) captureDone(epoch uint64, convID string, clip []byte) {
	if epoch != s.turnEpoch {
		// The turn was hung up or superseded while the pump drained.
		return
	}
	s.turnCount++
	if s.cfg.Mode == ModeStreaming {
		if err := s.curStream().EndTurn(convID); err != nil {
			s.turnFailed(err)
		}
		return
	}
	go s.sendTurn(epoch, convID, s.turnCount, clip)
}

// sendTurn posts the clip and resolves the user's final text. Runs off the
// loop; the outcome is posted back with the turn's epoch.
func (s *Session) sendTurn(epoch uint64, convID string, turn int, clip []byte) {
	ctx := s.ctx
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
	}
	resp, err := s.cfg.Turn.SendAudio(ctx, convID, clip)
	if err != nil {
		s.post(func() { s.turnResponse(epoch, nil, "", err) })
		return
	}
	userText := strings.TrimSpace(resp.UserText)
	if userText == "" {
		// Older backends omit the recognized text from the reply; the
		// stored transcript has it.
		if items, terr := s.cfg.Turn.GetTranscript(ctx, convID); terr == nil {
			for i := len(items) - 1; i >= 0; i-- {
				if items[i].Speaker == string(transcript.SpeakerUser) {
					userText = items[i].Text
					break
				}
			}
		}
	}
	if s.cfg.Archiver != nil {
		go func() {
			if aerr := s.cfg.Archiver.ArchiveTurn(context.Background(), convID, turn, clip); aerr != nil {
				log.Printf("session: archive turn %d: %v", turn, aerr)
			}
		}()
	}
	s.post(func() { s.turnResponse(epoch, resp, userText, nil) })
}

// turnResponse applies a turn-based backend reply. Loop-only.
func (s *Session) turnResponse(epoch uint64, resp *transport.AudioResponse, userText string, err error) {
	if epoch != s.turnEpoch || s.state != StateAwaitingResponse {
		return
	}
	if err != nil {
		if transport.IsStale(err) {
			// Raced a hang-up; nothing to report.
			return
		}
		s.turnFailed(err)
		return
	}
	if userText == "" {
		userText = fallbackUserText
	}
	if err := s.rec.Resolve(s.pendingSlot, userText); err != nil {
		log.Printf("session: resolve user row: %v", err)
	}
	s.pendingSlot = ""
	if resp.Message != "" {
		s.rec.AppendFinal(transcript.SpeakerAgent, resp.Message)
	}
	if resp.Status != "" && s.conv != nil {
		s.conv.Status = resp.Status
		s.syncConv()
	}
	if resp.AudioURL != "" {
		s.arbiter.Enqueue(playback.Item{URL: s.cfg.ResolveAudioURL(resp.AudioURL)})
		s.setState(StateAgentSpeaking)
		return
	}
	s.setState(StateIdle)
}

// turnFailed handles a recoverable turn outcome: the slot is discarded and
// the session re-arms. Loop-only.
func (s *Session) turnFailed(err error) {
	if s.pendingSlot != "" {
		if derr := s.rec.Discard(s.pendingSlot); derr != nil {
			log.Printf("session: discard pending row: %v", derr)
		}
		s.pendingSlot = ""
	}
	s.notice(Notice{Kind: KindTransport, Err: err})
	if s.state == StateAwaitingResponse {
		s.setState(StateIdle)
	}
}

// streamEvent applies one socket event. Loop-only.
func (s *Session) streamEvent(ev transport.Event) {
	if s.state.Terminal() {
		return
	}
	switch ev.Type {
	case transport.EventTranscript:
		if ev.Speaker == string(transcript.SpeakerUser) && s.pendingSlot != "" {
			if err := s.rec.Resolve(s.pendingSlot, ev.Text); err != nil {
				log.Printf("session: resolve user row: %v", err)
			}
			s.pendingSlot = ""
			return
		}
		s.rec.AppendFinal(transcript.Speaker(ev.Speaker), ev.Text)
	case transport.EventAudio:
		item := playback.Item{Data: ev.Audio}
		if ev.URL != "" {
			item = playback.Item{URL: s.cfg.ResolveAudioURL(ev.URL)}
		}
		s.arbiter.Enqueue(item)
		if s.state == StateAwaitingResponse {
			s.setState(StateAgentSpeaking)
		}
	case transport.EventEnd:
		if s.pendingSlot != "" {
			if err := s.rec.Resolve(s.pendingSlot, fallbackUserText); err != nil {
				log.Printf("session: resolve user row: %v", err)
			}
			s.pendingSlot = ""
		}
		if s.state == StateAwaitingResponse {
			s.setState(StateIdle)
		}
	}
}

// playbackEnded runs after the arbiter finishes or fails an item. Loop-only.
func (s *Session) playbackEnded(err error) {
	if err != nil {
		s.notice(Notice{Kind: KindPlayback, Err: err})
	}
	if s.state == StateAgentSpeaking {
		s.setState(StateIdle)
	}
}

// socketDropped handles an unexpected socket loss. Loop-only.
func (s *Session) socketDropped(err error) {
	if s.state.Terminal() {
		return
	}
	if s.cfg.RedialOnDrop && !s.redialed && s.conv != nil {
		s.redialed = true
		convID := s.conv.ConversationID
		log.Printf("session: socket dropped, redialing: %v", err)
		go func() {
			stream, derr := s.cfg.DialStream(s.ctx, convID)
			s.post(func() {
				if s.state.Terminal() {
					if derr == nil {
						stream.Close()
					}
					return
				}
				if derr != nil {
					s.fail(KindTransport, derr)
					return
				}
				s.attachStream(stream)
				s.notice(Notice{Kind: KindTransport, Err: err})
			})
		}()
		return
	}
	s.fail(KindTransport, err)
}

// ToggleMute flips between Capturing and Muted. While muted the device stays
// open but chunks are dropped.
func (s *Session) ToggleMute() error {
	return s.do(func() error {
		switch s.state {
		case StateCapturing:
			s.setMuted(true)
			s.setState(StateMuted)
			return nil
		case StateMuted:
			s.setMuted(false)
			s.setState(StateCapturing)
			return nil
		default:
			return ErrBadState
		}
	})
}

// HangUp ends the conversation from any non-terminal state. In-flight
// backend responses are discarded when they arrive.
func (s *Session) HangUp() error {
	return s.do(func() error {
		if s.state.Terminal() {
			return ErrSessionClosed
		}
		s.shutdown()
		s.setState(StateEnded)
		close(s.quit)
		return nil
	})
}

// fail moves the session to Failed and releases everything. Loop-only.
func (s *Session) fail(kind string, err error) {
	if s.state.Terminal() {
		return
	}
	s.shutdown()
	s.mu.Lock()
	s.failReason = err
	s.mu.Unlock()
	s.notice(Notice{Kind: kind, Fatal: true, Err: err})
	s.setState(StateFailed)
	close(s.quit)
}

// shutdown releases capture, playback, transports and the pending row.
// Loop-only; callers transition state afterwards.
func (s *Session) shutdown() {
	s.turnEpoch++
	if s.cfg.Capture != nil && s.cfg.Capture.Capturing() {
		if err := s.cfg.Capture.End(); err != nil {
			log.Printf("session: capture end: %v", err)
		}
	}
	if s.pendingSlot != "" {
		if err := s.rec.Discard(s.pendingSlot); err != nil {
			log.Printf("session: discard pending row: %v", err)
		}
		s.pendingSlot = ""
	}
	s.arbiter.Stop()
	if stream := s.curStream(); stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("session: socket close: %v", err)
		}
	}
	if s.cfg.Turn != nil {
		s.cfg.Turn.Close()
	}
	s.cancel()
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.mu.Lock()
	s.curState = st
	s.mu.Unlock()
	if s.cb.OnState != nil {
		s.cb.OnState(st)
	}
}

func (s *Session) syncConv() {
	s.mu.Lock()
	s.curConv = *s.conv
	s.haveConv = true
	s.mu.Unlock()
}

func (s *Session) notice(n Notice) {
	if s.cb.OnNotice != nil {
		s.cb.OnNotice(n)
	}
}

func (s *Session) curStream() StreamTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *Session) setMuted(v bool) {
	s.muted.Lock()
	s.isMut = v
	s.muted.Unlock()
}

func (s *Session) getMuted() bool {
	s.muted.Lock()
	defer s.muted.Unlock()
	return s.isMut
}
