package playback

import (
	"context"
	"log"
	"sync"
)

// Item references one piece of synthesized agent audio: either a URL to
// fetch or an inline payload.
type Item struct {
	URL  string
	Data []byte
	// MIME sniffed or reported for inline payloads ("audio/wav", "audio/mpeg").
	MIME string
}

// Player performs the actual audio output. Play blocks until the item has
// finished or ctx is canceled; a canceled context is not an error.
type Player interface {
	Play(ctx context.Context, item Item) error
}

// Events are the arbiter's notifications. All callbacks are optional and are
// invoked from the arbiter's playback goroutine.
type Events struct {
	// OnStart runs while the arbiter holds its internal lock; it must not
	// call back into the arbiter.
	OnStart func(Item)
	OnEnd   func(Item)
	// OnInterrupt fires for an item displaced by a newer one (or by Stop)
	// instead of OnEnd.
	OnInterrupt func(Item)
	OnError     func(Item, error)
}

// Arbiter owns the playback output. At most one item is active at any
// instant; a new item pre-empts the current one (newest wins), so overlapping
// agent speech never queues unboundedly.
type Arbiter struct {
	player Player
	ev     Events

	mu      sync.Mutex
	playing bool
	current Item
	cancel  context.CancelFunc
	gen     uint64
}

func NewArbiter(player Player, ev Events) *Arbiter {
	return &Arbiter{player: player, ev: ev}
}

// Enqueue starts item immediately. If something is already playing it is
// stopped and reported via OnInterrupt before the new item starts.
func (a *Arbiter) Enqueue(item Item) {
	a.mu.Lock()
	if a.playing {
		displaced := a.current
		cancel := a.cancel
		a.gen++ // invalidate the displaced run before releasing the lock
		a.playing = false
		a.mu.Unlock()
		cancel()
		if a.ev.OnInterrupt != nil {
			a.ev.OnInterrupt(displaced)
		}
		a.mu.Lock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.gen++
	gen := a.gen
	a.playing = true
	a.current = item
	a.cancel = cancel
	a.mu.Unlock()

	go a.run(ctx, gen, item)
}

func (a *Arbiter) run(ctx context.Context, gen uint64, item Item) {
	a.mu.Lock()
	if a.gen != gen {
		// Pre-empted before this run was scheduled; the interrupter
		// already reported it, so OnStart must not fire late.
		a.mu.Unlock()
		return
	}
	// Announced under the lock so no interrupt can slot in between the
	// generation check and the callback.
	if a.ev.OnStart != nil {
		a.ev.OnStart(item)
	}
	a.mu.Unlock()
	err := a.player.Play(ctx, item)

	a.mu.Lock()
	stale := a.gen != gen
	if !stale {
		a.playing = false
	}
	a.mu.Unlock()
	if stale {
		// Displaced or stopped; the interrupter already reported it.
		return
	}
	if err != nil && ctx.Err() == nil {
		log.Printf("playback: %v", err)
		if a.ev.OnError != nil {
			a.ev.OnError(item, err)
		}
		return
	}
	if a.ev.OnEnd != nil {
		a.ev.OnEnd(item)
	}
}

// Stop forces the arbiter to Idle. Safe to call when idle.
func (a *Arbiter) Stop() {
	a.mu.Lock()
	if !a.playing {
		a.mu.Unlock()
		return
	}
	displaced := a.current
	cancel := a.cancel
	a.gen++
	a.playing = false
	a.mu.Unlock()
	cancel()
	if a.ev.OnInterrupt != nil {
		a.ev.OnInterrupt(displaced)
	}
}

// Playing reports whether an item is currently active, and which.
func (a *Arbiter) Playing() (Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.playing
}
