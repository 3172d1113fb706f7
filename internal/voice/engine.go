package voice

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"omnidev/internal/logging"
)

// Engine is the text-to-speech collaborator contract. Play renders one
// utterance and blocks until it completes, the utterance's cancel flag
// trips, or Stop force-terminates the playback resource. Stop must be safe
// to call from another goroutine at any time, including when nothing is
// playing.
type Engine interface {
	Play(ctx context.Context, u *Utterance) error
	Stop()
	SetVolume(v float64)
	SetRate(r float64)
}

// NullEngine renders nothing and returns immediately. Used when voice output
// is disabled and in tests that only care about queue behavior.
type NullEngine struct{}

func (NullEngine) Play(ctx context.Context, u *Utterance) error { return nil }
func (NullEngine) Stop()                                        {}
func (NullEngine) SetVolume(v float64)                          {}
func (NullEngine) SetRate(r float64)                            {}

// wordDuration is the simulated per-word playback time at rate 1.0.
const wordDuration = 250 * time.Millisecond

// ConsoleEngine prints utterances and simulates playback time so preemption
// behaves like a real TTS backend. It is the default engine when no real
// speech synthesis is wired in.
type ConsoleEngine struct {
	w io.Writer

	mu     sync.Mutex
	volume float64
	rate   float64
	stopCh chan struct{} // Open while a play is in progress
}

// NewConsoleEngine creates a console engine writing to w.
func NewConsoleEngine(w io.Writer) *ConsoleEngine {
	return &ConsoleEngine{w: w, volume: 0.8, rate: 1.0}
}

// Play implements Engine. The simulated playback sleeps in short slices,
// checking the cooperative cancel flag and the forced-stop channel between
// slices.
func (e *ConsoleEngine) Play(ctx context.Context, u *Utterance) error {
	e.mu.Lock()
	stop := make(chan struct{})
	e.stopCh = stop
	rate := e.rate
	fmt.Fprintf(e.w, "[voice] %s\n", u.Text)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.stopCh = nil
		e.mu.Unlock()
	}()

	words := len(strings.Fields(u.Text))
	if words == 0 {
		return nil
	}
	deadline := time.Now().Add(time.Duration(float64(words) * float64(wordDuration) / rate))

	for time.Now().Before(deadline) {
		if u.Cancelled() {
			logging.VoiceDebug("playback cancelled: %q", u.Text)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			logging.VoiceDebug("playback force-stopped: %q", u.Text)
			return nil
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

// Stop implements Engine. Safe to call when nothing is playing.
func (e *ConsoleEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
}

// SetVolume implements Engine.
func (e *ConsoleEngine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = clamp(v, 0, 1)
}

// SetRate implements Engine.
func (e *ConsoleEngine) SetRate(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = clamp(r, 0.25, 4)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
