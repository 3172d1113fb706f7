package voice

import (
	"context"
	"sync"
	"time"

	"omnidev/internal/logging"
)

// degradeAfterFailures is how many consecutive playback failures flip the
// speaker into degraded mode instead of retrying forever.
const degradeAfterFailures = 3

// speakerPoll bounds the queue wait so the speaker observes shutdown
// promptly.
const speakerPoll = 20 * time.Millisecond

// Volume/rate adjustment steps for interrupt commands.
const (
	volumeStep = 0.1
	rateStep   = 0.25
)

// Speaker owns a two-level priority queue of pending utterances and plays
// one at a time. Interrupt-priority utterances preempt the playing one:
// enqueueing trips the cooperative cancel flag and force-terminates the
// playback resource. Normal-priority utterances never preempt and play FIFO
// within their class.
//
// The current-utterance pointer is the only state mutated by two different
// goroutines (the speaker's own loop and the listener on interrupt), and is
// the only field here whose lock matters for correctness rather than
// convenience.
type Speaker struct {
	engine Engine

	mu         sync.Mutex
	interrupts []*Utterance
	normals    []*Utterance
	current    *Utterance
	volume     float64
	rate       float64
	lastPlayed string
	failures   int // Consecutive playback failures
	degraded   bool

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewSpeaker creates a speaker over the given engine.
func NewSpeaker(engine Engine, volume, rate float64) *Speaker {
	engine.SetVolume(volume)
	engine.SetRate(rate)
	return &Speaker{
		engine: engine,
		volume: volume,
		rate:   rate,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Enqueue adds an utterance without blocking. An interrupt-priority
// utterance cancels whatever is currently playing before it queues; a
// normal-priority one never does.
func (s *Speaker) Enqueue(text string, priority Priority) *Utterance {
	u := NewUtterance(text, priority)

	s.mu.Lock()
	if priority == PriorityInterrupt {
		s.interrupts = append(s.interrupts, u)
		if s.current != nil {
			s.current.Cancel()
			s.engine.Stop()
		}
	} else {
		s.normals = append(s.normals, u)
	}
	depth := len(s.interrupts) + len(s.normals)
	s.mu.Unlock()

	logging.VoiceDebug("enqueued priority=%d depth=%d text=%q", priority, depth, text)
	return u
}

// CancelCurrent cancels the playing utterance, if any. Safe to call from the
// listener's goroutine while the speaker owns the playback resource.
func (s *Speaker) CancelCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
		s.engine.Stop()
		logging.Voice("cancelled current utterance")
	}
}

// RepeatLast re-queues the most recently completed utterance at interrupt
// priority. No-op when nothing has played yet.
func (s *Speaker) RepeatLast() {
	s.mu.Lock()
	last := s.lastPlayed
	s.mu.Unlock()
	if last != "" {
		s.Enqueue(last, PriorityInterrupt)
	}
}

// Speaking reports whether an utterance is actively playing.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// QueueDepth returns the number of pending utterances.
func (s *Speaker) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interrupts) + len(s.normals)
}

// Degraded reports whether the engine has failed persistently. Callers stop
// enqueueing speech and fall back to text-only output.
func (s *Speaker) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Louder raises the engine volume one step.
func (s *Speaker) Louder() {
	s.adjustVolume(volumeStep)
}

// Quieter lowers the engine volume one step.
func (s *Speaker) Quieter() {
	s.adjustVolume(-volumeStep)
}

func (s *Speaker) adjustVolume(delta float64) {
	s.mu.Lock()
	s.volume = clamp(s.volume+delta, 0, 1)
	v := s.volume
	s.mu.Unlock()
	s.engine.SetVolume(v)
	logging.Voice("volume now %.1f", v)
}

// Faster raises the speech rate one step.
func (s *Speaker) Faster() {
	s.adjustRate(rateStep)
}

// Slower lowers the speech rate one step.
func (s *Speaker) Slower() {
	s.adjustRate(-rateStep)
}

func (s *Speaker) adjustRate(delta float64) {
	s.mu.Lock()
	s.rate = clamp(s.rate+delta, 0.25, 4)
	r := s.rate
	s.mu.Unlock()
	s.engine.SetRate(r)
	logging.Voice("rate now %.2f", r)
}

// Start launches the speaker goroutine. Non-blocking.
func (s *Speaker) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	logging.Voice("speaker starting")
	go s.run(ctx)
	return nil
}

// Stop signals the speaker, cancels any playing utterance, and waits for the
// goroutine to exit. Pending utterances are discarded, not drained.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.CancelCurrent()
	<-s.doneCh
	logging.Voice("speaker stopped")
}

// run is the speaker loop. All waits are bounded so the stop signal is
// observed within one poll tick.
func (s *Speaker) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(speakerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				u := s.dequeue()
				if u == nil {
					break
				}
				if u.Cancelled() {
					continue // Cancelled while still queued
				}
				s.play(ctx, u)

				// Re-check shutdown between utterances.
				select {
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				default:
				}
			}
		}
	}
}

// dequeue pops the next utterance: interrupts first, FIFO within each class.
func (s *Speaker) dequeue() *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.interrupts) > 0 {
		u := s.interrupts[0]
		s.interrupts = s.interrupts[1:]
		return u
	}
	if len(s.normals) > 0 {
		u := s.normals[0]
		s.normals = s.normals[1:]
		return u
	}
	return nil
}

// play renders one utterance inside an isolating boundary. Engine failures
// abandon the utterance; enough of them in a row degrade the speaker.
func (s *Speaker) play(ctx context.Context, u *Utterance) {
	s.mu.Lock()
	s.current = u
	s.mu.Unlock()

	err := s.engine.Play(ctx, u)

	s.mu.Lock()
	s.current = nil
	if err != nil && ctx.Err() == nil {
		s.failures++
		if s.failures >= degradeAfterFailures && !s.degraded {
			s.degraded = true
			logging.Get(logging.CategoryVoice).Error("engine failed %d times, degrading to text-only", s.failures)
		}
	} else if err == nil {
		s.failures = 0
		if !u.Cancelled() {
			s.lastPlayed = u.Text
		}
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logging.Get(logging.CategoryVoice).Warn("playback failed: %v", err)
	}
}
