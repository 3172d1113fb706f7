package voice

import (
	"context"
	"sync"

	"omnidev/internal/bus"
	"omnidev/internal/logging"
)

// State describes what the voice core is doing right now. Listening is the
// ground state; the core reports speaking while an utterance plays, but the
// listener stays active the whole time.
type State string

const (
	StateListening State = "listening"
	StateSpeaking  State = "speaking"
	StateDisabled  State = "disabled"
)

// Core is the bidirectional voice front end: one speaker, one listener,
// sharing nothing but the speaker handle the listener uses for interrupts.
type Core struct {
	speaker  *Speaker
	listener *Listener

	mu      sync.Mutex
	enabled bool
	running bool
}

// Config holds the voice core's tunables.
type Config struct {
	Enabled             bool
	ConfidenceThreshold float64
	Volume              float64
	Rate                float64
}

// NewCore wires a speaker over the given engine and a listener over the
// given recognizer.
func NewCore(engine Engine, recognizer Recognizer, b *bus.Bus, cfg Config) *Core {
	speaker := NewSpeaker(engine, cfg.Volume, cfg.Rate)
	return &Core{
		speaker:  speaker,
		listener: NewListener(recognizer, speaker, b, cfg.ConfidenceThreshold),
		enabled:  cfg.Enabled,
	}
}

// Start launches both halves. Non-blocking.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	if err := c.speaker.Start(ctx); err != nil {
		return err
	}
	if err := c.listener.Start(ctx); err != nil {
		c.speaker.Stop()
		return err
	}
	logging.Voice("voice core started")
	return nil
}

// Stop shuts down the listener first so no new interrupts race the speaker
// teardown, then the speaker. Queued speech is discarded.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.listener.Stop()
	c.speaker.Stop()
	logging.Voice("voice core stopped")
}

// Say queues text at normal priority. It waits its turn behind anything
// already queued and never preempts. No-op when voice is disabled or the
// engine has degraded.
func (c *Core) Say(text string) {
	if !c.Enabled() || c.speaker.Degraded() {
		return
	}
	c.speaker.Enqueue(text, PriorityNormal)
}

// SayNow queues text at interrupt priority, preempting any playing
// utterance.
func (c *Core) SayNow(text string) {
	if !c.Enabled() || c.speaker.Degraded() {
		return
	}
	c.speaker.Enqueue(text, PriorityInterrupt)
}

// Silence cancels the current utterance and drops nothing else.
func (c *Core) Silence() {
	c.speaker.CancelCurrent()
}

// State reports the core's current activity.
func (c *Core) State() State {
	if !c.Enabled() {
		return StateDisabled
	}
	if c.speaker.Speaking() {
		return StateSpeaking
	}
	return StateListening
}

// SetEnabled toggles speech output. The listener keeps running either way so
// "voice on" itself can be recognized.
func (c *Core) SetEnabled(on bool) {
	c.mu.Lock()
	c.enabled = on
	c.mu.Unlock()
	logging.Voice("voice output enabled=%v", on)
}

// Enabled reports whether speech output is on.
func (c *Core) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Speaking reports whether an utterance is playing.
func (c *Core) Speaking() bool {
	return c.speaker.Speaking()
}

// Degraded reports whether the speech engine has failed persistently.
func (c *Core) Degraded() bool {
	return c.speaker.Degraded()
}
