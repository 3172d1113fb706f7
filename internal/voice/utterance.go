// Package voice implements the bidirectional voice-interaction concurrency
// core: an always-on listener and a priority-preemptible speaker. The system
// keeps listening while it speaks, and recognized interrupt commands act on
// the speaker immediately from the listener's goroutine.
package voice

import "sync/atomic"

// Priority orders utterances in the speaker queue. Interrupt-priority
// utterances preempt whatever is playing; normal ones queue FIFO.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityInterrupt
)

// Utterance is one unit of speech output. It is owned by the speaker queue
// and destroyed on completion or cancellation.
type Utterance struct {
	Text     string
	Priority Priority

	cancelled atomic.Bool
}

// NewUtterance creates an utterance.
func NewUtterance(text string, priority Priority) *Utterance {
	return &Utterance{Text: text, Priority: priority}
}

// Cancel trips the cooperative cancellation flag. The playback loop checks
// the flag; forced termination of the playback resource happens separately
// via Engine.Stop.
func (u *Utterance) Cancel() {
	u.cancelled.Store(true)
}

// Cancelled reports whether the utterance was cancelled.
func (u *Utterance) Cancelled() bool {
	return u.cancelled.Load()
}
