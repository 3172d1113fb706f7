package voice

import (
	"context"
	"errors"
	"io"

	"omnidev/internal/bus"
	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// Recognition is one recognized utterance from the input channel.
type Recognition struct {
	Text       string
	Confidence float64
}

// Recognizer is the speech-to-text collaborator contract. Recognize blocks
// until an utterance is available, the context is cancelled, or the input
// stream ends (io.EOF).
type Recognizer interface {
	Recognize(ctx context.Context) (Recognition, error)
}

// ScriptedRecognizer replays recognitions from a channel. Used in tests and
// for typed input piped in as synthetic speech.
type ScriptedRecognizer struct {
	In chan Recognition
}

// NewScriptedRecognizer creates a recognizer fed through its In channel.
// Close the channel to simulate end of input.
func NewScriptedRecognizer() *ScriptedRecognizer {
	return &ScriptedRecognizer{In: make(chan Recognition, 16)}
}

// Recognize implements Recognizer.
func (r *ScriptedRecognizer) Recognize(ctx context.Context) (Recognition, error) {
	select {
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	case rec, ok := <-r.In:
		if !ok {
			return Recognition{}, io.EOF
		}
		return rec, nil
	}
}

// Listener runs the always-on recognition loop. It never pauses while the
// speaker plays; that concurrency is the point. Interrupt commands are
// applied to the speaker synchronously on the listener's goroutine so a
// "stop" takes effect before the next recognition is awaited. Everything
// else is published as a command event for the orchestrator to route.
type Listener struct {
	recognizer Recognizer
	speaker    *Speaker
	bus        *bus.Bus
	threshold  float64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewListener creates a listener. Recognitions below threshold confidence
// are dropped without side effects.
func NewListener(recognizer Recognizer, speaker *Speaker, b *bus.Bus, threshold float64) *Listener {
	return &Listener{
		recognizer: recognizer,
		speaker:    speaker,
		bus:        b,
		threshold:  threshold,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the listener goroutine. Non-blocking.
func (l *Listener) Start(ctx context.Context) error {
	logging.Voice("listener starting, confidence threshold %.2f", l.threshold)
	go l.run(ctx)
	return nil
}

// Stop waits for the listener goroutine to exit. The recognizer must honor
// context cancellation for Stop to return promptly.
func (l *Listener) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.doneCh
	logging.Voice("listener stopped")
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.doneCh)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-rctx.Done():
		}
	}()

	for {
		rec, err := l.recognizer.Recognize(rctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || rctx.Err() != nil {
				return
			}
			// Transient recognizer failure: log and keep listening.
			logging.Get(logging.CategoryVoice).Warn("recognition failed: %v", err)
			continue
		}
		l.handle(rec)
	}
}

// handle routes one recognition. Runs on the listener goroutine.
func (l *Listener) handle(rec Recognition) {
	if rec.Confidence < l.threshold {
		logging.VoiceDebug("dropped low-confidence recognition %.2f: %q", rec.Confidence, rec.Text)
		return
	}

	if action := ClassifyInterrupt(rec.Text); action != ActionNone {
		l.applyInterrupt(action)
		return
	}

	logging.Voice("recognized command: %q (%.2f)", rec.Text, rec.Confidence)
	l.bus.PublishFrom("voice", types.EventCommand, types.CommandPayload{
		Text:       rec.Text,
		Confidence: rec.Confidence,
	})
}

// applyInterrupt acts on the speaker immediately, then queues a short spoken
// confirmation at interrupt priority so the user knows the command landed.
func (l *Listener) applyInterrupt(action Action) {
	switch action {
	case ActionStop:
		logging.Voice("interrupt: stop")
		l.speaker.CancelCurrent()
		l.speaker.Enqueue("Stopped.", PriorityInterrupt)
	case ActionLouder:
		l.speaker.Louder()
		l.speaker.Enqueue("Louder.", PriorityInterrupt)
	case ActionQuieter:
		l.speaker.Quieter()
		l.speaker.Enqueue("Quieter.", PriorityInterrupt)
	case ActionFaster:
		l.speaker.Faster()
		l.speaker.Enqueue("Faster.", PriorityInterrupt)
	case ActionSlower:
		l.speaker.Slower()
		l.speaker.Enqueue("Slower.", PriorityInterrupt)
	case ActionRepeat:
		l.speaker.RepeatLast()
	}
}
