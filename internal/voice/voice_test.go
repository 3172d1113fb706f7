package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"omnidev/internal/bus"
	"omnidev/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine blocks in Play until the utterance is cancelled or Stop is
// called, and reports every play start on a channel.
type fakeEngine struct {
	started chan string

	mu     sync.Mutex
	stopCh chan struct{}
	stops  int
	err    error
	block  bool
}

func newFakeEngine(block bool) *fakeEngine {
	return &fakeEngine{started: make(chan string, 16), block: block}
}

func (e *fakeEngine) Play(ctx context.Context, u *Utterance) error {
	e.mu.Lock()
	stop := make(chan struct{})
	e.stopCh = stop
	err := e.err
	e.mu.Unlock()

	e.started <- u.Text

	if err != nil {
		return err
	}
	if !e.block {
		return nil
	}
	for {
		if u.Cancelled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-time.After(time.Millisecond):
		}
	}
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.stops++
}

func (e *fakeEngine) SetVolume(v float64) {}
func (e *fakeEngine) SetRate(r float64)   {}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func waitStarted(t *testing.T, e *fakeEngine) string {
	t.Helper()
	select {
	case text := <-e.started:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance started in time")
		return ""
	}
}

// Scenario: a long explanation is playing; an interrupt arrives. The playing
// utterance is cancelled, the engine is force-stopped, and the interrupt
// plays next.
func TestInterruptPreemptsCurrentUtterance(t *testing.T) {
	engine := newFakeEngine(true)
	s := NewSpeaker(engine, 0.8, 1.0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	long := s.Enqueue("the architecture of this module follows a layered design", PriorityNormal)
	assert.Equal(t, long.Text, waitStarted(t, engine))

	s.Enqueue("Stopping.", PriorityInterrupt)

	assert.Equal(t, "Stopping.", waitStarted(t, engine))
	assert.True(t, long.Cancelled(), "playing utterance must be cancelled by the interrupt")
	assert.GreaterOrEqual(t, engine.stopCount(), 1, "engine must be force-stopped")
}

func TestNormalPriorityNeverPreempts(t *testing.T) {
	engine := newFakeEngine(true)
	s := NewSpeaker(engine, 0.8, 1.0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	first := s.Enqueue("first", PriorityNormal)
	assert.Equal(t, "first", waitStarted(t, engine))

	second := s.Enqueue("second", PriorityNormal)

	// Give the loop a few ticks; the first utterance must keep playing.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, first.Cancelled())
	assert.Equal(t, 0, engine.stopCount())

	// Finish the first naturally; the second plays in turn.
	first.Cancel()
	assert.Equal(t, "second", waitStarted(t, engine))
	assert.False(t, second.Cancelled())
}

func TestInterruptsPlayBeforeQueuedNormals(t *testing.T) {
	engine := newFakeEngine(false)
	s := NewSpeaker(engine, 0.8, 1.0)

	s.Enqueue("normal one", PriorityNormal)
	s.Enqueue("normal two", PriorityNormal)
	s.Enqueue("urgent", PriorityInterrupt)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, "urgent", waitStarted(t, engine))
	assert.Equal(t, "normal one", waitStarted(t, engine))
	assert.Equal(t, "normal two", waitStarted(t, engine))
}

func TestRepeatLastReplaysCompletedUtterance(t *testing.T) {
	engine := newFakeEngine(false)
	s := NewSpeaker(engine, 0.8, 1.0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.RepeatLast() // Nothing played yet: no-op
	assert.Equal(t, 0, s.QueueDepth())

	s.Enqueue("two errors in main.go", PriorityNormal)
	assert.Equal(t, "two errors in main.go", waitStarted(t, engine))

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastPlayed != ""
	}, 2*time.Second, 10*time.Millisecond)

	s.RepeatLast()
	assert.Equal(t, "two errors in main.go", waitStarted(t, engine))
}

func TestSpeakerDegradesAfterRepeatedFailures(t *testing.T) {
	engine := newFakeEngine(false)
	engine.err = errors.New("audio device unavailable")
	s := NewSpeaker(engine, 0.8, 1.0)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	for i := 0; i < degradeAfterFailures; i++ {
		s.Enqueue("hello", PriorityNormal)
		waitStarted(t, engine)
	}

	require.Eventually(t, s.Degraded, 2*time.Second, 10*time.Millisecond)
}

func TestClassifyInterrupt(t *testing.T) {
	cases := []struct {
		text string
		want Action
	}{
		{"stop", ActionStop},
		{"Stop!", ActionStop},
		{"please stop", ActionStop},
		{"shut up", ActionStop},
		{"quiet", ActionStop},
		{"louder", ActionLouder},
		{"volume up", ActionLouder},
		{"volume down", ActionQuieter},
		{"softer", ActionQuieter},
		{"speed up", ActionFaster},
		{"slow down please", ActionSlower},
		{"repeat", ActionRepeat},
		{"say that again", ActionRepeat},
		{"", ActionNone},
		{"open the file", ActionNone},
		{"stop watching the build directory for changes", ActionNone},
		{"explain this function", ActionNone},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyInterrupt(tc.text), "text %q", tc.text)
	}
}

// The listener keeps recognizing while the speaker plays; a recognized stop
// halts playback from the listener's goroutine, a short confirmation plays,
// and the listener keeps listening.
func TestListenerInterruptsSpeakerMidUtterance(t *testing.T) {
	engine := newFakeEngine(true)
	rec := NewScriptedRecognizer()
	b := bus.New()

	commands := make(chan types.CommandPayload, 1)
	b.Subscribe(types.EventCommand, func(e types.Event) error {
		commands <- e.Payload.(types.CommandPayload)
		return nil
	})

	core := NewCore(engine, rec, b, Config{
		Enabled:             true,
		ConfidenceThreshold: 0.5,
		Volume:              0.8,
		Rate:                1.0,
	})
	require.NoError(t, core.Start(context.Background()))
	defer core.Stop()

	core.Say("a long explanation of the diff you just saved")
	assert.Equal(t, "a long explanation of the diff you just saved", waitStarted(t, engine))
	assert.Equal(t, StateSpeaking, core.State())

	rec.In <- Recognition{Text: "stop", Confidence: 0.9}

	assert.Equal(t, "Stopped.", waitStarted(t, engine),
		"stop must halt the playing utterance and speak a short confirmation")
	assert.GreaterOrEqual(t, engine.stopCount(), 1)

	// The listener never paused: a follow-up command still flows through.
	rec.In <- Recognition{Text: "show the project status", Confidence: 0.9}
	select {
	case cmd := <-commands:
		assert.Equal(t, "show the project status", cmd.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("listener stopped recognizing after the interrupt")
	}
}

func TestListenerPublishesNonInterruptCommands(t *testing.T) {
	rec := NewScriptedRecognizer()
	b := bus.New()

	got := make(chan types.CommandPayload, 1)
	b.Subscribe(types.EventCommand, func(e types.Event) error {
		got <- e.Payload.(types.CommandPayload)
		return nil
	})

	core := NewCore(NullEngine{}, rec, b, Config{Enabled: true, ConfidenceThreshold: 0.5})
	require.NoError(t, core.Start(context.Background()))
	defer core.Stop()

	rec.In <- Recognition{Text: "switch to reviewer mode", Confidence: 0.95}

	select {
	case cmd := <-got:
		assert.Equal(t, "switch to reviewer mode", cmd.Text)
		assert.InDelta(t, 0.95, cmd.Confidence, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("command never published")
	}
}

func TestListenerDropsLowConfidence(t *testing.T) {
	rec := NewScriptedRecognizer()
	b := bus.New()

	published := make(chan struct{}, 1)
	b.Subscribe(types.EventCommand, func(e types.Event) error {
		published <- struct{}{}
		return nil
	})

	core := NewCore(NullEngine{}, rec, b, Config{Enabled: true, ConfidenceThreshold: 0.7})
	require.NoError(t, core.Start(context.Background()))
	defer core.Stop()

	rec.In <- Recognition{Text: "delete everything", Confidence: 0.3}
	rec.In <- Recognition{Text: "show status", Confidence: 0.9}

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("high-confidence command never published")
	}
	select {
	case <-published:
		t.Fatal("low-confidence recognition must be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerSurvivesTransientRecognizerErrors(t *testing.T) {
	rec := &flakyRecognizer{inner: NewScriptedRecognizer(), failFirst: 2}
	b := bus.New()

	got := make(chan struct{}, 1)
	b.Subscribe(types.EventCommand, func(e types.Event) error {
		got <- struct{}{}
		return nil
	})

	core := NewCore(NullEngine{}, rec, b, Config{Enabled: true, ConfidenceThreshold: 0.5})
	require.NoError(t, core.Start(context.Background()))
	defer core.Stop()

	rec.inner.In <- Recognition{Text: "show status", Confidence: 0.9}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not recover from recognizer errors")
	}
}

type flakyRecognizer struct {
	inner     *ScriptedRecognizer
	mu        sync.Mutex
	failFirst int
}

func (r *flakyRecognizer) Recognize(ctx context.Context) (Recognition, error) {
	r.mu.Lock()
	if r.failFirst > 0 {
		r.failFirst--
		r.mu.Unlock()
		return Recognition{}, errors.New("microphone glitch")
	}
	r.mu.Unlock()
	return r.inner.Recognize(ctx)
}

func TestSayRespectsEnabledFlag(t *testing.T) {
	engine := newFakeEngine(false)
	core := NewCore(engine, NewScriptedRecognizer(), bus.New(), Config{Enabled: false})

	core.Say("should not be heard")
	assert.Equal(t, 0, core.speaker.QueueDepth())
	assert.Equal(t, StateDisabled, core.State())

	core.SetEnabled(true)
	core.Say("now audible")
	assert.Equal(t, 1, core.speaker.QueueDepth())
}

func TestVolumeAndRateAdjustmentsClamp(t *testing.T) {
	s := NewSpeaker(NullEngine{}, 0.95, 3.9)

	s.Louder()
	s.Louder()
	s.mu.Lock()
	assert.InDelta(t, 1.0, s.volume, 1e-9)
	s.mu.Unlock()

	s.Faster()
	s.mu.Lock()
	assert.InDelta(t, 4.0, s.rate, 1e-9)
	s.mu.Unlock()

	for i := 0; i < 50; i++ {
		s.Quieter()
		s.Slower()
	}
	s.mu.Lock()
	assert.InDelta(t, 0.0, s.volume, 1e-9)
	assert.InDelta(t, 0.25, s.rate, 1e-9)
	s.mu.Unlock()
}
