package pipeline

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

// recordingAnalyzer records what it was asked to analyze and returns a
// scripted result.
type recordingAnalyzer struct {
	mu       sync.Mutex
	contents []string
	issues   []types.CodeIssue
	err      error
	delay    time.Duration
	analyzed chan string
}

func newRecordingAnalyzer() *recordingAnalyzer {
	return &recordingAnalyzer{analyzed: make(chan string, 16)}
}

func (a *recordingAnalyzer) Analyze(ctx context.Context, path string, content []byte) (*types.AnalysisResult, error) {
	a.mu.Lock()
	a.contents = append(a.contents, string(content))
	delay := a.delay
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if a.err != nil {
		return nil, a.err
	}
	select {
	case a.analyzed <- string(content):
	default:
	}
	return &types.AnalysisResult{FilePath: path, Issues: a.issues}, nil
}

func (a *recordingAnalyzer) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.contents))
	copy(out, a.contents)
	return out
}

func testConfig() Config {
	return Config{
		AnalysisInterval: 5 * time.Second,
		FeedbackCooldown: 5 * time.Second,
		QueueSize:        16,
	}
}

func actx() types.AssistContext {
	return types.AssistContext{SessionID: "s1", CurrentMode: types.ModeDeveloper}
}

// Scenario A: two submissions for the same file queued before the worker
// dequeues either; only the newer content is analyzed.
func TestSupersessionOnlyNewestContentSurvives(t *testing.T) {
	a := newRecordingAnalyzer()
	p := New(a, bus.New(), testConfig())

	t0 := time.Now()
	require.NoError(t, p.Submit("a.py", []byte("v1"), actx(), t0))
	require.NoError(t, p.Submit("a.py", []byte("v2"), actx(), t0.Add(100*time.Millisecond)))

	item := p.next()
	require.NotNil(t, item)
	assert.Equal(t, "v2", string(item.content), "older entry must be discarded unprocessed")
	assert.Nil(t, p.next())
	assert.Equal(t, 1, p.Stats().Superseded)
}

func TestSupersessionLeavesOtherFilesAlone(t *testing.T) {
	a := newRecordingAnalyzer()
	p := New(a, bus.New(), testConfig())

	t0 := time.Now()
	require.NoError(t, p.Submit("a.py", []byte("a1"), actx(), t0))
	require.NoError(t, p.Submit("b.py", []byte("b1"), actx(), t0.Add(time.Millisecond)))

	first := p.next()
	second := p.next()
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "a1", string(first.content))
	assert.Equal(t, "b1", string(second.content))
}

func TestSubmitRateLimitsRecentlyAnalyzedFiles(t *testing.T) {
	a := newRecordingAnalyzer()
	p := New(a, bus.New(), testConfig())

	clock := time.Unix(1000, 0)
	p.now = func() time.Time { return clock }

	require.NoError(t, p.Submit("a.py", []byte("v1"), actx(), clock))
	p.process(context.Background(), p.next())

	// Within the interval: rejected.
	err := p.Submit("a.py", []byte("v2"), actx(), clock.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrRateLimited)

	// Past the interval: accepted.
	assert.NoError(t, p.Submit("a.py", []byte("v3"), actx(), clock.Add(6*time.Second)))
	assert.Equal(t, 1, p.Stats().RateLimited)
}

func TestSubmitWhenDisabled(t *testing.T) {
	p := New(newRecordingAnalyzer(), bus.New(), testConfig())
	p.SetAnalysisEnabled(false)

	err := p.Submit("a.py", []byte("v1"), actx(), time.Now())
	assert.ErrorIs(t, err, ErrAnalysisDisabled)
}

func TestSubmitQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	p := New(newRecordingAnalyzer(), bus.New(), cfg)

	t0 := time.Now()
	require.NoError(t, p.Submit("a.py", []byte("1"), actx(), t0))
	require.NoError(t, p.Submit("b.py", []byte("2"), actx(), t0))
	assert.ErrorIs(t, p.Submit("c.py", []byte("3"), actx(), t0), ErrQueueFull)
}

// Scenario B: cooldown=5s; issues at t=0 emit, at t=3 suppressed, at t=6
// emit again.
func TestFeedbackCooldown(t *testing.T) {
	a := newRecordingAnalyzer()
	a.issues = []types.CodeIssue{{Line: 1, Message: "boom", Severity: types.SeverityError}}

	b := bus.New()
	var feedbacks []types.FeedbackPayload
	b.Subscribe(types.EventFeedback, func(e types.Event) error {
		feedbacks = append(feedbacks, e.Payload.(types.FeedbackPayload))
		return nil
	})

	cfg := testConfig()
	cfg.AnalysisInterval = time.Millisecond // Not under test here
	p := New(a, b, cfg)

	clock := time.Unix(2000, 0)
	p.now = func() time.Time { return clock }
	ctx := context.Background()

	submit := func(content string, ts time.Time) {
		require.NoError(t, p.Submit("a.py", []byte(content), actx(), ts))
		p.process(ctx, p.next())
	}

	submit("v1", clock)
	assert.Len(t, feedbacks, 1, "first finding emits feedback")

	clock = clock.Add(3 * time.Second)
	submit("v2", clock)
	assert.Len(t, feedbacks, 1, "finding inside cooldown is suppressed")

	clock = clock.Add(3 * time.Second)
	submit("v3", clock)
	assert.Len(t, feedbacks, 2, "finding past cooldown emits again")

	stats := p.Stats()
	assert.Equal(t, 2, stats.FeedbackSent)
	assert.Equal(t, 1, stats.FeedbackSuppressed)
}

func TestNoFeedbackWhenNoIssues(t *testing.T) {
	a := newRecordingAnalyzer()
	b := bus.New()
	fired := false
	b.Subscribe(types.EventFeedback, func(e types.Event) error {
		fired = true
		return nil
	})

	p := New(a, b, testConfig())
	require.NoError(t, p.Submit("a.py", []byte("clean"), actx(), time.Now()))
	p.process(context.Background(), p.next())

	assert.False(t, fired)
}

func TestFeedbackDisabledSuppressesEmission(t *testing.T) {
	a := newRecordingAnalyzer()
	a.issues = []types.CodeIssue{{Line: 1, Message: "x", Severity: types.SeverityError}}

	b := bus.New()
	fired := false
	b.Subscribe(types.EventFeedback, func(e types.Event) error {
		fired = true
		return nil
	})

	p := New(a, b, testConfig())
	p.SetFeedbackEnabled(false)
	require.NoError(t, p.Submit("a.py", []byte("v1"), actx(), time.Now()))
	p.process(context.Background(), p.next())

	assert.False(t, fired)
}

func TestAnalyzerFailureAbandonsUnitNotWorker(t *testing.T) {
	a := newRecordingAnalyzer()
	a.err = errors.New("adapter down")

	b := bus.New()
	completed := false
	b.Subscribe(types.EventAnalysisComplete, func(e types.Event) error {
		completed = true
		return nil
	})

	p := New(a, b, testConfig())
	require.NoError(t, p.Submit("a.py", []byte("v1"), actx(), time.Now()))
	require.NotPanics(t, func() { p.process(context.Background(), p.next()) })

	assert.False(t, completed)
	assert.Equal(t, 1, p.Stats().Failures)

	// The worker survives: a later healthy unit processes fine.
	a.err = nil
	require.NoError(t, p.Submit("b.py", []byte("v2"), actx(), time.Now()))
	p.process(context.Background(), p.next())
	assert.Equal(t, 1, p.Stats().Analyzed)
}

func TestTuneCooldownDoublesHalvesAndClamps(t *testing.T) {
	p := New(newRecordingAnalyzer(), bus.New(), testConfig())

	assert.Equal(t, 10*time.Second, p.TuneCooldown(true))
	assert.Equal(t, 5*time.Second, p.TuneCooldown(false))

	for i := 0; i < 10; i++ {
		p.TuneCooldown(false)
	}
	assert.Equal(t, time.Second, p.Cooldown(), "cooldown clamps at one second")

	p.SetCooldown(100 * time.Millisecond)
	assert.Equal(t, time.Second, p.Cooldown(), "SetCooldown clamps too")
}

func TestTuneIntervalClamps(t *testing.T) {
	p := New(newRecordingAnalyzer(), bus.New(), testConfig())

	assert.Equal(t, 10*time.Second, p.TuneInterval(true))
	for i := 0; i < 10; i++ {
		p.TuneInterval(false)
	}
	assert.Equal(t, time.Second, p.Interval())
}

func TestWorkerStartStop(t *testing.T) {
	a := newRecordingAnalyzer()
	p := New(a, bus.New(), testConfig())

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx), "second Start is a no-op")

	require.NoError(t, p.Submit("a.py", []byte("v1"), actx(), time.Now()))

	select {
	case content := <-a.analyzed:
		assert.Equal(t, "v1", content)
	case <-time.After(2 * time.Second):
		t.Fatal("worker never analyzed the submission")
	}

	p.Stop()
	p.Stop() // Idempotent
}

// Shutdown is lossy: whatever is still queued when Stop is called must be
// discarded, not drained.
func TestStopDiscardsQueuedWork(t *testing.T) {
	a := newRecordingAnalyzer()
	a.delay = 100 * time.Millisecond
	p := New(a, bus.New(), testConfig())

	t0 := time.Now()
	paths := []string{"a.py", "b.py", "c.py", "d.py", "e.py"}
	for i, path := range paths {
		require.NoError(t, p.Submit(path, []byte("v"), actx(), t0.Add(time.Duration(i)*time.Millisecond)))
	}

	require.NoError(t, p.Start(context.Background()))

	// Wait for the worker to pick up the first item, then stop while the
	// rest are still queued.
	select {
	case <-a.analyzed:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started analyzing")
	}
	p.Stop()

	assert.LessOrEqual(t, p.Stats().Analyzed, 2, "worker drained the queue after Stop instead of discarding it")
}

func TestWorkerAppliesSupersession(t *testing.T) {
	a := newRecordingAnalyzer()
	p := New(a, bus.New(), testConfig())

	t0 := time.Now()
	require.NoError(t, p.Submit("a.py", []byte("v1"), actx(), t0))
	require.NoError(t, p.Submit("a.py", []byte("v2"), actx(), t0.Add(100*time.Millisecond)))

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case content := <-a.analyzed:
		assert.Equal(t, "v2", content)
	case <-time.After(2 * time.Second):
		t.Fatal("worker never ran")
	}
	assert.Equal(t, []string{"v2"}, a.seen())
}
