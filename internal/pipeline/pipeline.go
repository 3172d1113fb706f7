// Package pipeline implements the continuous analysis pipeline: it ingests
// file-change submissions, debounces and rate-limits them, runs the analysis
// collaborator, and gates outgoing feedback with a per-file cooldown.
//
// A single consumer goroutine owns all mutable per-file state, which makes
// the "at most one in-flight analysis per file" invariant trivial. External
// readers go through mutex-guarded accessors.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"omnidev/internal/analysis"
	"omnidev/internal/bus"
	"omnidev/internal/feedback"
	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// minTuneInterval is the floor for both the analysis interval and the
// feedback cooldown when tuned at runtime.
const minTuneInterval = time.Second

// pollInterval bounds how long the worker waits before re-checking the queue
// and the stop signal. Every wait in the pipeline is bounded.
const pollInterval = 20 * time.Millisecond

// Submission errors.
var (
	ErrAnalysisDisabled = errors.New("pipeline: analysis is disabled")
	ErrRateLimited      = errors.New("pipeline: file analyzed too recently")
	ErrQueueFull        = errors.New("pipeline: work queue is full")
)

// workItem is one queued unit of analysis work.
type workItem struct {
	path      string
	content   []byte
	actx      types.AssistContext
	submitted time.Time
}

// fileState tracks per-file pipeline state. Written only by the worker.
type fileState struct {
	lastAnalysis time.Time
	lastFeedback time.Time
}

// Stats counts pipeline activity for status display and tests.
type Stats struct {
	Submitted          int
	RateLimited        int
	Dropped            int
	Superseded         int
	Analyzed           int
	Failures           int
	FeedbackSent       int
	FeedbackSuppressed int
}

// Config holds the pipeline's tunable parameters.
type Config struct {
	AnalysisInterval time.Duration // Per-file re-analysis rate limit
	FeedbackCooldown time.Duration // Per-file feedback cooldown
	QueueSize        int           // Bounded queue capacity
	GlobalPerSecond  float64       // Global analysis throughput cap; 0 disables
}

// Pipeline is the continuous analysis pipeline. Construct with New, then
// Start exactly once.
type Pipeline struct {
	analyzer  analysis.Analyzer
	bus       *bus.Bus
	coalescer *feedback.Coalescer
	limiter   *rate.Limiter

	mu               sync.Mutex
	queue            []*workItem
	queueSize        int
	states           map[string]*fileState
	analysisInterval time.Duration
	feedbackCooldown time.Duration
	analysisEnabled  bool
	feedbackEnabled  bool
	stats            Stats

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	now func() time.Time // Injectable clock for tests
}

// New creates a pipeline publishing to b. The pipeline does not start its
// worker until Start is called.
func New(analyzer analysis.Analyzer, b *bus.Bus, cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = 5 * time.Second
	}
	if cfg.FeedbackCooldown <= 0 {
		cfg.FeedbackCooldown = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.GlobalPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalPerSecond), 1)
	}

	return &Pipeline{
		analyzer:         analyzer,
		bus:              b,
		coalescer:        feedback.NewCoalescer(),
		limiter:          limiter,
		queueSize:        cfg.QueueSize,
		states:           make(map[string]*fileState),
		analysisInterval: cfg.AnalysisInterval,
		feedbackCooldown: cfg.FeedbackCooldown,
		analysisEnabled:  true,
		feedbackEnabled:  true,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		now:              time.Now,
	}
}

// Submit enqueues a unit of work unless analysis is disabled, the file was
// analyzed more recently than the analysis interval ago, or the queue is
// full. Safe to call from any goroutine.
func (p *Pipeline) Submit(path string, content []byte, actx types.AssistContext, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.analysisEnabled {
		return ErrAnalysisDisabled
	}

	if st, ok := p.states[path]; ok && !st.lastAnalysis.IsZero() {
		if ts.Sub(st.lastAnalysis) < p.analysisInterval {
			p.stats.RateLimited++
			logging.PipelineDebug("rate limited %s (analyzed %v ago)", path, ts.Sub(st.lastAnalysis))
			return ErrRateLimited
		}
	}

	if len(p.queue) >= p.queueSize {
		p.stats.Dropped++
		logging.Get(logging.CategoryPipeline).Warn("queue full, dropping %s", path)
		return ErrQueueFull
	}

	p.queue = append(p.queue, &workItem{path: path, content: content, actx: actx, submitted: ts})
	p.stats.Submitted++
	logging.PipelineDebug("queued %s depth=%d", path, len(p.queue))
	return nil
}

// Start launches the single consumer worker. Non-blocking.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil // Already running
	}
	p.running = true
	p.mu.Unlock()

	logging.Pipeline("worker starting")
	go p.run(ctx)
	return nil
}

// Stop signals the worker and waits for it to exit. Work still queued is
// discarded, not drained.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
	logging.Pipeline("worker stopped")
}

// run is the worker loop. All waits are bounded by pollInterval so the stop
// signal is observed promptly.
func (p *Pipeline) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Pipeline("context cancelled")
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			for {
				item := p.next()
				if item == nil {
					break
				}
				p.process(ctx, item)

				// Re-check shutdown between items so queued work is
				// discarded, not drained.
				select {
				case <-ctx.Done():
					return
				case <-p.stopCh:
					return
				default:
				}
			}
		}
	}
}

// next dequeues the oldest item, applying supersession: if a newer entry for
// the same path is still queued, the older entry is discarded unprocessed so
// only the most recent content per file survives to be analyzed.
func (p *Pipeline) next() *workItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 {
		item := p.queue[0]
		p.queue = p.queue[1:]

		if p.newerQueuedLocked(item) {
			p.stats.Superseded++
			logging.PipelineDebug("superseded %s (ts=%v)", item.path, item.submitted)
			continue
		}
		return item
	}
	return nil
}

// newerQueuedLocked reports whether the remaining queue holds a newer entry
// for the same path. Caller holds p.mu.
func (p *Pipeline) newerQueuedLocked(item *workItem) bool {
	for _, other := range p.queue {
		if other.path == item.path && other.submitted.After(item.submitted) {
			return true
		}
	}
	return false
}

// process runs one unit of work inside an isolating boundary: an analyzer
// failure abandons this unit, never the worker.
func (p *Pipeline) process(ctx context.Context, item *workItem) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return // Shutting down
		}
	}

	start := p.now()
	result, err := p.analyzer.Analyze(ctx, item.path, item.content)

	p.mu.Lock()
	st, ok := p.states[item.path]
	if !ok {
		st = &fileState{}
		p.states[item.path] = st
	}
	st.lastAnalysis = p.now()
	if err != nil {
		p.stats.Failures++
		p.mu.Unlock()
		logging.Get(logging.CategoryPipeline).Error("analysis failed for %s: %v", item.path, err)
		return
	}
	p.stats.Analyzed++
	p.mu.Unlock()

	counts := types.CountSeverities(result.Issues)
	p.bus.PublishFrom("pipeline", types.EventAnalysisComplete, types.AnalysisCompletePayload{
		FilePath: item.path,
		Issues:   result.Issues,
		Counts:   counts,
		Duration: p.now().Sub(start),
	})

	if counts.Total() > 0 {
		p.emitFeedback(item.path, counts, result.Issues)
	}
}

// emitFeedback applies the per-file cooldown, coalesces, and publishes.
func (p *Pipeline) emitFeedback(path string, counts types.SeverityCounts, issues []types.CodeIssue) {
	now := p.now()

	p.mu.Lock()
	if !p.feedbackEnabled {
		p.mu.Unlock()
		return
	}
	st := p.states[path]
	if !st.lastFeedback.IsZero() && now.Sub(st.lastFeedback) < p.feedbackCooldown {
		p.stats.FeedbackSuppressed++
		p.mu.Unlock()
		logging.PipelineDebug("feedback suppressed for %s (cooldown)", path)
		return
	}
	p.mu.Unlock()

	msg, ok := p.coalescer.Coalesce(path, counts, issues)
	if !ok {
		return
	}

	p.bus.PublishFrom("pipeline", types.EventFeedback, types.FeedbackPayload{
		FilePath: path,
		Message:  msg,
		Counts:   counts,
	})

	p.mu.Lock()
	st.lastFeedback = now
	p.stats.FeedbackSent++
	p.mu.Unlock()
}

// =============================================================================
// RUNTIME TUNING AND GUARDED ACCESSORS
// =============================================================================

// TuneCooldown reacts to an explicit user signal: "too frequent" doubles the
// feedback cooldown, "too infrequent" halves it, clamped to one second.
func (p *Pipeline) TuneCooldown(tooFrequent bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tooFrequent {
		p.feedbackCooldown *= 2
	} else {
		p.feedbackCooldown /= 2
	}
	if p.feedbackCooldown < minTuneInterval {
		p.feedbackCooldown = minTuneInterval
	}
	logging.Pipeline("feedback cooldown now %v", p.feedbackCooldown)
	return p.feedbackCooldown
}

// TuneInterval doubles or halves the per-file analysis interval, clamped to
// one second.
func (p *Pipeline) TuneInterval(tooFrequent bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tooFrequent {
		p.analysisInterval *= 2
	} else {
		p.analysisInterval /= 2
	}
	if p.analysisInterval < minTuneInterval {
		p.analysisInterval = minTuneInterval
	}
	logging.Pipeline("analysis interval now %v", p.analysisInterval)
	return p.analysisInterval
}

// SetCooldown sets the feedback cooldown directly, clamped to one second.
func (p *Pipeline) SetCooldown(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d < minTuneInterval {
		d = minTuneInterval
	}
	p.feedbackCooldown = d
}

// Cooldown returns the current feedback cooldown.
func (p *Pipeline) Cooldown() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feedbackCooldown
}

// Interval returns the current per-file analysis interval.
func (p *Pipeline) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.analysisInterval
}

// SetAnalysisEnabled toggles submission intake.
func (p *Pipeline) SetAnalysisEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analysisEnabled = enabled
}

// SetFeedbackEnabled toggles feedback emission. Analysis continues either
// way; only the outgoing messages are gated.
func (p *Pipeline) SetFeedbackEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feedbackEnabled = enabled
}

// FeedbackEnabled reports whether feedback emission is on.
func (p *Pipeline) FeedbackEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feedbackEnabled
}

// QueueDepth returns the number of queued work items.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// FilesTracked returns how many file paths have pipeline state.
func (p *Pipeline) FilesTracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// LastAnalysis returns when the file was last analyzed. The guarded accessor
// is the only sanctioned read path for non-worker goroutines.
func (p *Pipeline) LastAnalysis(path string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[path]
	if !ok {
		return time.Time{}, false
	}
	return st.lastAnalysis, true
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
