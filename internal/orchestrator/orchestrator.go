// Package orchestrator assembles the assistant: the event bus, the analysis
// pipeline, mode detection and dispatch, the voice front end, and the
// filesystem watcher, wired into one lifecycle with a single upward API.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"omnidev/internal/analysis"
	"omnidev/internal/bus"
	"omnidev/internal/config"
	"omnidev/internal/logging"
	"omnidev/internal/modes"
	"omnidev/internal/perception"
	"omnidev/internal/pipeline"
	"omnidev/internal/session"
	"omnidev/internal/types"
	"omnidev/internal/voice"
	"omnidev/internal/watch"
)

// ErrShutdownTimeout is returned when components do not stop within the
// close deadline. Shutdown is lossy: queued work is abandoned, not drained.
var ErrShutdownTimeout = errors.New("orchestrator: shutdown timed out")

// Options overrides collaborators during construction. Zero-value fields get
// defaults derived from the config: a console speech engine, a scripted
// recognizer, the configured LLM provider, no persistence, and a fresh
// session.
type Options struct {
	Engine     voice.Engine
	Recognizer voice.Recognizer
	LLM        perception.LLMClient
	Store      session.Store
	Session    *session.Session // Restored session to resume instead of a fresh one
}

// Orchestrator owns every long-lived component and their start/stop order.
type Orchestrator struct {
	cfg  *config.Config
	bus  *bus.Bus
	sess *session.Session

	analyzer   *analysis.TreeSitterAnalyzer
	dispatcher *modes.Dispatcher
	detector   *modes.Detector
	pipeline   *pipeline.Pipeline
	voice      *voice.Core
	watcher    *watch.Watcher
	store      session.Store
}

// New builds the full component graph without starting anything.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Orchestrator, error) {
	if err := logging.Initialize(cfg.Workspace); err != nil {
		return nil, fmt.Errorf("orchestrator: logging init: %w", err)
	}

	b := bus.New()
	sess := opts.Session
	if sess == nil {
		sess = session.New(cfg.Workspace)
	} else {
		logging.Session("resuming session id=%s mode=%s", sess.ID, sess.CurrentMode())
	}

	registry := modes.NewRegistry()
	if err := modes.RegisterDefaults(registry); err != nil {
		return nil, err
	}

	llm := opts.LLM
	if llm == nil {
		var err error
		llm, err = buildLLM(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	dispatcher := modes.NewDispatcher(registry, llm)

	analyzer := analysis.NewTreeSitterAnalyzer()

	o := &Orchestrator{
		cfg:        cfg,
		bus:        b,
		sess:       sess,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		detector:   modes.NewDetector(),
		store:      opts.Store,
	}

	o.pipeline = pipeline.New(&compositeAnalyzer{
		structural: analyzer,
		dispatcher: dispatcher,
		sess:       sess,
	}, b, pipeline.Config{
		AnalysisInterval: cfg.AnalysisInterval(),
		FeedbackCooldown: cfg.FeedbackCooldown(),
		QueueSize:        cfg.Analysis.QueueSize,
		GlobalPerSecond:  cfg.Analysis.GlobalPerSecond,
	})
	o.pipeline.SetAnalysisEnabled(cfg.Analysis.Enabled)
	o.pipeline.SetFeedbackEnabled(cfg.Analysis.FeedbackEnabled)

	engine := opts.Engine
	if engine == nil {
		engine = voice.NullEngine{}
	}
	recognizer := opts.Recognizer
	if recognizer == nil {
		recognizer = voice.NewScriptedRecognizer()
	}
	o.voice = voice.NewCore(engine, recognizer, b, voice.Config{
		Enabled:             cfg.Voice.Enabled,
		ConfidenceThreshold: cfg.Voice.ConfidenceThreshold,
		Volume:              cfg.Voice.Volume,
		Rate:                cfg.Voice.Rate,
	})

	watcher, err := watch.New(cfg.Workspace, cfg.Analysis.WatchExtensions, cfg.WatchDebounce(), b, o.submitFromWatch)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: watcher: %w", err)
	}
	o.watcher = watcher

	b.Subscribe(types.EventCommand, o.onCommand)
	b.Subscribe(types.EventFeedback, o.onFeedback)
	b.Subscribe(types.EventVCSActivity, o.onVCSActivity)

	logging.Boot("orchestrator assembled session=%s mode=%s", sess.ID, sess.CurrentMode())
	return o, nil
}

// buildLLM constructs the configured provider. An empty or "mock" provider
// yields no client; the suggestion fallback is simply skipped then.
func buildLLM(ctx context.Context, cfg *config.Config) (perception.LLMClient, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		timeout, err := cfg.LLMTimeout()
		if err != nil {
			return nil, err
		}
		return perception.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model, timeout)
	case "", "mock", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown llm provider %q", cfg.LLM.Provider)
	}
}

// Start brings up the pipeline, the voice core, and the watcher.
// Non-blocking; Close tears down whatever started.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.pipeline.Start(ctx); err != nil {
		return err
	}
	if err := o.voice.Start(ctx); err != nil {
		o.pipeline.Stop()
		return err
	}
	if o.cfg.Analysis.Enabled {
		if err := o.watcher.Start(ctx); err != nil {
			o.voice.Stop()
			o.pipeline.Stop()
			return err
		}
	}
	logging.Boot("orchestrator started root=%s", o.cfg.Workspace)
	return nil
}

// Close stops everything within the given timeout. The watcher goes first so
// no new work arrives, then voice, then the pipeline. Queued analyses and
// queued speech are discarded. The session is saved last so the final mode
// survives the restart.
func (o *Orchestrator) Close(timeout time.Duration) error {
	var g errgroup.Group
	g.Go(func() error { o.watcher.Stop(); return nil })
	g.Go(func() error { o.voice.Stop(); return nil })
	g.Go(func() error { o.pipeline.Stop(); return nil })

	done := make(chan struct{})
	go func() {
		g.Wait() // Components return no stop errors
		close(done)
	}()

	var closeErr error
	select {
	case <-done:
	case <-time.After(timeout):
		logging.Get(logging.CategoryBoot).Error("shutdown exceeded %s, abandoning remaining components", timeout)
		closeErr = ErrShutdownTimeout
	}

	o.saveSession()
	o.analyzer.Close()
	logging.Boot("orchestrator closed")
	logging.CloseAll()
	return closeErr
}

// SubmitFileChange feeds one changed file into the pipeline. Rate-limited
// and queue-full submissions return the pipeline's sentinel errors.
func (o *Orchestrator) SubmitFileChange(path string, content []byte) error {
	o.sess.RecordFile(path)
	return o.pipeline.Submit(path, content, o.sess.Context(), time.Now())
}

// submitFromWatch adapts watcher callbacks to pipeline submissions.
func (o *Orchestrator) submitFromWatch(path string, content []byte, observed time.Time) error {
	o.sess.RecordFile(path)
	return o.pipeline.Submit(path, content, o.sess.Context(), observed)
}

// SubmitCommand injects a typed command, which flows through the same bus
// path as recognized speech but with full confidence.
func (o *Orchestrator) SubmitCommand(text string, args ...string) {
	o.bus.PublishFrom("api", types.EventCommand, types.CommandPayload{
		Text:       text,
		Args:       args,
		Confidence: 1.0,
	})
}

// Suggest runs the mode plugins (and the LLM fallback) for one file on
// demand.
func (o *Orchestrator) Suggest(ctx context.Context, path string, content []byte) []types.CodeSuggestion {
	actx := o.sess.Context()
	issues := o.dispatcher.DispatchAnalyze(ctx, path, string(content), actx)
	return o.dispatcher.DispatchSuggest(ctx, path, string(content), issues, actx)
}

// Status assembles a point-in-time snapshot for display.
func (o *Orchestrator) Status() types.Snapshot {
	return types.Snapshot{
		SessionID:        o.sess.ID,
		CurrentMode:      o.sess.CurrentMode(),
		FeedbackEnabled:  o.pipeline.FeedbackEnabled(),
		VoiceEnabled:     o.voice.Enabled(),
		AnalysisInterval: o.pipeline.Interval(),
		FeedbackCooldown: o.pipeline.Cooldown(),
		QueueDepth:       o.pipeline.QueueDepth(),
		FilesTracked:     o.pipeline.FilesTracked(),
		Speaking:         o.voice.Speaking(),
	}
}

// Session exposes the live session for callers that need mode or history.
func (o *Orchestrator) Session() *session.Session {
	return o.sess
}

// SetFeedbackEnabled toggles proactive feedback emission.
func (o *Orchestrator) SetFeedbackEnabled(on bool) {
	o.pipeline.SetFeedbackEnabled(on)
}

// SetVoiceEnabled toggles speech output. The listener stays on either way.
func (o *Orchestrator) SetVoiceEnabled(on bool) {
	o.voice.SetEnabled(on)
}

// SetCooldown adjusts the per-file feedback cooldown, clamped by the
// pipeline.
func (o *Orchestrator) SetCooldown(d time.Duration) {
	o.pipeline.SetCooldown(d)
}

// onCommand routes one command: explicit toggles first, then mode detection.
// Runs on the publisher's goroutine; everything it calls is non-blocking.
func (o *Orchestrator) onCommand(e types.Event) error {
	cmd, ok := e.Payload.(types.CommandPayload)
	if !ok {
		return fmt.Errorf("orchestrator: bad command payload %T", e.Payload)
	}

	norm := strings.ToLower(strings.TrimSpace(cmd.Text))
	switch {
	case norm == "status":
		o.speakStatus()
		return nil
	case norm == "feedback on":
		o.pipeline.SetFeedbackEnabled(true)
		o.voice.Say("Feedback on.")
		return nil
	case norm == "feedback off":
		o.pipeline.SetFeedbackEnabled(false)
		o.voice.Say("Feedback off.")
		return nil
	case norm == "voice on":
		o.voice.SetEnabled(true)
		o.voice.Say("Voice on.")
		return nil
	case norm == "voice off":
		o.voice.Say("Voice off.")
		o.voice.SetEnabled(false)
		return nil
	case norm == "less feedback":
		d := o.pipeline.TuneCooldown(true)
		o.voice.Say(fmt.Sprintf("Feedback cooldown is now %s.", d))
		return nil
	case norm == "more feedback":
		d := o.pipeline.TuneCooldown(false)
		o.voice.Say(fmt.Sprintf("Feedback cooldown is now %s.", d))
		return nil
	}

	if detected := o.detector.Detect(o.sess, cmd.Text); detected != o.sess.CurrentMode() {
		o.switchMode(detected, cmd.Text)
	}
	return nil
}

// switchMode records the transition, announces it, and persists the session
// so the mode survives a crash.
func (o *Orchestrator) switchMode(to types.Mode, trigger string) {
	from := o.sess.CurrentMode()
	if !o.sess.SetMode(to) {
		return
	}
	logging.Modes("mode %s -> %s (trigger %q)", from, to, trigger)
	o.bus.PublishFrom("orchestrator", types.EventModeChanged, types.ModeChangedPayload{
		From:    from,
		To:      to,
		Trigger: trigger,
	})
	o.voice.Say(fmt.Sprintf("Switching to %s mode.", to))
	o.saveSession()
}

// onFeedback voices coalesced feedback messages.
func (o *Orchestrator) onFeedback(e types.Event) error {
	payload, ok := e.Payload.(types.FeedbackPayload)
	if !ok {
		return fmt.Errorf("orchestrator: bad feedback payload %T", e.Payload)
	}
	o.voice.Say(payload.Message)
	return nil
}

// onVCSActivity logs ref moves. Branch switches change what the user is
// working on, which future mode detection can draw on.
func (o *Orchestrator) onVCSActivity(e types.Event) error {
	logging.Boot("vcs activity: %v", e.Payload)
	return nil
}

func (o *Orchestrator) speakStatus() {
	snap := o.Status()
	o.voice.SayNow(fmt.Sprintf("%s mode, %d files tracked, feedback %s.",
		snap.CurrentMode, snap.FilesTracked, onOff(snap.FeedbackEnabled)))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// saveSession persists the session when a store is configured. Failures are
// logged, never fatal; persistence is best effort.
func (o *Orchestrator) saveSession() {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.store.Save(ctx, o.sess); err != nil {
		logging.Get(logging.CategorySession).Error("session save failed: %v", err)
	}
}

// compositeAnalyzer merges structural parsing with mode-plugin fan-out into
// the single analyzer the pipeline calls. The session is consulted at call
// time so a mid-queue mode switch affects the next analysis, not a stale
// snapshot.
type compositeAnalyzer struct {
	structural analysis.Analyzer
	dispatcher *modes.Dispatcher
	sess       *session.Session
}

func (a *compositeAnalyzer) Analyze(ctx context.Context, filePath string, content []byte) (*types.AnalysisResult, error) {
	result, err := a.structural.Analyze(ctx, filePath, content)
	if err != nil {
		return nil, err
	}
	pluginIssues := a.dispatcher.DispatchAnalyze(ctx, filePath, string(content), a.sess.Context())
	result.Issues = append(result.Issues, pluginIssues...)
	return result, nil
}
