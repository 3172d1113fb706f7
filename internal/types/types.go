// Package types provides shared type definitions used across omnidev packages.
// This package exists to break import cycles between the bus, pipeline, modes,
// and voice subsystems. Types in this package should be foundational value
// objects with no complex dependencies.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType identifies a class of event on the bus.
type EventType string

const (
	EventFileChanged      EventType = "file_changed"      // A watched source file was modified
	EventAnalysisComplete EventType = "analysis_complete" // The pipeline finished analyzing a file
	EventFeedback         EventType = "feedback"          // A coalesced feedback message is ready
	EventCommand          EventType = "command"           // User command (typed or recognized speech)
	EventModeChanged      EventType = "mode_changed"      // The session switched behavioral mode
	EventVCSActivity      EventType = "vcs_activity"      // Version-control activity in the workspace
)

// EventPriority hints at urgency for consumers that care. The bus itself
// delivers in publish order regardless of priority.
type EventPriority int

const (
	EventPriorityNormal EventPriority = iota
	EventPriorityHigh
)

// Event is a single immutable notification delivered through the bus.
// An Event exists only for the duration of a publish fan-out; handlers must
// not retain references to mutable payloads.
type Event struct {
	Type      EventType
	Payload   interface{}
	Source    string
	Timestamp time.Time
	Priority  EventPriority
}

// =============================================================================
// ANALYSIS VALUE OBJECTS
// =============================================================================

// Severity classifies a CodeIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// CodeIssue is a single problem found by analysis. Never mutated after
// creation.
type CodeIssue struct {
	Line     int
	Column   int
	Code     string // Rule identifier, e.g. "syntax", "long-line", "todo"
	Message  string
	Severity Severity
}

// CodeSuggestion is a single improvement proposal produced by a mode plugin
// or the LLM fallback. Never mutated after creation.
type CodeSuggestion struct {
	LineStart   int
	LineEnd     int
	Kind        string // refactor, test, docs, design, performance, ...
	Description string
	Confidence  float64
}

// SeverityCounts aggregates issues per severity for feedback gating.
type SeverityCounts struct {
	Errors   int
	Warnings int
	Infos    int
}

// Total returns the sum across all severities.
func (c SeverityCounts) Total() int {
	return c.Errors + c.Warnings + c.Infos
}

// CountSeverities tallies issues into a SeverityCounts.
func CountSeverities(issues []CodeIssue) SeverityCounts {
	var c SeverityCounts
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityError:
			c.Errors++
		case SeverityWarning:
			c.Warnings++
		default:
			c.Infos++
		}
	}
	return c
}

// AnalysisResult is what the analysis collaborator returns for one file
// version.
type AnalysisResult struct {
	FilePath string
	Issues   []CodeIssue
}

// =============================================================================
// MODES
// =============================================================================

// Mode names a behavioral variant of the assistant. Exactly one mode is
// current per session at any instant.
type Mode string

const (
	ModeDeveloper Mode = "developer"
	ModeArchitect Mode = "architect"
	ModeReviewer  Mode = "reviewer"
	ModeTester    Mode = "tester"
)

// KnownModes lists every built-in mode in registration order.
func KnownModes() []Mode {
	return []Mode{ModeDeveloper, ModeArchitect, ModeReviewer, ModeTester}
}

// ParseMode maps a user-facing name to a Mode, or false if unknown.
func ParseMode(name string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeDeveloper:
		return ModeDeveloper, true
	case ModeArchitect:
		return ModeArchitect, true
	case ModeReviewer:
		return ModeReviewer, true
	case ModeTester:
		return ModeTester, true
	}
	return "", false
}

// AssistContext is the explicit context object passed into every plugin and
// worker call. There are no process-wide globals; everything a plugin may
// consult travels in here.
type AssistContext struct {
	SessionID   string
	ProjectRoot string
	CurrentMode Mode
}

// =============================================================================
// STATUS
// =============================================================================

// Snapshot is a point-in-time view of orchestrator state for status display.
// Produced through guarded accessors; safe to hand to presentation layers.
type Snapshot struct {
	SessionID        string
	CurrentMode      Mode
	FeedbackEnabled  bool
	VoiceEnabled     bool
	AnalysisInterval time.Duration
	FeedbackCooldown time.Duration
	QueueDepth       int
	FilesTracked     int
	Speaking         bool
}

// CommandPayload carries a user command through the bus.
type CommandPayload struct {
	Text       string
	Args       []string
	Confidence float64 // 1.0 for typed commands, recognizer confidence for speech
}

// FeedbackPayload carries a coalesced feedback message through the bus.
type FeedbackPayload struct {
	FilePath string
	Message  string
	Counts   SeverityCounts
}

// ModeChangedPayload announces a session mode transition.
type ModeChangedPayload struct {
	From    Mode
	To      Mode
	Trigger string // The command text that caused the switch
}

// AnalysisCompletePayload announces a finished analysis pass.
type AnalysisCompletePayload struct {
	FilePath string
	Issues   []CodeIssue
	Counts   SeverityCounts
	Duration time.Duration
}
