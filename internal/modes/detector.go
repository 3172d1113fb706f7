package modes

import (
	"regexp"
	"strings"

	"omnidev/internal/logging"
	"omnidev/internal/session"
	"omnidev/internal/types"
)

// testFileMajority is the observed-test-file ratio above which the detector
// infers tester mode when the command text gives no signal.
const testFileMajority = 0.5

// modeKeywords maps each mode to the fixed keyword set that selects it.
// Checked in the order of detectionOrder; first match wins.
var modeKeywords = map[types.Mode][]string{
	types.ModeArchitect: {
		"architecture", "architect", "design", "structure", "pattern",
		"coupling", "dependency", "module", "layering",
	},
	types.ModeReviewer: {
		"review", "quality", "audit", "lint", "security", "style", "readability",
	},
	types.ModeTester: {
		"test", "tests", "testing", "coverage", "assert", "regression", "mock",
	},
	types.ModeDeveloper: {
		"implement", "build", "write", "code", "fix", "feature", "debug", "bug",
	},
}

// detectionOrder fixes the keyword precedence so overlapping commands
// ("review the test design") resolve deterministically.
var detectionOrder = []types.Mode{
	types.ModeArchitect,
	types.ModeReviewer,
	types.ModeTester,
	types.ModeDeveloper,
}

var wordSplit = regexp.MustCompile(`[^a-z0-9_]+`)

// Detector selects the active behavioral mode from command text and session
// context. It is stateless; the session owns the current mode.
type Detector struct{}

// NewDetector returns a Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns the mode implied by the command text, falling back to the
// session's file-type ratios, falling back to the current mode unchanged.
func (d *Detector) Detect(sess *session.Session, commandText string) types.Mode {
	current := sess.CurrentMode()

	if mode, ok := d.matchKeywords(commandText); ok {
		logging.ModesDebug("detect: keyword match %q -> %s", commandText, mode)
		return mode
	}

	if ratio := sess.TestFileRatio(); ratio > testFileMajority {
		logging.ModesDebug("detect: test-file ratio %.2f -> %s", ratio, types.ModeTester)
		return types.ModeTester
	}

	logging.ModesDebug("detect: no signal, staying in %s", current)
	return current
}

// matchKeywords checks the command's words against each mode's keyword set.
func (d *Detector) matchKeywords(commandText string) (types.Mode, bool) {
	words := make(map[string]bool)
	for _, w := range wordSplit.Split(strings.ToLower(commandText), -1) {
		if w != "" {
			words[w] = true
		}
	}
	if len(words) == 0 {
		return "", false
	}

	for _, mode := range detectionOrder {
		for _, kw := range modeKeywords[mode] {
			if words[kw] {
				return mode, true
			}
		}
	}
	return "", false
}
