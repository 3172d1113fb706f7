// Package feedback turns aggregated analysis issues into one ordered,
// bounded, human-readable message suitable for both display and speech.
package feedback

import (
	"fmt"
	"path/filepath"
	"strings"

	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// Coalescer builds at most one message per analysis pass. It is stateless;
// cooldown gating happens upstream in the pipeline.
type Coalescer struct{}

// NewCoalescer returns a Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

// Coalesce returns a single message summarizing the issues for a file, or
// ("", false) when the severity counts sum to zero and no feedback is
// warranted.
//
// The message lists one clause per non-zero severity in fixed order (error,
// warning, info), then appends at most one detail line: the first
// error-severity issue if any exist, else the first warning-severity issue,
// else nothing. This bounds message length and downstream TTS latency
// regardless of how many issues analysis produced.
func (c *Coalescer) Coalesce(filePath string, counts types.SeverityCounts, issues []types.CodeIssue) (string, bool) {
	if counts.Total() == 0 {
		return "", false
	}

	var clauses []string
	if counts.Errors > 0 {
		clauses = append(clauses, plural(counts.Errors, "error"))
	}
	if counts.Warnings > 0 {
		clauses = append(clauses, plural(counts.Warnings, "warning"))
	}
	if counts.Infos > 0 {
		clauses = append(clauses, plural(counts.Infos, "note"))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s has %s.", filepath.Base(filePath), strings.Join(clauses, ", "))

	if detail, ok := firstDetail(issues); ok {
		fmt.Fprintf(&sb, " Line %d: %s.", detail.Line, strings.TrimRight(detail.Message, "."))
	}

	msg := sb.String()
	logging.Feedback("coalesced file=%s errors=%d warnings=%d infos=%d len=%d",
		filePath, counts.Errors, counts.Warnings, counts.Infos, len(msg))
	return msg, true
}

// firstDetail picks the single issue worth reading out: the first error if
// any exist, else the first warning, else none.
func firstDetail(issues []types.CodeIssue) (types.CodeIssue, bool) {
	for _, iss := range issues {
		if iss.Severity == types.SeverityError {
			return iss, true
		}
	}
	for _, iss := range issues {
		if iss.Severity == types.SeverityWarning {
			return iss, true
		}
	}
	return types.CodeIssue{}, false
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
