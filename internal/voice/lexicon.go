package voice

import "strings"

// Action is a speaker control recognized from speech. ActionNone means the
// utterance is not a speaker control and should flow onward as a command.
type Action int

const (
	ActionNone Action = iota
	ActionStop
	ActionLouder
	ActionQuieter
	ActionFaster
	ActionSlower
	ActionRepeat
)

// interruptLexicon maps normalized phrases to speaker actions. Matching is
// whole-phrase within the utterance, longest phrase first, so "volume up"
// wins over any shorter overlap.
var interruptLexicon = []struct {
	phrase string
	action Action
}{
	{"shut up", ActionStop},
	{"be quiet", ActionStop},
	{"stop talking", ActionStop},
	{"stop", ActionStop},
	{"silence", ActionStop},
	{"quiet", ActionStop},
	{"pause", ActionStop},
	{"enough", ActionStop},
	{"volume up", ActionLouder},
	{"speak up", ActionLouder},
	{"louder", ActionLouder},
	{"volume down", ActionQuieter},
	{"quieter", ActionQuieter},
	{"softer", ActionQuieter},
	{"speed up", ActionFaster},
	{"faster", ActionFaster},
	{"slow down", ActionSlower},
	{"slower", ActionSlower},
	{"say that again", ActionRepeat},
	{"say again", ActionRepeat},
	{"repeat", ActionRepeat},
}

// ClassifyInterrupt checks whether the recognized text is a speaker control.
// Text is normalized to lowercase with surrounding punctuation stripped
// before matching. Controls are short imperatives; anything longer than a few
// words is treated as a regular command even if it contains a control word.
func ClassifyInterrupt(text string) Action {
	norm := normalize(text)
	if norm == "" {
		return ActionNone
	}
	if len(strings.Fields(norm)) > 4 {
		return ActionNone
	}
	for _, entry := range interruptLexicon {
		if containsPhrase(norm, entry.phrase) {
			return entry.action
		}
	}
	return ActionNone
}

func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether phrase occurs in norm on word boundaries.
func containsPhrase(norm, phrase string) bool {
	if norm == phrase {
		return true
	}
	if strings.HasPrefix(norm, phrase+" ") || strings.HasSuffix(norm, " "+phrase) {
		return true
	}
	return strings.Contains(norm, " "+phrase+" ")
}
