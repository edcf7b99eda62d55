package live

import "strings"

// CloseMarker is the explicit end-of-conversation signal the system prompt
// asks the model to emit once the user has committed to resuming their task.
// It is stripped before the text is spoken or recorded.
const CloseMarker = "[WRAP_UP]"

// StripCloseMarker removes the close marker from assistant text and reports
// whether it was present.
func StripCloseMarker(text string) (string, bool) {
	if !strings.Contains(text, CloseMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, CloseMarker, "")), true
}

// farewellPhrases are lexical cues that the assistant is ending the
// conversation, used as a fallback when the model forgets the marker.
var farewellPhrases = []string{
	"goodbye",
	"good luck",
	"talk to you later",
	"back to work",
	"back to it",
	"you've got this",
	"you got this",
	"happy coding",
}

// IsFarewell classifies assistant text as a conversation-ending line.
func IsFarewell(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range farewellPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
