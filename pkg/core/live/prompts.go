package live

import (
	"fmt"

	"github.com/sherpa-ai/sherpa/pkg/core/types"
)

// OpeningLine is the scripted greeting played when a session starts, before
// any user input.
const OpeningLine = "Hey! I noticed you might be off track. What are you working on right now?"

// apologyLine is spoken when a boundary fails twice and the session has to
// end early.
const apologyLine = "Sorry, I'm having trouble hearing you right now. Let's pick this up later - good luck with your work!"

// fallbackFarewell closes the session when no goodbye line came from the
// model itself.
const fallbackFarewell = "Alright, I'll let you get back to it. Good luck!"

// BuildInterventionContext summarizes why the session started, from the last
// verdict and the accumulated distraction count.
func BuildInterventionContext(task string, verdict *types.Verdict, count int) string {
	if verdict == nil {
		return "User seems distracted."
	}
	return fmt.Sprintf(`The user said they're working on: %q

However, I detected they're currently: %s

App/Website: %s
This has happened %d times recently.

Your role: Gently ask them about what they're doing, be curious not judgmental.`,
		task, verdict.Activity, verdict.PrimaryContext, count)
}

// BuildSystemPrompt builds the system instruction for the conversation.
func BuildSystemPrompt(interventionContext string) string {
	return fmt.Sprintf(`You are Sherpa, a warm and supportive productivity coach speaking via voice.

%s

Your personality:
- Speak conversationally and naturally (use contractions, casual language)
- Be genuinely curious, not accusatory or judgmental
- Keep responses SHORT (1-2 sentences max) - this is a voice conversation
- Use the person's responses to help them reflect
- Acknowledge when they have good reasons for what they're doing
- Suggest getting back on track gently if appropriate
- Be encouraging and supportive

Example approaches:
- "Hey! I noticed you're on [activity]. What's up with that?"
- "Interesting - how does [activity] connect to [task]?"
- "Taking a quick break? That's totally fine!"
- "I hear you. Want to get back to [task], or is there something blocking you?"

Remember: Keep it SHORT. Voice conversations should feel natural, not like reading an essay.

When the user commits to getting back to their task, say a short encouraging
goodbye and append the exact token %s to the end of your reply.`,
		interventionContext, CloseMarker)
}
