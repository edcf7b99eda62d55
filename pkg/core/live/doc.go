// Package live implements the intervention conversation pipeline: a staged,
// cancellable spoken exchange that runs for the duration of one coaching
// session.
//
// The pipeline is an explicit state machine. A session moves through
// Greeting, then alternates Listening, Thinking and Speaking until goodbye
// detection or a failure sends it to Closing and finally Closed. Every state
// has a wall-clock budget and every boundary call is retried at most once,
// so a session terminates deterministically even when the transcription,
// generation or synthesis boundary misbehaves.
//
// Utterance endpointing is energy based: frames stream to the transcription
// boundary continuously while EnergyVAD watches perceptual volume, commits
// an utterance after a trailing-silence window, and discards utterances
// whose voiced-frame ratio falls below the confidence threshold. The same
// volume threshold arms barge-in during Speaking: a voiced input frame cuts
// playback immediately and returns the pipeline to Listening, with the
// already-recorded assistant turn kept in full.
package live
