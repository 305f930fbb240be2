// Package whisperx runs WhisperX through uvx for transcription, language
// detection, and speaker diarization.
//
// Each call writes WhisperX JSON into a scratch directory next to the input
// and parses it; the scratch directory is removed afterwards. The Service is
// stateless between calls, so one instance is shared through the service
// cache per (model, device, options) key.
package whisperx
