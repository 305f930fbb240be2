// Package media wraps the ffmpeg and ffprobe invocations the pipeline needs:
// audio extraction, video stripping, segment cuts, time-stretching, timeline
// rendering, background mixing, and final muxing.
//
// Every call runs an external process with explicit input and output paths; a
// non-zero exit is a failure. Process execution goes through a CommandRunner
// so tests can capture arguments without ffmpeg installed.
package media
