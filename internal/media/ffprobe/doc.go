// Package ffprobe provides a typed view of ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Args builds the ffprobe invocation and Parse decodes its output; running
// the process is left to the caller so tests can substitute a runner.
package ffprobe
