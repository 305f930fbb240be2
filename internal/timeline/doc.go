// Package timeline turns synthesized utterance clips back into one continuous
// dubbed track.
//
// Placement is computed as pure data (Plan) so overlap handling and speed
// synchronization can be reasoned about without running ffmpeg; the Assembler
// hands the plan to a Media implementation for rendering, mixing, and muxing.
package timeline
