package ffprobe

import "testing"

func TestParseAndHelpers(t *testing.T) {
	payload := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
			{"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2, "duration": "61.2"}
		],
		"format": {"filename": "in.mp4", "duration": "61.25", "size": "1000", "format_name": "mov,mp4"}
	}`)
	result, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 1 {
		t.Fatalf("unexpected stream counts: %+v", result.Streams)
	}
	if result.DurationSeconds() != 61.25 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{{Duration: "bad"}, {Duration: "3.5"}, {Duration: "2"}},
		Format:  Format{Duration: "", Size: "-1"},
	}
	if result.DurationSeconds() != 3.5 {
		t.Fatalf("expected stream fallback 3.5, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
}

func TestArgsRejectsEmptyPath(t *testing.T) {
	if _, err := Args("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
	args, err := Args("clip.wav")
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	if args[len(args)-1] != "clip.wav" || args[len(args)-2] != "--" {
		t.Fatalf("unexpected args %v", args)
	}
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
