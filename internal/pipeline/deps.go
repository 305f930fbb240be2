package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"dubline/internal/config"
	"dubline/internal/jobs"
	"dubline/internal/media/ffprobe"
	"dubline/internal/notifications"
	"dubline/internal/progress"
	"dubline/internal/servicecache"
	"dubline/internal/timeline"
)

// Media is the external media toolkit surface the stages use.
// *media.Toolkit satisfies it.
type Media interface {
	timeline.Media
	Probe(ctx context.Context, path string) (ffprobe.Result, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
	StripAudio(ctx context.Context, videoPath, outPath string) error
	CutSegment(ctx context.Context, audioPath string, start, end float64, outPath string) error
	TimeStretch(ctx context.Context, inPath string, factor float64, outPath string) error
}

// Publisher copies a finished output somewhere durable and returns its location.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// Deps are the collaborators an Orchestrator needs. Notifier and Publisher
// are optional.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *jobs.Store
	Cache       *servicecache.Cache
	Broadcaster *progress.Broadcaster
	Media       Media
	Notifier    notifications.Service
	Publisher   Publisher
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("pipeline: config is required")
	case d.Store == nil:
		return errors.New("pipeline: job store is required")
	case d.Cache == nil:
		return errors.New("pipeline: service cache is required")
	case d.Broadcaster == nil:
		return errors.New("pipeline: progress broadcaster is required")
	case d.Media == nil:
		return errors.New("pipeline: media toolkit is required")
	}
	return nil
}
