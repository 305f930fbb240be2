package daemon

import (
	"context"
	"path/filepath"
	"time"

	"dubline/internal/jobs"
	"dubline/internal/logging"
	"dubline/internal/staging"
)

// orphanGrace protects directories created for a job that is still being
// admitted when the sweep lists the store.
const orphanGrace = time.Hour

func (d *Daemon) runJanitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	d.sweepStaging(ctx)
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepStaging(ctx)
		}
	}
}

// sweepStaging removes work directories past the retention window, work
// directories and inputs that no job references, and inputs of cancelled
// jobs. Uploaded and processing jobs always keep their directories.
func (d *Daemon) sweepStaging(ctx context.Context) {
	all, err := d.store.List(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "staging sweep skipped", "staging_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale staging directories are kept until the next sweep"),
		)
		return
	}

	known := make(map[string]struct{}, len(all))
	active := make(map[string]struct{})
	inputs := make(map[string]struct{})
	for _, job := range all {
		known[job.ID] = struct{}{}
		if job.Status == jobs.StatusUploaded || job.Status == jobs.StatusProcessing {
			active[job.ID] = struct{}{}
		}
		if job.Status != jobs.StatusCancelled {
			inputs[filepath.Base(filepath.Dir(job.InputPath))] = struct{}{}
		}
	}

	root := d.cfg.Paths.StagingDir
	var removed int
	if hours := d.cfg.Pipeline.WorkRetentionHours; hours > 0 {
		removed += len(staging.CleanStale(ctx, root, time.Duration(hours)*time.Hour, active, d.logger).Removed)
	}
	removed += len(staging.CleanStale(ctx, root, orphanGrace, known, d.logger).Removed)
	removed += len(staging.CleanStale(ctx, filepath.Join(root, staging.InputsDir), orphanGrace, inputs, d.logger).Removed)

	if removed > 0 {
		d.logger.Info("staging sweep complete",
			logging.Int("removed", removed),
			logging.String(logging.FieldEventType, "staging_sweep"),
		)
	}
}
