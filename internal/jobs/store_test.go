package jobs_test

import (
	"context"
	"errors"
	"testing"

	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/services"
	"dubline/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	volume := 0.5
	job, err := store.Create(ctx, jobs.Config{SourceLanguage: "en", TargetLanguage: "es", BackgroundVolume: &volume}, "/videos/in.mp4")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.ID == "" || job.Status != jobs.StatusUploaded || job.RunCount != 0 {
		t.Fatalf("unexpected new job %#v", job)
	}
	if job.Config.TargetLanguage != "es" || job.Config.BackgroundVolume == nil || *job.Config.BackgroundVolume != 0.5 {
		t.Fatalf("config not persisted: %#v", job.Config)
	}
	if job.ErrorRecord != services.NoRecord {
		t.Fatalf("expected no error record, got %d", job.ErrorRecord)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown job, got %#v, %v", missing, err)
	}
	if _, err := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, " "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job, err := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, "/videos/in.mp4")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.BeginRun(ctx, job.ID, jobs.ModeUpdate); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("update of uploaded job should fail, got %v", err)
	}
	running, err := store.BeginRun(ctx, job.ID, jobs.ModeFull)
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if running.Status != jobs.StatusProcessing || running.RunCount != 1 || running.Mode != jobs.ModeFull {
		t.Fatalf("unexpected running job %#v", running)
	}
	if _, err := store.BeginRun(ctx, job.ID, jobs.ModeFull); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("second BeginRun should fail, got %v", err)
	}

	if err := store.UpdateProgress(ctx, job.ID, "separation", 12.5); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, job.ID, "separation", 10); !errors.Is(err, jobs.ErrProgressRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	if err := store.Complete(ctx, job.ID, "/out/dubbed.mp4"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	done, _ := store.Get(ctx, job.ID)
	if done.Status != jobs.StatusCompleted || done.ProgressPercent != 100 || done.CompletedAt == nil || done.OutputPath != "/out/dubbed.mp4" {
		t.Fatalf("unexpected completed job %#v", done)
	}
	if err := store.Cancel(ctx, job.ID, "late"); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("completed job must not cancel, got %v", err)
	}

	again, err := store.BeginRun(ctx, job.ID, jobs.ModeUpdate)
	if err != nil {
		t.Fatalf("update BeginRun failed: %v", err)
	}
	if again.RunCount != 2 || again.ProgressPercent != 0 || again.Mode != jobs.ModeUpdate {
		t.Fatalf("expected reset progress for run 2, got %#v", again)
	}
	if err := store.UpdateProgress(ctx, job.ID, "synthesis", 5); err != nil {
		t.Fatalf("progress in a new run should restart from zero: %v", err)
	}
}

func TestFailRecordsStageAndRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job, _ := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, "/videos/in.mp4")
	if _, err := store.BeginRun(ctx, job.ID, jobs.ModeFull); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := store.Fail(ctx, job.ID, "synthesis", 7, "engine timeout"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	failed, _ := store.Get(ctx, job.ID)
	if failed.ErrorStage != "synthesis" || failed.ErrorRecord != 7 || failed.ErrorMessage != "engine timeout" {
		t.Fatalf("unexpected failure fields %#v", failed)
	}
	if got := failed.Failure(); got != "synthesis (record 7): engine timeout" {
		t.Fatalf("unexpected failure summary %q", got)
	}

	if _, err := store.BeginRun(ctx, job.ID, jobs.ModeUpdate); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("failed job without ledger must not update, got %v", err)
	}
	if err := store.SaveLedger(ctx, job.ID, ledger.New()); err != nil {
		t.Fatalf("SaveLedger failed: %v", err)
	}
	if _, err := store.BeginRun(ctx, job.ID, jobs.ModeUpdate); err != nil {
		t.Fatalf("failed job with ledger should update, got %v", err)
	}
}

func TestTransitionsOnUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.BeginRun(ctx, "missing", jobs.ModeFull); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Cancel(ctx, "missing", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.SaveLedger(ctx, "missing", ledger.New()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for ledger save, got %v", err)
	}
}

func TestRecoverInterruptedFailsProcessingJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	running, _ := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, "/videos/a.mp4")
	queued, _ := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, "/videos/b.mp4")
	if _, err := store.BeginRun(ctx, running.ID, jobs.ModeFull); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, running.ID, "transcription", 40); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	n, err := store.RecoverInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RecoverInterrupted = %d, %v", n, err)
	}
	recovered, _ := store.Get(ctx, running.ID)
	if recovered.Status != jobs.StatusFailed || recovered.ErrorMessage != jobs.RestartReason || recovered.ErrorStage != "transcription" {
		t.Fatalf("unexpected recovered job %#v", recovered)
	}
	untouched, _ := store.Get(ctx, queued.ID)
	if untouched.Status != jobs.StatusUploaded {
		t.Fatalf("uploaded job should be untouched, got %s", untouched.Status)
	}

	uploaded, err := store.List(ctx, jobs.StatusUploaded)
	if err != nil || len(uploaded) != 1 || uploaded[0].ID != queued.ID {
		t.Fatalf("List(uploaded) = %v, %v", uploaded, err)
	}
	stats, err := store.Stats(ctx)
	if err != nil || stats[jobs.StatusFailed] != 1 || stats[jobs.StatusUploaded] != 1 {
		t.Fatalf("Stats = %v, %v", stats, err)
	}
}

func TestLedgerSnapshotAndRemoveCascade(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job, _ := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, "/videos/in.mp4")

	if l, err := store.LoadLedger(ctx, job.ID); err != nil || l != nil {
		t.Fatalf("expected no ledger yet, got %v, %v", l, err)
	}
	l := ledger.New()
	if _, err := l.Append(ledger.Record{Start: 0, End: 1, SpeakerID: "SPEAKER_00", TranslatedText: "hola", IncludeInOutput: true}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.SaveLedger(ctx, job.ID, l); err != nil {
		t.Fatalf("SaveLedger failed: %v", err)
	}
	if _, err := l.Append(ledger.Record{Start: 2, End: 3, SpeakerID: "SPEAKER_01"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.SaveLedger(ctx, job.ID, l); err != nil {
		t.Fatalf("second SaveLedger failed: %v", err)
	}
	loaded, err := store.LoadLedger(ctx, job.ID)
	if err != nil || loaded.Len() != 2 {
		t.Fatalf("LoadLedger = %v, %v", loaded, err)
	}

	removed, err := store.Remove(ctx, job.ID)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if l, err := store.LoadLedger(ctx, job.ID); err != nil || l != nil {
		t.Fatalf("expected ledger removed with job, got %v, %v", l, err)
	}
}

func TestRemoveRefusesProcessingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job, _ := store.Create(ctx, jobs.Config{TargetLanguage: "es"}, "/videos/in.mp4")
	if _, err := store.BeginRun(ctx, job.ID, jobs.ModeFull); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	removed, err := store.Remove(ctx, job.ID)
	if err != nil || removed {
		t.Fatalf("expected processing job kept, got %v, %v", removed, err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to jobs.Status
		mode     jobs.Mode
		want     bool
	}{
		{jobs.StatusUploaded, jobs.StatusProcessing, jobs.ModeFull, true},
		{jobs.StatusCompleted, jobs.StatusProcessing, jobs.ModeFull, false},
		{jobs.StatusCompleted, jobs.StatusProcessing, jobs.ModeUpdate, true},
		{jobs.StatusProcessing, jobs.StatusCompleted, jobs.ModeFull, true},
		{jobs.StatusCancelled, jobs.StatusProcessing, jobs.ModeUpdate, false},
		{jobs.StatusUploaded, jobs.StatusCancelled, jobs.ModeFull, true},
		{jobs.StatusCompleted, jobs.StatusCancelled, jobs.ModeFull, false},
	}
	for _, tc := range cases {
		if got := jobs.CanTransition(tc.from, tc.to, tc.mode); got != tc.want {
			t.Fatalf("CanTransition(%s, %s, %s) = %v, want %v", tc.from, tc.to, tc.mode, got, tc.want)
		}
	}
}
