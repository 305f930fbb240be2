package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dubline/internal/config"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/pipeline"
	"dubline/internal/services"
	"dubline/internal/testsupport"
	"dubline/internal/workflow"
)

type fakeRunner struct {
	mu        sync.Mutex
	started   []string
	inFlight  int
	maxFlight int
	abandoned []string
	updates   map[string][]ledger.Edit
	causes    map[string]error

	release chan struct{}
	startCh chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		release: make(chan struct{}),
		startCh: make(chan string, 32),
		updates: map[string][]ledger.Edit{},
		causes:  map[string]error{},
	}
}

func (r *fakeRunner) block(ctx context.Context, jobID string) error {
	r.mu.Lock()
	r.started = append(r.started, jobID)
	r.inFlight++
	r.maxFlight = max(r.maxFlight, r.inFlight)
	r.mu.Unlock()
	r.startCh <- jobID

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		cause := context.Cause(ctx)
		r.mu.Lock()
		r.causes[jobID] = cause
		r.mu.Unlock()
		return cause
	}
}

func (r *fakeRunner) Run(ctx context.Context, jobID string) error { return r.block(ctx, jobID) }

func (r *fakeRunner) Update(ctx context.Context, jobID string, edits []ledger.Edit) error {
	r.mu.Lock()
	r.updates[jobID] = edits
	r.mu.Unlock()
	return r.block(ctx, jobID)
}

func (r *fakeRunner) Abandon(_ context.Context, jobID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = append(r.abandoned, jobID)
	return nil
}

func (r *fakeRunner) cause(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.causes[jobID]
}

func waitStarted(t *testing.T, r *fakeRunner) string {
	t.Helper()
	select {
	case id := <-r.startCh:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a job to start")
		return ""
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func setup(t *testing.T, workers int) (*workflow.Manager, *fakeRunner, *jobs.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithPipeline(func(p *config.Pipeline) {
		p.MaxConcurrentJobs = workers
		p.QueueCapacity = 3
	}))
	store := testsupport.MustOpenStore(t, cfg)
	runner := newFakeRunner()
	mgr := workflow.NewManager(cfg, store, runner, nil)
	return mgr, runner, store, cfg
}

func createJobs(t *testing.T, store *jobs.Store, cfg *config.Config, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = testsupport.NewJob(t, store, cfg, jobs.Config{TargetLanguage: "es"}).ID
	}
	return ids
}

func TestJobsRunInSubmissionOrder(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	ids := createJobs(t, store, cfg, 3)
	for _, id := range ids {
		if err := mgr.Submit(context.Background(), id); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	for i := range ids {
		if got := waitStarted(t, runner); got != ids[i] {
			t.Fatalf("job %d: expected %s, got %s", i, ids[i], got)
		}
		runner.release <- struct{}{}
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 2)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	ids := createJobs(t, store, cfg, 4)
	for _, id := range ids {
		if err := mgr.Submit(context.Background(), id); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	waitStarted(t, runner)
	waitStarted(t, runner)
	status := mgr.Status(context.Background())
	if len(status.Active) != 2 || len(status.Queued) != 2 {
		t.Fatalf("expected 2 active and 2 queued, got %+v", status)
	}
	if pos := mgr.QueuePosition(ids[3]); pos != 2 {
		t.Fatalf("expected last job at position 2, got %d", pos)
	}
	close(runner.release)
	waitFor(t, func() bool { return mgr.Status(context.Background()).Finished == 4 })

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.maxFlight != 2 {
		t.Fatalf("expected at most 2 concurrent runs, got %d", runner.maxFlight)
	}
}

func TestSubmitRejectsBusyAndFullQueue(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	ids := createJobs(t, store, cfg, 5)
	if err := mgr.Submit(context.Background(), ids[0]); !errors.Is(err, workflow.ErrNotRunning) {
		t.Fatalf("expected not running, got %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(runner.release)
		mgr.Stop()
	}()

	if err := mgr.Submit(context.Background(), ids[0]); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStarted(t, runner)
	if err := mgr.Submit(context.Background(), ids[0]); !errors.Is(err, workflow.ErrJobBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	for _, id := range ids[1:4] {
		if err := mgr.Submit(context.Background(), id); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	if err := mgr.Submit(context.Background(), ids[4]); !errors.Is(err, workflow.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if err := mgr.Submit(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelRunningJobUsesCancelledCause(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	id := createJobs(t, store, cfg, 1)[0]
	if err := mgr.Submit(context.Background(), id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStarted(t, runner)
	if err := mgr.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, func() bool { return runner.cause(id) != nil })
	if cause := runner.cause(id); !errors.Is(cause, services.ErrCancelled) {
		t.Fatalf("expected cancelled cause, got %v", cause)
	}
}

func TestCancelQueuedJobs(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(runner.release)
		mgr.Stop()
	}()

	ids := createJobs(t, store, cfg, 2)
	if err := mgr.Submit(context.Background(), ids[0]); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStarted(t, runner)
	if err := mgr.Submit(context.Background(), ids[1]); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := mgr.Cancel(context.Background(), ids[1]); err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	runner.mu.Lock()
	abandoned := append([]string(nil), runner.abandoned...)
	runner.mu.Unlock()
	if len(abandoned) != 1 || abandoned[0] != ids[1] {
		t.Fatalf("expected queued job abandoned, got %v", abandoned)
	}
	if pos := mgr.QueuePosition(ids[1]); pos != -1 {
		t.Fatalf("cancelled job still queued at %d", pos)
	}
}

func TestStopInterruptsWithShutdownCause(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := createJobs(t, store, cfg, 1)[0]
	if err := mgr.Submit(context.Background(), id); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStarted(t, runner)
	mgr.Stop()
	if cause := runner.cause(id); !errors.Is(cause, pipeline.ErrShutdown) {
		t.Fatalf("expected shutdown cause, got %v", cause)
	}
	if status := mgr.Status(context.Background()); status.Running {
		t.Fatal("expected manager stopped")
	}
}

func TestStartRecoversInterruptedAndRequeuesUploaded(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	ctx := context.Background()
	ids := createJobs(t, store, cfg, 2)
	if _, err := store.BeginRun(ctx, ids[0], jobs.ModeFull); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(runner.release)
		mgr.Stop()
	}()

	if got := waitStarted(t, runner); got != ids[1] {
		t.Fatalf("expected uploaded job re-queued, got %s", got)
	}
	interrupted, _ := store.Get(ctx, ids[0])
	if interrupted.Status != jobs.StatusFailed || interrupted.ErrorMessage != jobs.RestartReason {
		t.Fatalf("unexpected interrupted job %+v", interrupted)
	}
}

func TestSubmitUpdateValidatesBeforeQueueing(t *testing.T) {
	mgr, runner, store, cfg := setup(t, 1)
	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(runner.release)
		mgr.Stop()
	}()

	id := createJobs(t, store, cfg, 1)[0]
	if err := mgr.SubmitUpdate(ctx, id, nil); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("uploaded job must not accept updates, got %v", err)
	}

	if _, err := store.BeginRun(ctx, id, jobs.ModeFull); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := store.Complete(ctx, id, "/out/x.mp4"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := mgr.SubmitUpdate(ctx, id, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without ledger, got %v", err)
	}

	l := ledger.New()
	if _, err := l.Append(ledger.Record{Start: 0, End: 1, SpeakerID: "A", TranslatedText: "hola", AssignedVoice: "v", IncludeInOutput: true}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.SaveLedger(ctx, id, l); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}
	dup := ledger.EditsFrom(l.All())
	dup = append(dup, dup[0])
	if err := mgr.SubmitUpdate(ctx, id, dup); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate edits rejected, got %v", err)
	}

	edits := ledger.EditsFrom(l.All())
	edits[0].TranslatedText = "adios"
	if err := mgr.SubmitUpdate(ctx, id, edits); err != nil {
		t.Fatalf("SubmitUpdate: %v", err)
	}
	waitStarted(t, runner)
	runner.mu.Lock()
	got := runner.updates[id]
	runner.mu.Unlock()
	if len(got) != 1 || got[0].TranslatedText != "adios" {
		t.Fatalf("unexpected edits delivered %+v", got)
	}
}
