package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dubline/internal/api"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/progress"
	"dubline/internal/services"
	"dubline/internal/workflow"
)

func newTestAPI(t *testing.T, d *Daemon, token string) *api.Client {
	t.Helper()
	srv := httptest.NewServer(d.api.routes(token))
	t.Cleanup(srv.Close)
	client, err := api.NewClient(srv.URL, token)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestAPISubmitListAndGet(t *testing.T) {
	d, runner := newTestDaemon(t)
	startDaemon(t, d)
	t.Cleanup(func() { close(runner.release) })
	client := newTestAPI(t, d, "")

	job, err := client.Submit(context.Background(), api.SubmitRequest{
		Input:  writeInput(t, d, "clip.mp4"),
		Config: jobs.Config{TargetLanguage: "de"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID == "" || job.TargetName != "German" {
		t.Fatalf("unexpected submitted job %+v", job)
	}
	waitStarted(t, runner)

	got, err := client.Job(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if got.Status != string(jobs.StatusProcessing) || got.QueuePosition != 0 {
		t.Fatalf("expected running job, got %+v", got)
	}

	list, err := client.Jobs(context.Background(), string(jobs.StatusProcessing))
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(list) != 1 || list[0].ID != job.ID {
		t.Fatalf("unexpected job list %+v", list)
	}
	if _, err := client.Jobs(context.Background(), "exploded"); api.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %v", err)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	d, _ := newTestDaemon(t)
	client := newTestAPI(t, d, "")

	_, err := client.Job(context.Background(), "missing")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Kind != "not_found" {
		t.Fatalf("expected not found, got %v", err)
	}
	if apiErr.RequestID == "" {
		t.Fatal("expected request id in error body")
	}

	// The daemon is not started, so the scheduler refuses work.
	_, err = client.Submit(context.Background(), api.SubmitRequest{
		Input:  writeInput(t, d, "clip.mp4"),
		Config: jobs.Config{TargetLanguage: "es"},
	})
	if api.StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from stopped workflow, got %v", err)
	}

	_, err = client.Submit(context.Background(), api.SubmitRequest{Config: jobs.Config{TargetLanguage: "es"}})
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Kind != "validation" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestErrorStatusTable(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{workflow.ErrJobBusy, http.StatusConflict},
		{jobs.ErrInvalidTransition, http.StatusConflict},
		{workflow.ErrQueueFull, http.StatusTooManyRequests},
		{workflow.ErrNotRunning, http.StatusServiceUnavailable},
		{services.Wrap(services.ErrValidation, "", "decode", "", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrCollaborator, "", "fetch", "", errors.New("timeout")), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := errorStatus(tc.err); got != tc.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestAPIRequiresToken(t *testing.T) {
	d, _ := newTestDaemon(t)
	srv := httptest.NewServer(d.api.routes("secret"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header on rejected request")
	}

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics without auth, got %d", metricsResp.StatusCode)
	}

	client, _ := api.NewClient(srv.URL, "secret")
	if _, err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status with token: %v", err)
	}
}

func TestAPILedgerRoundTrip(t *testing.T) {
	d, runner := newTestDaemon(t)
	startDaemon(t, d)
	close(runner.release)
	client := newTestAPI(t, d, "")

	job, err := client.Submit(context.Background(), api.SubmitRequest{
		Input:  writeInput(t, d, "clip.mp4"),
		Config: jobs.Config{TargetLanguage: "es"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStatus(t, d, job.ID, jobs.StatusCompleted)
	waitIdle(t, d)

	l := ledger.New()
	for i := 0; i < 2; i++ {
		start := float64(i * 3)
		if _, err := l.Append(ledger.Record{Start: start, End: start + 2, SpeakerID: "SPEAKER_00", SourceText: "hello", TranslatedText: "hola", AssignedVoice: "v1", IncludeInOutput: true}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := d.store.SaveLedger(context.Background(), job.ID, l); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}

	raw, err := client.Ledger(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}
	edits, err := ledger.ParseEdits(raw)
	if err != nil {
		t.Fatalf("ParseEdits: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 records, got %d", len(edits))
	}

	edits[1].TranslatedText = "adios"
	doc, err := ledger.MarshalEditsYAML(edits)
	if err != nil {
		t.Fatalf("MarshalEditsYAML: %v", err)
	}
	updated, err := client.ApplyLedger(context.Background(), job.ID, doc, "application/yaml")
	if err != nil {
		t.Fatalf("ApplyLedger: %v", err)
	}
	if updated.ID != job.ID {
		t.Fatalf("unexpected job %+v", updated)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(runner.edits(job.ID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("update run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := client.ApplyLedger(context.Background(), job.ID, []byte("just a string"), "application/yaml"); api.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed edits, got %v", err)
	}
}

func TestAPILedgerYAMLExport(t *testing.T) {
	d, _ := newTestDaemon(t)
	job := newLedgerJob(t, d)
	srv := httptest.NewServer(d.api.routes(""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs/" + job.ID + "/ledger?format=yaml")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "yaml") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	edits, err := ledger.ParseEdits(body.Bytes())
	if err != nil || len(edits) != 1 || edits[0].TranslatedText != "hola" {
		t.Fatalf("unexpected yaml export %q: %v", body.String(), err)
	}
}

func newLedgerJob(t *testing.T, d *Daemon) *jobs.Job {
	t.Helper()
	job, err := d.store.Create(context.Background(), jobs.Config{TargetLanguage: "es"}, writeInput(t, d, "clip.mp4"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	l := ledger.New()
	if _, err := l.Append(ledger.Record{Start: 0, End: 1, SpeakerID: "SPEAKER_00", TranslatedText: "hola", IncludeInOutput: true}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := d.store.SaveLedger(context.Background(), job.ID, l); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}
	return job
}

func TestAPIEventsStreamUntilFinal(t *testing.T) {
	d, runner := newTestDaemon(t)
	startDaemon(t, d)
	client := newTestAPI(t, d, "")

	job, err := client.Submit(context.Background(), api.SubmitRequest{
		Input:  writeInput(t, d, "clip.mp4"),
		Config: jobs.Config{TargetLanguage: "es"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStarted(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []progress.Event
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Events(ctx, job.ID, func(evt progress.Event) error {
			events = append(events, evt)
			if len(events) == 1 {
				close(runner.release)
			}
			return nil
		})
	}()
	if err := <-errCh; err != nil {
		t.Fatalf("Events: %v", err)
	}

	if len(events) < 2 {
		t.Fatalf("expected progress then final event, got %+v", events)
	}
	first, last := events[0], events[len(events)-1]
	if first.Stage != "transcription" || first.Final {
		t.Fatalf("expected last-known state first, got %+v", first)
	}
	if !last.Final || last.Status != string(jobs.StatusCompleted) || last.Output == "" {
		t.Fatalf("expected completed final event, got %+v", last)
	}
}

func TestAPICacheAndLogs(t *testing.T) {
	d, _ := newTestDaemon(t)
	client := newTestAPI(t, d, "")

	status, err := client.Cache(context.Background())
	if err != nil {
		t.Fatalf("Cache: %v", err)
	}
	if !status.Enabled || len(status.Entries) != 0 {
		t.Fatalf("unexpected cache status %+v", status)
	}
	removed, err := client.ClearCache(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("ClearCache = %d, %v", removed, err)
	}

	d.hub.Publish(loggingEvent("job-a", "stage started"))
	d.hub.Publish(loggingEvent("job-b", "stage started"))
	page, err := client.Logs(context.Background(), api.LogQuery{JobID: "job-b"})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].JobID != "job-b" || page.Next == 0 {
		t.Fatalf("unexpected log page %+v", page)
	}
	tail, err := client.Logs(context.Background(), api.LogQuery{Tail: true, Limit: 1})
	if err != nil {
		t.Fatalf("Logs tail: %v", err)
	}
	if len(tail.Events) != 1 || tail.Events[0].JobID != "job-b" {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func TestAPISubmitRejectsUnknownFields(t *testing.T) {
	d, _ := newTestDaemon(t)
	srv := httptest.NewServer(d.api.routes(""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"input": "/x.mp4", "config": map[string]any{"target_language": "es"}, "priority": 9})
	resp, err := http.Post(srv.URL+"/api/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var payload api.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(payload.Error, "priority") {
		t.Fatalf("expected unknown field rejection, got %d %+v", resp.StatusCode, payload)
	}
}

func loggingEvent(jobID, msg string) logging.LogEvent {
	return logging.LogEvent{Level: "INFO", Message: msg, Component: "pipeline", JobID: jobID}
}
