package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dubline/internal/api"
	"dubline/internal/jobs"
	"dubline/internal/progress"
)

func TestNewClientRequiresBind(t *testing.T) {
	if _, err := api.NewClient("  ", ""); !errors.Is(err, api.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !api.IsUnavailable(api.ErrUnavailable) {
		t.Fatal("expected IsUnavailable for sentinel")
	}
}

func TestSubmitSendsTokenAndDecodesJob(t *testing.T) {
	var gotAuth string
	var gotBody api.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{ID: "job-1", Status: "uploaded", QueuePosition: 1}})
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	job, err := client.Submit(context.Background(), api.SubmitRequest{
		Input:  "/videos/clip.mp4",
		Config: jobs.Config{TargetLanguage: "es"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID != "job-1" || job.QueuePosition != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Input != "/videos/clip.mp4" || gotBody.Config.TargetLanguage != "es" {
		t.Fatalf("unexpected body %+v", gotBody)
	}
}

func TestErrorResponsesDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job busy", Kind: "busy", RequestID: "req-1"})
	}))
	defer srv.Close()

	client, _ := api.NewClient(srv.URL, "")
	_, err := client.Cancel(context.Background(), "job-1")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Kind != "busy" || apiErr.RequestID != "req-1" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if api.StatusCode(err) != http.StatusConflict {
		t.Fatalf("unexpected status code %d", api.StatusCode(err))
	}
}

func TestEventsStopsAtFinalEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i, pct := range []float64{10, 55, 100} {
			evt := progress.Event{JobID: "job-1", Sequence: uint64(i + 1), Percent: pct, Final: pct == 100}
			data, _ := json.Marshal(evt)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
		}
		fmt.Fprint(w, "data: {\"job_id\":\"job-1\",\"percent\":7}\n\n")
	}))
	defer srv.Close()

	client, _ := api.NewClient(srv.URL, "")
	var seen []float64
	err := client.Events(context.Background(), "job-1", func(evt progress.Event) error {
		seen = append(seen, evt.Percent)
		return nil
	})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(seen) != 3 || seen[2] != 100 {
		t.Fatalf("expected stream to stop at final event, got %v", seen)
	}
}

func TestLogsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("since") != "3" || q.Get("limit") != "50" || q.Get("follow") != "1" || q.Get("job") != "job-9" {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(api.LogStreamResponse{Events: []api.LogEvent{{Message: "hello"}}, Next: 4})
	}))
	defer srv.Close()

	client, _ := api.NewClient(srv.URL, "")
	resp, err := client.Logs(context.Background(), api.LogQuery{Since: 3, Limit: 50, Follow: true, JobID: "job-9"})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if resp.Next != 4 || len(resp.Events) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
