package faceswap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"server/internal/domain"
)

func TestSubmitSyncResult(t *testing.T) {
	result := []byte{0x89, 0x50, 0x4e, 0x47}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var payload submitRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Task != "face_swap" {
			t.Fatalf("unexpected task: %s", payload.Task)
		}
		if payload.SourceImage == "" || payload.TargetImage == "" {
			t.Fatalf("missing image payloads")
		}
		var resp envelope
		resp.Output.Image = base64.StdEncoding.EncodeToString(result)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	out, err := client.Submit(context.Background(), SwapRequest{
		SourceImage: []byte("face"),
		TargetImage: []byte("poster-half"),
		Kind:        domain.JobKindFaceSwap,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Kind != OutcomeSync {
		t.Fatalf("expected sync outcome, got %s", out.Kind)
	}
	if string(out.Image) != string(result) {
		t.Fatalf("image bytes mismatch")
	}
}

func TestSubmitAsyncHandle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp envelope
		resp.Output.TaskID = "task-123"
		resp.Output.TaskStatus = "PENDING"
		resp.Output.PollURL = "/tasks/task-123"
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	out, err := client.Submit(context.Background(), SwapRequest{
		SourceImage: []byte("face"),
		TargetImage: []byte("poster-half"),
		Kind:        domain.JobKindHairSwap,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Kind != OutcomeAsync {
		t.Fatalf("expected async outcome, got %s", out.Kind)
	}
	if out.Handle.JobID != "task-123" {
		t.Fatalf("job id: got %s", out.Handle.JobID)
	}
	if out.Handle.PollEndpoint != ts.URL+"/tasks/task-123" {
		t.Fatalf("poll endpoint: got %s", out.Handle.PollEndpoint)
	}
	if out.Handle.Status != domain.JobStatusQueued {
		t.Fatalf("initial status: got %s", out.Handle.Status)
	}
}

func TestSubmitBadEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope{})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.Submit(context.Background(), SwapRequest{
		SourceImage: []byte("face"),
		TargetImage: []byte("poster-half"),
		Kind:        domain.JobKindFaceSwap,
	})
	if !errors.Is(err, domain.ErrBadUpstreamResponse) {
		t.Fatalf("expected ErrBadUpstreamResponse, got %v", err)
	}
}

func TestSubmitUpstreamStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "Throttled", "message": "busy"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.Submit(context.Background(), SwapRequest{
		SourceImage: []byte("face"),
		TargetImage: []byte("poster-half"),
		Kind:        domain.JobKindFaceSwap,
	})
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 in error, got %v", err)
	}
}

func TestSubmitTimeoutClassified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Submit(context.Background(), SwapRequest{
		SourceImage: []byte("face"),
		TargetImage: []byte("poster-half"),
		Kind:        domain.JobKindFaceSwap,
	})
	if !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestSubmitUnavailableClassified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.Submit(context.Background(), SwapRequest{
		SourceImage: []byte("face"),
		TargetImage: []byte("poster-half"),
		Kind:        domain.JobKindFaceSwap,
	})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestPollStatusMapping(t *testing.T) {
	result := []byte("final-image")
	statuses := []string{"PENDING", "RUNNING", "SUCCEEDED"}
	var call int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := pollResponse{TaskStatus: statuses[call]}
		if resp.TaskStatus == "SUCCEEDED" {
			resp.OutputImage = base64.StdEncoding.EncodeToString(result)
		}
		call++
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	want := []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted}
	for i, expect := range want {
		got, err := client.PollStatus(context.Background(), ts.URL+"/tasks/t1")
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if got.Status != expect {
			t.Fatalf("poll %d: got %s want %s", i, got.Status, expect)
		}
	}
}

func TestPollStatusCompletedWithoutImage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pollResponse{TaskStatus: "SUCCEEDED"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	_, err := client.PollStatus(context.Background(), ts.URL+"/tasks/t1")
	if !errors.Is(err, domain.ErrBadUpstreamResponse) {
		t.Fatalf("expected ErrBadUpstreamResponse, got %v", err)
	}
}
