//go:build e2e

// Package e2e drives a fully wired package manager through its HTTP API:
// desired state in, reconciled expectations and upstream status events out.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"packagemanager/internal/api"
	"packagemanager/internal/dispatcher"
	"packagemanager/internal/health"
	"packagemanager/internal/manager"
	"packagemanager/internal/orchestrator"
	"packagemanager/internal/packageinfo"
	"packagemanager/internal/status"
	"packagemanager/internal/testutil"
	"packagemanager/internal/upstream"
	"packagemanager/internal/worker"
	"packagemanager/pkg/cloudevent"
)

const (
	apiKey     = "e2e-key"
	signingKey = "e2e-signing-key"
)

// receiver collects the status events posted upstream.
type receiver struct {
	mu     sync.Mutex
	events []cloudevent.CloudEvent
	bad    int
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !cloudevent.Verify(body, signingKey, r.Header.Get(cloudevent.SignatureHeader)) {
		rc.bad++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var ev cloudevent.CloudEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		rc.bad++
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rc.events = append(rc.events, ev)
	w.WriteHeader(http.StatusAccepted)
}

func (rc *receiver) types() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.events))
	for _, ev := range rc.events {
		out = append(out, ev.Type)
	}
	return out
}

type stack struct {
	baseURL  string
	worker   *testutil.FakeWorker
	receiver *receiver
}

func newStack(t *testing.T) *stack {
	t.Helper()

	rc := &receiver{}
	upstreamServer := httptest.NewServer(rc)
	t.Cleanup(upstreamServer.Close)

	d := dispatcher.NewMemory(dispatcher.MemoryConfig{BufferSize: 100}, nil)
	sink := upstream.NewHTTPSink(d, upstreamServer.URL, signingKey, "pm-e2e")

	w := testutil.NewFakeWorker("worker0")
	w.SetAutoComplete(true)
	workers := worker.NewRegistry()
	workers.Add(w)

	reporter := status.NewReporter(sink, nil)
	mgr := manager.New(manager.Config{EvaluateInterval: 20 * time.Millisecond}, workers, reporter, nil)
	orch := orchestrator.New(orchestrator.Config{ManagerID: "pm-e2e", Debounce: 10 * time.Millisecond},
		orchestrator.Deps{Manager: mgr, Reporter: reporter, PackageInfo: packageinfo.NewStore()})

	checker := health.NewChecker()
	checker.Register("desiredState", orch)
	orch.Start(context.Background())

	apiServer := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Service:       orch,
		HealthChecker: checker,
		APIKey:        apiKey,
	}))

	t.Cleanup(func() {
		apiServer.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
		_ = sink.Close(ctx)
	})

	return &stack{baseURL: apiServer.URL, worker: w, receiver: rc}
}

func (s *stack) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *stack) expectations(t *testing.T) []manager.TrackedInfo {
	t.Helper()
	var list struct {
		Expectations []manager.TrackedInfo `json:"expectations"`
	}
	s.call(t, http.MethodGet, "/v1/expectations", nil, &list)
	return list.Expectations
}

func desiredState(packageIDs ...string) map[string]any {
	pkgs := make([]map[string]any, 0, len(packageIDs))
	for _, id := range packageIDs {
		pkgs = append(pkgs, map[string]any{
			"_id":                id,
			"type":               "media_file",
			"content":            map[string]any{"filePath": id + ".mp4"},
			"contentVersionHash": "hash-" + id,
			"sources":            []map[string]any{{"containerId": "source0"}},
			"layers":             []string{"target0"},
		})
	}
	return map[string]any{
		"containers": map[string]any{
			"source0": map[string]any{
				"containerId": "source0",
				"accessors": map[string]any{
					"local": map[string]any{"type": "local_folder", "allowRead": true, "folderPath": "/src"},
				},
			},
			"target0": map[string]any{
				"containerId": "target0",
				"accessors": map[string]any{
					"local": map[string]any{"type": "local_folder", "allowRead": true, "allowWrite": true, "folderPath": "/dst"},
				},
			},
		},
		"expectedPackages": pkgs,
		"activeContext":    map[string]any{"activeRundowns": []any{}},
	}
}

func waitOpts() []testutil.WaitOption {
	return []testutil.WaitOption{testutil.WithTimeout(10 * time.Second), testutil.WithInterval(50 * time.Millisecond)}
}

func TestE2E_ReadinessFollowsDesiredState(t *testing.T) {
	s := newStack(t)

	resp, err := http.Get(s.baseURL + "/readyz")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before a desired state, got %d", resp.StatusCode)
	}

	if code := s.call(t, http.MethodPut, "/v1/desired-state", desiredState(), nil); code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", code)
	}

	testutil.MustWaitFor(t, func() bool {
		resp, err := http.Get(s.baseURL + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, waitOpts()...)
}

func TestE2E_DesiredStateIsReconciledAndReported(t *testing.T) {
	s := newStack(t)

	if code := s.call(t, http.MethodPut, "/v1/desired-state", desiredState("clip1", "clip2"), nil); code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", code)
	}

	testutil.MustWaitFor(t, func() bool {
		list := s.expectations(t)
		if len(list) == 0 {
			return false
		}
		for _, ti := range list {
			if ti.State != manager.StateFulfilled {
				return false
			}
		}
		return true
	}, waitOpts()...)

	testutil.MustWaitFor(t, func() bool {
		return slices.Contains(s.receiver.types(), upstream.EventTypeWork)
	}, waitOpts()...)

	s.receiver.mu.Lock()
	bad := s.receiver.bad
	s.receiver.mu.Unlock()
	if bad != 0 {
		t.Errorf("Expected every upstream event signed and well-formed, got %d bad", bad)
	}
	if types := s.receiver.types(); types[0] != upstream.EventTypeReset {
		t.Errorf("Expected the reset event first, got %v", types)
	}

	var counts orchestrator.Counts
	s.call(t, http.MethodGet, "/v1/status", nil, &counts)
	if counts.ExpectedPackages != 2 {
		t.Errorf("Expected 2 expected packages, got %+v", counts)
	}
}

func TestE2E_OperatorCommands(t *testing.T) {
	s := newStack(t)
	s.worker.SetAutoComplete(false)

	s.call(t, http.MethodPut, "/v1/desired-state", desiredState("clip1"), nil)

	var target manager.TrackedInfo
	testutil.MustWaitFor(t, func() bool {
		for _, ti := range s.expectations(t) {
			if ti.State == manager.StateWorking {
				target = ti
				return true
			}
		}
		return false
	}, waitOpts()...)

	if code := s.call(t, http.MethodPost, "/v1/expectations/"+target.ID+"/abort", nil, nil); code != http.StatusAccepted {
		t.Fatalf("Expected 202 for abort, got %d", code)
	}
	testutil.MustWaitFor(t, func() bool {
		var ti manager.TrackedInfo
		s.call(t, http.MethodGet, "/v1/expectations/"+target.ID, nil, &ti)
		return ti.State == manager.StateAborted
	}, waitOpts()...)

	if code := s.call(t, http.MethodPost, "/v1/expectations/ghost/restart", nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown expectation, got %d", code)
	}
	if code := s.call(t, http.MethodDelete, "/v1/apps/app-1", nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 without a workforce, got %d", code)
	}
}
