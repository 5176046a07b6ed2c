package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type request struct {
	method string
	path   string
	auth   string
	body   string
}

// fakeAPI answers every request with a canned body and records it.
type fakeAPI struct {
	mu       sync.Mutex
	requests []request
	status   int
	body     string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, request{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(body)})
	status, resp := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (f *fakeAPI) last(t *testing.T) request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("Expected a request to the API")
	}
	return f.requests[len(f.requests)-1]
}

func runCLI(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands_Requests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		response   string
		wantMethod string
		wantPath   string
		wantOut    string
	}{
		{"status", []string{"status"}, `{"countExpectations":7}`, http.MethodGet, "/v1/status", "7"},
		{"restart one", []string{"restart", "exp 1"}, `{"accepted":true}`, http.MethodPost, "/v1/expectations/exp 1/restart", "Restart requested"},
		{"restart all", []string{"restart", "--all"}, `{"accepted":true}`, http.MethodPost, "/v1/expectations/restart", "Restart requested"},
		{"abort", []string{"abort", "exp-1"}, `{"accepted":true}`, http.MethodPost, "/v1/expectations/exp-1/abort", "Abort requested"},
		{"restart container", []string{"restart-container", "c1"}, `{"accepted":true}`, http.MethodPost, "/v1/containers/c1/restart", "Container restart requested"},
		{"kill", []string{"kill", "app-1"}, `{"accepted":true}`, http.MethodDelete, "/v1/apps/app-1", "Kill requested"},
		{"workforce", []string{"workforce"}, `{"plannedWorkers":[{"appContainerId":"docker","appType":"worker","appId":"a1","isInUse":true}],"needs":3,"unmetNeeds":2}`,
			http.MethodGet, "/v1/workforce", "unmet: 2"},
		{"expectations", []string{"expectations", "--state", "working"},
			`{"expectations":[{"id":"e1","state":"working","type":"file_copy"},{"id":"e2","state":"fulfilled"}]}`,
			http.MethodGet, "/v1/expectations", "e1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeAPI{status: http.StatusOK, body: tt.response}

			out, err := runCLI(t, api, tt.args...)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			req := api.last(t)
			if req.method != tt.wantMethod || req.path != tt.wantPath {
				t.Errorf("Expected %s %s, got %s %s", tt.wantMethod, tt.wantPath, req.method, req.path)
			}
			if req.auth != "Bearer tok" {
				t.Errorf("Expected bearer token, got %q", req.auth)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("Expected output to contain %q, got %q", tt.wantOut, out)
			}
		})
	}
}

func TestCommands_ExpectationsFiltersByState(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{status: http.StatusOK,
		body: `{"expectations":[{"id":"e1","state":"working"},{"id":"e2","state":"fulfilled"}]}`}

	out, err := runCLI(t, api, "--json", "expectations", "--state", "fulfilled")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Expected JSON output, got %q", out)
	}
	if len(got) != 1 || got[0]["id"] != "e2" {
		t.Errorf("Expected only e2, got %v", got)
	}
}

func TestCommands_APIError(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{status: http.StatusConflict, body: `{"error":"expectation e1 is removed"}`}

	_, err := runCLI(t, api, "abort", "e1")
	if err == nil || !strings.Contains(err.Error(), "is removed") || !strings.Contains(err.Error(), "409") {
		t.Errorf("Expected the API error message with its status, got %v", err)
	}
}

func TestCommands_RestartArgs(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{status: http.StatusOK, body: `{}`}

	if _, err := runCLI(t, api, "restart"); err == nil {
		t.Error("Expected an error without id or --all")
	}
	if _, err := runCLI(t, api, "restart", "e1", "--all"); err == nil {
		t.Error("Expected an error with both id and --all")
	}
}

func TestCommands_Apply(t *testing.T) {
	t.Parallel()
	doc := `
containers: {}
expectedPackages:
  - _id: p1
    type: media_file
    layers: [l1]
activeContext:
  activeRundowns: []
`
	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{status: http.StatusAccepted, body: `{"accepted":true}`}

	out, err := runCLI(t, api, "apply", path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	req := api.last(t)
	if req.method != http.MethodPut || req.path != "/v1/desired-state" {
		t.Errorf("Expected PUT /v1/desired-state, got %s %s", req.method, req.path)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(req.body), &sent); err != nil {
		t.Fatalf("Expected a JSON body, got %q", req.body)
	}
	if pkgs, _ := sent["expectedPackages"].([]any); len(pkgs) != 1 {
		t.Errorf("Expected one package sent, got %v", sent["expectedPackages"])
	}
	if strings.Contains(out, "Warning") {
		t.Errorf("Expected no warning for a complete snapshot, got %q", out)
	}
}

func TestCommands_ApplyWarnsOnIncompleteSnapshot(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte("containers: {}\nexpectedPackages: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{status: http.StatusAccepted, body: `{"accepted":true}`}

	out, err := runCLI(t, api, "apply", path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !strings.Contains(out, "activeContext is missing") {
		t.Errorf("Expected a warning about activeContext, got %q", out)
	}
}
