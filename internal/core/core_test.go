package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/project-chip/certification-tool-cli/internal/defs"
)

func setBackend(t *testing.T, hs *httptest.Server) {
	t.Setenv("THCLI_HOSTNAME", strings.TrimPrefix(hs.URL, "http://"))
	t.Setenv("THCLI_LOGDIR", t.TempDir())
	t.Setenv("THCLI_VIDEODIR", t.TempDir())
}

func run(t *testing.T, args ...string) int {
	p, ok := New(args)
	require.True(t, ok)
	return p.Wait()
}

func TestCoreTestRunnerStatus(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/test_run_executions/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state": "idle", "test_run_execution_id": null}`)) //nolint:errcheck
	}))
	defer hs.Close()
	setBackend(t, hs)

	require.Equal(t, 0, run(t, "test-runner-status"))
	require.Equal(t, 0, run(t, "test-runner-status", "--json"))
}

func TestCoreAbortTesting(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/test_run_executions/abort_testing", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detail": "Testing aborted"}`)) //nolint:errcheck
	}))
	defer hs.Close()
	setBackend(t, hs)

	require.Equal(t, 0, run(t, "abort-testing"))
}

func TestCoreAvailableTests(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/test_collections", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"test_collections": {"SDK YAML Tests": {"name": "SDK YAML Tests",` + //nolint:errcheck
			`"test_suites": {"FirstChipToolSuite": {"test_cases": {"TC-ACE-1.1": {}}}}}}}`))
	}))
	defer hs.Close()
	setBackend(t, hs)

	require.Equal(t, 0, run(t, "available-tests"))
	require.Equal(t, 0, run(t, "available-tests", "--json"))
}

func TestCoreAPIError(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer hs.Close()
	setBackend(t, hs)

	require.Equal(t, 1, run(t, "test-runner-status"))
	require.Equal(t, 1, run(t, "run-tests", "--tests-list", "TC-ACE-1.1"))
}

func TestCoreRunTests(t *testing.T) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	runJSON := `{"id": 7, "title": "demo", "state": "pending", "project_id": 1,` +
		`"test_suite_executions": []}`

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/projects/default_config", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck
	})
	mux.HandleFunc("/api/v1/test_collections", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"test_collections": {"SDK YAML Tests": {"name": "SDK YAML Tests",` + //nolint:errcheck
			`"test_suites": {"FirstChipToolSuite": {"test_cases": {"TC-ACE-1.1": {}}}}}}}`))
	})
	mux.HandleFunc("/api/v1/test_run_executions", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)
		require.Contains(t, body, "test_run_execution_in")
		require.Contains(t, body, "selected_tests")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(runJSON)) //nolint:errcheck
	})
	mux.HandleFunc("/api/v1/test_run_executions/7/start", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(runJSON)) //nolint:errcheck
	})
	mux.HandleFunc("/api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		payload, err := json.Marshal(&defs.TestUpdate{
			TestType: "update",
			Body: defs.TestUpdateBody{
				State:              defs.TestStatePassed,
				TestRunExecutionID: intp(7),
			},
		})
		require.NoError(t, err)

		err = conn.WriteJSON(&defs.SocketMessage{
			Type:    defs.MessageTypeTestUpdate,
			Payload: payload,
		})
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	})

	hs := httptest.NewServer(mux)
	defer hs.Close()
	setBackend(t, hs)
	logDir := os.Getenv("THCLI_LOGDIR")

	status := run(t, "run-tests", "--tests-list", "TC-ACE-1.1", "--title", "demo run")
	require.Equal(t, 0, status)

	// the run log file was created from the sanitized title.
	entries, err := filepath.Glob(filepath.Join(logDir, "demo_run_*.log"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func intp(v int) *int {
	return &v
}
