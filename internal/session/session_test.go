package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/project-chip/certification-tool-cli/internal/api"
	"github.com/project-chip/certification-tool-cli/internal/conf"
	"github.com/project-chip/certification-tool-cli/internal/defs"
	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/prompt"
	"github.com/project-chip/certification-tool-cli/internal/render"
	"github.com/project-chip/certification-tool-cli/internal/test"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// newEventServer serves the event channel at its canonical path. Every
// other path, including the signaling one, returns 404 so that the peer
// setup fails and the session falls back to terminal-only prompts.
func newEventServer(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ws" {
			http.NotFound(w, r)
			return
		}

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		script(t, conn)

		// wait for the client close message.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
}

func intp(v int) *int {
	return &v
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, typ defs.MessageType, payload interface{}) {
	buf, err := json.Marshal(payload)
	require.NoError(t, err)

	err = conn.WriteJSON(&defs.SocketMessage{
		Type:    typ,
		Payload: buf,
	})
	require.NoError(t, err)
}

func sendUpdate(t *testing.T, conn *websocket.Conn, body defs.TestUpdateBody) {
	sendEnvelope(t, conn, defs.MessageTypeTestUpdate, &defs.TestUpdate{
		TestType: "update",
		Body:     body,
	})
}

func readResponse(t *testing.T, conn *websocket.Conn) *defs.PromptResponse {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	var msg defs.SocketMessage
	err := conn.ReadJSON(&msg)
	require.NoError(t, err)
	require.Equal(t, defs.MessageTypePromptResponse, msg.Type)

	var res defs.PromptResponse
	err = json.Unmarshal(msg.Payload, &res)
	require.NoError(t, err)
	return &res
}

func scriptedInput(lines ...string) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		for _, line := range lines {
			fmt.Fprintln(pw, line)
		}
		// keep the reader blocked so closed-input handling does not kick in.
		select {}
	}()
	return pr
}

func testRunTree(casePublicID string) *api.TestRunExecutionWithChildren {
	return &api.TestRunExecutionWithChildren{
		TestRunExecution: api.TestRunExecution{
			ID:    99,
			Title: "Demo Run",
			State: defs.TestStatePending,
		},
		TestSuiteExecutions: []api.TestSuiteExecution{{
			ID:                1,
			PublicID:          "DemoSuite",
			TestSuiteMetadata: api.TestSuiteMetadata{Title: "Demo Suite"},
			TestCaseExecutions: []api.TestCaseExecution{{
				ID:               2,
				PublicID:         casePublicID,
				TestCaseMetadata: api.TestCaseMetadata{PublicID: casePublicID, Title: "Demo Case"},
				TestStepExecutions: []api.TestStepExecution{
					{ID: 3, Title: "First Step"},
					{ID: 4, Title: "Second Step"},
				},
			}},
		}},
	}
}

type sessionHarness struct {
	sess   *Session
	out    *strings.Builder
	errOut *strings.Builder

	logMu sync.Mutex
	logs  []string
}

func (h *sessionHarness) logged(substr string) bool {
	h.logMu.Lock()
	defer h.logMu.Unlock()

	for _, l := range h.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func newSessionHarness(t *testing.T, serverURL string, run *api.TestRunExecutionWithChildren,
	input io.Reader,
) *sessionHarness {
	cnf, err := conf.Load("")
	require.NoError(t, err)
	cnf.Hostname = strings.TrimPrefix(serverURL, "http://")

	renderer := &render.Renderer{NoColor: true}
	renderer.Initialize()

	lr := &prompt.LineReader{Source: input}
	lr.Initialize()

	h := &sessionHarness{
		out:    &strings.Builder{},
		errOut: &strings.Builder{},
	}

	client := &api.Client{BaseURL: cnf.BaseURL(), Parent: test.NilLogger}
	client.Initialize()

	h.sess = &Session{
		Conf:     cnf,
		API:      client,
		TestRun:  run,
		Renderer: renderer,
		Input:    lr,
		Parent: test.Logger(func(level logger.Level, format string, args ...interface{}) {
			h.logMu.Lock()
			defer h.logMu.Unlock()
			h.logs = append(h.logs, fmt.Sprintf(format, args...))
		}),
		Out:    h.out,
		ErrOut: h.errOut,
	}
	return h
}

func TestSessionHappyPath(t *testing.T) {
	hs := newEventServer(t, func(t *testing.T, conn *websocket.Conn) {
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateExecuting,
			TestSuiteExecutionIndex: intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateExecuting,
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateExecuting,
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
			TestStepExecutionIndex:  intp(0),
		})

		sendEnvelope(t, conn, defs.MessageTypeOptionsRequest, &defs.OptionsPromptRequest{
			PromptRequest: defs.PromptRequest{
				Prompt:    "Did the light turn on?",
				Timeout:   60,
				MessageID: 5,
			},
			Options: map[string]int{"yes": 1, "no": 2},
		})

		res := readResponse(t, conn)
		require.Equal(t, defs.ResponseStatusOkay, res.StatusCode)
		require.Equal(t, float64(1), res.Response)
		require.Equal(t, 5, res.MessageID)

		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStatePassed,
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
			TestStepExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStatePassed,
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStatePassed,
			TestSuiteExecutionIndex: intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:              defs.TestStatePassed,
			TestRunExecutionID: intp(99),
		})
	})
	defer hs.Close()

	h := newSessionHarness(t, hs.URL, testRunTree("TC_DEMO_1_1"), scriptedInput("1"))

	done := make(chan error)
	go func() {
		done <- h.sess.Run(context.Background())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not terminate")
	}

	out := h.out.String()
	require.Contains(t, out, "  - Demo Suite [EXECUTING]")
	require.Contains(t, out, "      - Demo Case [PASSED]")
	require.Contains(t, out, "            - First Step [PASSED]")
	require.Contains(t, out, "Test Run [PASSED]")
	require.Contains(t, out, "Did the light turn on?")

	// the peer setup failed against the event-only server but the
	// session carried on.
	require.True(t, h.logged("camera tests may not work"))
}

func TestSessionBrowserOnlyWarning(t *testing.T) {
	hs := newEventServer(t, func(t *testing.T, conn *websocket.Conn) {
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateExecuting,
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateFailed,
			Errors:                  []string{"BrowserPeerConnection is not available"},
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
			TestStepExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateFailed,
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:              defs.TestStateFailed,
			TestRunExecutionID: intp(99),
		})
	})
	defer hs.Close()

	h := newSessionHarness(t, hs.URL, testRunTree("TC_WEBRTC_1_6"), scriptedInput())

	err := h.sess.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, h.errOut.String(), "BrowserPeerConnection is not available")

	warning := "TWO-WAY TALK TEST NOT SUPPORTED IN CLI"
	require.Equal(t, 1, strings.Count(h.out.String(), warning))
	require.Contains(t, h.out.String(), "TC_WEBRTC_1_6")
}

func TestSessionWarningTriggeredByIndicator(t *testing.T) {
	// the case id is not in the browser-only catalog, but its errors
	// mention a browser peer.
	hs := newEventServer(t, func(t *testing.T, conn *websocket.Conn) {
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:                   defs.TestStateError,
			Errors:                  []string{"failed in create_browser_peer step"},
			TestSuiteExecutionIndex: intp(0),
			TestCaseExecutionIndex:  intp(0),
		})
		sendUpdate(t, conn, defs.TestUpdateBody{
			State:              defs.TestStateFailed,
			TestRunExecutionID: intp(99),
		})
	})
	defer hs.Close()

	h := newSessionHarness(t, hs.URL, testRunTree("TC_DEMO_1_1"), scriptedInput())

	err := h.sess.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, strings.Count(h.out.String(), "TWO-WAY TALK TEST NOT SUPPORTED IN CLI"))
}

func TestSessionSkipsMalformedMessages(t *testing.T) {
	hs := newEventServer(t, func(t *testing.T, conn *websocket.Conn) {
		err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		require.NoError(t, err)

		err = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		require.NoError(t, err)

		sendEnvelope(t, conn, defs.MessageType("mystery_message"), map[string]int{"a": 1})

		sendUpdate(t, conn, defs.TestUpdateBody{
			State:              defs.TestStatePassed,
			TestRunExecutionID: intp(99),
		})
	})
	defer hs.Close()

	h := newSessionHarness(t, hs.URL, testRunTree("TC_DEMO_1_1"), scriptedInput())

	err := h.sess.Run(context.Background())
	require.NoError(t, err)

	require.True(t, h.logged("got binary, expected text"))
	require.True(t, h.logged("received invalid socket message"))
	require.True(t, h.logged("unknown socket message type"))
}

func TestSessionLogRecords(t *testing.T) {
	hs := newEventServer(t, func(t *testing.T, conn *websocket.Conn) {
		sendEnvelope(t, conn, defs.MessageTypeTestLogRecords, []defs.TestLogRecord{
			{Level: "DEBUG", Message: "chip internals"},
			{Level: "WARNING", Message: "device is slow"},
			{Level: "ERROR", Message: "attribute mismatch"},
			{Level: "INFO", Message: "step done"},
		})
		sendEnvelope(t, conn, defs.MessageTypeTimeOut, &defs.TimeOutNotification{MessageID: 3})

		sendUpdate(t, conn, defs.TestUpdateBody{
			State:              defs.TestStatePassed,
			TestRunExecutionID: intp(99),
		})
	})
	defer hs.Close()

	h := newSessionHarness(t, hs.URL, testRunTree("TC_DEMO_1_1"), scriptedInput())

	levels := make(map[string]logger.Level)
	var levelsMu sync.Mutex
	h.sess.Parent = test.Logger(func(level logger.Level, format string, args ...interface{}) {
		levelsMu.Lock()
		defer levelsMu.Unlock()
		levels[fmt.Sprintf(format, args...)] = level
	})

	err := h.sess.Run(context.Background())
	require.NoError(t, err)

	levelsMu.Lock()
	defer levelsMu.Unlock()
	require.Equal(t, logger.Debug, levels["chip internals"])
	require.Equal(t, logger.Warn, levels["device is slow"])
	require.Equal(t, logger.Error, levels["attribute mismatch"])
	require.Equal(t, logger.Info, levels["step done"])
}

func TestSessionContextCancellation(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)

	hs := newEventServer(t, func(_ *testing.T, _ *websocket.Conn) {
		<-hold
	})
	defer hs.Close()

	h := newSessionHarness(t, hs.URL, testRunTree("TC_DEMO_1_1"), scriptedInput())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- h.sess.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop on cancellation")
	}
}
