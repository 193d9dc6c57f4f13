// Package session drives the interactive part of a test run: it reads
// the event channel, renders progress and services prompts until the
// run reaches a terminal state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/project-chip/certification-tool-cli/internal/api"
	"github.com/project-chip/certification-tool-cli/internal/conf"
	"github.com/project-chip/certification-tool-cli/internal/defs"
	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/prompt"
	"github.com/project-chip/certification-tool-cli/internal/render"
	"github.com/project-chip/certification-tool-cli/internal/webrtcpc"
)

// terminal run updates close the channel within this grace period.
const closeGrace = 1 * time.Second

type caseKey struct {
	suite int
	cas   int
}

// Session is the event loop of one test run. Messages are handled
// strictly in the order received, one at a time, and every prompt is
// answered before the next message is processed.
type Session struct {
	Conf     *conf.Conf
	API      *api.Client
	TestRun  *api.TestRunExecutionWithChildren
	Renderer *render.Renderer
	Input    *prompt.LineReader
	Parent   logger.Writer

	Out    io.Writer
	ErrOut io.Writer

	conn       *websocket.Conn
	dispatcher *prompt.Dispatcher
	peer       *webrtcpc.Peer
	stepErrors map[caseKey][]string
	warned     map[caseKey]struct{}
}

// Log implements logger.Writer.
func (s *Session) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[session] "+format, args...)
}

// Run processes the event channel until the run ends. It returns an
// error on transport failures before the terminal state.
func (s *Session) Run(ctx context.Context) error {
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.ErrOut == nil {
		s.ErrOut = os.Stderr
	}
	s.stepErrors = make(map[caseKey][]string)
	s.warned = make(map[caseKey]struct{})

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.Conf.EventsURL(), nil)
	if err != nil {
		return fmt.Errorf("could not connect to the event channel: %w", err)
	}
	s.conn = conn
	defer conn.Close()

	// the peer must exist before tests start, so the controller can
	// negotiate whenever a camera test needs it.
	s.initPeer()
	defer s.closePeer()

	s.dispatcher = &prompt.Dispatcher{
		Conf:     s.Conf,
		Uploader: s.API,
		Renderer: s.Renderer,
		Input:    s.Input,
		Parent:   s.Parent,
		Out:      s.Out,
		ErrOut:   s.ErrOut,
	}
	if s.peer != nil {
		s.dispatcher.Peer = s.peer
	}
	s.dispatcher.Initialize()

	// unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, buf, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event channel closed unexpectedly: %w", err)
		}

		if msgType != websocket.TextMessage {
			s.Log(logger.Error, "failed to parse incoming message: got binary, expected text")
			continue
		}

		var msg defs.SocketMessage
		err = json.Unmarshal(buf, &msg)
		if err != nil {
			s.Log(logger.Error, "received invalid socket message: %v", err)
			continue
		}

		var terminal bool
		terminal, err = s.handleMessage(ctx, &msg)
		if err != nil {
			return err
		}
		if terminal {
			return s.closeGracefully()
		}
	}
}

func (s *Session) initPeer() {
	peer := &webrtcpc.Peer{
		SignalingURL: s.Conf.SignalingURL(),
		Parent:       s.Parent,
	}
	err := peer.Initialize()
	if err != nil {
		s.Log(logger.Warn, "WebRTC peer connection failed, camera tests may not work: %v", err)
		return
	}

	s.Log(logger.Info, "WebRTC peer connected, ready for camera tests")
	s.peer = peer
}

func (s *Session) closePeer() {
	if s.peer != nil {
		s.peer.Close()
		s.peer = nil
	}
}

func (s *Session) handleMessage(ctx context.Context, msg *defs.SocketMessage) (bool, error) {
	switch msg.Type {
	case defs.MessageTypeTestUpdate:
		var update defs.TestUpdate
		err := json.Unmarshal(msg.Payload, &update)
		if err != nil {
			s.Log(logger.Error, "received invalid socket message: %v", err)
			return false, nil
		}
		return s.handleUpdate(&update), nil

	case defs.MessageTypeTestLogRecords:
		var records []defs.TestLogRecord
		err := json.Unmarshal(msg.Payload, &records)
		if err != nil {
			s.Log(logger.Error, "received invalid socket message: %v", err)
			return false, nil
		}
		for _, rec := range records {
			s.Parent.Log(recordLevel(rec.Level), "%s", rec.Message)
		}
		return false, nil

	case defs.MessageTypeTimeOut:
		// the client runs its own prompt timers.
		return false, nil

	case defs.MessageTypePromptRequest,
		defs.MessageTypeOptionsRequest,
		defs.MessageTypeMessageRequest,
		defs.MessageTypeFileUploadRequest,
		defs.MessageTypeStreamRequest,
		defs.MessageTypeImageRequest,
		defs.MessageTypeTwoWayTalkRequest,
		defs.MessageTypePushAVRequest:
		return s.handlePrompt(ctx, msg)

	default:
		s.Log(logger.Error, "unknown socket message type: %s", msg.Type)
		return false, nil
	}
}

func (s *Session) handlePrompt(ctx context.Context, msg *defs.SocketMessage) (bool, error) {
	res, err := s.dispatcher.Handle(ctx, msg.Type, msg.Payload)
	if err != nil {
		s.Log(logger.Error, "received invalid socket message: %v", err)
		return false, nil
	}

	err = s.sendResponse(res)
	if err != nil {
		return false, fmt.Errorf("could not send prompt response: %w", err)
	}

	if res.StatusCode == defs.ResponseStatusCancelled && ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

// the response is sent before the next inbound message is processed.
func (s *Session) sendResponse(res *defs.PromptResponse) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.conn.WriteJSON(&defs.SocketMessage{
		Type:    defs.MessageTypePromptResponse,
		Payload: payload,
	})
}

func (s *Session) handleUpdate(update *defs.TestUpdate) bool {
	body := &update.Body
	level := body.Level()

	fmt.Fprintln(s.Out, s.Renderer.UpdateLine(level, s.titleFor(level, body), body.State))

	switch level {
	case defs.UpdateLevelStep:
		s.bufferStepErrors(body)

	case defs.UpdateLevelCase:
		s.flushCaseErrors(body)

	case defs.UpdateLevelRun:
		if body.State != defs.TestStateExecuting {
			return true
		}
	}

	return false
}

func (s *Session) titleFor(level defs.UpdateLevel, body *defs.TestUpdateBody) string {
	switch level {
	case defs.UpdateLevelSuite:
		if suite := s.TestRun.Suite(*body.TestSuiteExecutionIndex); suite != nil {
			return suite.TestSuiteMetadata.Title
		}
		return fmt.Sprintf("Test Suite %d", *body.TestSuiteExecutionIndex)

	case defs.UpdateLevelCase:
		ca := s.TestRun.Case(*body.TestSuiteExecutionIndex, *body.TestCaseExecutionIndex)
		if ca != nil {
			return ca.TestCaseMetadata.Title
		}
		return fmt.Sprintf("Test Case %d", *body.TestCaseExecutionIndex)

	case defs.UpdateLevelStep:
		step := s.TestRun.Step(*body.TestSuiteExecutionIndex,
			*body.TestCaseExecutionIndex, *body.TestStepExecutionIndex)
		if step != nil {
			return step.Title
		}
		return fmt.Sprintf("Test Step %d", *body.TestStepExecutionIndex)
	}

	return "Test Run"
}

func (s *Session) bufferStepErrors(body *defs.TestUpdateBody) {
	if len(body.Errors) == 0 && len(body.Failures) == 0 {
		return
	}

	key := caseKey{
		suite: *body.TestSuiteExecutionIndex,
		cas:   *body.TestCaseExecutionIndex,
	}
	s.stepErrors[key] = append(s.stepErrors[key], body.Errors...)
	s.stepErrors[key] = append(s.stepErrors[key], body.Failures...)
}

// flushCaseErrors collates the errors of a terminally failing case with
// the ones buffered from its steps, prints them, and emits the
// browser-only warning when they point at a test the CLI cannot run.
func (s *Session) flushCaseErrors(body *defs.TestUpdateBody) {
	if body.State != defs.TestStateFailed && body.State != defs.TestStateError {
		return
	}

	key := caseKey{
		suite: *body.TestSuiteExecutionIndex,
		cas:   *body.TestCaseExecutionIndex,
	}

	errs := append([]string{}, s.stepErrors[key]...)
	errs = append(errs, body.Errors...)
	errs = append(errs, body.Failures...)
	delete(s.stepErrors, key)

	for _, e := range errs {
		fmt.Fprintln(s.ErrOut, s.Renderer.Text(e, render.TextError))
	}

	publicID := ""
	if ca := s.TestRun.Case(key.suite, key.cas); ca != nil {
		publicID = ca.PublicID
	}

	if !s.isBrowserOnly(publicID, errs) {
		return
	}

	if _, ok := s.warned[key]; ok {
		return
	}
	s.warned[key] = struct{}{}

	s.printBrowserOnlyWarning(publicID)
}

func (s *Session) isBrowserOnly(publicID string, errs []string) bool {
	for _, id := range s.Conf.BrowserOnlyTests {
		if strings.EqualFold(id, publicID) {
			return true
		}
	}

	joined := strings.ToLower(strings.Join(errs, " "))
	for _, indicator := range s.Conf.BrowserErrorIndicators {
		if indicator != "" && strings.Contains(joined, strings.ToLower(indicator)) {
			return true
		}
	}

	return false
}

func (s *Session) printBrowserOnlyWarning(publicID string) {
	fmt.Fprintln(s.Out, s.Renderer.Text("=======================================", render.TextError))
	fmt.Fprintln(s.Out, s.Renderer.Text("TWO-WAY TALK TEST NOT SUPPORTED IN CLI", render.TextError))
	if publicID != "" {
		fmt.Fprintln(s.Out, s.Renderer.Text(publicID+" requires a browser-based WebRTC peer.", render.TextHelp))
	} else {
		fmt.Fprintln(s.Out, s.Renderer.Text("This test requires a browser-based WebRTC peer.", render.TextHelp))
	}
	fmt.Fprintln(s.Out, s.Renderer.Text("Please run it from the Test Harness web UI.", render.TextHelp))
	fmt.Fprintln(s.Out, s.Renderer.Text("=======================================", render.TextError))
}

func (s *Session) closeGracefully() error {
	s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))

	s.conn.SetReadDeadline(time.Now().Add(closeGrace)) //nolint:errcheck

	for {
		_, _, err := s.conn.ReadMessage()
		if err != nil {
			return nil
		}
	}
}

func recordLevel(level string) logger.Level {
	switch strings.ToUpper(level) {
	case "TRACE", "DEBUG":
		return logger.Debug

	case "WARN", "WARNING":
		return logger.Warn

	case "ERROR", "CRITICAL":
		return logger.Error
	}
	return logger.Info
}
