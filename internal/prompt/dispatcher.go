// Package prompt services the interactive requests of a test session.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/project-chip/certification-tool-cli/internal/conf"
	"github.com/project-chip/certification-tool-cli/internal/defs"
	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/render"
)

const (
	separator     = "======================================="
	maxUploadSize = 100 * 1024 * 1024
)

// Uploader uploads a file to the backend.
type Uploader interface {
	UploadFile(ctx context.Context, fpath string) (bool, error)
}

// MediaPeer is the WebRTC peer used during two-way-talk prompts.
type MediaPeer interface {
	Connected() bool
	AudioLevels() (int, int)
}

// Dispatcher services one interactive request at a time. Every request
// is answered with exactly one response, whatever happens.
type Dispatcher struct {
	Conf     *conf.Conf
	Uploader Uploader
	Renderer *render.Renderer
	Input    *LineReader
	Peer     MediaPeer
	Parent   logger.Writer

	Out         io.Writer
	ErrOut      io.Writer
	OpenBrowser func(string) error
}

// Initialize initializes the Dispatcher.
func (d *Dispatcher) Initialize() {
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.ErrOut == nil {
		d.ErrOut = os.Stderr
	}
	if d.OpenBrowser == nil {
		d.OpenBrowser = openBrowser
	}
}

// Log implements logger.Writer.
func (d *Dispatcher) Log(level logger.Level, format string, args ...interface{}) {
	d.Parent.Log(level, "[prompt] "+format, args...)
}

// Handle services one prompt request and returns the response to send.
// It blocks until the user answers, the prompt times out or the context
// is canceled. An error is returned only when the payload cannot be
// decoded, in which case no response is due.
func (d *Dispatcher) Handle(
	ctx context.Context,
	typ defs.MessageType,
	payload json.RawMessage,
) (*defs.PromptResponse, error) {
	fmt.Fprintln(d.Out, separator)
	defer fmt.Fprintln(d.Out, separator)

	switch typ {
	case defs.MessageTypeOptionsRequest:
		var req defs.OptionsPromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		return d.handleOptions(ctx, &req), nil

	case defs.MessageTypeMessageRequest:
		var req defs.TextPromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		return d.handleText(ctx, &req), nil

	case defs.MessageTypePromptRequest:
		// the generic kind carries either an options or a text prompt,
		// told apart by the presence of the options map.
		var req defs.OptionsPromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		if req.Options != nil {
			return d.handleOptions(ctx, &req), nil
		}

		var treq defs.TextPromptRequest
		err = json.Unmarshal(payload, &treq)
		if err != nil {
			return nil, err
		}
		return d.handleText(ctx, &treq), nil

	case defs.MessageTypeFileUploadRequest:
		var req defs.PromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		return d.handleFileUpload(ctx, &req), nil

	case defs.MessageTypeImageRequest:
		var req defs.ImagePromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		return d.handleImage(ctx, &req), nil

	case defs.MessageTypeStreamRequest:
		var req defs.OptionsPromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		return d.handleStream(ctx, &req), nil

	case defs.MessageTypeTwoWayTalkRequest, defs.MessageTypePushAVRequest:
		var req defs.OptionsPromptRequest
		err := json.Unmarshal(payload, &req)
		if err != nil {
			return nil, err
		}
		return d.handleTwoWayTalk(ctx, &req), nil
	}

	return nil, fmt.Errorf("unsupported prompt request '%s'", typ)
}

func okResponse(messageID int, value interface{}) *defs.PromptResponse {
	return &defs.PromptResponse{
		Response:   value,
		StatusCode: defs.ResponseStatusOkay,
		MessageID:  messageID,
	}
}

func statusResponse(messageID int, status defs.UserResponseStatus, value interface{}) *defs.PromptResponse {
	return &defs.PromptResponse{
		Response:   value,
		StatusCode: status,
		MessageID:  messageID,
	}
}

func (d *Dispatcher) timedOut(messageID int, value interface{}) *defs.PromptResponse {
	fmt.Fprintln(d.ErrOut, d.Renderer.Text("Prompt timed out", render.TextError))
	return statusResponse(messageID, defs.ResponseStatusTimeout, value)
}

func (d *Dispatcher) cancelled(messageID int, value interface{}) *defs.PromptResponse {
	return statusResponse(messageID, defs.ResponseStatusCancelled, value)
}

func (d *Dispatcher) printInvalidInput(input string) {
	fmt.Fprintln(d.ErrOut, d.Renderer.Text("Invalid input "+input, render.TextError))
}

func parseOption(line string, options map[string]int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, false
	}
	for _, id := range options {
		if id == v {
			return v, true
		}
	}
	return 0, false
}

func (d *Dispatcher) printOptions(req *defs.OptionsPromptRequest) {
	fmt.Fprintln(d.Out, d.Renderer.Italic(req.Prompt))

	keys := make([]string, 0, len(req.Options))
	for key := range req.Options {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return req.Options[keys[i]] < req.Options[keys[j]] })

	for _, key := range keys {
		fmt.Fprintf(d.Out, "  %s: %s\n",
			d.Renderer.Text(strconv.Itoa(req.Options[key]), render.TextKey),
			d.Renderer.Text(key, render.TextValue))
	}

	fmt.Fprintln(d.Out, d.Renderer.Italic("Please enter a number for an option above: "))
}

func (d *Dispatcher) handleOptions(ctx context.Context, req *defs.OptionsPromptRequest) *defs.PromptResponse {
	timer := time.NewTimer(time.Duration(req.Timeout) * time.Second)
	defer timer.Stop()

	for {
		d.printOptions(req)

		select {
		case <-ctx.Done():
			return d.cancelled(req.MessageID, 0)

		case <-timer.C:
			return d.timedOut(req.MessageID, 0)

		case line, ok := <-d.Input.Lines():
			if !ok {
				return d.cancelled(req.MessageID, 0)
			}
			v, valid := parseOption(line, req.Options)
			if !valid {
				d.printInvalidInput(line)
				continue
			}
			return okResponse(req.MessageID, v)
		}
	}
}

func (d *Dispatcher) handleText(ctx context.Context, req *defs.TextPromptRequest) *defs.PromptResponse {
	var re *regexp.Regexp
	if req.RegexPattern != nil && *req.RegexPattern != "" {
		var err error
		re, err = regexp.Compile("^(?:" + *req.RegexPattern + ")$")
		if err != nil {
			d.Log(logger.Warn, "invalid prompt pattern '%s': %v", *req.RegexPattern, err)
		}
	}

	timer := time.NewTimer(time.Duration(req.Timeout) * time.Second)
	defer timer.Stop()

	for {
		fmt.Fprintln(d.Out, d.Renderer.Italic(req.Prompt))

		select {
		case <-ctx.Done():
			return d.cancelled(req.MessageID, "")

		case <-timer.C:
			return d.timedOut(req.MessageID, "")

		case line, ok := <-d.Input.Lines():
			if !ok {
				return d.cancelled(req.MessageID, "")
			}
			if re != nil && !re.MatchString(line) {
				d.printInvalidInput(line)
				continue
			}
			return okResponse(req.MessageID, line)
		}
	}
}

func validateUploadFile(fpath string) error {
	info, err := os.Stat(fpath)
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("'%s' is not a regular file", fpath)
	}

	switch strings.ToLower(filepath.Ext(fpath)) {
	case ".txt", ".log":
	default:
		return fmt.Errorf("invalid file type '%s', only .txt and .log files are supported",
			filepath.Ext(fpath))
	}

	if info.Size() > maxUploadSize {
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)", info.Size(), maxUploadSize)
	}

	f, err := os.Open(fpath)
	if err != nil {
		return err
	}
	f.Close()

	return nil
}

func (d *Dispatcher) handleFileUpload(ctx context.Context, req *defs.PromptRequest) *defs.PromptResponse {
	timer := time.NewTimer(time.Duration(req.Timeout) * time.Second)
	defer timer.Stop()

	fmt.Fprintln(d.Out, req.Prompt)

	for {
		fmt.Fprintln(d.Out, "Enter the path to the file to upload (or press Enter to skip): ")

		select {
		case <-ctx.Done():
			return d.cancelled(req.MessageID, "")

		case <-timer.C:
			return d.timedOut(req.MessageID, "")

		case line, ok := <-d.Input.Lines():
			if !ok {
				return d.cancelled(req.MessageID, "")
			}

			fpath := strings.TrimSpace(line)
			if fpath == "" {
				return okResponse(req.MessageID, "")
			}

			err := validateUploadFile(fpath)
			if err != nil {
				fmt.Fprintln(d.ErrOut, d.Renderer.Text(
					fmt.Sprintf("Invalid file path or type: %v", err), render.TextError))
				continue
			}

			return d.uploadFile(ctx, req.MessageID, fpath)
		}
	}
}

func (d *Dispatcher) uploadFile(ctx context.Context, messageID int, fpath string) *defs.PromptResponse {
	uploaded, err := d.Uploader.UploadFile(ctx, fpath)
	if err != nil {
		fmt.Fprintln(d.ErrOut, d.Renderer.Text(
			fmt.Sprintf("Network error during file upload: %v", err), render.TextError))
		return okResponse(messageID, "")
	}
	if !uploaded {
		fmt.Fprintln(d.ErrOut, d.Renderer.Text("File upload failed", render.TextError))
		return okResponse(messageID, "")
	}

	fmt.Fprintln(d.Out, d.Renderer.Text("File uploaded successfully", render.TextSuccess))
	return okResponse(messageID, "SUCCESS")
}

func decodeImageHex(s string) ([]byte, error) {
	parts := strings.Split(s, ",")
	buf := make([]byte, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex octet '%s'", part)
		}
		buf[i] = byte(v)
	}
	return buf, nil
}

func (d *Dispatcher) handleImage(ctx context.Context, req *defs.ImagePromptRequest) *defs.PromptResponse {
	buf, err := decodeImageHex(req.ImageHexStr)
	if err != nil {
		fmt.Fprintln(d.ErrOut, d.Renderer.Text(
			fmt.Sprintf("Could not decode the image: %v", err), render.TextError))
		return statusResponse(req.MessageID, defs.ResponseStatusInvalid, 0)
	}

	err = os.MkdirAll(d.Conf.VideoDir, 0o755)
	if err != nil {
		fmt.Fprintln(d.ErrOut, d.Renderer.Text(
			fmt.Sprintf("Could not save the image: %v", err), render.TextError))
		return statusResponse(req.MessageID, defs.ResponseStatusInvalid, 0)
	}

	fpath := filepath.Join(d.Conf.VideoDir, fmt.Sprintf("image_verification_%d_%s.jpg",
		req.MessageID, time.Now().Format("20060102_150405")))

	err = os.WriteFile(fpath, buf, 0o644)
	if err != nil {
		fmt.Fprintln(d.ErrOut, d.Renderer.Text(
			fmt.Sprintf("Could not save the image: %v", err), render.TextError))
		return statusResponse(req.MessageID, defs.ResponseStatusInvalid, 0)
	}

	fmt.Fprintf(d.Out, "Image saved to: %s\n", fpath)
	fmt.Fprintln(d.Out, "Please view the image and answer the verification question:")

	return d.handleOptions(ctx, &req.OptionsPromptRequest)
}

func (d *Dispatcher) handleTwoWayTalk(ctx context.Context, req *defs.OptionsPromptRequest) *defs.PromptResponse {
	if d.Peer == nil {
		d.Log(logger.Warn, "no WebRTC peer is available, two-way talk cannot proceed; answer from the terminal")
	} else {
		speaker, mic := d.Peer.AudioLevels()
		d.Log(logger.Info, "WebRTC peer available (connected: %v, speaker: %d%%, mic: %d%%)",
			d.Peer.Connected(), speaker, mic)
	}

	return d.handleOptions(ctx, req)
}
