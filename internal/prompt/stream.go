package prompt

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/project-chip/certification-tool-cli/internal/defs"
	"github.com/project-chip/certification-tool-cli/internal/ffmpeg"
	"github.com/project-chip/certification-tool-cli/internal/logger"
	"github.com/project-chip/certification-tool-cli/internal/render"
	"github.com/project-chip/certification-tool-cli/internal/servers/verification"
	"github.com/project-chip/certification-tool-cli/internal/videostream"
)

func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("cmd", "/c", "start", u).Start()
	case "linux":
		return exec.Command("xdg-open", u).Start()
	}
	return fmt.Errorf("unsupported platform '%s'", runtime.GOOS)
}

func (d *Dispatcher) streamError(messageID int, err error) *defs.PromptResponse {
	fmt.Fprintln(d.ErrOut, d.Renderer.Text("Error: "+err.Error(), render.TextError))
	return statusResponse(messageID, defs.ResponseStatusInvalid, 0)
}

// handleStream runs the full live-video verification flow: ingest,
// transcoder, embedded HTTP server, browser. The server and the
// pipeline are torn down before the response is handed back.
func (d *Dispatcher) handleStream(ctx context.Context, req *defs.OptionsPromptRequest) *defs.PromptResponse {
	err := ffmpeg.Check(d.Conf.FFmpegCommand)
	if err != nil {
		if errors.Is(err, ffmpeg.ErrNotInstalled) {
			fmt.Fprintln(d.ErrOut, ffmpeg.InstallGuidance())
			return statusResponse(req.MessageID, defs.ResponseStatusInvalid, 0)
		}
		return d.streamError(req.MessageID, err)
	}

	stream := &videostream.Stream{
		IngestURL:     d.Conf.VideoIngestURL(),
		CaptureDir:    d.Conf.VideoDir,
		MessageID:     req.MessageID,
		FFmpegCommand: d.Conf.FFmpegCommand,
		Parent:        d,
	}
	err = stream.Initialize()
	if err != nil {
		return d.streamError(req.MessageID, err)
	}
	defer stream.Close()

	server := &verification.Server{
		Port:       d.Conf.VerificationPort,
		PromptText: req.Prompt,
		Options:    req.Options,
		Stream:     stream,
		PPROF:      d.Conf.PPROF,
		Parent:     d,
	}
	err = server.Initialize()
	if err != nil {
		return d.streamError(req.MessageID, err)
	}
	defer server.Close()

	fmt.Fprintln(d.Out, d.Renderer.Italic(req.Prompt))

	u := d.Conf.VerificationURL()
	fmt.Fprintf(d.Out, "Please verify the video at: %s\n", u)

	err = d.OpenBrowser(u)
	if err != nil {
		d.Log(logger.Warn, "could not open the browser: %v", err)
		fmt.Fprintf(d.Out, "Please manually open: %s\n", u)
	} else {
		fmt.Fprintln(d.Out, "Opening video stream in browser...")
	}

	fmt.Fprintln(d.Out, "Waiting for your response in the web interface...")

	timer := time.NewTimer(time.Duration(req.Timeout) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.cancelled(req.MessageID, 0)

		case <-timer.C:
			return d.timedOut(req.MessageID, 0)

		case v := <-server.Response():
			return okResponse(req.MessageID, v)

		// the prompt stays answerable from the terminal in case no
		// browser is available.
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
