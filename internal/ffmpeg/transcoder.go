// Package ffmpeg runs the external transcoder process.
package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/project-chip/certification-tool-cli/internal/logger"
)

const (
	defaultCommand = "ffmpeg"
	readChunkSize  = 8192
	stopTimeout    = 5 * time.Second
)

// ErrNotInstalled is returned when the transcoder executable cannot be
// found in PATH.
var ErrNotInstalled = errors.New("ffmpeg is not installed")

// InstallGuidance returns a block of instructions shown to the user
// when the transcoder is missing.
func InstallGuidance() string {
	return "----------------------------------------------------------------\n" +
		"FFmpeg is NOT installed!\n" +
		"----------------------------------------------------------------\n" +
		"\n" +
		"FFmpeg is required for video streaming functionality.\n" +
		"\n" +
		"Installation instructions:\n" +
		"\n" +
		"    sudo apt-get update\n" +
		"    sudo apt-get install ffmpeg\n" +
		"\n" +
		"After installation, verify with:\n" +
		"    ffmpeg -version\n" +
		"\n" +
		"----------------------------------------------------------------\n"
}

// Check verifies that the transcoder described by command (empty means
// "ffmpeg") is available.
func Check(command string) error {
	parts, err := splitCommand(command)
	if err != nil {
		return err
	}

	_, err = exec.LookPath(parts[0])
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH", ErrNotInstalled, parts[0])
	}
	return nil
}

func splitCommand(command string) ([]string, error) {
	if command == "" {
		command = defaultCommand
	}

	parts, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid transcoder command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("invalid transcoder command: empty")
	}
	return parts, nil
}

// Transcoder converts a raw H.264 Annex-B stream piped into Write()
// into fragmented MP4, delivered as chunks to OnChunk.
type Transcoder struct {
	// Overrides the command line, empty means "ffmpeg". Extra arguments
	// after the executable are inserted before the input options.
	Command string
	Parent  logger.Writer

	// Called from the reader goroutine for every output chunk.
	OnChunk func([]byte)

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	readDone chan struct{}
}

// Initialize starts the transcoder process.
func (t *Transcoder) Initialize() error {
	parts, err := splitCommand(t.Command)
	if err != nil {
		return err
	}

	binPath, err := exec.LookPath(parts[0])
	if err != nil {
		return fmt.Errorf("%w: %s not found in PATH", ErrNotInstalled, parts[0])
	}

	args := append(parts[1:],
		"-hide_banner", "-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "mp4",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-g", "30",
		"-keyint_min", "30",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-y", "pipe:1",
	)

	t.cmd = exec.Command(binPath, args...)

	t.stdin, err = t.cmd.StdinPipe()
	if err != nil {
		return err
	}

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return err
	}

	err = t.cmd.Start()
	if err != nil {
		return err
	}

	t.Log(logger.Debug, "process started (%s)", binPath)

	t.readDone = make(chan struct{})
	go t.readOutput(stdout)

	return nil
}

// Log implements logger.Writer.
func (t *Transcoder) Log(level logger.Level, format string, args ...interface{}) {
	t.Parent.Log(level, "[transcoder] "+format, args...)
}

func (t *Transcoder) readOutput(stdout io.Reader) {
	defer close(t.readDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.OnChunk(chunk)
		}
		if err != nil {
			return
		}
	}
}

// Write feeds raw H.264 bytes to the transcoder.
func (t *Transcoder) Write(p []byte) (int, error) {
	return t.stdin.Write(p)
}

// Close flushes and stops the transcoder. The process gets a grace
// period to drain, then it is killed.
func (t *Transcoder) Close() {
	t.stdin.Close()

	waitDone := make(chan struct{})
	go func() {
		t.cmd.Wait() //nolint:errcheck
		close(waitDone)
	}()

	select {
	case <-waitDone:

	case <-time.After(stopTimeout):
		t.Log(logger.Warn, "process did not exit, killing it")
		t.cmd.Process.Kill() //nolint:errcheck
		<-waitDone
	}

	<-t.readDone
	t.Log(logger.Debug, "process stopped")
}
