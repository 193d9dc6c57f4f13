package videostream

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/gorilla/websocket"

	"github.com/project-chip/certification-tool-cli/internal/ffmpeg"
	"github.com/project-chip/certification-tool-cli/internal/logger"
)

const (
	connectAttempts   = 10
	connectRetryPause = 500 * time.Millisecond
)

// Stream ingests the raw H.264 stream of one verification prompt,
// transcodes it to fragmented MP4 and fans the output out to HTTP
// readers. It also captures the raw stream to a .bin file.
type Stream struct {
	// URL of the ingest WebSocket.
	IngestURL string

	// Directory that receives the raw capture, created if missing.
	CaptureDir string

	// Message id of the prompt, used in the capture file name.
	MessageID int

	// Transcoder command override, empty means "ffmpeg".
	FFmpegCommand string

	Parent logger.Writer

	broadcaster *Broadcaster
	transcoder  *ffmpeg.Transcoder
	conn        *websocket.Conn
	captureFile *os.File
	capturePath string

	chReady   chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mutex       sync.Mutex
	captureSize uint64
	nalUnits    uint64
}

// Initialize starts the transcoder, connects the ingest socket and
// starts pumping. The ingest connection is retried a bounded number of
// times since the server may not have the stream ready yet.
func (s *Stream) Initialize() error {
	err := os.MkdirAll(s.CaptureDir, 0o755)
	if err != nil {
		return err
	}

	s.capturePath = filepath.Join(s.CaptureDir,
		fmt.Sprintf("video_verification_%d_%s.bin", s.MessageID, time.Now().Format("20060102-150405")))

	s.captureFile, err = os.Create(s.capturePath)
	if err != nil {
		return err
	}

	s.broadcaster = &Broadcaster{}
	s.broadcaster.Initialize()

	s.chReady = make(chan struct{})
	s.done = make(chan struct{})

	s.transcoder = &ffmpeg.Transcoder{
		Command: s.FFmpegCommand,
		Parent:  s.Parent,
		OnChunk: s.onTranscodedChunk,
	}
	err = s.transcoder.Initialize()
	if err != nil {
		s.captureFile.Close()
		os.Remove(s.capturePath)
		return err
	}

	s.conn, err = s.connectIngest()
	if err != nil {
		s.transcoder.Close()
		s.broadcaster.Close()
		s.captureFile.Close()
		os.Remove(s.capturePath)
		return err
	}

	go s.runIngest()

	return nil
}

// Log implements logger.Writer.
func (s *Stream) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[video stream] "+format, args...)
}

func (s *Stream) connectIngest() (*websocket.Conn, error) {
	var lastErr error

	for i := 0; i < connectAttempts; i++ {
		if i != 0 {
			time.Sleep(connectRetryPause)
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.IngestURL, nil)
		if err == nil {
			s.Log(logger.Info, "ingest connected to %s", s.IngestURL)
			return conn, nil
		}
		lastErr = err
		s.Log(logger.Debug, "ingest connection attempt %d failed: %v", i+1, err)
	}

	return nil, fmt.Errorf("could not connect to video stream after %d attempts: %w",
		connectAttempts, lastErr)
}

func (s *Stream) onTranscodedChunk(chunk []byte) {
	s.readyOnce.Do(func() {
		if _, err := mp4.ReadBoxInfo(bytes.NewReader(chunk)); err != nil {
			s.Log(logger.Warn, "transcoder produced an unexpected leading chunk: %v", err)
		}
		close(s.chReady)
	})

	s.broadcaster.Write(chunk)
}

func (s *Stream) runIngest() {
	defer close(s.done)

	for {
		typ, buf, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		// some server versions send base64-encoded text frames.
		if typ == websocket.TextMessage {
			decoded, err2 := base64.StdEncoding.DecodeString(string(buf))
			if err2 != nil {
				s.Log(logger.Debug, "discarding non-binary ingest frame (%d bytes)", len(buf))
				continue
			}
			buf = decoded
		}

		s.captureFile.Write(buf) //nolint:errcheck

		s.mutex.Lock()
		s.captureSize += uint64(len(buf))
		var au h264.AnnexB
		if err2 := au.Unmarshal(buf); err2 == nil {
			s.nalUnits += uint64(len(au))
		}
		s.mutex.Unlock()

		_, err = s.transcoder.Write(buf)
		if err != nil {
			return
		}
	}
}

// Ready returns a channel that is closed when the first transcoded
// chunk is available.
func (s *Stream) Ready() <-chan struct{} {
	return s.chReady
}

// AddReader subscribes to the MP4 output.
func (s *Stream) AddReader() *Reader {
	return s.broadcaster.AddReader()
}

// RemoveReader detaches a reader.
func (s *Stream) RemoveReader(r *Reader) {
	s.broadcaster.RemoveReader(r)
}

// CapturePath returns the path of the raw H.264 capture file.
func (s *Stream) CapturePath() string {
	return s.capturePath
}

// Close stops the pipeline: the ingest socket is closed, the
// transcoder is flushed and stopped, readers receive end of stream.
// The capture file is kept on disk.
func (s *Stream) Close() {
	s.conn.Close()
	<-s.done

	s.transcoder.Close()
	s.broadcaster.Close()
	s.captureFile.Close()

	s.mutex.Lock()
	size := s.captureSize
	nalUnits := s.nalUnits
	s.mutex.Unlock()

	s.Log(logger.Info, "capture saved to %s (%d bytes, %d NAL units)",
		s.capturePath, size, nalUnits)
}
