//go:build linux || darwin

package videostream

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/project-chip/certification-tool-cli/internal/test"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// a minimal valid MP4 ftyp box, echoed back by the fake transcoder.
var ftypBox = []byte{
	0x00, 0x00, 0x00, 0x14, 'f', 't', 'y', 'p',
	'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
	'i', 's', 'o', 'm',
}

func writeFakeTranscoder(t *testing.T) string {
	fpath := filepath.Join(t.TempDir(), "fake_ffmpeg")
	err := os.WriteFile(fpath, []byte("#!/bin/sh\nexec cat\n"), 0o755)
	require.NoError(t, err)
	return fpath
}

func TestStream(t *testing.T) {
	frameSent := make(chan struct{})
	hold := make(chan struct{})

	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		err = conn.WriteMessage(websocket.BinaryMessage, ftypBox)
		require.NoError(t, err)
		close(frameSent)

		<-hold
	}))
	defer hs.Close()
	defer close(hold)

	s := &Stream{
		IngestURL:     "ws" + strings.TrimPrefix(hs.URL, "http"),
		CaptureDir:    t.TempDir(),
		MessageID:     42,
		FFmpegCommand: writeFakeTranscoder(t),
		Parent:        test.NilLogger,
	}
	err := s.Initialize()
	require.NoError(t, err)

	r := s.AddReader()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not become ready")
	}

	var got []byte
	select {
	case chunk := <-r.Chunks():
		got = chunk
	case <-time.After(2 * time.Second):
		t.Fatal("no MP4 chunk received")
	}
	require.Equal(t, ftypBox, got)

	<-frameSent
	s.Close()

	// end of stream is signaled to readers.
	for range r.Chunks() {
	}

	// the raw capture is kept on disk.
	buf, err := os.ReadFile(s.CapturePath())
	require.NoError(t, err)
	require.Equal(t, ftypBox, buf)
}

func TestStreamConnectRetriesExhausted(t *testing.T) {
	s := &Stream{
		IngestURL:     "ws://127.0.0.1:1/",
		CaptureDir:    t.TempDir(),
		MessageID:     1,
		FFmpegCommand: writeFakeTranscoder(t),
		Parent:        test.NilLogger,
	}
	err := s.Initialize()
	require.Error(t, err)
	require.Contains(t, err.Error(), "could not connect to video stream")

	// the aborted capture file is cleaned up.
	entries, err := os.ReadDir(s.CaptureDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
