package webrtcpc

import (
	"bytes"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

func TestAudioLevelSilence(t *testing.T) {
	require.Equal(t, 0, audioLevel(webrtc.MimeTypeOpus, make([]byte, 320)))
	require.Equal(t, 0, audioLevel(webrtc.MimeTypeOpus, nil))
}

func TestAudioLevelFullScale(t *testing.T) {
	// a full-scale 16-bit big-endian square wave clamps to 100.
	payload := bytes.Repeat([]byte{0x7f, 0xff}, 160)
	require.Equal(t, 100, audioLevel("audio/L16", payload))
}

func TestAudioLevelPCMU(t *testing.T) {
	// a loud little-endian LPCM signal survives the G.711 roundtrip.
	lpcm := bytes.Repeat([]byte{0xff, 0x7f}, 160)
	payload := g711.EncodeUlaw(lpcm)

	level := audioLevel(webrtc.MimeTypePCMU, payload)
	require.Greater(t, level, 50)
	require.LessOrEqual(t, level, 100)
}

func TestAudioLevelPCMA(t *testing.T) {
	lpcm := bytes.Repeat([]byte{0xff, 0x7f}, 160)
	payload := g711.EncodeAlaw(lpcm)

	level := audioLevel(webrtc.MimeTypePCMA, payload)
	require.Greater(t, level, 50)
	require.LessOrEqual(t, level, 100)
}
