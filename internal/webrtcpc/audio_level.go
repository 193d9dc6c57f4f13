package webrtcpc

import (
	"math"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/zaf/g711"
)

// audioLevel converts a single RTP audio payload into a loudness
// percentage in the 0-100 range. G.711 payloads are expanded to LPCM
// first; anything else is treated as 16-bit big-endian PCM.
func audioLevel(mimeType string, payload []byte) int {
	var samples []int16

	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMU):
		samples = samplesLE(g711.DecodeUlaw(payload))

	case strings.EqualFold(mimeType, webrtc.MimeTypePCMA):
		samples = samplesLE(g711.DecodeAlaw(payload))

	default:
		samples = samplesBE(payload)
	}

	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	return min(100, int(rms*200))
}

func samplesLE(lpcm []byte) []int16 {
	samples := make([]int16, len(lpcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(lpcm[i*2]) | uint16(lpcm[i*2+1])<<8)
	}
	return samples
}

func samplesBE(lpcm []byte) []int16 {
	samples := make([]int16, len(lpcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(lpcm[i*2])<<8 | uint16(lpcm[i*2+1]))
	}
	return samples
}
