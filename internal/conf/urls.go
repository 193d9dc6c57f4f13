package conf

import (
	"fmt"
	"net"
)

// BaseURL returns the REST base URL of the backend.
func (conf *Conf) BaseURL() string {
	return "http://" + conf.Hostname + "/api/v1"
}

// EventsURL returns the URL of the test run event channel.
func (conf *Conf) EventsURL() string {
	return "ws://" + conf.Hostname + "/api/v1/ws"
}

// VideoIngestURL returns the URL of the raw H.264 video stream.
func (conf *Conf) VideoIngestURL() string {
	return "ws://" + conf.Hostname + "/api/v1/ws/video"
}

// SignalingURL returns the URL of the WebRTC signaling channel.
func (conf *Conf) SignalingURL() string {
	return "ws://" + conf.Hostname + "/api/v1/ws/webrtc/peer"
}

// VerificationURL returns the URL of the local verification page. The
// page is served by this process, but it is advertised under the
// configured hostname so it works when the tool runs on a remote box.
func (conf *Conf) VerificationURL() string {
	host := conf.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return fmt.Sprintf("http://%s:%d/", host, conf.VerificationPort)
}
