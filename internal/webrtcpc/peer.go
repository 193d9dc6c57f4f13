// Package webrtcpc contains the WebRTC peer that receives audio and
// video from the device under test during camera and two-way-talk
// certification tests.
package webrtcpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/project-chip/certification-tool-cli/internal/logger"
)

const (
	defaultSessionID = "cli-session"
	keyFrameInterval = 2 * time.Second
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// signaling message types exchanged with the remote controller.
const (
	msgCreatePeerConnection   = "CREATE_PEER_CONNECTION"
	msgCreateOffer            = "CREATE_OFFER"
	msgCreateAnswer           = "CREATE_ANSWER"
	msgSetRemoteOffer         = "SET_REMOTE_OFFER"
	msgSetRemoteAnswer        = "SET_REMOTE_ANSWER"
	msgSetRemoteICECandidates = "SET_REMOTE_ICE_CANDIDATES"
	msgLocalICECandidates     = "LOCAL_ICE_CANDIDATES"
	msgPeerConnectionState    = "PEER_CONNECTION_STATE"
	msgClosePeerConnection    = "CLOSE_PEER_CONNECTION"
)

type inboundMessage struct {
	Type           string          `json:"type"`
	SessionID      string          `json:"sessionId"`
	SessionIDSnake string          `json:"session_id"`
	Data           json.RawMessage `json:"data"`
	Error          json.RawMessage `json:"error"`
	EventID        json.RawMessage `json:"event_id"`
	MessageID      json.RawMessage `json:"message_id"`
}

// sessionID returns the session id of the message, which may arrive in
// either camelCase or snake_case.
func (m *inboundMessage) sessionID() string {
	if m.SessionID != "" {
		return m.SessionID
	}
	return m.SessionIDSnake
}

type outboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      interface{}     `json:"data"`
	Error     interface{}     `json:"error"`
	EventID   json.RawMessage `json:"event_id,omitempty"`
	MessageID json.RawMessage `json:"message_id,omitempty"`
}

type iceCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid"`
}

// tracksAreValid checks whether the offered tracks are at most a single
// audio plus a single video track.
func tracksAreValid(medias []*sdp.MediaDescription) error {
	videoTrack := false
	audioTrack := false

	for _, media := range medias {
		switch media.MediaName.Media {
		case "video":
			if videoTrack {
				return fmt.Errorf("only a single video and a single audio track are supported")
			}
			videoTrack = true

		case "audio":
			if audioTrack {
				return fmt.Errorf("only a single video and a single audio track are supported")
			}
			audioTrack = true

		default:
			return fmt.Errorf("unsupported media '%s'", media.MediaName.Media)
		}
	}

	if !videoTrack && !audioTrack {
		return fmt.Errorf("no valid tracks found")
	}

	return nil
}

// Peer is a receive-only WebRTC peer driven by the controller through
// the signaling socket. It acknowledges session setup, exchanges SDP
// and ICE candidates, and measures the level of the inbound audio.
type Peer struct {
	SignalingURL string
	STUNServers  []string
	Parent       logger.Writer

	// OnVideoPacket is an optional hook for inbound video RTP packets.
	OnVideoPacket func(*rtp.Packet)

	conn             *websocket.Conn
	pc               *webrtc.PeerConnection
	writeMutex       sync.Mutex
	sessionMutex     sync.Mutex
	sessionID        string
	stateChangeMutex sync.Mutex
	connected        atomic.Bool
	speakerLevel     atomic.Int32
	videoPackets     atomic.Uint64
	done             chan struct{}
}

// Initialize initializes the Peer. It connects to the signaling socket
// and prepares the peer connection, then waits for the controller to
// drive the negotiation.
func (p *Peer) Initialize() error {
	if p.STUNServers == nil {
		p.STUNServers = defaultSTUNServers
	}
	if p.OnVideoPacket == nil {
		p.OnVideoPacket = func(*rtp.Packet) {}
	}
	p.sessionID = defaultSessionID

	var err error
	p.conn, _, err = websocket.DefaultDialer.Dial(p.SignalingURL, nil)
	if err != nil {
		return fmt.Errorf("could not connect to signaling socket: %w", err)
	}

	mediaEngine := &webrtc.MediaEngine{}
	err = mediaEngine.RegisterDefaultCodecs()
	if err != nil {
		p.conn.Close()
		return err
	}

	interceptorRegistry := &interceptor.Registry{}
	err = webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry)
	if err != nil {
		p.conn.Close()
		return err
	}

	settingsEngine := webrtc.SettingEngine{
		LoggerFactory: &pionLoggerFactory{parent: p},
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingsEngine),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry))

	iceServers := make([]webrtc.ICEServer, len(p.STUNServers))
	for i, u := range p.STUNServers {
		iceServers[i] = webrtc.ICEServer{URLs: []string{u}}
	}

	p.pc, err = api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		p.conn.Close()
		return err
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err = p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			p.pc.GracefulClose() //nolint:errcheck
			p.conn.Close()
			return err
		}
	}

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.stateChangeMutex.Lock()
		defer p.stateChangeMutex.Unlock()

		p.Log(logger.Debug, "peer connection state: %s", state.String())

		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.Log(logger.Info, "peer connection established")
			p.connected.Store(true)

		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.connected.Store(false)
		}
	})

	p.pc.OnICECandidate(func(i *webrtc.ICECandidate) {
		if i == nil {
			return
		}
		v := i.ToJSON()
		err2 := p.writeMessage(&outboundMessage{
			Type:      msgLocalICECandidates,
			SessionID: p.currentSessionID(),
			Data: iceCandidate{
				Candidate:     v.Candidate,
				SDPMLineIndex: v.SDPMLineIndex,
				SDPMid:        v.SDPMid,
			},
		})
		if err2 != nil {
			p.Log(logger.Warn, "could not send local ICE candidate: %v", err2)
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.Log(logger.Info, "received %s track (%s)", track.Kind(), track.Codec().MimeType)

		go p.readRTCP(receiver)

		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			go p.readAudio(track)

		case webrtc.RTPCodecTypeVideo:
			go p.requestKeyFrames(track)
			go p.readVideo(track)
		}
	})

	p.done = make(chan struct{})
	go p.run()

	p.Log(logger.Info, "signaling socket connected, waiting for the controller")

	return nil
}

// Log implements logger.Writer.
func (p *Peer) Log(level logger.Level, format string, args ...interface{}) {
	p.Parent.Log(level, "[webrtc] "+format, args...)
}

// Connected reports whether the media session with the device is
// currently established.
func (p *Peer) Connected() bool {
	return p.connected.Load()
}

// AudioLevels returns the current speaker and microphone levels in the
// 0-100 range. The microphone level is always zero in receive-only mode.
func (p *Peer) AudioLevels() (int, int) {
	return int(p.speakerLevel.Load()), 0
}

// SessionID returns the current signaling session id.
func (p *Peer) SessionID() string {
	return p.currentSessionID()
}

// VideoPackets returns the number of video RTP packets received so far.
func (p *Peer) VideoPackets() uint64 {
	return p.videoPackets.Load()
}

// Close closes the peer connection and the signaling socket.
func (p *Peer) Close() {
	p.pc.GracefulClose() //nolint:errcheck
	p.conn.Close()
	<-p.done
	p.Log(logger.Info, "peer closed")
}

func (p *Peer) currentSessionID() string {
	p.sessionMutex.Lock()
	defer p.sessionMutex.Unlock()
	return p.sessionID
}

func (p *Peer) setSessionID(id string) {
	p.sessionMutex.Lock()
	defer p.sessionMutex.Unlock()
	p.sessionID = id
}

func (p *Peer) writeMessage(msg *outboundMessage) error {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	return p.conn.WriteJSON(msg)
}

func (p *Peer) run() {
	defer close(p.done)

	for {
		_, buf, err := p.conn.ReadMessage()
		if err != nil {
			p.Log(logger.Debug, "signaling socket closed: %v", err)
			return
		}

		var msg inboundMessage
		err = json.Unmarshal(buf, &msg)
		if err != nil {
			p.Log(logger.Warn, "invalid signaling message: %v", err)
			continue
		}

		p.handleMessage(&msg)
	}
}

func (p *Peer) handleMessage(msg *inboundMessage) {
	p.Log(logger.Debug, "received signaling message: %s", msg.Type)

	switch msg.Type {
	case msgCreatePeerConnection:
		p.handleCreatePeerConnection(msg)

	case msgCreateOffer:
		p.handleCreateOffer()

	case msgSetRemoteOffer:
		p.handleRemoteOffer(msg)

	case msgSetRemoteAnswer:
		p.handleRemoteAnswer(msg)

	case msgSetRemoteICECandidates:
		p.handleRemoteCandidates(msg)

	case msgPeerConnectionState:
		var state string
		json.Unmarshal(msg.Data, &state) //nolint:errcheck
		p.Log(logger.Info, "controller reports peer connection state: %s", state)

	case msgClosePeerConnection:
		// the controller may retry negotiation later, keep the
		// signaling socket alive.
		reason := "no reason given"
		var s string
		if json.Unmarshal(msg.Error, &s) == nil && s != "" {
			reason = s
		}
		p.Log(logger.Warn, "controller closed the peer connection (%s), keeping signaling alive", reason)

	default:
		p.Log(logger.Warn, "unhandled signaling message type: %s", msg.Type)
	}
}

func (p *Peer) handleCreatePeerConnection(msg *inboundMessage) {
	id := msg.sessionID()
	if id == "" {
		id = uuid.New().String()
	}
	p.setSessionID(id)

	p.Log(logger.Info, "acknowledging peer connection for session %s", id)

	err := p.writeMessage(&outboundMessage{
		Type:      msg.Type,
		SessionID: id,
		EventID:   msg.EventID,
		MessageID: msg.MessageID,
	})
	if err != nil {
		p.Log(logger.Error, "could not send peer connection acknowledgement: %v", err)
	}
}

func (p *Peer) handleCreateOffer() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.Log(logger.Error, "could not create offer: %v", err)
		return
	}

	err = p.pc.SetLocalDescription(offer)
	if err != nil {
		p.Log(logger.Error, "could not set local offer: %v", err)
		return
	}

	err = p.writeMessage(&outboundMessage{
		Type:      msgCreateOffer,
		SessionID: p.currentSessionID(),
		Data:      p.pc.LocalDescription().SDP,
	})
	if err != nil {
		p.Log(logger.Error, "could not send offer: %v", err)
		return
	}

	p.Log(logger.Info, "sent offer to the controller")
}

func (p *Peer) handleRemoteOffer(msg *inboundMessage) {
	var offerSDP string
	err := json.Unmarshal(msg.Data, &offerSDP)
	if err != nil {
		p.Log(logger.Warn, "invalid remote offer: %v", err)
		return
	}

	var desc sdp.SessionDescription
	if desc.Unmarshal([]byte(offerSDP)) == nil {
		err = tracksAreValid(desc.MediaDescriptions)
		if err != nil {
			p.Log(logger.Warn, "remote offer: %v", err)
		}
	}

	err = p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	})
	if err != nil {
		p.Log(logger.Error, "could not set remote offer: %v", err)
		return
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.Log(logger.Error, "could not create answer: %v", err)
		return
	}

	err = p.pc.SetLocalDescription(answer)
	if err != nil {
		p.Log(logger.Error, "could not set local answer: %v", err)
		return
	}

	err = p.writeMessage(&outboundMessage{
		Type:      msgCreateAnswer,
		SessionID: p.currentSessionID(),
		Data:      p.pc.LocalDescription().SDP,
	})
	if err != nil {
		p.Log(logger.Error, "could not send answer: %v", err)
		return
	}

	p.Log(logger.Info, "sent answer to the controller")
}

func (p *Peer) handleRemoteAnswer(msg *inboundMessage) {
	var answerSDP string
	err := json.Unmarshal(msg.Data, &answerSDP)
	if err != nil {
		p.Log(logger.Warn, "invalid remote answer: %v", err)
		return
	}

	err = p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
	if err != nil {
		p.Log(logger.Error, "could not set remote answer: %v", err)
		return
	}

	p.Log(logger.Info, "set remote answer from the device")
}

func (p *Peer) handleRemoteCandidates(msg *inboundMessage) {
	// the candidate list may arrive either as an array or as a single
	// object.
	var candidates []iceCandidate
	err := json.Unmarshal(msg.Data, &candidates)
	if err != nil {
		var single iceCandidate
		err2 := json.Unmarshal(msg.Data, &single)
		if err2 != nil {
			p.Log(logger.Warn, "invalid remote ICE candidates: %v", err)
			return
		}
		candidates = []iceCandidate{single}
	}

	for _, c := range candidates {
		err = p.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     c.Candidate,
			SDPMLineIndex: c.SDPMLineIndex,
			SDPMid:        c.SDPMid,
		})
		if err != nil {
			p.Log(logger.Warn, "could not add remote ICE candidate: %v", err)
		}
	}
}

// incoming RTCP packets must always be read to make interceptors work.
func (p *Peer) readRTCP(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, 1500)
	for {
		_, _, err := receiver.Read(buf)
		if err != nil {
			return
		}
	}
}

// send periodic key frame requests.
func (p *Peer) requestKeyFrames(track *webrtc.TrackRemote) {
	keyframeTicker := time.NewTicker(keyFrameInterval)
	defer keyframeTicker.Stop()

	for range keyframeTicker.C {
		err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{
				MediaSSRC: uint32(track.SSRC()),
			},
		})
		if err != nil {
			return
		}
	}
}

func (p *Peer) readAudio(track *webrtc.TrackRemote) {
	mimeType := track.Codec().MimeType

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		p.speakerLevel.Store(int32(audioLevel(mimeType, pkt.Payload)))
	}
}

func (p *Peer) readVideo(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		p.videoPackets.Add(1)
		p.OnVideoPacket(pkt)
	}
}
