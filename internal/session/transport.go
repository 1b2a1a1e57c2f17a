package session

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const dataChannelLabel = "parameters"

// transport owns the live WebRTC resources of one negotiation attempt: the
// peer connection, the control data channel, and the optional outbound
// video track. No policy lives here; it exists so the orchestrator has a
// single place to release everything together, exactly once.
type transport struct {
	pc          *webrtc.PeerConnection
	dataChannel *webrtc.DataChannel
	localTrack  *webrtc.TrackLocalStaticSample

	closeOnce sync.Once
	closeErr  error
	logger    *zap.Logger
}

func newTransport(iceServers []webrtc.ICEServer, logger *zap.Logger) (*transport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	// Ordered + reliable are the pion defaults; the control protocol
	// depends on in-order delivery.
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	return &transport{
		pc:          pc,
		dataChannel: dc,
		logger:      logger.Named("transport"),
	}, nil
}

// attachVideoSource adds the outbound VP8 track. Only called when the
// session was configured with a local frame source.
func (t *transport) attachVideoSource() error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "dreamstream-input",
	)
	if err != nil {
		return fmt.Errorf("failed to create local video track: %w", err)
	}
	if _, err := t.pc.AddTrack(track); err != nil {
		return fmt.Errorf("failed to add local video track: %w", err)
	}
	t.localTrack = track
	return nil
}

// addVideoReceiver adds a recvonly video transceiver so the answer can
// carry the remote stream even when no local track is attached.
func (t *transport) addVideoReceiver() error {
	_, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	if err != nil {
		return fmt.Errorf("failed to add video receiver: %w", err)
	}
	return nil
}

// Close releases all owned resources. Safe to call more than once and from
// within pion callbacks.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		if t.dataChannel != nil {
			if err := t.dataChannel.Close(); err != nil {
				t.logger.Debug("data channel close", zap.Error(err))
			}
		}
		if t.pc != nil {
			t.closeErr = t.pc.Close()
		}
	})
	return t.closeErr
}
