package signaling

import (
	"github.com/driftlabs/dreamstream/internal/protocol"
)

// Pipeline load status values reported by the backend.
const (
	StatusNotLoaded = "not_loaded"
	StatusLoading   = "loading"
	StatusLoaded    = "loaded"
	StatusError     = "error"
)

// LoadParams are the pipeline dimensions and seed the backend loads with.
type LoadParams struct {
	Height int `json:"height" yaml:"height"`
	Width  int `json:"width" yaml:"width"`
	Seed   int `json:"seed" yaml:"seed"`
}

// PipelineConfig identifies a pipeline and the parameters to load it with.
// It is immutable once a load request has been issued.
type PipelineConfig struct {
	PipelineID string     `json:"pipeline_id" yaml:"pipeline_id"`
	LoadParams LoadParams `json:"load_params" yaml:"load_params"`
}

// Matches reports whether the backend's currently loaded configuration is
// the one we want. A mismatch forces a reload.
func (c PipelineConfig) Matches(status *PipelineStatus) bool {
	return status != nil &&
		status.PipelineID == c.PipelineID &&
		status.LoadParams == c.LoadParams
}

// PipelineStatus is the backend's answer to a status probe.
type PipelineStatus struct {
	Status     string     `json:"status"`
	PipelineID string     `json:"pipeline_id"`
	LoadParams LoadParams `json:"load_params"`
	Error      string     `json:"error,omitempty"`
}

// iceServersResponse is the wire shape of the ICE-server fetch.
type iceServersResponse struct {
	IceServers []IceServerDescriptor `json:"iceServers"`
}

// IceServerDescriptor describes one STUN/TURN server.
type IceServerDescriptor struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// offerRequest carries the local SDP plus the complete initial parameter
// set; the backend applies the parameters before the first frame.
type offerRequest struct {
	SDP               string                `json:"sdp"`
	Type              string                `json:"type"`
	InitialParameters protocol.ParameterSet `json:"initialParameters"`
}

// OfferAnswer is the backend's answer to an offer submission.
type OfferAnswer struct {
	SDP       string `json:"sdp"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// IceCandidate is one trickle-ICE candidate as submitted to the backend.
type IceCandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// candidatesRequest is the body of a trickle-ICE PATCH.
type candidatesRequest struct {
	Candidates []IceCandidate `json:"candidates"`
}
