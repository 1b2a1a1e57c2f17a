// Package signaling implements the REST client used to prepare and
// negotiate a streaming session: pipeline status probe, pipeline load,
// ICE-server fetch, offer submission, and trickle-ICE candidate submission.
// The client is stateless besides its base endpoint.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/driftlabs/dreamstream/internal/protocol"
)

const (
	statusPath     = "/api/pipeline/status"
	loadPath       = "/api/pipeline/load"
	iceServersPath = "/api/ice-servers"
	offerPath      = "/api/offer"

	defaultRequestTimeout = 15 * time.Second
)

// Client performs the signaling calls against a configured base endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a signaling client for the given base URL. The HTTP
// client carries a bounded timeout; callers additionally cancel in-flight
// requests through context.
func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger.Named("signaling"),
	}, nil
}

// ProbePipeline fetches the backend's current pipeline status. The caller
// decides how to interpret anything other than StatusLoaded.
func (c *Client) ProbePipeline(ctx context.Context) (*PipelineStatus, error) {
	var status PipelineStatus
	if err := c.getJSON(ctx, "probe pipeline", statusPath, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// LoadPipeline asks the backend to load the given pipeline configuration.
// Success means the request was accepted, not that loading completed; the
// caller polls ProbePipeline to observe completion.
func (c *Client) LoadPipeline(ctx context.Context, config PipelineConfig) error {
	return c.sendJSON(ctx, "load pipeline", http.MethodPost, loadPath, config, nil)
}

// FetchIceServers retrieves the backend's ICE server list. Parse and
// network failures are returned as-is; the session layer substitutes a
// fallback descriptor rather than treating them as fatal.
func (c *Client) FetchIceServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	var resp iceServersResponse
	if err := c.getJSON(ctx, "fetch ice servers", iceServersPath, &resp); err != nil {
		return nil, err
	}
	if len(resp.IceServers) == 0 {
		return nil, &ProtocolError{Op: "fetch ice servers", Message: "empty iceServers list"}
	}
	servers := make([]webrtc.ICEServer, 0, len(resp.IceServers))
	for _, d := range resp.IceServers {
		s := webrtc.ICEServer{URLs: d.URLs, Username: d.Username}
		if d.Credential != "" {
			s.Credential = d.Credential
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// SubmitOffer posts the local SDP offer together with the complete initial
// parameter set and returns the remote answer plus the assigned session id.
func (c *Client) SubmitOffer(ctx context.Context, offer webrtc.SessionDescription, initial protocol.ParameterSet) (*OfferAnswer, error) {
	req := offerRequest{
		SDP:               offer.SDP,
		Type:              offer.Type.String(),
		InitialParameters: initial,
	}
	var answer OfferAnswer
	if err := c.sendJSON(ctx, "submit offer", http.MethodPost, offerPath, req, &answer); err != nil {
		return nil, err
	}
	if answer.SessionID == "" {
		return nil, &ProtocolError{Op: "submit offer", Message: "answer missing sessionId"}
	}
	if answer.SDP == "" {
		return nil, &ProtocolError{Op: "submit offer", Message: "answer missing sdp"}
	}
	return &answer, nil
}

// SubmitCandidates sends a batch of trickle-ICE candidates for the given
// session. Fire-and-forget: a 2xx is the only acknowledgment.
func (c *Client) SubmitCandidates(ctx context.Context, sessionID string, candidates []IceCandidate) error {
	if sessionID == "" {
		return &ProtocolError{Op: "submit candidates", Message: "empty session id"}
	}
	if len(candidates) == 0 {
		return nil
	}
	path := offerPath + "/" + url.PathEscape(sessionID)
	return c.sendJSON(ctx, "submit candidates", http.MethodPatch, path, candidatesRequest{Candidates: candidates}, nil)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return c.do(op, req, out)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProtocolError{Op: op, Message: "marshal request body", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("signaling call completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{
			Op:  op,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Op: op, Message: "decode response body", Err: err}
	}
	return nil
}
