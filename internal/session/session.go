// Package session drives the lifecycle of a streaming session against the
// generative-video backend: pipeline load and poll, ICE-server fetch,
// offer/answer negotiation with trickle ICE, the data-channel control path,
// and the frame relay between the remote track and the local sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/driftlabs/dreamstream/internal/config"
	"github.com/driftlabs/dreamstream/internal/protocol"
	"github.com/driftlabs/dreamstream/internal/signaling"
)

// ErrPollExhausted is returned by Start when the pipeline never reported
// loaded within the poll bound and Config.RequirePipelineReady is set.
// Without the flag, exhaustion is logged and negotiation proceeds anyway,
// matching the backend clients this protocol grew up with.
var ErrPollExhausted = errors.New("pipeline load poll exhausted")

// ErrStopped is returned when Stop preempts an in-flight start attempt.
var ErrStopped = errors.New("session stopped")

var errNotLoaded = errors.New("pipeline not loaded yet")

// fallbackIceServer is substituted when the ICE-server fetch fails, so
// negotiation can still proceed.
var fallbackIceServer = webrtc.ICEServer{
	URLs: []string{"stun:stun.l.google.com:19302"},
}

// controlSender is the slice of the data channel the control path writes to.
// Satisfied by *webrtc.DataChannel.
type controlSender interface {
	SendText(text string) error
}

// Signaler is the slice of the signaling client the session drives.
type Signaler interface {
	ProbePipeline(ctx context.Context) (*signaling.PipelineStatus, error)
	LoadPipeline(ctx context.Context, config signaling.PipelineConfig) error
	FetchIceServers(ctx context.Context) ([]webrtc.ICEServer, error)
	SubmitOffer(ctx context.Context, offer webrtc.SessionDescription, initial protocol.ParameterSet) (*signaling.OfferAnswer, error)
	SubmitCandidates(ctx context.Context, sessionID string, candidates []signaling.IceCandidate) error
}

// Options carries the optional collaborators of a Session.
type Options struct {
	Logger *zap.Logger

	// Source feeds the outbound video track. Nil means no outbound track
	// is attached.
	Source FrameSource

	// Sink receives the latest remote frame once per relay tick. Nil
	// disables the relay loop.
	Sink FrameSink

	// OnStateChange is invoked after every state transition, outside the
	// session's internal locks.
	OnStateChange func(State)

	// ExtraIceServers are prepended to whatever the backend returns,
	// e.g. an embedded LAN STUN server.
	ExtraIceServers []webrtc.ICEServer
}

// Session owns exactly one peer connection, one data channel, and the
// optional media tracks of a live streaming session. All transport
// resources are released synchronously on Stop or on attempt failure.
type Session struct {
	cfg      *config.Config
	client   Signaler
	logger   *zap.Logger
	source   FrameSource
	sink     FrameSink
	onState  func(State)
	extraIce []webrtc.ICEServer
	relay    *frameRelay

	// channelOpen gates every control send; dc.OnOpen/OnClose keep it
	// current so sends and drops observe a consistent answer.
	channelOpen atomic.Bool

	mu           sync.Mutex
	state        State
	starting     bool
	sessionID    string
	createdAt    time.Time
	transport    *transport
	control      controlSender
	candidates   *candidateQueue
	cancel       context.CancelFunc
	restoreTimer *time.Timer
	manageCache  bool
}

// New builds an idle session. Start establishes the connection.
func New(cfg *config.Config, client Signaler, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("signaling client cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")

	return &Session{
		cfg:         cfg,
		client:      client,
		logger:      logger,
		source:      opts.Source,
		sink:        opts.Sink,
		onState:     opts.OnStateChange,
		extraIce:    opts.ExtraIceServers,
		relay:       newFrameRelay(logger),
		state:       StateIdle,
		manageCache: cfg.InitialParameters.ManageCache,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the backend-assigned session identifier, empty until
// negotiation completes.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// CreatedAt returns when the current attempt started; zero before the
// first Start.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Stats returns a snapshot of the frame-relay counters.
func (s *Session) Stats() RelayStats {
	return s.relay.stats()
}

// Start drives the session to Streaming: pipeline load and bounded status
// poll, ICE-server fetch (with fallback), offer/answer negotiation, and
// the candidate-queue flush. A failed attempt releases its resources,
// moves to Failed, and returns the error; Start may then be called again.
// Calling Start while a session is already active is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting || s.state == StateStreaming {
		s.mu.Unlock()
		s.logger.Debug("start ignored: session already active")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.starting = true
	s.cancel = cancel
	s.createdAt = time.Now()
	s.channelOpen.Store(false)
	// Only a fresh Start leaves a terminal state; every other transition
	// out of Stopped is refused.
	s.state = StateIdle
	s.mu.Unlock()

	err := s.run(runCtx)

	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()

	if err != nil {
		s.failAttempt(err)
		return err
	}
	return nil
}

func (s *Session) run(ctx context.Context) error {
	if !s.setState(StateLoadingPipeline) {
		return ErrStopped
	}
	if err := s.ensurePipelineReady(ctx); err != nil {
		return err
	}

	if !s.setState(StateFetchingIceServers) {
		return ErrStopped
	}
	servers := s.iceServers(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Diagnostic only; negotiation proceeds regardless of the outcome.
	go probeStunServers(ctx, servers, s.logger)

	if !s.setState(StateNegotiating) {
		return ErrStopped
	}
	if err := s.negotiate(ctx, servers); err != nil {
		return err
	}

	if !s.setState(StateStreaming) {
		return ErrStopped
	}
	s.startStreamingLoops(ctx)
	return nil
}

// ensurePipelineReady probes the backend and, unless the desired pipeline
// is already loaded, issues a load request and polls on a fixed interval
// up to the configured attempt bound.
func (s *Session) ensurePipelineReady(ctx context.Context) error {
	status, err := s.client.ProbePipeline(ctx)
	if err != nil {
		return err
	}
	if status.Status == signaling.StatusLoaded && s.cfg.Pipeline.Matches(status) {
		s.logger.Info("pipeline already loaded",
			zap.String("pipeline_id", status.PipelineID))
		return nil
	}

	s.logger.Info("requesting pipeline load",
		zap.String("pipeline_id", s.cfg.Pipeline.PipelineID),
		zap.Int("width", s.cfg.Pipeline.LoadParams.Width),
		zap.Int("height", s.cfg.Pipeline.LoadParams.Height),
		zap.Int("seed", s.cfg.Pipeline.LoadParams.Seed))
	if err := s.client.LoadPipeline(ctx, s.cfg.Pipeline); err != nil {
		return err
	}

	poll := func() error {
		st, probeErr := s.client.ProbePipeline(ctx)
		if probeErr != nil {
			return backoff.Permanent(probeErr)
		}
		if st.Status != signaling.StatusLoaded {
			s.logger.Debug("pipeline not ready", zap.String("status", st.Status))
			return errNotLoaded
		}
		return nil
	}
	// WithMaxRetries counts retries after the first attempt, so the bound
	// here is attempts minus one.
	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(s.cfg.PollInterval),
			uint64(s.cfg.MaxPollAttempts-1)),
		ctx)

	if err := backoff.Retry(poll, bo); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errNotLoaded) {
			if s.cfg.RequirePipelineReady {
				return ErrPollExhausted
			}
			// Historical behavior: give up on polling and carry on as
			// though the pipeline were ready.
			s.logger.Warn("pipeline load poll exhausted, continuing anyway",
				zap.Int("attempts", s.cfg.MaxPollAttempts))
			return nil
		}
		return err
	}
	return nil
}

// iceServers fetches the backend's ICE servers, degrading to the public
// fallback descriptor on any failure.
func (s *Session) iceServers(ctx context.Context) []webrtc.ICEServer {
	servers, err := s.client.FetchIceServers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("ICE server fetch failed, using fallback", zap.Error(err))
		servers = []webrtc.ICEServer{fallbackIceServer}
	}
	if len(s.extraIce) > 0 {
		servers = append(append([]webrtc.ICEServer{}, s.extraIce...), servers...)
	}
	return servers
}

func (s *Session) negotiate(ctx context.Context, servers []webrtc.ICEServer) error {
	tr, err := newTransport(servers, s.logger)
	if err != nil {
		return err
	}
	queue := newCandidateQueue(s.client, s.logger)

	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		tr.Close()
		return ErrStopped
	}
	s.transport = tr
	s.control = tr.dataChannel
	s.candidates = queue
	s.mu.Unlock()

	// Candidates start arriving as soon as the peer connection exists,
	// well before the backend has assigned a session id; the queue
	// buffers them until Activate.
	tr.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		init := c.ToJSON()
		cand := signaling.IceCandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		queue.Enqueue(ctx, cand)
	})

	tr.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("peer connection state changed",
			zap.String("state", state.String()))
	})

	tr.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go s.relay.consumeTrack(ctx, track)
	})

	dc := tr.dataChannel
	dc.OnOpen(func() {
		s.channelOpen.Store(true)
		s.logger.Info("data channel open", zap.String("label", dc.Label()))
	})
	dc.OnClose(func() {
		s.channelOpen.Store(false)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.handleChannelMessage(msg.Data)
	})

	if s.source != nil {
		// AddTrack gives the transceiver a sendrecv direction, which
		// also covers the inbound stream.
		if err := tr.attachVideoSource(); err != nil {
			return err
		}
	} else if err := tr.addVideoReceiver(); err != nil {
		return err
	}

	offer, err := tr.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := tr.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	answer, err := s.client.SubmitOffer(ctx, offer, s.cfg.InitialParameters)
	if err != nil {
		return err
	}

	remote := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(answer.Type),
		SDP:  answer.SDP,
	}
	if err := tr.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to apply remote answer: %w", err)
	}

	s.mu.Lock()
	s.sessionID = answer.SessionID
	s.mu.Unlock()

	s.logger.Info("session negotiated", zap.String("session_id", answer.SessionID))
	queue.Activate(ctx, answer.SessionID)
	return nil
}

func (s *Session) startStreamingLoops(ctx context.Context) {
	if s.sink != nil {
		go s.relay.run(ctx, s.cfg.RelayInterval, s.sink)
	}
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if s.source != nil && tr != nil && tr.localTrack != nil {
		go pumpSource(ctx, s.source, tr.localTrack, s.logger)
	}
}

// UpdateParameters sends a sparse parameter update over the data channel.
// If the channel is not open the update is logged and dropped; there is no
// pending buffer and no retry.
func (s *Session) UpdateParameters(update protocol.ParameterUpdate) error {
	payload, err := protocol.EncodeUpdate(update)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if update.ManageCache != nil {
		s.manageCache = *update.ManageCache
	}
	sender := s.control
	s.mu.Unlock()

	if sender == nil || !s.channelOpen.Load() {
		s.logger.Warn("parameter update dropped: data channel not open")
		return nil
	}
	return sender.SendText(string(payload))
}

// ResetCache asks the backend to discard its temporal cache. The reset
// message disables automatic cache management (the backend only honors
// reset_cache when manage_cache is false in the same message); if
// auto-management was enabled beforehand, a restore message follows after
// CacheRestoreDelay. The restore is best effort and is cancelled by Stop.
func (s *Session) ResetCache() error {
	s.mu.Lock()
	sender := s.control
	wasManaged := s.manageCache
	s.mu.Unlock()

	if sender == nil || !s.channelOpen.Load() {
		s.logger.Warn("cache reset dropped: data channel not open")
		return nil
	}
	if err := sender.SendText(string(protocol.EncodeCacheReset())); err != nil {
		return err
	}
	s.logger.Info("cache reset sent", zap.Bool("restore_scheduled", wasManaged))

	if !wasManaged {
		return nil
	}

	s.mu.Lock()
	if s.restoreTimer != nil {
		s.restoreTimer.Stop()
	}
	s.restoreTimer = time.AfterFunc(s.cfg.CacheRestoreDelay, s.restoreCacheManagement)
	s.mu.Unlock()
	return nil
}

func (s *Session) restoreCacheManagement() {
	s.mu.Lock()
	stopped := s.state == StateStopped
	sender := s.control
	s.mu.Unlock()

	if stopped || sender == nil || !s.channelOpen.Load() {
		return
	}
	if err := sender.SendText(string(protocol.EncodeCacheRestore())); err != nil {
		s.logger.Warn("failed to restore cache management", zap.Error(err))
		return
	}
	s.logger.Debug("cache management restored")
}

// Stop tears the session down from any state: it cancels the in-flight
// start attempt (including the poll loop), stops the pending cache-restore
// timer, and releases all transport resources. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	tr := s.releaseLocked()
	notify := s.transitionLocked(StateStopped)
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	notify()
}

// handleChannelMessage processes one inbound data-channel message.
// Unrecognized shapes are logged and ignored.
func (s *Session) handleChannelMessage(data []byte) {
	n, err := protocol.DecodeNotification(data)
	if err != nil {
		s.logger.Warn("ignoring unparseable data channel message", zap.Error(err))
		return
	}
	if n == nil {
		s.logger.Debug("ignoring unrecognized data channel message",
			zap.ByteString("payload", data))
		return
	}
	switch n.Type {
	case protocol.NotificationStreamStopped:
		s.logger.Info("remote halted the stream",
			zap.String("reason", n.ErrorMessage))
		s.handleRemoteStop()
	}
}

func (s *Session) handleRemoteStop() {
	s.mu.Lock()
	if s.state != StateStreaming && s.state != StateNegotiating {
		s.mu.Unlock()
		return
	}
	tr := s.releaseLocked()
	notify := s.transitionLocked(StateDisconnected)
	s.mu.Unlock()

	// Close on a fresh goroutine: this runs inside a data-channel
	// callback and closing the owning peer connection from there can
	// deadlock.
	if tr != nil {
		go tr.Close()
	}
	notify()
}

// failAttempt releases the resources of a failed start attempt. If Stop
// already won the race the session stays Stopped.
func (s *Session) failAttempt(err error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	tr := s.releaseLocked()
	notify := s.transitionLocked(StateFailed)
	s.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	s.logger.Error("session attempt failed", zap.Error(err))
	notify()
}

// releaseLocked detaches the attempt's resources. Caller holds s.mu and is
// responsible for closing the returned transport outside the lock.
func (s *Session) releaseLocked() *transport {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.restoreTimer != nil {
		s.restoreTimer.Stop()
		s.restoreTimer = nil
	}
	tr := s.transport
	s.transport = nil
	s.control = nil
	s.candidates = nil
	s.sessionID = ""
	s.channelOpen.Store(false)
	return tr
}

// setState advances the lifecycle and reports whether the transition was
// taken. Once the session is Stopped every advance is refused; a concurrent
// Stop always wins over an in-flight start attempt.
func (s *Session) setState(next State) bool {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return false
	}
	notify := s.transitionLocked(next)
	s.mu.Unlock()
	notify()
	return true
}

// transitionLocked records the state change and returns the observer
// notification to run after the lock is released.
func (s *Session) transitionLocked(next State) func() {
	if s.state == next {
		return func() {}
	}
	prev := s.state
	s.state = next
	s.logger.Info("session state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next))
	if s.onState == nil {
		return func() {}
	}
	cb := s.onState
	return func() { cb(next) }
}
