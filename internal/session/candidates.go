package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/driftlabs/dreamstream/internal/signaling"
)

// candidateSubmitter is the slice of the signaling client the queue needs.
type candidateSubmitter interface {
	SubmitCandidates(ctx context.Context, sessionID string, candidates []signaling.IceCandidate) error
}

// candidateQueue buffers locally generated ICE candidates until the remote
// session id is known. Candidates start arriving as soon as the peer
// connection is created, which is before the offer has even been submitted;
// the queue makes that race harmless. Activate flushes the buffer in
// enqueue order exactly once, and afterwards every new candidate is
// submitted immediately and individually.
//
// Submissions happen under the queue mutex so that candidates reach the
// wire in generation order even when the ICE callback races Activate.
type candidateQueue struct {
	client candidateSubmitter
	logger *zap.Logger

	mu        sync.Mutex
	sessionID string
	buffered  []signaling.IceCandidate
}

func newCandidateQueue(client candidateSubmitter, logger *zap.Logger) *candidateQueue {
	return &candidateQueue{
		client: client,
		logger: logger.Named("candidates"),
	}
}

// Enqueue records or submits one locally generated candidate.
func (q *candidateQueue) Enqueue(ctx context.Context, candidate signaling.IceCandidate) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sessionID == "" {
		q.buffered = append(q.buffered, candidate)
		q.logger.Debug("buffered ICE candidate",
			zap.Int("buffered", len(q.buffered)))
		return
	}

	// Session already known: pass through. Fire-and-forget.
	if err := q.client.SubmitCandidates(ctx, q.sessionID, []signaling.IceCandidate{candidate}); err != nil {
		q.logger.Warn("failed to submit ICE candidate", zap.Error(err))
	}
}

// Activate records the session id and flushes everything buffered so far as
// a single batched submission, in enqueue order. Only the orchestrator
// calls this, once per negotiation.
func (q *candidateQueue) Activate(ctx context.Context, sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sessionID = sessionID
	if len(q.buffered) == 0 {
		return
	}

	batch := q.buffered
	q.buffered = nil
	q.logger.Debug("flushing buffered ICE candidates",
		zap.String("session_id", sessionID),
		zap.Int("count", len(batch)))

	if err := q.client.SubmitCandidates(ctx, sessionID, batch); err != nil {
		q.logger.Warn("failed to flush ICE candidates", zap.Error(err))
	}
}

// BufferedLen reports how many candidates are waiting for a session id.
func (q *candidateQueue) BufferedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffered)
}
