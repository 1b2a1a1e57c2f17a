package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/driftlabs/dreamstream/internal/signaling"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	batches [][]signaling.IceCandidate
	session string
}

func (f *fakeSubmitter) SubmitCandidates(_ context.Context, sessionID string, candidates []signaling.IceCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = sessionID
	batch := make([]signaling.IceCandidate, len(candidates))
	copy(batch, candidates)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSubmitter) all() []signaling.IceCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signaling.IceCandidate
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func cand(i int) signaling.IceCandidate {
	return signaling.IceCandidate{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.1 %d typ host", i, 50000+i),
		SDPMid:    "0",
	}
}

func TestQueueBuffersUntilActivate(t *testing.T) {
	sub := &fakeSubmitter{}
	q := newCandidateQueue(sub, zap.NewNop())
	ctx := context.Background()

	q.Enqueue(ctx, cand(1))
	q.Enqueue(ctx, cand(2))

	if len(sub.batches) != 0 {
		t.Fatalf("nothing should be submitted before a session id exists, got %d batches", len(sub.batches))
	}
	if q.BufferedLen() != 2 {
		t.Fatalf("buffered = %d, want 2", q.BufferedLen())
	}

	q.Activate(ctx, "abc")

	if len(sub.batches) != 1 {
		t.Fatalf("flush should be a single batched submission, got %d", len(sub.batches))
	}
	if sub.session != "abc" {
		t.Errorf("session id = %q, want abc", sub.session)
	}
	got := sub.all()
	if len(got) != 2 || got[0] != cand(1) || got[1] != cand(2) {
		t.Errorf("flush order or content wrong: %+v", got)
	}
	if q.BufferedLen() != 0 {
		t.Errorf("buffer not cleared after flush")
	}
}

func TestQueuePassesThroughAfterActivate(t *testing.T) {
	sub := &fakeSubmitter{}
	q := newCandidateQueue(sub, zap.NewNop())
	ctx := context.Background()

	q.Enqueue(ctx, cand(1))
	q.Activate(ctx, "abc")
	q.Enqueue(ctx, cand(2))
	q.Enqueue(ctx, cand(3))

	// One flush plus two individual submissions.
	if len(sub.batches) != 3 {
		t.Fatalf("got %d submissions, want 3", len(sub.batches))
	}
	got := sub.all()
	want := []signaling.IceCandidate{cand(1), cand(2), cand(3)}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if q.BufferedLen() != 0 {
		t.Errorf("nothing should be buffered after activation")
	}
}

func TestQueueActivateWithEmptyBufferSubmitsNothing(t *testing.T) {
	sub := &fakeSubmitter{}
	q := newCandidateQueue(sub, zap.NewNop())

	q.Activate(context.Background(), "abc")

	if len(sub.batches) != 0 {
		t.Fatalf("empty flush should not hit the wire, got %d batches", len(sub.batches))
	}
}

func TestQueueExactlyOnceUnderConcurrency(t *testing.T) {
	sub := &fakeSubmitter{}
	q := newCandidateQueue(sub, zap.NewNop())
	ctx := context.Background()

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Enqueue(ctx, cand(i))
		}
	}()

	q.Activate(ctx, "abc")
	wg.Wait()

	got := sub.all()
	if len(got)+q.BufferedLen() != total {
		t.Fatalf("submitted %d + buffered %d, want %d total", len(got), q.BufferedLen(), total)
	}
	if q.BufferedLen() != 0 {
		t.Fatalf("%d candidates stuck in the buffer after activation", q.BufferedLen())
	}
	seen := make(map[signaling.IceCandidate]bool, total)
	for _, c := range got {
		if seen[c] {
			t.Fatalf("candidate submitted twice: %+v", c)
		}
		seen[c] = true
	}
}
