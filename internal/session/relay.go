package session

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"go.uber.org/zap"
)

// FrameSink receives the most recent remote frame once per relay tick. It
// is externally owned; the relay never blocks a tick on network I/O, only
// on the sink itself.
type FrameSink interface {
	WriteFrame(sample media.Sample) error
}

// FrameSource supplies encoded local frames for the outbound track. NextFrame
// blocks until a frame is available or ctx is done.
type FrameSource interface {
	NextFrame(ctx context.Context) (media.Sample, error)
}

const sampleBuilderMaxLate = 128

// frameRelay reassembles the inbound RTP stream into frames and hands the
// latest one to the sink on a fixed tick. A tick with no new frame is a
// no-op. Frames that arrive faster than the tick overwrite each other;
// only the newest survives.
type frameRelay struct {
	latest atomic.Pointer[media.Sample]
	logger *zap.Logger

	received atomic.Int64
	dropped  atomic.Int64
	relayed  atomic.Int64
}

func newFrameRelay(logger *zap.Logger) *frameRelay {
	return &frameRelay{logger: logger.Named("relay")}
}

// consumeTrack reads RTP from the remote track until it ends, rebuilding
// frames and publishing each into the latest-frame slot.
func (r *frameRelay) consumeTrack(ctx context.Context, track *webrtc.TrackRemote) {
	builder := samplebuilder.New(sampleBuilderMaxLate, &codecs.VP8Packet{}, track.Codec().ClockRate)

	r.logger.Info("consuming remote track",
		zap.String("id", track.ID()),
		zap.String("codec", track.Codec().MimeType))

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.logger.Warn("remote track read failed", zap.Error(err))
			}
			return
		}
		builder.Push(pkt)

		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			r.received.Add(1)
			if r.latest.Swap(sample) != nil {
				r.dropped.Add(1)
			}
		}
	}
}

// run delivers the latest frame to sink once per tick until ctx is done.
func (r *frameRelay) run(ctx context.Context, interval time.Duration, sink FrameSink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := r.latest.Swap(nil)
			if sample == nil {
				continue
			}
			if err := sink.WriteFrame(*sample); err != nil {
				r.logger.Warn("frame sink write failed", zap.Error(err))
				continue
			}
			r.relayed.Add(1)
		}
	}
}

// RelayStats is a snapshot of frame-relay counters.
type RelayStats struct {
	FramesReceived int64
	FramesDropped  int64
	FramesRelayed  int64
}

func (r *frameRelay) stats() RelayStats {
	return RelayStats{
		FramesReceived: r.received.Load(),
		FramesDropped:  r.dropped.Load(),
		FramesRelayed:  r.relayed.Load(),
	}
}

// pumpSource copies frames from the local source into the outbound track
// until the source or ctx ends.
func pumpSource(ctx context.Context, source FrameSource, track *webrtc.TrackLocalStaticSample, logger *zap.Logger) {
	for {
		sample, err := source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("local frame source ended", zap.Error(err))
			}
			return
		}
		if err := track.WriteSample(sample); err != nil {
			logger.Warn("failed to write local frame", zap.Error(err))
			return
		}
	}
}
