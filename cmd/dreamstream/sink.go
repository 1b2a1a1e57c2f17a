package main

import (
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

const sinkReportEvery = 300

// frameStatsSink is a stand-in output sink for the demo binary: it counts
// remote frames and periodically reports the effective frame rate. A real
// consumer would hand the sample to a decoder/display here.
type frameStatsSink struct {
	logger *zap.Logger
	count  atomic.Int64
	since  atomic.Value // time.Time of the last report
}

func (s *frameStatsSink) WriteFrame(sample media.Sample) error {
	n := s.count.Add(1)
	if n == 1 {
		s.since.Store(time.Now())
		s.logger.Info("first remote frame received",
			zap.Int("bytes", len(sample.Data)))
		return nil
	}
	if n%sinkReportEvery != 0 {
		return nil
	}

	start, _ := s.since.Load().(time.Time)
	elapsed := time.Since(start)
	if elapsed > 0 {
		s.logger.Info("remote frames flowing",
			zap.Int64("frames", n),
			zap.Float64("fps", float64(sinkReportEvery)/elapsed.Seconds()))
	}
	s.since.Store(time.Now())
	return nil
}
