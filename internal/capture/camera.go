// Package capture provides a local camera frame source for the outbound
// track, built on pion/mediadevices.
package capture

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera" // This is required to register camera adapter - DON'T REMOVE
)

const (
	rtpMTU            = 1200
	builderMaxLate    = 128
	vp8ClockRate      = 90000
	defaultCameraRate = 20
)

// CameraSource captures the local camera, encodes VP8 and reassembles the
// RTP stream into full frames. It implements session.FrameSource.
type CameraSource struct {
	stream mediadevices.MediaStream
	reader mediadevices.RTPReadCloser
	sbuild *samplebuilder.SampleBuilder
	logger *zap.Logger
}

// NewCameraSource opens the default camera at the given resolution.
func NewCameraSource(width, height int, logger *zap.Logger) (*CameraSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("camera")

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = time.Millisecond * 200

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(width)
			c.Height = prop.Int(height)
			c.FrameRate = prop.Float(defaultCameraRate)
			c.DiscardFramesOlderThan = 500 * time.Millisecond
		},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		closeStream(stream)
		return nil, fmt.Errorf("no video tracks available")
	}

	reader, err := tracks[0].NewRTPReader(webrtc.MimeTypeVP8, rand.Uint32(), rtpMTU)
	if err != nil {
		closeStream(stream)
		return nil, fmt.Errorf("failed to create RTP reader: %w", err)
	}

	logger.Info("camera opened",
		zap.Int("width", width),
		zap.Int("height", height))

	return &CameraSource{
		stream: stream,
		reader: reader,
		sbuild: samplebuilder.New(builderMaxLate, &codecs.VP8Packet{}, vp8ClockRate),
		logger: logger,
	}, nil
}

// NextFrame blocks until the next full encoded frame is available.
func (c *CameraSource) NextFrame(ctx context.Context) (media.Sample, error) {
	for {
		if sample := c.sbuild.Pop(); sample != nil {
			return *sample, nil
		}
		if ctx.Err() != nil {
			return media.Sample{}, ctx.Err()
		}
		packets, release, err := c.reader.Read()
		if err != nil {
			return media.Sample{}, fmt.Errorf("camera RTP read: %w", err)
		}
		for _, pkt := range packets {
			c.sbuild.Push(pkt)
		}
		if release != nil {
			release()
		}
	}
}

// Close releases the camera.
func (c *CameraSource) Close() error {
	if c.reader != nil {
		c.reader.Close()
	}
	closeStream(c.stream)
	return nil
}

func closeStream(stream mediadevices.MediaStream) {
	if stream == nil {
		return
	}
	for _, track := range stream.GetTracks() {
		track.Close()
	}
}
