package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"
)

type VideoConfig struct {
	Path         string
	Width        int
	Height       int
	RateSamples  int
	FallbackRate float64
	NewWriter    VideoWriterFactory
}

// VideoSink writes a video track to a file. Frames are held back until the
// track's cadence is known, then the writer is opened at that rate and the
// held frames are flushed in arrival order.
type VideoSink struct {
	cfg       VideoConfig
	accepting func() bool
	frames    *atomic.Int64

	lock      sync.Mutex
	estimator *RateEstimator
	pending   [][]byte
	writer    VideoWriter
	fps       float64
	failed    bool
	closed    bool
}

func NewVideoSink(cfg VideoConfig, accepting func() bool, frames *atomic.Int64) *VideoSink {
	if cfg.NewWriter == nil {
		cfg.NewWriter = FFmpegVideoWriter("")
	}
	if frames == nil {
		frames = atomic.NewInt64(0)
	}
	return &VideoSink{
		cfg:       cfg,
		accepting: accepting,
		frames:    frames,
		estimator: NewRateEstimator(cfg.RateSamples, cfg.FallbackRate),
	}
}

// Run captures the stream and then closes the sink. The stream and the
// writer are always released.
func (s *VideoSink) Run(ctx context.Context, stream media.VideoStream) error {
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warnw("cannot close video writer", cerr, "path", s.cfg.Path)
		}
	}()
	return s.Capture(ctx, stream)
}

// Capture consumes the stream until it ends, ctx is cancelled, the accepting
// gate closes or the sink fails. The stream is always closed; the sink stays
// open so a later stream can continue the same file.
func (s *VideoSink) Capture(ctx context.Context, stream media.VideoStream) (err error) {
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			logger.Debugw("cannot close video stream", "error", cerr, "path", s.cfg.Path)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			err = nil
		}
	}()

	if err = s.resume(); err != nil {
		return err
	}

	for {
		if !s.accepting() {
			return nil
		}
		var frame media.VideoFrame
		frame, err = stream.Next(ctx)
		if err != nil {
			return err
		}
		if !s.accepting() {
			return nil
		}
		if err = s.Push(frame); err != nil {
			if errors.Is(err, ErrBadFrame) {
				logger.Debugw("skipping video frame", "error", err, "path", s.cfg.Path)
				err = nil
				continue
			}
			return err
		}
	}
}

// resume prepares the sink for a new stream whose timestamps restart.
func (s *VideoSink) resume() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed || s.failed {
		return ErrSinkClosed
	}
	s.estimator.Break()
	return nil
}

// Push normalizes one frame and either buffers or writes it.
func (s *VideoSink) Push(f media.VideoFrame) error {
	data, err := normalizeFrame(f, s.cfg.Width, s.cfg.Height)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed || s.failed {
		return ErrSinkClosed
	}

	if s.writer != nil {
		if err := s.writer.WriteFrame(data); err != nil {
			s.fail()
			return fmt.Errorf("%w: write video frame: %v", ErrCapture, err)
		}
		s.frames.Inc()
		return nil
	}

	s.estimator.Observe(f.Timestamp.Seconds())
	s.pending = append(s.pending, data)

	fps, ready := s.estimator.Rate()
	if !ready {
		return nil
	}

	w, err := s.cfg.NewWriter(s.cfg.Path, s.cfg.Width, s.cfg.Height, fps)
	if err != nil {
		s.fail()
		return fmt.Errorf("%w: open video writer: %v", ErrCapture, err)
	}
	s.writer = w
	s.fps = fps
	logger.Debugw("video writer opened", "path", s.cfg.Path, "fps", fps, "buffered", len(s.pending))

	for _, p := range s.pending {
		if err := w.WriteFrame(p); err != nil {
			s.fail()
			return fmt.Errorf("%w: flush video buffer: %v", ErrCapture, err)
		}
	}
	s.frames.Add(int64(len(s.pending)))
	s.pending = nil
	return nil
}

// fail stops the sink from accepting frames. Must hold s.lock.
func (s *VideoSink) fail() {
	s.failed = true
	s.pending = nil
}

// Close releases the writer. Buffered frames that never reached a writer are
// dropped. Calling Close again is a no-op.
func (s *VideoSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// FPS is the rate the writer was opened with, zero if it never opened.
func (s *VideoSink) FPS() float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.fps
}

func (s *VideoSink) Buffered() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.pending)
}
