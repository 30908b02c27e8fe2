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

const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
)

type AudioConfig struct {
	Path       string
	SampleRate int
	Channels   int
	NewWriter  AudioWriterFactory
}

// AudioSink writes PCM frames as they arrive; the sample format is fixed up
// front so the writer opens immediately.
type AudioSink struct {
	cfg       AudioConfig
	accepting func() bool
	frames    *atomic.Int64

	lock   sync.Mutex
	writer AudioWriter
	failed bool
	closed bool
}

func NewAudioSink(cfg AudioConfig, accepting func() bool, frames *atomic.Int64) *AudioSink {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.NewWriter == nil {
		cfg.NewWriter = WAVWriter
	}
	if frames == nil {
		frames = atomic.NewInt64(0)
	}
	return &AudioSink{
		cfg:       cfg,
		accepting: accepting,
		frames:    frames,
	}
}

func (s *AudioSink) SampleRate() int {
	return s.cfg.SampleRate
}

func (s *AudioSink) Channels() int {
	return s.cfg.Channels
}

// Open creates the writer. It is a no-op when already open.
func (s *AudioSink) Open() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed || s.failed {
		return ErrSinkClosed
	}
	if s.writer != nil {
		return nil
	}
	w, err := s.cfg.NewWriter(s.cfg.Path, s.cfg.SampleRate, s.cfg.Channels)
	if err != nil {
		s.failed = true
		return fmt.Errorf("%w: open audio writer: %v", ErrCapture, err)
	}
	s.writer = w
	return nil
}

// Run captures the stream and then closes the sink.
func (s *AudioSink) Run(ctx context.Context, stream media.AudioStream) error {
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warnw("cannot close audio writer", cerr, "path", s.cfg.Path)
		}
	}()
	return s.Capture(ctx, stream)
}

// Capture writes the stream until it ends, ctx is cancelled or the accepting
// gate closes. The stream is always closed; the writer stays open for the
// next stream.
func (s *AudioSink) Capture(ctx context.Context, stream media.AudioStream) (err error) {
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			logger.Debugw("cannot close audio stream", "error", cerr, "path", s.cfg.Path)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			err = nil
		}
	}()

	if err = s.Open(); err != nil {
		return err
	}

	for {
		if !s.accepting() {
			return nil
		}
		var frame media.AudioFrame
		frame, err = stream.Next(ctx)
		if err != nil {
			return err
		}
		if !s.accepting() {
			return nil
		}
		if err = s.Push(frame); err != nil {
			return err
		}
	}
}

// Push writes one frame. Frames without samples are skipped.
func (s *AudioSink) Push(f media.AudioFrame) error {
	if len(f.Data) == 0 {
		return nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed || s.failed || s.writer == nil {
		return ErrSinkClosed
	}
	if err := s.writer.WriteSamples(f.Data); err != nil {
		s.failed = true
		return fmt.Errorf("%w: write audio frame: %v", ErrCapture, err)
	}
	s.frames.Inc()
	return nil
}

func (s *AudioSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
