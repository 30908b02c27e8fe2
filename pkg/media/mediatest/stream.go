// Package mediatest provides in-memory implementations of the media
// interfaces for tests.
package mediatest

import (
	"context"
	"io"
	"sync"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"go.uber.org/atomic"
)

// stream is a channel-fed frame source. End marks the end of the track,
// Close releases a blocked reader.
type stream[T any] struct {
	frames  chan T
	done    chan struct{}
	endOnce sync.Once
	once    sync.Once
	closed  atomic.Bool
}

func newStream[T any](buffer int) *stream[T] {
	return &stream[T]{
		frames: make(chan T, buffer),
		done:   make(chan struct{}),
	}
}

func (s *stream[T]) Send(f T) {
	select {
	case s.frames <- f:
	case <-s.done:
	}
}

func (s *stream[T]) End() {
	s.endOnce.Do(func() { close(s.frames) })
}

func (s *stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		return zero, io.EOF
	case f, ok := <-s.frames:
		if !ok {
			return zero, io.EOF
		}
		return f, nil
	}
}

func (s *stream[T]) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

func (s *stream[T]) Closed() bool {
	return s.closed.Load()
}

type VideoStream struct {
	*stream[media.VideoFrame]
}

func NewVideoStream(buffer int) *VideoStream {
	return &VideoStream{newStream[media.VideoFrame](buffer)}
}

type AudioStream struct {
	*stream[media.AudioFrame]
}

func NewAudioStream(buffer int) *AudioStream {
	return &AudioStream{newStream[media.AudioFrame](buffer)}
}

// Track hands out the configured stream. OpenErr, when set, is returned
// from both Open calls.
type Track struct {
	TrackSID  string
	TrackKind media.Kind
	Video     *VideoStream
	Audio     *AudioStream
	OpenErr   error
}

func NewVideoTrack(sid string, buffer int) *Track {
	return &Track{TrackSID: sid, TrackKind: media.KindVideo, Video: NewVideoStream(buffer)}
}

func NewAudioTrack(sid string, buffer int) *Track {
	return &Track{TrackSID: sid, TrackKind: media.KindAudio, Audio: NewAudioStream(buffer)}
}

func (t *Track) SID() string {
	return t.TrackSID
}

func (t *Track) Kind() media.Kind {
	return t.TrackKind
}

func (t *Track) OpenVideo() (media.VideoStream, error) {
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	if t.Video == nil {
		return nil, media.ErrMediaNotSupported
	}
	return t.Video, nil
}

func (t *Track) OpenAudio(sampleRate int, channels int) (media.AudioStream, error) {
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	if t.Audio == nil {
		return nil, media.ErrMediaNotSupported
	}
	return t.Audio, nil
}
