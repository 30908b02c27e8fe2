// Package media describes the capability surface the recorder needs from a
// real-time media SDK: joining a room, receiving participant and track events,
// and reading decoded frames from subscribed tracks.
package media

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

var ErrMediaNotSupported = errors.New("media not supported")

// VideoFrame is one decoded picture. Data holds packed RGB24 rows.
type VideoFrame struct {
	Width     int
	Height    int
	Data      []byte
	Timestamp time.Duration
}

// AudioFrame holds interleaved signed 16-bit little-endian samples.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// VideoStream yields decoded frames until the track ends (io.EOF) or ctx is
// cancelled. Close is safe to call more than once.
type VideoStream interface {
	Next(ctx context.Context) (VideoFrame, error)
	Close() error
}

type AudioStream interface {
	Next(ctx context.Context) (AudioFrame, error)
	Close() error
}

type Track interface {
	SID() string
	Kind() Kind
	OpenVideo() (VideoStream, error)
	OpenAudio(sampleRate int, channels int) (AudioStream, error)
}

type Participant struct {
	Identity string
	SID      string
}
