package participant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/merger"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recorder"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/upload"
	"github.com/labstack/gommon/log"
	"go.uber.org/atomic"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrTrackExists   = errors.New("track of this kind already recording")
)

type Config struct {
	Room          string
	TempDir       string
	RecordingsDir string

	// Path is filled in per session.
	Video recorder.VideoConfig
	Audio recorder.AudioConfig

	Merger   merger.Merger
	Uploader upload.Uploader
}

// Session captures one participant's tracks for one visit to a room.
type Session interface {
	ID() string
	Identity() string
	Paths() Paths

	SetAccepting(accepting bool)
	Accepting() bool

	// AddTrack starts capturing track. One track per kind is captured at a
	// time; a track of a kind that is still capturing fails with
	// ErrTrackExists. Once it ends, a new track of that kind continues the
	// same file.
	AddTrack(track media.Track) error
	// Wait blocks until every capture task has returned.
	Wait()

	Status() Status
	// Finalize stops capture and merges what was recorded. Only the first
	// call does any work; later calls return a nil result.
	Finalize(ctx context.Context) (*Result, error)
}

type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg         Config
	participant media.Participant
	id          string
	paths       Paths
	start       time.Time

	accepting   atomic.Bool
	finalized   atomic.Bool
	videoFrames atomic.Int64
	audioFrames atomic.Int64

	lock  sync.Mutex
	state state
	end   time.Time
	video *recorder.VideoSink
	audio *recorder.AudioSink
	// Set while a track of that kind is capturing
	videoBusy bool
	audioBusy bool
	tasks     sync.WaitGroup
}

// NewSession prepares the working directory for p. Capture tasks run under
// ctx and stop when it is cancelled.
func NewSession(ctx context.Context, cfg Config, p media.Participant) (Session, error) {
	now := time.Now()
	paths := newPaths(cfg.TempDir, cfg.RecordingsDir, cfg.Room, p.Identity, now)
	if err := os.MkdirAll(paths.WorkDir, 0755); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		participant: p,
		id:          SessionID(cfg.Room, p),
		paths:       paths,
		start:       now,
		state:       stateCreated,
	}
	log.Debugf("session created | room: %s, session: %s, dir: %s", cfg.Room, s.id, paths.WorkDir)
	return s, nil
}

// SessionID keys a session by room, identity and the participant's
// connection SID, so a rejoin starts a fresh session.
func SessionID(room string, p media.Participant) string {
	return fmt.Sprintf("%s_%s_%s", room, p.Identity, p.SID)
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Identity() string {
	return s.participant.Identity
}

func (s *session) Paths() Paths {
	return s.paths
}

func (s *session) SetAccepting(accepting bool) {
	if accepting && s.finalized.Load() {
		return
	}
	s.accepting.Store(accepting)
}

func (s *session) Accepting() bool {
	return s.accepting.Load()
}

func (s *session) AddTrack(track media.Track) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.finalized.Load() {
		return ErrSessionClosed
	}

	switch track.Kind() {
	case media.KindVideo:
		if s.videoBusy {
			return ErrTrackExists
		}
		stream, err := track.OpenVideo()
		if err != nil {
			return err
		}
		if s.video == nil {
			cfg := s.cfg.Video
			cfg.Path = s.paths.Video
			s.video = recorder.NewVideoSink(cfg, s.Accepting, &s.videoFrames)
		}
		sink := s.video
		s.videoBusy = true
		s.spawn("video", track.SID(), func() error {
			defer s.release(media.KindVideo)
			return sink.Capture(s.ctx, stream)
		})

	case media.KindAudio:
		if s.audioBusy {
			return ErrTrackExists
		}
		if s.audio == nil {
			cfg := s.cfg.Audio
			cfg.Path = s.paths.Audio
			s.audio = recorder.NewAudioSink(cfg, s.Accepting, &s.audioFrames)
		}
		sink := s.audio
		stream, err := track.OpenAudio(sink.SampleRate(), sink.Channels())
		if err != nil {
			return err
		}
		s.audioBusy = true
		s.spawn("audio", track.SID(), func() error {
			defer s.release(media.KindAudio)
			return sink.Capture(s.ctx, stream)
		})

	default:
		return media.ErrMediaNotSupported
	}

	s.state = stateRecording
	return nil
}

// release frees a kind for the next track once its capture task returns.
func (s *session) release(kind media.Kind) {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch kind {
	case media.KindVideo:
		s.videoBusy = false
	case media.KindAudio:
		s.audioBusy = false
	}
}

// spawn runs a capture task. Must hold s.lock.
func (s *session) spawn(kind string, trackSID string, run func() error) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		log.Debugf("capture started | session: %s, kind: %s, track: %s", s.id, kind, trackSID)
		if err := run(); err != nil {
			log.Errorf("capture stopped | error: %v, session: %s, kind: %s, track: %s", err, s.id, kind, trackSID)
			return
		}
		log.Debugf("capture ended | session: %s, kind: %s, track: %s", s.id, kind, trackSID)
	}()
}

func (s *session) Wait() {
	s.tasks.Wait()
}

func (s *session) Status() Status {
	s.lock.Lock()
	st, end := s.state, s.end
	s.lock.Unlock()

	if end.IsZero() {
		end = time.Now()
	}
	return Status{
		SessionID:   s.id,
		Participant: s.participant.Identity,
		State:       string(st),
		VideoFrames: s.videoFrames.Load(),
		AudioFrames: s.audioFrames.Load(),
		Duration:    end.Sub(s.start).Seconds(),
		Accepting:   s.accepting.Load(),
		Finalized:   s.finalized.Load(),
	}
}
