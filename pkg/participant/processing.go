package participant

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/merger"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/upload"
	"github.com/labstack/gommon/log"
)

func (s *session) Finalize(ctx context.Context) (*Result, error) {
	if !s.finalized.CompareAndSwap(false, true) {
		return nil, nil
	}
	s.accepting.Store(false)
	s.cancel()

	s.lock.Lock()
	s.state = stateFinalizing
	s.lock.Unlock()

	s.tasks.Wait()

	s.lock.Lock()
	video, audio := s.video, s.audio
	s.video, s.audio = nil, nil
	s.end = time.Now()
	s.lock.Unlock()

	// Sinks outlive their tracks, so the writers are released here.
	if video != nil {
		if err := video.Close(); err != nil {
			log.Warnf("cannot close video sink | error: %v, session: %s", err, s.id)
		}
	}
	if audio != nil {
		if err := audio.Close(); err != nil {
			log.Warnf("cannot close audio sink | error: %v, session: %s", err, s.id)
		}
	}

	defer func() {
		s.cleanup()
		s.lock.Lock()
		s.state = stateDone
		s.lock.Unlock()
	}()

	hasVideo := s.videoFrames.Load() > 0 && hasData(s.paths.Video)
	hasAudio := s.audioFrames.Load() > 0 && hasData(s.paths.Audio)
	if !hasVideo && !hasAudio {
		log.Infof("no media recorded | room: %s, session: %s", s.cfg.Room, s.id)
		return nil, nil
	}

	log.Infof("merging session | room: %s, session: %s, video: %t, audio: %t", s.cfg.Room, s.id, hasVideo, hasAudio)
	merged, err := s.cfg.Merger.Merge(ctx, merger.Request{
		VideoPath:  s.paths.Video,
		AudioPath:  s.paths.Audio,
		HasVideo:   hasVideo,
		HasAudio:   hasAudio,
		OutputPath: s.paths.Output,
	})
	if err != nil {
		log.Errorf("merge failed | error: %v, room: %s, session: %s", err, s.cfg.Room, s.id)
		return nil, err
	}

	s.lock.Lock()
	end := s.end
	s.lock.Unlock()

	res := &Result{
		Room:          s.cfg.Room,
		Participant:   s.participant.Identity,
		SessionID:     s.id,
		Path:          merged.Path,
		Start:         s.start,
		End:           end,
		VideoFrames:   s.videoFrames.Load(),
		AudioFrames:   s.audioFrames.Load(),
		MergeDuration: merged.Elapsed,
	}

	if s.cfg.Uploader != nil {
		key := path.Join(sanitize(s.cfg.Room), filepath.Base(merged.Path))
		location, err := upload.File(ctx, s.cfg.Uploader, merged.Path, key)
		if err != nil {
			log.Errorf("cannot upload recording | error: %v, output: %s, session: %s", err, merged.Path, s.id)
		} else {
			res.Path = location
			res.Uploaded = true
			res.LocalPath = merged.Path
			log.Infof("uploaded recording | output: %s, session: %s", location, s.id)
		}
	}
	return res, nil
}

func (s *session) cleanup() {
	if err := os.RemoveAll(s.paths.WorkDir); err != nil {
		log.Warnf("cannot remove working directory | error: %v, dir: %s", err, s.paths.WorkDir)
		return
	}
	log.Debugf("removed working directory | dir: %s", s.paths.WorkDir)
}

func hasData(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
