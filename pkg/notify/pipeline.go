package notify

import (
	"context"
	"os"
	"sync"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/store"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/transcribe"
	"github.com/labstack/gommon/log"
)

// MergeComplete is broadcast once a room's deliverables are persisted and
// transcribed.
type MergeComplete struct {
	Event     string `json:"event"`
	MeetingID string `json:"meeting_id"`
}

type PipelineConfig struct {
	Store       store.Store
	Transcriber transcribe.Transcriber
	Broadcaster Broadcaster
}

// Pipeline turns finished recordings into stored records and meeting
// minutes. Each collaborator is optional.
type Pipeline struct {
	store       store.Store
	transcriber transcribe.Transcriber
	broadcaster Broadcaster
	wg          sync.WaitGroup
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		store:       cfg.Store,
		transcriber: cfg.Transcriber,
		broadcaster: cfg.Broadcaster,
	}
}

func (p *Pipeline) RecordingFinished(ctx context.Context, res participant.Result) {
	if p.store == nil {
		return
	}
	err := p.store.InsertRecording(ctx, store.Recording{
		MeetingID:   res.Room,
		Participant: res.Participant,
		SessionID:   res.SessionID,
		Path:        res.Path,
		Uploaded:    res.Uploaded,
		Start:       res.Start,
		End:         res.End,
	})
	if err != nil {
		log.Errorf("cannot store recording | error: %v, room: %s, session: %s", err, res.Room, res.SessionID)
		return
	}
	log.Debugf("stored recording | room: %s, session: %s", res.Room, res.SessionID)
}

// RoomFinished runs transcription in the background so the bot can finish
// draining. Use Wait to block on outstanding rooms.
func (p *Pipeline) RoomFinished(ctx context.Context, report recording.RoomReport) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.process(context.WithoutCancel(ctx), report)
	}()
}

func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) process(ctx context.Context, report recording.RoomReport) {
	if files := localFiles(report.Results); len(files) > 0 && p.transcriber != nil {
		p.transcribe(ctx, report.Room, files)
	}
	removeUploaded(report.Results)

	if p.broadcaster == nil {
		return
	}
	err := p.broadcaster.Broadcast(MergeComplete{Event: EventMergeComplete, MeetingID: report.Room})
	if err != nil {
		log.Errorf("cannot broadcast merge completion | error: %v, room: %s", err, report.Room)
	}
}

func (p *Pipeline) transcribe(ctx context.Context, room string, files []string) {
	log.Infof("transcribing meeting | room: %s, files: %d", room, len(files))
	transcript, err := p.transcriber.Transcribe(ctx, files)
	if err != nil {
		log.Errorf("cannot transcribe meeting | error: %v, room: %s", err, room)
		return
	}
	if p.store == nil {
		return
	}

	minutes := make([]store.Minute, 0, len(transcript.Segments))
	for _, seg := range transcript.Segments {
		minutes = append(minutes, store.Minute{
			MeetingID:    room,
			SpeakerLabel: seg.Speaker,
			Content:      seg.Text,
			Start:        seg.Start,
			End:          seg.End,
		})
	}
	if err := p.store.InsertMinutes(ctx, minutes); err != nil {
		log.Errorf("cannot store minutes | error: %v, room: %s", err, room)
		return
	}
	log.Infof("stored minutes | room: %s, segments: %d, language: %s", room, len(minutes), transcript.Language)
}

// localFiles keeps deliverables that are still on disk. An uploaded result
// carries a bucket key in Path and its local copy in LocalPath.
func localFiles(results []participant.Result) []string {
	var files []string
	for _, r := range results {
		file := r.Path
		if r.Uploaded {
			file = r.LocalPath
		}
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			continue
		}
		files = append(files, file)
	}
	return files
}

// removeUploaded drops the local copies of deliverables that live in the
// bucket.
func removeUploaded(results []participant.Result) {
	for _, r := range results {
		if !r.Uploaded || r.LocalPath == "" {
			continue
		}
		if err := os.Remove(r.LocalPath); err != nil && !os.IsNotExist(err) {
			log.Warnf("cannot remove uploaded file | error: %v, file: %s", err, r.LocalPath)
			continue
		}
		log.Debugf("removed uploaded file | file: %s", r.LocalPath)
	}
}
