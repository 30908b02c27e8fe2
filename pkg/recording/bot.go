package recording

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/metrics"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/gommon/log"
)

type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateDraining   State = "draining"
	StateStopped    State = "stopped"
)

// bot records every participant of one room. Room events are handled by a
// single loop; sessions are finalized individually when their participant
// leaves and all together when the bot drains.
type bot struct {
	// ID is the identity the bot joins with
	id   string
	room string

	session   participant.Config
	connector media.Connector
	reporter  Reporter
	metrics   *metrics.Metrics
	onStopped func(b *bot)

	// Parent of every capture task
	ctx    context.Context
	cancel context.CancelFunc

	lock     sync.Mutex
	state    State
	conn     media.Connection
	sessions map[string]participant.Session
	results  []participant.Result
	failures []SessionFailure
	started  time.Time

	finalizing sync.WaitGroup
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

type botConfig struct {
	id        string
	room      string
	session   participant.Config
	connector media.Connector
	reporter  Reporter
	metrics   *metrics.Metrics
	onStopped func(b *bot)
}

func createBot(cfg botConfig) *bot {
	ctx, cancel := context.WithCancel(context.Background())
	session := cfg.session
	session.Room = cfg.room
	return &bot{
		id:        cfg.id,
		room:      cfg.room,
		session:   session,
		connector: cfg.connector,
		reporter:  cfg.reporter,
		metrics:   cfg.metrics,
		onStopped: cfg.onStopped,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnecting,
		sessions:  make(map[string]participant.Session),
		started:   time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (b *bot) State() State {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state
}

func (b *bot) setState(s State) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.state = s
}

// connect joins the room and starts the event loop. A failed join leaves the
// bot stopped.
func (b *bot) connect(ctx context.Context, token string) error {
	conn, err := b.connector.Connect(ctx, b.room, token)
	if err != nil {
		b.abort()
		return err
	}

	b.lock.Lock()
	b.conn = conn
	b.state = StateActive
	b.lock.Unlock()

	b.metrics.RoomStarted()
	log.Infof("bot connected | room: %s, bot: %s", b.room, b.id)
	go b.run(conn.Events())
	return nil
}

// abort stops a bot that never connected.
func (b *bot) abort() {
	b.cancel()
	b.setState(StateStopped)
	close(b.done)
}

// requestStop asks the loop to drain. It is safe to call in any state.
func (b *bot) requestStop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *bot) run(events <-chan media.Event) {
	for {
		select {
		case <-b.stop:
			b.drain(events, "stop requested")
			return
		default:
		}

		select {
		case <-b.stop:
			b.drain(events, "stop requested")
			return
		case ev, ok := <-events:
			if !ok {
				b.drain(events, "connection closed")
				return
			}
			if reason := b.handle(ev); reason != "" {
				b.drain(events, reason)
				return
			}
		}
	}
}

// handle applies one room event and returns a non-empty reason when the bot
// should drain.
func (b *bot) handle(ev media.Event) string {
	switch ev.Type {
	case media.ParticipantConnected:
		log.Infof("participant joined | room: %s, participant: %s", b.room, ev.Participant.Identity)

	case media.TrackSubscribed:
		b.onTrackSubscribed(ev)

	case media.TrackUnsubscribed:
		log.Debugf("track unsubscribed | room: %s, participant: %s, track: %s", b.room, ev.Participant.Identity, ev.TrackSID)

	case media.ParticipantDisconnected:
		b.onParticipantDisconnected(ev)
		// RemainingUnknown keeps the bot in the room
		if ev.Remaining == 0 {
			return "room empty"
		}

	case media.Disconnected:
		return fmt.Sprintf("disconnected: %s", ev.Reason)
	}
	return ""
}

func (b *bot) onTrackSubscribed(ev media.Event) {
	if ev.Track == nil {
		return
	}
	id := participant.SessionID(b.room, ev.Participant)

	b.lock.Lock()
	if b.state != StateActive {
		b.lock.Unlock()
		return
	}
	s, found := b.sessions[id]
	if !found {
		var err error
		s, err = participant.NewSession(b.ctx, b.session, ev.Participant)
		if err != nil {
			b.lock.Unlock()
			log.Errorf("cannot create session | error: %v, room: %s, participant: %s", err, b.room, ev.Participant.Identity)
			return
		}
		b.sessions[id] = s
	}
	b.lock.Unlock()

	s.SetAccepting(true)
	if err := s.AddTrack(ev.Track); err != nil {
		if errors.Is(err, participant.ErrTrackExists) {
			log.Infof("ignoring concurrent track | room: %s, session: %s, track: %s, kind: %s", b.room, id, ev.TrackSID, ev.Track.Kind())
			return
		}
		log.Errorf("cannot record track | error: %v, room: %s, session: %s, track: %s", err, b.room, id, ev.TrackSID)
		return
	}
	log.Infof("recording track | room: %s, session: %s, track: %s, kind: %s", b.room, id, ev.TrackSID, ev.Track.Kind())
}

func (b *bot) onParticipantDisconnected(ev media.Event) {
	id := participant.SessionID(b.room, ev.Participant)
	log.Infof("participant left | room: %s, participant: %s, remaining: %d", b.room, ev.Participant.Identity, ev.Remaining)

	b.lock.Lock()
	s, found := b.sessions[id]
	b.lock.Unlock()
	if !found {
		return
	}

	s.SetAccepting(false)
	b.finalizing.Add(1)
	go func() {
		defer b.finalizing.Done()
		b.finalize(s)

		b.lock.Lock()
		delete(b.sessions, id)
		b.lock.Unlock()
	}()
}

// finalize runs one session's finalize and records the outcome.
func (b *bot) finalize(s participant.Session) error {
	res, err := s.Finalize(context.Background())
	if err != nil {
		b.lock.Lock()
		b.failures = append(b.failures, SessionFailure{
			SessionID:   s.ID(),
			Participant: s.Identity(),
			Error:       err.Error(),
		})
		b.lock.Unlock()
		b.metrics.SessionFinalized(metrics.OutcomeFailed)
		return fmt.Errorf("session %s: %w", s.ID(), err)
	}
	if res == nil {
		b.metrics.SessionFinalized(metrics.OutcomeEmpty)
		return nil
	}

	b.lock.Lock()
	b.results = append(b.results, *res)
	b.lock.Unlock()

	b.metrics.SessionFinalized(metrics.OutcomeMerged)
	b.metrics.ObserveMerge(res.MergeDuration)
	b.metrics.FramesRecorded("video", res.VideoFrames)
	b.metrics.FramesRecorded("audio", res.AudioFrames)
	log.Infof("recording finished | room: %s, session: %s, output: %s", b.room, res.SessionID, res.Path)

	if b.reporter != nil {
		b.reporter.RecordingFinished(context.Background(), *res)
	}
	return nil
}

// drain stops capture, finalizes every remaining session, leaves the room and
// reports the room's results.
func (b *bot) drain(events <-chan media.Event, reason string) {
	log.Infof("draining bot | room: %s, bot: %s, reason: %s", b.room, b.id, reason)
	b.setState(StateDraining)

	// keep SDK callbacks from blocking on a full queue
	go func() {
		for range events {
		}
	}()

	b.cancel()
	b.lock.Lock()
	capturing := make([]participant.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		capturing = append(capturing, s)
	}
	b.lock.Unlock()
	for _, s := range capturing {
		s.SetAccepting(false)
		s.Wait()
	}
	b.finalizing.Wait()

	b.lock.Lock()
	remaining := make([]participant.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		remaining = append(remaining, s)
	}
	b.lock.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, s := range remaining {
		wg.Add(1)
		go func(s participant.Session) {
			defer wg.Done()
			if err := b.finalize(s); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		log.Warnf("sessions failed to finalize | room: %s, error: %v", b.room, err)
	}

	b.lock.Lock()
	b.sessions = make(map[string]participant.Session)
	conn := b.conn
	report := RoomReport{
		Room:     b.room,
		Results:  append([]participant.Result(nil), b.results...),
		Failures: append([]SessionFailure(nil), b.failures...),
		Start:    b.started,
		End:      time.Now(),
	}
	b.lock.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	log.Infof("bot disconnected | room: %s, bot: %s, recordings: %d, failures: %d", b.room, b.id, len(report.Results), len(report.Failures))

	if b.reporter != nil {
		b.reporter.RoomFinished(context.Background(), report)
	}

	b.setState(StateStopped)
	b.metrics.RoomEnded()
	if b.onStopped != nil {
		b.onStopped(b)
	}
	close(b.done)
}

func (b *bot) status() RoomStatus {
	b.lock.Lock()
	state := b.state
	sessions := make([]participant.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.lock.Unlock()

	st := RoomStatus{
		Room:             b.room,
		Connected:        state == StateActive,
		State:            state,
		ActiveRecordings: len(sessions),
		Sessions:         make([]participant.Status, 0, len(sessions)),
	}
	for _, s := range sessions {
		st.Sessions = append(st.Sessions, s.Status())
	}
	sort.Slice(st.Sessions, func(i, j int) bool {
		return st.Sessions[i].SessionID < st.Sessions[j].SessionID
	})
	return st
}
