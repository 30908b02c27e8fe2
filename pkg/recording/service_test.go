package recording

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media/mediatest"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/merger"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMerger struct {
	lock  sync.Mutex
	calls int
	// outputs containing failFor fail to merge
	failFor string
}

func (m *fakeMerger) Merge(ctx context.Context, req merger.Request) (*merger.Result, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls++
	if m.failFor != "" && strings.Contains(filepath.Base(req.OutputPath), m.failFor) {
		return nil, merger.ErrMergeFailed
	}
	return &merger.Result{Path: req.OutputPath}, nil
}

func (m *fakeMerger) count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.calls
}

type fakeReporter struct {
	lock       sync.Mutex
	recordings []participant.Result
	rooms      []RoomReport
}

func (r *fakeReporter) RecordingFinished(ctx context.Context, res participant.Result) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.recordings = append(r.recordings, res)
}

func (r *fakeReporter) RoomFinished(ctx context.Context, report RoomReport) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.rooms = append(r.rooms, report)
}

func (r *fakeReporter) finishedRecordings() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.recordings)
}

func (r *fakeReporter) finishedRooms() []RoomReport {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]RoomReport(nil), r.rooms...)
}

type harness struct {
	svc       Service
	conn      *mediatest.Connection
	connector *mediatest.Connector
	merger    *fakeMerger
	reporter  *fakeReporter
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	h := &harness{
		conn:     mediatest.NewConnection(),
		merger:   &fakeMerger{},
		reporter: &fakeReporter{},
	}
	h.connector = &mediatest.Connector{Conn: h.conn}
	h.svc = NewService(Config{
		URL:       "ws://localhost:7880",
		APIKey:    "devkey",
		APISecret: "devsecret-devsecret-devsecret-00",
		Session: participant.Config{
			TempDir:       filepath.Join(dir, "temps"),
			RecordingsDir: filepath.Join(dir, "recordings"),
			Merger:        h.merger,
		},
		Connector: h.connector,
		Reporter:  h.reporter,
	})
	return h
}

// join subscribes an audio track for identity and feeds it two frames.
func (h *harness) join(identity string) *mediatest.Track {
	track := mediatest.NewAudioTrack("TR_"+identity, 16)
	for i := 0; i < 2; i++ {
		track.Audio.Send(media.AudioFrame{Data: make([]byte, 3840)})
	}
	h.conn.Send(media.Event{
		Type:        media.TrackSubscribed,
		Participant: media.Participant{Identity: identity, SID: "PA_" + identity},
		Track:       track,
		TrackSID:    track.TrackSID,
	})
	return track
}

func (h *harness) leave(identity string, remaining int) {
	h.conn.Send(media.Event{
		Type:        media.ParticipantDisconnected,
		Participant: media.Participant{Identity: identity, SID: "PA_" + identity},
		Remaining:   remaining,
	})
}

func (h *harness) waitForFrames(t *testing.T, room string, sessions int) {
	require.Eventually(t, func() bool {
		st, ok := h.svc.Status(room)
		if !ok || len(st.Sessions) != sessions {
			return false
		}
		for _, s := range st.Sessions {
			if s.AudioFrames < 2 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartMissingCredentials(t *testing.T) {
	svc := NewService(Config{URL: "ws://localhost:7880", Connector: &mediatest.Connector{}})
	_, err := svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.ErrorIs(t, err, ErrMissingCredentials)
	require.Empty(t, svc.Rooms())
}

func TestStartEmptyRoom(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), StartRequest{})
	require.ErrorIs(t, err, ErrEmptyRoom)
}

func TestStartConnectionFailure(t *testing.T) {
	h := newHarness(t)
	h.connector.Err = errors.New("could not establish signal connection")

	_, err := h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Empty(t, h.svc.Rooms())

	_, found := h.svc.Status("standup")
	require.False(t, found)
}

func TestStartTwiceCreatesOneBot(t *testing.T) {
	h := newHarness(t)
	h.connector.Gate = make(chan struct{})

	first := make(chan StartResponse, 1)
	go func() {
		res, err := h.svc.Start(context.Background(), StartRequest{Room: "standup", Requester: "alice"})
		assert.NoError(t, err)
		first <- res
	}()

	require.Eventually(t, func() bool {
		return len(h.svc.Rooms()) == 1
	}, 5*time.Second, time.Millisecond)

	res, err := h.svc.Start(context.Background(), StartRequest{Room: "standup", Requester: "bob"})
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyConnected, res.Status)
	require.Equal(t, StateConnecting, res.State)

	close(h.connector.Gate)
	select {
	case res := <-first:
		require.Equal(t, StatusConnecting, res.Status)
		require.Equal(t, StateActive, res.State)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return")
	}

	require.Equal(t, []string{"standup"}, h.svc.Rooms())
	require.Equal(t, []string{"standup"}, h.connector.Rooms())

	res, err = h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyConnected, res.Status)
	require.Equal(t, StateActive, res.State)
	require.Len(t, h.connector.Rooms(), 1)
}

func TestStopDrainsAllSessions(t *testing.T) {
	h := newHarness(t)
	h.merger.failFor = "final_bob_"

	_, err := h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.NoError(t, err)

	tracks := []*mediatest.Track{h.join("alice"), h.join("bob"), h.join("carol")}
	h.waitForFrames(t, "standup", 3)

	st, ok := h.svc.Status("standup")
	require.True(t, ok)
	require.True(t, st.Connected)
	require.Equal(t, 3, st.ActiveRecordings)

	res, err := h.svc.Stop(context.Background(), "standup")
	require.NoError(t, err)
	require.Equal(t, StatusDisconnected, res.Status)

	require.Equal(t, 3, h.merger.count())
	require.Equal(t, 2, h.reporter.finishedRecordings())
	rooms := h.reporter.finishedRooms()
	require.Len(t, rooms, 1)
	require.Equal(t, "standup", rooms[0].Room)
	require.Len(t, rooms[0].Results, 2)
	require.Len(t, rooms[0].Failures, 1)
	require.Equal(t, "bob", rooms[0].Failures[0].Participant)

	require.True(t, h.conn.Disconnected())
	require.Empty(t, h.svc.Rooms())
	for _, tr := range tracks {
		require.True(t, tr.Audio.Closed())
	}

	res, err = h.svc.Stop(context.Background(), "standup")
	require.NoError(t, err)
	require.Equal(t, StatusNotConnected, res.Status)
}

func TestLastParticipantLeavingStopsBot(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.NoError(t, err)

	h.join("alice")
	h.join("bob")
	h.waitForFrames(t, "standup", 2)

	h.leave("alice", 1)
	require.Eventually(t, func() bool {
		return h.reporter.finishedRecordings() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		st, ok := h.svc.Status("standup")
		return ok && st.ActiveRecordings == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"standup"}, h.svc.Rooms())

	h.leave("bob", 0)
	require.Eventually(t, func() bool {
		return len(h.svc.Rooms()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	rooms := h.reporter.finishedRooms()
	require.Len(t, rooms, 1)
	require.Len(t, rooms[0].Results, 2)
	require.Equal(t, 2, h.merger.count())
	require.True(t, h.conn.Disconnected())
}

func TestLeaveWithUnknownRemainingKeepsBot(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.NoError(t, err)

	h.join("alice")
	h.join("bob")
	h.waitForFrames(t, "standup", 2)

	h.leave("alice", media.RemainingUnknown)
	require.Eventually(t, func() bool {
		return h.reporter.finishedRecordings() == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		st, ok := h.svc.Status("standup")
		return ok && st.ActiveRecordings == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"standup"}, h.svc.Rooms())
	require.Empty(t, h.reporter.finishedRooms())
	require.False(t, h.conn.Disconnected())

	h.leave("bob", 0)
	require.Eventually(t, func() bool {
		return len(h.svc.Rooms()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, h.reporter.finishedRooms(), 1)
}

func TestConnectionDropStopsBot(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.NoError(t, err)

	h.join("alice")
	h.waitForFrames(t, "standup", 1)

	h.conn.Send(media.Event{Type: media.Disconnected, Reason: "server shutdown"})
	require.Eventually(t, func() bool {
		return len(h.svc.Rooms()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, h.merger.count())
	require.Len(t, h.reporter.finishedRooms(), 1)
}

func TestShutdownStopsEveryRoom(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), StartRequest{Room: "standup"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Shutdown(context.Background()))
	require.Empty(t, h.svc.Rooms())
	require.Len(t, h.reporter.finishedRooms(), 1)
}

func TestHTTPURL(t *testing.T) {
	require.Equal(t, "http://localhost:7880", HTTPURL("ws://localhost:7880"))
	require.Equal(t, "https://example.livekit.cloud", HTTPURL("wss://example.livekit.cloud"))
	require.Equal(t, "https://host", HTTPURL("https://host"))
}
