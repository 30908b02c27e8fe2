package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/store"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/transcribe"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	lock       sync.Mutex
	recordings []store.Recording
	minutes    []store.Minute
	err        error
}

func (s *fakeStore) InsertRecording(ctx context.Context, rec store.Recording) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recordings = append(s.recordings, rec)
	return nil
}

func (s *fakeStore) InsertMinutes(ctx context.Context, minutes []store.Minute) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.err != nil {
		return s.err
	}
	s.minutes = append(s.minutes, minutes...)
	return nil
}

func (s *fakeStore) Recordings(ctx context.Context, meetingID string) ([]store.Recording, error) {
	return nil, nil
}

func (s *fakeStore) Minutes(ctx context.Context, meetingID string) ([]store.Minute, error) {
	return nil, nil
}

func (s *fakeStore) Ping(ctx context.Context) error  { return nil }
func (s *fakeStore) Close(ctx context.Context) error { return nil }

type fakeTranscriber struct {
	files      []string
	transcript transcribe.Transcript
	err        error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, files []string) (transcribe.Transcript, error) {
	t.files = files
	return t.transcript, t.err
}

type fakeBroadcaster struct {
	lock     sync.Mutex
	messages []interface{}
}

func (b *fakeBroadcaster) Broadcast(v interface{}) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.messages = append(b.messages, v)
	return nil
}

type countingReporter struct {
	recordings int
	rooms      int
}

func (r *countingReporter) RecordingFinished(ctx context.Context, res participant.Result) {
	r.recordings++
}

func (r *countingReporter) RoomFinished(ctx context.Context, report recording.RoomReport) {
	r.rooms++
}

func TestWebhookDelivery(t *testing.T) {
	var (
		lock   sync.Mutex
		bodies []map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		lock.Lock()
		bodies = append(bodies, body)
		lock.Unlock()
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL + "/a", " ", srv.URL + "/b"}, time.Second)
	w.RecordingFinished(context.Background(), participant.Result{Room: "standup", Participant: "alice"})
	w.Wait()

	require.Len(t, bodies, 2)
	for _, body := range bodies {
		require.Equal(t, EventRecordingFinished, body["event"])
		data := body["data"].(map[string]interface{})
		require.Equal(t, "alice", data["participant"])
	}
}

func TestWebhookRoomFinished(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got <- string(data)
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL}, 0)
	w.RoomFinished(context.Background(), recording.RoomReport{Room: "standup"})
	w.Wait()

	body := <-got
	require.Contains(t, body, `"event":"room_finished"`)
	require.Contains(t, body, `"room":"standup"`)
}

func TestWebhookUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook([]string{srv.URL, "http://127.0.0.1:1/hook"}, time.Second)
	w.RecordingFinished(context.Background(), participant.Result{})
	w.Wait()
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(MergeComplete{Event: EventMergeComplete, MeetingID: "standup"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg MergeComplete
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, EventMergeComplete, msg.Event)
	require.Equal(t, "standup", msg.MeetingID)
}

func TestHubSubscriberLeaves(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()
	require.Equal(t, 0, hub.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestPipelineRecordingFinished(t *testing.T) {
	s := &fakeStore{}
	p := NewPipeline(PipelineConfig{Store: s})

	start := time.Now().Add(-time.Minute)
	p.RecordingFinished(context.Background(), participant.Result{
		Room: "standup", Participant: "alice", SessionID: "alice_PA_1",
		Path: "recordings/standup/final_alice.mp4", Start: start, End: time.Now(),
	})

	require.Len(t, s.recordings, 1)
	rec := s.recordings[0]
	require.Equal(t, "standup", rec.MeetingID)
	require.Equal(t, "alice", rec.Participant)
	require.Equal(t, "alice_PA_1", rec.SessionID)
	require.Equal(t, start, rec.Start)
}

func TestPipelineRoomFinished(t *testing.T) {
	dir := t.TempDir()
	alice := filepath.Join(dir, "final_alice.mp4")
	require.NoError(t, os.WriteFile(alice, []byte("mp4"), 0o644))

	s := &fakeStore{}
	tr := &fakeTranscriber{transcript: transcribe.Transcript{
		Language: "en",
		Segments: []transcribe.Segment{
			{Speaker: "SPEAKER_00", Text: "good morning", Start: 0, End: 2},
			{Speaker: "SPEAKER_01", Text: "hi", Start: 2, End: 3},
		},
	}}
	b := &fakeBroadcaster{}
	p := NewPipeline(PipelineConfig{Store: s, Transcriber: tr, Broadcaster: b})

	p.RoomFinished(context.Background(), recording.RoomReport{
		Room: "standup",
		Results: []participant.Result{
			{Participant: "alice", Path: alice},
			{Participant: "bob", Path: "standup/final_bob.mp4", Uploaded: true},
			{Participant: "carol", Path: filepath.Join(dir, "missing.mp4")},
		},
	})
	p.Wait()

	require.Equal(t, []string{alice}, tr.files)
	require.Len(t, s.minutes, 2)
	require.Equal(t, "standup", s.minutes[0].MeetingID)
	require.Equal(t, "SPEAKER_00", s.minutes[0].SpeakerLabel)
	require.Equal(t, "good morning", s.minutes[0].Content)
	require.Equal(t, []interface{}{MergeComplete{Event: EventMergeComplete, MeetingID: "standup"}}, b.messages)
}

func TestPipelineTranscribesUploadedResults(t *testing.T) {
	dir := t.TempDir()
	alice := filepath.Join(dir, "final_alice.mp4")
	bob := filepath.Join(dir, "final_bob.mp4")
	require.NoError(t, os.WriteFile(alice, []byte("mp4"), 0o644))
	require.NoError(t, os.WriteFile(bob, []byte("mp4"), 0o644))

	tr := &fakeTranscriber{transcript: transcribe.Transcript{
		Segments: []transcribe.Segment{{Speaker: "SPEAKER_00", Text: "hello", Start: 0, End: 1}},
	}}
	s := &fakeStore{}
	p := NewPipeline(PipelineConfig{Store: s, Transcriber: tr})

	p.RoomFinished(context.Background(), recording.RoomReport{
		Room: "standup",
		Results: []participant.Result{
			{Participant: "alice", Path: alice},
			{Participant: "bob", Path: "recordings/standup/final_bob.mp4", Uploaded: true, LocalPath: bob},
		},
	})
	p.Wait()

	require.Equal(t, []string{alice, bob}, tr.files)
	require.Len(t, s.minutes, 1)
	require.FileExists(t, alice)
	require.NoFileExists(t, bob)
}

func TestPipelineRemovesUploadedCopyWithoutTranscriber(t *testing.T) {
	bob := filepath.Join(t.TempDir(), "final_bob.mp4")
	require.NoError(t, os.WriteFile(bob, []byte("mp4"), 0o644))

	p := NewPipeline(PipelineConfig{})
	p.RoomFinished(context.Background(), recording.RoomReport{
		Room:    "standup",
		Results: []participant.Result{{Participant: "bob", Path: "standup/final_bob.mp4", Uploaded: true, LocalPath: bob}},
	})
	p.Wait()

	require.NoFileExists(t, bob)
}

func TestPipelineTranscriptionFailureStillBroadcasts(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "final_alice.mp4")
	require.NoError(t, os.WriteFile(f, []byte("mp4"), 0o644))

	s := &fakeStore{}
	b := &fakeBroadcaster{}
	p := NewPipeline(PipelineConfig{
		Store:       s,
		Transcriber: &fakeTranscriber{err: errors.New("service down")},
		Broadcaster: b,
	})

	p.RoomFinished(context.Background(), recording.RoomReport{
		Room:    "standup",
		Results: []participant.Result{{Path: f}},
	})
	p.Wait()

	require.Empty(t, s.minutes)
	require.Len(t, b.messages, 1)
}

func TestPipelineNoResults(t *testing.T) {
	tr := &fakeTranscriber{}
	b := &fakeBroadcaster{}
	p := NewPipeline(PipelineConfig{Transcriber: tr, Broadcaster: b})

	p.RoomFinished(context.Background(), recording.RoomReport{Room: "empty"})
	p.Wait()

	require.Nil(t, tr.files)
	require.Len(t, b.messages, 1)
}

func TestPipelineStoreFailure(t *testing.T) {
	s := &fakeStore{err: errors.New("mongo down")}
	p := NewPipeline(PipelineConfig{Store: s})
	p.RecordingFinished(context.Background(), participant.Result{Room: "standup"})
	require.Empty(t, s.recordings)
}

func TestFanout(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	f := Fanout{a, nil, b}

	f.RecordingFinished(context.Background(), participant.Result{})
	f.RecordingFinished(context.Background(), participant.Result{})
	f.RoomFinished(context.Background(), recording.RoomReport{})

	require.Equal(t, 2, a.recordings)
	require.Equal(t, 2, b.recordings)
	require.Equal(t, 1, a.rooms)
	require.Equal(t, 1, b.rooms)
}
