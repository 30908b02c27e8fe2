// Package connector joins LiveKit rooms and exposes them through the media
// interfaces: SDK callbacks become an ordered event channel and subscribed
// tracks are decoded to raw frames by ffmpeg.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
)

const eventBuffer = 256

type Config struct {
	URL    string
	FFmpeg string

	// Used when a video track does not advertise its dimensions.
	FallbackWidth  int
	FallbackHeight int

	// Jitter buffer latency.
	Latency time.Duration
}

type Connector struct {
	cfg Config
}

func New(cfg Config) *Connector {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FallbackWidth <= 0 || cfg.FallbackHeight <= 0 {
		cfg.FallbackWidth, cfg.FallbackHeight = 1280, 720
	}
	if cfg.Latency <= 0 {
		cfg.Latency = 200 * time.Millisecond
	}
	return &Connector{cfg: cfg}
}

type joinResult struct {
	room *lksdk.Room
	err  error
}

// Connect joins room with token. If ctx ends first the join is abandoned and
// the room is left as soon as the SDK returns.
func (c *Connector) Connect(ctx context.Context, room string, token string) (media.Connection, error) {
	conn := newConnection(room, c.cfg)

	cb := lksdk.NewRoomCallback()
	cb.OnParticipantConnected = conn.onParticipantConnected
	cb.OnParticipantDisconnected = conn.onParticipantDisconnected
	cb.OnDisconnectedWithReason = conn.onDisconnected
	cb.ParticipantCallback.OnTrackSubscribed = conn.onTrackSubscribed
	cb.ParticipantCallback.OnTrackUnsubscribed = conn.onTrackUnsubscribed

	joined := make(chan joinResult, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(c.cfg.URL, token, cb, lksdk.WithAutoSubscribe(true))
		joined <- joinResult{r, err}
	}()

	select {
	case res := <-joined:
		if res.err != nil {
			conn.close()
			return nil, res.err
		}
		conn.setRoom(res.room)
		logger.Infow("joined room", "room", room)
		return conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-joined; res.err == nil {
				res.room.Disconnect()
			}
			conn.close()
		}()
		return nil, ctx.Err()
	}
}

type connection struct {
	name string
	cfg  Config

	lock   sync.Mutex
	room   *lksdk.Room
	events chan media.Event
	done   chan struct{}
	closed bool
	once   sync.Once
}

func newConnection(name string, cfg Config) *connection {
	return &connection{
		name:   name,
		cfg:    cfg,
		events: make(chan media.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *connection) Events() <-chan media.Event {
	return c.events
}

func (c *connection) setRoom(room *lksdk.Room) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.room = room
}

func (c *connection) Disconnect() {
	c.stop()

	c.lock.Lock()
	room := c.room
	c.room = nil
	c.lock.Unlock()

	if room != nil {
		room.Disconnect()
	}
	c.close()
}

// stop releases callbacks blocked in emit.
func (c *connection) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *connection) close() {
	c.stop()

	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// emit queues ev for the controller. It gives up once the connection is torn
// down so SDK callbacks never block shutdown.
func (c *connection) emit(ev media.Event) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func participantOf(rp *lksdk.RemoteParticipant) media.Participant {
	return media.Participant{Identity: rp.Identity(), SID: rp.SID()}
}

func (c *connection) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	c.emit(media.Event{Type: media.ParticipantConnected, Participant: participantOf(rp)})
}

func (c *connection) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	c.participantLeft(participantOf(rp))
}

func (c *connection) participantLeft(p media.Participant) {
	c.emit(media.Event{
		Type:        media.ParticipantDisconnected,
		Participant: p,
		Remaining:   c.remaining(p.SID),
	})
}

// remaining counts remote participants other than the one with sid.
func (c *connection) remaining(sid string) int {
	c.lock.Lock()
	room := c.room
	c.lock.Unlock()
	if room == nil {
		return media.RemainingUnknown
	}

	n := 0
	for _, p := range room.GetRemoteParticipants() {
		if p.SID() != sid {
			n++
		}
	}
	return n
}

func (c *connection) onDisconnected(reason lksdk.DisconnectionReason) {
	logger.Infow("disconnected from room", "room", c.name, "reason", reason)
	c.emit(media.Event{Type: media.Disconnected, Reason: string(reason)})
}

func (c *connection) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	t := newRemoteTrack(track, pub, rp, c.cfg)
	logger.Debugw("track subscribed",
		"room", c.name,
		"participant", rp.Identity(),
		"track", pub.SID(),
		"codec", track.Codec().MimeType,
	)
	c.emit(media.Event{
		Type:        media.TrackSubscribed,
		Participant: participantOf(rp),
		Track:       t,
		TrackSID:    pub.SID(),
	})
}

func (c *connection) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	c.emit(media.Event{
		Type:        media.TrackUnsubscribed,
		Participant: participantOf(rp),
		TrackSID:    pub.SID(),
	})
}
