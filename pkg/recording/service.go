package recording

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/metrics"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/gommon/log"
	"github.com/livekit/protocol/utils"
)

var (
	ErrMissingCredentials = errors.New("missing livekit credentials")
	ErrConnectionFailed   = errors.New("cannot connect to room")
	ErrEmptyRoom          = errors.New("empty room name")
)

const (
	StatusConnecting       = "connecting"
	StatusAlreadyConnected = "already connected"
	StatusDisconnected     = "disconnected"
	StatusNotConnected     = "not connected"
)

type StartRequest struct {
	Room      string
	Requester string
}

type StartResponse struct {
	Status string `json:"status"`
	Room   string `json:"room"`
	State  State  `json:"state,omitempty"`
}

type StopResponse struct {
	Status string `json:"status"`
	Room   string `json:"room"`
}

// Service owns the bots of every recorded room. It is the only shared state
// between rooms.
type Service interface {
	Start(ctx context.Context, req StartRequest) (StartResponse, error)
	Stop(ctx context.Context, room string) (StopResponse, error)
	Status(room string) (RoomStatus, bool)
	Rooms() []string
	// Shutdown stops every bot and waits for them to drain.
	Shutdown(ctx context.Context) error
}

type Config struct {
	URL       string
	APIKey    string
	APISecret string

	Session   participant.Config
	Connector media.Connector
	Reporter  Reporter
	Metrics   *metrics.Metrics
}

type service struct {
	url       string
	auth      *authProvider
	session   participant.Config
	connector media.Connector
	reporter  Reporter
	metrics   *metrics.Metrics

	lock sync.Mutex
	bots map[string]*bot
}

func NewService(cfg Config) Service {
	return &service{
		url:       cfg.URL,
		auth:      createAuthProvider(cfg.APIKey, cfg.APISecret),
		session:   cfg.Session,
		connector: cfg.Connector,
		reporter:  cfg.Reporter,
		metrics:   cfg.Metrics,
		bots:      make(map[string]*bot),
	}
}

// HTTPURL turns a websocket server URL into the matching HTTP one.
func HTTPURL(url string) string {
	if strings.HasPrefix(url, "ws://") {
		return "http://" + strings.TrimPrefix(url, "ws://")
	} else if strings.HasPrefix(url, "wss://") {
		return "https://" + strings.TrimPrefix(url, "wss://")
	}
	return url
}

func (s *service) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	if req.Room == "" {
		return StartResponse{}, ErrEmptyRoom
	}
	if s.url == "" || !s.auth.valid() {
		s.metrics.RoomOperation("start", "unconfigured")
		return StartResponse{}, ErrMissingCredentials
	}

	s.lock.Lock()
	if b, found := s.bots[req.Room]; found {
		s.lock.Unlock()
		log.Debugf("bot already in room | room: %s, requester: %s", req.Room, req.Requester)
		return StartResponse{Status: StatusAlreadyConnected, Room: req.Room, State: b.State()}, nil
	}
	b := createBot(botConfig{
		id:        utils.NewGuid("RB_"),
		room:      req.Room,
		session:   s.session,
		connector: s.connector,
		reporter:  s.reporter,
		metrics:   s.metrics,
		onStopped: s.remove,
	})
	s.bots[req.Room] = b
	s.lock.Unlock()

	log.Infof("starting bot | room: %s, bot: %s, requester: %s", req.Room, b.id, req.Requester)
	token, err := s.auth.buildRecorderToken(req.Room, b.id)
	if err == nil {
		err = b.connect(ctx, token)
	} else {
		b.abort()
	}
	if err != nil {
		s.remove(b)
		s.metrics.RoomOperation("start", "failed")
		log.Errorf("cannot connect bot | error: %v, room: %s", err, req.Room)
		return StartResponse{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s.metrics.RoomOperation("start", "ok")
	return StartResponse{Status: StatusConnecting, Room: req.Room, State: b.State()}, nil
}

func (s *service) Stop(ctx context.Context, room string) (StopResponse, error) {
	s.lock.Lock()
	b, found := s.bots[room]
	s.lock.Unlock()
	if !found {
		return StopResponse{Status: StatusNotConnected, Room: room}, nil
	}

	b.requestStop()
	select {
	case <-b.done:
	case <-ctx.Done():
		return StopResponse{}, ctx.Err()
	}
	s.metrics.RoomOperation("stop", "ok")
	return StopResponse{Status: StatusDisconnected, Room: room}, nil
}

func (s *service) Status(room string) (RoomStatus, bool) {
	s.lock.Lock()
	b, found := s.bots[room]
	s.lock.Unlock()
	if !found {
		return RoomStatus{}, false
	}
	return b.status(), true
}

func (s *service) Rooms() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	rooms := make([]string, 0, len(s.bots))
	for room := range s.bots {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (s *service) Shutdown(ctx context.Context) error {
	s.lock.Lock()
	rooms := make([]string, 0, len(s.bots))
	for room := range s.bots {
		rooms = append(rooms, room)
	}
	s.lock.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, room := range rooms {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			if _, err := s.Stop(ctx, room); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("room %s: %w", room, err))
				mu.Unlock()
			}
		}(room)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// remove drops b from the registry unless the room already has a newer bot.
func (s *service) remove(b *bot) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if current, found := s.bots[b.room]; found && current == b {
		delete(s.bots, b.room)
	}
}
