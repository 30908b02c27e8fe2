package rest

import (
	"errors"
	"net/http"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type recordingController struct {
	service recording.Service
	store   store.Store
}

type StartRecordingRequest struct {
	Room      string `json:"room"`
	Requester string `json:"requester"`
}

type StopRecordingRequest struct {
	Room string `json:"room"`
}

type ActiveRooms struct {
	Rooms []string `json:"active_rooms"`
}

type MeetingResponse struct {
	Room       string            `json:"room"`
	Recordings []store.Recording `json:"recordings"`
	Minutes    []store.Minute    `json:"minutes"`
}

// NewRecordingController serves the recording API. records may be nil, in
// which case meeting lookups answer 503.
func NewRecordingController(service recording.Service, records store.Store) recordingController {
	return recordingController{service: service, store: records}
}

var (
	ErrEmptyFields   = errors.New("one or more fields is empty")
	ErrNoPersistence = errors.New("persistence is not configured")
)

func (rc *recordingController) StartRecording(c echo.Context) error {
	// Bind request data
	data := new(StartRecordingRequest)
	if err := c.Bind(data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err)
	}

	// Sanitise request
	if data.Room == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrEmptyFields)
	}

	// Call service
	res, err := rc.service.Start(c.Request().Context(), recording.StartRequest{
		Room:      data.Room,
		Requester: data.Requester,
	})
	switch {
	case errors.Is(err, recording.ErrMissingCredentials):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, recording.ErrConnectionFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	log.Infof("start requested | room: %s, requester: %s, status: %s", data.Room, data.Requester, res.Status)
	return c.JSON(http.StatusOK, res)
}

func (rc *recordingController) StopRecording(c echo.Context) error {
	// Bind request data
	data := new(StopRecordingRequest)
	if err := c.Bind(data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err)
	}

	// Sanitise request
	if data.Room == "" {
		return echo.NewHTTPError(http.StatusBadRequest, ErrEmptyFields)
	}

	// Call service
	res, err := rc.service.Stop(c.Request().Context(), data.Room)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, res)
}

func (rc *recordingController) Status(c echo.Context) error {
	room := c.QueryParam("room")
	if room == "" {
		return c.JSON(http.StatusOK, ActiveRooms{Rooms: rc.service.Rooms()})
	}

	status, found := rc.service.Status(room)
	if !found {
		// Unknown rooms still answer with an empty, disconnected status
		status = recording.RoomStatus{Room: room, Sessions: []participant.Status{}}
	}
	return c.JSON(http.StatusOK, status)
}

func (rc *recordingController) Meeting(c echo.Context) error {
	if rc.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrNoPersistence.Error())
	}
	room := c.Param("room")
	ctx := c.Request().Context()

	recs, err := rc.store.Recordings(ctx, room)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	minutes, err := rc.store.Minutes(ctx, room)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if recs == nil {
		recs = []store.Recording{}
	}
	if minutes == nil {
		minutes = []store.Minute{}
	}
	return c.JSON(http.StatusOK, MeetingResponse{Room: room, Recordings: recs, Minutes: minutes})
}
