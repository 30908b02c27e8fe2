package recording

import (
	"context"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
)

// Reporter receives recording outcomes. Calls are fire-and-forget: a
// Reporter handles and logs its own failures.
type Reporter interface {
	// RecordingFinished is called as soon as one session has a deliverable.
	RecordingFinished(ctx context.Context, res participant.Result)
	// RoomFinished is called once the bot has drained and left the room.
	RoomFinished(ctx context.Context, report RoomReport)
}

type SessionFailure struct {
	SessionID   string `json:"session_id"`
	Participant string `json:"participant"`
	Error       string `json:"error"`
}

type RoomReport struct {
	Room     string               `json:"room"`
	Results  []participant.Result `json:"results"`
	Failures []SessionFailure     `json:"failures"`
	Start    time.Time            `json:"start"`
	End      time.Time            `json:"end"`
}

type RoomStatus struct {
	Room             string               `json:"room"`
	Connected        bool                 `json:"connected"`
	State            State                `json:"state"`
	ActiveRecordings int                  `json:"active_recordings"`
	Sessions         []participant.Status `json:"recording_sessions"`
}
