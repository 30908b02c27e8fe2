package media

import "context"

type EventType int

const (
	ParticipantConnected EventType = iota
	ParticipantDisconnected
	TrackSubscribed
	TrackUnsubscribed
	Disconnected
)

// RemainingUnknown is reported when a participant leaves before the room's
// membership is known.
const RemainingUnknown = -1

func (t EventType) String() string {
	switch t {
	case ParticipantConnected:
		return "participant_connected"
	case ParticipantDisconnected:
		return "participant_disconnected"
	case TrackSubscribed:
		return "track_subscribed"
	case TrackUnsubscribed:
		return "track_unsubscribed"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Event struct {
	Type        EventType
	Participant Participant

	// Set for TrackSubscribed
	Track Track
	// Set for TrackSubscribed and TrackUnsubscribed
	TrackSID string

	// Remote participants still in the room after a ParticipantDisconnected,
	// or RemainingUnknown while the room is still being joined
	Remaining int

	// Set for Disconnected
	Reason string
}

// Connection is a joined room. The events channel is closed once the
// connection is torn down.
type Connection interface {
	Events() <-chan Event
	Disconnect()
}

type Connector interface {
	Connect(ctx context.Context, room string, token string) (Connection, error)
}
