package recording

import (
	"time"

	"github.com/livekit/protocol/auth"
)

const tokenTTL = 6 * time.Hour

type authProvider struct {
	APIKey    string
	APISecret string
}

func createAuthProvider(key string, secret string) *authProvider {
	return &authProvider{key, secret}
}

func (p *authProvider) valid() bool {
	return p.APIKey != "" && p.APISecret != ""
}

// buildRecorderToken grants a hidden, subscribe-only identity in room.
func (p *authProvider) buildRecorderToken(room string, identity string) (string, error) {
	at := auth.NewAccessToken(p.APIKey, p.APISecret)
	f := false
	t := true
	grant := &auth.VideoGrant{
		Room:           room,
		RoomJoin:       true,
		CanPublish:     &f,
		CanPublishData: &f,
		CanSubscribe:   &t,
		Hidden:         true,
		Recorder:       true,
	}
	return at.
		SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(tokenTTL).
		ToJWT()
}
