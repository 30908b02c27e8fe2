package notify

import (
	"context"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
)

// Fanout forwards every outcome to each reporter in order.
type Fanout []recording.Reporter

func (f Fanout) RecordingFinished(ctx context.Context, res participant.Result) {
	for _, r := range f {
		if r != nil {
			r.RecordingFinished(ctx, res)
		}
	}
}

func (f Fanout) RoomFinished(ctx context.Context, report recording.RoomReport) {
	for _, r := range f {
		if r != nil {
			r.RoomFinished(ctx, report)
		}
	}
}
