package participant

import "time"

// Result describes the deliverable produced for one session.
type Result struct {
	Room        string    `json:"room"`
	Participant string    `json:"participant"`
	SessionID   string    `json:"session_id"`
	Path        string    `json:"path"`
	Uploaded    bool      `json:"uploaded"`
	// LocalPath is the on-disk copy of an uploaded deliverable, kept until
	// the room's post-processing is done with it.
	LocalPath   string    `json:"local_path,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	VideoFrames int64     `json:"video_frames"`
	AudioFrames int64     `json:"audio_frames"`

	MergeDuration time.Duration `json:"-"`
}

type Status struct {
	SessionID   string  `json:"session_id"`
	Participant string  `json:"participant"`
	State       string  `json:"state"`
	VideoFrames int64   `json:"video_frames"`
	AudioFrames int64   `json:"audio_frames"`
	Duration    float64 `json:"duration"`
	Accepting   bool    `json:"accepting"`
	Finalized   bool    `json:"finalized"`
}
