package participant

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/atomic"
)

const (
	videoFile = "video.avi"
	audioFile = "audio.wav"
)

// sequence makes paths unique within the process even when the same
// participant rejoins within one second.
var sequence atomic.Uint64

type Paths struct {
	WorkDir string
	Video   string
	Audio   string
	Output  string
}

func newPaths(tempDir string, recordingsDir string, room string, identity string, now time.Time) Paths {
	base := fmt.Sprintf("%s_%s_%d", sanitize(identity), now.UTC().Format("20060102_150405"), sequence.Inc())
	work := filepath.Join(tempDir, sanitize(room), base+"_"+shortuuid.New())
	return Paths{
		WorkDir: work,
		Video:   filepath.Join(work, videoFile),
		Audio:   filepath.Join(work, audioFile),
		Output:  filepath.Join(recordingsDir, sanitize(room), "final_"+base+".mp4"),
	}
}

// sanitize makes a room or identity safe to use as a single path element.
func sanitize(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '@':
			return r
		default:
			return '_'
		}
	}, name)
	if s == "" {
		return "unknown"
	}
	if strings.HasPrefix(s, ".") {
		s = "_" + s
	}
	return s
}
