package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/config"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/spf13/cobra"
)

var ErrPrerequisites = errors.New("some prerequisites are missing")

// roomLister is the part of the room service client doctor needs.
type roomLister interface {
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
}

type doctor struct {
	out      io.Writer
	lookPath func(string) (string, error)
	rooms    func(cfg *config.Config) roomLister
}

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := doctor{
				out:      cmd.OutOrStdout(),
				lookPath: exec.LookPath,
				rooms: func(cfg *config.Config) roomLister {
					return lksdk.NewRoomServiceClient(recording.HTTPURL(cfg.LiveKit.URL), cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
				},
			}
			return d.run(cmd.Context(), deps.Config)
		},
	}
}

func (d doctor) check(name string, ok bool, detail string) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Fprintf(d.out, "%s %s: %s\n", mark, name, detail)
}

func (d doctor) run(ctx context.Context, cfg *config.Config) error {
	ok := true

	for _, bin := range []struct{ name, path string }{
		{"ffmpeg", cfg.FFmpeg.FFmpeg},
		{"ffprobe", cfg.FFmpeg.FFprobe},
	} {
		if p, err := d.lookPath(bin.path); err != nil {
			d.check(bin.name, false, "not found. Install ffmpeg or set "+envFor(bin.name))
			ok = false
		} else {
			d.check(bin.name, true, p)
		}
	}

	if !cfg.HasLiveKitCredentials() {
		d.check("LiveKit", false, "not set. Set LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET")
		ok = false
	} else {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		res, err := d.rooms(cfg).ListRooms(ctx, &livekit.ListRoomsRequest{})
		if err != nil {
			d.check("LiveKit", false, err.Error())
			ok = false
		} else {
			d.check("LiveKit", true, fmt.Sprintf("%s (%d rooms)", cfg.LiveKit.URL, len(res.GetRooms())))
		}
	}

	d.check("Recordings directory", true, cfg.Storage.RecordingsDir)

	if !ok {
		return ErrPrerequisites
	}
	fmt.Fprintln(d.out, "\nAll prerequisites met. Ready to record!")
	return nil
}

func envFor(bin string) string {
	if bin == "ffprobe" {
		return "FFPROBE_PATH"
	}
	return "FFMPEG_PATH"
}
