package connector

import (
	"errors"
	"io"
	"strings"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"go.uber.org/atomic"
)

var ErrTrackOpened = errors.New("track already opened")

// container is the ffmpeg demuxer name for what the RTP writer produces.
type container string

const (
	containerIVF  container = "ivf"
	containerH264 container = "h264"
	containerOGG  container = "ogg"
)

func containerFor(mimeType string) container {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return containerIVF
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return containerH264
	case strings.EqualFold(mimeType, webrtc.MimeTypeOpus):
		return containerOGG
	default:
		return ""
	}
}

func createMediaWriter(out io.Writer, codec webrtc.RTPCodecParameters) (pmedia.Writer, error) {
	switch containerFor(codec.MimeType) {
	case containerIVF:
		return ivfwriter.NewWith(out)
	case containerH264:
		return h264writer.NewWith(out), nil
	case containerOGG:
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		return oggwriter.NewWith(out, 48000, channels)
	default:
		return nil, media.ErrMediaNotSupported
	}
}

func depacketizerFor(mimeType string) rtp.Depacketizer {
	switch containerFor(mimeType) {
	case containerIVF:
		return &codecs.VP8Packet{}
	case containerH264:
		return &codecs.H264Packet{}
	case containerOGG:
		return &codecs.OpusPacket{}
	default:
		return nil
	}
}

// videoSize is the decoded frame size for a published track.
func videoSize(info *livekit.TrackInfo, fallbackWidth int, fallbackHeight int) (int, int) {
	if info == nil || info.Width == 0 || info.Height == 0 {
		return fallbackWidth, fallbackHeight
	}
	// yuv420 decoders need even dimensions
	return int(info.Width) &^ 1, int(info.Height) &^ 1
}

type remoteTrack struct {
	track  *webrtc.TrackRemote
	pub    *lksdk.RemoteTrackPublication
	rp     *lksdk.RemoteParticipant
	cfg    Config
	opened atomic.Bool
}

func newRemoteTrack(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant, cfg Config) *remoteTrack {
	return &remoteTrack{track: track, pub: pub, rp: rp, cfg: cfg}
}

func (t *remoteTrack) SID() string {
	return t.pub.SID()
}

func (t *remoteTrack) Kind() media.Kind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return media.KindVideo
	}
	return media.KindAudio
}

func (t *remoteTrack) OpenVideo() (media.VideoStream, error) {
	if t.Kind() != media.KindVideo {
		return nil, media.ErrMediaNotSupported
	}
	if !t.opened.CompareAndSwap(false, true) {
		return nil, ErrTrackOpened
	}

	w, h := videoSize(t.pub.TrackInfo(), t.cfg.FallbackWidth, t.cfg.FallbackHeight)
	d, err := startDecoder(t.track, t.cfg, videoDecoderArgs(containerFor(t.track.Codec().MimeType), w, h), w*h*3)
	if err != nil {
		t.opened.Store(false)
		return nil, err
	}

	// start from a keyframe
	t.rp.WritePLI(t.track.SSRC())
	return &videoStream{decoder: d, width: w, height: h}, nil
}

func (t *remoteTrack) OpenAudio(sampleRate int, channels int) (media.AudioStream, error) {
	if t.Kind() != media.KindAudio {
		return nil, media.ErrMediaNotSupported
	}
	if !t.opened.CompareAndSwap(false, true) {
		return nil, ErrTrackOpened
	}

	d, err := startDecoder(t.track, t.cfg, audioDecoderArgs(containerFor(t.track.Codec().MimeType), sampleRate, channels), audioFrameSize(sampleRate, channels))
	if err != nil {
		t.opened.Store(false)
		return nil, err
	}
	return &audioStream{decoder: d, sampleRate: sampleRate, channels: channels}, nil
}
