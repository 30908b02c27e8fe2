package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/media"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/server-sdk-go/v2/pkg/jitter"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

// audioFrameMs is the duration of one decoded audio frame.
const audioFrameMs = 20

func audioFrameSize(sampleRate int, channels int) int {
	return sampleRate * audioFrameMs / 1000 * channels * 2
}

// videoDecoderArgs turns off input probing and buffering. Frames are stamped
// on arrival, so ffmpeg must emit each one as soon as its packet is in.
func videoDecoderArgs(format container, width int, height int) []string {
	return []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-f", string(format),
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

func audioDecoderArgs(format container, sampleRate int, channels int) []string {
	return []string{
		"-loglevel", "error",
		"-f", string(format),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	}
}

type frame struct {
	data []byte
	at   time.Duration
}

// decoder feeds a track's RTP through a container writer into ffmpeg and
// reads fixed-size raw frames back out.
type decoder struct {
	track  *webrtc.TrackRemote
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer

	frames chan frame
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func startDecoder(track *webrtc.TrackRemote, cfg Config, args []string, frameSize int) (*decoder, error) {
	codec := track.Codec()
	depacketizer := depacketizerFor(codec.MimeType)
	if depacketizer == nil {
		return nil, media.ErrMediaNotSupported
	}

	cmd := exec.Command(cfg.FFmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	writer, err := createMediaWriter(stdin, codec)
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	d := &decoder{
		track:  track,
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		frames: make(chan frame, 4),
		done:   make(chan struct{}),
	}
	buffer := jitter.NewBuffer(depacketizer, codec.ClockRate, cfg.Latency)

	d.wg.Add(2)
	go d.pump(buffer, writer)
	go func() {
		defer d.wg.Done()
		readFrames(stdout, frameSize, d.frames, d.done)
	}()
	return d, nil
}

// pump moves RTP packets from the track into the container writer until the
// track ends or the decoder is closed.
func (d *decoder) pump(buffer *jitter.Buffer, writer pmedia.Writer) {
	defer d.wg.Done()
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Debugw("cannot close container writer", "error", err)
		}
		_ = d.stdin.Close()
	}()

	for {
		select {
		case <-d.done:
			return
		default:
		}

		pkt, _, err := d.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugw("track read ended", "error", err, "track", d.track.ID())
			}
			return
		}

		buffer.Push(pkt)
		for _, p := range buffer.Pop(false) {
			if err := writer.WriteRTP(p); err != nil {
				logger.Warnw("cannot write rtp packet", err, "track", d.track.ID())
				return
			}
		}
	}
}

// readFrames splits r into size-byte frames stamped with their arrival time
// relative to the first frame. out is closed when r ends.
func readFrames(r io.Reader, size int, out chan<- frame, done <-chan struct{}) {
	defer close(out)

	var start time.Time
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		now := time.Now()
		if start.IsZero() {
			start = now
		}
		select {
		case out <- frame{data: buf, at: now.Sub(start)}:
		case <-done:
			return
		}
	}
}

func (d *decoder) next(ctx context.Context) (frame, error) {
	select {
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case f, ok := <-d.frames:
		if !ok {
			return frame{}, io.EOF
		}
		return f, nil
	}
}

func (d *decoder) Close() error {
	d.once.Do(func() {
		close(d.done)
		// unblock ReadRTP
		_ = d.track.SetReadDeadline(time.Now())
		_ = d.stdin.Close()
		if d.cmd.Process != nil {
			_ = d.cmd.Process.Kill()
		}
		d.wg.Wait()
		if err := d.cmd.Wait(); err != nil && d.stderr.Len() > 0 {
			logger.Debugw("decoder exited", "error", err, "stderr", d.stderr.String())
		}
	})
	return nil
}

type videoStream struct {
	*decoder
	width  int
	height int
}

func (s *videoStream) Next(ctx context.Context) (media.VideoFrame, error) {
	f, err := s.next(ctx)
	if err != nil {
		return media.VideoFrame{}, err
	}
	return media.VideoFrame{Width: s.width, Height: s.height, Data: f.data, Timestamp: f.at}, nil
}

type audioStream struct {
	*decoder
	sampleRate int
	channels   int
}

func (s *audioStream) Next(ctx context.Context) (media.AudioFrame, error) {
	f, err := s.next(ctx)
	if err != nil {
		return media.AudioFrame{}, err
	}
	return media.AudioFrame{Data: f.data, SampleRate: s.sampleRate, Channels: s.channels}, nil
}
