package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrCapture    = errors.New("capture error")
	ErrBadFrame   = errors.New("malformed frame")
	ErrSinkClosed = errors.New("sink closed")
)

// VideoWriter consumes packed BGR24 frames of a fixed size.
type VideoWriter interface {
	WriteFrame(frame []byte) error
	Close() error
}

type VideoWriterFactory func(path string, width int, height int, fps float64) (VideoWriter, error)

// AudioWriter consumes interleaved s16le samples.
type AudioWriter interface {
	WriteSamples(pcm []byte) error
	Close() error
}

type AudioWriterFactory func(path string, sampleRate int, channels int) (AudioWriter, error)

// ffmpegVideoWriter pipes raw frames into an ffmpeg encoder producing MJPEG
// in an AVI container.
type ffmpegVideoWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	once   sync.Once
	err    error
}

// FFmpegVideoWriter returns a VideoWriterFactory backed by the given ffmpeg binary.
func FFmpegVideoWriter(ffmpeg string) VideoWriterFactory {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return func(path string, width int, height int, fps float64) (VideoWriter, error) {
		cmd := exec.Command(ffmpeg, videoWriterArgs(path, width, height, fps)...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stderr := &bytes.Buffer{}
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return &ffmpegVideoWriter{cmd: cmd, stdin: stdin, stderr: stderr}, nil
	}
}

func videoWriterArgs(path string, width int, height int, fps float64) []string {
	return []string{
		"-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.FormatFloat(fps, 'f', 6, 64),
		"-i", "pipe:0",
		"-c:v", "mjpeg",
		"-q:v", "3",
		path,
	}
}

func (w *ffmpegVideoWriter) WriteFrame(frame []byte) error {
	_, err := w.stdin.Write(frame)
	return err
}

func (w *ffmpegVideoWriter) Close() error {
	w.once.Do(func() {
		_ = w.stdin.Close()
		if err := w.cmd.Wait(); err != nil {
			w.err = fmt.Errorf("ffmpeg encoder: %w\n%s", err, w.stderr.String())
		}
	})
	return w.err
}

type wavWriter struct {
	file    *os.File
	enc     *wav.Encoder
	format  *audio.Format
	closed  bool
	samples []int
}

// WAVWriter opens a 16-bit PCM WAV file.
func WAVWriter(path string, sampleRate int, channels int) (AudioWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &wavWriter{
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, 16, channels, 1),
		format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

func (w *wavWriter) WriteSamples(pcm []byte) error {
	if w.closed {
		return ErrSinkClosed
	}
	n := len(pcm) / 2
	if cap(w.samples) < n {
		w.samples = make([]int, n)
	}
	w.samples = w.samples[:n]
	for i := 0; i < n; i++ {
		w.samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return w.enc.Write(&audio.IntBuffer{
		Format:         w.format,
		Data:           w.samples,
		SourceBitDepth: 16,
	})
}

func (w *wavWriter) Close() error {
	if w.closed {
		return ErrSinkClosed
	}
	w.closed = true
	err := w.enc.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}
