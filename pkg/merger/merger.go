// Package merger combines a session's captured video and audio into a single
// H.264/AAC deliverable, stretching the audio when it outlasts the video.
package merger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/livekit/protocol/logger"
)

var (
	ErrMergeFailed     = errors.New("merge failed")
	ErrProbeFailed     = errors.New("probe failed")
	ErrTranscodeFailed = errors.New("transcode failed")
	ErrNoInput         = errors.New("no input stream")
)

// MaxTempoStage is the largest factor a single atempo stage accepts.
const MaxTempoStage = 2.0

type Request struct {
	VideoPath  string
	AudioPath  string
	HasVideo   bool
	HasAudio   bool
	OutputPath string
}

type Result struct {
	Path          string
	VideoDuration float64
	AudioDuration float64
	Tempo         []float64
	Elapsed       time.Duration
}

type Merger interface {
	Merge(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	FFmpeg  string
	FFprobe string
	Runner  Runner
}

type ffmpegMerger struct {
	ffmpeg  string
	ffprobe string
	runner  Runner
}

func New(cfg Config) Merger {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	return &ffmpegMerger{
		ffmpeg:  cfg.FFmpeg,
		ffprobe: cfg.FFprobe,
		runner:  cfg.Runner,
	}
}

func (m *ffmpegMerger) Merge(ctx context.Context, req Request) (*Result, error) {
	if !req.HasVideo && !req.HasAudio {
		return nil, fmt.Errorf("%w: %w", ErrMergeFailed, ErrNoInput)
	}
	start := time.Now()
	res := &Result{Path: req.OutputPath}

	if req.HasVideo && req.HasAudio {
		var err error
		if res.VideoDuration, err = m.probe(ctx, req.VideoPath, "v:0"); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMergeFailed, err)
		}
		if res.AudioDuration, err = m.probe(ctx, req.AudioPath, "a:0"); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMergeFailed, err)
		}
		res.Tempo = TempoChain(res.VideoDuration, res.AudioDuration)
		if len(res.Tempo) > 0 {
			logger.Infow("correcting audio drift",
				"output", req.OutputPath,
				"videoDuration", res.VideoDuration,
				"audioDuration", res.AudioDuration,
				"tempo", TempoFilter(res.Tempo),
			)
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMergeFailed, err)
	}

	out, err := m.runner.Run(ctx, m.ffmpeg, transcodeArgs(req, res.Tempo)...)
	if err != nil {
		logger.Warnw("transcode failed", err, "output", req.OutputPath, "stderr", string(out))
		return nil, fmt.Errorf("%w: %w: %v: %s", ErrMergeFailed, ErrTranscodeFailed, err, strings.TrimSpace(string(out)))
	}

	res.Elapsed = time.Since(start)
	logger.Debugw("merge complete", "output", req.OutputPath, "elapsed", res.Elapsed)
	return res, nil
}

// probe returns the duration in seconds of the selected stream. Containers
// that do not carry a per-stream duration report N/A, which reads as zero.
func (m *ffmpegMerger) probe(ctx context.Context, path string, stream string) (float64, error) {
	out, err := m.runner.Run(ctx, m.ffprobe,
		"-v", "error",
		"-select_streams", stream,
		"-show_entries", "stream=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v: %s", ErrProbeFailed, path, err, strings.TrimSpace(string(out)))
	}
	return parseDuration(string(out)), nil
}

func parseDuration(out string) float64 {
	s := strings.TrimSpace(out)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// TempoChain returns the atempo stages needed to fit audio into the video's
// duration. Factors above MaxTempoStage are split into 2.0 stages followed by
// the residual. No correction is needed unless audio is the longer stream.
func TempoChain(video float64, audio float64) []float64 {
	if video <= 0 || audio <= video {
		return nil
	}
	speed := audio / video
	var chain []float64
	for speed > MaxTempoStage {
		chain = append(chain, MaxTempoStage)
		speed /= MaxTempoStage
	}
	return append(chain, speed)
}

func TempoFilter(chain []float64) string {
	stages := make([]string, 0, len(chain))
	for _, f := range chain {
		stages = append(stages, "atempo="+strconv.FormatFloat(f, 'f', 6, 64))
	}
	return strings.Join(stages, ",")
}

func transcodeArgs(req Request, tempo []float64) []string {
	args := []string{"-y", "-loglevel", "error"}
	if req.HasVideo {
		args = append(args, "-i", req.VideoPath)
	}
	if req.HasAudio {
		args = append(args, "-i", req.AudioPath)
	}
	if req.HasAudio && len(tempo) > 0 {
		args = append(args, "-filter:a", TempoFilter(tempo))
	}
	if req.HasVideo {
		args = append(args, "-c:v", "libx264", "-preset", "medium", "-crf", "23")
	}
	if req.HasAudio {
		args = append(args, "-c:a", "aac")
	}
	return append(args, "-shortest", req.OutputPath)
}
