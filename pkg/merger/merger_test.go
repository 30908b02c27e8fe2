package merger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	lock  sync.Mutex
	calls []call
	// keyed by the stream selector for ffprobe, "ffmpeg" for the transcode
	outputs map[string]string
	errs    map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})

	key := name
	if name == "ffprobe" {
		key = args[3]
	}
	return []byte(r.outputs[key]), r.errs[key]
}

func (r *fakeRunner) transcode() []string {
	for _, c := range r.calls {
		if c.name == "ffmpeg" {
			return c.args
		}
	}
	return nil
}

func TestTempoChain(t *testing.T) {
	require.Equal(t, []float64{2.0, 1.25}, TempoChain(10, 25))
	require.Nil(t, TempoChain(10, 10))
	require.Nil(t, TempoChain(10, 5))
	require.Nil(t, TempoChain(0, 5))
	require.Equal(t, []float64{2.0}, TempoChain(5, 10))

	chain := TempoChain(3, 41)
	product := 1.0
	for _, f := range chain {
		require.LessOrEqual(t, f, MaxTempoStage)
		product *= f
	}
	require.InDelta(t, 41.0/3.0, product, 1e-9)
}

func TestTempoFilter(t *testing.T) {
	require.Equal(t, "atempo=2.000000,atempo=1.250000", TempoFilter([]float64{2.0, 1.25}))
	require.Equal(t, "", TempoFilter(nil))
}

func TestParseDuration(t *testing.T) {
	require.Equal(t, 12.5, parseDuration("12.500000\n"))
	require.Equal(t, 0.0, parseDuration("N/A\n"))
	require.Equal(t, 0.0, parseDuration(""))
}

func TestMergeAppliesTempoChain(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"v:0": "10.0\n", "a:0": "25.0\n"}}
	m := New(Config{Runner: runner})
	out := filepath.Join(t.TempDir(), "room", "final.mp4")

	res, err := m.Merge(context.Background(), Request{
		VideoPath:  "video.avi",
		AudioPath:  "audio.wav",
		HasVideo:   true,
		HasAudio:   true,
		OutputPath: out,
	})
	require.NoError(t, err)
	require.Equal(t, out, res.Path)
	require.Equal(t, []float64{2.0, 1.25}, res.Tempo)
	require.Len(t, runner.calls, 3)
	require.Equal(t, []string{
		"-y", "-loglevel", "error",
		"-i", "video.avi",
		"-i", "audio.wav",
		"-filter:a", "atempo=2.000000,atempo=1.250000",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac",
		"-shortest", out,
	}, runner.transcode())
	require.DirExists(t, filepath.Dir(out))
}

func TestMergeWithoutDrift(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"v:0": "10.0", "a:0": "10.0"}}
	m := New(Config{Runner: runner})

	res, err := m.Merge(context.Background(), Request{
		VideoPath: "video.avi", AudioPath: "audio.wav",
		HasVideo: true, HasAudio: true,
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
	})
	require.NoError(t, err)
	require.Empty(t, res.Tempo)
	require.NotContains(t, runner.transcode(), "-filter:a")
}

func TestMergeAudioOnly(t *testing.T) {
	runner := &fakeRunner{}
	m := New(Config{Runner: runner})
	out := filepath.Join(t.TempDir(), "final.mp4")

	_, err := m.Merge(context.Background(), Request{AudioPath: "audio.wav", HasAudio: true, OutputPath: out})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1, "no probing without both streams")
	require.Equal(t, []string{"-y", "-loglevel", "error", "-i", "audio.wav", "-c:a", "aac", "-shortest", out}, runner.transcode())
}

func TestMergeVideoOnly(t *testing.T) {
	runner := &fakeRunner{}
	m := New(Config{Runner: runner})
	out := filepath.Join(t.TempDir(), "final.mp4")

	_, err := m.Merge(context.Background(), Request{VideoPath: "video.avi", HasVideo: true, OutputPath: out})
	require.NoError(t, err)
	args := runner.transcode()
	require.Contains(t, args, "libx264")
	require.NotContains(t, args, "aac")
}

func TestMergeTranscodeFailure(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"ffmpeg": "Unknown encoder 'libx264'"},
		errs:    map[string]error{"ffmpeg": errors.New("exit status 1")},
	}
	m := New(Config{Runner: runner})

	res, err := m.Merge(context.Background(), Request{
		AudioPath: "audio.wav", HasAudio: true,
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
	})
	require.Nil(t, res)
	require.ErrorIs(t, err, ErrMergeFailed)
	require.ErrorIs(t, err, ErrTranscodeFailed)
	require.True(t, strings.Contains(err.Error(), "Unknown encoder"))
}

func TestMergeProbeFailure(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"v:0": "video.avi: Invalid data found"},
		errs:    map[string]error{"v:0": errors.New("exit status 1")},
	}
	m := New(Config{Runner: runner})

	_, err := m.Merge(context.Background(), Request{
		VideoPath: "video.avi", AudioPath: "audio.wav",
		HasVideo: true, HasAudio: true,
		OutputPath: filepath.Join(t.TempDir(), "final.mp4"),
	})
	require.ErrorIs(t, err, ErrMergeFailed)
	require.ErrorIs(t, err, ErrProbeFailed)
	require.Nil(t, runner.transcode())
}

func TestMergeNoInput(t *testing.T) {
	m := New(Config{Runner: &fakeRunner{}})
	_, err := m.Merge(context.Background(), Request{OutputPath: "final.mp4"})
	require.ErrorIs(t, err, ErrNoInput)
}
