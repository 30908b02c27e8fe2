package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestTranscribe(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "final_alice.mp4", "alice-bytes")
	b := writeFile(t, dir, "final_bob.mp4", "bob-bytes")

	var (
		names       []string
		contents    []string
		numSpeakers string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		numSpeakers = r.FormValue("num_speakers")
		for _, fh := range r.MultipartForm.File["files"] {
			names = append(names, fh.Filename)
			assert.Equal(t, "video/mp4", fh.Header.Get("Content-Type"))
			f, err := fh.Open()
			if !assert.NoError(t, err) {
				return
			}
			data, _ := io.ReadAll(f)
			_ = f.Close()
			contents = append(contents, string(data))
		}
		_ = json.NewEncoder(w).Encode(Transcript{
			Language: "en",
			Segments: []Segment{{Speaker: "SPEAKER_00", Text: "hi", Start: 0, End: 1.5}},
		})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/transcribe", NumSpeakers: 2})
	out, err := c.Transcribe(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Equal(t, "en", out.Language)
	require.Len(t, out.Segments, 1)
	require.Equal(t, "SPEAKER_00", out.Segments[0].Speaker)

	require.Equal(t, "2", numSpeakers)
	require.Equal(t, []string{"final_alice.mp4", "final_bob.mp4"}, names)
	require.Equal(t, []string{"alice-bytes", "bob-bytes"}, contents)
}

func TestTranscribeDefaults(t *testing.T) {
	c := New(Config{URL: "http://localhost"})
	require.Equal(t, DefaultNumSpeakers, c.numSpeakers)
}

func TestTranscribeNoFiles(t *testing.T) {
	_, err := New(Config{URL: "http://localhost"}).Transcribe(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoFiles)
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := New(Config{URL: "http://localhost"}).Transcribe(context.Background(), []string{"/does/not/exist.mp4"})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := writeFile(t, t.TempDir(), "a.mp4", "x")
	_, err := New(Config{URL: srv.URL}).Transcribe(context.Background(), []string{f})
	require.ErrorIs(t, err, ErrRequestFailed)
	require.Contains(t, err.Error(), "503")
	require.Contains(t, err.Error(), "model not loaded")
}
