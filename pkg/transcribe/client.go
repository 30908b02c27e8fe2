// Package transcribe uploads finished recordings to the diarization service
// and returns the speaker segments it produces.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const DefaultNumSpeakers = 3

var (
	ErrNoFiles       = errors.New("no files to transcribe")
	ErrRequestFailed = errors.New("transcription request failed")
)

type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, files []string) (Transcript, error)
}

type Config struct {
	URL         string
	NumSpeakers int
	Timeout     time.Duration
}

type Client struct {
	url         string
	numSpeakers int
	http        *http.Client
}

func New(cfg Config) *Client {
	if cfg.NumSpeakers <= 0 {
		cfg.NumSpeakers = DefaultNumSpeakers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Client{
		url:         cfg.URL,
		numSpeakers: cfg.NumSpeakers,
		http:        &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Transcribe(ctx context.Context, files []string) (Transcript, error) {
	if len(files) == 0 {
		return Transcript{}, ErrNoFiles
	}

	body, contentType, err := c.buildBody(files)
	if err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return Transcript{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Transcript{}, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out Transcript
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("%w: decode response: %w", ErrRequestFailed, err)
	}
	return out, nil
}

func (c *Client) buildBody(files []string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, name := range files {
		if err := addFile(w, name); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("num_speakers", strconv.Itoa(c.numSpeakers)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func addFile(w *multipart.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filepath.Base(name)))
	h.Set("Content-Type", "video/mp4")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
