// Package notify delivers recording outcomes to the outside world: webhooks,
// websocket subscribers and the meeting-minutes pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
	"github.com/labstack/gommon/log"
)

const (
	EventRecordingFinished = "recording_finished"
	EventRoomFinished      = "room_finished"
	EventMergeComplete     = "merge_complete"
)

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Webhook posts every outcome as JSON to each configured URL.
type Webhook struct {
	urls   []string
	client *http.Client
	wg     sync.WaitGroup
}

func NewWebhook(urls []string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	return &Webhook{
		urls:   clean,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) RecordingFinished(ctx context.Context, res participant.Result) {
	w.send(ctx, envelope{Event: EventRecordingFinished, Data: res})
}

func (w *Webhook) RoomFinished(ctx context.Context, report recording.RoomReport) {
	w.send(ctx, envelope{Event: EventRoomFinished, Data: report})
}

// Wait blocks until every in-flight delivery has returned.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func (w *Webhook) send(ctx context.Context, payload envelope) {
	if len(w.urls) == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("error marshalling payload | error: %v, event: %s", err, payload.Event)
		return
	}

	for _, hook := range w.urls {
		w.wg.Add(1)
		go func(url string) {
			defer w.wg.Done()
			if err := w.post(context.WithoutCancel(ctx), url, body); err != nil {
				log.Errorf("error reaching webhook | error: %v, url: %s", err, url)
				return
			}
			log.Infof("sent webhook data | url: %s, event: %s", url, payload.Event)
		}(hook)
	}
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
