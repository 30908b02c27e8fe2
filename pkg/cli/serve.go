package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudgroundcontrol/meeting-recorder/pkg/config"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/connector"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/http/rest"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/merger"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/metrics"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/notify"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/participant"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recorder"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/recording"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/store"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/transcribe"
	"github.com/cloudgroundcontrol/meeting-recorder/pkg/upload"
	"github.com/hashicorp/go-multierror"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Minute

func NewServeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, deps.Config)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Check that ffmpeg is installed
	for _, bin := range []string{cfg.FFmpeg.FFmpeg, cfg.FFmpeg.FFprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return err
		}
	}

	for _, dir := range []string{cfg.Storage.RecordingsDir, cfg.Storage.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if !cfg.HasLiveKitCredentials() {
		log.Warnf("livekit credentials are not set, every start request will fail")
	}

	m := metrics.New()

	// Create S3 uploader only if the configuration is not empty
	var uploader upload.Uploader
	if cfg.S3.Region != "" && cfg.S3.Bucket != "" {
		u, err := upload.NewS3Uploader(ctx, upload.S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Directory: cfg.S3.Directory,
		})
		if err != nil {
			return err
		}
		uploader = u
	}

	var records store.Store
	if cfg.Mongo.URI != "" {
		s, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return fmt.Errorf("connecting to mongo: %w", err)
		}
		defer s.Close(context.Background())
		records = s
	}

	var transcriber transcribe.Transcriber
	if cfg.Transcribe.URL != "" {
		transcriber = transcribe.New(transcribe.Config{
			URL:         cfg.Transcribe.URL,
			NumSpeakers: cfg.Transcribe.NumSpeakers,
		})
	}

	hub := notify.NewHub()
	defer hub.Close()

	pipeline := notify.NewPipeline(notify.PipelineConfig{
		Store:       records,
		Transcriber: transcriber,
		Broadcaster: hub,
	})
	reporters := notify.Fanout{pipeline}
	var webhook *notify.Webhook
	if len(cfg.Webhooks) > 0 {
		webhook = notify.NewWebhook(cfg.Webhooks, 5*time.Second)
		reporters = append(reporters, webhook)
	}

	service := recording.NewService(recording.Config{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		Session: participant.Config{
			TempDir:       cfg.Storage.TempDir,
			RecordingsDir: cfg.Storage.RecordingsDir,
			Video: recorder.VideoConfig{
				Width:        cfg.Video.Width,
				Height:       cfg.Video.Height,
				RateSamples:  cfg.Video.RateSamples,
				FallbackRate: cfg.Video.DefaultFPS,
				NewWriter:    recorder.FFmpegVideoWriter(cfg.FFmpeg.FFmpeg),
			},
			Audio: recorder.AudioConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
			},
			Merger: merger.New(merger.Config{
				FFmpeg:  cfg.FFmpeg.FFmpeg,
				FFprobe: cfg.FFmpeg.FFprobe,
			}),
			Uploader: uploader,
		},
		Connector: connector.New(connector.Config{
			URL:    cfg.LiveKit.URL,
			FFmpeg: cfg.FFmpeg.FFmpeg,
		}),
		Reporter: reporters,
		Metrics:  m,
	})

	e := rest.NewRouter(rest.RouterConfig{
		Controller: rest.NewRecordingController(service, records),
		Events:     hub,
		Metrics:    m.Handler(),
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("listening | port: %s", cfg.Port)
		serverErr <- e.Start(":" + cfg.Port)
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result error
	if err := e.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	pipeline.Wait()
	if webhook != nil {
		webhook.Wait()
	}
	return result
}
