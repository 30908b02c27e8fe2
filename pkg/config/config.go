package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "recorder.toml"

type Config struct {
	Port     string `toml:"port"`
	LogLevel string `toml:"log_level"`

	LiveKit    LiveKitConfig    `toml:"livekit"`
	Storage    StorageConfig    `toml:"storage"`
	FFmpeg     FFmpegConfig     `toml:"ffmpeg"`
	Video      VideoConfig      `toml:"video"`
	Audio      AudioConfig      `toml:"audio"`
	Webhooks   []string         `toml:"webhooks"`
	S3         S3Config         `toml:"s3"`
	Mongo      MongoConfig      `toml:"mongo"`
	Transcribe TranscribeConfig `toml:"transcribe"`
}

type LiveKitConfig struct {
	URL       string `toml:"url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

type StorageConfig struct {
	RecordingsDir string `toml:"recordings_dir"`
	TempDir       string `toml:"temp_dir"`
}

type FFmpegConfig struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

type VideoConfig struct {
	Width       int     `toml:"width"`
	Height      int     `toml:"height"`
	DefaultFPS  float64 `toml:"default_fps"`
	RateSamples int     `toml:"rate_samples"`
}

type AudioConfig struct {
	SampleRate int `toml:"sample_rate"`
	Channels   int `toml:"channels"`
}

type S3Config struct {
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Directory string `toml:"directory"`
}

type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type TranscribeConfig struct {
	URL         string `toml:"url"`
	NumSpeakers int    `toml:"num_speakers"`
}

func Default() *Config {
	return &Config{
		Port:     "8000",
		LogLevel: "error",
		Storage: StorageConfig{
			RecordingsDir: "recordings",
			TempDir:       "temps",
		},
		FFmpeg: FFmpegConfig{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Video: VideoConfig{
			Width:       1920,
			Height:      1080,
			DefaultFPS:  24,
			RateSamples: 30,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   2,
		},
		Mongo: MongoConfig{
			Database: "meetings",
		},
		Transcribe: TranscribeConfig{
			NumSpeakers: 3,
		},
	}
}

// Load layers defaults, the TOML file at path (or DefaultFile when path is
// empty and the file exists), a .env file and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	if file != "" {
		if _, err := toml.DecodeFile(file, cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasLiveKitCredentials reports whether rooms can be joined at all.
func (c *Config) HasLiveKitCredentials() bool {
	return c.LiveKit.URL != "" && c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Port, "APP_PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LiveKit.URL, "LIVEKIT_URL")
	setString(&cfg.LiveKit.APIKey, "LIVEKIT_API_KEY")
	setString(&cfg.LiveKit.APISecret, "LIVEKIT_API_SECRET")
	setString(&cfg.Storage.RecordingsDir, "RECORDINGS_DIR")
	setString(&cfg.Storage.TempDir, "TEMP_DIR")
	setString(&cfg.FFmpeg.FFmpeg, "FFMPEG_PATH")
	setString(&cfg.FFmpeg.FFprobe, "FFPROBE_PATH")
	setString(&cfg.S3.Region, "S3_REGION")
	setString(&cfg.S3.Bucket, "S3_BUCKET")
	setString(&cfg.S3.Directory, "S3_DIRECTORY")
	setString(&cfg.Mongo.URI, "MONGO_URI")
	setString(&cfg.Mongo.Database, "MONGO_DATABASE")
	setString(&cfg.Transcribe.URL, "TRANSCRIBE_URL")

	if v := os.Getenv("WEBHOOK_URLS"); v != "" {
		cfg.Webhooks = splitList(v)
	}

	var errs []error
	errs = append(errs,
		setInt(&cfg.Video.Width, "VIDEO_WIDTH"),
		setInt(&cfg.Video.Height, "VIDEO_HEIGHT"),
		setFloat(&cfg.Video.DefaultFPS, "VIDEO_DEFAULT_FPS"),
		setInt(&cfg.Video.RateSamples, "VIDEO_RATE_SAMPLES"),
		setInt(&cfg.Audio.SampleRate, "AUDIO_SAMPLE_RATE"),
		setInt(&cfg.Audio.Channels, "AUDIO_CHANNELS"),
		setInt(&cfg.Transcribe.NumSpeakers, "TRANSCRIBE_NUM_SPEAKERS"),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
