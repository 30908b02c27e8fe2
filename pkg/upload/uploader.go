package upload

import (
	"context"
	"io"
	"os"

	"github.com/labstack/gommon/log"
)

type Uploader interface {
	// Upload stores body under key and returns where it ended up.
	Upload(ctx context.Context, key string, body io.Reader) (string, error)
	Directory() string
}

// File uploads the file at path. The local copy is left for the caller.
func File(ctx context.Context, u Uploader, path string, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	location, err := u.Upload(ctx, key, f)
	f.Close()
	if err != nil {
		return "", err
	}
	log.Debugf("uploaded file | file: %s, location: %s", path, location)
	return location, nil
}
