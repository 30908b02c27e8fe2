package upload

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Region    string
	Bucket    string
	Directory string
}

var ErrEmptyS3BucketName = errors.New("empty S3 bucket name")

// putter is the part of manager.Uploader we call.
type putter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3Uploader struct {
	bucket    string
	directory string
	service   putter
}

func NewS3Uploader(ctx context.Context, config S3Config) (Uploader, error) {
	if config.Bucket == "" {
		return nil, ErrEmptyS3BucketName
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, err
	}

	service := s3.NewFromConfig(cfg)
	return &s3Uploader{
		bucket:    config.Bucket,
		directory: config.Directory,
		service:   manager.NewUploader(service),
	}, nil
}

func (s *s3Uploader) key(key string) string {
	if s.directory == "" {
		return key
	}
	return path.Join(s.directory, key)
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body io.Reader) (string, error) {
	uploadKey := s.key(key)
	_, err := s.service.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uploadKey),
		Body:   body,
	})
	if err != nil {
		return "", err
	}
	return uploadKey, nil
}

func (s *s3Uploader) Directory() string {
	return s.directory
}
