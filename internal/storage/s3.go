package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dubline/internal/config"
	"dubline/internal/logging"
	"dubline/internal/services"
)

const uriScheme = "s3://"

// ErrDisabled is returned when a remote reference is used without storage configured.
var ErrDisabled = errors.New("object storage is not configured")

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store fetches inputs from and publishes outputs to one bucket.
type Store struct {
	api    API
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds a Store from configuration. It returns nil without error when
// storage is disabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	sc := cfg.Storage
	if !sc.Enabled {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(sc.Region)}
	if sc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "load storage config", "", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = sc.UsePathStyle
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
	})
	return NewWithAPI(client, sc.Bucket, sc.Prefix, logger), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, bucket, prefix string, logger *slog.Logger) *Store {
	return &Store{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.NewComponentLogger(logger, "storage"),
	}
}

// IsRemote reports whether ref names an object rather than a local file.
func IsRemote(ref string) bool {
	return strings.HasPrefix(strings.TrimSpace(ref), uriScheme)
}

// ParseURI splits s3://bucket/key.
func ParseURI(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), uriScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an s3 uri", services.ErrValidation, ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q must name a bucket and an object", services.ErrValidation, ref)
	}
	return bucket, key, nil
}

// Fetch downloads ref into destDir and returns the local path.
func (s *Store) Fetch(ctx context.Context, ref, destDir string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrDisabled, ref)
	}
	bucket, key, err := ParseURI(ref)
	if err != nil {
		return "", err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", services.Wrap(services.ErrCollaborator, "", "fetch input", ref, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrResource, "", "create input dir", destDir, err)
	}
	dest := filepath.Join(destDir, path.Base(key))
	tmp, err := os.CreateTemp(destDir, ".fetch-*")
	if err != nil {
		return "", services.Wrap(services.ErrResource, "", "create temp file", destDir, err)
	}
	written, copyErr := io.Copy(tmp, out.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return "", services.Wrap(services.ErrResource, "", "write input", dest, errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", services.Wrap(services.ErrResource, "", "store input", dest, err)
	}
	s.logger.Info("remote input fetched",
		logging.String("uri", ref),
		logging.String("path", dest),
		logging.Int64("bytes", written),
		logging.String(logging.FieldEventType, "input_fetched"),
	)
	return dest, nil
}

// Publish uploads localPath under <prefix>/<jobID>/ and returns its s3 uri.
func (s *Store) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	if s == nil {
		return "", ErrDisabled
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrResource, "", "open output", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", services.Wrap(services.ErrResource, "", "stat output", localPath, err)
	}

	key := path.Join(s.prefix, jobID, filepath.Base(localPath))
	if _, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	}); err != nil {
		return "", services.Wrap(services.ErrCollaborator, "", "publish output", key, err)
	}
	uri := uriScheme + s.bucket + "/" + key
	s.logger.Info("output published",
		logging.String(logging.FieldJobID, jobID),
		logging.String("uri", uri),
		logging.Int64("bytes", info.Size()),
		logging.String(logging.FieldEventType, "output_published"),
	)
	return uri, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
