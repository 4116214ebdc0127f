// Package archive uploads closed capture files to S3-compatible object storage.
package archive

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/config"
	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/logfile"
)

const defaultRegion = "us-east-1"

// Archiver uploads log files to one bucket.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger zerolog.Logger

	wg sync.WaitGroup
}

// New returns an Archiver for cfg, or nil when archiving is disabled.
func New(cfg config.ArchiveConfig, logger zerolog.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, errors.NewInvalidRequest("archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg := aws.Config{Region: region}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""))
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With().Str("component", "archive").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return errors.NewInternal(fmt.Errorf("create bucket %s: %w", a.bucket, err))
	}
	a.logger.Info().Msg("created bucket")
	return nil
}

// KeyFor returns the object key for a log file:
// <prefix>/<exchange>/<yyyy>/<mm>/<dd>/<base name>.
func KeyFor(prefix, filePath string) (string, error) {
	base := filepath.Base(filePath)
	n, ok := logfile.ParseFileName(base)
	if !ok {
		return "", errors.NewInvalidRequest("not a log file: " + base)
	}
	return path.Join(prefix, n.Prefix, n.OpenedAt.UTC().Format("2006/01/02"), base), nil
}

// Upload stores the file at filePath and returns its key.
func (a *Archiver) Upload(ctx context.Context, filePath string) (string, error) {
	key, err := KeyFor(a.prefix, filePath)
	if err != nil {
		return "", err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("open %s: %v", filePath, err))
	}
	defer f.Close()

	contentType := "application/x-ndjson"
	if strings.HasSuffix(filePath, logfile.GzipExtension) {
		contentType = "application/gzip"
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("put %s: %w", key, err))
	}
	return key, nil
}

// Object is a stored log file.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// List returns the archived objects whose key starts with the configured
// prefix joined with sub.
func (a *Archiver) List(ctx context.Context, sub string) ([]Object, error) {
	p := path.Join(a.prefix, sub)
	if p != "" && p != "." {
		p += "/"
	} else {
		p = ""
	}
	var out []Object
	pager := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(p),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("list %s: %w", p, err))
		}
		for _, obj := range page.Contents {
			out = append(out, Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

// Hook returns a close hook that uploads each file in the background.
// Failures are logged; the local file is kept either way. A nil Archiver
// returns a nil hook.
func (a *Archiver) Hook(ctx context.Context) func(path string) {
	if a == nil {
		return nil
	}
	return func(filePath string) {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			key, err := a.Upload(ctx, filePath)
			if err != nil {
				a.logger.Error().Err(err).Str("path", filePath).Msg("upload failed")
				return
			}
			a.logger.Info().Str("path", filePath).Str("key", key).Msg("uploaded")
		}()
	}
}

// Wait blocks until every upload started by Hook has finished.
func (a *Archiver) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
