package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-playground/errors/v5"
	"github.com/jonboulle/clockwork"

	"github.com/shopflow/etl/config"
	"github.com/shopflow/etl/internal/retry"
	"github.com/shopflow/etl/logger"
)

// ObjectStore is what the uploader needs from S3.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader archives raw extract CSVs into an object bucket under
// date-partitioned keys, so the lake keeps the exact input of every run.
type Uploader struct {
	store  ObjectStore
	bucket string
	clock  clockwork.Clock
}

// NewUploader builds an S3-backed uploader. A non-empty endpoint switches
// to path-style addressing for MinIO compatible stores.
func NewUploader(ctx context.Context, cfg config.BlobConfig, clock clockwork.Clock) (*Uploader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Uploader{
		store:  s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		clock:  clock,
	}, nil
}

func NewUploaderWithStore(store ObjectStore, bucket string, clock clockwork.Clock) *Uploader {
	return &Uploader{store: store, bucket: bucket, clock: clock}
}

// ObjectKey partitions by upload date and entity, and versions the file
// stem with a UTC timestamp so re-uploads never clobber an archive.
func ObjectKey(entity, fileName string, now time.Time) string {
	now = now.UTC()
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	return fmt.Sprintf("raw/year=%04d/month=%02d/day=%02d/%s/%s_%s.csv",
		now.Year(), int(now.Month()), now.Day(), entity, stem, now.Format("20060102T150405Z"))
}

// Upload sends one local CSV to the bucket, retrying transient failures
// with exponential backoff. It returns the object key written.
func (u *Uploader) Upload(ctx context.Context, entity, path string) (string, error) {
	key := ObjectKey(entity, path, u.clock.Now())

	retryConfig := retry.OnTransientConfig[string](4, func(err error) bool { return err != nil })
	key, err := retryConfig.Do(func() (string, error) {
		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrap(err, "open "+path)
		}
		defer f.Close()

		_, err = u.store.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String("text/csv"),
		})
		if err != nil {
			return "", errors.Wrap(err, "put object "+key)
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}

	logger.Info("raw file archived", "bucket", u.bucket, "key", key)
	return key, nil
}

// UploadDir uploads every CSV in dir, deriving the entity from the file
// stem. Returns the keys written in directory order.
func (u *Uploader) UploadDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read data directory")
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		entity := strings.TrimSuffix(entry.Name(), ".csv")
		key, err := u.Upload(ctx, entity, filepath.Join(dir, entry.Name()))
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}
