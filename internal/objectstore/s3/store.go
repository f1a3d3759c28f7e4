// Package s3 implements objectstore.Store on S3-compatible storage with the
// AWS SDK v2.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/tierstore/internal/objectstore"
)

// Config configures an S3 store.
type Config struct {
	Bucket string

	// Region defaults to us-east-1 when empty.
	Region string

	// Endpoint overrides the AWS endpoint, e.g. "http://localhost:9000" for MinIO.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle selects http://endpoint/bucket/key addressing.
	UsePathStyle bool
}

type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) api {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Store implements objectstore.Store.
type Store struct {
	client api
	bucket string
	closed bool
	mu     sync.RWMutex
}

// New creates a new S3 store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.DisableLogOutputChecksumValidationSkipped = true
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Store{
		client: newS3ClientFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("s3: %w", objectstore.ErrClosed)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, key string, src string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return &objectstore.ObjectError{Op: "Upload", Key: key, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return &objectstore.ObjectError{Op: "Upload", Key: key, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return wrapError("Upload", key, err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, key string, dst string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapError("Download", key, err)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return &objectstore.ObjectError{Op: "Download", Key: key, Err: err}
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return &objectstore.ObjectError{Op: "Download", Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		return &objectstore.ObjectError{Op: "Download", Key: key, Err: err}
	}
	return nil
}

// BatchDelete issues one DeleteObjects call in quiet mode: the response only
// lists failures, everything else was deleted. NoSuchKey counts as deleted.
func (s *Store) BatchDelete(ctx context.Context, keys []string) (objectstore.DeleteResult, error) {
	if err := objectstore.CheckBatch(keys); err != nil {
		return objectstore.DeleteResult{}, err
	}
	if err := s.checkClosed(); err != nil {
		return objectstore.DeleteResult{}, err
	}
	res := objectstore.DeleteResult{Failed: make(map[string]string)}
	if len(keys) == 0 {
		return res, nil
	}

	ids := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return objectstore.DeleteResult{}, wrapError("BatchDelete", fmt.Sprintf("%d keys", len(keys)), err)
	}

	for _, e := range out.Errors {
		k := aws.ToString(e.Key)
		if aws.ToString(e.Code) == "NoSuchKey" {
			continue
		}
		res.Failed[k] = fmt.Sprintf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
	}
	for _, k := range keys {
		if _, failed := res.Failed[k]; !failed {
			res.Deleted = append(res.Deleted, k)
		}
	}
	return res, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
		case http.StatusForbidden:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
		}
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrBucketNotFound}
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}

	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

var _ objectstore.Store = (*Store)(nil)
