// Package s3 implements storage.Storage on Amazon S3 and S3-compatible
// services.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/storage"
)

// maxDeleteBatch is the S3 limit for keys per DeleteObjects call.
const maxDeleteBatch = 1000

func init() {
	storage.RegisterFactory(storage.ProviderS3, func(cfg storage.Config, log *logger.Logger) (storage.Storage, error) {
		return NewStorage(context.Background(), cfg, log)
	})
}

// Storage implements storage.Storage using Amazon S3 (or S3-compatible services).
type Storage struct {
	client *awss3.Client
	bucket string
	prefix string
	log    *logger.Logger
}

// NewStorage creates a new S3 storage client from the given config.
func NewStorage(ctx context.Context, cfg storage.Config, log *logger.Logger) (*Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return newWithClient(awss3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix, log), nil
}

func newWithClient(client *awss3.Client, bucket, prefix string, log *logger.Logger) *Storage {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Storage{client: client, bucket: bucket, prefix: prefix, log: log.WithComponent("storage.s3")}
}

func (s *Storage) key(path string) string {
	return s.prefix + strings.TrimPrefix(path, "/")
}

// Upload writes data from reader to S3.
func (s *Storage) Upload(ctx context.Context, path string, reader io.Reader) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("storage: s3 upload: %w", err)
	}
	return nil
}

// Download returns a reader for the S3 object at the given path.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("storage: s3 download: %w", err)
	}
	return out.Body, nil
}

// Delete removes an S3 object. Returns nil if the object does not exist.
func (s *Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return fmt.Errorf("storage: s3 delete: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under prefix using batched DeleteObjects calls.
func (s *Storage) DeletePrefix(ctx context.Context, prefix string) error {
	files, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(files); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(files))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, f := range files[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(s.key(f.Path))})
		}
		out, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("storage: s3 delete prefix: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("storage: s3 delete prefix: %d object(s) failed, first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	s.log.Debug("deleted prefix", map[string]interface{}{"prefix": prefix, "objects": len(files)})
	return nil
}

// Exists checks whether an S3 object exists.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("storage: s3 head: %w", err)
	}
	return true, nil
}

// List returns metadata for all objects whose key starts with prefix.
// Returned paths are relative to the configured key prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}

	var files []storage.FileInfo
	paginator := awss3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: s3 list: %w", err)
		}
		for _, obj := range out.Contents {
			fi := storage.FileInfo{
				Path: strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				fi.LastModified = *obj.LastModified
			}
			files = append(files, fi)
		}
	}
	return files, nil
}

// compile-time checks
var (
	_ storage.Storage       = (*Storage)(nil)
	_ storage.PrefixDeleter = (*Storage)(nil)
)
