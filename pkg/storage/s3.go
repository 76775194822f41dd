package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/victorescoto/fiap-ml-finance/pkg/retry"
)

// S3Config selects a bucket. Credentials always come from the default AWS chain.
type S3Config struct {
	Bucket   string
	Region   string
	Prefix   string // optional key prefix inside the bucket
	Endpoint string // optional, for S3 compatible stores
	Retry    retry.Policy
}

// S3Store is an ObjectStore backed by one S3 bucket.
type S3Store struct {
	client *s3.Client
	cfg    S3Config
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: empty bucket")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, cfg: cfg}, nil
}

func (s *S3Store) key(k string) string {
	if s.cfg.Prefix == "" {
		return k
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + strings.TrimPrefix(k, "/")
}

func (s *S3Store) unkey(k string) string {
	if s.cfg.Prefix == "" {
		return k
	}
	return strings.TrimPrefix(k, strings.TrimSuffix(s.cfg.Prefix, "/")+"/")
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	return retry.Do(ctx, s.cfg.Retry, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.key(key)),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("storage: put %s: %w", s.URI(key), err)
		}
		return nil
	})
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.key(key)),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			var nf *types.NotFound
			if errors.As(err, &nsk) || errors.As(err, &nf) {
				return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, s.URI(key)))
			}
			return fmt.Errorf("storage: get %s: %w", s.URI(key), err)
		}
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("storage: read %s: %w", s.URI(key), err)
		}
		out = b
		return nil
	})
	return out, err
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for p.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := retry.Do(ctx, s.cfg.Retry, func() error {
			var err error
			page, err = p.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("storage: list %s: %w", s.URI(prefix), err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: s.unkey(aws.ToString(obj.Key)), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = obj.LastModified.UTC()
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.cfg.Retry, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.key(key)),
		})
		if err != nil {
			return fmt.Errorf("storage: delete %s: %w", s.URI(key), err)
		}
		return nil
	})
}

func (s *S3Store) URI(key string) string {
	return "s3://" + s.cfg.Bucket + "/" + s.key(key)
}
