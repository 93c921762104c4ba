// Package s3store keeps assets in an S3 bucket ("object-store-a").
//
// S3 has been strongly consistent for reads after writes since December 2020. S3-compatible
// servers reached through a custom endpoint may not be, in which case a Get right after a Put
// can miss the object.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/bulk"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

const (
	BackendName = "object-store-a"

	delimiter = "/"
)

// Client is the subset of *s3.Client the backend uses.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures a client built by NewClient. Empty keys fall back to the default AWS
// credential chain.
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UsePathStyle    bool
}

func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("can't load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

type s3Storage struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	log      log.Logger
}

func NewStorage(client Client, bucket string, logger log.Logger) interfaces.StorageBackend {
	return &s3Storage{
		client: client,
		// a failed multipart upload is aborted, so no parts or partial object remain
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.LeavePartsOnError = false
		}),
		bucket: bucket,
		log:    logger,
	}
}

func (s *s3Storage) Name() string {
	return BackendName
}

func (s *s3Storage) Put(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	counter := &countingReader{r: body}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        counter,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return 0, storageError("put", key, err)
	}

	level.Debug(s.log).Log("msg", "object uploaded",
		"key", key,
		"bucket", s.bucket,
		"size", humanize.Bytes(uint64(counter.n)),
	)

	return counter.n, nil
}

func (s *s3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageError("get", key, err)
	}

	return out.Body, nil
}

func (s *s3Storage) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.keys(ctx, prefix, aws.String(delimiter))
}

func (s *s3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if err = storageError("delete", key, err); errors.Is(err, domain.ErrAssetNotFound) {
			return nil
		}
		return err
	}

	return nil
}

func (s *s3Storage) DeleteByPrefix(ctx context.Context, prefix string) error {
	return bulk.DeleteAll(ctx, s.keys(ctx, prefix, nil), s.Delete, 0, s.log)
}

// keys pages through the bucket. With a delimiter, keys nested below prefix are folded into
// common prefixes by S3 and not yielded.
func (s *s3Storage) keys(ctx context.Context, prefix string, delim *string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: delim,
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", storageError("list", prefix, err))
				return
			}

			for _, obj := range page.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}
		}
	}
}

func storageError(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return domain.NewStorageError(op, key, domain.ErrAssetNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return domain.NewStorageError(op, key, domain.ErrAssetNotFound, err)
		case "QuotaExceeded", "ServiceQuotaExceededException", "EntityTooLarge":
			return domain.NewStorageError(op, key, domain.ErrStorageQuotaExceeded, err)
		}
	}

	return domain.NewStorageError(op, key, domain.KindOf(err), err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
