// Package s3 provides a Store backed by Amazon S3 or an S3-compatible
// service (MinIO, Localstack, Ceph RGW).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/store"
)

// MultipartType selects how parts of a multipart upload are staged.
type MultipartType string

const (
	// MultipartDisk streams each part straight from the source file through
	// a section reader. Requires an io.ReaderAt source; others fall back to
	// MultipartArray.
	MultipartDisk MultipartType = "disk"

	// MultipartArray copies each part into a pooled in-memory buffer.
	MultipartArray MultipartType = "array"
)

const (
	minPartSize     = 5 * 1024 * 1024
	maxParts        = 10000
	defaultPartSize = 64 * 1024 * 1024
)

// Config holds configuration for the S3 store.
type Config struct {
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL for S3-compatible services.
	Endpoint string

	// KeyPrefix is prepended to all object keys. Should end with "/" if
	// non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// Static credentials. When AccessKeyID is empty the SDK default
	// credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// MaxRetries bounds the SDK's own retries of throttled requests.
	// Zero keeps the SDK default.
	MaxRetries int

	// MultipartSize is both the threshold above which uploads use the
	// multipart API and the size of each part. Minimum 5MiB.
	MultipartSize int64

	MultipartType MultipartType
}

// Store is an S3-backed store.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
	partType  MultipartType
	parts     sync.Pool

	mu     sync.RWMutex
	closed bool
}

// New creates a store with an existing client.
func New(client *s3.Client, cfg Config) *Store {
	partSize := cfg.MultipartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		partSize = minPartSize
	}
	partType := cfg.MultipartType
	if partType == "" {
		partType = MultipartDisk
	}

	s := &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		partType:  partType,
	}
	s.parts.New = func() any {
		b := make([]byte, partSize)
		return &b
	}
	return s
}

// NewFromConfig builds an S3 client from cfg and wraps it in a Store.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxRetries))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	logger.Debug("S3 store configured",
		logger.KeyBucket, cfg.Bucket,
		logger.KeyRegion, cfg.Region,
		logger.KeyEndpoint, cfg.Endpoint,
		logger.KeyPartSize, cfg.MultipartSize)

	return New(client, cfg), nil
}

func (s *Store) Type() string { return "s3" }

func (s *Store) fullKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// PutObject uploads r. Objects larger than the multipart size go through the
// multipart API; smaller ones are sent in one request.
func (s *Store) PutObject(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if size < 0 || size > s.partSize {
		return s.putMultipart(ctx, key, r, size)
	}

	// The SDK needs a seekable body to sign and retry the request.
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("s3 put %s: read source: %w", key, err)
		}
		body = bytes.NewReader(data)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return wrapErr("put", key, err)
	}
	return nil
}

func (s *Store) putMultipart(ctx context.Context, key string, r io.Reader, size int64) error {
	partSize := s.partSize
	if size > 0 && size/partSize >= maxParts {
		partSize = size/maxParts + 1
	}

	full := s.fullKey(key)
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		return wrapErr("create multipart", key, err)
	}
	uploadID := created.UploadId

	parts, err := s.uploadParts(ctx, key, uploadID, r, size, partSize)
	if err != nil {
		// Abort even when ctx is done so the parts are not billed forever.
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, aerr := s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(full),
			UploadId: uploadID,
		}); aerr != nil {
			logger.Warn("S3 abort multipart failed", logger.Key(key), logger.Err(aerr))
		}
		return err
	}

	sort.Slice(parts, func(i, j int) bool {
		return *parts[i].PartNumber < *parts[j].PartNumber
	})
	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(full),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return wrapErr("complete multipart", key, err)
	}

	logger.Debug("S3 multipart upload completed", logger.Key(key), logger.KeyParts, len(parts))
	return nil
}

func (s *Store) uploadParts(ctx context.Context, key string, uploadID *string, r io.Reader, size, partSize int64) ([]types.CompletedPart, error) {
	ra, seekable := r.(io.ReaderAt)
	useDisk := s.partType == MultipartDisk && seekable && size >= 0

	var parts []types.CompletedPart
	var offset int64
	for num := int32(1); ; num++ {
		if size >= 0 && offset >= size {
			break
		}

		var body io.ReadSeeker
		var n int64
		var release func()

		if useDisk {
			n = min(partSize, size-offset)
			body = io.NewSectionReader(ra, offset, n)
			release = func() {}
		} else {
			bufp := s.parts.Get().(*[]byte)
			buf := *bufp
			if int64(len(buf)) < partSize {
				buf = make([]byte, partSize)
			}
			read, err := io.ReadFull(r, buf[:partSize])
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
				s.parts.Put(bufp)
				return nil, fmt.Errorf("s3 put %s: read part %d: %w", key, num, err)
			}
			if read == 0 && num > 1 {
				s.parts.Put(bufp)
				break
			}
			n = int64(read)
			body = bytes.NewReader(buf[:read])
			release = func() { s.parts.Put(bufp) }
		}

		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.fullKey(key)),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(num),
			Body:          body,
			ContentLength: aws.Int64(n),
		})
		release()
		if err != nil {
			return nil, wrapErr(fmt.Sprintf("upload part %d", num), key, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
		offset += n

		if size < 0 && n < partSize {
			break
		}
	}
	return parts, nil
}

func (s *Store) GetObject(ctx context.Context, key string, rng *store.Range) (io.ReadCloser, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if rng != nil && (rng.Offset < 0 || rng.Length < 0) {
		return nil, fmt.Errorf("%w: %+v", store.ErrInvalidRange, *rng)
	}
	if rng != nil && rng.Length == 0 {
		return store.EmptyReader(), nil
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	}
	if rng != nil {
		in.Range = aws.String(rng.String())
	}
	resp, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, wrapErr("get", key, err)
	}
	return resp.Body, nil
}

func (s *Store) StatObject(ctx context.Context, key string) (store.ObjectInfo, error) {
	if err := store.ValidateKey(key); err != nil {
		return store.ObjectInfo{}, err
	}
	if err := s.checkOpen(); err != nil {
		return store.ObjectInfo{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return store.ObjectInfo{}, wrapErr("head", key, err)
	}
	info := store.ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength)}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return wrapErr("delete", key, err)
	}
	return nil
}

// DeleteByPrefix removes all objects under prefix in batches of up to 1000.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return wrapErr("list", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		}); err != nil {
			return wrapErr("delete objects", prefix, err)
		}
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
		}
	}
	return keys, nil
}

// HealthCheck performs a HeadBucket call to check connectivity and permissions.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return wrapErr("head bucket", s.bucket, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ store.Store = (*Store)(nil)
