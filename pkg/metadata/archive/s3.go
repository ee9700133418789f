// Package archive keeps off-site copies of adopted images in S3 or an
// S3-compatible service.
//
// Every image adopted by the primary is uploaded under
// <prefix>fsimage_<txid>, where txid is zero-padded to 19 digits so that
// lexical and numeric order agree. Only the most recent Retain copies are
// kept.
package archive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/dittonn/internal/logger"
	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

const keyBase = "fsimage_"

// Metrics observes archive traffic. A nil Metrics disables collection.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
}

// Config holds configuration for the S3 archiver.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all image keys (e.g., "cluster-1/").
	// Should end with "/" if non-empty.
	KeyPrefix string

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the SDK's default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// Retain is the number of archived images to keep. Zero keeps all.
	Retain int

	Metrics Metrics
}

// Entry describes one archived image.
type Entry struct {
	TxID         uint64    `json:"txid"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Archiver uploads images to S3. It implements namenode.Archiver.
type Archiver struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	retain    int
	metrics   Metrics

	closed bool
	mu     sync.RWMutex
}

// New creates an archiver with an existing client.
func New(client *s3.Client, config Config) *Archiver {
	return &Archiver{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: config.KeyPrefix,
		retain:    config.Retain,
		metrics:   config.Metrics,
	}
}

// NewFromConfig creates an archiver by creating an S3 client from config.
func NewFromConfig(ctx context.Context, config Config) (*Archiver, error) {
	if config.Bucket == "" {
		return nil, merrs.NewInvalidArgumentError("", "archive requires bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), config), nil
}

// Key returns the object key of the image covering txid.
func (a *Archiver) Key(txid uint64) string {
	return a.keyPrefix + ImageName(txid)
}

// ImageName returns the base name of an archived image.
func ImageName(txid uint64) string {
	return fmt.Sprintf("%s%019d", keyBase, txid)
}

// ParseImageName extracts the txid from a base name produced by ImageName.
func ParseImageName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, keyBase) {
		return 0, false
	}
	txid, err := strconv.ParseUint(strings.TrimPrefix(name, keyBase), 10, 64)
	if err != nil {
		return 0, false
	}
	return txid, true
}

func (a *Archiver) checkOpen() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return merrs.NewClosedError("archive")
	}
	return nil
}

func (a *Archiver) observe(op string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.ObserveOperation(op, time.Since(start), err)
	}
}

// ArchiveImage uploads size bytes from r as the image covering txid, then
// prunes copies beyond the retention count. Pruning failures are logged.
func (a *Archiver) ArchiveImage(ctx context.Context, txid uint64, r io.Reader, size int64) (err error) {
	if err := a.checkOpen(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { a.observe("PutObject", start, err) }()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.Key(txid)),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordBytes("upload", size)
	}

	if a.retain > 0 {
		if removed, perr := a.Prune(ctx, a.retain); perr != nil {
			logger.WarnCtx(ctx, "Archive prune failed", logger.KeyBucket, a.bucket, logger.KeyError, perr)
		} else if removed > 0 {
			logger.DebugCtx(ctx, "Archive pruned", "removed", removed, "retain", a.retain)
		}
	}
	return nil
}

// List returns the archived images, oldest first.
func (a *Archiver) List(ctx context.Context) (entries []Entry, err error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { a.observe("ListObjectsV2", start, err) }()

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.keyPrefix + keyBase),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			txid, ok := ParseImageName(strings.TrimPrefix(key, a.keyPrefix))
			if !ok {
				continue
			}
			entries = append(entries, Entry{
				TxID:         txid,
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].TxID < entries[j].TxID })
	return entries, nil
}

// Fetch opens the archived image covering txid. The caller must close the
// returned reader.
func (a *Archiver) Fetch(ctx context.Context, txid uint64) (rc io.ReadCloser, size int64, err error) {
	if err := a.checkOpen(); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	defer func() { a.observe("GetObject", start, err) }()

	key := a.Key(txid)
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, 0, merrs.NewNotFoundError(key, "archived image")
		}
		return nil, 0, fmt.Errorf("s3 get object: %w", err)
	}

	size = aws.ToInt64(resp.ContentLength)
	if a.metrics != nil {
		a.metrics.RecordBytes("download", size)
	}
	return resp.Body, size, nil
}

// Prune deletes all but the newest keep images and returns how many were
// deleted.
func (a *Archiver) Prune(ctx context.Context, keep int) (int, error) {
	entries, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 || len(entries) <= keep {
		return 0, nil
	}

	stale := entries[:len(entries)-keep]
	objects := make([]types.ObjectIdentifier, len(stale))
	for i, e := range stale {
		objects[i] = types.ObjectIdentifier{Key: aws.String(e.Key)}
	}

	start := time.Now()
	// Batch delete (up to 1000 per call)
	for i := 0; i < len(objects); i += 1000 {
		end := min(i+1000, len(objects))
		_, err = a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: objects[i:end]},
		})
		if err != nil {
			a.observe("DeleteObjects", start, err)
			return i, fmt.Errorf("s3 delete objects: %w", err)
		}
	}
	a.observe("DeleteObjects", start, nil)
	return len(objects), nil
}

// HealthCheck verifies the bucket is accessible.
func (a *Archiver) HealthCheck(ctx context.Context) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// Close marks the archiver as closed.
func (a *Archiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}
