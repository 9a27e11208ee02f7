// Package s3 stores virtual directories as JSON objects in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/store"
)

const keyPrefix = "virtual-directories/"

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Store keeps one object per user. Saves are conditional on the ETag seen by
// the version check, so concurrent writers get store.ErrVersionConflict.
type Store struct {
	client *s3.Client
	bucket string
}

type object struct {
	Version int64           `json:"version"`
	Root    json.RawMessage `json:"root"`
}

// New creates an S3 store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	s := &Store{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", logging.Err(err))
	}
	return s, nil
}

// normalizeEndpoint adds a scheme to bare host:port endpoints.
func normalizeEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", nil
	}
	u, err := url.Parse(endpoint)
	if err == nil && u.Scheme != "" && u.Host != "" {
		return endpoint, nil
	}
	scheme := "http://"
	if useSSL {
		scheme = "https://"
	}
	if _, err := url.Parse(scheme + endpoint); err != nil {
		return "", fmt.Errorf("s3 endpoint %q: %w", endpoint, err)
	}
	return scheme + endpoint, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	metrics.RecordStoreOperation(s.Type(), "create_bucket", time.Since(start), createErr == nil)
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	logging.Info("created S3 bucket", logging.String("bucket", s.bucket))
	return nil
}

func objectKey(user string) string {
	return keyPrefix + url.PathEscape(user) + ".json"
}

// get returns the stored object and its ETag, or nil when absent.
func (s *Store) get(ctx context.Context, user string) (*object, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(user)),
	})
	if isCode(err, "NoSuchKey", "NotFound") {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", objectKey(user), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", objectKey(user), err)
	}
	var obj object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", objectKey(user), err)
	}
	return &obj, aws.ToString(out.ETag), nil
}

// Load implements store.DirectoryStore.
func (s *Store) Load(ctx context.Context, user string) (*store.Document, error) {
	start := time.Now()
	obj, _, err := s.get(ctx, user)
	metrics.RecordStoreOperation(s.Type(), "load", time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return store.NewDocument(), nil
	}

	root, err := store.Decode(obj.Root)
	if err != nil {
		return nil, err
	}
	return &store.Document{Root: root, Version: obj.Version}, nil
}

// Save implements store.DirectoryStore.
func (s *Store) Save(ctx context.Context, user string, doc *store.Document) error {
	start := time.Now()
	err := s.save(ctx, user, doc)
	metrics.RecordStoreOperation(s.Type(), "save", time.Since(start), err == nil)
	return err
}

func (s *Store) save(ctx context.Context, user string, doc *store.Document) error {
	current, etag, err := s.get(ctx, user)
	if err != nil {
		return err
	}
	var currentVersion int64
	if current != nil {
		currentVersion = current.Version
	}
	if currentVersion != doc.Version {
		return store.ErrVersionConflict
	}

	root, err := store.Encode(doc.Root)
	if err != nil {
		return err
	}
	data, err := json.Marshal(object{Version: doc.Version + 1, Root: root})
	if err != nil {
		return fmt.Errorf("encode %s: %w", user, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey(user)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	}
	if etag != "" {
		input.IfMatch = aws.String(etag)
	} else {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isCode(err, "PreconditionFailed", "ConditionalRequestConflict") {
			return store.ErrVersionConflict
		}
		return fmt.Errorf("put %s: %w", objectKey(user), err)
	}

	doc.Version++
	logging.Debug("S3 put virtual directory",
		logging.String("key", objectKey(user)),
		logging.Int64("version", doc.Version))
	return nil
}

func isCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}

// Type returns "s3".
func (s *Store) Type() string { return "s3" }

// Close is a no-op; the S3 client holds no long-lived resources.
func (s *Store) Close() error { return nil }
