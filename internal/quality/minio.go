package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JonMunkholm/ecompipe/internal/config"
)

const putTimeout = 15 * time.Second

// objectPutter is the subset of *minio.Client used by MinIOSink.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOSink writes reports to an S3-compatible bucket:
//
//	quality/<run_id>/<entity>.json
//	runs/<run_id>.json
type MinIOSink struct {
	client objectPutter
	bucket string
}

// NewMinIOClient builds a client for the configured endpoint.
func NewMinIOClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("object store endpoint must not include scheme: %q", cfg.Endpoint)
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// NewMinIOSink connects to the object store and creates the bucket if needed.
func NewMinIOSink(ctx context.Context, cfg config.ObjectStoreConfig) (*MinIOSink, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &MinIOSink{client: client, bucket: cfg.Bucket}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// PutReports uploads one object per entity.
func (s *MinIOSink) PutReports(ctx context.Context, runID string, reports []*Report) error {
	var errs []error
	for _, r := range reports {
		key := fmt.Sprintf("quality/%s/%s.json", runID, r.Entity)
		if err := s.put(ctx, key, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PutRun uploads the run summary.
func (s *MinIOSink) PutRun(ctx context.Context, runID string, summary any) error {
	return s.put(ctx, "runs/"+runID+".json", summary)
}

func (s *MinIOSink) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	putCtx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()

	_, err = s.client.PutObject(
		putCtx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}
