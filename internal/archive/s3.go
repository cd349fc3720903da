// Package archive uploads end-of-run artifacts to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/trace"
)

// Uploader is the subset of manager.Uploader the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes run artifacts to keys like:
//
//	<prefix>/snapshots/YYYY/MM/DD/<runID>-<step>.json
//	<prefix>/traces/YYYY/MM/DD/<runID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader Uploader
	now      func() time.Time
}

// NewS3Archiver loads AWS configuration from the environment (AWS_REGION,
// AWS_PROFILE, static keys) and builds a multipart uploader.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithUploader(bucket, prefix, manager.NewUploader(s3.NewFromConfig(cfg))), nil
}

// NewWithUploader builds an archiver on an existing uploader.
func NewWithUploader(bucket, prefix string, u Uploader) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: u, now: time.Now}
}

// ArchiveSnapshot uploads snap and returns its object key.
func (a *S3Archiver) ArchiveSnapshot(ctx context.Context, runID string, snap cluster.Snapshot) (string, error) {
	data, err := cluster.EncodeSnapshot(snap, "json")
	if err != nil {
		return "", err
	}
	key := a.key("snapshots", fmt.Sprintf("%s-%d.json", runID, snap.Steps))
	return key, a.put(ctx, key, data)
}

// ArchiveTraceSummary uploads a trace summary and returns its object key.
func (a *S3Archiver) ArchiveTraceSummary(ctx context.Context, runID string, summary *trace.TraceSummary) (string, error) {
	if summary == nil {
		return "", fmt.Errorf("nil trace summary")
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode trace summary: %w", err)
	}
	key := a.key("traces", runID+".json")
	return key, a.put(ctx, key, data)
}

func (a *S3Archiver) key(kind, name string) string {
	year, month, day := a.now().UTC().Date()
	return path.Join(a.prefix, kind,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		name,
	)
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s failed: %w", key, err)
	}
	logrus.Infof("archived s3://%s/%s (%d bytes)", a.bucket, key, len(data))
	return nil
}
