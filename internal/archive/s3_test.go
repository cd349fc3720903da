package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/trace"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &manager.UploadOutput{Key: in.Key}, nil
}

func fixedArchiver(u Uploader) *S3Archiver {
	a := NewWithUploader("bucket", "sims", u)
	a.now = func() time.Time { return time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiveSnapshot_KeyAndBody(t *testing.T) {
	// GIVEN a snapshot of a short sandbox run
	cfg := cluster.DefaultConfig(cluster.ModeSandbox)
	cfg.Topology = cluster.StarterTopology()
	s, err := cluster.NewSimulator(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Run(2, 0.5))
	snap := s.Snapshot()

	up := &fakeUploader{}
	a := fixedArchiver(up)

	// WHEN it is archived
	key, err := a.ArchiveSnapshot(context.Background(), "run-1", snap)

	// THEN it lands under a dated key, encrypted, and decodes back
	require.NoError(t, err)
	assert.Equal(t, "sims/snapshots/2026/03/07/run-1-4.json", key)
	require.Len(t, up.inputs, 1)
	in := up.inputs[0]
	assert.Equal(t, "bucket", aws.ToString(in.Bucket))
	assert.Equal(t, key, aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, s3types.ServerSideEncryptionAes256, in.ServerSideEncryption)

	got, err := cluster.DecodeSnapshot(up.bodies[0], "json")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestArchiveTraceSummary(t *testing.T) {
	up := &fakeUploader{}
	a := fixedArchiver(up)

	key, err := a.ArchiveTraceSummary(context.Background(), "run-1", &trace.TraceSummary{})
	require.NoError(t, err)
	assert.Equal(t, "sims/traces/2026/03/07/run-1.json", key)

	_, err = a.ArchiveTraceSummary(context.Background(), "run-1", nil)
	assert.Error(t, err)
}

func TestArchive_UploadError(t *testing.T) {
	a := fixedArchiver(&fakeUploader{err: errors.New("denied")})
	_, err := a.ArchiveTraceSummary(context.Background(), "r", &trace.TraceSummary{})
	assert.ErrorContains(t, err, "denied")
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), "", "x")
	assert.ErrorContains(t, err, "bucket required")
}
