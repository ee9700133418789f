//go:build integration

package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// newLocalstackClient starts a Localstack container, or connects to
// LOCALSTACK_ENDPOINT when set, and returns a client with a fresh bucket.
func newLocalstackClient(t *testing.T) (*s3.Client, string) {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "localstack/localstack:3.0",
				ExposedPorts: []string{"4566/tcp"},
				Env: map[string]string{
					"SERVICES":              "s3",
					"DEFAULT_REGION":        "us-east-1",
					"EAGER_SERVICE_LOADING": "1",
				},
				WaitingFor: wait.ForAll(
					wait.ForListeningPort("4566/tcp"),
					wait.ForHTTP("/_localstack/health").
						WithPort("4566/tcp").
						WithStartupTimeout(60*time.Second),
				),
			},
			Started: true,
		})
		require.NoError(t, err, "failed to start localstack container")
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "4566")
		require.NoError(t, err)
		endpoint = fmt.Sprintf("http://%s:%s", host, port.Port())
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucket := fmt.Sprintf("dittonn-archive-%d", time.Now().UnixNano())
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)
	return client, bucket
}

func TestArchiverIntegration(t *testing.T) {
	client, bucket := newLocalstackClient(t)
	ctx := context.Background()

	a := New(client, Config{Bucket: bucket, KeyPrefix: "test/", Retain: 2})
	require.NoError(t, a.HealthCheck(ctx))

	images := map[uint64][]byte{
		3:  []byte("image three"),
		7:  []byte("image seven"),
		12: []byte("image twelve"),
	}
	for _, txid := range []uint64{3, 7, 12} {
		data := images[txid]
		require.NoError(t, a.ArchiveImage(ctx, txid, bytes.NewReader(data), int64(len(data))))
	}

	entries, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(7), entries[0].TxID)
	assert.Equal(t, uint64(12), entries[1].TxID)
	assert.Equal(t, int64(len(images[12])), entries[1].Size)

	rc, size, err := a.Fetch(ctx, 12)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(got)), size)
	assert.Equal(t, images[12], got)

	_, _, err = a.Fetch(ctx, 3)
	assert.True(t, merrs.IsNotFoundError(err))
}
