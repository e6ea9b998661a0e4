//go:build integration

package s3

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/dittoshuffle/pkg/store"
)

// localstackEndpoint starts Localstack, or reuses LOCALSTACK_ENDPOINT when set.
func localstackEndpoint(t *testing.T) string {
	t.Helper()
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()
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
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func newIntegrationStore(t *testing.T, mpType MultipartType) *Store {
	t.Helper()
	ctx := context.Background()
	bucket := fmt.Sprintf("shuffle-%d", time.Now().UnixNano())

	s, err := NewFromConfig(ctx, Config{
		Bucket:          bucket,
		Region:          "us-east-1",
		Endpoint:        localstackEndpoint(t),
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		KeyPrefix:       "it/",
		MultipartSize:   minPartSize,
		MultipartType:   mpType,
	})
	require.NoError(t, err)

	_, err = s.client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)
	require.NoError(t, s.HealthCheck(ctx))
	return s
}

func TestIntegrationPutGet(t *testing.T) {
	s := newIntegrationStore(t, MultipartDisk)
	ctx := context.Background()

	require.NoError(t, s.PutObject(ctx, "app/1/2/0/shuffle_1_2_0.data", strings.NewReader("0123456789"), 10))

	rc, err := s.GetObject(ctx, "app/1/2/0/shuffle_1_2_0.data", &store.Range{Offset: 2, Length: 3})
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "234", string(b))

	info, err := s.StatObject(ctx, "app/1/2/0/shuffle_1_2_0.data")
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)

	_, err = s.StatObject(ctx, "app/missing")
	assert.ErrorIs(t, err, store.ErrObjectNotFound)

	keys, err := s.ListByPrefix(ctx, "app/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"app/1/2/0/shuffle_1_2_0.data"}, keys)

	require.NoError(t, s.DeleteByPrefix(ctx, "app/"))
	keys, err = s.ListByPrefix(ctx, "app/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIntegrationMultipart(t *testing.T) {
	for _, mp := range []MultipartType{MultipartDisk, MultipartArray} {
		t.Run(string(mp), func(t *testing.T) {
			s := newIntegrationStore(t, mp)
			ctx := context.Background()

			data := make([]byte, 2*minPartSize+123)
			_, err := rand.Read(data)
			require.NoError(t, err)

			require.NoError(t, s.PutObject(ctx, "big", bytes.NewReader(data), int64(len(data))))

			rc, err := s.GetObject(ctx, "big", nil)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, data, got)
		})
	}
}
