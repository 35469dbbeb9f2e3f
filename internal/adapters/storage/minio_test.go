package storage_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/storage"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPrescriptionStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	client, err := storage.NewMinioClient(&config.MinioConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "prescriptions",
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewPrescriptionStore(ctx, client, "prescriptions", logger)
	require.NoError(t, err)

	// a second store on an existing bucket is fine
	_, err = storage.NewPrescriptionStore(ctx, client, "prescriptions", logger)
	require.NoError(t, err)

	image := []byte("\x89PNG\r\n\x1a\nfake-image")
	require.NoError(t, store.Put(ctx, "user-1/rx.png", bytes.NewReader(image), int64(len(image)), "image/png"))

	link, err := store.PresignedURL(ctx, "user-1/rx.png", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, link, "X-Amz-Signature")

	resp, err := http.Get(link) //nolint:noctx // test against local container
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, image, got)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}
