package audit_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/audit"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestCallbackLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	callbacks, err := audit.Connect(ctx, &config.MongoConfig{URI: endpoint, Database: "pharmacy_test"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = callbacks.Close(context.Background()) })

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, result := range []string{"applied", "duplicate"} {
		require.NoError(t, callbacks.Record(ctx, ports.CallbackRecord{
			Method:            domain.MethodMpesa,
			ExternalReference: "ws_CO_1",
			EventType:         "stkCallback:0",
			RemoteAddr:        "196.201.214.200",
			Headers:           map[string]string{"Content-Type": "application/json"},
			Body:              `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`,
			Result:            result,
			ReceivedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, callbacks.Record(ctx, ports.CallbackRecord{
		Method:            domain.MethodMpesa,
		ExternalReference: "ws_CO_2",
		Result:            "applied",
	}))

	records, err := callbacks.Find(ctx, domain.MethodMpesa, "ws_CO_1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "duplicate", records[0].Result)
	assert.Equal(t, "applied", records[1].Result)
	assert.Equal(t, "application/json", records[0].Headers["Content-Type"])
	assert.True(t, records[1].ReceivedAt.Equal(base))

	records, err = callbacks.Find(ctx, domain.MethodPayPal, "ws_CO_1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
