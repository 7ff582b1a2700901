package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/keepalive/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns its native
// protocol address. It skips the test when Docker is unavailable.
func setupClickHouseContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	container, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	ctx := context.Background()
	addr := setupClickHouseContainer(ctx, t)

	sink, err := New(addr, "sweep_history", Options{})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	at := time.Now().UTC()
	events := []history.Event{
		{Type: history.EventResource, OccurredAt: at, SweepID: "ch-1", ResourceID: "alpha", Outcome: history.OutcomeKept, State: "Available"},
		{Type: history.EventResource, OccurredAt: at, SweepID: "ch-1", ResourceID: "beta", Outcome: history.OutcomeFailed, Error: "touch failed"},
		{Type: history.EventSweep, OccurredAt: at, SweepID: "ch-1", Outcome: history.SweepCompleted, Kept: 1, Failed: 1, Total: 2},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	n, err := sink.Count(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestClickHouseSink_CancelledContext(t *testing.T) {
	ctx := context.Background()
	addr := setupClickHouseContainer(ctx, t)

	sink, err := New(addr, "sweep_history_cancel", Options{})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = sink.Send(cancelled, history.Event{Type: history.EventSweep, SweepID: "x", OccurredAt: time.Now()})
	assert.Error(t, err)
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	_, err := New("127.0.0.1:9000", "bad;table", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid clickhouse table name")
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New("127.0.0.1:1", "sweep_history", Options{})
	require.Error(t, err)
}
